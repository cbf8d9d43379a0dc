// Package client implements the simulator side of a session: the reconnect
// loop that keeps a socket to the hub alive, and the consumer that folds
// incoming messages into a chat view.
package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// Conn is one live connection to the hub.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens connections. The manager redials through the same Dialer
// after every drop.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials the hub's websocket endpoint. Client, when set, is
// passed along so the hub can label the session.
type WebsocketDialer struct {
	URL    string
	Client string
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	target := d.URL
	if d.Client != "" {
		target += "?client=" + url.QueryEscape(d.Client)
	}
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}
