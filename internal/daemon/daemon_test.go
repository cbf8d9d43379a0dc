package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatsim/internal/api"
	"chatsim/internal/broker"
	"chatsim/internal/bus"
	"chatsim/internal/store"
	"chatsim/internal/wire"
	"chatsim/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// hubFixture is a fully wired hub on an httptest listener: real store, real
// registry, manual broker ticks for determinism.
type hubFixture struct {
	db     *store.DB
	bus    *bus.Bus
	reg    *ws.Registry
	broker *broker.Broker
	srv    *httptest.Server
}

func newHub(t *testing.T) *hubFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)

	logger := zap.NewNop()
	b := bus.New()
	reg := ws.NewRegistry(b, logger, 100*time.Millisecond, 5*time.Second)
	reg.Start(context.Background())
	t.Cleanup(reg.Stop)

	// loop not started: every emission in the test is an explicit Tick
	br := broker.New(db, b, logger, time.Hour, 0)

	router := NewRouter(logger, reg,
		api.NewChatHandler(db, 50, 50),
		api.NewSessionHandler(reg),
		api.NewBrokerHandler(br),
		api.NewStatusHandler(db, reg, br),
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &hubFixture{db: db, bus: b, reg: reg, broker: br, srv: srv}
}

func (h *hubFixture) wsURL(client string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?client=" + client
}

func (h *hubFixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (h *hubFixture) post(t *testing.T, path string) int {
	t.Helper()
	resp, err := http.Post(h.srv.URL+path, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	evt, err := wire.Decode(data)
	require.NoError(t, err)
	return evt
}

func TestHubEndToEnd(t *testing.T) {
	hub := newHub(t)

	require.Equal(t, http.StatusOK, hub.get(t, "/healthz", nil))

	require.NoError(t, hub.db.InsertChat(context.Background(), &store.Chat{ID: "c1", Title: "standup"}))

	conn, resp, err := websocket.DefaultDialer.Dial(hub.wsURL("itest"), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	ack := readFrame(t, conn)
	require.Equal(t, wire.KindConnected, ack.Kind)
	require.True(t, strings.HasPrefix(ack.SessionID, "itest-"), "session id %q", ack.SessionID)

	// a forced tick reaches the attached session as a newMessage frame
	require.Equal(t, http.StatusAccepted, hub.post(t, "/api/broker/tick"))
	evt := readFrame(t, conn)
	require.Equal(t, wire.KindNewMessage, evt.Kind)
	require.NotNil(t, evt.Message)
	assert.Equal(t, "c1", evt.Message.ChatID)

	// ...and is visible through the read API, unread included
	var chats store.ChatPage
	require.Equal(t, http.StatusOK, hub.get(t, "/api/chats", &chats))
	require.Len(t, chats.Items, 1)
	assert.Equal(t, "c1", chats.Items[0].ID)
	assert.Equal(t, 1, chats.Items[0].UnreadCount)
	assert.False(t, chats.HasMore)

	var msgs store.MessagePage
	require.Equal(t, http.StatusOK, hub.get(t, "/api/chats/c1/messages", &msgs))
	require.Len(t, msgs.Items, 1)
	assert.Equal(t, evt.Message.ID, msgs.Items[0].ID)

	// session listing shows the attached client
	var sessions struct {
		Sessions []ws.SessionInfo `json:"sessions"`
		Count    int              `json:"count"`
	}
	require.Equal(t, http.StatusOK, hub.get(t, "/api/sessions", &sessions))
	require.Equal(t, 1, sessions.Count)
	assert.Equal(t, ack.SessionID, sessions.Sessions[0].ID)

	// a paused broker accepts ticks but emits nothing
	require.Equal(t, http.StatusOK, hub.post(t, "/api/broker/pause"))
	require.Equal(t, http.StatusAccepted, hub.post(t, "/api/broker/tick"))
	total, err := hub.db.TotalMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Equal(t, http.StatusOK, hub.post(t, "/api/broker/resume"))

	var hubStatus map[string]any
	require.Equal(t, http.StatusOK, hub.get(t, "/api/status", &hubStatus))
	assert.Equal(t, float64(1), hubStatus["sessions"])
	assert.Equal(t, float64(1), hubStatus["chats"])
	assert.Equal(t, false, hubStatus["paused"])

	// dropping the session kills the socket on the client side
	require.Equal(t, http.StatusNoContent, hub.post(t, "/api/sessions/"+ack.SessionID+"/drop"))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	require.Equal(t, http.StatusOK, hub.get(t, "/api/status", &hubStatus))
	assert.Equal(t, float64(0), hubStatus["sessions"])
}

func TestSearchEndpoint(t *testing.T) {
	hub := newHub(t)
	ctx := context.Background()

	require.NoError(t, hub.db.InsertChat(ctx, &store.Chat{ID: "c1", Title: "ops"}))
	require.NoError(t, hub.db.InsertMessage(ctx, &store.Message{
		ID: "m1", ChatID: "c1", Sender: "Ana", Body: "deploy window tonight", Timestamp: 100,
	}))
	require.NoError(t, hub.db.InsertMessage(ctx, &store.Message{
		ID: "m2", ChatID: "c1", Sender: "Bruno", Body: "lunch?", Timestamp: 200,
	}))

	var results struct {
		Items []store.Message `json:"items"`
	}
	code := hub.get(t, "/api/chats/c1/search?q=DEPLOY", &results)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, results.Items, 1)
	assert.Equal(t, "m1", results.Items[0].ID)

	// blank query matches nothing
	code = hub.get(t, "/api/chats/c1/search?q=", &results)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, results.Items)

	code = hub.get(t, "/api/chats/ghost/search?q=deploy", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouterErrorCases(t *testing.T) {
	hub := newHub(t)

	assert.Equal(t, http.StatusBadRequest, hub.get(t, "/api/chats?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, hub.get(t, "/api/chats?offset=x", nil))
	assert.Equal(t, http.StatusNotFound, hub.get(t, "/api/chats/ghost/messages", nil))
	assert.Equal(t, http.StatusNotFound, hub.post(t, "/api/sessions/nope/drop"))
}

func TestPaginationOverHTTP(t *testing.T) {
	hub := newHub(t)
	ctx := context.Background()

	require.NoError(t, hub.db.InsertChat(ctx, &store.Chat{ID: "c1", Title: "history"}))
	for i := 0; i < 60; i++ {
		require.NoError(t, hub.db.InsertMessage(ctx, &store.Message{
			ID: fmt.Sprintf("m%03d", i), ChatID: "c1", Sender: "Ana",
			Body: "msg", Timestamp: int64(1000 + i),
		}))
	}

	var page store.MessagePage
	require.Equal(t, http.StatusOK, hub.get(t, "/api/chats/c1/messages", &page))
	assert.Len(t, page.Items, 50)
	assert.True(t, page.HasMore)
	assert.Equal(t, "m059", page.Items[0].ID)

	require.Equal(t, http.StatusOK, hub.get(t, "/api/chats/c1/messages?offset=50", &page))
	assert.Len(t, page.Items, 10)
	assert.False(t, page.HasMore)

	// limits above the cap are clamped, not rejected
	require.Equal(t, http.StatusOK, hub.get(t, "/api/chats/c1/messages?limit=10000", &page))
	assert.Len(t, page.Items, 60)
}

func TestMetricsEndpointExposed(t *testing.T) {
	hub := newHub(t)
	resp, err := http.Get(hub.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// Regression guard for the dependency graph: every provider's inputs must
// resolve, including the Params supply.
func TestFxGraphResolves(t *testing.T) {
	err := fx.ValidateApp(Module(Params{DataDir: t.TempDir()}))
	require.NoError(t, err)
}
