package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"chatsim/internal/store"
	"chatsim/internal/ws"
)

func main() {
	addrFlag := flag.String("addr", "http://127.0.0.1:8480", "hub base URL")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	limitFlag := flag.Int("limit", 0, "page size for list commands (0 = server default)")
	offsetFlag := flag.Int("offset", 0, "page offset for list commands")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &ctl{
		base:    *addrFlag,
		client:  &http.Client{Timeout: 10 * time.Second},
		jsonOut: *jsonFlag,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c)
	case "sessions":
		cmdSessions(ctx, c)
	case "drop":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatsimctl drop <session-id>")
			os.Exit(1)
		}
		cmdDrop(ctx, c, args[1])
	case "pause":
		cmdBroker(ctx, c, "pause")
	case "resume":
		cmdBroker(ctx, c, "resume")
	case "tick":
		cmdBroker(ctx, c, "tick")
	case "chats":
		cmdChats(ctx, c, *limitFlag, *offsetFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatsimctl messages <chat-id>")
			os.Exit(1)
		}
		cmdMessages(ctx, c, args[1], *limitFlag, *offsetFlag)
	case "search":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: chatsimctl search <chat-id> <query>")
			os.Exit(1)
		}
		cmdSearch(ctx, c, args[1], args[2], *limitFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsimctl [--addr <url>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                    Show hub status")
	fmt.Fprintln(os.Stderr, "  sessions                  List attached sessions")
	fmt.Fprintln(os.Stderr, "  drop <session-id>         Force-close one session")
	fmt.Fprintln(os.Stderr, "  pause                     Pause the message broker")
	fmt.Fprintln(os.Stderr, "  resume                    Resume the message broker")
	fmt.Fprintln(os.Stderr, "  tick                      Force one message emission")
	fmt.Fprintln(os.Stderr, "  chats                     List chats by recent activity")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>        Show newest messages in a chat")
	fmt.Fprintln(os.Stderr, "  search <chat-id> <query>  Search a chat's messages")
}

// ctl is a thin client over the hub's control API.
type ctl struct {
	base    string
	client  *http.Client
	jsonOut bool
}

func (c *ctl) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *ctl) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *ctl) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach hub at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func pageQuery(limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func fmtTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func cmdStatus(ctx context.Context, c *ctl) {
	var resp struct {
		Sessions int   `json:"sessions"`
		Chats    int   `json:"chats"`
		Messages int   `json:"messages"`
		Paused   bool  `json:"paused"`
		UptimeMs int64 `json:"uptimeMs"`
	}
	if err := c.get(ctx, "/api/status", &resp); err != nil {
		fail(err)
	}
	if c.jsonOut {
		outputJSON(resp)
		return
	}
	broker := "running"
	if resp.Paused {
		broker = "paused"
	}
	fmt.Printf("Sessions: %d\n", resp.Sessions)
	fmt.Printf("Chats:    %d\n", resp.Chats)
	fmt.Printf("Messages: %d\n", resp.Messages)
	fmt.Printf("Broker:   %s\n", broker)
	fmt.Printf("Uptime:   %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
}

func cmdSessions(ctx context.Context, c *ctl) {
	var resp struct {
		Sessions []ws.SessionInfo `json:"sessions"`
		Count    int              `json:"count"`
	}
	if err := c.get(ctx, "/api/sessions", &resp); err != nil {
		fail(err)
	}
	if c.jsonOut {
		outputJSON(resp)
		return
	}
	if resp.Count == 0 {
		fmt.Println("No sessions attached.")
		return
	}
	for _, s := range resp.Sessions {
		fmt.Printf("%-24s %-12s joined %s\n", s.ID, s.Client, s.JoinedAt.Format(time.RFC3339))
	}
}

func cmdDrop(ctx context.Context, c *ctl, sessionID string) {
	if err := c.post(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/drop", nil); err != nil {
		fail(err)
	}
	fmt.Printf("Dropped session %s\n", sessionID)
}

func cmdBroker(ctx context.Context, c *ctl, verb string) {
	var resp map[string]any
	if err := c.post(ctx, "/api/broker/"+verb, &resp); err != nil {
		fail(err)
	}
	if c.jsonOut {
		outputJSON(resp)
		return
	}
	switch verb {
	case "pause":
		fmt.Println("Broker paused.")
	case "resume":
		fmt.Println("Broker resumed.")
	case "tick":
		fmt.Println("Tick forced.")
	}
}

func cmdChats(ctx context.Context, c *ctl, limit, offset int) {
	var page store.ChatPage
	if err := c.get(ctx, "/api/chats"+pageQuery(limit, offset), &page); err != nil {
		fail(err)
	}
	if c.jsonOut {
		outputJSON(page)
		return
	}
	if len(page.Items) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, chat := range page.Items {
		unread := ""
		if chat.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", chat.UnreadCount)
		}
		fmt.Printf("%-38s %-24s %s%s\n", chat.ID, chat.Title, fmtTime(chat.LastMessageAt), unread)
	}
	if page.HasMore {
		fmt.Println("... more chats, use --offset")
	}
}

func cmdMessages(ctx context.Context, c *ctl, chatID string, limit, offset int) {
	var page store.MessagePage
	path := "/api/chats/" + url.PathEscape(chatID) + "/messages" + pageQuery(limit, offset)
	if err := c.get(ctx, path, &page); err != nil {
		fail(err)
	}
	if c.jsonOut {
		outputJSON(page)
		return
	}
	for _, m := range page.Items {
		fmt.Printf("%s  %-12s %s\n", fmtTime(m.Timestamp), m.Sender, m.Body)
	}
	if page.HasMore {
		fmt.Println("... older messages, use --offset")
	}
}

func cmdSearch(ctx context.Context, c *ctl, chatID, query string, limit int) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp struct {
		Items []store.Message `json:"items"`
	}
	path := "/api/chats/" + url.PathEscape(chatID) + "/search?" + q.Encode()
	if err := c.get(ctx, path, &resp); err != nil {
		fail(err)
	}
	if c.jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Items) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, m := range resp.Items {
		fmt.Printf("%s  %-12s %s\n", fmtTime(m.Timestamp), m.Sender, m.Body)
	}
}
