package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatsim/internal/bus"
	"chatsim/internal/client"
	"chatsim/internal/config"
	"chatsim/internal/logging"
	"chatsim/internal/status"
	"chatsim/internal/store"
	"chatsim/internal/wire"
	"go.uber.org/zap"
)

func main() {
	dataFlag := flag.String("data", "", "data directory (default $CHATSIM_DATA or ~/.chatsim)")
	addrFlag := flag.String("addr", "", "hub websocket URL (default ws://<config listen>/ws)")
	clientsFlag := flag.Int("clients", 1, "number of simulated clients")
	nameFlag := flag.String("name", "sim", "client name reported to the hub")
	selectFlag := flag.String("select", "", "chat id to select at startup, or 'auto' for the most active")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *clientsFlag < 1 {
		fmt.Fprintln(os.Stderr, "error: --clients must be at least 1")
		os.Exit(1)
	}

	dataDir := *dataFlag
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	if err := config.EnsureDataDir(dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(config.ConfigPath(dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(config.ClientLogPath(dataDir), "chatsim", *debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.Open(config.ResolveDBPath(cfg, dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	db.Caps = store.Caps{MaxPage: cfg.Page.MaxLimit, SearchLimit: cfg.Page.SearchLimit}

	addr := *addrFlag
	if addr == "" {
		addr = "ws://" + cfg.Server.Listen + "/ws"
	}

	ctx := context.Background()
	sims := make([]*simClient, 0, *clientsFlag)
	for i := 0; i < *clientsFlag; i++ {
		name := *nameFlag
		if *clientsFlag > 1 {
			name = fmt.Sprintf("%s-%d", *nameFlag, i+1)
		}
		sims = append(sims, newSimClient(name, addr, cfg, db, logger))
	}
	for _, s := range sims {
		if err := s.start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error: %s: %v\n", s.name, err)
			os.Exit(1)
		}
	}
	logger.Info("simulator started",
		zap.String("hub", addr),
		zap.Int("clients", len(sims)))

	if *selectFlag != "" {
		for _, s := range sims {
			s.selectChat(ctx, *selectFlag)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down")
	for _, s := range sims {
		s.stop()
		chats := s.consumer.Chats()
		unread := 0
		for _, c := range chats {
			unread += c.UnreadCount
		}
		fmt.Printf("%s: final view %d chats, %d unread\n", s.name, len(chats), unread)
	}
	logger.Info("simulator stopped")
}

// simClient bundles one manager/consumer pair with its private bus. Clients
// share the store file but nothing else, like separate processes would.
type simClient struct {
	name     string
	bus      *bus.Bus
	manager  *client.Manager
	consumer *client.Consumer
	unsubs   []func()
}

func newSimClient(name, addr string, cfg *config.Config, db *store.DB, logger *zap.Logger) *simClient {
	b := bus.New()
	log := logger.With(zap.String("client", name))
	machine := status.NewMachine(status.Policy{
		Base:        cfg.Backoff.Base(),
		Max:         cfg.Backoff.Max(),
		MaxAttempts: cfg.Backoff.MaxAttempts,
	}, b)
	dialer := &client.WebsocketDialer{URL: addr, Client: name}
	return &simClient{
		name:    name,
		bus:     b,
		manager: client.NewManager(dialer, machine, b, log, cfg.Heartbeat.PingInterval(), cfg.Heartbeat.IdleTimeout()),
		consumer: client.NewConsumer(db, b, log,
			cfg.Page.ChatLimit, cfg.Page.MessageLimit),
	}
}

func (s *simClient) start(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return err
	}

	changes, unsubChanges := s.bus.Subscribe(bus.KindConnState, 64)
	go func() {
		for evt := range changes {
			if ch, ok := evt.Payload.(status.Change); ok {
				fmt.Printf("%s state: %s -> %s (attempt %d)\n", s.name, ch.From, ch.To, ch.Attempt)
			}
		}
	}()

	messages, unsubMessages := s.bus.Subscribe("sync.", 128)
	go func() {
		for evt := range messages {
			we, ok := evt.Payload.(wire.Event)
			if !ok || we.Message == nil {
				continue
			}
			marker := "+"
			if we.Message.ChatID == s.consumer.Selected() {
				marker = "*"
			}
			fmt.Printf("%s %s [%s] %s: %s\n", marker, s.name, we.Message.ChatID, we.Message.Sender, we.Message.Body)
		}
	}()
	s.unsubs = []func(){unsubChanges, unsubMessages}

	return s.manager.Connect(ctx)
}

// selectChat focuses one chat; "auto" picks the most recently active one.
func (s *simClient) selectChat(ctx context.Context, chatID string) {
	if chatID == "auto" {
		chats := s.consumer.Chats()
		if len(chats) == 0 {
			fmt.Fprintf(os.Stderr, "%s: no chats to select\n", s.name)
			return
		}
		chatID = chats[0].ID
	}
	if err := s.consumer.Select(ctx, chatID); err != nil {
		fmt.Fprintf(os.Stderr, "%s: select %s: %v\n", s.name, chatID, err)
		return
	}
	msgs, hasMore := s.consumer.Messages()
	fmt.Printf("%s selected %s: %d messages (more: %v)\n", s.name, chatID, len(msgs), hasMore)
}

func (s *simClient) stop() {
	s.manager.Disconnect()
	s.consumer.Stop()
	for _, u := range s.unsubs {
		u()
	}
}
