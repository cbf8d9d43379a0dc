package daemon

import (
	"context"
	"errors"
	"os"

	"chatsim/internal/api"
	"chatsim/internal/broker"
	"chatsim/internal/bus"
	"chatsim/internal/config"
	"chatsim/internal/lock"
	"chatsim/internal/logging"
	"chatsim/internal/store"
	"chatsim/internal/ws"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the CLI-level settings passed into the fx module.
type Params struct {
	DataDir    string
	ConfigFile string // optional path to a config file outside the data dir
	Listen     string // optional override of server.listen from the config file
	Debug      bool
}

// Module returns the fx module for the hub daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRegistry,
			provideBroker,
			provideChatHandler,
			provideSessionHandler,
			provideBrokerHandler,
			provideStatusHandler,
			NewRouter,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := config.EnsureDataDir(p.DataDir); err != nil {
		return nil, err
	}
	path := p.ConfigFile
	if path == "" {
		path = config.ConfigPath(p.DataDir)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	// First run: persist the defaults so operators have a file to edit.
	if _, serr := os.Stat(path); errors.Is(serr, os.ErrNotExist) {
		if err := config.Save(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(config.DaemonLogPath(p.DataDir), "chatsimd", p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring daemon lock", zap.String("dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := config.ResolveDBPath(cfg, p.DataDir)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}

	db.Caps = store.Caps{MaxPage: cfg.Page.MaxLimit, SearchLimit: cfg.Page.SearchLimit}

	seeded, err := db.Seed(context.Background(), store.SeedOpts{
		Chats:       cfg.Seed.Chats,
		MinMessages: cfg.Seed.MinMessages,
		MaxMessages: cfg.Seed.MaxMessages,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if seeded.Skipped {
		logger.Info("store already populated", zap.Int("chats", seeded.Chats))
	} else {
		logger.Info("store seeded",
			zap.Int("chats", seeded.Chats),
			zap.Int("messages", seeded.Messages))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *ws.Registry {
	return ws.NewRegistry(b, logger, cfg.Heartbeat.PingInterval(), cfg.Heartbeat.IdleTimeout())
}

func provideBroker(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *broker.Broker {
	return broker.New(db, b, logger, cfg.Broker.Interval(), cfg.Broker.Jitter())
}

func provideChatHandler(cfg *config.Config, db *store.DB) *api.ChatHandler {
	return api.NewChatHandler(db, cfg.Page.ChatLimit, cfg.Page.MessageLimit)
}

func provideSessionHandler(registry *ws.Registry) *api.SessionHandler {
	return api.NewSessionHandler(registry)
}

func provideBrokerHandler(b *broker.Broker) *api.BrokerHandler {
	return api.NewBrokerHandler(b)
}

func provideStatusHandler(db *store.DB, registry *ws.Registry, b *broker.Broker) *api.StatusHandler {
	return api.NewStatusHandler(db, registry, b)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, registry *ws.Registry, b *broker.Broker, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Fan-out must be live before the broker emits.
			registry.Start(context.Background())
			b.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			b.Stop()
			registry.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
