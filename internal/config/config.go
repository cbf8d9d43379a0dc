package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the config.toml inside the data directory. All durations
// are stored as integer milliseconds so the file stays unit-explicit.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Broker    BrokerConfig    `toml:"broker"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Backoff   BackoffConfig   `toml:"backoff"`
	Page      PageConfig      `toml:"page"`
	Seed      SeedConfig      `toml:"seed"`
}

// ServerConfig controls the daemon's HTTP/WebSocket listener.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// StoreConfig controls the SQLite database location. An empty Path means
// "chatsim.db inside the data directory".
type StoreConfig struct {
	Path string `toml:"path"`
}

// BrokerConfig controls the synthetic message generator cadence.
type BrokerConfig struct {
	IntervalMS int64 `toml:"interval_ms"`
	JitterMS   int64 `toml:"jitter_ms"`
}

func (c BrokerConfig) Interval() time.Duration { return time.Duration(c.IntervalMS) * time.Millisecond }
func (c BrokerConfig) Jitter() time.Duration   { return time.Duration(c.JitterMS) * time.Millisecond }

// HeartbeatConfig controls liveness probing on both ends of a session.
type HeartbeatConfig struct {
	PingIntervalMS int64 `toml:"ping_interval_ms"`
	IdleTimeoutMS  int64 `toml:"idle_timeout_ms"`
}

func (c HeartbeatConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMS) * time.Millisecond
}

func (c HeartbeatConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

// BackoffConfig controls the client reconnect schedule.
type BackoffConfig struct {
	BaseMS      int64 `toml:"base_ms"`
	MaxMS       int64 `toml:"max_ms"`
	MaxAttempts int   `toml:"max_attempts"`
}

func (c BackoffConfig) Base() time.Duration { return time.Duration(c.BaseMS) * time.Millisecond }
func (c BackoffConfig) Max() time.Duration  { return time.Duration(c.MaxMS) * time.Millisecond }

// PageConfig controls pagination defaults and caps.
type PageConfig struct {
	ChatLimit    int `toml:"chat_limit"`
	MessageLimit int `toml:"message_limit"`
	MaxLimit     int `toml:"max_limit"`
	SearchLimit  int `toml:"search_limit"`
}

// SeedConfig controls the one-time database seeding.
type SeedConfig struct {
	Chats       int `toml:"chats"`
	MinMessages int `toml:"min_messages"`
	MaxMessages int `toml:"max_messages"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Listen: "127.0.0.1:8480"},
		Store:     StoreConfig{},
		Broker:    BrokerConfig{IntervalMS: 2000, JitterMS: 1000},
		Heartbeat: HeartbeatConfig{PingIntervalMS: 10000, IdleTimeoutMS: 30000},
		Backoff:   BackoffConfig{BaseMS: 1000, MaxMS: 30000, MaxAttempts: 10},
		Page:      PageConfig{ChatLimit: 50, MessageLimit: 50, MaxLimit: 100, SearchLimit: 50},
		Seed:      SeedConfig{Chats: 12, MinMessages: 15, MaxMessages: 60},
	}
}

// Load reads config from the given path. A missing file yields the defaults;
// a present but invalid file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return errors.New("config: server.listen must not be empty")
	}
	if c.Broker.IntervalMS <= 0 {
		return errors.New("config: broker.interval_ms must be positive")
	}
	if c.Broker.JitterMS < 0 {
		return errors.New("config: broker.jitter_ms must not be negative")
	}
	if c.Heartbeat.PingIntervalMS <= 0 {
		return errors.New("config: heartbeat.ping_interval_ms must be positive")
	}
	if c.Heartbeat.IdleTimeoutMS <= c.Heartbeat.PingIntervalMS {
		return errors.New("config: heartbeat.idle_timeout_ms must exceed ping_interval_ms")
	}
	if c.Backoff.BaseMS <= 0 {
		return errors.New("config: backoff.base_ms must be positive")
	}
	if c.Backoff.MaxMS < c.Backoff.BaseMS {
		return errors.New("config: backoff.max_ms must be >= base_ms")
	}
	if c.Backoff.MaxAttempts <= 0 {
		return errors.New("config: backoff.max_attempts must be positive")
	}
	if c.Page.ChatLimit <= 0 || c.Page.MessageLimit <= 0 || c.Page.SearchLimit <= 0 {
		return errors.New("config: page limits must be positive")
	}
	if c.Page.MaxLimit < c.Page.ChatLimit || c.Page.MaxLimit < c.Page.MessageLimit {
		return errors.New("config: page.max_limit must cover the default limits")
	}
	if c.Seed.Chats < 0 {
		return errors.New("config: seed.chats must not be negative")
	}
	if c.Seed.MinMessages < 0 || c.Seed.MaxMessages < c.Seed.MinMessages {
		return errors.New("config: seed message range is invalid")
	}
	return nil
}
