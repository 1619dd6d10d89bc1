package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every engine-level option after the loader resolves defaults,
// file, and environment in that order.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Backend   BackendConfig   `koanf:"backend"`
	Cache     CacheConfig     `koanf:"cache"`
	Stream    StreamConfig    `koanf:"stream"`
	Poll      PollConfig      `koanf:"poll"`
	Broadcast BroadcastConfig `koanf:"broadcast"`
	Rules     RulesConfig     `koanf:"rules"`
	Templates TemplatesConfig `koanf:"templates"`
}

// ServerConfig collects the bootstrap knobs for the local status listener.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// BackendConfig points the engine at the dashboard API it synchronizes with.
type BackendConfig struct {
	BaseURL        string        `koanf:"baseUrl"`
	TimeoutSeconds int           `koanf:"timeoutSeconds"`
	Session        SessionConfig `koanf:"session"`
}

// Timeout returns the per-request HTTP timeout.
func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SessionConfig carries the static credential presented to the backend.
type SessionConfig struct {
	Token string `koanf:"token"`
	Role  string `koanf:"role"`
}

// CacheConfig tunes the in-memory query store.
type CacheConfig struct {
	KeepAliveSeconds int `koanf:"keepAliveSeconds"`
}

// KeepAlive returns how long an entry outlives its last subscriber. Zero
// falls back to the store's default.
func (c CacheConfig) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// StreamConfig shapes the server-sent-events channel.
type StreamConfig struct {
	Path    string        `koanf:"path"`
	Backoff BackoffConfig `koanf:"backoff"`
}

// BackoffConfig controls the reconnect schedule. Initial and Max are
// durations ("5s", "1m"); Factor 1 with Jitter 0 yields a constant retry
// interval.
type BackoffConfig struct {
	Initial string  `koanf:"initial"`
	Max     string  `koanf:"max"`
	Factor  float64 `koanf:"factor"`
	Jitter  float64 `koanf:"jitter"`
}

// InitialDelay returns the parsed initial delay, zero when unset or invalid.
func (c BackoffConfig) InitialDelay() time.Duration {
	d, err := time.ParseDuration(c.Initial)
	if err != nil {
		return 0
	}
	return d
}

// MaxDelay returns the parsed ceiling, zero when unset or invalid.
func (c BackoffConfig) MaxDelay() time.Duration {
	d, err := time.ParseDuration(c.Max)
	if err != nil {
		return 0
	}
	return d
}

// PollConfig drives the periodic unread-count refresh that backstops the
// streaming channel.
type PollConfig struct {
	Enabled         bool `koanf:"enabled"`
	IntervalSeconds int  `koanf:"intervalSeconds"`
}

// Interval returns the tick period.
func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// BroadcastConfig wires the optional valkey fan-out between sessions.
type BroadcastConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Address  string `koanf:"address"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Channel  string `koanf:"channel"`
}

// RulesConfig announces where routing rules are sourced from.
type RulesConfig struct {
	RulesFile string `koanf:"rulesFile"`
}

// TemplatesConfig captures the display format for surfaced notifications.
// An empty format selects the renderer's built-in default.
type TemplatesConfig struct {
	Format string `koanf:"format"`
}

// Validate enforces invariants that keep the engine predictable before it
// starts syncing.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("config: backend.baseUrl required")
	}
	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("config: backend.timeoutSeconds invalid: %d", c.Backend.TimeoutSeconds)
	}
	if c.Cache.KeepAliveSeconds < 0 {
		return fmt.Errorf("config: cache.keepAliveSeconds invalid: %d", c.Cache.KeepAliveSeconds)
	}
	if err := c.Stream.Backoff.validate(); err != nil {
		return err
	}
	if c.Poll.Enabled && c.Poll.IntervalSeconds <= 0 {
		return fmt.Errorf("config: poll.intervalSeconds invalid: %d", c.Poll.IntervalSeconds)
	}
	if c.Broadcast.Enabled && strings.TrimSpace(c.Broadcast.Address) == "" {
		return errors.New("config: broadcast.address required when broadcast is enabled")
	}
	return nil
}

func (c BackoffConfig) validate() error {
	initial, err := time.ParseDuration(c.Initial)
	if err != nil {
		return fmt.Errorf("config: stream.backoff.initial invalid: %q", c.Initial)
	}
	max, err := time.ParseDuration(c.Max)
	if err != nil {
		return fmt.Errorf("config: stream.backoff.max invalid: %q", c.Max)
	}
	if initial <= 0 || max < initial {
		return fmt.Errorf("config: stream.backoff window invalid: initial %s, max %s", initial, max)
	}
	if c.Factor < 1 {
		return fmt.Errorf("config: stream.backoff.factor invalid: %v", c.Factor)
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("config: stream.backoff.jitter invalid: %v", c.Jitter)
	}
	return nil
}

// DefaultConfig returns the baseline values the loader starts from.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		Backend: BackendConfig{
			TimeoutSeconds: 15,
		},
		Cache: CacheConfig{
			KeepAliveSeconds: 60,
		},
		Stream: StreamConfig{
			Path: "/api/notifications/stream",
			Backoff: BackoffConfig{
				Initial: "5s",
				Max:     "1m",
				Factor:  1.5,
				Jitter:  0.2,
			},
		},
		Poll: PollConfig{
			Enabled:         true,
			IntervalSeconds: 30,
		},
		Broadcast: BroadcastConfig{
			Channel: "livesync:invalidations",
		},
	}
}
