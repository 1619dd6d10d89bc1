package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	valkey "github.com/valkey-io/valkey-go"

	"github.com/wanderport/livesync/internal/cache"
)

// Config describes the valkey connection used for cross-session fan-out.
type Config struct {
	Address  string
	Username string
	Password string
	DB       int
	Channel  string
}

// DefaultChannel is the pub/sub channel invalidations travel on.
const DefaultChannel = "livesync:invalidations"

type envelope struct {
	Origin string      `json:"origin"`
	Tags   []cache.Tag `json:"tags"`
}

// Fanout publishes locally-settled tag invalidations to other dashboard
// sessions and applies remote ones, so sessions converge without waiting for
// their own poll interval. Messages carry an origin id; a session ignores its
// own publications.
type Fanout struct {
	client  valkey.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// New connects to valkey and verifies the link with a ping, mirroring how the
// rest of the engine fails fast on a bad collaborator address.
func New(cfg Config, logger *slog.Logger) (*Fanout, error) {
	if cfg.Address == "" {
		return nil, errors.New("broadcast: valkey address required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("broadcast: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("broadcast: valkey ping: %w", err)
	}

	return &Fanout{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With(slog.String("agent", "broadcast")),
	}, nil
}

// Origin exposes this session's id, mostly for tests.
func (f *Fanout) Origin() string {
	return f.origin
}

// Publish sends a tag set to every listening session.
func (f *Fanout) Publish(ctx context.Context, tags []cache.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	payload, err := json.Marshal(envelope{Origin: f.origin, Tags: tags})
	if err != nil {
		return fmt.Errorf("broadcast: encode: %w", err)
	}
	cmd := f.client.B().Publish().Channel(f.channel).Message(string(payload)).Build()
	if err := f.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("broadcast: publish: %w", err)
	}
	return nil
}

// Listen blocks applying remote invalidations until ctx is cancelled. Own
// messages and undecodable payloads are dropped.
func (f *Fanout) Listen(ctx context.Context, apply func(tags []cache.Tag)) error {
	err := f.client.Receive(ctx, f.client.B().Subscribe().Channel(f.channel).Build(), func(msg valkey.PubSubMessage) {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Message), &env); err != nil {
			f.logger.Warn("dropping malformed invalidation message", slog.Any("error", err))
			return
		}
		if env.Origin == f.origin || len(env.Tags) == 0 {
			return
		}
		apply(env.Tags)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("broadcast: listen: %w", err)
	}
	return nil
}

// Close releases the valkey connection.
func (f *Fanout) Close() {
	f.client.Close()
}
