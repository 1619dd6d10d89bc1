package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wanderport/livesync/internal/auth"
	"github.com/wanderport/livesync/internal/metrics"
)

// State is the streaming connection lifecycle.
type State string

const (
	StateClosed       State = "closed"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
)

// KnownStates lists every state for one-hot gauge publication.
func KnownStates() []string {
	return []string{string(StateClosed), string(StateConnecting), string(StateOpen), string(StateReconnecting)}
}

// ItemEvent is a whole new or changed entity pushed by the server.
type ItemEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
	Link    string `json:"link,omitempty"`
}

// Sink consumes typed events parsed off the wire. Implementations must not
// perform long synchronous work; the channel dispatches frames inline.
type Sink interface {
	// ApplyItem handles an additive entity notification.
	ApplyItem(ctx context.Context, item ItemEvent)
	// ApplyCount handles an authoritative counter replacement. The value is
	// not a delta; it fully replaces local state.
	ApplyCount(ctx context.Context, count int)
}

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Channel maintains the persistent server-push connection. Transitions:
// closed -> connecting -> open -> reconnecting -> connecting, with
// Disconnect short-circuiting to closed from any state. A single run
// goroutine owns the reconnect timer, so at most one is ever pending.
type Channel struct {
	url      string
	client   httpDoer
	sessions auth.Provider
	sink     Sink
	backoff  Backoff
	logger   *slog.Logger
	recorder *metrics.Recorder

	mu          sync.Mutex
	state       State
	attempt     int
	nextRetryAt time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// New builds a disconnected channel.
func New(url string, client httpDoer, sessions auth.Provider, sink Sink, backoff Backoff, logger *slog.Logger, recorder *metrics.Recorder) *Channel {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		url:      url,
		client:   client,
		sessions: sessions,
		sink:     sink,
		backoff:  backoff,
		logger:   logger.With(slog.String("agent", "stream")),
		recorder: recorder,
		state:    StateClosed,
	}
}

// Connect starts the connection loop. When no active session exists the
// channel stays closed; authentication gates whether it attempts to connect
// at all. Calling Connect on an already running channel is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	if c.sessions != nil {
		session, err := c.sessions.Session(ctx)
		if err != nil {
			return fmt.Errorf("stream: resolve session: %w", err)
		}
		if session == nil || !session.Active {
			c.logger.Info("no active session, stream stays closed")
			return nil
		}
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
	return nil
}

// Disconnect tears the channel down from any state and cancels a pending
// reconnect timer. It blocks until the run loop has exited.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State reports the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status reports the state plus reconnection bookkeeping for surfacing on a
// status endpoint.
func (c *Channel) Status() (State, int, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.attempt, c.nextRetryAt
}

func (c *Channel) run(ctx context.Context) {
	defer c.setState(StateClosed)

	for {
		c.setState(StateConnecting)
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("stream transport failed", slog.Any("error", err))
		}

		c.mu.Lock()
		c.attempt++
		attempt := c.attempt
		delay := c.backoff.Delay(attempt)
		c.state = StateReconnecting
		c.nextRetryAt = time.Now().Add(delay)
		c.mu.Unlock()

		c.recorder.ObserveStreamState(string(StateReconnecting), KnownStates())
		c.recorder.ObserveReconnect()
		c.logger.Info("stream reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Channel) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("stream: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.sessions != nil {
		session, sessionErr := c.sessions.Session(ctx)
		if sessionErr != nil {
			return fmt.Errorf("stream: resolve session: %w", sessionErr)
		}
		auth.Attach(req, session)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream: connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("stream: connect: unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/event-stream") {
		return fmt.Errorf("stream: connect: unexpected content type %q", ct)
	}

	c.mu.Lock()
	c.state = StateOpen
	c.attempt = 0
	c.nextRetryAt = time.Time{}
	c.mu.Unlock()
	c.recorder.ObserveStreamState(string(StateOpen), KnownStates())
	c.logger.Info("stream open")

	reader := newFrameReader(resp.Body)
	for {
		fr, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream: server closed connection")
			}
			return fmt.Errorf("stream: read: %w", err)
		}
		c.dispatch(ctx, fr)
	}
}

// dispatch routes one frame to the sink. Malformed payloads are logged and
// dropped; they never crash the channel or abort the connection.
func (c *Channel) dispatch(ctx context.Context, fr frame) {
	switch fr.name {
	case "connected":
		c.recorder.ObserveStreamEvent("connected")
		c.logger.Debug("stream heartbeat acknowledged")
	case "notification":
		var item ItemEvent
		if err := json.Unmarshal(fr.data, &item); err != nil || item.ID == "" {
			c.recorder.ObserveStreamEvent("malformed")
			c.logger.Warn("dropping malformed notification event",
				slog.String("payload", string(fr.data)),
				slog.Any("error", err))
			return
		}
		c.recorder.ObserveStreamEvent("notification")
		if c.sink != nil {
			c.sink.ApplyItem(ctx, item)
		}
	case "unread_count":
		var payload struct {
			Count *int `json:"count"`
		}
		if err := json.Unmarshal(fr.data, &payload); err != nil || payload.Count == nil || *payload.Count < 0 {
			c.recorder.ObserveStreamEvent("malformed")
			c.logger.Warn("dropping malformed unread_count event",
				slog.String("payload", string(fr.data)))
			return
		}
		c.recorder.ObserveStreamEvent("unread_count")
		if c.sink != nil {
			c.sink.ApplyCount(ctx, *payload.Count)
		}
	default:
		c.recorder.ObserveStreamEvent("unknown")
		c.logger.Debug("ignoring unknown stream event", slog.String("event", fr.name))
	}
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	c.state = state
	if state == StateClosed || state == StateConnecting {
		c.nextRetryAt = time.Time{}
	}
	c.mu.Unlock()
	c.recorder.ObserveStreamState(string(state), KnownStates())
}
