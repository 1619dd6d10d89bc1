package poll

import (
	"context"
	"log/slog"
	"time"

	"github.com/wanderport/livesync/internal/metrics"
)

// Poller re-runs a single canonical query on a fixed interval as a safety net
// for the streaming channel. It is deliberately connection-state-agnostic:
// both paths converge on the same cache write, so no reconciliation with
// stream-delivered updates is needed. Tick errors are swallowed; the next
// interval simply tries again.
type Poller struct {
	interval time.Duration
	tick     func(ctx context.Context) error
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// DefaultInterval bounds staleness to half a minute when the push channel is
// down.
const DefaultInterval = 30 * time.Second

// New builds a poller around the given tick function, typically an
// invalidate-plus-refetch of the unread-count tag.
func New(interval time.Duration, tick func(ctx context.Context) error, logger *slog.Logger, recorder *metrics.Recorder) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		interval: interval,
		tick:     tick,
		logger:   logger.With(slog.String("agent", "poll")),
		recorder: recorder,
	}
}

// Run blocks until ctx is cancelled, executing the tick on every interval.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.recorder.ObservePollTick()
			if err := p.tick(ctx); err != nil {
				p.logger.Debug("poll tick failed", slog.Any("error", err))
			}
		}
	}
}
