package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wanderport/livesync/internal/cache"
	"github.com/wanderport/livesync/internal/metrics"
	"github.com/wanderport/livesync/internal/mutation"
	"github.com/wanderport/livesync/internal/query"
	"github.com/wanderport/livesync/internal/view"
)

// Publisher fans invalidation tags out to other dashboard sessions. The
// broadcast package provides the valkey-backed implementation; a nil
// Publisher keeps the center fully local.
type Publisher interface {
	Publish(ctx context.Context, tags []cache.Tag) error
}

// Center is the notification subsystem's facade: it owns the endpoint and
// mutation definitions and wires reads through the executor and writes
// through the coordinator.
type Center struct {
	exec      *query.Executor
	coord     *mutation.Coordinator
	store     *cache.Store
	publisher Publisher
	logger    *slog.Logger
	recorder  *metrics.Recorder

	list  query.Endpoint
	count query.Endpoint
}

// NewCenter assembles the facade. publisher may be nil.
func NewCenter(exec *query.Executor, coord *mutation.Coordinator, publisher Publisher, logger *slog.Logger, recorder *metrics.Recorder) *Center {
	if logger == nil {
		logger = slog.Default()
	}
	return &Center{
		exec:      exec,
		coord:     coord,
		store:     exec.Store(),
		publisher: publisher,
		logger:    logger.With(slog.String("agent", "notify")),
		recorder:  recorder,
		list:      ListEndpoint(),
		count:     UnreadCountEndpoint(),
	}
}

// WatchList subscribes to the notification list and starts a background
// fetch when the cache holds nothing fresh.
func (c *Center) WatchList(ctx context.Context) *view.Query {
	return view.Watch(ctx, c.exec, c.list, nil)
}

// WatchUnreadCount subscribes to the unread counter.
func (c *Center) WatchUnreadCount(ctx context.Context) *view.Query {
	return view.Watch(ctx, c.exec, c.count, nil)
}

// Notifications fetches the list, serving a fresh cached value when present.
func (c *Center) Notifications(ctx context.Context) ([]Notification, error) {
	data, err := c.exec.Get(ctx, c.list, nil)
	if err != nil {
		return nil, err
	}
	items, ok := data.([]Notification)
	if !ok {
		return nil, fmt.Errorf("notify: unexpected list payload %T", data)
	}
	return items, nil
}

// Unread fetches the unread counter, serving a fresh cached value when
// present.
func (c *Center) Unread(ctx context.Context) (int, error) {
	data, err := c.exec.Get(ctx, c.count, nil)
	if err != nil {
		return 0, err
	}
	count, ok := data.(int)
	if !ok {
		return 0, fmt.Errorf("notify: unexpected count payload %T", data)
	}
	return count, nil
}

// MarkRead marks one notification as read with an optimistic local edit.
func (c *Center) MarkRead(ctx context.Context, id string) error {
	return c.dispatch(ctx, MarkReadDefinition(), mutation.Args{"id": id})
}

// MarkAllRead marks every notification as read.
func (c *Center) MarkAllRead(ctx context.Context) error {
	return c.dispatch(ctx, MarkAllReadDefinition(), nil)
}

// Delete removes one notification.
func (c *Center) Delete(ctx context.Context, id string) error {
	return c.dispatch(ctx, DeleteDefinition(), mutation.Args{"id": id})
}

func (c *Center) dispatch(ctx context.Context, def mutation.Definition, args mutation.Args) error {
	result, err := c.coord.Dispatch(ctx, def, args)
	if err != nil {
		return err
	}
	if c.publisher != nil && def.InvalidatesTags != nil {
		tags := def.InvalidatesTags(result, args)
		if err := c.publisher.Publish(ctx, tags); err != nil {
			c.logger.Warn("invalidation broadcast failed",
				slog.String("mutation", def.Name),
				slog.Any("error", err))
		}
	}
	return nil
}

// PollTick is the fallback refresh: it marks the unread counter stale and
// refetches it, independent of the streaming channel's state. Wired as the
// poller's tick function.
func (c *Center) PollTick(ctx context.Context) error {
	stale := c.store.Invalidate(ctx, UnreadCountTag())
	c.recorder.ObserveInvalidation(metrics.SourcePoll, stale)
	_, err := c.exec.Execute(ctx, c.count, nil)
	return err
}

// ApplyRemote folds an invalidation broadcast from another session into the
// local store. Wired as the broadcast listener's callback.
func (c *Center) ApplyRemote(ctx context.Context, tags []cache.Tag) {
	stale := c.store.Invalidate(ctx, tags...)
	c.recorder.ObserveInvalidation(metrics.SourceBroadcast, stale)
	c.logger.Debug("remote invalidation applied",
		slog.Int("tags", len(tags)),
		slog.Int("stale", stale))
}
