package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wanderport/livesync/internal/cache"
	"github.com/wanderport/livesync/internal/metrics"
	"github.com/wanderport/livesync/internal/rules"
	"github.com/wanderport/livesync/internal/stream"
)

// Applier is the streaming channel's sink: it folds typed server events into
// the cache store. Count events replace the counter outright; item events
// bump the counter and prepend to a subscribed list entry without a full
// refetch.
type Applier struct {
	store    *cache.Store
	logger   *slog.Logger
	recorder *metrics.Recorder

	listKey  cache.Key
	countKey cache.Key

	routing atomic.Pointer[rules.Set]

	// onSurface receives events that no routing rule muted, typically for
	// display. Never called with long work; it runs on the channel's
	// dispatch path.
	onSurface func(Notification)
}

// NewApplier builds the sink over the shared store.
func NewApplier(store *cache.Store, logger *slog.Logger, recorder *metrics.Recorder, onSurface func(Notification)) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		store:     store,
		logger:    logger.With(slog.String("agent", "notify")),
		recorder:  recorder,
		listKey:   ListKey(),
		countKey:  UnreadCountKey(),
		onSurface: onSurface,
	}
}

// SetRouting swaps the active routing rule set. Safe to call while the
// channel is delivering events; nil clears all rules.
func (a *Applier) SetRouting(set *rules.Set) {
	a.routing.Store(set)
}

// ApplyCount replaces the unread counter with the authoritative server
// value. Last write wins: no merge with optimistic local decrements, so a
// server count arriving after a local decrement may reintroduce a value the
// user just cleared locally. That is the accepted eventual-consistency
// trade-off and must be preserved.
func (a *Applier) ApplyCount(_ context.Context, count int) {
	a.store.Write(a.countKey, count, []cache.Tag{UnreadCountTag()}, cache.WriteOptions{})
}

// ApplyItem handles an additive entity notification: increment the counter
// and, when the list view is subscribed, prepend the item directly instead
// of scheduling a refetch. Insertion dedups by id so a racing list refetch
// cannot produce duplicates.
func (a *Applier) ApplyItem(_ context.Context, item stream.ItemEvent) {
	notification := Notification{
		ID:        item.ID,
		Type:      item.Type,
		Title:     item.Title,
		Message:   item.Message,
		Link:      item.Link,
		CreatedAt: time.Now().UTC(),
	}

	a.store.Patch(a.countKey, func(data any) any {
		n, ok := data.(int)
		if !ok {
			return data
		}
		return n + 1
	})

	if snap, ok := a.store.Read(a.listKey); ok && snap.Subscribers > 0 {
		a.store.Patch(a.listKey, prepend(notification))
	}

	if muted, rule := a.routing.Load().Muted(notification.asRuleInput()); muted {
		a.logger.Debug("notification muted by routing rule",
			slog.String("id", notification.ID),
			slog.String("rule", rule))
		return
	}
	if a.onSurface != nil {
		a.onSurface(notification)
	}
}

func prepend(notification Notification) func(any) any {
	return func(data any) any {
		items, ok := data.([]Notification)
		if !ok {
			return data
		}
		for _, existing := range items {
			if existing.ID == notification.ID {
				return data
			}
		}
		out := make([]Notification, 0, len(items)+1)
		out = append(out, notification)
		out = append(out, items...)
		return out
	}
}
