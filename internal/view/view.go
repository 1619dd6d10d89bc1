// Package view binds consumers to cached queries and mutations: the Go
// equivalent of the dashboard's useQuery/useMutation hooks. A Query handle
// subscribes on creation, fetches when the entry is absent or stale, and
// streams snapshots until closed.
package view

import (
	"context"

	"github.com/wanderport/livesync/internal/cache"
	"github.com/wanderport/livesync/internal/mutation"
	"github.com/wanderport/livesync/internal/query"
)

// Query is a live subscription to one cached endpoint.
type Query struct {
	exec   *query.Executor
	ep     query.Endpoint
	params map[string]string
	sub    *cache.Subscription
}

// Watch subscribes to the endpoint and triggers a background fetch when the
// cache holds nothing fresh. The returned handle must be closed; the last
// close starts the entry's eviction timer.
func Watch(ctx context.Context, exec *query.Executor, ep query.Endpoint, params map[string]string) *Query {
	q := &Query{
		exec:   exec,
		ep:     ep,
		params: params,
		sub:    exec.Store().Subscribe(ep.Key(params)),
	}
	go func() {
		_, _ = exec.Get(ctx, ep, params)
	}()
	return q
}

// Snapshot reads the entry's current state without blocking.
func (q *Query) Snapshot() cache.Snapshot {
	snap, _ := q.exec.Store().Read(q.ep.Key(q.params))
	return snap
}

// Updates delivers conflated snapshots as the entry changes.
func (q *Query) Updates() <-chan cache.Snapshot {
	return q.sub.Updates()
}

// Refresh forces a revalidation, the analog of refetch-on-focus.
func (q *Query) Refresh(ctx context.Context) error {
	_, err := q.exec.Execute(ctx, q.ep, q.params)
	return err
}

// Close detaches the subscription. In-flight fetches are not cancelled; their
// results still land in the cache for other subscribers or future reads.
func (q *Query) Close() {
	q.sub.Close()
}

// Trigger invokes one mutation definition.
type Trigger struct {
	coord *mutation.Coordinator
	def   mutation.Definition
}

// NewTrigger binds a mutation definition to its coordinator.
func NewTrigger(coord *mutation.Coordinator, def mutation.Definition) *Trigger {
	return &Trigger{coord: coord, def: def}
}

// Fire dispatches the mutation and returns its settlement error for the
// caller to surface.
func (t *Trigger) Fire(ctx context.Context, args mutation.Args) (any, error) {
	return t.coord.Dispatch(ctx, t.def, args)
}

// FireAndForget dispatches without reporting settlement to the caller.
// Failures still roll back optimistic patches inside the coordinator.
func (t *Trigger) FireAndForget(ctx context.Context, args mutation.Args) {
	go func() {
		_, _ = t.coord.Dispatch(ctx, t.def, args)
	}()
}
