package mutation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wanderport/livesync/internal/cache"
	"github.com/wanderport/livesync/internal/metrics"
	"github.com/wanderport/livesync/internal/query"
)

// Args carry the caller-supplied identifiers a mutation operates on.
type Args map[string]string

// PatchOp is one reversible optimistic edit against a specific cache entry.
type PatchOp struct {
	Key    cache.Key
	Mutate func(data any) any
}

// Definition declares a state-changing operation: the request it issues, the
// optimistic patches it applies before settlement, and the tags it
// invalidates afterwards.
type Definition struct {
	Name string
	// Method is POST/PUT/DELETE; mutations are never GETs.
	Method string
	// Path builds the request path from args.
	Path func(args Args) string
	// Body builds the JSON request body; nil means no body.
	Body func(args Args) any
	// Optimistic computes the patches to apply synchronously on dispatch.
	// Nil skips optimism entirely.
	Optimistic func(args Args) []PatchOp
	// InvalidatesTags is computed on success from the server response and
	// the original args, so a settled rename can invalidate both the old
	// and new item tags.
	InvalidatesTags func(result any, args Args) []cache.Tag
}

// Coordinator wraps state-changing requests around the cache store: apply
// optimism, dispatch, then commit or roll back.
type Coordinator struct {
	exec     *query.Executor
	store    *cache.Store
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// NewCoordinator wires the coordinator against the executor's write path and
// the shared store.
func NewCoordinator(exec *query.Executor, store *cache.Store, logger *slog.Logger, recorder *metrics.Recorder) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		exec:     exec,
		store:    store,
		logger:   logger.With(slog.String("agent", "mutation")),
		recorder: recorder,
	}
}

// Dispatch runs def against the backend. Optimistic patches are applied
// before any network I/O begins, so local readers observe the edit
// immediately regardless of latency. On failure every collected undo runs in
// reverse application order and the error is returned.
//
// The network call and the settlement bookkeeping run on a context detached
// from the caller's: a caller that abandons the mutation mid-flight must not
// leave a dangling optimistic patch, so rollback and invalidation always run
// against the store.
func (c *Coordinator) Dispatch(ctx context.Context, def Definition, args Args) (any, error) {
	if def.Path == nil {
		return nil, fmt.Errorf("mutation: %s has no path builder", def.Name)
	}

	var undos []func()
	if def.Optimistic != nil {
		for _, op := range def.Optimistic(args) {
			undos = append(undos, c.store.Patch(op.Key, op.Mutate))
		}
	}

	settleCtx := context.WithoutCancel(ctx)

	var body any
	if def.Body != nil {
		body = def.Body(args)
	}
	result, err := c.exec.Send(settleCtx, def.Method, def.Path(args), body)
	if err != nil {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
		c.recorder.ObserveMutation(def.Name, true)
		c.logger.Warn("mutation rolled back",
			slog.String("mutation", def.Name),
			slog.Any("error", err))
		return nil, fmt.Errorf("mutation: %s: %w", def.Name, err)
	}

	if def.InvalidatesTags != nil {
		tags := def.InvalidatesTags(result, args)
		stale := c.store.Invalidate(settleCtx, tags...)
		c.recorder.ObserveInvalidation(metrics.SourceMutation, stale)
	}
	c.recorder.ObserveMutation(def.Name, false)
	return result, nil
}
