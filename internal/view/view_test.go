package view

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wanderport/livesync/internal/cache"
	"github.com/wanderport/livesync/internal/mutation"
	"github.com/wanderport/livesync/internal/query"
)

func testEndpoint() query.Endpoint {
	return query.Endpoint{
		Name: "articles.detail",
		Path: "/api/articles",
		Transform: func(body []byte) (any, error) {
			var payload map[string]string
			if err := json.Unmarshal(body, &payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
		Tags: func(_ any, params map[string]string) []cache.Tag {
			return []cache.Tag{{Kind: "article", ID: params["id"]}}
		},
	}
}

func newTestExecutor(t *testing.T, handler http.Handler) (*query.Executor, *cache.Store) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger := slog.New(slog.DiscardHandler)
	store := cache.New(logger, nil, cache.Options{})
	t.Cleanup(store.Teardown)
	return query.NewExecutor(server.URL, server.Client(), store, nil, logger, nil), store
}

func TestWatchFetchesAndStreamsSnapshots(t *testing.T) {
	exec, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"title": "Visit the coast"})
	}))

	q := Watch(context.Background(), exec, testEndpoint(), map[string]string{"id": "a1"})
	defer q.Close()

	require.Eventually(t, func() bool {
		snap := q.Snapshot()
		return snap.Status == cache.StatusSuccess
	}, time.Second, 5*time.Millisecond)

	data := q.Snapshot().Data.(map[string]string)
	require.Equal(t, "Visit the coast", data["title"])
}

func TestRefreshForcesRevalidation(t *testing.T) {
	var calls atomic.Int32
	exec, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"title": "v"})
	}))

	q := Watch(context.Background(), exec, testEndpoint(), map[string]string{"id": "a1"})
	defer q.Close()

	require.Eventually(t, func() bool {
		return q.Snapshot().Status == cache.StatusSuccess
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Refresh(context.Background()))
	require.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestUpdatesDeliverInvalidationResults(t *testing.T) {
	var calls atomic.Int32
	exec, store := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"title": "rev-" + string(rune('0'+n))})
	}))

	ctx := context.Background()
	q := Watch(ctx, exec, testEndpoint(), map[string]string{"id": "a1"})
	defer q.Close()

	require.Eventually(t, func() bool {
		return q.Snapshot().Status == cache.StatusSuccess
	}, time.Second, 5*time.Millisecond)

	store.Invalidate(ctx, cache.Tag{Kind: "article", ID: "a1"})

	require.Eventually(t, func() bool {
		select {
		case snap := <-q.Updates():
			data, ok := snap.Data.(map[string]string)
			return ok && snap.Status == cache.StatusSuccess && data["title"] == "rev-2"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestTriggerFireDispatches(t *testing.T) {
	exec, store := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"title": "v"})
	}))
	coord := mutation.NewCoordinator(exec, store, slog.New(slog.DiscardHandler), nil)

	trigger := NewTrigger(coord, mutation.Definition{
		Name:   "articles.publish",
		Method: http.MethodPost,
		Path: func(args mutation.Args) string {
			return "/api/articles/" + args["id"] + "/publish"
		},
	})

	_, err := trigger.Fire(context.Background(), mutation.Args{"id": "a1"})
	require.NoError(t, err)
}
