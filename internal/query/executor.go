package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wanderport/livesync/internal/auth"
	"github.com/wanderport/livesync/internal/cache"
	"github.com/wanderport/livesync/internal/metrics"
)

// Doer represents the minimal HTTP client contract used by the executor.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

const maxResponseBytes = 1 << 20

// Executor issues backend requests and feeds results into the cache store.
// Concurrent identical query fetches collapse into one network call; the
// second caller attaches to the first flight's result. Mutating requests go
// through Send, which never deduplicates.
type Executor struct {
	baseURL  string
	client   Doer
	store    *cache.Store
	sessions auth.Provider
	logger   *slog.Logger
	recorder *metrics.Recorder
	flights  singleflight.Group
}

// NewExecutor wires the executor against its collaborators.
func NewExecutor(baseURL string, client Doer, store *cache.Store, sessions auth.Provider, logger *slog.Logger, recorder *metrics.Recorder) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		store:    store,
		sessions: sessions,
		logger:   logger.With(slog.String("agent", "executor")),
		recorder: recorder,
	}
}

// Store exposes the cache store the executor writes through to.
func (x *Executor) Store() *cache.Store {
	return x.store
}

// Get returns the cached value when the entry is fresh, otherwise it
// executes the query. Stale entries fall through to Execute so consumers get
// revalidated data while the store keeps serving the stale value to readers.
func (x *Executor) Get(ctx context.Context, ep Endpoint, params map[string]string) (any, error) {
	snap, ok := x.store.Read(ep.Key(params))
	if ok && snap.Status == cache.StatusSuccess {
		return snap.Data, nil
	}
	return x.Execute(ctx, ep, params)
}

// Execute performs the query over the network, deduplicating against any
// identical in-flight request, and writes the outcome through to the store.
// Errors are both stored on the entry and returned to the caller.
func (x *Executor) Execute(ctx context.Context, ep Endpoint, params map[string]string) (any, error) {
	key := ep.Key(params)

	result, err, shared := x.flights.Do(string(key), func() (any, error) {
		x.store.MarkFetching(key)
		start := time.Now()

		value, fetchErr := x.fetch(ctx, ep, params)
		if fetchErr != nil {
			x.store.WriteError(key, fetchErr)
			x.recorder.ObserveFetch(ep.Name, metrics.FetchError, time.Since(start))
			x.logger.Warn("query fetch failed",
				slog.String("endpoint", ep.Name),
				slog.Any("error", fetchErr))
			return nil, fetchErr
		}

		var tags []cache.Tag
		if ep.Tags != nil {
			tags = ep.Tags(value, params)
		}
		refetchParams := cloneParams(params)
		x.store.Write(key, value, tags, cache.WriteOptions{
			KeepAlive: ep.KeepAlive,
			Refetch: func(refetchCtx context.Context) {
				_, _ = x.Execute(refetchCtx, ep, refetchParams)
			},
		})
		x.recorder.ObserveFetch(ep.Name, metrics.FetchSuccess, time.Since(start))
		return value, nil
	})
	if shared {
		x.recorder.ObserveFetch(ep.Name, metrics.FetchShared, 0)
	}
	return result, err
}

// Send issues a state-changing request. Mutations are never deduplicated;
// two deletes of the same id must both reach the backend, idempotency is the
// server's concern. The decoded JSON response is returned as-is.
func (x *Executor) Send(ctx context.Context, method, path string, body any) (any, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("query: encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("query: build %s %s: %w", method, path, err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := x.authorize(ctx, req); err != nil {
		return nil, err
	}

	raw, err := x.roundTrip(req)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("query: decode %s %s response: %w", method, path, err)
	}
	return decoded, nil
}

func (x *Executor) fetch(ctx context.Context, ep Endpoint, params map[string]string) (any, error) {
	target := x.baseURL + ep.Path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		target += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, ep.method(), target, nil)
	if err != nil {
		return nil, fmt.Errorf("query: build %s: %w", ep.Name, err)
	}
	req.Header.Set("Accept", "application/json")
	if err := x.authorize(ctx, req); err != nil {
		return nil, err
	}

	raw, err := x.roundTrip(req)
	if err != nil {
		return nil, err
	}
	return ep.transform(raw)
}

func (x *Executor) authorize(ctx context.Context, req *http.Request) error {
	if x.sessions == nil {
		return nil
	}
	session, err := x.sessions.Session(ctx)
	if err != nil {
		return fmt.Errorf("query: resolve session: %w", err)
	}
	auth.Attach(req, session)
	return nil
}

func (x *Executor) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query: %s %s: %w", req.Method, req.URL.Path, err)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("query: read %s response: %w", req.URL.Path, err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("query: close %s response: %w", req.URL.Path, closeErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func cloneParams(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
