package query

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"time"

	"github.com/wanderport/livesync/internal/cache"
)

// Endpoint declares one read-only backend query: where it lives, how its
// response body becomes cached data, and which tags the resulting entry
// carries. Definitions are plain values; the executor owns all I/O.
type Endpoint struct {
	// Name labels the endpoint in logs, metrics, and derived cache keys.
	Name string
	// Method defaults to GET.
	Method string
	// Path is relative to the executor's base URL. Params are appended as
	// query string values.
	Path string
	// KeepAlive overrides how long this endpoint's entries outlive their
	// last subscriber.
	KeepAlive time.Duration
	// Transform turns the raw response body into the cached value. When nil
	// the body is decoded as arbitrary JSON.
	Transform func(body []byte) (any, error)
	// Tags declares the tag set for an entry produced by this endpoint,
	// given the transformed result and the request params. List queries
	// return the list tag plus one item tag per element; single-item
	// queries return exactly that item's tag.
	Tags func(result any, params map[string]string) []cache.Tag
}

func (e Endpoint) method() string {
	if e.Method == "" {
		return http.MethodGet
	}
	return e.Method
}

// Key derives the canonical cache key for this endpoint and parameter set.
// Params are sorted so two structurally identical requests always collapse to
// the same key.
func (e Endpoint) Key(params map[string]string) cache.Key {
	h := fnv.New64a()
	_, _ = h.Write([]byte(e.Name))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(e.method()))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(e.Path))
	_, _ = h.Write([]byte("|"))

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = h.Write([]byte(k))
			_, _ = h.Write([]byte("="))
			_, _ = h.Write([]byte(params[k]))
			_, _ = h.Write([]byte("&"))
		}
	}

	return cache.Key(fmt.Sprintf("%s:%016x", e.Name, h.Sum64()))
}

func (e Endpoint) transform(body []byte) (any, error) {
	if e.Transform != nil {
		return e.Transform(body)
	}
	if len(body) == 0 {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("query: decode %s response: %w", e.Name, err)
	}
	return payload, nil
}
