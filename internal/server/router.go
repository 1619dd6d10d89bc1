package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// Status is the snapshot the status endpoint reports.
type Status struct {
	StreamState  string    `json:"streamState"`
	CacheEntries int       `json:"cacheEntries"`
	RoutingRules int       `json:"routingRules"`
	StartedAt    time.Time `json:"startedAt"`
}

// StatusSource exposes the engine's current state to the router without the
// router depending on the engine's packages.
type StatusSource interface {
	Status() Status
}

// NewRouter assembles the local observability surface: liveness, a JSON
// status snapshot, and the metrics endpoint.
func NewRouter(status StatusSource, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		if status == nil {
			http.Error(w, "status unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status.Status())
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return mux
}
