package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FetchOutcome captures the result of a query fetch.
type FetchOutcome string

const (
	// FetchSuccess indicates the backend returned a usable response.
	FetchSuccess FetchOutcome = "success"
	// FetchError indicates the fetch failed at the network or HTTP layer.
	FetchError FetchOutcome = "error"
	// FetchShared indicates the caller attached to an already in-flight
	// identical request instead of issuing its own.
	FetchShared FetchOutcome = "shared"
)

// CacheEvent identifies a cache store transition being counted.
type CacheEvent string

const (
	CacheHit     CacheEvent = "hit"
	CacheMiss    CacheEvent = "miss"
	CacheWrite   CacheEvent = "write"
	CachePatch   CacheEvent = "patch"
	CacheStale   CacheEvent = "stale"
	CacheEvicted CacheEvent = "evicted"
)

// InvalidationSource labels which subsystem requested a tag invalidation.
type InvalidationSource string

const (
	SourceMutation  InvalidationSource = "mutation"
	SourceStream    InvalidationSource = "stream"
	SourcePoll      InvalidationSource = "poll"
	SourceBroadcast InvalidationSource = "broadcast"
)

// Recorder publishes Prometheus metrics for sync engine activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec

	cacheEvents   *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	staleEntries  prometheus.Counter

	mutations *prometheus.CounterVec

	streamEvents *prometheus.CounterVec
	streamState  *prometheus.GaugeVec
	reconnects   prometheus.Counter

	pollTicks prometheus.Counter
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "query",
		Name:      "fetches_total",
		Help:      "Query fetches executed or shared with an in-flight request.",
	}, []string{"endpoint", "outcome"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "livesync",
		Subsystem: "query",
		Name:      "fetch_duration_seconds",
		Help:      "Latency distribution for completed query fetches.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	cacheEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "cache",
		Name:      "events_total",
		Help:      "Cache store transitions by event type.",
	}, []string{"event"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Tag invalidation requests by originating subsystem.",
	}, []string{"source"})

	staleEntries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "cache",
		Name:      "stale_entries_total",
		Help:      "Entries marked stale by tag invalidation.",
	})

	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "mutation",
		Name:      "dispatched_total",
		Help:      "Mutations dispatched, split by settlement outcome.",
	}, []string{"mutation", "outcome"})

	streamEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "stream",
		Name:      "events_total",
		Help:      "Server-sent events received over the streaming channel.",
	}, []string{"event"})

	streamState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livesync",
		Subsystem: "stream",
		Name:      "connection_state",
		Help:      "Current streaming connection state (1 for the active state).",
	}, []string{"state"})

	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Reconnection attempts scheduled after transport failures.",
	})

	pollTicks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livesync",
		Subsystem: "poll",
		Name:      "ticks_total",
		Help:      "Polling fallback ticks executed.",
	})

	reg.MustRegister(fetches, fetchLatency, cacheEvents, invalidations, staleEntries, mutations, streamEvents, streamState, reconnects, pollTicks)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:      reg,
		handler:       handler,
		fetches:       fetches,
		fetchLatency:  fetchLatency,
		cacheEvents:   cacheEvents,
		invalidations: invalidations,
		staleEntries:  staleEntries,
		mutations:     mutations,
		streamEvents:  streamEvents,
		streamState:   streamState,
		reconnects:    reconnects,
		pollTicks:     pollTicks,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveFetch records the outcome and latency for a completed query fetch.
func (r *Recorder) ObserveFetch(endpoint string, outcome FetchOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	label := normalizeLabel(endpoint)
	r.fetches.WithLabelValues(label, string(outcome)).Inc()
	if outcome != FetchShared {
		r.fetchLatency.WithLabelValues(label).Observe(duration.Seconds())
	}
}

// ObserveCache counts a cache store transition.
func (r *Recorder) ObserveCache(event CacheEvent) {
	if r == nil {
		return
	}
	r.cacheEvents.WithLabelValues(string(event)).Inc()
}

// ObserveInvalidation records an invalidation request and how many entries it
// marked stale.
func (r *Recorder) ObserveInvalidation(source InvalidationSource, stale int) {
	if r == nil {
		return
	}
	r.invalidations.WithLabelValues(string(source)).Inc()
	if stale > 0 {
		r.staleEntries.Add(float64(stale))
	}
}

// ObserveMutation records a settled mutation.
func (r *Recorder) ObserveMutation(name string, rolledBack bool) {
	if r == nil {
		return
	}
	outcome := "success"
	if rolledBack {
		outcome = "rolled_back"
	}
	r.mutations.WithLabelValues(normalizeLabel(name), outcome).Inc()
}

// ObserveStreamEvent counts a received (or rejected) server-sent event.
func (r *Recorder) ObserveStreamEvent(event string) {
	if r == nil {
		return
	}
	r.streamEvents.WithLabelValues(normalizeLabel(event)).Inc()
}

// ObserveStreamState publishes the current connection state as a one-hot
// gauge across the known state names.
func (r *Recorder) ObserveStreamState(state string, known []string) {
	if r == nil {
		return
	}
	for _, s := range known {
		value := 0.0
		if s == state {
			value = 1.0
		}
		r.streamState.WithLabelValues(s).Set(value)
	}
}

// ObserveReconnect counts a scheduled reconnection attempt.
func (r *Recorder) ObserveReconnect() {
	if r == nil {
		return
	}
	r.reconnects.Inc()
}

// ObservePollTick counts one polling fallback cycle.
func (r *Recorder) ObservePollTick() {
	if r == nil {
		return
	}
	r.pollTicks.Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
