package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

type staticStatus struct {
	status Status
}

func (s staticStatus) Status() Status { return s.status }

func newExpect(t *testing.T, src StatusSource) *httpexpect.Expect {
	t.Helper()
	registry := prometheus.NewRegistry()
	router := NewRouter(src, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return httpexpect.Default(t, srv.URL)
}

func TestRouterHealthz(t *testing.T) {
	e := newExpect(t, staticStatus{})
	e.GET("/healthz").Expect().Status(200).Body().IsEqual("ok\n")
}

func TestRouterStatusSnapshot(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := newExpect(t, staticStatus{status: Status{
		StreamState:  "open",
		CacheEntries: 4,
		RoutingRules: 2,
		StartedAt:    started,
	}})

	body := e.GET("/status").Expect().Status(200).JSON().Object()
	body.Value("streamState").IsEqual("open")
	body.Value("cacheEntries").IsEqual(4)
	body.Value("routingRules").IsEqual(2)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	e := newExpect(t, staticStatus{})
	e.GET("/metrics").Expect().Status(200)
}

func TestRouterUnknownPath(t *testing.T) {
	e := newExpect(t, staticStatus{})
	e.GET("/explain").Expect().Status(404)
}

func TestRouterNilStatusSource(t *testing.T) {
	router := NewRouter(nil, nil)
	srv := httptest.NewServer(router)
	defer srv.Close()
	e := httpexpect.Default(t, srv.URL)
	e.GET("/status").Expect().Status(503)
	require.NotNil(t, router)
}
