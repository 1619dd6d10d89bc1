package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wanderport/livesync/internal/auth"
)

type recordingSink struct {
	mu     sync.Mutex
	items  []ItemEvent
	counts []int
}

func (s *recordingSink) ApplyItem(_ context.Context, item ItemEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
}

func (s *recordingSink) ApplyCount(_ context.Context, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = append(s.counts, count)
}

func (s *recordingSink) snapshot() ([]ItemEvent, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ItemEvent(nil), s.items...), append([]int(nil), s.counts...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fastBackoff() Backoff {
	return Backoff{Initial: 10 * time.Millisecond, Max: 10 * time.Millisecond, Factor: 1}
}

func TestFrameReaderParsesNamedEvents(t *testing.T) {
	input := strings.Join([]string{
		": heartbeat comment",
		"event: connected",
		"data: {}",
		"",
		"event: notification",
		"data: {\"id\":\"n1\",\"type\":\"signup\",",
		"data: \"title\":\"New user\"}",
		"",
		"event: unread_count",
		"data: {\"count\":3}",
		"",
	}, "\n")

	reader := newFrameReader(strings.NewReader(input))

	fr, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, "connected", fr.name)

	fr, err = reader.Next()
	require.NoError(t, err)
	require.Equal(t, "notification", fr.name)
	require.Equal(t, "{\"id\":\"n1\",\"type\":\"signup\",\n\"title\":\"New user\"}", string(fr.data))

	fr, err = reader.Next()
	require.NoError(t, err)
	require.Equal(t, "unread_count", fr.name)

	_, err = reader.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDispatchDropsMalformedPayloads(t *testing.T) {
	sink := &recordingSink{}
	channel := New("http://unused", nil, nil, sink, DefaultBackoff(), testLogger(), nil)

	channel.dispatch(context.Background(), frame{name: "notification", data: []byte("{not json")})
	channel.dispatch(context.Background(), frame{name: "notification", data: []byte(`{"type":"x"}`)})
	channel.dispatch(context.Background(), frame{name: "unread_count", data: []byte(`{"count":"NaN"}`)})
	channel.dispatch(context.Background(), frame{name: "unread_count", data: []byte(`{}`)})

	items, counts := sink.snapshot()
	require.Empty(t, items)
	require.Empty(t, counts)

	channel.dispatch(context.Background(), frame{name: "unread_count", data: []byte(`{"count":7}`)})
	_, counts = sink.snapshot()
	require.Equal(t, []int{7}, counts)
}

func TestChannelDeliversEventsToSink(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "event: connected\ndata: {}\n\n")
		_, _ = io.WriteString(w, "event: notification\ndata: {\"id\":\"n1\",\"type\":\"signup\",\"title\":\"New user\"}\n\n")
		_, _ = io.WriteString(w, "event: unread_count\ndata: {\"count\":4}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	sink := &recordingSink{}
	channel := New(server.URL, server.Client(), auth.Static("tok", "admin"), sink, fastBackoff(), testLogger(), nil)
	require.NoError(t, channel.Connect(context.Background()))
	defer channel.Disconnect()

	require.Eventually(t, func() bool {
		items, counts := sink.snapshot()
		return len(items) == 1 && len(counts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	items, counts := sink.snapshot()
	require.Equal(t, "n1", items[0].ID)
	require.Equal(t, []int{4}, counts)
	require.Equal(t, StateOpen, channel.State())
}

func TestChannelReconnectsAfterTransportError(t *testing.T) {
	var mu sync.Mutex
	connections := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		if n == 1 {
			// First connection dies immediately.
			return
		}
		_, _ = io.WriteString(w, "event: connected\ndata: {}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	channel := New(server.URL, server.Client(), nil, &recordingSink{}, fastBackoff(), testLogger(), nil)
	require.NoError(t, channel.Connect(context.Background()))
	defer channel.Disconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connections >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return channel.State() == StateOpen
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Die immediately so the channel parks in reconnecting.
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	channel := New(server.URL, server.Client(), nil, &recordingSink{}, Backoff{Initial: time.Hour, Max: time.Hour, Factor: 1}, testLogger(), nil)
	require.NoError(t, channel.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return channel.State() == StateReconnecting
	}, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		channel.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect must cancel the pending reconnect timer promptly")
	}
	require.Equal(t, StateClosed, channel.State())
}

func TestConnectWithoutSessionStaysClosed(t *testing.T) {
	channel := New("http://unused", nil, auth.Static("", ""), &recordingSink{}, DefaultBackoff(), testLogger(), nil)
	require.NoError(t, channel.Connect(context.Background()))
	require.Equal(t, StateClosed, channel.State())
	channel.Disconnect()
}

func TestBackoffConstantWhenFactorOne(t *testing.T) {
	b := Backoff{Initial: 5 * time.Second, Max: 5 * time.Second, Factor: 1}
	for attempt := 1; attempt <= 5; attempt++ {
		require.Equal(t, 5*time.Second, b.Delay(attempt))
	}
}

func TestBackoffGrowsToCap(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 4 * time.Second, Factor: 2}
	require.Equal(t, time.Second, b.Delay(1))
	require.Equal(t, 2*time.Second, b.Delay(2))
	require.Equal(t, 4*time.Second, b.Delay(3))
	require.Equal(t, 4*time.Second, b.Delay(10))
}
