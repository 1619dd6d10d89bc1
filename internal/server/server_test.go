package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wanderport/livesync/internal/config"
)

func TestNewRequiresHandler(t *testing.T) {
	_, err := New(config.DefaultConfig(), slog.New(slog.DiscardHandler), nil)
	require.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Listen.Address = "127.0.0.1"
	cfg.Server.Listen.Port = 0

	srv, err := New(cfg, slog.New(slog.DiscardHandler), http.NewServeMux())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
