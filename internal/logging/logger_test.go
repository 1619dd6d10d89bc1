package logging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wanderport/livesync/internal/config"
)

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		logger, err := New(config.LoggingConfig{Level: level, Format: "text"})
		require.NoError(t, err, level)
		require.NotNil(t, logger)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "verbose"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Format: "logfmt"})
	require.Error(t, err)
}
