package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/nexuswal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLogger(t *testing.T) {
	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nexuswal.log")
		logger, closer, err := createLogger(config.LoggingConfig{Level: "WARN", Output: "file", File: path})
		require.NoError(t, err)
		require.NotNil(t, closer)
		assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))

		logger.Warn("disk almost full", "free_bytes", 42)
		require.NoError(t, closer.Close())
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"disk almost full"`)
	})

	t.Run("discard", func(t *testing.T) {
		logger, closer, err := createLogger(config.LoggingConfig{Level: "debug", Output: "none"})
		require.NoError(t, err)
		assert.Nil(t, closer)
		assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	})

	for name, cfg := range map[string]config.LoggingConfig{
		"bad level":    {Level: "loud", Output: "stdout"},
		"bad output":   {Level: "info", Output: "syslog"},
		"missing file": {Level: "info", Output: "file"},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := createLogger(cfg)
			assert.Error(t, err)
		})
	}
}

func TestInitTracerProvider(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tp, cleanup, err := initTracerProvider(config.TracingConfig{Enabled: false}, logger)
	require.NoError(t, err)
	require.NotNil(t, tp)
	cleanup()

	_, _, err = initTracerProvider(config.TracingConfig{Enabled: true, Protocol: "carrier-pigeon"}, logger)
	assert.Error(t, err)
}
