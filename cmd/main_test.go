package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/latchflow/latchflow/internal/config"
	"github.com/latchflow/latchflow/internal/metrics"
	"github.com/latchflow/latchflow/internal/queue"
)

func TestBuildQueueDefaultsToMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	q, err := buildQueue(cfg, recorder, logger)
	require.NoError(t, err)
	_, ok := q.(*queue.MemoryQueue)
	require.True(t, ok)
}

func TestBuildQueueValkeyRequiresAddress(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Queue.Driver = "valkey"
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := buildQueue(cfg, recorder, logger)
	require.Error(t, err)
}

func TestBuildStorageDriverFS(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.BasePath = t.TempDir()

	driver, err := buildStorageDriver(t.Context(), cfg)
	require.NoError(t, err)
	require.Equal(t, "fs", driver.Name())
}
