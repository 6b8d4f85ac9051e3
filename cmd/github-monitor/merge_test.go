package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomzxCode/github-monitor/internal/config"
)

func TestMonitorFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"path: /from/file\nstream: file_stream\nactive_only: false\n"), 0o644))

	cfg := config.DefaultMonitor()
	require.NoError(t, config.Load(path, &cfg))

	// File overrides defaults.
	assert.Equal(t, "/from/file", cfg.Path)
	assert.Equal(t, "file_stream", cfg.Stream)
	assert.False(t, cfg.ActiveOnly)
	// Defaults survive where the file is silent.
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.True(t, cfg.MonitorIssues)

	// A changed flag overrides the file.
	monitorPath = "/from/flag"
	monitorCmd.Flags().Set("path", "/from/flag")
	t.Cleanup(func() {
		monitorPath = ""
		monitorCmd.Flags().Lookup("path").Changed = false
	})
	applyMonitorFlags(monitorCmd, &cfg)
	assert.Equal(t, "/from/flag", cfg.Path)
	assert.Equal(t, "file_stream", cfg.Stream, "unchanged flags must not override the file")
}

func TestHandlerFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"path: /from/file\nbatch_size: 25\nskip_users: 'bot$'\n"), 0o644))

	cfg := config.DefaultHandler()
	require.NoError(t, config.Load(path, &cfg))

	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, "bot$", cfg.SkipUsers)
	assert.Equal(t, "github-event-handler", cfg.ConsumerGroup)

	handlerBatchSize = 50
	eventHandlerCmd.Flags().Set("batch-size", "50")
	t.Cleanup(func() {
		handlerBatchSize = 10
		eventHandlerCmd.Flags().Lookup("batch-size").Changed = false
	})
	applyHandlerFlags(eventHandlerCmd, &cfg)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, "/from/file", cfg.Path)
}
