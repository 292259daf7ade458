// ABOUTME: Tests for the coven-inbox command: config resolution, logging and the full demo run
// ABOUTME: The demo test exercises every inbox flow against a real websocket backend

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/config"
)

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, source, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "(defaults)", source)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfig_ExplicitMissingFileFails(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestLoadConfig_FromXDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "coven"), 0755))
	path := filepath.Join(xdg, "coven", "inbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_addr: \"127.0.0.1:9999\"\n"), 0644))

	cfg, source, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, path, source)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.HTTPAddr)
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.With("component", "test").Debug("hello", "n", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "test", rec["component"])
}

func TestNewLogger_TextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)
	logger.Info("quiet")
	logger.With("component", "test").WithGroup("g").Warn("loud", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "WRN loud")
	assert.Contains(t, out, "component=test")
	assert.Contains(t, out, "g.k=v")
}

func TestNewLogger_TextGroupsQualifyHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	logger.With("top", 1).WithGroup("req").With("id", "r1").WithGroup("db").Info("query", "rows", 3)

	out := buf.String()
	assert.Contains(t, out, "top=1")
	assert.NotContains(t, out, "req.top=")
	assert.Contains(t, out, "req.id=r1")
	assert.NotContains(t, out, "req.db.id=")
	assert.Contains(t, out, "req.db.rows=3")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestDemo_AllChecksPass(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a websocket backend")
	}
	cfg := config.Default()
	demoConfig(cfg)
	cfg.Channel.ReconnectInterval = 20 * time.Millisecond
	cfg.Channel.MaxReconnectInterval = 100 * time.Millisecond

	var out bytes.Buffer
	d, err := newDemo(t.Context(), cfg, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer d.Close()

	err = d.Run(t.Context())
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "All checks passed.")
	assert.NotContains(t, out.String(), "✗")
	assert.Contains(t, out.String(), "Accepting a request")
}
