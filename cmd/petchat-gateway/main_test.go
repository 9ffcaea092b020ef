// ABOUTME: Tests for the gateway CLI wiring and its log handler
// ABOUTME: Exercises config resolution, probes against httptest servers and colour output

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/petchat-gateway/internal/config"
	"github.com/2389/petchat-gateway/internal/session"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, path, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "(defaults)", path)
	assert.Equal(t, config.Default().Server.ListenAddr, cfg.Server.ListenAddr)
}

func TestLoadConfig_Flag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_addr: \"127.0.0.1:9999\"\n"), 0o600))

	cfg, got, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.ListenAddr)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [\n"), 0o600))

	_, _, err := loadConfig(path)
	assert.ErrorContains(t, err, "loading config")
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestCheckHTTPHealth(t *testing.T) {
	ready := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		if !ready {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready (2 sessions)"))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, checkHTTPHealth(context.Background(), &out, srv.URL))
	assert.Equal(t, "ready (2 sessions)\n", out.String())

	ready = false
	err := checkHTTPHealth(context.Background(), &out, srv.URL)
	assert.ErrorContains(t, err, "status 503")
}

func TestListSessions(t *testing.T) {
	joined := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]session.Info{
			{Identity: "alice", JoinedAt: joined, MessageCount: 3},
			{Identity: "bob", JoinedAt: joined, MessageCount: 0},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, listSessions(context.Background(), &out, srv.URL, false))
	assert.Contains(t, out.String(), "IDENTITY")
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "bob")

	out.Reset()
	require.NoError(t, listSessions(context.Background(), &out, srv.URL, true))
	assert.Contains(t, out.String(), `"identity":"alice"`)
}

func TestListSessions_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, listSessions(context.Background(), &out, srv.URL, false))
	assert.Equal(t, "no sessions\n", out.String())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	var out bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "json"}, &out)

	logger.Debug("hidden")
	logger.Info("session joined", "session", "alice")

	var line map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "session joined", line["msg"])
	assert.Equal(t, "alice", line["session"])
}

func TestColorHandler(t *testing.T) {
	var out bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &out)

	logger.With("component", "router").WithGroup("task").Warn("retrying", "attempt", 2)
	line := out.String()

	assert.Contains(t, line, "WRN retrying")
	assert.Contains(t, line, "component=router")
	assert.Contains(t, line, "task.attempt=2")
	assert.True(t, bytes.HasSuffix(out.Bytes(), []byte("\n")))
}

func TestColorHandler_Level(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(newColorHandler(&out, slog.LevelWarn))

	logger.Info("quiet")
	assert.Empty(t, out.String())

	logger.Error("loud", "error", "boom")
	assert.Contains(t, out.String(), "ERR loud")
	assert.Contains(t, out.String(), "error=boom")
}
