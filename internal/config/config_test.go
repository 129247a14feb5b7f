// ABOUTME: Tests for configuration loading.
// ABOUTME: Covers env expansion, duration parsing, defaults, and validation.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: http://backend:9000
  ws_url: ws://backend:9000/ws
user:
  id: user-7
chat:
  theme: coding_programming
  audience: professionals
  response_style: comprehensive
  history_bound: 20
connection:
  heartbeat_interval: 15s
  reconnect_delay: 2s
  connect_timeout: 5s
  max_reconnects: 3
timeouts:
  quick: 10s
  enhanced: 90s
archive:
  path: /tmp/test-archive.db
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.Server.BaseURL)
	assert.Equal(t, "ws://backend:9000/ws", cfg.Server.WSURL)
	assert.Equal(t, "user-7", cfg.User.ID)
	assert.Equal(t, "coding_programming", cfg.Chat.Theme)
	assert.Equal(t, 20, cfg.Chat.HistoryBound)
	assert.Equal(t, 15*time.Second, cfg.Connection.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.Connection.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.Connection.ConnectTimeout)
	assert.Equal(t, 3, cfg.Connection.MaxReconnects)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Quick)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Enhanced)
	assert.Equal(t, "/tmp/test-archive.db", cfg.Archive.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: http://backend:9000
  ws_url: ws://backend:9000/ws
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Connection.HeartbeatInterval, cfg.Connection.HeartbeatInterval)
	assert.Equal(t, def.Connection.MaxReconnects, cfg.Connection.MaxReconnects)
	assert.Equal(t, def.Timeouts.Quick, cfg.Timeouts.Quick)
	assert.Equal(t, def.Timeouts.Enhanced, cfg.Timeouts.Enhanced)
	assert.Equal(t, def.Chat.ResponseStyle, cfg.Chat.ResponseStyle)
	assert.Equal(t, def.Archive.Path, cfg.Archive.Path)
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BACKEND_HOST", "example.com")

	path := writeConfig(t, `
server:
  base_url: http://${TEST_BACKEND_HOST}:8000
  ws_url: ws://${TEST_BACKEND_HOST}:8000/ws
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:8000", cfg.Server.BaseURL)
	assert.Equal(t, "ws://example.com:8000/ws", cfg.Server.WSURL)
}

func TestUnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: http://host${TERMCHAT_TEST_UNSET_VAR}:8000
  ws_url: ws://host:8000/ws
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://host:8000", cfg.Server.BaseURL)
}

func TestInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: http://host:8000
  ws_url: ws://host:8000/ws
connection:
  heartbeat_interval: soon
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "heartbeat_interval")
}

func TestValidation(t *testing.T) {
	t.Run("rejects unknown theme", func(t *testing.T) {
		path := writeConfig(t, `
server:
  base_url: http://host:8000
  ws_url: ws://host:8000/ws
chat:
  theme: astrology
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "theme")
	})

	t.Run("rejects unknown audience", func(t *testing.T) {
		path := writeConfig(t, `
server:
  base_url: http://host:8000
  ws_url: ws://host:8000/ws
chat:
  audience: nobody
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "audience")
	})

	t.Run("rejects negative history bound", func(t *testing.T) {
		path := writeConfig(t, `
server:
  base_url: http://host:8000
  ws_url: ws://host:8000/ws
chat:
  history_bound: -1
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "history_bound")
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
