package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `
broker:
  url: wss://feed.example.com/ws
  login: trader
  reconnect_limit: 5
  reconnect_delay: 1500ms
board:
  user_id: u1
  stale_after: 1m
watchlist:
  backend: console
  console:
    url: https://console.example.com
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://feed.example.com/ws", cfg.Broker.URL)
	assert.Equal(t, "trader", cfg.Broker.Login)
	assert.Equal(t, 5, cfg.Broker.ReconnectLimit)
	assert.Equal(t, 1500*time.Millisecond, cfg.Broker.ReconnectDelay)
	assert.Equal(t, DefaultHeartbeat, cfg.Broker.Heartbeat)
	assert.Equal(t, "u1", cfg.Board.UserID)
	assert.Equal(t, DefaultChannel, cfg.Board.Channel)
	assert.Equal(t, DefaultThrottleInterval, cfg.Board.ThrottleInterval)
	assert.Equal(t, DefaultFlagTTL, cfg.Board.FlagTTL)
	assert.Equal(t, time.Minute, cfg.Board.StaleAfter)
	assert.Equal(t, BackendConsole, cfg.Watchlist.Backend)
	assert.Equal(t, "https://console.example.com", cfg.Watchlist.Console.URL)
	assert.Equal(t, DefaultCacheSize, cfg.Watchlist.Console.CacheSize)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BROKER_PASSCODE", "secret123")
	t.Setenv("TEST_USER", "u42")

	path := writeTempFile(t, "config.yaml", `
broker:
  passcode: ${TEST_BROKER_PASSCODE}
board:
  user_id: ${TEST_USER}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret123", cfg.Broker.Passcode)
	assert.Equal(t, "u42", cfg.Board.UserID)
	assert.Equal(t, DefaultBrokerURL, cfg.Broker.URL)
	assert.Equal(t, BackendRedis, cfg.Watchlist.Backend)
	assert.Equal(t, DefaultRedisAddr, cfg.Watchlist.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "broker: [")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config yaml")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Board: BoardConfig{UserID: "u1"}}
		cfg.applyDefaults()
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"missing user", func(c *Config) { c.Board.UserID = "" }, "board.user_id is required"},
		{"bad scheme", func(c *Config) { c.Broker.URL = "tcp://localhost:61613" }, "broker.url"},
		{"negative limit", func(c *Config) { c.Broker.ReconnectLimit = -1 }, "broker.reconnect_limit"},
		{"negative stale", func(c *Config) { c.Board.StaleAfter = -time.Second }, "board.stale_after"},
		{"unknown backend", func(c *Config) { c.Watchlist.Backend = "postgres" }, "watchlist.backend"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeTempFile(t, ".env", "TEST_DOTENV_LOGIN=from-dotenv\n")
	t.Setenv("TEST_DOTENV_LOGIN", "")
	require.NoError(t, os.Unsetenv("TEST_DOTENV_LOGIN"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-dotenv", os.Getenv("TEST_DOTENV_LOGIN"))

	// Missing files are not an error.
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
