package config

import (
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap/zapcore"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Broker.URL)
	if err != nil {
		return fmt.Errorf("broker.url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("broker.url must be a ws, wss, http or https URL, got %q", c.Broker.URL)
	}
	if c.Broker.ReconnectLimit < 0 {
		return errors.New("broker.reconnect_limit must be >= 0")
	}
	if c.Broker.ReconnectDelay < 0 {
		return errors.New("broker.reconnect_delay must be >= 0")
	}

	if c.Board.UserID == "" {
		return errors.New("board.user_id is required")
	}
	if c.Board.ThrottleInterval <= 0 {
		return errors.New("board.throttle_interval must be > 0")
	}
	if c.Board.StaleAfter < 0 {
		return errors.New("board.stale_after must be >= 0")
	}

	switch c.Watchlist.Backend {
	case BackendRedis:
		if c.Watchlist.Redis.DB < 0 {
			return errors.New("watchlist.redis.db must be >= 0")
		}
	case BackendConsole:
		if c.Watchlist.Console.CacheSize < 1 {
			return errors.New("watchlist.console.cache_size must be >= 1")
		}
	default:
		return fmt.Errorf("watchlist.backend must be %q or %q, got %q", BackendRedis, BackendConsole, c.Watchlist.Backend)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
