package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBrokerURL        = "ws://localhost:8080/ws"
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHeartbeat        = 10 * time.Second
	DefaultChannel          = "quotes"
	DefaultThrottleInterval = time.Second
	DefaultFlagTTL          = 300 * time.Millisecond
	DefaultBackend          = BackendRedis
	DefaultRedisAddr        = "localhost:6379"
	DefaultConsoleURL       = "http://localhost:8080"
	DefaultConsoleTimeout   = 10 * time.Second
	DefaultConsoleRetries   = 3
	DefaultCacheSize        = 4096
	DefaultLogLevel         = "info"
)

func (c *Config) applyDefaults() {
	if c.Broker.URL == "" {
		c.Broker.URL = DefaultBrokerURL
	}
	if c.Broker.ReconnectDelay == 0 {
		c.Broker.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Broker.Heartbeat == 0 {
		c.Broker.Heartbeat = DefaultHeartbeat
	}

	if c.Board.Channel == "" {
		c.Board.Channel = DefaultChannel
	}
	if c.Board.ThrottleInterval == 0 {
		c.Board.ThrottleInterval = DefaultThrottleInterval
	}
	if c.Board.FlagTTL == 0 {
		c.Board.FlagTTL = DefaultFlagTTL
	}

	if c.Watchlist.Backend == "" {
		c.Watchlist.Backend = DefaultBackend
	}
	if c.Watchlist.Redis.Addr == "" {
		c.Watchlist.Redis.Addr = DefaultRedisAddr
	}
	if c.Watchlist.Console.URL == "" {
		c.Watchlist.Console.URL = DefaultConsoleURL
	}
	if c.Watchlist.Console.Timeout == 0 {
		c.Watchlist.Console.Timeout = DefaultConsoleTimeout
	}
	if c.Watchlist.Console.RetryLimit == 0 {
		c.Watchlist.Console.RetryLimit = DefaultConsoleRetries
	}
	if c.Watchlist.Console.CacheSize == 0 {
		c.Watchlist.Console.CacheSize = DefaultCacheSize
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
