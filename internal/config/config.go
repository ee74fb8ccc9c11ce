// Package config loads the configuration of the quote board program.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Board     BoardConfig     `yaml:"board"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
	Log       LogConfig       `yaml:"log"`
}

// BrokerConfig is the STOMP broker connection.
type BrokerConfig struct {
	URL            string        `yaml:"url"`
	Login          string        `yaml:"login"`
	Passcode       string        `yaml:"passcode"`
	ReconnectLimit int           `yaml:"reconnect_limit"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
}

// BoardConfig configures the quote board of one user.
type BoardConfig struct {
	UserID             string        `yaml:"user_id"`
	Channel            string        `yaml:"channel"`
	RequestDestination string        `yaml:"request_destination"`
	ThrottleInterval   time.Duration `yaml:"throttle_interval"`
	FlagTTL            time.Duration `yaml:"flag_ttl"`
	StaleAfter         time.Duration `yaml:"stale_after"`
}

// Watchlist backends.
const (
	BackendRedis   = "redis"
	BackendConsole = "console"
)

// WatchlistConfig selects where watchlists are stored.
type WatchlistConfig struct {
	Backend string        `yaml:"backend"`
	Redis   RedisConfig   `yaml:"redis"`
	Console ConsoleConfig `yaml:"console"`
}

// RedisConfig is the Redis watchlist store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ConsoleConfig is the console REST API.
type ConsoleConfig struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryLimit int           `yaml:"retry_limit"`
	CacheSize  int           `yaml:"cache_size"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// LoadDotEnv loads environment variables from the given .env files, or from
// .env in the working directory when none are given. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Parse decodes YAML after expanding ${VAR} references to environment
// variables.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return &cfg, nil
}

// Load reads the config file at path, applies the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
