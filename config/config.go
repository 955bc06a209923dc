// Package config holds the process-level settings of chatkeep.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Backend names.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Environment variables read by the CLI flags.
const (
	EnvBackend      = "CHATKEEP_BACKEND"
	EnvDataDir      = "CHATKEEP_DATA_DIR"
	EnvInMemory     = "CHATKEEP_IN_MEMORY"
	EnvRedisURL     = "CHATKEEP_REDIS_URL"
	EnvRedisPrefix  = "CHATKEEP_REDIS_PREFIX"
	EnvRoomTable    = "CHATKEEP_ROOM_TABLE"
	EnvMessageTable = "CHATKEEP_MESSAGE_TABLE"
	EnvListenAddr   = "CHATKEEP_LISTEN_ADDR"
	EnvCORSOrigins  = "CHATKEEP_CORS_ORIGINS"
	EnvLogLevel     = "CHATKEEP_LOG_LEVEL"
)

// Config holds all configuration for the application.
type Config struct {
	Backend string

	// Badger
	DataDir  string
	InMemory bool

	// Redis
	RedisURL    string
	RedisPrefix string

	RoomTable    string
	MessageTable string

	// HTTP
	ListenAddr  string
	CORSOrigins []string

	LogLevel string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend:      BackendBadger,
		DataDir:      "chatkeep-data",
		RedisPrefix:  "chatkeep",
		RoomTable:    "room",
		MessageTable: "message",
		ListenAddr:   ":8080",
		CORSOrigins:  []string{"*"},
		LogLevel:     "info",
	}
}

// LoadDotEnv loads variables from the given .env files, or ./.env when none
// are given, without overriding variables already set. Missing files are
// not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("%w: env file: %w", ErrInvalidConfig, err)
		}
	}
	return godotenv.Load(files...)
}

// Load returns Default overridden by the CHATKEEP_* environment variables,
// after loading ./.env if present.
func Load() *Config {
	_ = LoadDotEnv()

	cfg := Default()
	cfg.Backend = getEnv(EnvBackend, cfg.Backend)
	cfg.DataDir = getEnv(EnvDataDir, cfg.DataDir)
	cfg.InMemory = getEnv(EnvInMemory, "false") == "true"
	cfg.RedisURL = getEnv(EnvRedisURL, cfg.RedisURL)
	cfg.RedisPrefix = getEnv(EnvRedisPrefix, cfg.RedisPrefix)
	cfg.RoomTable = getEnv(EnvRoomTable, cfg.RoomTable)
	cfg.MessageTable = getEnv(EnvMessageTable, cfg.MessageTable)
	cfg.ListenAddr = getEnv(EnvListenAddr, cfg.ListenAddr)
	cfg.LogLevel = getEnv(EnvLogLevel, cfg.LogLevel)
	if origins := os.Getenv(EnvCORSOrigins); origins != "" {
		cfg.CORSOrigins = SplitList(origins)
	}
	return cfg
}

// Validate checks that the configuration can be used to start the service.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendBadger:
		if !c.InMemory && c.DataDir == "" {
			return fmt.Errorf("%w: badger backend needs a data directory or in-memory mode", ErrInvalidConfig)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis backend needs a redis URL", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.RoomTable == "" || c.MessageTable == "" {
		return fmt.Errorf("%w: table names must not be empty", ErrInvalidConfig)
	}
	if c.RoomTable == c.MessageTable {
		return fmt.Errorf("%w: room and message tables must differ", ErrInvalidConfig)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		return fmt.Errorf("%w: invalid log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

// SplitList splits a comma-separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
