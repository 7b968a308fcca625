// Package config loads chatlog_audit settings from defaults, an optional
// YAML file and CHATLOG_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config is the full application configuration.
type Config struct {
	Oracle OracleConfig `koanf:"oracle"`
	Store  StoreConfig  `koanf:"store"`
	Cache  CacheConfig  `koanf:"cache"`
	Server ServerConfig `koanf:"server"`
	Log    LogConfig    `koanf:"log"`
	Ingest IngestConfig `koanf:"ingest"`
}

// OracleConfig configures the chat-completions oracle. An empty APIKey
// means turns are scored with the missing-credential fallback.
type OracleConfig struct {
	APIKey        Secret        `koanf:"api_key"`
	BaseURL       string        `koanf:"base_url"`
	Model         string        `koanf:"model"`
	Temperature   float64       `koanf:"temperature"`
	Timeout       time.Duration `koanf:"timeout"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
}

// StoreConfig selects the comparison record store.
type StoreConfig struct {
	Driver          string `koanf:"driver"`
	SQLitePath      string `koanf:"sqlite_path"`
	MongoURI        Secret `koanf:"mongo_uri"`
	MongoDatabase   string `koanf:"mongo_database"`
	MongoCollection string `koanf:"mongo_collection"`
}

// CacheConfig configures the Redis population snapshot. An empty RedisAddr
// disables the cache.
type CacheConfig struct {
	RedisAddr string        `koanf:"redis_addr"`
	TTL       time.Duration `koanf:"ttl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPAddr        string        `koanf:"http_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// IngestConfig holds the data-sufficiency rule of the ingestion boundary.
type IngestConfig struct {
	MinSources int `koanf:"min_sources"`
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case DriverMongo:
		if !c.Store.MongoURI.IsSet() {
			return errors.New("store.mongo_uri is required for the mongo driver")
		}
		if strings.TrimSpace(c.Store.MongoDatabase) == "" {
			return errors.New("store.mongo_database is required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (want %s or %s)", c.Store.Driver, DriverSQLite, DriverMongo)
	}

	if c.Oracle.Timeout < 0 {
		return errors.New("oracle.timeout must not be negative")
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		return fmt.Errorf("oracle.temperature %v out of range [0, 2]", c.Oracle.Temperature)
	}
	if c.Oracle.RatePerSecond < 0 || c.Oracle.Burst < 0 {
		return errors.New("oracle.rate_per_second and oracle.burst must not be negative")
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must not be negative")
	}
	if c.Ingest.MinSources < 1 {
		return fmt.Errorf("ingest.min_sources must be at least 1, got %d", c.Ingest.MinSources)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// Secret wraps strings that must not appear in logs or serialized config.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString keeps %#v from printing the value.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the actual secret value.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret is non-empty after trimming.
func (s Secret) IsSet() bool {
	return strings.TrimSpace(string(s)) != ""
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
