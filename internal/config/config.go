// Package config provides Viper-based configuration loading for the coinroll server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// ServerConfig holds WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// WSPath is the route that upgrades to a WebSocket.
	WSPath string `mapstructure:"ws_path"`
	// ReadLimit is the maximum inbound frame size in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
	// WriteTimeout bounds each outbound frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is how often the server pings an idle client. Must be less than PongWait.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// PongWait is how long the server waits for any inbound traffic before dropping the client.
	PongWait time.Duration `mapstructure:"pong_wait"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds store backend settings.
type DatabaseConfig struct {
	// Driver selects the backend: "postgres", "sqlite", or "memory".
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `mapstructure:"sqlite_path"`
	// MigrateOnStart applies pending schema migrations before serving.
	MigrateOnStart bool `mapstructure:"migrate_on_start"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// SessionConfig holds new-player and player-id settings.
type SessionConfig struct {
	StartingCoins int `mapstructure:"starting_coins"`
	StartingRolls int `mapstructure:"starting_rolls"`
	// IDStrategy is "device", "uuid", or "hash".
	IDStrategy string `mapstructure:"id_strategy"`
	// IDSecret keys the "hash" strategy.
	IDSecret string `mapstructure:"id_secret"`
}

// LockConfig holds per-player lock settings.
type LockConfig struct {
	// Backend is "local" or "redis".
	Backend       string        `mapstructure:"backend"`
	RedisURL      string        `mapstructure:"redis_url"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// RateLimitConfig bounds inbound frames per connection.
type RateLimitConfig struct {
	// FramesPerSecond is the sustained rate. Zero disables limiting.
	FramesPerSecond float64 `mapstructure:"frames_per_second"`
	// Burst is the bucket size.
	Burst int `mapstructure:"burst"`
}

// Enabled reports whether rate limiting is on.
func (r RateLimitConfig) Enabled() bool { return r.FramesPerSecond > 0 }

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Session   SessionConfig   `mapstructure:"session"`
	Lock      LockConfig      `mapstructure:"lock"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateServer(c.Server),
		validateDatabase(c.Database),
		validateSession(c.Session),
		validateLock(c.Lock),
		validateRateLimit(c.RateLimit),
		validateLogging(c.Logging),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func joined(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 0-65535, got %d", s.Port))
	}
	if !strings.HasPrefix(s.WSPath, "/") {
		errs = append(errs, fmt.Sprintf("server.ws_path must start with '/', got %q", s.WSPath))
	}
	if s.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("server.read_limit must be >= 1, got %d", s.ReadLimit))
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout must not be negative")
	}
	if s.PingInterval < 0 || s.PongWait < 0 {
		errs = append(errs, "server.ping_interval and server.pong_wait must not be negative")
	}
	if s.PongWait > 0 && s.PingInterval >= s.PongWait {
		errs = append(errs, "server.ping_interval must be less than server.pong_wait")
	}
	return joined(errs)
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	switch d.Driver {
	case DriverPostgres:
		if d.Host == "" {
			errs = append(errs, "database.host must not be empty")
		}
		if d.Port < 1 || d.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
		}
		if d.User == "" {
			errs = append(errs, "database.user must not be empty")
		}
		if d.Name == "" {
			errs = append(errs, "database.name must not be empty")
		}
		validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
		if !validSSL[d.SSLMode] {
			errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
		}
		if d.MaxConns < 1 {
			errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
		}
		if d.MinConns < 0 {
			errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
		}
		if d.MinConns > d.MaxConns {
			errs = append(errs, "database.min_conns must not exceed database.max_conns")
		}
	case DriverSQLite:
		if d.SQLitePath == "" {
			errs = append(errs, "database.sqlite_path must not be empty")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be one of [postgres, sqlite, memory], got %q", d.Driver))
	}
	return joined(errs)
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.StartingCoins < 0 {
		errs = append(errs, fmt.Sprintf("session.starting_coins must be >= 0, got %d", s.StartingCoins))
	}
	if s.StartingRolls < 0 {
		errs = append(errs, fmt.Sprintf("session.starting_rolls must be >= 0, got %d", s.StartingRolls))
	}
	switch s.IDStrategy {
	case "device", "uuid":
	case "hash":
		if s.IDSecret == "" {
			errs = append(errs, "session.id_secret must be set when session.id_strategy is hash")
		}
		if len(s.IDSecret) > 64 {
			errs = append(errs, "session.id_secret must be at most 64 bytes")
		}
	default:
		errs = append(errs, fmt.Sprintf("session.id_strategy must be one of [device, uuid, hash], got %q", s.IDStrategy))
	}
	return joined(errs)
}

func validateLock(l LockConfig) error {
	var errs []string
	switch l.Backend {
	case LockLocal:
	case LockRedis:
		if l.RedisURL == "" {
			errs = append(errs, "lock.redis_url must not be empty when lock.backend is redis")
		}
		if l.TTL <= 0 {
			errs = append(errs, "lock.ttl must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("lock.backend must be one of [local, redis], got %q", l.Backend))
	}
	if l.RetryInterval < 0 {
		errs = append(errs, "lock.retry_interval must not be negative")
	}
	return joined(errs)
}

func validateRateLimit(r RateLimitConfig) error {
	var errs []string
	if r.FramesPerSecond < 0 {
		errs = append(errs, "ratelimit.frames_per_second must not be negative")
	}
	if r.Enabled() && r.Burst < 1 {
		errs = append(errs, fmt.Sprintf("ratelimit.burst must be >= 1 when limiting is enabled, got %d", r.Burst))
	}
	return joined(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and
// environment overrides only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and COINROLL_ environment
// overrides applied.
func NewViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with COINROLL_ prefix
	v.SetEnvPrefix("COINROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.read_limit", 4096)
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.ping_interval", "54s")
	v.SetDefault("server.pong_wait", "60s")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "coinroll")
	v.SetDefault("database.password", "coinroll")
	v.SetDefault("database.name", "coinroll")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.sqlite_path", "coinroll.db")
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("session.starting_coins", 100)
	v.SetDefault("session.starting_rolls", 10)
	v.SetDefault("session.id_strategy", "device")
	v.SetDefault("session.id_secret", "")

	v.SetDefault("lock.backend", LockLocal)
	v.SetDefault("lock.redis_url", "redis://localhost:6379/0")
	v.SetDefault("lock.prefix", "coinroll:lock:")
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("lock.retry_interval", "10ms")

	v.SetDefault("ratelimit.frames_per_second", 20)
	v.SetDefault("ratelimit.burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
