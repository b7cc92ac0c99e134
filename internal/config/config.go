// Package config loads recetario settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, a .env
// file, RECETARIO_* environment variables, and finally command-line
// flags (applied by the cli package).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/recetario/internal/kvstore"
)

// Config is the full configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store"`
	Service      ServiceConfig      `yaml:"service"`
	Identity     IdentityConfig     `yaml:"identity"`
	Sync         SyncConfig         `yaml:"sync"`
	Reachability ReachabilityConfig `yaml:"reachability"`
	Serve        ServeConfig        `yaml:"serve"`
}

// StoreConfig selects the durable key-value backend.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
}

// ServiceConfig points at the recipe service.
type ServiceConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int           `yaml:"burst"`
}

// IdentityConfig supplies the signed-in user. A token takes precedence
// over a plain user id.
type IdentityConfig struct {
	UserID string `yaml:"user_id"`
	Token  string `yaml:"token"`
	Secret string `yaml:"secret"` // verifies Token when set
}

// SyncConfig tunes the reconciliation loop.
type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 = retry forever
}

// ReachabilityConfig configures the connectivity probe. An empty URL
// probes the service base URL.
type ReachabilityConfig struct {
	ProbeURL string        `yaml:"probe_url"`
	Interval time.Duration `yaml:"interval"`
	Disabled bool          `yaml:"disabled"` // assume always online
}

// ServeConfig configures `recetario serve`.
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver: kvstore.DriverSQLite,
			Path:   "recetario.db",
			Prefix: "recetario:",
		},
		Service: ServiceConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 15 * time.Second,
			Burst:   1,
		},
		Sync: SyncConfig{
			Interval:    3 * time.Second,
			MaxAttempts: 20,
		},
		Reachability: ReachabilityConfig{
			Interval: 10 * time.Second,
		},
		Serve: ServeConfig{
			Addr: ":8080",
		},
	}
}

// Load builds the configuration from path (optional), dotenv (optional)
// and the environment.
func Load(path, dotenv string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if dotenv != "" {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", dotenv, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyEnv overlays RECETARIO_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	str("RECETARIO_STORE_DRIVER", &c.Store.Driver)
	str("RECETARIO_DB", &c.Store.Path)
	str("RECETARIO_REDIS_ADDR", &c.Store.RedisAddr)
	str("RECETARIO_REDIS_PASSWORD", &c.Store.RedisPassword)
	str("RECETARIO_SERVICE_URL", &c.Service.BaseURL)
	str("RECETARIO_USER_ID", &c.Identity.UserID)
	str("RECETARIO_TOKEN", &c.Identity.Token)
	str("RECETARIO_JWT_SECRET", &c.Identity.Secret)
	str("RECETARIO_PROBE_URL", &c.Reachability.ProbeURL)
	str("RECETARIO_ADDR", &c.Serve.Addr)

	if v, ok := lookup("RECETARIO_SYNC_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RECETARIO_SYNC_INTERVAL: %w", err)
		}
		c.Sync.Interval = d
	}
	if v, ok := lookup("RECETARIO_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RECETARIO_MAX_ATTEMPTS: %w", err)
		}
		c.Sync.MaxAttempts = n
	}
	if v, ok := lookup("RECETARIO_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RECETARIO_REDIS_DB: %w", err)
		}
		c.Store.RedisDB = n
	}
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case kvstore.DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case kvstore.DriverRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis driver")
		}
	case kvstore.DriverMemory:
	default:
		return fmt.Errorf("store.driver %q is not one of sqlite, redis, memory", c.Store.Driver)
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.MaxAttempts < 0 {
		return fmt.Errorf("sync.max_attempts must be >= 0, got %d", c.Sync.MaxAttempts)
	}
	if c.Service.RateLimit < 0 {
		return fmt.Errorf("service.rate_limit must be >= 0")
	}
	if c.Reachability.Interval <= 0 {
		return fmt.Errorf("reachability.interval must be positive")
	}
	return nil
}

// KVStore converts the store section for kvstore.Open.
func (c Config) KVStore() kvstore.Config {
	return kvstore.Config{
		Driver:        c.Store.Driver,
		Path:          c.Store.Path,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		Prefix:        c.Store.Prefix,
	}
}
