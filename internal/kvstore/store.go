package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Store persists JSON documents under string keys.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the document stored under key.
	// found is false (and err nil) when the key has never been set.
	Get(ctx context.Context, key string) (value json.RawMessage, found bool, err error)

	// Set replaces the document stored under key.
	Set(ctx context.Context, key string, value json.RawMessage) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	Close() error
}

// ErrInvalidJSON is returned by Set when the value is not a JSON document.
var ErrInvalidJSON = errors.New("kvstore: value is not valid JSON")

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Driver string

	// Path is the SQLite database file (DriverSQLite).
	Path string

	// Redis connection (DriverRedis).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Prefix namespaces keys in shared backends.
	Prefix string
}

// Open creates the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("kvstore: sqlite driver requires a path")
		}
		return OpenSQLite(cfg.Path)
	case DriverRedis:
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Prefix)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("kvstore: unknown driver %q", cfg.Driver)
	}
}

func checkJSON(key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("set %q: %w", key, ErrInvalidJSON)
	}
	return nil
}
