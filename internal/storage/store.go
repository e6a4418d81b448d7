// Package storage persists plan state as JSON values in named collections:
// stored scene picks, geo variables, anything an action wants to survive a
// restart.
//
// Drivers:
//   - "memory": process-local, lost on exit (the default)
//   - "file":   snapshot + append-only journal, dependency-free
//   - "sqlite": single-file SQLite database
package storage

import (
	"context"
	"errors"
	"strings"

	"hueplan/pkg/logx"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("storage: key not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: closed")
)

// Config selects and locates a driver.
type Config struct {
	Driver string
	Path   string
}

// Collection is a named key-value namespace. Values are JSON-marshaled on
// Set and unmarshaled into out on Get.
type Collection interface {
	Set(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, out any) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// Store hands out collections, creating them on first use.
type Store interface {
	Collection(ctx context.Context, name string) (Collection, error)
	// Flush drops every collection.
	Flush(ctx context.Context) error
	Close() error
}

// Open initializes the configured store. An empty driver falls back to
// memory so plan actions always have somewhere to write.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
