package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"hueplan/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
    collection TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    PRIMARY KEY (collection, key)
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite tolerates exactly one writer well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Collection(ctx context.Context, name string) (Collection, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	return &sqliteCollection{store: s, name: name}, nil
}

func (s *sqliteStore) Flush(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv`)
	return err
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type sqliteCollection struct {
	store *sqliteStore
	name  string
}

func (c *sqliteCollection) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = c.store.db.ExecContext(ctx,
		`INSERT INTO kv(collection, key, value) VALUES(?,?,?)
		 ON CONFLICT(collection, key) DO UPDATE SET value=excluded.value`,
		c.name, key, string(b),
	)
	return err
}

func (c *sqliteCollection) Get(ctx context.Context, key string, out any) error {
	var raw string
	err := c.store.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE collection = ? AND key = ?`,
		c.name, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func (c *sqliteCollection) Delete(ctx context.Context, key string) error {
	_, err := c.store.db.ExecContext(ctx,
		`DELETE FROM kv WHERE collection = ? AND key = ?`, c.name, key)
	return err
}

func (c *sqliteCollection) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE collection = ? ORDER BY key`, c.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (c *sqliteCollection) Clear(ctx context.Context) error {
	_, err := c.store.db.ExecContext(ctx,
		`DELETE FROM kv WHERE collection = ?`, c.name)
	return err
}
