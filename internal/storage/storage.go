// Package storage opens the agent's durable store (outbox items, call
// outcomes, call-record mirror). The backend is config-selected: sqlite for
// on-device deployments, postgres for gateway deployments.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"callagent/internal/config"
	"callagent/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps database/sql with the placeholder dialect of its backend.
type DB struct {
	*sql.DB
	backend string
}

func Open(ctx context.Context, cfg config.StorageConfig) (*DB, error) {
	switch cfg.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
		db, err := utils.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return migrate(ctx, &DB{DB: db, backend: cfg.Backend})
	case "postgres":
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.DSN, utils.PoolConfig{})
		if err != nil {
			return nil, err
		}
		return migrate(ctx, &DB{DB: db, backend: cfg.Backend})
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// OpenMemory returns an in-memory sqlite store for tests.
func OpenMemory(ctx context.Context) (*DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return migrate(ctx, &DB{DB: db, backend: "sqlite"})
}

// Rebind converts ? placeholders to the backend's dialect.
func (d *DB) Rebind(query string) string {
	if d.backend != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatTime renders t in the store's sortable UTC layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS outbox_items (
		id            TEXT PRIMARY KEY,
		kind          TEXT NOT NULL,
		endpoint      TEXT NOT NULL,
		payload       TEXT NOT NULL,
		enqueued_at   TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_kind_enqueued ON outbox_items (kind, enqueued_at)`,
	`CREATE TABLE IF NOT EXISTS call_outcomes (
		id               TEXT PRIMARY KEY,
		status           TEXT NOT NULL,
		direction        TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER,
		started_at       TEXT NOT NULL,
		ended_at         TEXT NOT NULL DEFAULT '',
		resolve_method   TEXT NOT NULL,
		resolve_reason   TEXT NOT NULL DEFAULT '',
		attempts_count   INTEGER NOT NULL DEFAULT 0,
		sent_to_server   INTEGER NOT NULL DEFAULT 0,
		sent_at          TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS call_records (
		id               TEXT PRIMARY KEY,
		number           TEXT NOT NULL,
		type             TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		occurred_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_records_time ON call_records (occurred_at)`,
}

func migrate(ctx context.Context, d *DB) (*DB, error) {
	for _, stmt := range migrations {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return d, nil
}
