package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Config keys used by the launcher.
const (
	KeyJavaPath = "javaPath"
)

// DB is the SQLite-backed key-value configuration and log store.
type DB struct {
	db *sqlx.DB
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS config (
		key   TEXT NOT NULL PRIMARY KEY,
		value TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		category  TEXT NOT NULL,
		type      TEXT NOT NULL,
		message   TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS logs_category_idx ON logs (category, timestamp)`,
}

// OpenDB opens (creating if needed) the database at path and applies migrations.
func OpenDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate db: %w", err)
		}
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Config returns the value stored under key, or "" when unset.
func (d *DB) Config(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := d.db.GetContext(ctx, &value, "SELECT value FROM config WHERE key = ? LIMIT 1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value.String, nil
}

// SetConfig stores value under key. An empty value removes the key.
func (d *DB) SetConfig(ctx context.Context, key, value string) error {
	var err error
	if value == "" {
		_, err = d.db.ExecContext(ctx, "DELETE FROM config WHERE key = ?", key)
	} else {
		_, err = d.db.ExecContext(ctx, "INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)", key, value)
	}
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// LogEntry is one persisted log line.
type LogEntry struct {
	ID        int64     `db:"id" json:"id"`
	Category  string    `db:"category" json:"category"`
	Type      string    `db:"type" json:"type"`
	Message   string    `db:"message" json:"message"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// LogPage is a page of log entries plus the category total.
type LogPage struct {
	Count  int        `json:"count"`
	Values []LogEntry `json:"values"`
}

// WriteLog appends a log line under category.
func (d *DB) WriteLog(ctx context.Context, category, typ, message string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO logs (category, type, message, timestamp) VALUES (?, ?, ?, ?)",
		category, typ, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// Logs returns the newest entries of category, newest first.
func (d *DB) Logs(ctx context.Context, category string, take, skip int) (LogPage, error) {
	if take <= 0 {
		take = 100
	}
	var page LogPage
	if err := d.db.GetContext(ctx, &page.Count, "SELECT count(*) FROM logs WHERE category = ?", category); err != nil {
		return LogPage{}, fmt.Errorf("count logs: %w", err)
	}
	page.Values = []LogEntry{}
	err := d.db.SelectContext(ctx, &page.Values,
		"SELECT id, category, type, message, timestamp FROM logs WHERE category = ? ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?",
		category, take, skip)
	if err != nil {
		return LogPage{}, fmt.Errorf("select logs: %w", err)
	}
	return page, nil
}

// RemoveLogs deletes every entry of category.
func (d *DB) RemoveLogs(ctx context.Context, category string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM logs WHERE category = ?", category); err != nil {
		return fmt.Errorf("remove logs: %w", err)
	}
	return nil
}
