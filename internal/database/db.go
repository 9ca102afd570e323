package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"salonbook/internal/models"
)

// DB wraps sql.DB for the booking store.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB opens database at path and runs migrations. Every transaction is
// started with BEGIN IMMEDIATE, so writers serialise on the database lock
// before they read the day they are about to change.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	l := logger.With().Str("component", "sqlite").Logger()
	l.Info().Str("path", path).Msg("database ready")
	return &DB{DB: db, path: path, logger: &l}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			work_start TEXT NOT NULL DEFAULT '',
			work_end TEXT NOT NULL DEFAULT '',
			cities TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		)`,

		// A row with an empty name holds the category default price.
		`CREATE TABLE IF NOT EXISTS services (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			category TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			default_price REAL,
			color TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			gender TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			client_id TEXT NOT NULL REFERENCES clients(id),
			service_id TEXT REFERENCES services(id) ON DELETE SET NULL,
			category TEXT NOT NULL,
			date TEXT NOT NULL,
			start_min INTEGER NOT NULL,
			end_min INTEGER NOT NULL,
			price REAL,
			note TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'scheduled',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			CHECK (start_min >= 0 AND start_min < end_min AND end_min < 1440),
			CHECK (status IN ('scheduled', 'attended', 'no_show'))
		)`,

		`CREATE INDEX IF NOT EXISTS idx_appointments_day ON appointments(workspace_id, date, start_min)`,
		`CREATE INDEX IF NOT EXISTS idx_services_category ON services(workspace_id, category)`,
		`CREATE INDEX IF NOT EXISTS idx_clients_workspace ON clients(workspace_id, name)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
