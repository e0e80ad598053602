// Package sqlite is the embedded single-node store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store implements the engine's event, streak and history stores on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and runs migrations.
// ":memory:" yields a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_activities (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			date TEXT NOT NULL,
			start_minute INTEGER NOT NULL CHECK (start_minute BETWEEN 0 AND 1439),
			duration_min INTEGER NOT NULL CHECK (duration_min > 0),
			activity_type TEXT NOT NULL,
			ref_id TEXT,
			completed INTEGER NOT NULL DEFAULT 0,
			reminder_lead_minutes INTEGER,
			notes TEXT NOT NULL DEFAULT '',
			recurrence_rule TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_owner_date ON scheduled_activities(owner_id, date, start_minute)`,

		`CREATE TABLE IF NOT EXISTS streak_records (
			owner_id TEXT PRIMARY KEY,
			current_streak INTEGER NOT NULL DEFAULT 0,
			longest_streak INTEGER NOT NULL DEFAULT 0,
			total_workouts INTEGER NOT NULL DEFAULT 0,
			last_workout_date TEXT,
			streak_start_date TEXT,
			weekly_goal INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS completion_history (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			activity_id TEXT NOT NULL,
			activity_type TEXT NOT NULL,
			ref_id TEXT,
			title TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			duration_min INTEGER NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			rating INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_owner_completed ON completion_history(owner_id, completed_at DESC, id DESC)`,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
