// Package store persists the engine's durable state in SQLite: the rule
// sets, parked approvals, and the delayed-action queue. A single file
// database is enough for per-user triage volume; WAL keeps the poller and
// the pipeline from blocking each other.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore backs the rule, approval, and schedule surfaces with one
// SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at dbPath, enables WAL mode, and
// applies any pending schema migrations.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS rules (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				name TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				run_on_threads INTEGER NOT NULL DEFAULT 0,
				operator TEXT NOT NULL DEFAULT '',
				conditions TEXT NOT NULL,
				actions TEXT NOT NULL,
				system_type TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 1,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (account_id, name)
			);
			CREATE INDEX IF NOT EXISTS idx_rules_account ON rules(account_id);

			CREATE TABLE IF NOT EXISTS approvals (
				id TEXT PRIMARY KEY,
				action TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				created_at TIMESTAMP NOT NULL,
				decided_at TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);

			CREATE TABLE IF NOT EXISTS scheduled_actions (
				id TEXT PRIMARY KEY,
				action TEXT NOT NULL,
				run_at TIMESTAMP NOT NULL,
				done INTEGER NOT NULL DEFAULT 0,
				exec_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL,
				done_at TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_scheduled_due ON scheduled_actions(done, run_at);

			INSERT INTO schema_version (version) VALUES (1);
		`,
	},
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
