package store

import (
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all migrations
// New migrations should be appended to the end with incrementing version numbers
var migrations = []Migration{
	{
		Version:     1,
		Description: "Browser sessions",
		SQL: `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			sealed_tokens BLOB NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_email ON sessions(email);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
		`,
	},
	{
		Version:     2,
		Description: "Chat assistant transcripts",
		SQL: `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			is_html INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id, seq);
		`,
	},
}

// initMigrationsTable creates the migrations tracking table
func (s *Store) initMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getCurrentVersion returns the highest applied migration version
func (s *Store) getCurrentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate runs all pending migrations
func (s *Store) Migrate() error {
	if err := s.initMigrationsTable(); err != nil {
		return fmt.Errorf("failed to init migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// applyMigration runs a single migration in a transaction
func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrationStatus returns applied and pending migrations
func (s *Store) MigrationStatus() (applied []int, pending []int, err error) {
	if err := s.initMigrationsTable(); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	appliedSet := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied = append(applied, v)
		appliedSet[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, m := range migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m.Version)
		}
	}
	return applied, pending, nil
}
