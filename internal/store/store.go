package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store provides SQLite persistence for browser sessions and chat
// transcripts. It holds no marketplace data; that lives behind the API.
type Store struct {
	db     *sql.DB
	sealer *sealer
}

// New opens the database, applies pending migrations and derives the
// token sealing key from secret.
func New(dbPath, secret string) (*Store, error) {
	if secret == "" {
		return nil, errors.New("store: empty session secret")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	sl, err := newSealer(secret)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, sealer: sl}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}
