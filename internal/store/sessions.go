package store

import (
	"context"
	"database/sql"
	"time"
)

// Session is a browser session. Tokens holds the upstream token set as
// opaque bytes; it is sealed at rest.
type Session struct {
	ID        string
	Email     string
	Tokens    []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CreateSession creates a new session in the database
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	sealed, err := s.sealer.seal(sess.Tokens)
	if err != nil {
		return err
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, email, sealed_tokens, expires_at, created_at) VALUES (?, ?, ?, ?, ?)",
		sess.ID, sess.Email, sealed, sess.ExpiresAt.Unix(), sess.CreatedAt.Unix(),
	)
	return err
}

// GetSession retrieves a session by id, returns nil if not found or expired
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var (
		sealed             []byte
		expires, createdAt int64
	)
	sess := &Session{ID: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT email, sealed_tokens, expires_at, created_at FROM sessions WHERE id = ?",
		id,
	).Scan(&sess.Email, &sealed, &expires, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sess.ExpiresAt = time.Unix(expires, 0)
	sess.CreatedAt = time.Unix(createdAt, 0)
	if time.Now().After(sess.ExpiresAt) {
		s.DeleteSession(ctx, id)
		return nil, nil
	}

	plain, err := s.sealer.open(sealed)
	if err != nil {
		// Sealed with another secret; the session is unusable.
		s.DeleteSession(ctx, id)
		return nil, nil
	}
	sess.Tokens = plain
	return sess, nil
}

// UpdateSessionTokens replaces the token set after a refresh.
func (s *Store) UpdateSessionTokens(ctx context.Context, id string, tokens []byte) error {
	sealed, err := s.sealer.seal(tokens)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET sealed_tokens = ? WHERE id = ?", sealed, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session and its chat transcript
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chat_messages WHERE session_id = ?", id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	return err
}

// CleanupExpiredSessions removes all expired sessions and returns how many
// were dropped.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	now := time.Now().Unix()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM chat_messages WHERE session_id IN (SELECT id FROM sessions WHERE expires_at < ?)", now,
	); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
