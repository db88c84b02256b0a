package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// ChatMessage is one stored line of a chat assistant transcript.
type ChatMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	IsHTML    bool
	CreatedAt time.Time
}

// AppendChatMessage adds a message to the end of a session's transcript.
func (s *Store) AppendChatMessage(ctx context.Context, m *ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	isHTML := 0
	if m.IsHTML {
		isHTML = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, seq, role, content, is_html, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_messages WHERE session_id = ?), ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.SessionID, m.Role, m.Content, isHTML, m.CreatedAt.Unix(),
	)
	return err
}

// ChatMessages returns the last limit messages of a transcript, oldest
// first. limit <= 0 returns everything.
func (s *Store) ChatMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, is_html, created_at FROM (
			SELECT id, seq, role, content, is_html, created_at FROM chat_messages
			WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var (
			m       = ChatMessage{SessionID: sessionID}
			isHTML  int
			created int64
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &isHTML, &created); err != nil {
			return nil, err
		}
		m.IsHTML = isHTML != 0
		m.CreatedAt = time.Unix(created, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}
