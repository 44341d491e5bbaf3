package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Role identifies which side of the dialogue produced a message.
type Role string

const (
	// RoleHuman marks a message typed by the end user.
	RoleHuman Role = "human"
	// RoleAI marks a message generated by the assistant.
	RoleAI Role = "ai"
)

// Message is a single dialogue turn, owned by the store. Within a session,
// id order, insertion order and CreatedAt order are the same ordering; ids
// are never reused or mutated. Other packages reference messages by id only.
type Message struct {
	ID         int64
	SessionKey string
	Role       Role
	Content    string
	CreatedAt  time.Time
}

// AppendMessage appends a dialogue turn to the session's log and returns the
// stored message with its assigned id. A persistence failure propagates to
// the caller; the message is neither silently dropped nor duplicated.
func (s *Store) AppendMessage(ctx context.Context, sessionKey string, role Role, content string) (Message, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_key, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionKey, string(role), content, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("store: last insert id: %w", err)
	}

	return Message{
		ID:         id,
		SessionKey: sessionKey,
		Role:       role,
		Content:    content,
		CreatedAt:  now,
	}, nil
}

// ListMessages returns every message in the session, chronological ascending.
func (s *Store) ListMessages(ctx context.Context, sessionKey string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, role, content, created_at
		FROM messages
		WHERE session_key = ?
		ORDER BY id ASC`,
		sessionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListMessagesByID returns the session's messages restricted to the given
// ids, chronological ascending. Unknown ids are skipped silently; ids from
// other sessions never leak into the result.
func (s *Store) ListMessagesByID(ctx context.Context, sessionKey string, ids []int64) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, sessionKey)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT id, session_key, role, content, created_at
		FROM messages
		WHERE session_key = ? AND id IN (%s)
		ORDER BY id ASC`,
		strings.Join(placeholders, ", "),
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list messages by id: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ClearMessages irreversibly deletes all messages and index entries for the
// session.
func (s *Store) ClearMessages(ctx context.Context, sessionKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin clear: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_key = ?", sessionKey); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM segments WHERE session_key = ?", sessionKey); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: clear segments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit clear: %w", err)
	}
	return nil
}

// scanMessages reads all rows from a messages query.
func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var (
			m         Message
			role      string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.SessionKey, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.Role = Role(role)

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse created_at: %w", err)
		}
		m.CreatedAt = t
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}
	return messages, nil
}
