package storage

import (
	"time"

	"github.com/adpilot-ai/adpilot/pkg/conversation"
)

// AppendMessages writes messages to the append-only log and bumps the
// session message count in a single transaction.
func (s *Store) AppendMessages(sessionID string, messages []conversation.Message) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (session_id, role, content, tokens, is_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, msg := range messages {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.Exec(sessionID, msg.Role, msg.Content, msg.Tokens, msg.IsSummary, ts); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET message_count = message_count + ?, last_active = ?
		WHERE session_id = ?
	`, len(messages), time.Now().UTC(), sessionID); err != nil {
		return err
	}

	return tx.Commit()
}

// ListMessages returns the raw message log for a session in insertion order.
// A limit of 0 returns everything.
func (s *Store) ListMessages(sessionID string, limit int) ([]conversation.Message, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT role, content, tokens, is_summary, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY id
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []conversation.Message
	for rows.Next() {
		var msg conversation.Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Tokens, &msg.IsSummary, &msg.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of logged messages for a session.
func (s *Store) CountMessages(sessionID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreClosed
	}
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}
