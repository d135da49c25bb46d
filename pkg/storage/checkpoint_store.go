package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// SaveCheckpoint upserts the serialized turn state for a session.
func (s *Store) SaveCheckpoint(ctx context.Context, sessionID string, state *turn.State) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if state == nil {
		return fmt.Errorf("checkpoint state cannot be nil")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.EnsureSession(sessionID, state.UserID); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, sessionID, string(data), time.Now().UTC())
	return err
}

// LoadCheckpoint returns the last saved turn state for a session, or nil
// when no checkpoint exists.
func (s *Store) LoadCheckpoint(ctx context.Context, sessionID string) (*turn.State, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE session_id = ?`, sessionID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state turn.State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &state, nil
}

// DeleteCheckpoint removes the checkpoint for a session.
func (s *Store) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	return err
}
