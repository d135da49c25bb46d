package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Session status constants.
const (
	SessionStatusActive    = "active"
	SessionStatusSuspended = "suspended"
	SessionStatusCompleted = "completed"
)

// Session represents a conversation session persisted in SQLite.
type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActive   time.Time  `json:"lastActive"`
	MessageCount int        `json:"messageCount"`
	TotalCost    float64    `json:"totalCost"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	// Set while the session is suspended waiting for a yes/no answer.
	PauseQuestion string `json:"pauseQuestion,omitempty"`
}

// CreateSession creates a new session with retry logic for database locks.
func (s *Store) CreateSession(session *Session) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	status := strings.TrimSpace(strings.ToLower(session.Status))
	if status == "" {
		status = SessionStatusActive
	}

	query := `
		INSERT INTO sessions (session_id, user_id, status, pause_question, created_at, last_active, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var pauseQuestion any
	if q := strings.TrimSpace(session.PauseQuestion); q != "" {
		pauseQuestion = q
	}

	var completedAt any
	if session.CompletedAt != nil {
		completedAt = *session.CompletedAt
	}

	// Retry on transient SQLITE_BUSY during concurrent writes
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err = s.db.Exec(query,
			session.ID,
			session.UserID,
			status,
			pauseQuestion,
			session.CreatedAt,
			session.LastActive,
			completedAt,
		)

		if err == nil {
			return nil
		}

		if isBusyError(err) {
			if attempt < maxRetries {
				delay := baseDelay * time.Duration(1<<uint(attempt))
				time.Sleep(delay)
				continue
			}
		}

		return err
	}

	return err
}

// GetSession retrieves a session by ID. Returns nil when not found.
func (s *Store) GetSession(sessionID string) (*Session, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	query := `
		SELECT session_id, user_id, status, pause_question, created_at, last_active, message_count, total_cost, completed_at
		FROM sessions WHERE session_id = ?
	`
	var session Session
	var pauseQuestion sql.NullString
	var completed sql.NullTime
	err := s.db.QueryRow(query, sessionID).Scan(
		&session.ID,
		&session.UserID,
		&session.Status,
		&pauseQuestion,
		&session.CreatedAt,
		&session.LastActive,
		&session.MessageCount,
		&session.TotalCost,
		&completed,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if pauseQuestion.Valid {
		session.PauseQuestion = pauseQuestion.String
	}
	if completed.Valid {
		session.CompletedAt = &completed.Time
	}
	return &session, nil
}

// EnsureSession creates a minimal session record if it doesn't exist.
// Message and checkpoint writes rely on the foreign key being satisfied.
func (s *Store) EnsureSession(sessionID, userID string) error {
	existing, err := s.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if existing != nil {
		return nil
	}

	now := time.Now().UTC()
	return s.CreateSession(&Session{
		ID:         sessionID,
		UserID:     userID,
		CreatedAt:  now,
		LastActive: now,
		Status:     SessionStatusActive,
	})
}

// ListSessions returns sessions for a user ordered by last active time.
func (s *Store) ListSessions(userID string, limit int) ([]Session, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT session_id, user_id, status, pause_question, created_at, last_active, message_count, total_cost, completed_at
		FROM sessions
		WHERE user_id = ?
		ORDER BY last_active DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var session Session
		var pauseQuestion sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.Status,
			&pauseQuestion,
			&session.CreatedAt,
			&session.LastActive,
			&session.MessageCount,
			&session.TotalCost,
			&completed,
		); err != nil {
			return nil, err
		}
		if pauseQuestion.Valid {
			session.PauseQuestion = pauseQuestion.String
		}
		if completed.Valid {
			session.CompletedAt = &completed.Time
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// TouchSession updates the last active timestamp.
func (s *Store) TouchSession(sessionID string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`UPDATE sessions SET last_active = ? WHERE session_id = ?`, time.Now().UTC(), sessionID)
	return err
}

// AddSessionCost accumulates credits spent by completed actions onto the
// session row.
func (s *Store) AddSessionCost(sessionID string, amount float64) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if amount <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		UPDATE sessions SET total_cost = total_cost + ?, last_active = ?
		WHERE session_id = ?
	`, amount, time.Now().UTC(), sessionID)
	return err
}

// SuspendSession marks a session as waiting for a confirmation answer.
func (s *Store) SuspendSession(sessionID, question string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`
		UPDATE sessions SET status = ?, pause_question = ?, last_active = ?
		WHERE session_id = ?
	`, SessionStatusSuspended, question, time.Now().UTC(), sessionID)
	return err
}

// ResumeSession moves a suspended session back to active and clears the question.
func (s *Store) ResumeSession(sessionID string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`
		UPDATE sessions SET status = ?, pause_question = NULL, last_active = ?
		WHERE session_id = ?
	`, SessionStatusActive, time.Now().UTC(), sessionID)
	return err
}

// CompleteSession marks a session as finished.
func (s *Store) CompleteSession(sessionID string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		UPDATE sessions SET status = ?, completed_at = ?, last_active = ?
		WHERE session_id = ?
	`, SessionStatusCompleted, now, now, sessionID)
	return err
}
