package storage

import (
	"database/sql"
	"strings"
)

// Override names the turn pipeline understands. Values are stored as text in
// the settings table under keys namespaced by session.
const (
	OverrideMaxRounds     = "max_rounds"
	OverrideSummaryRounds = "summary_rounds"
)

func overrideKey(sessionID, name string) string {
	return "session." + sessionID + "." + name
}

// SessionOverrides loads the named per-session overrides. Names with no
// stored value are absent from the result.
func (s *Store) SessionOverrides(sessionID string, names ...string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		var value string
		err := s.db.QueryRow(
			`SELECT value FROM settings WHERE key = ?`,
			overrideKey(sessionID, name),
		).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

// SetSessionOverride upserts one per-session override. An empty value clears
// the override.
func (s *Store) SetSessionOverride(sessionID, name, value string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	name = strings.TrimSpace(name)
	if sessionID == "" || name == "" {
		return nil
	}
	key := overrideKey(sessionID, name)

	value = strings.TrimSpace(value)
	if value == "" {
		_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}
