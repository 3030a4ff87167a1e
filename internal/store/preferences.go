package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetPreferences returns the raw preference document for a user, or "" if none.
func (db *DB) GetPreferences(userID string) (string, error) {
	var data string
	err := db.QueryRow("SELECT data FROM preferences WHERE user_id = ?", userID).Scan(&data)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get preferences: %w", err)
	}
	return data, nil
}

// PutPreferences replaces the preference document for a user.
func (db *DB) PutPreferences(userID, data string, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO preferences (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, userID, data, toMillis(at))
	if err != nil {
		return fmt.Errorf("put preferences: %w", err)
	}
	return nil
}
