package store

import (
	"database/sql"
	"fmt"
	"time"
)

// HistoryStatus is the lifecycle of an action history entry.
type HistoryStatus string

const (
	HistoryPending   HistoryStatus = "pending"
	HistoryAwaiting  HistoryStatus = "awaiting_confirmation"
	HistorySucceeded HistoryStatus = "succeeded"
	HistoryFailed    HistoryStatus = "failed"
	HistoryAborted   HistoryStatus = "aborted"
	HistoryRejected  HistoryStatus = "rejected"
	HistoryDenied    HistoryStatus = "denied"
	HistoryExpired   HistoryStatus = "expired"
)

// Terminal reports whether no further updates are expected.
func (s HistoryStatus) Terminal() bool {
	return s != HistoryPending && s != HistoryAwaiting
}

// HistoryEntry records one governed action for transparency.
type HistoryEntry struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	IntentID      string        `json:"intent_id"`
	ToolName      string        `json:"tool_name"`
	Params        string        `json:"params"`
	Source        string        `json:"source"`
	DecisionLevel string        `json:"decision_level"`
	Status        HistoryStatus `json:"status"`
	Outcome       string        `json:"outcome,omitempty"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

const historyColumns = `id, user_id, intent_id, tool_name, params, source, decision_level,
	status, outcome, error, created_at, completed_at`

// AppendHistory inserts a history entry.
func (db *DB) AppendHistory(h *HistoryEntry) error {
	_, err := db.Exec(`
		INSERT INTO action_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.UserID, h.IntentID, h.ToolName, h.Params, h.Source, h.DecisionLevel,
		string(h.Status), nullable(h.Outcome), nullable(h.Error), toMillis(h.CreatedAt), nullMillis(h.CompletedAt))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// CompleteHistory moves a non-terminal entry to a terminal status.
// Entries already terminal are left untouched.
func (db *DB) CompleteHistory(id string, status HistoryStatus, outcome, errMsg string, at time.Time) error {
	_, err := db.Exec(`
		UPDATE action_history SET status = ?, outcome = ?, error = ?, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'awaiting_confirmation')
	`, string(status), nullable(outcome), nullable(errMsg), nullMillis(&at), id)
	if err != nil {
		return fmt.Errorf("complete history: %w", err)
	}
	return nil
}

// SetHistoryStatus moves a pending entry to awaiting_confirmation or back.
func (db *DB) SetHistoryStatus(id string, status HistoryStatus) error {
	_, err := db.Exec(`
		UPDATE action_history SET status = ?
		WHERE id = ? AND status IN ('pending', 'awaiting_confirmation')
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("set history status: %w", err)
	}
	return nil
}

// GetHistory returns an entry by id, or nil if not found.
func (db *DB) GetHistory(id string) (*HistoryEntry, error) {
	h, err := scanHistory(db.QueryRow("SELECT "+historyColumns+" FROM action_history WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return h, nil
}

// HistoryForIntent returns the entry recorded for an intent, or nil.
func (db *DB) HistoryForIntent(intentID string) (*HistoryEntry, error) {
	h, err := scanHistory(db.QueryRow(
		"SELECT "+historyColumns+" FROM action_history WHERE intent_id = ? ORDER BY created_at DESC LIMIT 1", intentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history for intent: %w", err)
	}
	return h, nil
}

// RecentHistory returns a user's entries, newest first.
func (db *DB) RecentHistory(userID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		"SELECT "+historyColumns+" FROM action_history WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHistory(s scanner) (*HistoryEntry, error) {
	var h HistoryEntry
	var status string
	var outcome, errMsg sql.NullString
	var createdAt int64
	var completedAt sql.NullInt64

	err := s.Scan(&h.ID, &h.UserID, &h.IntentID, &h.ToolName, &h.Params, &h.Source, &h.DecisionLevel,
		&status, &outcome, &errMsg, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	h.Status = HistoryStatus(status)
	h.Outcome = outcome.String
	h.Error = errMsg.String
	h.CreatedAt = fromMillis(createdAt)
	h.CompletedAt = timePtr(completedAt)
	return &h, nil
}
