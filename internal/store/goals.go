package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalPaused    GoalStatus = "paused"
	GoalBlocked   GoalStatus = "blocked"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
	GoalExpired   GoalStatus = "expired"
)

// Goal is a long-lived user intent. ChildIDs is derived from parent_id.
type Goal struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Description       string     `json:"description"`
	Status            GoalStatus `json:"status"`
	Priority          int        `json:"priority"`
	ParentID          string     `json:"parent_id,omitempty"`
	ChildIDs          []string   `json:"child_ids"`
	Progress          int        `json:"progress"`
	NextActions       []string   `json:"next_actions"`
	Blockers          []string   `json:"blockers"`
	AttentionScore    float64    `json:"attention_score"`
	InteractionCount  int        `json:"interaction_count"`
	TTLHours          float64    `json:"ttl_hours"`
	CreatedAt         time.Time  `json:"created_at"`
	LastInteractionAt time.Time  `json:"last_interaction_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

const goalColumns = `id, user_id, description, status, priority, parent_id, progress,
	next_actions, blockers, attention_score, interaction_count, ttl_hours,
	created_at, last_interaction_at, completed_at`

// CreateGoal inserts a new goal.
func (db *DB) CreateGoal(g *Goal) error {
	_, err := db.Exec(`
		INSERT INTO goals (`+goalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.UserID, g.Description, string(g.Status), g.Priority, nullable(g.ParentID), g.Progress,
		encodeStrings(g.NextActions), encodeStrings(g.Blockers), g.AttentionScore, g.InteractionCount, g.TTLHours,
		toMillis(g.CreatedAt), toMillis(g.LastInteractionAt), nullMillis(g.CompletedAt))
	if err != nil {
		return fmt.Errorf("create goal: %w", err)
	}
	return nil
}

// UpdateGoal rewrites every mutable column of a goal.
func (db *DB) UpdateGoal(g *Goal) error {
	res, err := db.Exec(`
		UPDATE goals SET description = ?, status = ?, priority = ?, parent_id = ?, progress = ?,
			next_actions = ?, blockers = ?, attention_score = ?, interaction_count = ?, ttl_hours = ?,
			last_interaction_at = ?, completed_at = ?
		WHERE id = ?
	`, g.Description, string(g.Status), g.Priority, nullable(g.ParentID), g.Progress,
		encodeStrings(g.NextActions), encodeStrings(g.Blockers), g.AttentionScore, g.InteractionCount, g.TTLHours,
		toMillis(g.LastInteractionAt), nullMillis(g.CompletedAt), g.ID)
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update goal %s: no rows", g.ID)
	}
	return nil
}

// GetGoal returns a goal with its children, or nil if not found.
func (db *DB) GetGoal(id string) (*Goal, error) {
	g, err := scanGoal(db.QueryRow("SELECT "+goalColumns+" FROM goals WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get goal: %w", err)
	}
	if g.ChildIDs, err = db.childIDs(g.ID); err != nil {
		return nil, err
	}
	return g, nil
}

// GoalFilter narrows ListGoals. Zero values match everything.
type GoalFilter struct {
	UserID   string
	Statuses []GoalStatus
}

// ListGoals returns goals ordered by priority then creation time.
func (db *DB) ListGoals(f GoalFilter) ([]Goal, error) {
	query := "SELECT " + goalColumns + " FROM goals WHERE 1=1"
	var args []any
	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if len(f.Statuses) > 0 {
		query += " AND status IN (?" + strings.Repeat(", ?", len(f.Statuses)-1) + ")"
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	query += " ORDER BY priority DESC, created_at ASC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range goals {
		if goals[i].ChildIDs, err = db.childIDs(goals[i].ID); err != nil {
			return nil, err
		}
	}
	return goals, nil
}

// ChildGoals returns the direct children of a goal.
func (db *DB) ChildGoals(parentID string) ([]Goal, error) {
	rows, err := db.Query("SELECT "+goalColumns+" FROM goals WHERE parent_id = ? ORDER BY created_at ASC", parentID)
	if err != nil {
		return nil, fmt.Errorf("child goals: %w", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}

// DeleteGoal removes a goal. Children are orphaned, not deleted.
func (db *DB) DeleteGoal(id string) error {
	if _, err := db.Exec("DELETE FROM goals WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	return nil
}

func (db *DB) childIDs(parentID string) ([]string, error) {
	rows, err := db.Query("SELECT id FROM goals WHERE parent_id = ? ORDER BY created_at ASC", parentID)
	if err != nil {
		return nil, fmt.Errorf("child ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGoal(s scanner) (*Goal, error) {
	var g Goal
	var status string
	var parentID sql.NullString
	var nextActions, blockers string
	var createdAt, lastInteraction int64
	var completedAt sql.NullInt64

	err := s.Scan(&g.ID, &g.UserID, &g.Description, &status, &g.Priority, &parentID, &g.Progress,
		&nextActions, &blockers, &g.AttentionScore, &g.InteractionCount, &g.TTLHours,
		&createdAt, &lastInteraction, &completedAt)
	if err != nil {
		return nil, err
	}
	g.Status = GoalStatus(status)
	g.ParentID = parentID.String
	g.NextActions = decodeStrings(nextActions)
	g.Blockers = decodeStrings(blockers)
	g.CreatedAt = fromMillis(createdAt)
	g.LastInteractionAt = fromMillis(lastInteraction)
	g.CompletedAt = timePtr(completedAt)
	return &g, nil
}

func encodeStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func decodeStrings(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	json.Unmarshal([]byte(s), &out)
	return out
}
