package store

import (
	"fmt"
	"time"
)

// PermissionScope is the standing verdict a user grants a tool.
type PermissionScope string

const (
	ScopeAuto    PermissionScope = "auto"
	ScopeConfirm PermissionScope = "confirm"
	ScopeDeny    PermissionScope = "deny"
)

// Permission is a user-granted boundary for one tool.
type Permission struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	ToolName  string          `json:"tool_name"`
	Scope     PermissionScope `json:"scope"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	RevokedAt *time.Time      `json:"revoked_at,omitempty"`
}

// GrantPermission inserts a boundary.
func (db *DB) GrantPermission(p *Permission) error {
	_, err := db.Exec(`
		INSERT INTO permissions (id, user_id, tool_name, scope, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.ToolName, string(p.Scope), nullable(p.Reason), toMillis(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

// RevokePermission marks a boundary revoked. Revoking twice keeps the first time.
func (db *DB) RevokePermission(id string, at time.Time) error {
	_, err := db.Exec("UPDATE permissions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL", toMillis(at), id)
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	return nil
}

// ActivePermissions returns a user's unrevoked boundaries, newest first.
// An empty toolName returns all tools.
func (db *DB) ActivePermissions(userID, toolName string) ([]Permission, error) {
	query := `SELECT id, user_id, tool_name, scope, COALESCE(reason, ''), created_at
		FROM permissions WHERE user_id = ? AND revoked_at IS NULL`
	args := []any{userID}
	if toolName != "" {
		query += " AND tool_name = ?"
		args = append(args, toolName)
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("active permissions: %w", err)
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		var p Permission
		var scope string
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.ToolName, &scope, &p.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		p.Scope = PermissionScope(scope)
		p.CreatedAt = fromMillis(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}
