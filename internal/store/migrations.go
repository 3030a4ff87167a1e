package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "goals: long-lived user intents with attention decay",
		SQL: `
CREATE TABLE goals (
    id                  TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL,
    description         TEXT NOT NULL,
    status              TEXT NOT NULL DEFAULT 'active'
                        CHECK (status IN ('active', 'paused', 'blocked', 'completed', 'abandoned', 'expired')),
    priority            INTEGER NOT NULL DEFAULT 5,
    parent_id           TEXT,
    progress            INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
    next_actions        TEXT NOT NULL DEFAULT '[]',
    blockers            TEXT NOT NULL DEFAULT '[]',
    attention_score     REAL NOT NULL DEFAULT 1.0,
    interaction_count   INTEGER NOT NULL DEFAULT 0,
    ttl_hours           REAL NOT NULL DEFAULT 168,
    created_at          INTEGER NOT NULL,
    last_interaction_at INTEGER NOT NULL,
    completed_at        INTEGER,

    FOREIGN KEY (parent_id) REFERENCES goals(id) ON DELETE SET NULL
);

CREATE INDEX idx_goals_user   ON goals(user_id, status);
CREATE INDEX idx_goals_parent ON goals(parent_id);
`,
	},
	{
		Version:     2,
		Description: "memories: decaying memories with embeddings",
		SQL: `
CREATE TABLE memories (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    content         TEXT NOT NULL,
    type            TEXT NOT NULL CHECK (type IN ('ephemeral', 'working', 'long_term', 'permanent')),
    category        TEXT NOT NULL DEFAULT 'general',
    importance      INTEGER NOT NULL DEFAULT 5 CHECK (importance BETWEEN 1 AND 10),
    strength        REAL NOT NULL DEFAULT 1.0,
    anchor_strength REAL NOT NULL DEFAULT 1.0,
    keywords        TEXT NOT NULL DEFAULT '[]',
    entities        TEXT NOT NULL DEFAULT '[]',
    embedding       BLOB,
    embedding_model TEXT,
    access_count    INTEGER NOT NULL DEFAULT 0,
    reinforce_count INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL,
    last_accessed   INTEGER NOT NULL,
    last_reinforced INTEGER NOT NULL
);

CREATE INDEX idx_memories_user     ON memories(user_id, type);
CREATE INDEX idx_memories_strength ON memories(strength);
`,
	},
	{
		Version:     3,
		Description: "action_history: transparency log of governed actions",
		SQL: `
CREATE TABLE action_history (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL,
    intent_id      TEXT NOT NULL,
    tool_name      TEXT NOT NULL,
    params         TEXT NOT NULL DEFAULT '{}',
    source         TEXT NOT NULL,
    decision_level TEXT NOT NULL,
    status         TEXT NOT NULL CHECK (status IN ('pending', 'awaiting_confirmation', 'succeeded', 'failed', 'aborted', 'rejected', 'denied', 'expired')),
    outcome        TEXT,
    error          TEXT,
    created_at     INTEGER NOT NULL,
    completed_at   INTEGER
);

CREATE INDEX idx_history_user   ON action_history(user_id, created_at DESC);
CREATE INDEX idx_history_intent ON action_history(intent_id);
`,
	},
	{
		Version:     4,
		Description: "permissions: standing permission boundaries per user and tool",
		SQL: `
CREATE TABLE permissions (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    tool_name  TEXT NOT NULL,
    scope      TEXT NOT NULL CHECK (scope IN ('auto', 'confirm', 'deny')),
    reason     TEXT,
    created_at INTEGER NOT NULL,
    revoked_at INTEGER
);

CREATE INDEX idx_permissions_user ON permissions(user_id, tool_name);
`,
	},
	{
		Version:     5,
		Description: "preferences: per-user configuration document",
		SQL: `
CREATE TABLE preferences (
    user_id    TEXT PRIMARY KEY,
    data       TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
