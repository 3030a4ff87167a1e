package store

import (
	"database/sql"
	"fmt"
	"time"
)

// MemoryType controls decay rate and reinforcement boost.
type MemoryType string

const (
	MemoryEphemeral MemoryType = "ephemeral"
	MemoryWorking   MemoryType = "working"
	MemoryLongTerm  MemoryType = "long_term"
	MemoryPermanent MemoryType = "permanent"
)

// Memory is a decaying factual or preference memory.
// AnchorStrength is the strength at LastAccessed; decay is computed from it.
type Memory struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Content        string     `json:"content"`
	Type           MemoryType `json:"type"`
	Category       string     `json:"category"`
	Importance     int        `json:"importance"`
	Strength       float64    `json:"strength"`
	AnchorStrength float64    `json:"-"`
	Keywords       []string   `json:"keywords"`
	Entities       []string   `json:"entities"`
	Embedding      []float64  `json:"-"`
	EmbeddingModel string     `json:"embedding_model,omitempty"`
	AccessCount    int        `json:"access_count"`
	ReinforceCount int        `json:"reinforce_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessed   time.Time  `json:"last_accessed"`
	LastReinforced time.Time  `json:"last_reinforced"`
}

const memoryColumns = `id, user_id, content, type, category, importance, strength, anchor_strength,
	keywords, entities, embedding, embedding_model, access_count, reinforce_count,
	created_at, last_accessed, last_reinforced`

// CreateMemory inserts a new memory.
func (db *DB) CreateMemory(m *Memory) error {
	_, err := db.Exec(`
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.Content, string(m.Type), m.Category, m.Importance, m.Strength, m.AnchorStrength,
		encodeStrings(m.Keywords), encodeStrings(m.Entities), embeddingBlob(m.Embedding), nullable(m.EmbeddingModel),
		m.AccessCount, m.ReinforceCount,
		toMillis(m.CreatedAt), toMillis(m.LastAccessed), toMillis(m.LastReinforced))
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

// UpdateMemory rewrites the mutable columns of a memory.
func (db *DB) UpdateMemory(m *Memory) error {
	res, err := db.Exec(`
		UPDATE memories SET content = ?, type = ?, category = ?, importance = ?, strength = ?,
			anchor_strength = ?, keywords = ?, entities = ?, embedding = ?, embedding_model = ?,
			access_count = ?, reinforce_count = ?, last_accessed = ?, last_reinforced = ?
		WHERE id = ?
	`, m.Content, string(m.Type), m.Category, m.Importance, m.Strength,
		m.AnchorStrength, encodeStrings(m.Keywords), encodeStrings(m.Entities), embeddingBlob(m.Embedding), nullable(m.EmbeddingModel),
		m.AccessCount, m.ReinforceCount, toMillis(m.LastAccessed), toMillis(m.LastReinforced), m.ID)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update memory %s: no rows", m.ID)
	}
	return nil
}

// UpdateStrength sets only the decayed strength of a memory.
func (db *DB) UpdateStrength(id string, strength float64) error {
	if _, err := db.Exec("UPDATE memories SET strength = ? WHERE id = ?", strength, id); err != nil {
		return fmt.Errorf("update strength: %w", err)
	}
	return nil
}

// GetMemory returns a memory by id, or nil if not found.
func (db *DB) GetMemory(id string) (*Memory, error) {
	m, err := scanMemory(db.QueryRow("SELECT "+memoryColumns+" FROM memories WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// MemoryFilter narrows ListMemories. Zero values match everything.
type MemoryFilter struct {
	UserID   string
	Type     MemoryType
	Category string
	Limit    int
}

// ListMemories returns memories, strongest first.
func (db *DB) ListMemories(f MemoryFilter) ([]Memory, error) {
	query := "SELECT " + memoryColumns + " FROM memories WHERE 1=1"
	var args []any
	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, f.Category)
	}
	query += " ORDER BY strength DESC, created_at ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeleteMemory removes a memory.
func (db *DB) DeleteMemory(id string) error {
	if _, err := db.Exec("DELETE FROM memories WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// PruneMemories deletes non-permanent memories weaker than minStrength.
func (db *DB) PruneMemories(minStrength float64) (int, error) {
	res, err := db.Exec("DELETE FROM memories WHERE strength < ? AND type != 'permanent'", minStrength)
	if err != nil {
		return 0, fmt.Errorf("prune memories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MemoryCounts returns the number of memories per type for a user.
func (db *DB) MemoryCounts(userID string) (map[MemoryType]int, error) {
	rows, err := db.Query("SELECT type, COUNT(*) FROM memories WHERE user_id = ? GROUP BY type", userID)
	if err != nil {
		return nil, fmt.Errorf("memory counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[MemoryType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[MemoryType(t)] = n
	}
	return counts, rows.Err()
}

func scanMemory(s scanner) (*Memory, error) {
	var m Memory
	var typ, keywords, entities string
	var blob []byte
	var model sql.NullString
	var createdAt, lastAccessed, lastReinforced int64

	err := s.Scan(&m.ID, &m.UserID, &m.Content, &typ, &m.Category, &m.Importance, &m.Strength, &m.AnchorStrength,
		&keywords, &entities, &blob, &model, &m.AccessCount, &m.ReinforceCount,
		&createdAt, &lastAccessed, &lastReinforced)
	if err != nil {
		return nil, err
	}
	m.Type = MemoryType(typ)
	m.Keywords = decodeStrings(keywords)
	m.Entities = decodeStrings(entities)
	if len(blob) > 0 {
		m.Embedding = decodeEmbedding(blob)
	}
	m.EmbeddingModel = model.String
	m.CreatedAt = fromMillis(createdAt)
	m.LastAccessed = fromMillis(lastAccessed)
	m.LastReinforced = fromMillis(lastReinforced)
	return &m, nil
}
