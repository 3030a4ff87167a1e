// Package snapshot captures state trees over time and computes structural
// diffs between them for causal attribution and rollback bookkeeping.
package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/aide/internal/value"
)

const (
	DefaultMaxSnapshots = 100
	DefaultMaxChanges   = 500
)

// Trigger records what caused a snapshot or change.
type Trigger struct {
	Type        string `json:"type"`
	ActionID    string `json:"action_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Description string `json:"description"`
}

// Snapshot is an immutable copy of a state tree.
type Snapshot struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	State     value.Value `json:"state"`
	Trigger   Trigger     `json:"trigger"`
}

// ChangeRecord pairs two states with their diff and cause.
type ChangeRecord struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Before    value.Value `json:"before"`
	After     value.Value `json:"after"`
	Diffs     []Diff      `json:"diffs"`
	Trigger   Trigger     `json:"trigger"`
}

// Config bounds retention.
type Config struct {
	MaxSnapshots int
	MaxChanges   int
}

// Engine keeps the most recent snapshots and change records.
type Engine struct {
	mu        sync.RWMutex
	cfg       Config
	snapshots []Snapshot
	changes   []ChangeRecord
	now       func() time.Time
}

// New creates an Engine; zero limits fall back to the defaults.
func New(cfg Config) *Engine {
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = DefaultMaxSnapshots
	}
	if cfg.MaxChanges <= 0 {
		cfg.MaxChanges = DefaultMaxChanges
	}
	return &Engine{cfg: cfg, now: time.Now}
}

// WithClock overrides the time source for deterministic tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CreateSnapshot deep-copies state and stores it.
func (e *Engine) CreateSnapshot(state value.Value, trigger Trigger) Snapshot {
	snap := Snapshot{
		ID:        uuid.NewString(),
		Timestamp: e.now(),
		State:     state.Clone(),
		Trigger:   trigger,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshots = append(e.snapshots, snap)
	if over := len(e.snapshots) - e.cfg.MaxSnapshots; over > 0 {
		e.snapshots = append([]Snapshot(nil), e.snapshots[over:]...)
	}
	return snap
}

// RecordChange stores a before/after pair with its diff.
func (e *Engine) RecordChange(before, after value.Value, trigger Trigger) ChangeRecord {
	rec := ChangeRecord{
		ID:        uuid.NewString(),
		Timestamp: e.now(),
		Before:    before.Clone(),
		After:     after.Clone(),
		Diffs:     ComputeDiff(before, after),
		Trigger:   trigger,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.changes = append(e.changes, rec)
	if over := len(e.changes) - e.cfg.MaxChanges; over > 0 {
		e.changes = append([]ChangeRecord(nil), e.changes[over:]...)
	}
	return rec
}

// GetStateAt returns the most recent snapshot taken at or before t.
func (e *Engine) GetStateAt(t time.Time) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := len(e.snapshots) - 1; i >= 0; i-- {
		if !e.snapshots[i].Timestamp.After(t) {
			return e.snapshots[i], true
		}
	}
	return Snapshot{}, false
}

// Latest returns the newest snapshot.
func (e *Engine) Latest() (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.snapshots) == 0 {
		return Snapshot{}, false
	}
	return e.snapshots[len(e.snapshots)-1], true
}

// Snapshots returns retained snapshots, oldest first.
func (e *Engine) Snapshots() []Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Snapshot(nil), e.snapshots...)
}

// Changes returns up to limit change records, newest first. limit <= 0 returns all.
func (e *Engine) Changes(limit int) []ChangeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.changes)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ChangeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.changes[i])
	}
	return out
}

// ChangesFor returns the change records attributed to an action, oldest first.
func (e *Engine) ChangesFor(actionID string) []ChangeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []ChangeRecord
	for _, c := range e.changes {
		if c.Trigger.ActionID == actionID {
			out = append(out, c)
		}
	}
	return out
}

// RollbackPlan returns the diffs that would restore the state recorded
// before the given change.
func (e *Engine) RollbackPlan(changeID string) ([]Diff, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.changes {
		if c.ID == changeID {
			return ComputeDiff(c.After, c.Before), nil
		}
	}
	return nil, fmt.Errorf("change %s not retained", changeID)
}

// Counts reports retained snapshot and change totals.
func (e *Engine) Counts() (snapshots, changes int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.snapshots), len(e.changes)
}
