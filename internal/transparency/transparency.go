// Package transparency keeps the user-visible record of what the assistant
// is doing, has done, and is allowed to do.
package transparency

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/store"
)

const recentIndicators = 50

// Backend is the persistence the service needs.
type Backend interface {
	AppendHistory(h *store.HistoryEntry) error
	CompleteHistory(id string, status store.HistoryStatus, outcome, errMsg string, at time.Time) error
	SetHistoryStatus(id string, status store.HistoryStatus) error
	GetHistory(id string) (*store.HistoryEntry, error)
	HistoryForIntent(intentID string) (*store.HistoryEntry, error)
	RecentHistory(userID string, limit int) ([]store.HistoryEntry, error)
	GrantPermission(p *store.Permission) error
	RevokePermission(id string, at time.Time) error
	ActivePermissions(userID, toolName string) ([]store.Permission, error)
}

// Phase is what an indicator is showing.
type Phase string

const (
	PhaseSimulating Phase = "simulating"
	PhaseAwaiting   Phase = "awaiting_confirmation"
	PhaseExecuting  Phase = "executing"
)

// Indicator is a live "the assistant is doing X" signal.
type Indicator struct {
	ID          string     `json:"id"`
	IntentID    string     `json:"intent_id"`
	ToolName    string     `json:"tool_name"`
	Description string     `json:"description"`
	Phase       Phase      `json:"phase"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
}

// Service tracks indicators in memory and history and permissions in the store.
type Service struct {
	db     Backend
	clk    clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Indicator
	ended  []Indicator
}

func New(db Backend, clk clock.Clock) *Service {
	return &Service{
		db:     db,
		clk:    clk,
		logger: slog.Default().With("component", "transparency"),
		active: make(map[string]*Indicator),
	}
}

// StartIndicator shows that work on intent has begun.
func (s *Service) StartIndicator(intent domain.Intent, phase Phase, description string) Indicator {
	ind := &Indicator{
		ID:          uuid.NewString(),
		IntentID:    intent.ID,
		ToolName:    intent.ToolName,
		Description: description,
		Phase:       phase,
		StartedAt:   s.clk.Now(),
	}
	s.mu.Lock()
	s.active[ind.ID] = ind
	s.mu.Unlock()
	return *ind
}

// SetPhase moves an active indicator to a new phase.
func (s *Service) SetPhase(id string, phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ind, ok := s.active[id]; ok {
		ind.Phase = phase
	}
}

// StopIndicator ends an indicator. Stopping twice is a no-op.
func (s *Service) StopIndicator(id, outcome string) {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	ind, ok := s.active[id]
	if !ok {
		return
	}
	delete(s.active, id)
	ind.EndedAt = &now
	ind.Outcome = outcome
	s.ended = append(s.ended, *ind)
	if len(s.ended) > recentIndicators {
		s.ended = s.ended[len(s.ended)-recentIndicators:]
	}
}

// ActiveIndicators returns running indicators, oldest first.
func (s *Service) ActiveIndicators() []Indicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Indicator, 0, len(s.active))
	for _, ind := range s.active {
		out = append(out, *ind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// RecentIndicators returns ended indicators, newest last.
func (s *Service) RecentIndicators() []Indicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Indicator(nil), s.ended...)
}

// Record opens a history entry for an intent under the given decision.
func (s *Service) Record(intent domain.Intent, level domain.AutonomyLevel) (*store.HistoryEntry, error) {
	h := &store.HistoryEntry{
		ID:            uuid.NewString(),
		UserID:        intent.UserID,
		IntentID:      intent.ID,
		ToolName:      intent.ToolName,
		Params:        intent.Params.Serialize(),
		Source:        string(intent.Source),
		DecisionLevel: string(level),
		Status:        store.HistoryPending,
		CreatedAt:     s.clk.Now(),
	}
	if err := s.db.AppendHistory(h); err != nil {
		return nil, fmt.Errorf("record history: %w", err)
	}
	return h, nil
}

// Await marks an entry as waiting on the user.
func (s *Service) Await(historyID string) error {
	return s.db.SetHistoryStatus(historyID, store.HistoryAwaiting)
}

// Resume returns an awaiting entry to pending.
func (s *Service) Resume(historyID string) error {
	return s.db.SetHistoryStatus(historyID, store.HistoryPending)
}

// Complete closes an entry with a terminal status.
func (s *Service) Complete(historyID string, status store.HistoryStatus, outcome, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("complete history: status %q is not terminal", status)
	}
	return s.db.CompleteHistory(historyID, status, outcome, errMsg, s.clk.Now())
}

// History returns a user's most recent entries.
func (s *Service) History(userID string, limit int) ([]store.HistoryEntry, error) {
	return s.db.RecentHistory(userID, limit)
}

// ForIntent returns the entry for an intent, or nil.
func (s *Service) ForIntent(intentID string) (*store.HistoryEntry, error) {
	return s.db.HistoryForIntent(intentID)
}

// Grant records a standing permission boundary for a tool.
func (s *Service) Grant(userID, tool string, scope store.PermissionScope, reason string) (*store.Permission, error) {
	switch scope {
	case store.ScopeAuto, store.ScopeConfirm, store.ScopeDeny:
	default:
		return nil, domain.ErrInvalidParams.Wrap(fmt.Sprintf("permission scope %q", scope))
	}
	if tool == "" {
		return nil, domain.ErrInvalidParams.Wrap("permission needs a tool")
	}
	p := &store.Permission{
		ID:        uuid.NewString(),
		UserID:    userID,
		ToolName:  tool,
		Scope:     scope,
		Reason:    reason,
		CreatedAt: s.clk.Now(),
	}
	if err := s.db.GrantPermission(p); err != nil {
		return nil, err
	}
	s.logger.Info("permission granted", "user", userID, "tool", tool, "scope", scope)
	return p, nil
}

// Revoke ends a permission boundary.
func (s *Service) Revoke(id string) error {
	return s.db.RevokePermission(id, s.clk.Now())
}

// ActivePermissions lists unrevoked boundaries; an empty tool lists all.
func (s *Service) ActivePermissions(userID, tool string) ([]store.Permission, error) {
	return s.db.ActivePermissions(userID, tool)
}
