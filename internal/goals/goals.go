// Package goals manages long-lived user goals: interaction tracking,
// blockers, completion cascades and attention decay.
package goals

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/store"
)

// Goal is the persisted goal row.
type Goal = store.Goal

const (
	// DecayRate is the attention lost per hour without interaction.
	DecayRate       = 0.05
	DefaultTTLHours = 168.0
	DefaultPriority = 5
)

// Backend is the durable row store for goals.
type Backend interface {
	CreateGoal(g *store.Goal) error
	UpdateGoal(g *store.Goal) error
	GetGoal(id string) (*store.Goal, error)
	ListGoals(f store.GoalFilter) ([]store.Goal, error)
	ChildGoals(parentID string) ([]store.Goal, error)
}

// Service is the goal store.
type Service struct {
	db     Backend
	now    func() time.Time
	logger *slog.Logger
}

// New creates a goal service over db.
func New(db Backend) *Service {
	return &Service{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "goals"),
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput describes a new goal.
type CreateInput struct {
	UserID      string   `json:"user_id"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	ParentID    string   `json:"parent_id,omitempty"`
	Steps       []string `json:"steps,omitempty"`
	TTLHours    float64  `json:"ttl_hours,omitempty"`
}

// Create stores a new active goal. Steps become the goal's next actions.
func (s *Service) Create(in CreateInput) (*Goal, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, domain.ErrGoalInvalid.Wrap("description required")
	}
	if in.UserID == "" {
		return nil, domain.ErrGoalInvalid.Wrap("user id required")
	}
	if in.TTLHours < 0 {
		return nil, domain.ErrGoalInvalid.Wrap("ttl must be positive")
	}

	var parent *Goal
	if in.ParentID != "" {
		p, err := s.get(in.ParentID)
		if err != nil {
			return nil, err
		}
		if p.UserID != in.UserID {
			return nil, domain.ErrGoalInvalid.Wrap("parent belongs to another user")
		}
		if isTerminal(p.Status) {
			return nil, domain.ErrGoalInvalid.Wrap("parent is " + string(p.Status))
		}
		parent = p
	}

	ttl := in.TTLHours
	if ttl == 0 {
		ttl = DefaultTTLHours
	}
	now := s.now().UTC()
	g := &Goal{
		ID:                uuid.New().String(),
		UserID:            in.UserID,
		Description:       desc,
		Status:            store.GoalActive,
		Priority:          domain.ClampPriority(in.Priority),
		ParentID:          in.ParentID,
		ChildIDs:          []string{},
		NextActions:       nonEmpty(in.Steps),
		Blockers:          []string{},
		AttentionScore:    1.0,
		TTLHours:          ttl,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
	if err := s.db.CreateGoal(g); err != nil {
		return nil, err
	}

	if parent != nil {
		if err := s.refreshProgress(parent.ID); err != nil {
			return g, err
		}
	}
	s.logger.Info("goal created", "id", g.ID, "user", g.UserID, "priority", g.Priority)
	return g, nil
}

// Get returns a goal by id.
func (s *Service) Get(id string) (*Goal, error) {
	return s.get(id)
}

// List returns a user's goals, optionally restricted to statuses.
func (s *Service) List(userID string, statuses ...store.GoalStatus) ([]Goal, error) {
	return s.db.ListGoals(store.GoalFilter{UserID: userID, Statuses: statuses})
}

// UpdateInput carries optional field changes.
type UpdateInput struct {
	Description *string   `json:"description,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	Progress    *int      `json:"progress,omitempty"`
	NextActions *[]string `json:"next_actions,omitempty"`
	TTLHours    *float64  `json:"ttl_hours,omitempty"`
}

// Update applies in to a non-terminal goal.
func (s *Service) Update(id string, in UpdateInput) (*Goal, error) {
	return s.mutate(id, func(g *Goal) error {
		if in.Description != nil {
			d := strings.TrimSpace(*in.Description)
			if d == "" {
				return domain.ErrGoalInvalid.Wrap("description required")
			}
			g.Description = d
		}
		if in.Priority != nil {
			g.Priority = domain.ClampPriority(*in.Priority)
		}
		if in.Progress != nil {
			if *in.Progress < 0 || *in.Progress > 100 {
				return domain.ErrGoalInvalid.Wrap("progress must be 0-100")
			}
			g.Progress = *in.Progress
		}
		if in.NextActions != nil {
			g.NextActions = nonEmpty(*in.NextActions)
		}
		if in.TTLHours != nil {
			if *in.TTLHours <= 0 {
				return domain.ErrGoalInvalid.Wrap("ttl must be positive")
			}
			g.TTLHours = *in.TTLHours
		}
		return nil
	})
}

// RecordInteraction resets attention to 1.0 and counts the interaction.
func (s *Service) RecordInteraction(id string) (*Goal, error) {
	return s.mutate(id, func(g *Goal) error {
		g.AttentionScore = 1.0
		g.InteractionCount++
		g.LastInteractionAt = s.now().UTC()
		return nil
	})
}

// AddBlocker records a blocker; an active goal becomes blocked.
func (s *Service) AddBlocker(id, blocker string) (*Goal, error) {
	blocker = strings.TrimSpace(blocker)
	if blocker == "" {
		return nil, domain.ErrGoalInvalid.Wrap("blocker required")
	}
	return s.mutate(id, func(g *Goal) error {
		for _, b := range g.Blockers {
			if b == blocker {
				return nil
			}
		}
		g.Blockers = append(g.Blockers, blocker)
		if g.Status == store.GoalActive {
			g.Status = store.GoalBlocked
		}
		return nil
	})
}

// RemoveBlocker clears a blocker; a blocked goal with none left becomes active.
func (s *Service) RemoveBlocker(id, blocker string) (*Goal, error) {
	return s.mutate(id, func(g *Goal) error {
		kept := g.Blockers[:0]
		for _, b := range g.Blockers {
			if b != blocker {
				kept = append(kept, b)
			}
		}
		g.Blockers = kept
		if len(g.Blockers) == 0 && g.Status == store.GoalBlocked {
			g.Status = store.GoalActive
		}
		return nil
	})
}

// Pause suspends an active or blocked goal. Paused goals do not expire.
func (s *Service) Pause(id string) (*Goal, error) {
	return s.mutate(id, func(g *Goal) error {
		g.Status = store.GoalPaused
		return nil
	})
}

// Resume reactivates a paused goal, restoring blocked if blockers remain.
func (s *Service) Resume(id string) (*Goal, error) {
	return s.mutate(id, func(g *Goal) error {
		if g.Status != store.GoalPaused {
			return domain.ErrGoalInvalid.Wrap("goal is not paused")
		}
		g.Status = store.GoalActive
		if len(g.Blockers) > 0 {
			g.Status = store.GoalBlocked
		}
		g.LastInteractionAt = s.now().UTC()
		g.AttentionScore = 1.0
		return nil
	})
}

// Abandon ends a goal without completing it.
func (s *Service) Abandon(id string) (*Goal, error) {
	g, err := s.mutate(id, func(g *Goal) error {
		g.Status = store.GoalAbandoned
		return nil
	})
	if err != nil {
		return nil, err
	}
	if g.ParentID != "" {
		if err := s.refreshProgress(g.ParentID); err != nil {
			return g, err
		}
	}
	return g, nil
}

// Complete marks a goal done with progress 100 and cascades to its parent:
// the parent's progress becomes the completed fraction of its children and
// the parent completes once every child has.
func (s *Service) Complete(id string) (*Goal, error) {
	g, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if g.Status == store.GoalCompleted {
		return g, nil
	}
	if isTerminal(g.Status) {
		return nil, domain.ErrGoalInvalid.Wrap("goal is " + string(g.Status))
	}

	now := s.now().UTC()
	g.Status = store.GoalCompleted
	g.Progress = 100
	g.CompletedAt = &now
	g.LastInteractionAt = now
	if err := s.db.UpdateGoal(g); err != nil {
		return nil, err
	}
	s.logger.Info("goal completed", "id", g.ID)

	if g.ParentID != "" {
		if err := s.refreshProgress(g.ParentID); err != nil {
			return g, err
		}
	}
	return g, nil
}

// refreshProgress recomputes a parent's progress from its children and
// completes it when all are done.
func (s *Service) refreshProgress(parentID string) error {
	parent, err := s.get(parentID)
	if err != nil {
		return err
	}
	if isTerminal(parent.Status) {
		return nil
	}
	children, err := s.db.ChildGoals(parentID)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return nil
	}

	completed := 0
	for _, c := range children {
		if c.Status == store.GoalCompleted {
			completed++
		}
	}
	if completed == len(children) {
		_, err := s.Complete(parentID)
		return err
	}

	progress := Progress(completed, len(children))
	if progress == parent.Progress {
		return nil
	}
	parent.Progress = progress
	return s.db.UpdateGoal(parent)
}

// Progress is round(100 × completed / total).
func Progress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// Attention is the attention left after hours without interaction.
func Attention(hours float64) float64 {
	return math.Max(0, 1.0-hours*DecayRate)
}

// DecayResult summarises one decay pass.
type DecayResult struct {
	Updated int `json:"updated"`
	Expired int `json:"expired"`
}

// ApplyDecay recomputes attention for every open goal from its last
// interaction and expires active goals past their TTL. Re-running it at the
// same instant changes nothing.
func (s *Service) ApplyDecay() (DecayResult, error) {
	var res DecayResult
	open, err := s.db.ListGoals(store.GoalFilter{
		Statuses: []store.GoalStatus{store.GoalActive, store.GoalPaused, store.GoalBlocked},
	})
	if err != nil {
		return res, fmt.Errorf("decay goals: %w", err)
	}

	now := s.now().UTC()
	var errs []error
	for i := range open {
		g := &open[i]
		hours := now.Sub(g.LastInteractionAt).Hours()
		if hours < 0 {
			hours = 0
		}
		attention := Attention(hours)
		expire := g.Status == store.GoalActive && hours > g.TTLHours
		if attention == g.AttentionScore && !expire {
			continue
		}

		g.AttentionScore = attention
		if expire {
			g.Status = store.GoalExpired
		}
		if err := s.db.UpdateGoal(g); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Updated++
		if expire {
			res.Expired++
			s.logger.Info("goal expired", "id", g.ID, "hours_idle", math.Round(hours))
		}
	}
	return res, errors.Join(errs...)
}

// Suggestions returns active goals with next actions, most neglected first:
// ordered by (1 − attention) × priority.
func (s *Service) Suggestions(userID string, limit int) ([]Goal, error) {
	active, err := s.List(userID, store.GoalActive)
	if err != nil {
		return nil, err
	}
	var out []Goal
	for _, g := range active {
		if len(g.NextActions) > 0 {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return neglect(out[i]) > neglect(out[j])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func neglect(g Goal) float64 {
	return (1 - g.AttentionScore) * float64(g.Priority)
}

func (s *Service) get(id string) (*Goal, error) {
	g, err := s.db.GetGoal(id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, domain.ErrGoalNotFound.Wrap(id)
	}
	return g, nil
}

func (s *Service) mutate(id string, fn func(g *Goal) error) (*Goal, error) {
	g, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if isTerminal(g.Status) {
		return nil, domain.ErrGoalInvalid.Wrap("goal is " + string(g.Status))
	}
	if err := fn(g); err != nil {
		return nil, err
	}
	if err := s.db.UpdateGoal(g); err != nil {
		return nil, err
	}
	return g, nil
}

func isTerminal(st store.GoalStatus) bool {
	return st == store.GoalCompleted || st == store.GoalAbandoned || st == store.GoalExpired
}

func nonEmpty(ss []string) []string {
	out := []string{}
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
