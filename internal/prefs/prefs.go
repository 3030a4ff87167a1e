// Package prefs holds per-user governance preferences: risk tolerance,
// category tolerances, autonomy caps and interruption quiet hours.
// Stored documents are partial; defaults are merged on read.
package prefs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RiskTolerance shifts how eagerly actions are auto-approved.
type RiskTolerance string

const (
	RiskCautious   RiskTolerance = "cautious"
	RiskBalanced   RiskTolerance = "balanced"
	RiskPermissive RiskTolerance = "permissive"
)

// Category tolerance values.
const (
	TolerateAuto     = "auto"
	TolerateAnnounce = "announce"
	TolerateConfirm  = "confirm"
)

// Preferences is one user's configuration.
type Preferences struct {
	UserID             string            `json:"user_id"`
	RiskTolerance      RiskTolerance     `json:"risk_tolerance"`
	CategoryTolerances map[string]string `json:"category_tolerances"`
	Autonomy           AutonomyCaps      `json:"autonomy"`
	Interruption       Interruption      `json:"interruption"`
}

// AutonomyCaps limit what the autonomy engine may decide on its own.
type AutonomyCaps struct {
	DeniedActions  []string `json:"denied_actions"`
	LearnPatterns  bool     `json:"learn_patterns"`
	MaxAutoPerHour int      `json:"max_auto_per_hour"`
}

// Interruption configures the interruption budget for the user.
type Interruption struct {
	MaxPerHour      int        `json:"max_per_hour"`
	CooldownSeconds int        `json:"cooldown_seconds"`
	QuietHours      QuietHours `json:"quiet_hours"`
}

// QuietHours is a daily window, HH:MM in local time. End before Start wraps midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Contains reports whether t falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err1 := parseClock(q.Start)
	end, err2 := parseClock(q.End)
	if err1 != nil || err2 != nil || start == end {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hh*60 + mm, nil
}

// Denies reports whether the user has denied an action outright.
func (p Preferences) Denies(action string) bool {
	for _, a := range p.Autonomy.DeniedActions {
		if a == action {
			return true
		}
	}
	return false
}

// Defaults returns the preferences applied when a user has stored none.
func Defaults(userID string) Preferences {
	return Preferences{
		UserID:             userID,
		RiskTolerance:      RiskBalanced,
		CategoryTolerances: map[string]string{},
		Autonomy: AutonomyCaps{
			DeniedActions:  []string{},
			LearnPatterns:  true,
			MaxAutoPerHour: 30,
		},
		Interruption: Interruption{
			MaxPerHour:      10,
			CooldownSeconds: 30,
			QuietHours:      QuietHours{Enabled: false, Start: "22:00", End: "07:00"},
		},
	}
}

// Validate rejects values the engine cannot interpret.
func (p Preferences) Validate() error {
	switch p.RiskTolerance {
	case RiskCautious, RiskBalanced, RiskPermissive:
	default:
		return fmt.Errorf("risk_tolerance %q: want cautious, balanced or permissive", p.RiskTolerance)
	}
	for cat, tol := range p.CategoryTolerances {
		switch tol {
		case TolerateAuto, TolerateAnnounce, TolerateConfirm:
		default:
			return fmt.Errorf("category %q tolerance %q: want auto, announce or confirm", cat, tol)
		}
	}
	if p.Interruption.MaxPerHour < 0 || p.Interruption.CooldownSeconds < 0 {
		return fmt.Errorf("interruption limits must be non-negative")
	}
	if q := p.Interruption.QuietHours; q.Enabled {
		if _, err := parseClock(q.Start); err != nil {
			return fmt.Errorf("quiet_hours.start: %w", err)
		}
		if _, err := parseClock(q.End); err != nil {
			return fmt.Errorf("quiet_hours.end: %w", err)
		}
	}
	return nil
}

// Backend is the durable row store for preference documents.
type Backend interface {
	GetPreferences(userID string) (string, error)
	PutPreferences(userID, data string, at time.Time) error
}

// Store reads and writes preferences, merging defaults on read.
type Store struct {
	backend Backend
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]Preferences
}

// New creates a preference store over backend.
func New(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now, cache: make(map[string]Preferences)}
}

// Get returns the user's preferences with defaults filled in.
func (s *Store) Get(userID string) (Preferences, error) {
	s.mu.RLock()
	p, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok {
		return clone(p), nil
	}

	raw, err := s.backend.GetPreferences(userID)
	if err != nil {
		return Defaults(userID), fmt.Errorf("load preferences: %w", err)
	}
	p, err = merge(userID, raw)
	if err != nil {
		return Defaults(userID), err
	}

	s.mu.Lock()
	s.cache[userID] = p
	s.mu.Unlock()
	return clone(p), nil
}

// Put validates and stores a full preference document.
func (s *Store) Put(p Preferences) error {
	if p.UserID == "" {
		return fmt.Errorf("preferences: user id required")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("preferences: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := s.backend.PutPreferences(p.UserID, string(data), s.now()); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[p.UserID] = clone(p)
	s.mu.Unlock()
	return nil
}

// Patch overlays a partial JSON document onto the user's current preferences.
func (s *Store) Patch(userID string, patch []byte) (Preferences, error) {
	cur, err := s.Get(userID)
	if err != nil {
		return cur, err
	}
	if err := json.Unmarshal(patch, &cur); err != nil {
		return cur, fmt.Errorf("decode preference patch: %w", err)
	}
	cur.UserID = userID
	if err := s.Put(cur); err != nil {
		return cur, err
	}
	return cur, nil
}

// merge overlays a stored document onto the defaults. Keys absent from
// the document keep their default values.
func merge(userID, raw string) (Preferences, error) {
	p := Defaults(userID)
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Defaults(userID), fmt.Errorf("decode preferences: %w", err)
	}
	p.UserID = userID
	if p.CategoryTolerances == nil {
		p.CategoryTolerances = map[string]string{}
	}
	if p.Autonomy.DeniedActions == nil {
		p.Autonomy.DeniedActions = []string{}
	}
	return p, nil
}

func clone(p Preferences) Preferences {
	out := p
	out.CategoryTolerances = make(map[string]string, len(p.CategoryTolerances))
	for k, v := range p.CategoryTolerances {
		out.CategoryTolerances[k] = v
	}
	out.Autonomy.DeniedActions = append([]string{}, p.Autonomy.DeniedActions...)
	return out
}
