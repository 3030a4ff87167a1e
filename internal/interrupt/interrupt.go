// Package interrupt rate-limits notifications and proactive suggestions
// according to what the user is doing.
package interrupt

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/lazypower/aide/internal/clock"
)

// UserState is the user's current activity.
type UserState string

const (
	StateIdle       UserState = "idle"
	StateActive     UserState = "active"
	StateFocused    UserState = "focused"
	StatePresenting UserState = "presenting"
	StateMeeting    UserState = "meeting"
	StateDND        UserState = "dnd"
	StateAway       UserState = "away"
)

var multipliers = map[UserState]float64{
	StateIdle:       1.0,
	StateActive:     0.5,
	StateFocused:    0.2,
	StatePresenting: 0,
	StateMeeting:    0,
	StateDND:        0,
	StateAway:       0,
}

// Multiplier returns the budget multiplier for s. Unknown states behave as active.
func (s UserState) Multiplier() float64 {
	if m, ok := multipliers[s]; ok {
		return m
	}
	return multipliers[StateActive]
}

// Valid reports whether s is a known state.
func (s UserState) Valid() bool {
	_, ok := multipliers[s]
	return ok
}

// RequestType classifies an interruption.
type RequestType string

const (
	TypeCritical     RequestType = "critical"
	TypeAlert        RequestType = "alert"
	TypeReminder     RequestType = "reminder"
	TypeNotification RequestType = "notification"
	TypeSuggestion   RequestType = "suggestion"
)

// Request asks for the user's attention.
type Request struct {
	ID       string      `json:"id"`
	Type     RequestType `json:"type"`
	Source   string      `json:"source,omitempty"`
	Message  string      `json:"message"`
	Urgency  int         `json:"urgency"` // 1-10
	CanDefer bool        `json:"can_defer"`
}

// Delivery is how an interruption reaches the user.
type Delivery string

const (
	DeliverSpeak   Delivery = "speak"
	DeliverDisplay Delivery = "display"
	DeliverBadge   Delivery = "badge"
	DeliverSilent  Delivery = "silent"
	DeliverDefer   Delivery = "defer"
)

// Decision is the verdict for one request.
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Deferred bool     `json:"deferred"`
	Reason   string   `json:"reason"`
	Method   Delivery `json:"method"`
}

// Config tunes the budget.
type Config struct {
	MaxPerHour      int
	Cooldown        time.Duration
	FocusProtection time.Duration
	BypassUrgency   int // at or above: skip every budget check
	FocusUrgency    int // below: deferred during protected focus
	LogSize         int
}

// DefaultConfig returns the standard budget.
func DefaultConfig() Config {
	return Config{
		MaxPerHour:      10,
		Cooldown:        30 * time.Second,
		FocusProtection: 15 * time.Minute,
		BypassUrgency:   9,
		FocusUrgency:    7,
		LogSize:         200,
	}
}

// LogEntry records a decision for later inspection.
type LogEntry struct {
	At       time.Time `json:"at"`
	Request  Request   `json:"request"`
	Decision Decision  `json:"decision"`
	State    UserState `json:"state"`
}

// Stats summarises the manager.
type Stats struct {
	State            UserState `json:"state"`
	StateSince       time.Time `json:"state_since"`
	RecentCount      int       `json:"recent_count"`
	EffectiveBudget  int       `json:"effective_budget"`
	Deferred         int       `json:"deferred"`
	LastInterruption time.Time `json:"last_interruption,omitempty"`
	QuietHours       bool      `json:"quiet_hours"`
}

// Manager tracks delivered interruptions over a rolling hour.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	state      UserState
	stateSince time.Time
	quiet      func(time.Time) bool

	last     time.Time
	recent   []time.Time
	deferred []Request
	log      []LogEntry
}

// New creates a manager in the idle state.
func New(cfg Config, clk clock.Clock) *Manager {
	def := DefaultConfig()
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = def.MaxPerHour
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.FocusProtection <= 0 {
		cfg.FocusProtection = def.FocusProtection
	}
	if cfg.BypassUrgency <= 0 {
		cfg.BypassUrgency = def.BypassUrgency
	}
	if cfg.FocusUrgency <= 0 {
		cfg.FocusUrgency = def.FocusUrgency
	}
	if cfg.LogSize <= 0 {
		cfg.LogSize = def.LogSize
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		cfg:        cfg,
		clock:      clk,
		logger:     slog.Default().With("component", "interrupt"),
		state:      StateIdle,
		stateSince: clk.Now(),
	}
}

// SetState moves the user to s. Re-setting the current state keeps its start time.
func (m *Manager) SetState(s UserState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == m.state {
		return
	}
	m.logger.Debug("user state changed", "from", m.state, "to", s)
	m.state = s
	m.stateSince = m.clock.Now()
}

// State returns the current user state.
func (m *Manager) State() UserState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetQuietHours installs a predicate; while it holds, the budget is zero.
func (m *Manager) SetQuietHours(fn func(time.Time) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quiet = fn
}

// SetMaxPerHour adjusts the hourly budget.
func (m *Manager) SetMaxPerHour(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.MaxPerHour = n
}

// SetCooldown adjusts the minimum gap between interruptions.
func (m *Manager) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Cooldown = d
}

// ShouldInterrupt decides whether req may reach the user now. Allowed
// requests are counted against the budget; blocked ones are deferred
// when they allow it and silently logged otherwise.
func (m *Manager) ShouldInterrupt(req Request) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.prune(now)

	var d Decision
	switch {
	case req.Type == TypeCritical:
		d = m.allow(now, "critical")
	case req.Urgency >= m.cfg.BypassUrgency:
		d = m.allow(now, "urgency bypass")
	case m.multiplier(now) == 0:
		d = m.block(req, "user unavailable: "+m.stateLabel(now))
	case !m.last.IsZero() && now.Sub(m.last) < m.cfg.Cooldown:
		d = m.block(req, "cooldown")
	case len(m.recent) >= m.budget(now, 1):
		d = m.block(req, "hourly budget exhausted")
	case m.state == StateFocused && now.Sub(m.stateSince) > m.cfg.FocusProtection && req.Urgency < m.cfg.FocusUrgency:
		d = m.block(req, "protecting focus")
	default:
		d = m.allow(now, "within budget")
	}
	d.Method = m.deliveryMethod(d, req.Urgency)

	m.record(now, req, d)
	return d
}

// GetDeliveryMethod maps a decision to a delivery channel for the current state.
func (m *Manager) GetDeliveryMethod(d Decision, urgency int) Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliveryMethod(d, urgency)
}

func (m *Manager) deliveryMethod(d Decision, urgency int) Delivery {
	if !d.Allowed {
		if d.Deferred {
			return DeliverDefer
		}
		return DeliverSilent
	}
	switch m.state {
	case StateIdle:
		return DeliverSpeak
	case StateActive:
		if urgency >= m.cfg.FocusUrgency {
			return DeliverSpeak
		}
		return DeliverDisplay
	case StateFocused:
		if urgency >= m.cfg.FocusUrgency {
			return DeliverDisplay
		}
		return DeliverBadge
	case StateAway:
		return DeliverSpeak
	default:
		// presenting, meeting, dnd: only critical or bypassing requests get here
		return DeliverDisplay
	}
}

// CanSuggest reports whether a proactive, unrequested suggestion fits in
// half the budget with double the cooldown. It does not consume budget.
func (m *Manager) CanSuggest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.prune(now)
	if m.multiplier(now) == 0 {
		return false
	}
	if m.state == StateFocused && now.Sub(m.stateSince) > m.cfg.FocusProtection {
		return false
	}
	if !m.last.IsZero() && now.Sub(m.last) < 2*m.cfg.Cooldown {
		return false
	}
	return len(m.recent) < m.budget(now, 0.5)
}

// DrainDeferred returns and clears queued requests once the user can be
// interrupted again. Nothing is returned while the budget multiplier is zero.
func (m *Manager) DrainDeferred() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deferred) == 0 || m.multiplier(m.clock.Now()) == 0 {
		return nil
	}
	out := m.deferred
	m.deferred = nil
	return out
}

// DeferredCount returns the number of queued requests.
func (m *Manager) DeferredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deferred)
}

// Log returns recent decisions, oldest first.
func (m *Manager) Log() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.log...)
}

// Stats returns a summary of the budget.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.prune(now)
	return Stats{
		State:            m.state,
		StateSince:       m.stateSince,
		RecentCount:      len(m.recent),
		EffectiveBudget:  m.budget(now, 1),
		Deferred:         len(m.deferred),
		LastInterruption: m.last,
		QuietHours:       m.quiet != nil && m.quiet(now),
	}
}

func (m *Manager) multiplier(now time.Time) float64 {
	if m.quiet != nil && m.quiet(now) {
		return 0
	}
	return m.state.Multiplier()
}

func (m *Manager) stateLabel(now time.Time) string {
	if m.quiet != nil && m.quiet(now) {
		return "quiet hours"
	}
	return string(m.state)
}

func (m *Manager) budget(now time.Time, share float64) int {
	return int(math.Floor(float64(m.cfg.MaxPerHour) * m.multiplier(now) * share))
}

func (m *Manager) allow(now time.Time, reason string) Decision {
	m.last = now
	m.recent = append(m.recent, now)
	return Decision{Allowed: true, Reason: reason}
}

func (m *Manager) block(req Request, reason string) Decision {
	if req.CanDefer {
		m.deferred = append(m.deferred, req)
		return Decision{Deferred: true, Reason: reason}
	}
	return Decision{Reason: reason}
}

func (m *Manager) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(m.recent) && !m.recent[i].After(cutoff) {
		i++
	}
	m.recent = m.recent[i:]
}

func (m *Manager) record(now time.Time, req Request, d Decision) {
	m.log = append(m.log, LogEntry{At: now, Request: req, Decision: d, State: m.state})
	if over := len(m.log) - m.cfg.LogSize; over > 0 {
		m.log = append([]LogEntry(nil), m.log[over:]...)
	}
	if !d.Allowed {
		m.logger.Debug("interruption held", "id", req.ID, "type", req.Type, "reason", d.Reason, "deferred", d.Deferred)
	}
}
