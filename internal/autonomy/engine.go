package autonomy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/prefs"
	"github.com/lazypower/aide/internal/store"
)

// PreferenceSource yields a user's preferences.
type PreferenceSource interface {
	Get(userID string) (prefs.Preferences, error)
}

// PermissionSource yields a user's standing permission boundaries.
type PermissionSource interface {
	ActivePermissions(userID, toolName string) ([]store.Permission, error)
}

// Engine applies Decide and then the user's preferences and permission
// boundaries. Either source may be nil.
type Engine struct {
	prefs    PreferenceSource
	perms    PermissionSource
	patterns *Patterns
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	auto map[string][]time.Time
}

// NewEngine wires an engine.
func NewEngine(p PreferenceSource, perms PermissionSource, patterns *Patterns) *Engine {
	if patterns == nil {
		patterns = NewPatterns(0, 0)
	}
	return &Engine{
		prefs:    p,
		perms:    perms,
		patterns: patterns,
		logger:   slog.Default().With("component", "autonomy"),
		now:      time.Now,
		auto:     make(map[string][]time.Time),
	}
}

// WithClock overrides the time source used for the hourly autonomy cap.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Patterns returns the approval pattern cache.
func (e *Engine) Patterns() *Patterns { return e.patterns }

// Evaluate decides an intent for its user. Caps only ever tighten a
// decision, except an explicit "auto" boundary or permissive tolerance,
// which may relax confirm_simple to announce. Neither relaxation survives
// the night gate. Once MaxAutoPerHour autonomous decisions have been made
// within the last hour, further ones need confirmation.
func (e *Engine) Evaluate(intent domain.Intent, tool *domain.Capability, world domain.WorldState) domain.Decision {
	p := prefs.Defaults(intent.UserID)
	if e.prefs != nil {
		if got, err := e.prefs.Get(intent.UserID); err != nil {
			e.logger.Warn("preferences unavailable, using defaults", "user", intent.UserID, "err", err)
		} else {
			p = got
		}
	}

	var lookup PatternLookup
	if p.Autonomy.LearnPatterns && p.RiskTolerance != prefs.RiskCautious {
		lookup = e.patterns
	}

	d := Decide(intent, tool, world, lookup)
	before := d.Level

	switch p.RiskTolerance {
	case prefs.RiskCautious:
		if d.Level == domain.LevelAutoApprove {
			d.Level, d.Reason = domain.LevelAnnounce, "cautious risk tolerance"
		}
	case prefs.RiskPermissive:
		if d.Level == domain.LevelConfirmSimple && tool != nil && tool.RiskLevel.Rank() <= domain.RiskLow.Rank() {
			d.Level, d.Reason = domain.LevelAnnounce, "permissive risk tolerance"
		}
	}

	if tool != nil && tool.Category != "" {
		switch p.CategoryTolerances[tool.Category] {
		case prefs.TolerateConfirm:
			if d.Level.Rank() < domain.LevelConfirmSimple.Rank() {
				d.Level, d.Reason = domain.LevelConfirmSimple, tool.Category+" requires confirmation"
			}
		case prefs.TolerateAnnounce:
			if d.Level == domain.LevelAutoApprove {
				d.Level, d.Reason = domain.LevelAnnounce, tool.Category+" is announced"
			}
		}
	}

	if e.perms != nil {
		bounds, err := e.perms.ActivePermissions(intent.UserID, intent.ToolName)
		if err != nil {
			e.logger.Warn("permissions unavailable", "user", intent.UserID, "err", err)
		} else if len(bounds) > 0 {
			// newest boundary wins
			switch b := bounds[0]; b.Scope {
			case store.ScopeDeny:
				d.Level, d.Reason = domain.LevelDeny, permissionReason("denied by permission", b)
			case store.ScopeConfirm:
				if d.Level.Rank() < domain.LevelConfirmSimple.Rank() {
					d.Level, d.Reason = domain.LevelConfirmSimple, permissionReason("confirmation required by permission", b)
				}
			case store.ScopeAuto:
				if d.Level == domain.LevelConfirmSimple && intent.Confidence >= lowConfidence {
					d.Level, d.Reason = domain.LevelAnnounce, permissionReason("allowed by permission", b)
				}
			}
		}
	}

	nightGate(&d, intent.ToolName, world)

	if p.Denies(intent.ToolName) {
		d.Level, d.Reason = domain.LevelDeny, "action disabled in preferences"
	}

	if autonomous(d.Level) && !e.allowAuto(intent.UserID, p.Autonomy.MaxAutoPerHour) {
		d.Level, d.Reason = domain.LevelConfirmSimple, "hourly autonomy limit reached"
	}

	if d.Level != before {
		describe(&d, intent)
		e.logger.Debug("decision adjusted by user caps", "intent", intent.ID, "from", before, "to", d.Level)
	}
	return d
}

func autonomous(l domain.AutonomyLevel) bool {
	return l == domain.LevelAutoApprove || l == domain.LevelAnnounce
}

// allowAuto counts an autonomous decision for userID against limit per
// rolling hour. A non-positive limit is unlimited.
func (e *Engine) allowAuto(userID string, limit int) bool {
	if limit <= 0 {
		return true
	}
	now := e.now()
	cutoff := now.Add(-time.Hour)

	e.mu.Lock()
	defer e.mu.Unlock()
	recent := e.auto[userID][:0]
	for _, t := range e.auto[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= limit {
		e.auto[userID] = recent
		return false
	}
	e.auto[userID] = append(recent, now)
	return true
}

func permissionReason(prefix string, p store.Permission) string {
	if p.Reason != "" {
		return prefix + ": " + p.Reason
	}
	return prefix
}
