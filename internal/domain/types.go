// Package domain defines the types shared by the governance engine: intents,
// autonomy decisions, tool capabilities and the perceived world state.
package domain

import (
	"time"

	"github.com/lazypower/aide/internal/value"
)

// Source identifies who proposed an intent.
type Source string

const (
	SourceUser      Source = "user"
	SourceGoal      Source = "goal"
	SourceProactive Source = "proactive"
)

// Intent is a planner's request to run one tool with parameters.
type Intent struct {
	ID                   string       `json:"id"`
	UserID               string       `json:"user_id"`
	ToolName             string       `json:"tool_name"`
	Params               value.Object `json:"params"`
	Source               Source       `json:"source"`
	Priority             int          `json:"priority"`
	Confidence           float64      `json:"confidence"`
	CreatedAt            time.Time    `json:"created_at"`
	ExpiresAt            *time.Time   `json:"expires_at,omitempty"`
	RequiresSimulation   bool         `json:"requires_simulation"`
	RequiresConfirmation bool         `json:"requires_confirmation"`
	Confirmed            bool         `json:"confirmed"`
}

// Expired reports whether the intent's deadline has passed.
func (i *Intent) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// ClampPriority bounds p to 1..10, mapping unset to 5.
func ClampPriority(p int) int {
	switch {
	case p == 0:
		return 5
	case p < 1:
		return 1
	case p > 10:
		return 10
	}
	return p
}

// AutonomyLevel is the governance outcome for a proposed action.
// Levels are ordered from least to most restrictive.
type AutonomyLevel string

const (
	LevelAutoApprove     AutonomyLevel = "auto_approve"
	LevelAnnounce        AutonomyLevel = "announce"
	LevelConfirmSimple   AutonomyLevel = "confirm_simple"
	LevelConfirmDetailed AutonomyLevel = "confirm_detailed"
	LevelDeny            AutonomyLevel = "deny"
)

var levelRank = map[AutonomyLevel]int{
	LevelAutoApprove:     0,
	LevelAnnounce:        1,
	LevelConfirmSimple:   2,
	LevelConfirmDetailed: 3,
	LevelDeny:            4,
}

// Rank orders levels; unknown levels rank as confirm_simple.
func (l AutonomyLevel) Rank() int {
	if r, ok := levelRank[l]; ok {
		return r
	}
	return levelRank[LevelConfirmSimple]
}

// AtLeast returns the more restrictive of l and floor.
func (l AutonomyLevel) AtLeast(floor AutonomyLevel) AutonomyLevel {
	if floor.Rank() > l.Rank() {
		return floor
	}
	return l
}

// NeedsConfirmation reports whether the level gates execution on the user.
func (l AutonomyLevel) NeedsConfirmation() bool {
	return l == LevelConfirmSimple || l == LevelConfirmDetailed
}

// Valid reports whether l is one of the known levels.
func (l AutonomyLevel) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Decision is the autonomy engine's verdict for one intent.
type Decision struct {
	Level            AutonomyLevel `json:"level"`
	Reason           string        `json:"reason"`
	DisplayMessage   string        `json:"display_message,omitempty"`
	DisplayParams    value.Object  `json:"display_params,omitempty"`
	ExpiresInSeconds int           `json:"expires_in_seconds,omitempty"`
}

// RiskLevel is an ordered severity scale.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = []RiskLevel{RiskNone, RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Rank returns the position of r on the scale; unknown values rank as medium.
func (r RiskLevel) Rank() int {
	for i, l := range riskOrder {
		if l == r {
			return i
		}
	}
	return 2
}

// Escalate moves r up one level, saturating at critical.
func (r RiskLevel) Escalate() RiskLevel {
	i := r.Rank() + 1
	if i >= len(riskOrder) {
		i = len(riskOrder) - 1
	}
	return riskOrder[i]
}

// BlastRadius is the scope an action's effect can reach.
type BlastRadius string

const (
	BlastLocal    BlastRadius = "local"
	BlastNetwork  BlastRadius = "network"
	BlastExternal BlastRadius = "external"
)

// SafetyLevel is an optional coarse override carried by a tool.
type SafetyLevel string

const (
	SafetySafe     SafetyLevel = "safe"
	SafetyModerate SafetyLevel = "moderate"
	SafetyHighRisk SafetyLevel = "high_risk"
	SafetyCritical SafetyLevel = "critical"
)

// Capability is static metadata describing one executable action.
type Capability struct {
	Name                 string        `json:"name"`
	Description          string        `json:"description,omitempty"`
	Category             string        `json:"category,omitempty"`
	RiskLevel            RiskLevel     `json:"risk_level"`
	SafetyLevel          SafetyLevel   `json:"safety_level,omitempty"`
	Reversible           bool          `json:"reversible"`
	ExternalImpact       bool          `json:"external_impact"`
	BlastRadius          BlastRadius   `json:"blast_radius"`
	SupportsSimulation   bool          `json:"supports_simulation"`
	SupportsAutoApproval bool          `json:"supports_auto_approval"`
	ParamsSchema         string        `json:"params_schema,omitempty"`
	EstimatedDuration    time.Duration `json:"estimated_duration,omitempty"`
}

// UserContext is the perceived state of the user.
type UserContext struct {
	Mode     string `json:"mode,omitempty"`  // normal, focus, dnd, guest, night
	State    string `json:"state,omitempty"` // idle, active, focused, presenting, meeting, dnd, away
	Present  bool   `json:"present"`
	Location string `json:"location,omitempty"`
}

// WorldState is one perception snapshot.
type WorldState struct {
	TimeOfDay  string       `json:"time_of_day,omitempty"` // morning, afternoon, evening, night
	User       UserContext  `json:"user"`
	Devices    value.Object `json:"devices,omitempty"`
	ObservedAt time.Time    `json:"observed_at"`
}

// IsNight reports whether night-time restrictions apply.
func (w WorldState) IsNight() bool {
	return w.User.Mode == "night" || w.TimeOfDay == "night"
}

// Tree renders the world state as a value tree for snapshots.
func (w WorldState) Tree() value.Object {
	devices := w.Devices.Clone()
	if devices == nil {
		devices = value.Object{}
	}
	return value.Object{
		"timeOfDay": value.String(w.TimeOfDay),
		"user": value.Obj(value.Object{
			"mode":     value.String(w.User.Mode),
			"state":    value.String(w.User.State),
			"present":  value.Bool(w.User.Present),
			"location": value.String(w.User.Location),
		}),
		"devices": value.Obj(devices),
	}
}

// TimeOfDayFor buckets a wall-clock time.
func TimeOfDayFor(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 22:
		return "evening"
	default:
		return "night"
	}
}
