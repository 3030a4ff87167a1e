// Package autonomy decides how much user involvement a proposed action
// needs, from static risk tables, planner confidence, learned approval
// patterns, user mode and time of day.
package autonomy

import (
	"fmt"
	"math"

	"github.com/lazypower/aide/internal/domain"
)

const (
	lowConfidence       = 0.5
	uncertainConfidence = 0.7

	detailedExpirySeconds = 300
	defaultExpirySeconds  = 120
)

// ReasonLearned is the reason given when a learned pattern relaxes a decision.
const ReasonLearned = "Learned from previous approvals"

// Decide classifies an intent. tool may be nil for unknown actions and
// patterns may be nil when learning is disabled. It never fails: missing
// data falls back to conservative defaults.
func Decide(intent domain.Intent, tool *domain.Capability, world domain.WorldState, patterns PatternLookup) domain.Decision {
	action := intent.ToolName
	d := domain.Decision{Level: BaseLevel(action), Reason: "default for " + action}

	if tool != nil {
		switch tool.SafetyLevel {
		case domain.SafetySafe:
			d.Level, d.Reason = domain.LevelAutoApprove, "tool marked safe"
		case domain.SafetyHighRisk, domain.SafetyCritical:
			d.Level, d.Reason = domain.LevelConfirmDetailed, "tool marked "+string(tool.SafetyLevel)
		}
	}

	if intent.Confidence < lowConfidence {
		pct := int(math.Round(intent.Confidence * 100))
		d.Level = domain.LevelConfirmDetailed
		d.Reason = fmt.Sprintf("low confidence (%d%%)", pct)
		describe(&d, intent)
		d.DisplayMessage = fmt.Sprintf("I'm only %d%% sure you want me to %s. %s", pct, phrase(action), d.DisplayMessage)
		return d
	}
	if intent.Confidence < uncertainConfidence && d.Level == domain.LevelAutoApprove {
		d.Level, d.Reason = domain.LevelAnnounce, "uncertain intent"
	}

	if d.Level == domain.LevelConfirmSimple && tool != nil && tool.SupportsAutoApproval && patterns != nil {
		if p, ok := patterns.Lookup(PatternHash(action, intent.Params)); ok &&
			p.ApprovalCount >= learnedApprovals && p.matches(ContextOf(world)) {
			d.Level, d.Reason = domain.LevelAnnounce, ReasonLearned
		}
	}

	switch world.User.Mode {
	case "focus", "dnd":
		if noisyActions[action] {
			d.Level, d.Reason = domain.LevelConfirmDetailed, world.User.Mode+" mode"
		}
	case "guest":
		if d.Level != domain.LevelAutoApprove && d.Level != domain.LevelConfirmDetailed {
			d.Level, d.Reason = domain.LevelConfirmDetailed, "guest mode"
		}
	}

	nightGate(&d, action, world)

	describe(&d, intent)
	return d
}

// nightGate asks before announcing disruptive actions at night.
func nightGate(d *domain.Decision, action string, world domain.WorldState) {
	if world.IsNight() && d.Level == domain.LevelAnnounce && nightActions[action] {
		d.Level, d.Reason = domain.LevelConfirmSimple, "night time"
	}
}

// describe fills the display fields and expiry for d's level.
func describe(d *domain.Decision, intent domain.Intent) {
	d.DisplayMessage, d.DisplayParams = "", nil
	switch d.Level {
	case domain.LevelConfirmSimple:
		d.DisplayParams = DisplayParams(intent.Params)
		d.DisplayMessage = fmt.Sprintf("Should I %s?", phrase(intent.ToolName))
	case domain.LevelConfirmDetailed:
		d.DisplayParams = DisplayParams(intent.Params)
		d.DisplayMessage = fmt.Sprintf("Please review before I %s: %s", phrase(intent.ToolName), summarize(d.DisplayParams))
	case domain.LevelAnnounce:
		d.DisplayMessage = Announcement(intent.ToolName, intent.Params)
	case domain.LevelDeny:
		d.DisplayMessage = fmt.Sprintf("I won't %s: %s", phrase(intent.ToolName), d.Reason)
	}

	if d.Level == domain.LevelConfirmDetailed {
		d.ExpiresInSeconds = detailedExpirySeconds
	} else {
		d.ExpiresInSeconds = defaultExpirySeconds
	}
}
