// Package simulate predicts the effect and risk of an action before it runs.
package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/snapshot"
	"github.com/lazypower/aide/internal/value"
)

// Recommendation is the simulator's verdict on running an action.
type Recommendation string

const (
	Proceed    Recommendation = "proceed"
	Caution    Recommendation = "caution"
	Reconsider Recommendation = "reconsider"
	Abort      Recommendation = "abort"
)

var destructivePatterns = []string{"delete", "remove all"}

// Registry is the part of the executor registry the simulator needs.
type Registry interface {
	Capability(name string) (domain.Capability, bool)
	Names() []string
	Simulate(ctx context.Context, name string, params value.Object) (executor.Prediction, error)
}

// Risk is the assessed risk with the reasoning behind it.
type Risk struct {
	Level       domain.RiskLevel `json:"level"`
	Factors     []string         `json:"factors"`
	Mitigations []string         `json:"mitigations"`
}

// Result is a full pre-execution assessment.
type Result struct {
	Action             string                `json:"action"`
	Known              bool                  `json:"known"`
	WouldSucceed       bool                  `json:"would_succeed"`
	PredictedOutput    value.Value           `json:"predicted_output"`
	SideEffects        []executor.SideEffect `json:"side_effects,omitempty"`
	Warnings           []string              `json:"warnings,omitempty"`
	Risk               Risk                  `json:"risk"`
	Reversible         bool                  `json:"reversible"`
	DataLoss           bool                  `json:"data_loss"`
	StateDiffs         []snapshot.Diff       `json:"state_diffs,omitempty"`
	EstimatedDuration  time.Duration         `json:"estimated_duration"`
	Confidence         float64               `json:"confidence"`
	Recommendation     Recommendation        `json:"recommendation"`
	ClarifyingQuestion string                `json:"clarifying_question,omitempty"`
}

// Simulator runs dry-runs through the registry.
type Simulator struct {
	reg    Registry
	logger *slog.Logger
}

func New(reg Registry) *Simulator {
	return &Simulator{reg: reg, logger: slog.Default().With("component", "simulate")}
}

// Simulate assesses action with params. It never returns an error: executor
// failures become warnings and unknown actions become an abort.
func (s *Simulator) Simulate(ctx context.Context, action string, params value.Object) Result {
	capability, ok := s.reg.Capability(action)
	if !ok {
		return s.unknown(action)
	}

	res := Result{Action: action, Known: true, WouldSucceed: true, PredictedOutput: value.Null()}
	if capability.SupportsSimulation {
		pred, err := s.reg.Simulate(ctx, action, params)
		if err != nil {
			s.logger.Warn("dry run failed", "action", action, "err", err)
			res.WouldSucceed = false
			res.Warnings = append(res.Warnings, "simulation failed: "+err.Error())
		} else {
			res.WouldSucceed = pred.WouldSucceed
			res.PredictedOutput = pred.PredictedOutput
			res.SideEffects = pred.PredictedSideEffects
			res.Warnings = append(res.Warnings, pred.Warnings...)
		}
	}

	res.Risk = assessRisk(capability, params)
	res.Reversible, res.DataLoss = reversibility(capability, res.SideEffects)
	res.StateDiffs = PredictDiffs(action, params)
	res.EstimatedDuration = EstimateDuration(capability)
	res.Confidence = Confidence(capability.SupportsSimulation, len(res.Warnings), capability.ExternalImpact, res.Reversible)
	res.Recommendation = Recommend(res.Risk.Level, res.Reversible, res.WouldSucceed)
	return res
}

func (s *Simulator) unknown(action string) Result {
	q := fmt.Sprintf("I don't know how to %q. What did you want me to do?", action)
	if near := Nearest(action, s.reg.Names(), 3); len(near) > 0 {
		q = fmt.Sprintf("I don't know how to %q. Did you mean %s?", action, joinOr(near))
	}
	return Result{
		Action:             action,
		PredictedOutput:    value.Null(),
		Warnings:           []string{"unknown action"},
		Risk:               Risk{Level: domain.RiskCritical, Factors: []string{"action is not registered"}},
		Confidence:         0.1,
		Recommendation:     Abort,
		ClarifyingQuestion: q,
	}
}

func assessRisk(c domain.Capability, params value.Object) Risk {
	r := Risk{Level: c.RiskLevel}
	if r.Level == "" {
		r.Level = domain.RiskMedium
	}
	escalate := false
	if c.BlastRadius == domain.BlastExternal {
		escalate = true
		r.Factors = append(r.Factors, "affects people or systems outside the home")
		r.Mitigations = append(r.Mitigations, "review the recipient before confirming")
	}
	if kw := destructiveKeyword(params); kw != "" {
		escalate = true
		r.Factors = append(r.Factors, fmt.Sprintf("parameters mention %q", kw))
		r.Mitigations = append(r.Mitigations, "narrow the target before running")
	}
	if escalate {
		r.Level = r.Level.Escalate()
	}
	if !c.Reversible {
		r.Factors = append(r.Factors, "cannot be undone")
	} else {
		r.Mitigations = append(r.Mitigations, "can be reverted")
	}
	if c.SupportsSimulation {
		r.Mitigations = append(r.Mitigations, "dry run available")
	}
	return r
}

func destructiveKeyword(params value.Object) string {
	if len(params) == 0 {
		return ""
	}
	s := strings.ToLower(params.Serialize())
	for _, kw := range destructivePatterns {
		if strings.Contains(s, kw) {
			return kw
		}
	}
	return ""
}

func reversibility(c domain.Capability, effects []executor.SideEffect) (reversible, dataLoss bool) {
	reversible = c.Reversible
	for _, e := range effects {
		if e.Reversible {
			continue
		}
		reversible = false
		d := strings.ToLower(e.Description)
		if strings.Contains(d, "delete") || strings.Contains(d, "remove") || strings.Contains(d, "clear") {
			dataLoss = true
		}
	}
	return reversible, dataLoss
}

// PredictDiffs guesses the state change from the action's verb prefix:
// set/update modify, create/add add, delete/remove remove. Other verbs
// predict nothing.
func PredictDiffs(action string, params value.Object) []snapshot.Diff {
	var change snapshot.ChangeType
	var rest string
	for _, p := range []struct {
		prefix string
		ct     snapshot.ChangeType
	}{
		{"set", snapshot.Modified}, {"update", snapshot.Modified},
		{"create", snapshot.Added}, {"add", snapshot.Added},
		{"delete", snapshot.Removed}, {"remove", snapshot.Removed},
	} {
		if r, ok := verb(action, p.prefix); ok {
			change, rest = p.ct, r
			break
		}
	}
	if change == "" {
		return nil
	}
	entity := lowerFirst(rest)
	if entity == "" {
		entity = "state"
	}
	if change == snapshot.Removed || len(params) == 0 {
		return []snapshot.Diff{{Path: []string{entity}, Before: value.Null(), After: value.Null(), ChangeType: change}}
	}
	diffs := make([]snapshot.Diff, 0, len(params))
	for _, k := range params.Keys() {
		diffs = append(diffs, snapshot.Diff{
			Path:       []string{entity, k},
			Before:     value.Null(),
			After:      params[k].Clone(),
			ChangeType: change,
		})
	}
	return diffs
}

// verb matches a camelCase prefix so "settle" is not read as "set".
func verb(action, prefix string) (string, bool) {
	if !strings.HasPrefix(action, prefix) {
		return "", false
	}
	rest := action[len(prefix):]
	if rest != "" && !unicode.IsUpper(rune(rest[0])) {
		return "", false
	}
	return rest, true
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// EstimateDuration uses the capability's estimate or a default by reach.
func EstimateDuration(c domain.Capability) time.Duration {
	if c.EstimatedDuration > 0 {
		return c.EstimatedDuration
	}
	switch c.BlastRadius {
	case domain.BlastExternal:
		return 3 * time.Second
	case domain.BlastNetwork:
		return time.Second
	default:
		return 100 * time.Millisecond
	}
}

// Confidence scores how much the prediction can be trusted, in [0.1, 1].
func Confidence(simulated bool, warnings int, external, reversible bool) float64 {
	c := 0.8
	if simulated {
		c += 0.1
	}
	c -= 0.1 * float64(warnings)
	if external {
		c -= 0.15
	}
	if !reversible {
		c -= 0.1
	}
	switch {
	case c < 0.1:
		return 0.1
	case c > 1:
		return 1
	}
	return c
}

// Recommend applies the rules in order; the first match wins.
func Recommend(risk domain.RiskLevel, reversible, wouldSucceed bool) Recommendation {
	switch {
	case risk == domain.RiskCritical:
		return Abort
	case risk == domain.RiskHigh:
		return Reconsider
	case risk == domain.RiskMedium || !reversible:
		return Caution
	case !wouldSucceed:
		return Reconsider
	default:
		return Proceed
	}
}

// Nearest returns up to n known names closest to action by edit distance,
// ignoring case. Names further than half the action's length are dropped.
func Nearest(action string, known []string, n int) []string {
	type cand struct {
		name string
		dist int
	}
	target := strings.ToLower(action)
	limit := len(target)/2 + 1
	var cands []cand
	for _, k := range known {
		d := levenshtein(target, strings.ToLower(k))
		if d <= limit {
			cands = append(cands, cand{k, d})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].name < cands[j].name
	})
	var out []string
	for i := 0; i < len(cands) && i < n; i++ {
		out = append(out, cands[i].name)
	}
	return out
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func joinOr(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " or " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}
