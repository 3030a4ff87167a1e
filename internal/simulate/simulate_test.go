package simulate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/executor/builtin"
	"github.com/lazypower/aide/internal/snapshot"
	"github.com/lazypower/aide/internal/value"
)

func builtinSimulator(t *testing.T) *Simulator {
	t.Helper()
	reg := executor.NewRegistry()
	clk := clock.NewFake(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	require.NoError(t, builtin.RegisterAll(reg, builtin.NewState("kitchen"), clk))
	return New(reg)
}

type failingExec struct{}

func (failingExec) Capabilities() []domain.Capability {
	return []domain.Capability{
		{Name: "updateCalendar", RiskLevel: domain.RiskLow, Reversible: true, SupportsSimulation: true},
		{Name: "wipeNotes", RiskLevel: domain.RiskHigh, Reversible: true},
		{Name: "launchMissiles", RiskLevel: domain.RiskCritical, Reversible: true},
	}
}

func (failingExec) Execute(context.Context, string, value.Object) (executor.Result, error) {
	return executor.Result{}, nil
}

func (failingExec) Simulate(context.Context, string, value.Object) (executor.Prediction, error) {
	return executor.Prediction{}, errors.New("calendar unreachable")
}

func TestSimulateLowRiskLocal(t *testing.T) {
	s := builtinSimulator(t)
	res := s.Simulate(context.Background(), "setTimer", value.Object{"durationSeconds": value.Int(60)})

	assert.True(t, res.Known)
	assert.True(t, res.WouldSucceed)
	assert.Equal(t, domain.RiskNone, res.Risk.Level)
	assert.True(t, res.Reversible)
	assert.False(t, res.DataLoss)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.Equal(t, Proceed, res.Recommendation)
	require.Len(t, res.StateDiffs, 1)
	assert.Equal(t, []string{"timer", "durationSeconds"}, res.StateDiffs[0].Path)
	assert.Equal(t, snapshot.Modified, res.StateDiffs[0].ChangeType)
}

func TestSimulateExternalEscalates(t *testing.T) {
	s := builtinSimulator(t)
	res := s.Simulate(context.Background(), "sendMessage", value.Object{"to": value.String("Ana"), "body": value.String("hi")})

	assert.Equal(t, domain.RiskHigh, res.Risk.Level, "medium escalates one level for external reach")
	assert.False(t, res.Reversible)
	// 0.8 + 0.1 - 0.1 (first recipient warning) - 0.15 - 0.1
	assert.InDelta(t, 0.55, res.Confidence, 1e-9)
	assert.Equal(t, Reconsider, res.Recommendation)
	assert.NotEmpty(t, res.Risk.Factors)
}

func TestSimulateDestructiveKeyword(t *testing.T) {
	reg := executor.NewRegistry()
	require.NoError(t, reg.Register(failingExec{}))
	s := New(reg)

	res := s.Simulate(context.Background(), "updateCalendar", value.Object{"note": value.String("Remove ALL meetings")})
	assert.Equal(t, domain.RiskMedium, res.Risk.Level)
	assert.Equal(t, Caution, res.Recommendation)
	assert.Contains(t, res.Risk.Factors, `parameters mention "remove all"`)
}

func TestSimulateExecutorFailureBecomesWarning(t *testing.T) {
	reg := executor.NewRegistry()
	require.NoError(t, reg.Register(failingExec{}))
	s := New(reg)

	res := s.Simulate(context.Background(), "updateCalendar", value.Object{"title": value.String("standup")})
	assert.False(t, res.WouldSucceed)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "calendar unreachable")
	assert.Equal(t, Reconsider, res.Recommendation)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestSimulateRiskRecommendations(t *testing.T) {
	reg := executor.NewRegistry()
	require.NoError(t, reg.Register(failingExec{}))
	s := New(reg)

	assert.Equal(t, Reconsider, s.Simulate(context.Background(), "wipeNotes", nil).Recommendation)
	assert.Equal(t, Abort, s.Simulate(context.Background(), "launchMissiles", nil).Recommendation)
}

func TestSimulateUnknownAction(t *testing.T) {
	s := builtinSimulator(t)
	res := s.Simulate(context.Background(), "setTimmer", nil)

	assert.False(t, res.Known)
	assert.Equal(t, Abort, res.Recommendation)
	assert.Contains(t, res.ClarifyingQuestion, "setTimer")

	res = s.Simulate(context.Background(), "orderPizzaForEveryone", nil)
	assert.Equal(t, Abort, res.Recommendation)
	assert.NotEmpty(t, res.ClarifyingQuestion)
}

func TestPredictDiffs(t *testing.T) {
	d := PredictDiffs("deleteCalendarEvent", value.Object{"id": value.String("e1")})
	require.Len(t, d, 1)
	assert.Equal(t, snapshot.Removed, d[0].ChangeType)
	assert.Equal(t, []string{"calendarEvent"}, d[0].Path)

	d = PredictDiffs("addContact", value.Object{"name": value.String("Ana"), "email": value.String("a@x")})
	require.Len(t, d, 2)
	assert.Equal(t, []string{"contact", "email"}, d[0].Path)
	assert.Equal(t, snapshot.Added, d[1].ChangeType)

	assert.Nil(t, PredictDiffs("settle", nil))
	assert.Nil(t, PredictDiffs("turnOnLights", value.Object{"room": value.String("x")}))
}

func TestRecommendOrder(t *testing.T) {
	assert.Equal(t, Abort, Recommend(domain.RiskCritical, true, true))
	assert.Equal(t, Reconsider, Recommend(domain.RiskHigh, true, true))
	assert.Equal(t, Caution, Recommend(domain.RiskLow, false, true))
	assert.Equal(t, Reconsider, Recommend(domain.RiskLow, true, false))
	assert.Equal(t, Proceed, Recommend(domain.RiskNone, true, true))
}

func TestNearest(t *testing.T) {
	known := []string{"setTimer", "setReminder", "playMusic", "setVolume"}
	near := Nearest("settimer", known, 3)
	require.NotEmpty(t, near)
	assert.Equal(t, "setTimer", near[0])
	assert.NotContains(t, near, "playMusic")
	assert.Empty(t, Nearest("x", known, 3))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestConfidenceBounded(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	props := gopter.NewProperties(params)
	props.Property("confidence stays within [0.1, 1]", prop.ForAll(
		func(sim bool, warnings int, ext, rev bool) bool {
			c := Confidence(sim, warnings, ext, rev)
			return c >= 0.1 && c <= 1
		},
		gen.Bool(), gen.IntRange(0, 20), gen.Bool(), gen.Bool(),
	))
	props.TestingRun(t)
}
