package transparency

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/store"
	"github.com/lazypower/aide/internal/value"
)

func newService(t *testing.T) (*Service, *clock.Fake) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	clk := clock.NewFake(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	return New(db, clk), clk
}

func intent(id, tool string) domain.Intent {
	return domain.Intent{
		ID: id, UserID: "u1", ToolName: tool, Source: domain.SourceUser,
		Params: value.Object{"room": value.String("kitchen")},
	}
}

func TestIndicatorLifecycle(t *testing.T) {
	s, clk := newService(t)

	a := s.StartIndicator(intent("i1", "turnOnLights"), PhaseExecuting, "turning on the kitchen lights")
	clk.Advance(time.Second)
	b := s.StartIndicator(intent("i2", "playMusic"), PhaseSimulating, "checking playMusic")

	active := s.ActiveIndicators()
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)

	s.SetPhase(b.ID, PhaseAwaiting)
	assert.Equal(t, PhaseAwaiting, s.ActiveIndicators()[1].Phase)

	s.StopIndicator(a.ID, "succeeded")
	s.StopIndicator(a.ID, "failed")

	assert.Len(t, s.ActiveIndicators(), 1)
	recent := s.RecentIndicators()
	require.Len(t, recent, 1)
	assert.Equal(t, "succeeded", recent[0].Outcome)
	require.NotNil(t, recent[0].EndedAt)
}

func TestRecentIndicatorsBounded(t *testing.T) {
	s, _ := newService(t)
	for i := 0; i < recentIndicators+10; i++ {
		ind := s.StartIndicator(intent("i", "getTime"), PhaseExecuting, "")
		s.StopIndicator(ind.ID, "succeeded")
	}
	assert.Len(t, s.RecentIndicators(), recentIndicators)
}

func TestHistoryFlow(t *testing.T) {
	s, _ := newService(t)
	in := intent("i1", "playMusic")

	h, err := s.Record(in, domain.LevelConfirmSimple)
	require.NoError(t, err)
	assert.Equal(t, `{"room":"kitchen"}`, h.Params)

	require.NoError(t, s.Await(h.ID))
	got, err := s.ForIntent("i1")
	require.NoError(t, err)
	assert.Equal(t, store.HistoryAwaiting, got.Status)

	require.NoError(t, s.Complete(h.ID, store.HistoryRejected, "", "user rejected"))
	got, _ = s.ForIntent("i1")
	assert.Equal(t, store.HistoryRejected, got.Status)

	assert.Error(t, s.Complete(h.ID, store.HistoryPending, "", ""))

	all, err := s.History("u1", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPermissions(t *testing.T) {
	s, clk := newService(t)

	_, err := s.Grant("u1", "sendMessage", "sometimes", "")
	assert.True(t, errors.Is(err, domain.ErrInvalidParams))

	p1, err := s.Grant("u1", "sendMessage", store.ScopeConfirm, "always ask")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = s.Grant("u1", "playMusic", store.ScopeAuto, "")
	require.NoError(t, err)

	perms, err := s.ActivePermissions("u1", "")
	require.NoError(t, err)
	assert.Len(t, perms, 2)

	require.NoError(t, s.Revoke(p1.ID))
	perms, _ = s.ActivePermissions("u1", "sendMessage")
	assert.Empty(t, perms)
}
