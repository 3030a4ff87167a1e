package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/aide/internal/autonomy"
	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/executor/builtin"
	"github.com/lazypower/aide/internal/goals"
	"github.com/lazypower/aide/internal/interrupt"
	"github.com/lazypower/aide/internal/memory"
	"github.com/lazypower/aide/internal/perception"
	"github.com/lazypower/aide/internal/prefs"
	"github.com/lazypower/aide/internal/simulate"
	"github.com/lazypower/aide/internal/snapshot"
	"github.com/lazypower/aide/internal/store"
	"github.com/lazypower/aide/internal/transparency"
	"github.com/lazypower/aide/internal/value"
)

var morning = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type harness struct {
	o       *Orchestrator
	clk     *clock.Fake
	db      *store.DB
	world   *perception.Static
	devices *builtin.State
	prefs   *prefs.Store
	events  <-chan Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewFake(morning)
	devices := builtin.NewState("kitchen", "office")
	reg := executor.NewRegistry()
	require.NoError(t, builtin.RegisterAll(reg, devices, clk))

	world := perception.NewStatic(clk)
	ps := prefs.New(db)
	trans := transparency.New(db, clk)

	o, err := New(Config{UserID: "u1"}, Deps{
		Tools:        reg,
		Simulator:    simulate.New(reg),
		Autonomy:     autonomy.NewEngine(ps, trans, autonomy.NewPatterns(0, 0)).WithClock(clk.Now),
		Goals:        goals.New(db).WithClock(clk.Now),
		Memory:       memory.New(db, nil, memory.DefaultConfig()).WithClock(clk.Now),
		Interrupts:   interrupt.New(interrupt.DefaultConfig(), clk),
		Snapshots:    snapshot.New(snapshot.Config{}).WithClock(clk.Now),
		Transparency: trans,
		Perception:   perception.WithDevices(world, devices),
		Prefs:        ps,
		Clock:        clk,
	})
	require.NoError(t, err)

	events, unsubscribe := o.Events().Subscribe()
	t.Cleanup(unsubscribe)
	t.Cleanup(func() { _ = o.Stop() })

	return &harness{o: o, clk: clk, db: db, world: world, devices: devices, prefs: ps, events: events}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.o.Start(context.Background()))
	h.drain()
}

func (h *harness) drain() []Event {
	var out []Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func ofType(events []Event, t EventType) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) history(t *testing.T, intentID string) *store.HistoryEntry {
	t.Helper()
	entry, err := h.db.HistoryForIntent(intentID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	return entry
}

func confidence(c float64) *float64 { return &c }

func TestLifecycle(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateStopped, h.o.State())
	assert.True(t, errors.Is(h.o.Pause(), domain.ErrInvalidState))

	require.NoError(t, h.o.Start(context.Background()))
	assert.Equal(t, StateRunning, h.o.State())
	assert.True(t, errors.Is(h.o.Start(context.Background()), domain.ErrInvalidState))

	require.NoError(t, h.o.Pause())
	assert.Equal(t, StatePaused, h.o.State())
	assert.True(t, h.o.Health().Healthy)
	require.NoError(t, h.o.Resume())

	require.NoError(t, h.o.Stop())
	assert.Equal(t, StateStopped, h.o.State())
	health := h.o.Health()
	assert.False(t, health.Healthy)
	assert.False(t, health.Loops["action"].Running)

	changes := ofType(h.drain(), EventStateChanged)
	assert.Len(t, changes, 6)
}

func TestSubmitRequiresRunning(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.SubmitRequest(context.Background(), Request{ToolName: "getTime"})
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestImmediateAutoApprovedAction(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	out, err := h.o.SubmitRequest(context.Background(), Request{ToolName: "getTime", Immediate: true})
	require.NoError(t, err)
	assert.Equal(t, string(store.HistorySucceeded), out.Status)
	assert.Equal(t, domain.LevelAutoApprove, out.Decision.Level)
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.Success)

	assert.Equal(t, store.HistorySucceeded, h.history(t, out.IntentID).Status)
	snaps, changes := h.o.Snapshots.Counts()
	assert.Equal(t, 2, snaps)
	assert.Equal(t, 1, changes)
	assert.Len(t, h.o.Snapshots.ChangesFor(out.IntentID), 1)

	mems, err := h.o.Memory.List(store.MemoryFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Contains(t, mems[0].Content, "Ran getTime")

	assert.Len(t, ofType(h.drain(), EventActionComplete), 1)
	assert.Empty(t, h.o.Transparency.ActiveIndicators())
}

func TestQueuedIntentRunsOnActionTick(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	out, err := h.o.SubmitRequest(ctx, Request{
		ToolName: "setTimer",
		Params:   value.Object{"durationSeconds": value.Int(300), "label": value.String("tea")},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, out.Status)
	assert.Equal(t, domain.LevelAnnounce, out.Decision.Level)
	assert.Len(t, ofType(h.drain(), EventIntentQueued), 1)

	require.NoError(t, h.o.actionTick(ctx))
	assert.Empty(t, h.o.QueuedIntents())

	timers, _ := h.devices.Devices().Lookup("timers")
	obj, _ := timers.AsObject()
	assert.Len(t, obj, 1)
	assert.Equal(t, store.HistorySucceeded, h.history(t, out.IntentID).Status)

	events := h.drain()
	assert.Len(t, ofType(events, EventActionComplete), 1)
	assert.Len(t, ofType(events, EventAnnouncement), 1)

	// the change record shows the new timer under devices
	rec := h.o.Snapshots.ChangesFor(out.IntentID)
	require.Len(t, rec, 1)
	found := false
	for _, d := range rec[0].Diffs {
		if len(d.Path) >= 2 && d.Path[0] == "devices" && d.Path[1] == "timers" {
			found = true
		}
	}
	assert.True(t, found, "diffs: %+v", rec[0].Diffs)
}

func TestActionTickSkipsWhenPaused(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, err := h.o.SubmitRequest(ctx, Request{ToolName: "getTime"})
	require.NoError(t, err)
	require.NoError(t, h.o.Pause())
	require.NoError(t, h.o.actionTick(ctx))
	assert.Len(t, h.o.QueuedIntents(), 1)

	require.NoError(t, h.o.Resume())
	require.NoError(t, h.o.actionTick(ctx))
	assert.Empty(t, h.o.QueuedIntents())
}

func TestQueueOrdersByPriority(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	for _, p := range []int{2, 9, 5, 9} {
		_, err := h.o.SubmitRequest(context.Background(), Request{ToolName: "getTime", Priority: p})
		require.NoError(t, err)
	}
	var got []int
	for _, in := range h.o.QueuedIntents() {
		got = append(got, in.Priority)
	}
	assert.Equal(t, []int{9, 9, 5, 2}, got)
}

func TestConfirmationFlow(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()
	params := value.Object{"query": value.String("jazz")}

	out, err := h.o.SubmitRequest(ctx, Request{ToolName: "playMusic", Params: params, Immediate: true})
	require.NoError(t, err)
	assert.Equal(t, StatusAwaiting, out.Status)
	assert.Equal(t, domain.LevelConfirmSimple, out.Decision.Level)
	require.NotNil(t, out.Simulation)
	assert.Equal(t, simulate.Proceed, out.Simulation.Recommendation)

	pending := h.o.PendingConfirmations()
	require.Len(t, pending, 1)
	assert.False(t, pending[0].Expired)
	assert.Equal(t, store.HistoryAwaiting, h.history(t, out.IntentID).Status)
	assert.Len(t, ofType(h.drain(), EventConfirmationRequired), 1)

	done, err := h.o.ConfirmAction(ctx, out.IntentID)
	require.NoError(t, err)
	assert.Equal(t, string(store.HistorySucceeded), done.Status)
	playing, _ := h.devices.Devices().Lookup("media", "playing")
	assert.True(t, playing.Equal(value.Bool(true)))
	assert.Equal(t, store.HistorySucceeded, h.history(t, out.IntentID).Status)

	_, err = h.o.ConfirmAction(ctx, out.IntentID)
	assert.True(t, errors.Is(err, domain.ErrConfirmationNotFound))
}

func TestLearnedApprovalsRelaxConfirmation(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()
	params := value.Object{"query": value.String("morning playlist")}

	for i := 0; i < 3; i++ {
		out, err := h.o.SubmitRequest(ctx, Request{ToolName: "playMusic", Params: params, Immediate: true})
		require.NoError(t, err)
		require.Equal(t, StatusAwaiting, out.Status)
		_, err = h.o.ConfirmAction(ctx, out.IntentID)
		require.NoError(t, err)
	}

	out, err := h.o.SubmitRequest(ctx, Request{ToolName: "playMusic", Params: params})
	require.NoError(t, err)
	assert.Equal(t, domain.LevelAnnounce, out.Decision.Level)
	assert.Equal(t, "Learned from previous approvals", out.Decision.Reason)
}

func TestRejectResetsPattern(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()
	params := value.Object{"to": value.String("Sam"), "body": value.String("on my way")}

	out, err := h.o.SubmitRequest(ctx, Request{ToolName: "sendMessage", Params: params, Immediate: true})
	require.NoError(t, err)
	assert.Equal(t, StatusAwaiting, out.Status)
	assert.Equal(t, domain.LevelConfirmDetailed, out.Decision.Level)

	rej, err := h.o.RejectAction(out.IntentID, "")
	require.NoError(t, err)
	assert.Equal(t, string(store.HistoryRejected), rej.Status)
	assert.Equal(t, store.HistoryRejected, h.history(t, out.IntentID).Status)
	assert.Empty(t, h.o.PendingConfirmations())

	outbox, _ := h.devices.Devices().Lookup("outbox")
	sent, _ := outbox.AsArray()
	assert.Empty(t, sent)
}

func TestExpiredConfirmationIsNotHonoured(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	out, err := h.o.SubmitRequest(ctx, Request{
		ToolName:  "playMusic",
		Params:    value.Object{"query": value.String("rain sounds")},
		Immediate: true,
	})
	require.NoError(t, err)
	require.Equal(t, StatusAwaiting, out.Status)

	h.clk.Set(morning.Add(2 * time.Minute))
	pending := h.o.PendingConfirmations()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Expired)

	_, err = h.o.ConfirmAction(ctx, out.IntentID)
	assert.True(t, errors.Is(err, domain.ErrConfirmationExpired))
	assert.Equal(t, store.HistoryExpired, h.history(t, out.IntentID).Status)
	assert.Empty(t, h.o.PendingConfirmations())
}

func TestLowConfidenceNeedsDetailedConfirmation(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	out, err := h.o.SubmitRequest(context.Background(), Request{
		ToolName:   "playMusic",
		Params:     value.Object{"query": value.String("jazz")},
		Confidence: confidence(0.4),
		Immediate:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LevelConfirmDetailed, out.Decision.Level)
	assert.Contains(t, out.Decision.DisplayMessage, "40%")
	assert.Equal(t, StatusAwaiting, out.Status)
	require.Len(t, h.o.PendingConfirmations(), 1)
	assert.Equal(t, morning.Add(300*time.Second), h.o.PendingConfirmations()[0].ExpiresAt)
}

func TestNightEscalatesTimer(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.world.SetUser(domain.UserContext{Mode: "night", State: "idle", Present: true})
	require.NoError(t, h.o.perceive(context.Background()))

	out, err := h.o.SubmitRequest(context.Background(), Request{
		ToolName:  "setTimer",
		Params:    value.Object{"durationSeconds": value.Int(60)},
		Immediate: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LevelConfirmSimple, out.Decision.Level)
	assert.Equal(t, StatusAwaiting, out.Status)
}

func TestDeniedByPreferences(t *testing.T) {
	h := newHarness(t)
	p := prefs.Defaults("u1")
	p.Autonomy.DeniedActions = []string{"setTimer"}
	require.NoError(t, h.prefs.Put(p))
	h.start(t)

	out, err := h.o.SubmitRequest(context.Background(), Request{
		ToolName: "setTimer",
		Params:   value.Object{"durationSeconds": value.Int(60)},
	})
	require.NoError(t, err)
	assert.Equal(t, string(store.HistoryDenied), out.Status)
	assert.Empty(t, h.o.QueuedIntents())
	assert.Equal(t, store.HistoryDenied, h.history(t, out.IntentID).Status)
	assert.Len(t, ofType(h.drain(), EventIntentDenied), 1)
}

func TestPreferencesTuneInterruptions(t *testing.T) {
	h := newHarness(t)
	p := prefs.Defaults("u1")
	p.Interruption.CooldownSeconds = 300
	require.NoError(t, h.prefs.Put(p))
	h.start(t)

	req := interrupt.Request{ID: "a", Type: interrupt.TypeNotification, Message: "a", Urgency: 5, CanDefer: true}
	require.True(t, h.o.Interrupts.ShouldInterrupt(req).Allowed)

	h.clk.Set(morning.Add(2 * time.Minute))
	req.ID = "b"
	d := h.o.Interrupts.ShouldInterrupt(req)
	assert.False(t, d.Allowed)
	assert.Equal(t, "cooldown", d.Reason)

	h.clk.Set(morning.Add(5 * time.Minute))
	req.ID = "c"
	assert.True(t, h.o.Interrupts.ShouldInterrupt(req).Allowed)
}

func TestRejectsUnknownToolAndBadParams(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, err := h.o.SubmitRequest(ctx, Request{ToolName: "setTimmer"})
	require.True(t, errors.Is(err, domain.ErrUnknownTool))
	assert.Contains(t, err.Error(), "setTimer")

	_, err = h.o.SubmitRequest(ctx, Request{ToolName: "setTimer", Params: value.Object{"durationSeconds": value.String("soon")}})
	assert.True(t, errors.Is(err, domain.ErrInvalidParams))
}

func TestQueuedIntentExpires(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	out, err := h.o.SubmitRequest(ctx, Request{ToolName: "getTime", ExpiresIn: time.Second})
	require.NoError(t, err)
	h.clk.Set(morning.Add(2 * time.Second))
	require.NoError(t, h.o.actionTick(ctx))
	assert.Equal(t, store.HistoryExpired, h.history(t, out.IntentID).Status)
}

func TestCognitionTickSuggestsNeglectedGoal(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	g, err := h.o.CreateGoal(goals.CreateInput{Description: "Plan the garden", Priority: 8, Steps: []string{"buy seeds"}})
	require.NoError(t, err)
	assert.Equal(t, "u1", g.UserID)

	h.clk.Set(morning.Add(11 * time.Minute))
	require.NoError(t, h.o.cognitionTick(context.Background()))

	events := h.drain()
	sugg := ofType(events, EventSuggestion)
	require.Len(t, sugg, 1)
	data := sugg[0].Data.(map[string]any)
	assert.Equal(t, g.ID, data["goal_id"])
	assert.Equal(t, "buy seeds", data["next_action"])
	assert.Len(t, ofType(events, EventHeartbeat), 1)
}

func TestPerceptionTickFeedsUserState(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.world.SetUser(domain.UserContext{Mode: "normal", State: "meeting", Present: true})
	require.NoError(t, h.o.perceptionTick(context.Background()))
	assert.Equal(t, interrupt.StateMeeting, h.o.Interrupts.State())

	h.world.SetUser(domain.UserContext{Mode: "normal", State: "idle", Present: false})
	require.NoError(t, h.o.perceptionTick(context.Background()))
	assert.Equal(t, interrupt.StateAway, h.o.Interrupts.State())
}

func TestTickIsolatesPanics(t *testing.T) {
	h := newHarness(t)
	l := newLoop(h.o, "boom", time.Second, func(context.Context) error { panic("kaboom") })
	l.tick(context.Background())
	l.tick(context.Background())

	st := l.snapshot()
	assert.Equal(t, int64(2), st.TickCount)
	assert.Equal(t, int64(2), st.ErrorCount)
	assert.Contains(t, st.LastError, "kaboom")
}

func TestLoopsTickOnClock(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.clk.Advance(time.Second)
	require.Eventually(t, func() bool {
		st := h.o.Status()
		return st.Loops["action"].TickCount >= 1 &&
			st.Loops["perception"].TickCount >= 1 &&
			st.Loops["cognition"].TickCount >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
