// Package orchestrator coordinates perception, cognition and action: it
// owns the intent queue, the confirmation workflow and the periodic loops
// that keep goals, memories and the interruption budget current.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lazypower/aide/internal/autonomy"
	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/goals"
	"github.com/lazypower/aide/internal/interrupt"
	"github.com/lazypower/aide/internal/memory"
	"github.com/lazypower/aide/internal/perception"
	"github.com/lazypower/aide/internal/prefs"
	"github.com/lazypower/aide/internal/simulate"
	"github.com/lazypower/aide/internal/snapshot"
	"github.com/lazypower/aide/internal/transparency"
	"github.com/lazypower/aide/internal/value"
)

// State is the orchestrator lifecycle.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// Tools is the executor registry as seen by the orchestrator.
type Tools interface {
	Capability(name string) (domain.Capability, bool)
	Validate(name string, params value.Object) error
	Execute(ctx context.Context, name string, params value.Object) (executor.Result, error)
}

// Simulator predicts an action's effects.
type Simulator interface {
	Simulate(ctx context.Context, action string, params value.Object) simulate.Result
}

// Preferences supplies per-user settings that tune the interruption budget.
type Preferences interface {
	Get(userID string) (prefs.Preferences, error)
}

// Config holds loop cadences and housekeeping intervals. Zero values take
// the defaults.
type Config struct {
	UserID             string
	PerceptionInterval time.Duration
	CognitionInterval  time.Duration
	ActionInterval     time.Duration
	DecayInterval      time.Duration
	HeartbeatInterval  time.Duration
	SuggestionInterval time.Duration
	IntentTTL          time.Duration
	ConfirmationTTL    time.Duration // when the decision names no expiry
	QueueLimit         int
	EventBuffer        int
}

// DefaultConfig returns the standard cadences.
func DefaultConfig() Config {
	return Config{
		UserID:             "default",
		PerceptionInterval: 500 * time.Millisecond,
		CognitionInterval:  time.Second,
		ActionInterval:     100 * time.Millisecond,
		DecayInterval:      5 * time.Minute,
		HeartbeatInterval:  30 * time.Second,
		SuggestionInterval: 10 * time.Minute,
		IntentTTL:          10 * time.Minute,
		ConfirmationTTL:    2 * time.Minute,
		QueueLimit:         256,
		EventBuffer:        64,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.UserID == "" {
		c.UserID = def.UserID
	}
	if c.PerceptionInterval <= 0 {
		c.PerceptionInterval = def.PerceptionInterval
	}
	if c.CognitionInterval <= 0 {
		c.CognitionInterval = def.CognitionInterval
	}
	if c.ActionInterval <= 0 {
		c.ActionInterval = def.ActionInterval
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = def.DecayInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.SuggestionInterval <= 0 {
		c.SuggestionInterval = def.SuggestionInterval
	}
	if c.IntentTTL <= 0 {
		c.IntentTTL = def.IntentTTL
	}
	if c.ConfirmationTTL <= 0 {
		c.ConfirmationTTL = def.ConfirmationTTL
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = def.QueueLimit
	}
	return c
}

// Deps are the collaborating services. Prefs may be nil.
type Deps struct {
	Tools        Tools
	Simulator    Simulator
	Autonomy     *autonomy.Engine
	Goals        *goals.Service
	Memory       *memory.Service
	Interrupts   *interrupt.Manager
	Snapshots    *snapshot.Engine
	Transparency *transparency.Service
	Perception   perception.Source
	Prefs        Preferences
	Clock        clock.Clock
}

// Orchestrator is the top-level coordinator.
type Orchestrator struct {
	cfg Config
	Deps
	clk     clock.Clock
	logger  *slog.Logger
	metrics metrics
	events  *Bus
	queue   *intentQueue

	mu        sync.Mutex
	state     State
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	loops     []*loop
	world     domain.WorldState
	pending   map[string]*Pending

	// cognition bookkeeping, touched only by the cognition loop
	lastDecay      time.Time
	lastHeartbeat  time.Time
	lastSuggestion time.Time
}

// New wires an orchestrator. It starts stopped.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Tools == nil || deps.Autonomy == nil || deps.Perception == nil {
		return nil, fmt.Errorf("orchestrator: tools, autonomy and perception are required")
	}
	if deps.Goals == nil || deps.Memory == nil || deps.Interrupts == nil || deps.Snapshots == nil || deps.Transparency == nil {
		return nil, fmt.Errorf("orchestrator: goal, memory, interrupt, snapshot and transparency services are required")
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "orchestrator")
	o := &Orchestrator{
		cfg:     cfg,
		Deps:    deps,
		clk:     clk,
		logger:  logger,
		metrics: newMetrics(logger),
		events:  NewBus(cfg.EventBuffer),
		queue:   newIntentQueue(cfg.QueueLimit),
		state:   StateStopped,
		pending: make(map[string]*Pending),
	}
	o.loops = []*loop{
		newLoop(o, "perception", cfg.PerceptionInterval, o.perceptionTick),
		newLoop(o, "cognition", cfg.CognitionInterval, o.cognitionTick),
		newLoop(o, "action", cfg.ActionInterval, o.actionTick),
	}
	return o, nil
}

// Events returns the event bus.
func (o *Orchestrator) Events() *Bus { return o.events }

// UserID is the user the orchestrator acts for by default.
func (o *Orchestrator) UserID() string { return o.cfg.UserID }

// Start takes one observation, then launches the loops.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.transition(StateStarting, StateStopped); err != nil {
		return err
	}
	o.syncPreferences()
	if err := o.perceive(ctx); err != nil {
		o.logger.Warn("initial perception failed", "err", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := o.clk.Now()
	o.mu.Lock()
	o.cancel = cancel
	o.startedAt = now
	o.mu.Unlock()
	o.lastHeartbeat, o.lastSuggestion = now, now

	for _, l := range o.loops {
		o.wg.Add(1)
		l.run(loopCtx, o.clk, &o.wg)
	}
	if err := o.transition(StateRunning, StateStarting); err != nil {
		return err
	}
	o.logger.Info("started", "user", o.cfg.UserID)
	return nil
}

// Stop cancels the loops and waits for in-flight ticks to finish.
func (o *Orchestrator) Stop() error {
	if err := o.transition(StateStopping, StateRunning, StatePaused); err != nil {
		return err
	}
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
	if err := o.transition(StateStopped, StateStopping); err != nil {
		return err
	}
	o.logger.Info("stopped")
	return nil
}

// Pause suspends cognition and action ticks; perception keeps running.
func (o *Orchestrator) Pause() error {
	return o.transition(StatePaused, StateRunning)
}

// Resume continues after Pause.
func (o *Orchestrator) Resume() error {
	return o.transition(StateRunning, StatePaused)
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State, from ...State) error {
	o.mu.Lock()
	cur := o.state
	ok := false
	for _, f := range from {
		if cur == f {
			ok = true
			break
		}
	}
	if !ok {
		o.mu.Unlock()
		return domain.ErrInvalidState.Wrap(fmt.Sprintf("cannot move from %s to %s", cur, to))
	}
	o.state = to
	o.mu.Unlock()

	o.publish(EventStateChanged, map[string]any{"from": cur, "to": to})
	return nil
}

func (o *Orchestrator) publish(t EventType, data any) {
	o.events.Publish(Event{Type: t, Timestamp: o.clk.Now(), Data: data})
}

// World returns the latest perceived world state.
func (o *Orchestrator) World() domain.WorldState {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.world
	w.Devices = o.world.Devices.Clone()
	return w
}

// Status is the control-surface view of the orchestrator.
type Status struct {
	State                State                 `json:"state"`
	UserID               string                `json:"user_id"`
	Uptime               time.Duration         `json:"uptime"`
	Loops                map[string]LoopStatus `json:"loops"`
	QueueLength          int                   `json:"queue_length"`
	PendingConfirmations int                   `json:"pending_confirmations"`
	UserState            interrupt.UserState   `json:"user_state"`
	Interruptions        interrupt.Stats       `json:"interruptions"`
	Snapshots            int                   `json:"snapshots"`
	Changes              int                   `json:"changes"`
	LearnedPatterns      int                   `json:"learned_patterns"`
	ActiveIndicators     int                   `json:"active_indicators"`
}

// Status reports loop health and queue depths.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		State:                o.state,
		UserID:               o.cfg.UserID,
		PendingConfirmations: len(o.pending),
	}
	if o.state == StateRunning || o.state == StatePaused {
		st.Uptime = o.clk.Now().Sub(o.startedAt)
	}
	o.mu.Unlock()

	st.Loops = make(map[string]LoopStatus, len(o.loops))
	for _, l := range o.loops {
		st.Loops[l.name] = l.snapshot()
	}
	st.QueueLength = o.queue.len()
	st.UserState = o.Interrupts.State()
	st.Interruptions = o.Interrupts.Stats()
	st.Snapshots, st.Changes = o.Snapshots.Counts()
	st.LearnedPatterns = o.Autonomy.Patterns().Len()
	st.ActiveIndicators = len(o.Transparency.ActiveIndicators())
	return st
}

// Health is the liveness view.
type Health struct {
	Healthy bool                  `json:"healthy"`
	State   State                 `json:"state"`
	Loops   map[string]LoopStatus `json:"loops"`
}

// Health is healthy while running or paused with every loop alive.
func (o *Orchestrator) Health() Health {
	st := o.State()
	h := Health{State: st, Loops: make(map[string]LoopStatus, len(o.loops))}
	h.Healthy = st == StateRunning || st == StatePaused
	for _, l := range o.loops {
		ls := l.snapshot()
		h.Loops[l.name] = ls
		if !ls.Running {
			h.Healthy = false
		}
	}
	return h
}

// QueuedIntents lists intents waiting for the action loop, in run order.
func (o *Orchestrator) QueuedIntents() []domain.Intent {
	return o.queue.snapshot()
}

// CreateGoal stores a goal for the default user unless one is given.
func (o *Orchestrator) CreateGoal(in goals.CreateInput) (*goals.Goal, error) {
	if in.UserID == "" {
		in.UserID = o.cfg.UserID
	}
	g, err := o.Goals.Create(in)
	if err != nil {
		return nil, err
	}
	o.logger.Info("goal created", "goal", g.ID, "priority", g.Priority)
	return g, nil
}

// syncPreferences applies the user's interruption settings to the budget.
func (o *Orchestrator) syncPreferences() {
	if o.Prefs == nil {
		return
	}
	p, err := o.Prefs.Get(o.cfg.UserID)
	if err != nil {
		o.logger.Warn("preferences unavailable", "err", err)
	}
	o.Interrupts.SetMaxPerHour(p.Interruption.MaxPerHour)
	o.Interrupts.SetCooldown(time.Duration(p.Interruption.CooldownSeconds) * time.Second)
	if p.Interruption.QuietHours.Enabled {
		o.Interrupts.SetQuietHours(p.Interruption.QuietHours.Contains)
	} else {
		o.Interrupts.SetQuietHours(nil)
	}
}
