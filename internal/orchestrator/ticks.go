package orchestrator

import (
	"context"
	"fmt"

	"github.com/lazypower/aide/internal/interrupt"
)

// perceptionTick refreshes the world state, feeds the user's state to the
// interruption budget and releases deferred interruptions.
func (o *Orchestrator) perceptionTick(ctx context.Context) error {
	if err := o.perceive(ctx); err != nil {
		return err
	}
	for _, req := range o.Interrupts.DrainDeferred() {
		o.publish(EventSuggestion, map[string]any{
			"deferred": true,
			"request":  req,
			"method":   interrupt.DeliverDisplay,
		})
	}
	return nil
}

func (o *Orchestrator) perceive(ctx context.Context) error {
	w, err := o.Perception.Observe(ctx)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	o.mu.Lock()
	o.world = w
	o.mu.Unlock()

	st := interrupt.UserState(w.User.State)
	switch {
	case !w.User.Present:
		st = interrupt.StateAway
	case w.User.Mode == "dnd":
		st = interrupt.StateDND
	}
	if st.Valid() {
		o.Interrupts.SetState(st)
	}
	return nil
}

// cognitionTick runs the periodic housekeeping: decay, heartbeats and
// proactive goal suggestions. Decay failures are logged and retried on the
// next interval; decay is idempotent so a skipped run loses nothing.
func (o *Orchestrator) cognitionTick(ctx context.Context) error {
	if o.State() != StateRunning {
		return nil
	}
	now := o.clk.Now()

	if o.lastDecay.IsZero() || now.Sub(o.lastDecay) >= o.cfg.DecayInterval {
		o.lastDecay = now
		o.syncPreferences()
		if r, err := o.Goals.ApplyDecay(); err != nil {
			o.logger.Warn("goal decay failed", "err", err)
		} else if r.Expired > 0 {
			o.logger.Info("goals expired", "count", r.Expired)
		}
		if r, err := o.Memory.ApplyDecay(); err != nil {
			o.logger.Warn("memory decay failed", "err", err)
		} else if r.Pruned > 0 {
			o.logger.Info("memories pruned", "count", r.Pruned)
		}
	}

	if now.Sub(o.lastHeartbeat) >= o.cfg.HeartbeatInterval {
		o.lastHeartbeat = now
		st := o.Status()
		o.publish(EventHeartbeat, map[string]any{
			"state":                 st.State,
			"queue_length":          st.QueueLength,
			"pending_confirmations": st.PendingConfirmations,
			"user_state":            st.UserState,
		})
	}

	if now.Sub(o.lastSuggestion) >= o.cfg.SuggestionInterval {
		o.lastSuggestion = now
		o.suggest()
	}
	return nil
}

// suggest offers the most neglected goal's next step when the budget has
// room for a suggestion.
func (o *Orchestrator) suggest() {
	if !o.Interrupts.CanSuggest() {
		return
	}
	gs, err := o.Goals.Suggestions(o.cfg.UserID, 1)
	if err != nil {
		o.logger.Warn("goal suggestions failed", "err", err)
		return
	}
	if len(gs) == 0 {
		return
	}
	g := gs[0]
	req := interrupt.Request{
		ID:      g.ID,
		Type:    interrupt.TypeSuggestion,
		Source:  "goals",
		Message: fmt.Sprintf("Next step for %q: %s", g.Description, g.NextActions[0]),
		Urgency: 3,
	}
	d := o.Interrupts.ShouldInterrupt(req)
	if !d.Allowed {
		return
	}
	o.publish(EventSuggestion, map[string]any{
		"goal_id":     g.ID,
		"description": g.Description,
		"next_action": g.NextActions[0],
		"message":     req.Message,
		"method":      o.Interrupts.GetDeliveryMethod(d, req.Urgency),
	})
}

// actionTick runs at most one queued intent.
func (o *Orchestrator) actionTick(ctx context.Context) error {
	if o.State() != StateRunning {
		return nil
	}
	item, ok := o.queue.pop()
	if !ok {
		return nil
	}
	o.processIntent(ctx, item)
	return nil
}
