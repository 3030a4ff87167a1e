package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/interrupt"
	"github.com/lazypower/aide/internal/memory"
	"github.com/lazypower/aide/internal/simulate"
	"github.com/lazypower/aide/internal/snapshot"
	"github.com/lazypower/aide/internal/store"
	"github.com/lazypower/aide/internal/transparency"
	"github.com/lazypower/aide/internal/value"
)

// Outcome statuses beyond the terminal history statuses.
const (
	StatusQueued   = "queued"
	StatusAwaiting = string(store.HistoryAwaiting)
)

// Request is a planner or client asking for one action.
type Request struct {
	UserID     string        `json:"user_id,omitempty"`
	ToolName   string        `json:"tool_name"`
	Params     value.Object  `json:"params,omitempty"`
	Source     domain.Source `json:"source,omitempty"`
	Priority   int           `json:"priority,omitempty"`
	Confidence *float64      `json:"confidence,omitempty"`
	Immediate  bool          `json:"immediate,omitempty"`
	GoalID     string        `json:"goal_id,omitempty"`
	ExpiresIn  time.Duration `json:"expires_in,omitempty"`
}

// Outcome is what happened to an intent, as far as it got.
type Outcome struct {
	IntentID   string           `json:"intent_id"`
	ToolName   string           `json:"tool_name"`
	Status     string           `json:"status"`
	Decision   domain.Decision  `json:"decision"`
	Result     *executor.Result `json:"result,omitempty"`
	Simulation *simulate.Result `json:"simulation,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// Pending is an intent waiting for the user's yes or no.
type Pending struct {
	Intent      domain.Intent     `json:"intent"`
	Decision    domain.Decision   `json:"decision"`
	Simulation  *simulate.Result  `json:"simulation,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Expired     bool              `json:"expired"`
	tool        domain.Capability
	historyID   string
	goalID      string
}

// SubmitRequest builds an intent, decides how much autonomy it gets and
// either runs it now (Immediate) or queues it for the action loop.
func (o *Orchestrator) SubmitRequest(ctx context.Context, req Request) (Outcome, error) {
	if st := o.State(); st != StateRunning && st != StatePaused {
		return Outcome{}, domain.ErrInvalidState.Wrap(fmt.Sprintf("orchestrator is %s", st))
	}
	tool, ok := o.Tools.Capability(req.ToolName)
	if !ok {
		detail := req.ToolName
		if o.Simulator != nil {
			if q := o.Simulator.Simulate(ctx, req.ToolName, req.Params).ClarifyingQuestion; q != "" {
				detail = q
			}
		}
		return Outcome{}, domain.ErrUnknownTool.Wrap(detail)
	}
	if err := o.Tools.Validate(req.ToolName, req.Params); err != nil {
		return Outcome{}, err
	}

	intent := o.newIntent(req)
	decision := o.Autonomy.Evaluate(intent, &tool, o.World())
	intent.RequiresConfirmation = decision.Level.NeedsConfirmation()
	intent.RequiresSimulation = needsSimulation(tool, decision.Level)

	h, err := o.Transparency.Record(intent, decision.Level)
	if err != nil {
		return Outcome{}, err
	}
	item := &queued{intent: intent, decision: decision, tool: tool, historyID: h.ID, goalID: req.GoalID}
	out := Outcome{IntentID: intent.ID, ToolName: intent.ToolName, Decision: decision}

	if decision.Level == domain.LevelDeny {
		o.complete(item, store.HistoryDenied, "", decision.Reason)
		o.publish(EventIntentDenied, map[string]any{"intent": intent, "reason": decision.Reason})
		out.Status, out.Message = string(store.HistoryDenied), decision.Reason
		return out, nil
	}

	if req.Immediate {
		return o.processIntent(ctx, item), nil
	}
	if !o.queue.push(item) {
		o.complete(item, store.HistoryAborted, "", "intent queue full")
		return Outcome{}, domain.ErrInvalidState.Wrap("intent queue full")
	}
	o.publish(EventIntentQueued, map[string]any{"intent": intent, "decision": decision})
	out.Status = StatusQueued
	return out, nil
}

func (o *Orchestrator) newIntent(req Request) domain.Intent {
	now := o.clk.Now()
	userID := req.UserID
	if userID == "" {
		userID = o.cfg.UserID
	}
	source := req.Source
	if source == "" {
		source = domain.SourceUser
	}
	confidence := 1.0
	if req.Confidence != nil {
		confidence = min(max(*req.Confidence, 0), 1)
	}
	ttl := req.ExpiresIn
	if ttl <= 0 {
		ttl = o.cfg.IntentTTL
	}
	expires := now.Add(ttl)
	params := req.Params.Clone()
	if params == nil {
		params = value.Object{}
	}
	return domain.Intent{
		ID:         uuid.NewString(),
		UserID:     userID,
		ToolName:   req.ToolName,
		Params:     params,
		Source:     source,
		Priority:   domain.ClampPriority(req.Priority),
		Confidence: confidence,
		CreatedAt:  now,
		ExpiresAt:  &expires,
	}
}

// needsSimulation asks for a dry run whenever the user is asked, or when the
// tool is risky or cannot be undone.
func needsSimulation(tool domain.Capability, level domain.AutonomyLevel) bool {
	return level.NeedsConfirmation() ||
		!tool.Reversible ||
		tool.RiskLevel.Rank() >= domain.RiskMedium.Rank()
}

// processIntent carries one intent as far as it can go: snapshot, simulate,
// pause for confirmation, execute, snapshot, record.
func (o *Orchestrator) processIntent(ctx context.Context, item *queued) Outcome {
	in := item.intent
	out := Outcome{IntentID: in.ID, ToolName: in.ToolName, Decision: item.decision}

	if in.Expired(o.clk.Now()) {
		o.complete(item, store.HistoryExpired, "", "intent expired before it ran")
		out.Status, out.Message = string(store.HistoryExpired), "intent expired before it ran"
		return out
	}

	trigger := snapshot.Trigger{Type: "action", ActionID: in.ID, UserID: in.UserID, Description: in.ToolName}
	before := o.stateTree(ctx)
	o.Snapshots.CreateSnapshot(before, withType(trigger, "before_action"))

	phase := transparency.PhaseExecuting
	if in.RequiresSimulation && !in.Confirmed {
		phase = transparency.PhaseSimulating
	}
	ind := o.Transparency.StartIndicator(in, phase, describe(item))

	if !in.Confirmed {
		var sim *simulate.Result
		if in.RequiresSimulation && o.Simulator != nil {
			r := o.Simulator.Simulate(ctx, in.ToolName, in.Params)
			sim = &r
			out.Simulation = sim
			if r.Recommendation == simulate.Abort {
				msg := "simulation recommends abort"
				if len(r.Risk.Factors) > 0 {
					msg += ": " + r.Risk.Factors[0]
				}
				o.Transparency.StopIndicator(ind.ID, string(store.HistoryAborted))
				o.complete(item, store.HistoryAborted, "", msg)
				out.Status, out.Message = string(store.HistoryAborted), msg
				o.publish(EventActionComplete, out)
				return out
			}
		}
		if in.RequiresConfirmation || sim != nil && sim.Recommendation == simulate.Reconsider {
			o.awaitConfirmation(item, sim)
			o.Transparency.StopIndicator(ind.ID, StatusAwaiting)
			out.Status = StatusAwaiting
			out.Message = item.decision.DisplayMessage
			return out
		}
	}

	o.Transparency.SetPhase(ind.ID, transparency.PhaseExecuting)
	res, err := o.Tools.Execute(ctx, in.ToolName, in.Params)
	if err != nil {
		res = executor.Result{Success: false, Error: err.Error()}
	}
	out.Result = &res

	after := o.stateTree(ctx)
	o.Snapshots.CreateSnapshot(after, withType(trigger, "after_action"))
	o.Snapshots.RecordChange(before, after, trigger)

	status := store.HistorySucceeded
	if !res.Success {
		status = store.HistoryFailed
		out.Message = res.Error
		if res.Unrecoverable {
			o.logger.Error("unrecoverable action failure", "intent", in.ID, "tool", in.ToolName, "err", res.Error)
		}
	}
	out.Status = string(status)

	o.remember(ctx, in, res)
	var summary string
	if !res.Output.IsNull() {
		summary = res.Output.Text()
	}
	o.complete(item, status, summary, res.Error)
	if res.Success && item.goalID != "" {
		if _, err := o.Goals.RecordInteraction(item.goalID); err != nil {
			o.logger.Warn("goal interaction not recorded", "goal", item.goalID, "err", err)
		}
	}
	if res.Success && item.decision.Level == domain.LevelAnnounce {
		o.announce(in, item.decision)
	}
	o.Transparency.StopIndicator(ind.ID, string(status))
	o.publish(EventActionComplete, out)
	return out
}

func withType(t snapshot.Trigger, typ string) snapshot.Trigger {
	t.Type = typ
	return t
}

func describe(item *queued) string {
	if item.decision.DisplayMessage != "" {
		return item.decision.DisplayMessage
	}
	if item.tool.Description != "" {
		return item.tool.Description
	}
	return item.intent.ToolName
}

// stateTree observes the world now; on failure it falls back to the last
// perceived state.
func (o *Orchestrator) stateTree(ctx context.Context) value.Value {
	w, err := o.Perception.Observe(ctx)
	if err != nil {
		w = o.World()
	}
	return value.Obj(w.Tree())
}

// remember files the outcome as an ephemeral memory. Repeating the same
// action reinforces the existing memory.
func (o *Orchestrator) remember(ctx context.Context, in domain.Intent, res executor.Result) {
	verb, importance := "Ran", 3
	if !res.Success {
		verb, importance = "Failed to run", 6
	}
	content := fmt.Sprintf("%s %s with %s", verb, in.ToolName, in.Params.Serialize())
	if _, _, err := o.Memory.Remember(ctx, memory.RememberInput{
		UserID:     in.UserID,
		Content:    content,
		Type:       memory.Ephemeral,
		Category:   "action",
		Importance: importance,
	}); err != nil {
		o.logger.Warn("outcome not remembered", "intent", in.ID, "err", err)
	}
}

func (o *Orchestrator) complete(item *queued, status store.HistoryStatus, outcome, errMsg string) {
	if err := o.Transparency.Complete(item.historyID, status, outcome, errMsg); err != nil {
		o.logger.Warn("history not completed", "intent", item.intent.ID, "err", err)
	}
	o.metrics.intent(context.Background(), item.intent.ToolName, string(status))
}

func (o *Orchestrator) announce(in domain.Intent, d domain.Decision) {
	req := interrupt.Request{
		ID:      in.ID,
		Type:    interrupt.TypeNotification,
		Source:  in.ToolName,
		Message: d.DisplayMessage,
		Urgency: 3,
	}
	decision := o.Interrupts.ShouldInterrupt(req)
	o.publish(EventAnnouncement, map[string]any{
		"intent_id": in.ID,
		"message":   d.DisplayMessage,
		"method":    o.Interrupts.GetDeliveryMethod(decision, req.Urgency),
	})
}

func (o *Orchestrator) awaitConfirmation(item *queued, sim *simulate.Result) {
	now := o.clk.Now()
	ttl := o.cfg.ConfirmationTTL
	if s := item.decision.ExpiresInSeconds; s > 0 {
		ttl = time.Duration(s) * time.Second
	}
	p := &Pending{
		Intent:      item.intent,
		Decision:    item.decision,
		Simulation:  sim,
		RequestedAt: now,
		ExpiresAt:   now.Add(ttl),
		tool:        item.tool,
		historyID:   item.historyID,
		goalID:      item.goalID,
	}
	o.mu.Lock()
	o.pending[item.intent.ID] = p
	o.mu.Unlock()

	if err := o.Transparency.Await(item.historyID); err != nil {
		o.logger.Warn("history not marked awaiting", "intent", item.intent.ID, "err", err)
	}
	req := interrupt.Request{
		ID:       item.intent.ID,
		Type:     interrupt.TypeAlert,
		Source:   item.intent.ToolName,
		Message:  item.decision.DisplayMessage,
		Urgency:  item.intent.Priority,
		CanDefer: true,
	}
	decision := o.Interrupts.ShouldInterrupt(req)
	o.publish(EventConfirmationRequired, map[string]any{
		"pending": *p,
		"method":  o.Interrupts.GetDeliveryMethod(decision, req.Urgency),
	})
}

// takePending removes a confirmation. Expired confirmations are removed
// too, but reported as expired rather than returned.
func (o *Orchestrator) takePending(id string) (*Pending, error) {
	o.mu.Lock()
	p, ok := o.pending[id]
	if ok {
		delete(o.pending, id)
	}
	o.mu.Unlock()
	if !ok {
		return nil, domain.ErrConfirmationNotFound.Wrap(id)
	}
	if !o.clk.Now().Before(p.ExpiresAt) {
		o.complete(&queued{intent: p.Intent, historyID: p.historyID}, store.HistoryExpired, "", "confirmation expired")
		return nil, domain.ErrConfirmationExpired.Wrap(id)
	}
	return p, nil
}

// ConfirmAction approves a pending intent and runs it now. The approval
// teaches the autonomy engine's pattern cache.
func (o *Orchestrator) ConfirmAction(ctx context.Context, intentID string) (Outcome, error) {
	p, err := o.takePending(intentID)
	if err != nil {
		return Outcome{}, err
	}
	in := p.Intent
	in.Confirmed = true
	o.Autonomy.Patterns().RecordApproval(in, o.World())
	if err := o.Transparency.Resume(p.historyID); err != nil {
		o.logger.Warn("history not resumed", "intent", in.ID, "err", err)
	}
	o.logger.Info("confirmed", "intent", in.ID, "tool", in.ToolName)
	return o.processIntent(ctx, &queued{
		intent:    in,
		decision:  p.Decision,
		tool:      p.tool,
		historyID: p.historyID,
		goalID:    p.goalID,
	}), nil
}

// RejectAction drops a pending intent and resets its learned approvals.
func (o *Orchestrator) RejectAction(intentID, reason string) (Outcome, error) {
	p, err := o.takePending(intentID)
	if err != nil {
		return Outcome{}, err
	}
	if reason == "" {
		reason = "rejected by user"
	}
	o.Autonomy.Patterns().RecordRejection(p.Intent)
	item := &queued{intent: p.Intent, decision: p.Decision, historyID: p.historyID}
	o.complete(item, store.HistoryRejected, "", reason)
	out := Outcome{
		IntentID: p.Intent.ID,
		ToolName: p.Intent.ToolName,
		Status:   string(store.HistoryRejected),
		Decision: p.Decision,
		Message:  reason,
	}
	o.publish(EventActionComplete, out)
	o.logger.Info("rejected", "intent", intentID, "tool", p.Intent.ToolName)
	return out, nil
}

// PendingConfirmations lists confirmations oldest first. Expired entries
// stay listed, flagged, until someone tries to resolve them.
func (o *Orchestrator) PendingConfirmations() []Pending {
	now := o.clk.Now()
	o.mu.Lock()
	out := make([]Pending, 0, len(o.pending))
	for _, p := range o.pending {
		cp := *p
		cp.Expired = !now.Before(p.ExpiresAt)
		out = append(out, cp)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}
