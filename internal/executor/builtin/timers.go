package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/value"
)

// Timers handles timers, reminders and the clock.
type Timers struct {
	st  *State
	clk clock.Clock
}

func NewTimers(st *State, clk clock.Clock) *Timers {
	return &Timers{st: st, clk: clk}
}

func (t *Timers) Capabilities() []domain.Capability {
	return []domain.Capability{
		{
			Name:                 "setTimer",
			Description:          "Start a countdown timer",
			Category:             "time",
			RiskLevel:            domain.RiskNone,
			Reversible:           true,
			BlastRadius:          domain.BlastLocal,
			SupportsSimulation:   true,
			SupportsAutoApproval: true,
			EstimatedDuration:    50 * time.Millisecond,
			ParamsSchema: `{
				"type": "object",
				"properties": {
					"durationSeconds": {"type": "integer", "minimum": 1, "maximum": 86400},
					"label": {"type": "string", "maxLength": 200}
				},
				"required": ["durationSeconds"]
			}`,
		},
		{
			Name:                 "cancelTimer",
			Description:          "Cancel a running timer",
			Category:             "time",
			RiskLevel:            domain.RiskLow,
			Reversible:           false,
			BlastRadius:          domain.BlastLocal,
			SupportsSimulation:   true,
			SupportsAutoApproval: true,
			ParamsSchema: `{
				"type": "object",
				"properties": {"timerId": {"type": "string", "minLength": 1}},
				"required": ["timerId"]
			}`,
		},
		{
			Name:                 "setReminder",
			Description:          "Remind the user about something later",
			Category:             "time",
			RiskLevel:            domain.RiskLow,
			Reversible:           true,
			BlastRadius:          domain.BlastLocal,
			SupportsSimulation:   true,
			SupportsAutoApproval: true,
			ParamsSchema: `{
				"type": "object",
				"properties": {
					"message": {"type": "string", "minLength": 1},
					"inMinutes": {"type": "integer", "minimum": 1}
				},
				"required": ["message", "inMinutes"]
			}`,
		},
		{
			Name:        "getTime",
			Description: "Read the current time",
			Category:    "time",
			RiskLevel:   domain.RiskNone,
			Reversible:  true,
			BlastRadius: domain.BlastLocal,
			SafetyLevel: domain.SafetySafe,
		},
	}
}

func (t *Timers) Execute(_ context.Context, action string, params value.Object) (executor.Result, error) {
	now := t.clk.Now()
	switch action {
	case "setTimer":
		secs, _ := number(params, "durationSeconds")
		id := uuid.NewString()
		fires := now.Add(time.Duration(secs) * time.Second)
		t.st.set([]string{"timers", id}, value.Obj(value.Object{
			"label":   value.String(params.Str("label")),
			"firesAt": value.MustFrom(fires),
		}))
		return executor.Result{
			Success: true,
			Output:  value.Obj(value.Object{"timerId": value.String(id), "firesAt": value.MustFrom(fires)}),
			SideEffects: []executor.SideEffect{
				{Description: fmt.Sprintf("timer set for %s", time.Duration(secs)*time.Second), Reversible: true},
			},
		}, nil

	case "cancelTimer":
		id := params.Str("timerId")
		if !t.st.remove("timers", id) {
			return fail("no timer %q", id)
		}
		return executor.Result{
			Success:     true,
			Output:      value.Obj(value.Object{"timerId": value.String(id)}),
			SideEffects: []executor.SideEffect{{Description: "timer removed", Reversible: false}},
		}, nil

	case "setReminder":
		mins, _ := number(params, "inMinutes")
		id := uuid.NewString()
		due := now.Add(time.Duration(mins) * time.Minute)
		t.st.set([]string{"reminders", id}, value.Obj(value.Object{
			"message": value.String(params.Str("message")),
			"dueAt":   value.MustFrom(due),
		}))
		return executor.Result{
			Success:     true,
			Output:      value.Obj(value.Object{"reminderId": value.String(id), "dueAt": value.MustFrom(due)}),
			SideEffects: []executor.SideEffect{{Description: "reminder scheduled", Reversible: true}},
		}, nil

	case "getTime":
		return executor.Result{Success: true, Output: value.MustFrom(now)}, nil
	}
	return executor.Result{}, fmt.Errorf("timers: unsupported action %q", action)
}

func (t *Timers) Simulate(_ context.Context, action string, params value.Object) (executor.Prediction, error) {
	switch action {
	case "setTimer":
		secs, _ := number(params, "durationSeconds")
		p := executor.Prediction{
			WouldSucceed:         true,
			PredictedSideEffects: []executor.SideEffect{{Description: "timer created", Reversible: true}},
		}
		if running, ok := t.st.get("timers"); ok {
			if obj, _ := running.AsObject(); len(obj) >= 10 {
				p.Warnings = append(p.Warnings, fmt.Sprintf("%d timers already running", len(obj)))
			}
		}
		if secs > 6*3600 {
			p.Warnings = append(p.Warnings, "timer longer than six hours")
		}
		return p, nil
	case "cancelTimer":
		id := params.Str("timerId")
		if _, ok := t.st.get("timers", id); !ok {
			return executor.Prediction{WouldSucceed: false, Warnings: []string{fmt.Sprintf("no timer %q", id)}}, nil
		}
		return executor.Prediction{
			WouldSucceed:         true,
			PredictedSideEffects: []executor.SideEffect{{Description: "timer removed", Reversible: false}},
		}, nil
	case "setReminder":
		return executor.Prediction{
			WouldSucceed:         true,
			PredictedSideEffects: []executor.SideEffect{{Description: "reminder scheduled", Reversible: true}},
		}, nil
	}
	return executor.Prediction{WouldSucceed: true}, nil
}
