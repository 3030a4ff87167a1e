package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/value"
)

// Messaging records outgoing messages in an outbox instead of sending them.
type Messaging struct {
	st  *State
	clk clock.Clock
}

func NewMessaging(st *State, clk clock.Clock) *Messaging {
	return &Messaging{st: st, clk: clk}
}

func (m *Messaging) Capabilities() []domain.Capability {
	return []domain.Capability{{
		Name:               "sendMessage",
		Description:        "Send a text message to a contact",
		Category:           "communication",
		RiskLevel:          domain.RiskMedium,
		Reversible:         false,
		ExternalImpact:     true,
		BlastRadius:        domain.BlastExternal,
		SupportsSimulation: true,
		EstimatedDuration:  2 * time.Second,
		ParamsSchema: `{
			"type": "object",
			"properties": {
				"to": {"type": "string", "minLength": 1},
				"body": {"type": "string", "minLength": 1, "maxLength": 2000}
			},
			"required": ["to", "body"]
		}`,
	}}
}

func (m *Messaging) Execute(_ context.Context, action string, params value.Object) (executor.Result, error) {
	if action != "sendMessage" {
		return executor.Result{}, fmt.Errorf("messaging: unsupported action %q", action)
	}
	id := uuid.NewString()
	to := params.Str("to")
	m.st.appendTo([]string{"outbox"}, value.Obj(value.Object{
		"id":     value.String(id),
		"to":     value.String(to),
		"body":   value.String(params.Str("body")),
		"sentAt": value.MustFrom(m.clk.Now()),
	}))
	return executor.Result{
		Success:     true,
		Output:      value.Obj(value.Object{"messageId": value.String(id)}),
		SideEffects: []executor.SideEffect{{Description: "message delivered to " + to, Reversible: false}},
	}, nil
}

func (m *Messaging) Simulate(_ context.Context, _ string, params value.Object) (executor.Prediction, error) {
	p := executor.Prediction{
		WouldSucceed:         true,
		PredictedSideEffects: []executor.SideEffect{{Description: "message delivered to " + params.Str("to"), Reversible: false}},
	}
	if !m.knownRecipient(params.Str("to")) {
		p.Warnings = append(p.Warnings, "first message to this recipient")
	}
	return p, nil
}

func (m *Messaging) knownRecipient(to string) bool {
	out, _ := m.st.get("outbox")
	sent, _ := out.AsArray()
	for _, msg := range sent {
		obj, _ := msg.AsObject()
		if strings.EqualFold(obj.Str("to"), to) {
			return true
		}
	}
	return false
}
