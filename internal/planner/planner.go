// Package planner turns a natural-language request into intents by asking
// the language model for tool-call proposals, then hands each proposal to
// the orchestrator for governance.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/goals"
	"github.com/lazypower/aide/internal/llm"
	"github.com/lazypower/aide/internal/memory"
	"github.com/lazypower/aide/internal/orchestrator"
	"github.com/lazypower/aide/internal/store"
	"github.com/lazypower/aide/internal/value"
)

// MaxProposals bounds the intents taken from one model reply.
const MaxProposals = 5

// ErrEmptyRequest is returned for blank input.
var ErrEmptyRequest = errors.New("planner: empty request")

// Submitter is the orchestrator surface the planner needs.
type Submitter interface {
	SubmitRequest(ctx context.Context, req orchestrator.Request) (orchestrator.Outcome, error)
	World() domain.WorldState
	UserID() string
}

// ToolLister lists registered tools.
type ToolLister interface {
	Capabilities() []domain.Capability
}

// Recaller finds memories relevant to a request.
type Recaller interface {
	Recall(ctx context.Context, query string, opts memory.RecallOptions) ([]memory.Scored, error)
}

// GoalLister lists a user's goals.
type GoalLister interface {
	List(userID string, statuses ...store.GoalStatus) ([]goals.Goal, error)
}

// Planner proposes and submits intents.
type Planner struct {
	client llm.Client
	orch   Submitter
	tools  ToolLister
	memory Recaller
	goals  GoalLister
	logger *slog.Logger
}

// New creates a planner. memory and goals may be nil.
func New(client llm.Client, orch Submitter, tools ToolLister, mem Recaller, gl GoalLister) *Planner {
	return &Planner{
		client: client,
		orch:   orch,
		tools:  tools,
		memory: mem,
		goals:  gl,
		logger: slog.Default().With("component", "planner"),
	}
}

// Input is one request from the user.
type Input struct {
	UserID    string `json:"user_id,omitempty"`
	Text      string `json:"text"`
	Immediate bool   `json:"immediate,omitempty"`
}

// Proposal is one tool call suggested by the model.
type Proposal struct {
	Tool       string       `json:"tool"`
	Params     value.Object `json:"params"`
	Confidence *float64     `json:"confidence,omitempty"`
	Priority   int          `json:"priority,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

// Rejected is a proposal the orchestrator refused to take.
type Rejected struct {
	Proposal Proposal `json:"proposal"`
	Error    string   `json:"error"`
}

// Plan is the result of one request.
type Plan struct {
	Reply    string                 `json:"reply"`
	Outcomes []orchestrator.Outcome `json:"outcomes"`
	Rejected []Rejected             `json:"rejected,omitempty"`
}

// ModelReply is the JSON object the model is asked to produce.
type ModelReply struct {
	Reply   string     `json:"reply"`
	Intents []Proposal `json:"intents"`
}

// Plan asks the model for proposals and submits each one. A proposal the
// orchestrator refuses is reported, not fatal.
func (p *Planner) Plan(ctx context.Context, in Input) (*Plan, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyRequest
	}
	userID := in.UserID
	if userID == "" {
		userID = p.orch.UserID()
	}

	resp, err := p.client.Complete(ctx, llm.Request{
		System:    llm.PlannerSystemPrompt,
		Prompt:    llm.PlanPrompt(p.context(ctx, userID, text), text),
		MaxTokens: 1024,
		JSON:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	r, err := ParseReply(resp.Content)
	if err != nil {
		return nil, err
	}
	if len(r.Intents) > MaxProposals {
		p.logger.Warn("too many proposals, truncating", "got", len(r.Intents), "max", MaxProposals)
		r.Intents = r.Intents[:MaxProposals]
	}

	plan := &Plan{Reply: r.Reply, Outcomes: []orchestrator.Outcome{}}
	for _, prop := range r.Intents {
		out, err := p.orch.SubmitRequest(ctx, orchestrator.Request{
			UserID:     userID,
			ToolName:   prop.Tool,
			Params:     prop.Params,
			Source:     domain.SourceUser,
			Priority:   prop.Priority,
			Confidence: prop.Confidence,
			Immediate:  in.Immediate,
		})
		if err != nil {
			p.logger.Info("proposal refused", "tool", prop.Tool, "err", err)
			plan.Rejected = append(plan.Rejected, Rejected{Proposal: prop, Error: err.Error()})
			continue
		}
		plan.Outcomes = append(plan.Outcomes, out)
	}
	p.logger.Debug("request planned", "user", userID, "proposals", len(r.Intents), "rejected", len(plan.Rejected), "tokens", resp.TokensUsed)
	return plan, nil
}

func (p *Planner) context(ctx context.Context, userID, text string) llm.PlanContext {
	pc := llm.PlanContext{World: p.orch.World()}
	if p.tools != nil {
		pc.Tools = p.tools.Capabilities()
	}
	if p.memory != nil {
		scored, err := p.memory.Recall(ctx, text, memory.RecallOptions{UserID: userID, Limit: 5})
		if err != nil {
			p.logger.Warn("recall failed", "err", err)
		}
		for _, s := range scored {
			pc.Memories = append(pc.Memories, s.Memory.Content)
		}
	}
	if p.goals != nil {
		active, err := p.goals.List(userID, store.GoalActive)
		if err != nil {
			p.logger.Warn("list goals failed", "err", err)
		}
		for _, g := range active {
			pc.Goals = append(pc.Goals, g.Description)
		}
	}
	return pc
}

// ParseReply extracts the JSON object from a model reply, tolerating code
// fences and surrounding prose.
func ParseReply(content string) (*ModelReply, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("plan: no JSON object in model reply")
	}
	var r ModelReply
	if err := json.Unmarshal([]byte(content[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("plan: decode model reply: %w", err)
	}
	kept := r.Intents[:0]
	for _, prop := range r.Intents {
		if strings.TrimSpace(prop.Tool) == "" {
			continue
		}
		if prop.Params == nil {
			prop.Params = value.Object{}
		}
		kept = append(kept, prop)
	}
	r.Intents = kept
	return &r, nil
}
