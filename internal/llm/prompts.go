package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lazypower/aide/internal/domain"
)

// PlannerSystemPrompt instructs the model to answer with intent proposals only.
const PlannerSystemPrompt = `You are the planning component of a home assistant. You never act
yourself: you propose tool calls, and a separate governance engine decides
whether each one runs, needs the user's confirmation, or is refused.

Reply with a single JSON object and nothing else:
{
  "reply": "one short sentence for the user",
  "intents": [
    {"tool": "<tool name>", "params": {...}, "confidence": 0.0-1.0, "priority": 1-10, "reason": "why"}
  ]
}

Rules:
- Only use tools from the provided list, with parameters matching their schema.
- Propose nothing when the request is chit-chat or you are unsure what is wanted; ask in "reply" instead.
- confidence is how sure you are the user wants exactly this call. Below 0.5 means guessing.
- priority 5 is normal; reserve 8 and above for time-critical requests.
- Never invent recipients, rooms or devices that do not appear in the context.`

// PlanContext is what the planner knows besides the request itself.
type PlanContext struct {
	Tools    []domain.Capability
	World    domain.WorldState
	Memories []string
	Goals    []string
}

// PlanPrompt renders the user prompt for one request.
func PlanPrompt(pc PlanContext, request string) string {
	var b strings.Builder

	b.WriteString("TOOLS:\n")
	for _, t := range pc.Tools {
		fmt.Fprintf(&b, "- %s (%s, risk %s", t.Name, t.Category, t.RiskLevel)
		if !t.Reversible {
			b.WriteString(", irreversible")
		}
		b.WriteString(")")
		if t.Description != "" {
			fmt.Fprintf(&b, ": %s", t.Description)
		}
		if schema := compactJSON(t.ParamsSchema); schema != "" {
			fmt.Fprintf(&b, "\n  params: %s", schema)
		}
		b.WriteString("\n")
	}

	w := pc.World
	fmt.Fprintf(&b, "\nCONTEXT:\n- time of day: %s\n- user mode: %s, present: %t\n", orUnknown(w.TimeOfDay), orUnknown(w.User.Mode), w.User.Present)
	if len(w.Devices) > 0 {
		fmt.Fprintf(&b, "- devices: %s\n", w.Devices.Serialize())
	}

	if len(pc.Goals) > 0 {
		b.WriteString("\nACTIVE GOALS:\n")
		for _, g := range pc.Goals {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if len(pc.Memories) > 0 {
		b.WriteString("\nRELEVANT MEMORIES:\n")
		for _, m := range pc.Memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}

	fmt.Fprintf(&b, "\nREQUEST:\n%s\n", strings.TrimSpace(request))
	return b.String()
}

func compactJSON(s string) string {
	if s == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return ""
	}
	out, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(out)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
