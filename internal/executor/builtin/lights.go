package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/value"
)

const roomSchema = `{
	"type": "object",
	"properties": {"room": {"type": "string", "minLength": 1}},
	"required": ["room"]
}`

// Lights switches and dims lights per room.
type Lights struct {
	st *State
}

func NewLights(st *State) *Lights { return &Lights{st: st} }

func (l *Lights) Capabilities() []domain.Capability {
	base := domain.Capability{
		Category:             "lights",
		RiskLevel:            domain.RiskLow,
		Reversible:           true,
		BlastRadius:          domain.BlastLocal,
		SupportsSimulation:   true,
		SupportsAutoApproval: true,
		EstimatedDuration:    200 * time.Millisecond,
	}
	on, off, dim := base, base, base
	on.Name, on.Description, on.ParamsSchema = "turnOnLights", "Turn on the lights in a room", roomSchema
	off.Name, off.Description, off.ParamsSchema = "turnOffLights", "Turn off the lights in a room", roomSchema
	dim.Name, dim.Description = "setBrightness", "Set light brightness in a room"
	dim.ParamsSchema = `{
		"type": "object",
		"properties": {
			"room": {"type": "string", "minLength": 1},
			"level": {"type": "integer", "minimum": 0, "maximum": 100}
		},
		"required": ["room", "level"]
	}`
	return []domain.Capability{on, off, dim, {
		Name:        "getDeviceState",
		Description: "Read the state of a device group",
		Category:    "devices",
		RiskLevel:   domain.RiskNone,
		Reversible:  true,
		BlastRadius: domain.BlastLocal,
		SafetyLevel: domain.SafetySafe,
		ParamsSchema: `{
			"type": "object",
			"properties": {"device": {"type": "string"}}
		}`,
	}}
}

func (l *Lights) Execute(_ context.Context, action string, params value.Object) (executor.Result, error) {
	room := params.Str("room")
	switch action {
	case "turnOnLights":
		return l.apply(room, true, 100)
	case "turnOffLights":
		return l.apply(room, false, 0)
	case "setBrightness":
		level, _ := number(params, "level")
		return l.apply(room, level > 0, int(level))
	case "getDeviceState":
		dev := params.Str("device")
		if dev == "" {
			return executor.Result{Success: true, Output: value.Obj(l.st.Devices())}, nil
		}
		v, ok := l.st.get(dev)
		if !ok {
			return fail("unknown device %q", dev)
		}
		return executor.Result{Success: true, Output: v}, nil
	}
	return executor.Result{}, fmt.Errorf("lights: unsupported action %q", action)
}

func (l *Lights) apply(room string, on bool, level int) (executor.Result, error) {
	if _, ok := l.st.get("lights", room); !ok {
		return fail("unknown room %q", room)
	}
	state := value.Obj(value.Object{"on": value.Bool(on), "brightness": value.Int(level)})
	l.st.set([]string{"lights", room}, state)
	return executor.Result{
		Success: true,
		Output:  state,
		SideEffects: []executor.SideEffect{
			{Description: fmt.Sprintf("%s lights at %d%%", room, level), Reversible: true},
		},
	}, nil
}

func (l *Lights) Simulate(_ context.Context, action string, params value.Object) (executor.Prediction, error) {
	if action == "getDeviceState" {
		return executor.Prediction{WouldSucceed: true}, nil
	}
	room := params.Str("room")
	cur, ok := l.st.get("lights", room)
	if !ok {
		return executor.Prediction{WouldSucceed: false, Warnings: []string{fmt.Sprintf("unknown room %q", room)}}, nil
	}
	p := executor.Prediction{
		WouldSucceed:         true,
		PredictedSideEffects: []executor.SideEffect{{Description: room + " lights change", Reversible: true}},
	}
	obj, _ := cur.AsObject()
	on, _ := obj["on"].AsBool()
	if action == "turnOnLights" && on || action == "turnOffLights" && !on {
		p.Warnings = append(p.Warnings, fmt.Sprintf("%s lights already in requested state", room))
	}
	return p, nil
}
