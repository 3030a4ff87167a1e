package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/value"
)

// Media plays music, sets volume and speaks announcements.
type Media struct {
	st *State
}

func NewMedia(st *State) *Media { return &Media{st: st} }

func (m *Media) Capabilities() []domain.Capability {
	return []domain.Capability{
		{
			Name:                 "playMusic",
			Description:          "Play music on the house speakers",
			Category:             "media",
			RiskLevel:            domain.RiskLow,
			Reversible:           true,
			BlastRadius:          domain.BlastLocal,
			SupportsSimulation:   true,
			SupportsAutoApproval: true,
			EstimatedDuration:    time.Second,
			ParamsSchema: `{
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1},
					"room": {"type": "string"}
				},
				"required": ["query"]
			}`,
		},
		{
			Name:                 "stopMusic",
			Description:          "Stop playback",
			Category:             "media",
			RiskLevel:            domain.RiskNone,
			Reversible:           true,
			BlastRadius:          domain.BlastLocal,
			SupportsSimulation:   true,
			SupportsAutoApproval: true,
		},
		{
			Name:                 "setVolume",
			Description:          "Set speaker volume",
			Category:             "media",
			RiskLevel:            domain.RiskLow,
			Reversible:           true,
			BlastRadius:          domain.BlastLocal,
			SupportsSimulation:   true,
			SupportsAutoApproval: true,
			ParamsSchema: `{
				"type": "object",
				"properties": {"level": {"type": "integer", "minimum": 0, "maximum": 100}},
				"required": ["level"]
			}`,
		},
		{
			Name:               "announce",
			Description:        "Speak a message through every speaker",
			Category:           "media",
			RiskLevel:          domain.RiskLow,
			Reversible:         false,
			BlastRadius:        domain.BlastLocal,
			SupportsSimulation: true,
			EstimatedDuration:  3 * time.Second,
			ParamsSchema: `{
				"type": "object",
				"properties": {"message": {"type": "string", "minLength": 1, "maxLength": 500}},
				"required": ["message"]
			}`,
		},
	}
}

func (m *Media) Execute(_ context.Context, action string, params value.Object) (executor.Result, error) {
	switch action {
	case "playMusic":
		q := params.Str("query")
		m.st.set([]string{"media", "playing"}, value.Bool(true))
		m.st.set([]string{"media", "track"}, value.String(q))
		return executor.Result{
			Success:     true,
			Output:      value.Obj(value.Object{"track": value.String(q)}),
			SideEffects: []executor.SideEffect{{Description: "playback started", Reversible: true}},
		}, nil
	case "stopMusic":
		m.st.set([]string{"media", "playing"}, value.Bool(false))
		return executor.Result{Success: true, Output: value.Null()}, nil
	case "setVolume":
		level, _ := number(params, "level")
		m.st.set([]string{"media", "volume"}, value.Int(int(level)))
		return executor.Result{
			Success:     true,
			Output:      value.Obj(value.Object{"volume": value.Int(int(level))}),
			SideEffects: []executor.SideEffect{{Description: fmt.Sprintf("volume set to %d", int(level)), Reversible: true}},
		}, nil
	case "announce":
		msg := params.Str("message")
		n := m.st.appendTo([]string{"announcements"}, value.String(msg))
		return executor.Result{
			Success:     true,
			Output:      value.Obj(value.Object{"announced": value.Int(n)}),
			SideEffects: []executor.SideEffect{{Description: "message spoken aloud", Reversible: false}},
		}, nil
	}
	return executor.Result{}, fmt.Errorf("media: unsupported action %q", action)
}

func (m *Media) Simulate(_ context.Context, action string, params value.Object) (executor.Prediction, error) {
	p := executor.Prediction{WouldSucceed: true}
	switch action {
	case "playMusic":
		p.PredictedSideEffects = []executor.SideEffect{{Description: "playback started", Reversible: true}}
		if playing, _ := m.st.get("media", "playing"); playing.Equal(value.Bool(true)) {
			p.Warnings = append(p.Warnings, "replaces the track currently playing")
		}
	case "setVolume":
		level, _ := number(params, "level")
		p.PredictedSideEffects = []executor.SideEffect{{Description: "volume change", Reversible: true}}
		if level > 80 {
			p.Warnings = append(p.Warnings, "volume above 80%")
		}
	case "announce":
		p.PredictedSideEffects = []executor.SideEffect{{Description: "message spoken aloud", Reversible: false}}
	}
	return p, nil
}
