// Package perception supplies world-state observations to the orchestrator.
package perception

import (
	"context"
	"sync"

	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/value"
)

// Source produces the current world state.
type Source interface {
	Observe(ctx context.Context) (domain.WorldState, error)
}

// DeviceReader exposes a live device tree.
type DeviceReader interface {
	Devices() value.Object
}

// Static is a world state set by hand, through the API or in tests.
type Static struct {
	mu    sync.RWMutex
	clk   clock.Clock
	state domain.WorldState
}

// NewStatic starts with a present, idle user in normal mode.
func NewStatic(clk clock.Clock) *Static {
	return &Static{clk: clk, state: domain.WorldState{
		User: domain.UserContext{Mode: "normal", State: "idle", Present: true},
	}}
}

// Observe stamps the stored state with the current time. TimeOfDay is
// derived from the clock unless it was set explicitly.
func (s *Static) Observe(context.Context) (domain.WorldState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clk.Now()
	w := s.state
	w.Devices = s.state.Devices.Clone()
	w.ObservedAt = now
	if w.TimeOfDay == "" {
		w.TimeOfDay = domain.TimeOfDayFor(now)
	}
	return w, nil
}

// Set replaces the stored state.
func (s *Static) Set(w domain.WorldState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Devices = w.Devices.Clone()
	s.state = w
}

// SetUser replaces only the user context.
func (s *Static) SetUser(u domain.UserContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.User = u
}

// WithDevices overlays a live device tree onto observations from src.
func WithDevices(src Source, devices DeviceReader) Source {
	return withDevices{src: src, devices: devices}
}

type withDevices struct {
	src     Source
	devices DeviceReader
}

func (w withDevices) Observe(ctx context.Context) (domain.WorldState, error) {
	ws, err := w.src.Observe(ctx)
	if err != nil {
		return ws, err
	}
	merged := ws.Devices.Clone()
	if merged == nil {
		merged = value.Object{}
	}
	for k, v := range w.devices.Devices() {
		merged[k] = v
	}
	ws.Devices = merged
	return ws, nil
}
