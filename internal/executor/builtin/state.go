// Package builtin provides in-process executors that keep device state in
// memory, so the engine runs end to end without external integrations.
package builtin

import (
	"fmt"
	"sync"

	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/value"
)

// State is the shared device tree mutated by the built-in executors.
type State struct {
	mu      sync.RWMutex
	devices value.Object
}

// NewState returns a home with the given rooms, lights off.
func NewState(rooms ...string) *State {
	lights := value.Object{}
	for _, r := range rooms {
		lights[r] = value.Obj(value.Object{"on": value.Bool(false), "brightness": value.Int(0)})
	}
	return &State{devices: value.Object{
		"lights": value.Obj(lights),
		"media": value.Obj(value.Object{
			"playing": value.Bool(false),
			"track":   value.String(""),
			"volume":  value.Int(30),
		}),
		"timers":        value.Obj(value.Object{}),
		"reminders":     value.Obj(value.Object{}),
		"outbox":        value.Array(),
		"announcements": value.Array(),
	}}
}

// Devices returns a deep copy of the device tree.
func (s *State) Devices() value.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices.Clone()
}

func (s *State) get(path ...string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.devices.Lookup(path...)
	return v.Clone(), ok
}

func (s *State) set(path []string, v value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices.SetPath(path, v)
}

func (s *State) remove(path ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.devices.Lookup(path[:len(path)-1]...)
	if !ok {
		return false
	}
	obj, ok := parent.AsObject()
	if !ok {
		return false
	}
	if _, ok := obj[path[len(path)-1]]; !ok {
		return false
	}
	delete(obj, path[len(path)-1])
	return true
}

func (s *State) appendTo(path []string, v value.Value) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.devices.Lookup(path...)
	arr, _ := cur.AsArray()
	arr = append(append([]value.Value(nil), arr...), v)
	s.devices.SetPath(path, value.Array(arr...))
	return len(arr)
}

// RegisterAll adds every built-in executor to reg.
func RegisterAll(reg *executor.Registry, st *State, clk clock.Clock) error {
	for _, exec := range []executor.Executor{
		NewTimers(st, clk),
		NewLights(st),
		NewMedia(st),
		NewMessaging(st, clk),
	} {
		if err := reg.Register(exec); err != nil {
			return fmt.Errorf("register builtin: %w", err)
		}
	}
	return nil
}

func number(params value.Object, key string) (float64, bool) {
	return params[key].AsNumber()
}

func fail(format string, args ...any) (executor.Result, error) {
	return executor.Result{Success: false, Error: fmt.Sprintf(format, args...)}, nil
}
