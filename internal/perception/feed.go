package perception

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/value"
)

// Line is one observation in a JSONL feed. Absent fields leave the previous
// value in place, so a sensor can append only what it knows.
type Line struct {
	TimeOfDay *string        `json:"time_of_day"`
	User      *UserLine      `json:"user"`
	Devices   map[string]any `json:"devices"`
}

// UserLine is the user part of a feed line.
type UserLine struct {
	Mode     *string `json:"mode"`
	State    *string `json:"state"`
	Present  *bool   `json:"present"`
	Location *string `json:"location"`
}

// Feed reads world state from a JSONL file written by external sensors.
// The file is re-read only when its size or modification time changes.
type Feed struct {
	path string
	clk  clock.Clock

	mu      sync.Mutex
	modTime time.Time
	size    int64
	state   domain.WorldState
}

func NewFeed(path string, clk clock.Clock) *Feed {
	return &Feed{path: path, clk: clk, state: NewStatic(clk).state}
}

func (f *Feed) Observe(context.Context) (domain.WorldState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		return domain.WorldState{}, fmt.Errorf("stat feed: %w", err)
	}
	if !info.ModTime().Equal(f.modTime) || info.Size() != f.size {
		state, err := ParseFile(f.path)
		if err != nil {
			return domain.WorldState{}, err
		}
		f.state, f.modTime, f.size = state, info.ModTime(), info.Size()
	}

	now := f.clk.Now()
	w := f.state
	w.Devices = f.state.Devices.Clone()
	w.ObservedAt = now
	if w.TimeOfDay == "" {
		w.TimeOfDay = domain.TimeOfDayFor(now)
	}
	return w, nil
}

// ParseFile folds every valid line of a JSONL feed into one world state.
func ParseFile(path string) (domain.WorldState, error) {
	file, err := os.Open(path)
	if err != nil {
		return domain.WorldState{}, fmt.Errorf("open feed: %w", err)
	}
	defer file.Close()

	state := defaultState()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 256*1024), 256*1024)
	for scanner.Scan() {
		applyLine(&state, scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return domain.WorldState{}, fmt.Errorf("scan feed: %w", err)
	}
	return state, nil
}

// ParseLines is ParseFile over in-memory content.
func ParseLines(content string) domain.WorldState {
	state := defaultState()
	for _, line := range strings.Split(content, "\n") {
		applyLine(&state, []byte(strings.TrimSpace(line)))
	}
	return state
}

func defaultState() domain.WorldState {
	return domain.WorldState{User: domain.UserContext{Mode: "normal", State: "idle", Present: true}}
}

// applyLine merges one line; blank and malformed lines are skipped.
func applyLine(state *domain.WorldState, raw []byte) {
	if len(raw) == 0 {
		return
	}
	var line Line
	if err := json.Unmarshal(raw, &line); err != nil {
		return
	}
	var devices value.Object
	if line.Devices != nil {
		d, err := value.ObjectFrom(line.Devices)
		if err != nil {
			return
		}
		devices = d
	}

	if line.TimeOfDay != nil {
		state.TimeOfDay = *line.TimeOfDay
	}
	if u := line.User; u != nil {
		if u.Mode != nil {
			state.User.Mode = *u.Mode
		}
		if u.State != nil {
			state.User.State = *u.State
		}
		if u.Present != nil {
			state.User.Present = *u.Present
		}
		if u.Location != nil {
			state.User.Location = *u.Location
		}
	}
	if devices != nil {
		if state.Devices == nil {
			state.Devices = value.Object{}
		}
		for k, v := range devices {
			state.Devices[k] = v
		}
	}
}
