package perception

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/value"
)

var evening = time.Date(2026, 5, 4, 19, 30, 0, 0, time.UTC)

func TestStaticObserve(t *testing.T) {
	clk := clock.NewFake(evening)
	s := NewStatic(clk)

	w, err := s.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "evening", w.TimeOfDay)
	assert.Equal(t, "idle", w.User.State)
	assert.Equal(t, evening, w.ObservedAt)

	s.SetUser(domain.UserContext{Mode: "focus", State: "focused", Present: true})
	clk.Advance(4 * time.Hour)
	w, _ = s.Observe(context.Background())
	assert.Equal(t, "focused", w.User.State)
	assert.Equal(t, "night", w.TimeOfDay)
	assert.True(t, w.IsNight())

	s.Set(domain.WorldState{TimeOfDay: "morning"})
	w, _ = s.Observe(context.Background())
	assert.Equal(t, "morning", w.TimeOfDay, "explicit time of day wins")
}

type fixedDevices value.Object

func (f fixedDevices) Devices() value.Object { return value.Object(f).Clone() }

func TestWithDevicesOverlays(t *testing.T) {
	s := NewStatic(clock.NewFake(evening))
	s.Set(domain.WorldState{Devices: value.Object{"thermostat": value.Int(20)}})
	src := WithDevices(s, fixedDevices{"lights": value.Obj(value.Object{"kitchen": value.Bool(true)})})

	w, err := src.Observe(context.Background())
	require.NoError(t, err)
	_, ok := w.Devices.Lookup("thermostat")
	assert.True(t, ok)
	v, ok := w.Devices.Lookup("lights", "kitchen")
	require.True(t, ok)
	assert.True(t, v.Equal(value.Bool(true)))
}

func TestParseLinesMergesInOrder(t *testing.T) {
	content := `{"user": {"state": "active", "location": "kitchen"}}
not json at all

{"user": {"state": "meeting"}, "devices": {"tv": {"on": false}}}
{"time_of_day": "night"}
{"devices": {"bad": [1, 2}
`
	w := ParseLines(content)
	assert.Equal(t, "meeting", w.User.State)
	assert.Equal(t, "kitchen", w.User.Location, "earlier fields survive partial lines")
	assert.Equal(t, "normal", w.User.Mode)
	assert.Equal(t, "night", w.TimeOfDay)
	_, ok := w.Devices.Lookup("tv", "on")
	assert.True(t, ok)
}

func TestFeedRereadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"user": {"state": "active"}}`+"\n"), 0o644))

	f := NewFeed(path, clock.NewFake(evening))
	w, err := f.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "active", w.User.State)

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString(`{"user": {"state": "dnd", "mode": "dnd"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	w, err = f.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dnd", w.User.State)
	assert.Equal(t, "dnd", w.User.Mode)
}

func TestFeedMissingFile(t *testing.T) {
	f := NewFeed(filepath.Join(t.TempDir(), "absent.jsonl"), clock.NewFake(evening))
	_, err := f.Observe(context.Background())
	assert.Error(t, err)
}
