package builtin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/value"
)

func setup(t *testing.T) (*executor.Registry, *State, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC))
	st := NewState("kitchen", "office")
	reg := executor.NewRegistry()
	require.NoError(t, RegisterAll(reg, st, clk))
	return reg, st, clk
}

func TestAllCapabilitiesRegister(t *testing.T) {
	reg, _, _ := setup(t)
	for _, name := range []string{"setTimer", "setReminder", "turnOnLights", "playMusic", "announce", "sendMessage"} {
		_, ok := reg.Capability(name)
		assert.True(t, ok, name)
	}
	c, _ := reg.Capability("sendMessage")
	assert.Equal(t, domain.BlastExternal, c.BlastRadius)
	assert.False(t, c.Reversible)
}

func TestLightsChangeDeviceTree(t *testing.T) {
	reg, st, _ := setup(t)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "turnOnLights", value.Object{"room": value.String("kitchen")})
	require.NoError(t, err)
	require.True(t, res.Success)

	on, ok := st.Devices().Lookup("lights", "kitchen", "on")
	require.True(t, ok)
	assert.True(t, on.Equal(value.Bool(true)))

	res, err = reg.Execute(ctx, "setBrightness", value.Object{"room": value.String("kitchen"), "level": value.Int(40)})
	require.NoError(t, err)
	require.True(t, res.Success)
	b, _ := st.Devices().Lookup("lights", "kitchen", "brightness")
	assert.True(t, b.Equal(value.Int(40)))

	res, err = reg.Execute(ctx, "turnOnLights", value.Object{"room": value.String("garage")})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "garage")
}

func TestLightsSimulateWarnsOnNoop(t *testing.T) {
	reg, _, _ := setup(t)
	p, err := reg.Simulate(context.Background(), "turnOffLights", value.Object{"room": value.String("office")})
	require.NoError(t, err)
	assert.True(t, p.WouldSucceed)
	assert.Len(t, p.Warnings, 1)

	p, err = reg.Simulate(context.Background(), "turnOnLights", value.Object{"room": value.String("attic")})
	require.NoError(t, err)
	assert.False(t, p.WouldSucceed)
}

func TestTimerLifecycle(t *testing.T) {
	reg, st, clk := setup(t)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "setTimer", value.Object{"durationSeconds": value.Int(300), "label": value.String("tea")})
	require.NoError(t, err)
	require.True(t, res.Success)
	out, _ := res.Output.AsObject()
	id := out.Str("timerId")
	require.NotEmpty(t, id)
	assert.Equal(t, clk.Now().Add(5*time.Minute).UTC().Format(time.RFC3339), out.Str("firesAt"))

	_, ok := st.Devices().Lookup("timers", id)
	assert.True(t, ok)

	res, err = reg.Execute(ctx, "cancelTimer", value.Object{"timerId": value.String(id)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	_, ok = st.Devices().Lookup("timers", id)
	assert.False(t, ok)

	p, err := reg.Simulate(ctx, "cancelTimer", value.Object{"timerId": value.String(id)})
	require.NoError(t, err)
	assert.False(t, p.WouldSucceed)
}

func TestTimerSchemaRejectsZero(t *testing.T) {
	reg, _, _ := setup(t)
	_, err := reg.Execute(context.Background(), "setTimer", value.Object{"durationSeconds": value.Int(0)})
	assert.True(t, errors.Is(err, domain.ErrInvalidParams))
}

func TestMessagingOutbox(t *testing.T) {
	reg, st, _ := setup(t)
	ctx := context.Background()
	params := value.Object{"to": value.String("Sam"), "body": value.String("running late")}

	p, err := reg.Simulate(ctx, "sendMessage", params)
	require.NoError(t, err)
	assert.Equal(t, []string{"first message to this recipient"}, p.Warnings)
	require.Len(t, p.PredictedSideEffects, 1)
	assert.False(t, p.PredictedSideEffects[0].Reversible)

	res, err := reg.Execute(ctx, "sendMessage", params)
	require.NoError(t, err)
	require.True(t, res.Success)

	outbox, _ := st.Devices().Lookup("outbox")
	sent, _ := outbox.AsArray()
	assert.Len(t, sent, 1)

	p, err = reg.Simulate(ctx, "sendMessage", params)
	require.NoError(t, err)
	assert.Empty(t, p.Warnings)
}

func TestMediaVolumeWarning(t *testing.T) {
	reg, st, _ := setup(t)
	p, err := reg.Simulate(context.Background(), "setVolume", value.Object{"level": value.Int(95)})
	require.NoError(t, err)
	assert.Equal(t, []string{"volume above 80%"}, p.Warnings)

	_, err = reg.Execute(context.Background(), "setVolume", value.Object{"level": value.Int(95)})
	require.NoError(t, err)
	v, _ := st.Devices().Lookup("media", "volume")
	assert.True(t, v.Equal(value.Int(95)))
}
