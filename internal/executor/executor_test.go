package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/aircon"
	"github.com/passivehome/climatecore/internal/hvac"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []aircon.DeviceSnapshot
	flags []aircon.EffectiveFlags
	err   error
}

func (f *fakeSender) Send(ctx context.Context, s aircon.DeviceSnapshot, flags aircon.EffectiveFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, s)
	f.flags = append(f.flags, flags)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeComp struct {
	offset float64
}

func (f *fakeComp) Compensate(target float64) float64 {
	return target + f.offset
}

func newTestExecutor(sender Sender, comp Compensator) (*Executor, *time.Time) {
	e := New(sender, comp, time.Minute, zap.NewNop().Sugar())
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	e.clock = func() time.Time { return now }
	return e, &now
}

func heatDecision(setpoint float64) hvac.Decision {
	return hvac.Decision{
		State:  hvac.StateHeatingActive,
		Action: &hvac.Action{Type: hvac.ActionSetMode, Mode: hvac.ModeHeat, Setpoint: setpoint},
		Reason: "room below target",
	}
}

func TestExecuteSetModeCommand(t *testing.T) {
	sender := &fakeSender{}
	e, _ := newTestExecutor(sender, &fakeComp{offset: 2})

	e.Execute(context.Background(), heatDecision(22), aircon.DeviceSnapshot{DeviceID: "7"})

	require.Equal(t, 1, sender.count())
	sent := sender.sent[0]
	assert.True(t, sent.Power)
	assert.Equal(t, aircon.ModeHeat, sent.OperationMode)
	require.NotNil(t, sent.ACSetTemp)
	assert.Equal(t, 24.0, *sent.ACSetTemp, "setpoint must be sensor-compensated")
	assert.Equal(t, aircon.FlagPowerOperationModeSetTemperature, sender.flags[0])

	last := e.LastCompensatedSetpoint()
	require.NotNil(t, last)
	assert.Equal(t, 24.0, *last)
}

func TestExecuteCoastCommand(t *testing.T) {
	sender := &fakeSender{}
	e, _ := newTestExecutor(sender, &fakeComp{})

	dec := hvac.Decision{
		State:  hvac.StateHeatingCoast,
		Action: &hvac.Action{Type: hvac.ActionCoast, Setpoint: 21},
	}
	e.Execute(context.Background(), dec, aircon.DeviceSnapshot{Power: true})

	require.Equal(t, 1, sender.count())
	assert.Equal(t, aircon.FlagSetTemperature, sender.flags[0], "coast must not touch power or mode")
}

func TestExecuteNilActionIsNoop(t *testing.T) {
	sender := &fakeSender{}
	e, _ := newTestExecutor(sender, &fakeComp{})

	e.Execute(context.Background(), hvac.Decision{State: hvac.StateStandby}, aircon.DeviceSnapshot{})
	assert.Zero(t, sender.count())
}

func TestRateLimit(t *testing.T) {
	sender := &fakeSender{}
	e, clock := newTestExecutor(sender, &fakeComp{})

	e.Execute(context.Background(), heatDecision(22), aircon.DeviceSnapshot{})
	require.Equal(t, 1, sender.count())

	*clock = clock.Add(30 * time.Second)
	e.Execute(context.Background(), heatDecision(23), aircon.DeviceSnapshot{})
	assert.Equal(t, 1, sender.count(), "command inside the rate window must be dropped")

	*clock = clock.Add(31 * time.Second)
	e.Execute(context.Background(), heatDecision(23), aircon.DeviceSnapshot{})
	assert.Equal(t, 2, sender.count())
}

func TestFailedSendCountsAgainstRateLimit(t *testing.T) {
	sender := &fakeSender{err: errors.New("503")}
	e, clock := newTestExecutor(sender, &fakeComp{})

	e.Execute(context.Background(), heatDecision(22), aircon.DeviceSnapshot{})
	assert.Nil(t, e.LastCompensatedSetpoint(), "failed send must not record a setpoint")

	// The attempt itself consumed the rate window.
	sender.err = nil
	*clock = clock.Add(30 * time.Second)
	e.Execute(context.Background(), heatDecision(22), aircon.DeviceSnapshot{})
	assert.Zero(t, sender.count())
}

func TestMaybeRedispatch(t *testing.T) {
	sender := &fakeSender{}
	comp := &fakeComp{offset: 2}
	e, clock := newTestExecutor(sender, comp)

	// Nothing dispatched yet: the coast target goes out so the device is
	// tracking the predicted setpoint from the first standby tick.
	e.MaybeRedispatch(context.Background(), &hvac.Action{Type: hvac.ActionCoast, Setpoint: 22}, aircon.DeviceSnapshot{})
	require.Equal(t, 1, sender.count())
	assert.Equal(t, aircon.FlagSetTemperature, sender.flags[0])
	require.NotNil(t, sender.sent[0].ACSetTemp)
	assert.Equal(t, 24.0, *sender.sent[0].ACSetTemp)

	// Offset unchanged: drift below threshold, nothing happens.
	*clock = clock.Add(2 * time.Minute)
	e.MaybeRedispatch(context.Background(), &hvac.Action{Type: hvac.ActionCoast, Setpoint: 22}, aircon.DeviceSnapshot{})
	assert.Equal(t, 1, sender.count())

	// Offset moved by a degree: the compensated value drifted, re-issue.
	comp.offset = 3
	*clock = clock.Add(2 * time.Minute)
	e.MaybeRedispatch(context.Background(), &hvac.Action{Type: hvac.ActionCoast, Setpoint: 22}, aircon.DeviceSnapshot{})
	require.Equal(t, 2, sender.count())
	assert.Equal(t, aircon.FlagSetTemperature, sender.flags[1], "re-dispatch is setpoint-only")
	require.NotNil(t, sender.sent[1].ACSetTemp)
	assert.Equal(t, 25.0, *sender.sent[1].ACSetTemp)
}

func TestMaybeRedispatchRespectsRateLimit(t *testing.T) {
	sender := &fakeSender{}
	comp := &fakeComp{offset: 2}
	e, clock := newTestExecutor(sender, comp)

	e.Execute(context.Background(), heatDecision(22), aircon.DeviceSnapshot{})
	comp.offset = 3
	*clock = clock.Add(10 * time.Second)
	e.MaybeRedispatch(context.Background(), &hvac.Action{Type: hvac.ActionCoast, Setpoint: 22}, aircon.DeviceSnapshot{})
	assert.Equal(t, 1, sender.count())
}
