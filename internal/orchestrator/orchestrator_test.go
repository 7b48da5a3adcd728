package orchestrator

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
	"github.com/passivehome/climatecore/internal/executor"
	"github.com/passivehome/climatecore/internal/hvac"
	"github.com/passivehome/climatecore/internal/sensor"
	"github.com/passivehome/climatecore/internal/setpoint"
	"github.com/passivehome/climatecore/internal/types"
	"github.com/passivehome/climatecore/internal/weather"
)

type fakeAC struct {
	snapshots chan aircon.DeviceSnapshot

	mu    sync.Mutex
	sent  []aircon.DeviceSnapshot
	flags []aircon.EffectiveFlags
}

func newFakeAC() *fakeAC {
	return &fakeAC{snapshots: make(chan aircon.DeviceSnapshot, 4)}
}

func (f *fakeAC) Snapshots() <-chan aircon.DeviceSnapshot {
	return f.snapshots
}

func (f *fakeAC) Send(ctx context.Context, s aircon.DeviceSnapshot, flags aircon.EffectiveFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	f.flags = append(f.flags, flags)
	return nil
}

func (f *fakeAC) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type roomSensor struct {
	temp float64
	err  error
}

func (r *roomSensor) FetchTemperature(ctx context.Context) (types.SensorReading, error) {
	if r.err != nil {
		return types.SensorReading{}, r.err
	}
	return types.SensorReading{RoomTemp: r.temp, ObservedAt: time.Now()}, nil
}

type noForecast struct{}

func (noForecast) Fetch(ctx context.Context) (*types.Forecast, error) {
	return nil, errors.New("unavailable")
}

type testRig struct {
	orch    *Orchestrator
	ac      *fakeAC
	tracker *sensor.Tracker
	points  chan types.Point
	ticks   []TickStatus
}

func newTestRig(t *testing.T, room *roomSensor) *testRig {
	t.Helper()

	logger := zap.NewNop().Sugar()
	var wg sync.WaitGroup
	ctx := context.Background()

	cache := weather.NewCache(ctx, &wg, noForecast{}, time.Hour, time.Hour, logger)
	t.Cleanup(cache.Stop)

	tracker := sensor.NewTracker(ctx, &wg, room, time.Minute, logger)
	tracker.Start()
	t.Cleanup(tracker.Stop)
	if room.err == nil {
		require.Eventually(t, func() bool { return tracker.RoomTemp() != nil },
			2*time.Second, 10*time.Millisecond, "tracker never came online")
	}

	ac := newFakeAC()
	points := make(chan types.Point, 4)

	rig := &testRig{
		ac:      ac,
		tracker: tracker,
		points:  points,
	}

	device := types.DeviceConfig{Name: "living-room", TargetTemperature: 23}
	rig.orch = New(device, ac, tracker, cache,
		setpoint.New(setpoint.DefaultParams()),
		hvac.NewMachine(hvac.DefaultConfig(), logger),
		executor.New(ac, tracker, time.Minute, logger),
		points, logger)
	rig.orch.OnTick(func(s TickStatus) { rig.ticks = append(rig.ticks, s) })

	return rig
}

func TestHandleSnapshotHeatingTick(t *testing.T) {
	rig := newTestRig(t, &roomSensor{temp: 18})
	rig.orch.SetModeSelector(SelectorHeat)

	snap := aircon.DeviceSnapshot{
		DeviceID:   "1",
		Power:      true,
		ACSetTemp:  types.Float(22),
		ObservedAt: time.Now(),
	}
	rig.orch.HandleSnapshot(context.Background(), snap)

	// First snapshot adopts the device setpoint as user target.
	assert.Equal(t, 22.0, rig.orch.UserTarget())

	// Room 4 °C under target: a heat command goes out.
	require.Equal(t, 1, rig.ac.sentCount())
	sent := rig.ac.sent[0]
	assert.True(t, sent.Power)
	assert.Equal(t, aircon.ModeHeat, sent.OperationMode)

	require.Len(t, rig.ticks, 1)
	tick := rig.ticks[0]
	assert.Equal(t, "HEATING_ACTIVE", tick.State)
	assert.Equal(t, "living-room", tick.Device)
	require.NotNil(t, tick.RoomTemp)
	assert.Equal(t, 18.0, *tick.RoomTemp)

	select {
	case p := <-rig.points:
		assert.Equal(t, "HEATING_ACTIVE", p.HVACState)
		assert.Equal(t, 22.0, p.UserTarget)
	default:
		t.Fatal("no telemetry point emitted")
	}
}

func TestHandleSnapshotSensorFault(t *testing.T) {
	rig := newTestRig(t, &roomSensor{err: errors.New("unreachable")})

	rig.orch.HandleSnapshot(context.Background(), aircon.DeviceSnapshot{Power: true, ObservedAt: time.Now()})

	assert.Zero(t, rig.ac.sentCount(), "no command may be issued without a room reading")
	require.Len(t, rig.ticks, 1)
	assert.Equal(t, "SENSOR_FAULT", rig.ticks[0].State)
	assert.Nil(t, rig.ticks[0].RoomTemp)
}

func TestHandleSnapshotStandbyIssuesInitialCoast(t *testing.T) {
	rig := newTestRig(t, &roomSensor{temp: 22.8})
	rig.orch.SetModeSelector(SelectorHeat)

	// Room within the deadband: no transition, but the predicted setpoint
	// still has to reach the device once.
	rig.orch.HandleSnapshot(context.Background(), aircon.DeviceSnapshot{Power: true, ObservedAt: time.Now()})

	require.Equal(t, 1, rig.ac.sentCount())
	assert.Equal(t, aircon.FlagSetTemperature, rig.ac.flags[0], "first standby dispatch is setpoint-only")
	require.NotNil(t, rig.ac.sent[0].ACSetTemp)
	assert.Equal(t, 23.0, *rig.ac.sent[0].ACSetTemp)
	require.Len(t, rig.ticks, 1)
	assert.Equal(t, "STANDBY", rig.ticks[0].State)
}

func TestHandleSnapshotProhibitSuppressesCommands(t *testing.T) {
	rig := newTestRig(t, &roomSensor{temp: 18})
	rig.orch.SetModeSelector(SelectorHeat)

	snap := aircon.DeviceSnapshot{Power: true, UserProhibit: true, ObservedAt: time.Now()}
	rig.orch.HandleSnapshot(context.Background(), snap)

	assert.Zero(t, rig.ac.sentCount())
	require.Len(t, rig.ticks, 1)
	assert.Equal(t, "HEATING_ACTIVE", rig.ticks[0].State, "the state machine still advances")
}

func TestSetUserTargetClampsToComfortBand(t *testing.T) {
	rig := newTestRig(t, &roomSensor{temp: 21})

	assert.Equal(t, 26.0, rig.orch.SetUserTarget(30))
	assert.Equal(t, 20.0, rig.orch.SetUserTarget(15))
	assert.Equal(t, 24.5, rig.orch.SetUserTarget(24.5))
}

func TestResolveSeasonDefaultsToWinter(t *testing.T) {
	rig := newTestRig(t, &roomSensor{temp: 21})

	// Auto with no forecast falls back to winter.
	assert.Equal(t, types.SeasonWinter, rig.orch.resolveSeason(SelectorAuto, 23))
	assert.Equal(t, types.SeasonWinter, rig.orch.resolveSeason(SelectorHeat, 23))
	assert.Equal(t, types.SeasonSummer, rig.orch.resolveSeason(SelectorCool, 23))
}

func TestRunConsumesSnapshots(t *testing.T) {
	rig := newTestRig(t, &roomSensor{temp: 22.8})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	rig.orch.Run(ctx, &wg)

	rig.ac.snapshots <- aircon.DeviceSnapshot{Power: true, ACSetTemp: types.Float(23), ObservedAt: time.Now()}

	require.Eventually(t, func() bool {
		select {
		case <-rig.points:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
}
