package aircon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passivehome/climatecore/internal/types"
)

func TestSimulatorHonorsEffectiveFlags(t *testing.T) {
	sim := NewSimulatorClient(21)
	ctx := context.Background()

	// Temperature-only update must not flip power or mode.
	err := sim.Send(ctx, DeviceSnapshot{
		Power:         true,
		OperationMode: ModeCool,
		ACSetTemp:     types.Float(24),
	}, FlagSetTemperature)
	require.NoError(t, err)

	st := sim.State()
	assert.False(t, st.Power)
	assert.Equal(t, ModeHeat, st.OperationMode)
	require.NotNil(t, st.ACSetTemp)
	assert.Equal(t, 24.0, *st.ACSetTemp)

	// Combined setMode update applies all three fields.
	err = sim.Send(ctx, DeviceSnapshot{
		Power:         true,
		OperationMode: ModeCool,
		ACSetTemp:     types.Float(23),
	}, FlagPowerOperationModeSetTemperature)
	require.NoError(t, err)

	st = sim.State()
	assert.True(t, st.Power)
	assert.Equal(t, ModeCool, st.OperationMode)
	assert.Equal(t, 23.0, *st.ACSetTemp)
}

func TestSimulatorEmitsSnapshots(t *testing.T) {
	sim := NewSimulatorClient(21)
	sim.SetSensorTemp(22.5)
	sim.Emit(context.Background())

	select {
	case snap := <-sim.Snapshots():
		assert.Equal(t, "simulator", snap.DeviceID)
		require.NotNil(t, snap.ACSensorTemp)
		assert.Equal(t, 22.5, *snap.ACSensorTemp)
		assert.False(t, snap.ObservedAt.IsZero())
	default:
		t.Fatal("no snapshot emitted")
	}
}
