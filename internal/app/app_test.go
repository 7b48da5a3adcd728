package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/aircon"
	"github.com/passivehome/climatecore/internal/types"
)

const hourlyJSON = `{"hourly":{"time":["2026-08-24T00:00","2026-08-24T01:00"],` +
	`"temperature_2m":[5,4],"shortwave_radiation":[0,0],"direct_radiation":[0,0],` +
	`"cloud_cover":[50,50],"wind_speed_10m":[3,3]}}`

func TestDeviceWiringRunsControlLoop(t *testing.T) {
	sensorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"temperature": 19.0, "humidity": 40}`))
	}))
	defer sensorSrv.Close()

	weatherSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(hourlyJSON))
	}))
	defer weatherSrv.Close()

	cfg := types.Config{
		Devices: []types.DeviceConfig{{
			Name:              "lab",
			TargetTemperature: 23,
			RefreshInterval:   1,
			ExternalSensor:    types.SensorConfig{URL: sensorSrv.URL, PollInterval: 1},
			Weather: types.WeatherConfig{
				APIEndpoint:     weatherSrv.URL,
				RefreshInterval: 60,
				CacheValidity:   120,
			},
		}},
		AirCon:    types.AirConConfig{Simulator: true},
		Accessory: types.AccessoryConfig{Disabled: true},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	a := New(cfg, zap.NewNop().Sugar())
	rt := a.buildDevice(ctx, &wg, cfg.Devices[0], nil)
	a.devices = append(a.devices, rt)
	require.NoError(t, a.startDevice(ctx, &wg, rt))

	// The sensor poll loop must come up on its own; without it every tick
	// is a sensor fault and no command ever reaches the device.
	require.Eventually(t, func() bool { return rt.tracker.RoomTemp() != nil },
		3*time.Second, 25*time.Millisecond, "sensor tracker never started polling")

	// Room well below target: the loop must end up commanding heat.
	sim := rt.client.(*aircon.SimulatorClient)
	require.Eventually(t, func() bool { return sim.State().Power },
		5*time.Second, 50*time.Millisecond, "no heat command reached the device")
	assert.Equal(t, aircon.ModeHeat, sim.State().OperationMode)

	cancel()
	wg.Wait()
}
