// Package app wires the configured devices into running control loops and
// owns the process lifecycle.
package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/accessory"
	"github.com/passivehome/climatecore/internal/aircon"
	"github.com/passivehome/climatecore/internal/executor"
	"github.com/passivehome/climatecore/internal/hvac"
	"github.com/passivehome/climatecore/internal/log"
	"github.com/passivehome/climatecore/internal/orchestrator"
	"github.com/passivehome/climatecore/internal/sensor"
	"github.com/passivehome/climatecore/internal/setpoint"
	"github.com/passivehome/climatecore/internal/statusserver"
	"github.com/passivehome/climatecore/internal/telemetry"
	"github.com/passivehome/climatecore/internal/types"
	"github.com/passivehome/climatecore/internal/weather"
)

// App represents the main application
type App struct {
	config  types.Config
	logger  *zap.SugaredLogger
	devices []*deviceRuntime
}

// deviceRuntime bundles one device's components between the build and start
// phases.
type deviceRuntime struct {
	config  types.DeviceConfig
	client  aircon.Client
	startAC func() error
	tracker *sensor.Tracker
	cache   *weather.Cache
	orch    *orchestrator.Orchestrator
}

// New creates a new application instance
func New(config types.Config, logger *zap.SugaredLogger) *App {
	return &App{
		config: config,
		logger: logger,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Telemetry sinks come up first so the first tick is recorded.
	tm, err := telemetry.NewManager(ctx, &wg, a.config.Telemetry, a.logger)
	if err != nil {
		return err
	}

	// Build everything first so every OnTick consumer is registered before
	// the first snapshot is processed.
	for _, device := range a.config.Devices {
		a.devices = append(a.devices, a.buildDevice(ctx, &wg, device, tm.Distributor))
	}

	var srv *statusserver.Server
	if a.config.Status.Port != 0 {
		caches := make(map[string]*weather.Cache, len(a.devices))
		for _, rt := range a.devices {
			caches[rt.config.Name] = rt.cache
		}
		srv = statusserver.New(a.config.Status, caches, a.logger)
		for _, rt := range a.devices {
			rt.orch.OnTick(srv.Publish)
		}
	}

	for _, rt := range a.devices {
		if err := a.startDevice(ctx, &wg, rt); err != nil {
			return err
		}
	}
	if srv != nil {
		srv.Run(ctx, &wg)
	}

	log.Info("application started successfully")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	cancel()

	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

func (a *App) buildDevice(ctx context.Context, wg *sync.WaitGroup, device types.DeviceConfig,
	telemetryC chan<- types.Point) *deviceRuntime {

	provider := weather.NewOpenMeteoClient(device.Weather.APIEndpoint, device.Location, a.logger)
	cache := weather.NewCache(ctx, wg, provider,
		time.Duration(device.Weather.RefreshInterval)*time.Minute,
		time.Duration(device.Weather.CacheValidity)*time.Minute,
		a.logger)

	sensorClient := sensor.NewHTTPClient(device.ExternalSensor.URL, a.logger)
	tracker := sensor.NewTracker(ctx, wg, sensorClient,
		time.Duration(device.ExternalSensor.PollInterval)*time.Second, a.logger)

	rt := &deviceRuntime{config: device, tracker: tracker, cache: cache}

	refreshInterval := time.Duration(device.RefreshInterval) * time.Second
	if a.config.AirCon.Simulator {
		sim := aircon.NewSimulatorClient(device.TargetTemperature)
		rt.client = sim
		rt.startAC = func() error {
			sim.StartEmitting(ctx, wg, refreshInterval)
			return nil
		}
	} else {
		mel := aircon.NewMELCloudClient(ctx, wg, a.config.AirCon, refreshInterval, a.logger)
		rt.client = mel
		rt.startAC = mel.Start
	}

	calc := setpoint.New(setpoint.FromConfig(device.Algorithm))
	machine := hvac.NewMachine(hvac.ConfigFromOverrides(device.Algorithm), a.logger)
	exec := executor.New(rt.client, tracker,
		time.Duration(device.Algorithm.MinActionInterval)*time.Second, a.logger)

	rt.orch = orchestrator.New(device, rt.client, tracker, cache, calc, machine, exec, telemetryC, a.logger)
	return rt
}

func (a *App) startDevice(ctx context.Context, wg *sync.WaitGroup, rt *deviceRuntime) error {
	rt.cache.Start()
	rt.tracker.Start()
	if err := rt.startAC(); err != nil {
		return err
	}

	// One HomeKit accessory per install; it fronts the first device.
	if !a.config.Accessory.Disabled && len(a.devices) > 0 && rt == a.devices[0] {
		bridge := accessory.New(a.config.Accessory, rt.orch, a.logger)
		if err := bridge.Run(ctx, wg); err != nil {
			return err
		}
	}

	rt.orch.Run(ctx, wg)
	return nil
}
