// Package accessory exposes the control loop as a HomeKit heater-cooler so a
// phone can adjust the comfort target, flip the heat/cool/auto selector, and
// watch the live room temperature.
package accessory

import (
	"context"
	"sync"

	"github.com/brutella/hap"
	hapaccessory "github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/orchestrator"
	"github.com/passivehome/climatecore/internal/types"
)

// Controller is the slice of the orchestrator the accessory drives.
type Controller interface {
	SetUserTarget(target float64) float64
	UserTarget() float64
	SetModeSelector(sel orchestrator.ModeSelector)
	SetPower(ctx context.Context, on bool) error
	OnTick(fn func(orchestrator.TickStatus))
}

// Bridge publishes one heater-cooler accessory backed by the orchestrator.
type Bridge struct {
	cfg    types.AccessoryConfig
	ctrl   Controller
	logger *zap.SugaredLogger

	acc     *hapaccessory.A
	hc      *service.HeaterCooler
	heatThr *characteristic.HeatingThresholdTemperature
	coolThr *characteristic.CoolingThresholdTemperature
}

// New builds the accessory, its characteristics and the update handlers.
func New(cfg types.AccessoryConfig, ctrl Controller, logger *zap.SugaredLogger) *Bridge {
	b := &Bridge{
		cfg:    cfg,
		ctrl:   ctrl,
		logger: logger.Named("accessory"),
	}

	name := cfg.Name
	if name == "" {
		name = "Climate Core"
	}

	acc := hapaccessory.New(hapaccessory.Info{
		Name:         name,
		Manufacturer: "passivehome",
		Model:        "climatecore",
	}, hapaccessory.TypeAirConditioner)

	b.hc = service.NewHeaterCooler()

	b.heatThr = characteristic.NewHeatingThresholdTemperature()
	b.heatThr.SetMinValue(16)
	b.heatThr.SetMaxValue(30)
	b.heatThr.SetStepValue(0.5)
	b.hc.AddC(b.heatThr.C)

	b.coolThr = characteristic.NewCoolingThresholdTemperature()
	b.coolThr.SetMinValue(16)
	b.coolThr.SetMaxValue(30)
	b.coolThr.SetStepValue(0.5)
	b.hc.AddC(b.coolThr.C)

	acc.AddS(b.hc.S)
	b.acc = acc

	b.hc.Active.OnValueRemoteUpdate(func(v int) {
		on := v == characteristic.ActiveActive
		b.logger.Infow("power toggled from accessory", "on", on)
		if err := b.ctrl.SetPower(context.Background(), on); err != nil {
			b.logger.Warnw("could not toggle power", "error", err)
		}
	})

	b.hc.TargetHeaterCoolerState.OnValueRemoteUpdate(func(v int) {
		switch v {
		case characteristic.TargetHeaterCoolerStateHeat:
			b.ctrl.SetModeSelector(orchestrator.SelectorHeat)
		case characteristic.TargetHeaterCoolerStateCool:
			b.ctrl.SetModeSelector(orchestrator.SelectorCool)
		default:
			b.ctrl.SetModeSelector(orchestrator.SelectorAuto)
		}
		b.logger.Infow("mode selector updated from accessory", "value", v)
	})

	onThreshold := func(v float64) {
		applied := b.ctrl.SetUserTarget(v)
		b.logger.Infow("comfort target updated from accessory", "requested", v, "applied", applied)
	}
	b.heatThr.OnValueRemoteUpdate(onThreshold)
	b.coolThr.OnValueRemoteUpdate(onThreshold)

	// Mirror the loop state back to HomeKit after every tick.
	ctrl.OnTick(b.applyStatus)

	return b
}

// applyStatus pushes a tick status into the HomeKit characteristics.
func (b *Bridge) applyStatus(status orchestrator.TickStatus) {
	if status.RoomTemp != nil {
		b.hc.CurrentTemperature.SetValue(*status.RoomTemp)
	}
	b.heatThr.SetValue(status.UserTarget)
	b.coolThr.SetValue(status.UserTarget)

	if status.Power {
		b.hc.Active.SetValue(characteristic.ActiveActive)
	} else {
		b.hc.Active.SetValue(characteristic.ActiveInactive)
	}

	b.hc.CurrentHeaterCoolerState.SetValue(currentStateFor(status.State, status.Power))
}

// currentStateFor maps a control-loop state to the HomeKit current state.
func currentStateFor(state string, power bool) int {
	if !power {
		return characteristic.CurrentHeaterCoolerStateInactive
	}
	switch state {
	case "HEATING_ACTIVE", "PRE_HEAT":
		return characteristic.CurrentHeaterCoolerStateHeating
	case "COOLING_ACTIVE", "PRE_COOL":
		return characteristic.CurrentHeaterCoolerStateCooling
	default:
		return characteristic.CurrentHeaterCoolerStateIdle
	}
}

// Run starts the HomeKit server until the context is cancelled.
func (b *Bridge) Run(ctx context.Context, wg *sync.WaitGroup) error {
	stateDir := b.cfg.StateDir
	if stateDir == "" {
		stateDir = "./homekit"
	}

	server, err := hap.NewServer(hap.NewFsStore(stateDir), b.acc)
	if err != nil {
		return err
	}
	if b.cfg.Pin != "" {
		server.Pin = b.cfg.Pin
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.logger.Info("homekit accessory listening")
		if err := server.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			b.logger.Errorw("homekit server failed", "error", err)
		}
	}()

	return nil
}
