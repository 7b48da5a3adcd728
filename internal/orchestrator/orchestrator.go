// Package orchestrator runs the per-device control loop: on every AC
// snapshot it refreshes the sensor offset, collects the control inputs, runs
// the setpoint calculator and the state machine, and hands the resulting
// action to the executor.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/aircon"
	"github.com/passivehome/climatecore/internal/executor"
	"github.com/passivehome/climatecore/internal/hvac"
	"github.com/passivehome/climatecore/internal/sensor"
	"github.com/passivehome/climatecore/internal/setpoint"
	"github.com/passivehome/climatecore/internal/types"
	"github.com/passivehome/climatecore/internal/weather"
)

// ModeSelector is the user-facing mode switch exposed by the accessory.
type ModeSelector int

const (
	SelectorAuto ModeSelector = iota
	SelectorHeat
	SelectorCool
)

// comfortBand is how far the user may move the target from the configured
// midpoint, in °C.
const comfortBand = 3

// TickStatus is the consistent snapshot published after every tick for the
// accessory, the status server and the live feed.
type TickStatus struct {
	Device              string                 `json:"device"`
	Time                time.Time              `json:"time"`
	State               string                 `json:"state"`
	Reason              string                 `json:"reason"`
	Season              string                 `json:"season"`
	RoomTemp            *float64               `json:"roomTemp"`
	OutdoorTemp         *float64               `json:"outdoorTemp"`
	UserTarget          float64                `json:"userTarget"`
	Prediction          types.PredictionResult `json:"prediction"`
	CompensatedSetpoint *float64               `json:"compensatedSetpoint"`
	SensorOffset        *float64               `json:"sensorOffset"`
	Power               bool                   `json:"power"`
	TimeInState         time.Duration          `json:"timeInState"`
	History             []hvac.Transition      `json:"history"`
}

// Orchestrator owns one device's control state. Snapshot handling is
// single-threaded; only the user-input setters are called from other
// goroutines.
type Orchestrator struct {
	device  types.DeviceConfig
	client  aircon.Client
	tracker *sensor.Tracker
	cache   *weather.Cache
	calc    *setpoint.Calculator
	machine *hvac.Machine
	exec    *executor.Executor
	logger  *zap.SugaredLogger

	telemetry chan<- types.Point

	mu         sync.Mutex
	userTarget float64
	targetSet  bool
	selector   ModeSelector

	lastSnapshot *aircon.DeviceSnapshot

	onTick []func(TickStatus)
}

// New wires an orchestrator for one device.
func New(device types.DeviceConfig, client aircon.Client, tracker *sensor.Tracker, cache *weather.Cache,
	calc *setpoint.Calculator, machine *hvac.Machine, exec *executor.Executor,
	telemetry chan<- types.Point, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		device:     device,
		client:     client,
		tracker:    tracker,
		cache:      cache,
		calc:       calc,
		machine:    machine,
		exec:       exec,
		telemetry:  telemetry,
		logger:     logger.Named("orchestrator").With("device", device.Name),
		userTarget: device.TargetTemperature,
		selector:   SelectorAuto,
	}
}

// OnTick registers a callback invoked after every processed snapshot.
// Callbacks must be registered before Run starts.
func (o *Orchestrator) OnTick(fn func(TickStatus)) {
	o.onTick = append(o.onTick, fn)
}

// Run consumes device snapshots until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				o.logger.Info("orchestrator stopped")
				return
			case snap := <-o.client.Snapshots():
				o.HandleSnapshot(ctx, snap)
			}
		}
	}()
}

// HandleSnapshot processes one device-state tick.
func (o *Orchestrator) HandleSnapshot(ctx context.Context, snap aircon.DeviceSnapshot) {
	o.lastSnapshot = &snap

	offsetMoved := o.tracker.ObserveSnapshot(snap.ACSensorTemp, snap.MinSetTemp, snap.MaxSetTemp)

	// First tick adopts the AC's own setpoint as the user target so a
	// restart does not yank the room around.
	o.mu.Lock()
	if !o.targetSet && snap.ACSetTemp != nil {
		o.userTarget = clampTarget(*snap.ACSetTemp, o.device.TargetTemperature)
		o.targetSet = true
		o.logger.Infow("user target initialized from device", "target", o.userTarget)
	}
	userTarget := o.userTarget
	selector := o.selector
	o.mu.Unlock()

	season := o.resolveSeason(selector, userTarget)
	roomTemp := o.tracker.RoomTemp()

	cc := types.ControlContext{
		UserComfortTarget: userTarget,
		RoomTemp:          roomTemp,
		OutdoorTemp:       o.cache.CurrentOutdoorTemp(),
		ForecastTemps:     o.cache.TempsForNextHours(48),
		ForecastSolar:     o.cache.SolarForNextHours(48),
		Season:            season,
		ACPowered:         snap.Power,
	}

	prediction := o.calc.Calculate(cc)

	dec := o.machine.Step(hvac.Input{
		RoomTemp:          cc.RoomTemp,
		UserTarget:        cc.UserComfortTarget,
		PredictedSetpoint: prediction.PredictedTarget,
		Season:            cc.Season,
		ForecastTemps:     cc.ForecastTemps,
		ACPowered:         cc.ACPowered,
	})

	o.logger.Debugw("tick",
		"state", dec.State.String(),
		"predicted", prediction.PredictedTarget,
		"room", roomTemp,
		"reason", dec.Reason)

	if snap.UserProhibit {
		o.logger.Debug("remote control prohibited by user, skipping dispatch")
	} else if dec.Action != nil {
		o.exec.Execute(ctx, dec, snap)
	} else if offsetMoved || dec.State != hvac.StateSensorFault {
		// No transition: re-issue only if the compensated setpoint
		// drifted, e.g. because the sensor offset moved.
		o.exec.MaybeRedispatch(ctx, o.machine.ActionForCurrentState(prediction.PredictedTarget), snap)
	}

	status := o.buildStatus(snap, cc, prediction, dec)
	o.emitTelemetry(status, cc)
	for _, fn := range o.onTick {
		fn(status)
	}
}

// SetUserTarget stores a user-chosen comfort target, silently clamped to the
// comfort band. It takes effect on the next tick.
func (o *Orchestrator) SetUserTarget(target float64) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.userTarget = clampTarget(target, o.device.TargetTemperature)
	o.targetSet = true
	o.logger.Infow("user target updated", "target", o.userTarget)
	return o.userTarget
}

// UserTarget returns the current comfort target.
func (o *Orchestrator) UserTarget() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userTarget
}

// SetModeSelector stores the user-chosen heat/cool/auto selector.
func (o *Orchestrator) SetModeSelector(sel ModeSelector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selector = sel
}

// SetPower toggles the AC power directly, bypassing the predictive path.
func (o *Orchestrator) SetPower(ctx context.Context, on bool) error {
	snap := aircon.DeviceSnapshot{}
	if o.lastSnapshot != nil {
		snap = *o.lastSnapshot
	}
	snap.Power = on
	return o.client.Send(ctx, snap, aircon.FlagPower)
}

// resolveSeason maps the accessory selector to a season. AUTO compares the
// next 24 h average outdoor temperature against the user target, defaulting
// to winter when the forecast is unavailable.
func (o *Orchestrator) resolveSeason(sel ModeSelector, userTarget float64) types.SeasonMode {
	switch sel {
	case SelectorHeat:
		return types.SeasonWinter
	case SelectorCool:
		return types.SeasonSummer
	}
	avg := o.cache.AverageTempNextHours(24)
	if avg == nil || *avg <= userTarget {
		return types.SeasonWinter
	}
	return types.SeasonSummer
}

func (o *Orchestrator) buildStatus(snap aircon.DeviceSnapshot, cc types.ControlContext,
	prediction types.PredictionResult, dec hvac.Decision) TickStatus {
	var offsetPtr *float64
	if offset, known := o.tracker.Offset(); known {
		offsetPtr = &offset
	}
	return TickStatus{
		Device:              o.device.Name,
		Time:                snap.ObservedAt,
		State:               dec.State.String(),
		Reason:              dec.Reason,
		Season:              cc.Season.String(),
		RoomTemp:            cc.RoomTemp,
		OutdoorTemp:         cc.OutdoorTemp,
		UserTarget:          cc.UserComfortTarget,
		Prediction:          prediction,
		CompensatedSetpoint: o.exec.LastCompensatedSetpoint(),
		SensorOffset:        offsetPtr,
		Power:               snap.Power,
		TimeInState:         o.machine.TimeInState(),
		History:             o.machine.History(),
	}
}

func (o *Orchestrator) emitTelemetry(status TickStatus, cc types.ControlContext) {
	if o.telemetry == nil {
		return
	}
	point := types.Point{
		Time:            status.Time,
		Device:          status.Device,
		HVACState:       status.State,
		Season:          status.Season,
		IndoorTemp:      status.RoomTemp,
		OutdoorTemp:     status.OutdoorTemp,
		ACSetpoint:      status.CompensatedSetpoint,
		PredictedTarget: status.Prediction.PredictedTarget,
		UserTarget:      status.UserTarget,
		SolarRadiation:  o.cache.CurrentSolar(),
		SensorOffset:    status.SensorOffset,
		PowerState:      status.Power,
	}
	select {
	case o.telemetry <- point:
	default:
		o.logger.Debug("telemetry channel full, dropping point")
	}
}

func clampTarget(target, base float64) float64 {
	if target < base-comfortBand {
		return base - comfortBand
	}
	if target > base+comfortBand {
		return base + comfortBand
	}
	return target
}
