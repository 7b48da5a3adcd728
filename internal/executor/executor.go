// Package executor translates state-machine decisions into rate-limited,
// sensor-compensated commands on the AC cloud client.
package executor

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/aircon"
	"github.com/passivehome/climatecore/internal/hvac"
)

// DefaultMinActionInterval is the global floor between two AC commands.
const DefaultMinActionInterval = 60 * time.Second

// Setpoint drift below this threshold does not warrant a re-dispatch.
const driftThreshold = 0.5

// Sender is the slice of the AC client the executor needs.
type Sender interface {
	Send(ctx context.Context, s aircon.DeviceSnapshot, flags aircon.EffectiveFlags) error
}

// Compensator maps a desired room temperature to the AC setpoint that
// achieves it. Implemented by sensor.Tracker.
type Compensator interface {
	Compensate(target float64) float64
}

// Executor dispatches commands with a global rate limit. It is driven only
// by the orchestrator goroutine.
type Executor struct {
	sender      Sender
	comp        Compensator
	minInterval time.Duration
	logger      *zap.SugaredLogger
	clock       func() time.Time

	lastCommandAt   time.Time
	lastCompensated *float64
}

// New creates an executor. A non-positive minInterval selects the default.
func New(sender Sender, comp Compensator, minInterval time.Duration, logger *zap.SugaredLogger) *Executor {
	if minInterval <= 0 {
		minInterval = DefaultMinActionInterval
	}
	return &Executor{
		sender:      sender,
		comp:        comp,
		minInterval: minInterval,
		logger:      logger.Named("executor"),
		clock:       time.Now,
	}
}

// Execute dispatches the decision's action, if any. Rate-limited commands are
// dropped with a debug log; send failures are logged at warn and otherwise
// ignored so the next tick retries naturally.
func (e *Executor) Execute(ctx context.Context, dec hvac.Decision, snap aircon.DeviceSnapshot) {
	if dec.Action == nil {
		return
	}
	e.dispatch(ctx, dec.Action, snap, dec.Reason)
}

// MaybeRedispatch re-issues a coast command when the compensated setpoint for
// the current state has drifted from the last dispatched value, typically
// because the sensor offset moved. With no baseline yet the coast goes out
// unconditionally so the AC tracks the predicted setpoint from the very first
// tick. Subject to the same rate limit.
func (e *Executor) MaybeRedispatch(ctx context.Context, action *hvac.Action, snap aircon.DeviceSnapshot) {
	if action == nil {
		return
	}
	reason := "initial setpoint dispatch"
	if e.lastCompensated != nil {
		compensated := e.comp.Compensate(action.Setpoint)
		if math.Abs(compensated-*e.lastCompensated) < driftThreshold {
			return
		}
		reason = "setpoint drift re-dispatch"
	}
	coast := &hvac.Action{Type: hvac.ActionCoast, Setpoint: action.Setpoint}
	e.dispatch(ctx, coast, snap, reason)
}

// LastCompensatedSetpoint returns the most recently dispatched AC setpoint.
func (e *Executor) LastCompensatedSetpoint() *float64 {
	return e.lastCompensated
}

func (e *Executor) dispatch(ctx context.Context, action *hvac.Action, snap aircon.DeviceSnapshot, reason string) {
	now := e.clock()
	if since := now.Sub(e.lastCommandAt); !e.lastCommandAt.IsZero() && since < e.minInterval {
		e.logger.Debugw("command rate limited",
			"since_last", since,
			"min_interval", e.minInterval,
			"reason", reason)
		return
	}

	compensated := e.comp.Compensate(action.Setpoint)
	cmdID := uuid.New().String()[:8]

	upd := snap
	upd.ACSetTemp = &compensated

	var flags aircon.EffectiveFlags
	switch action.Type {
	case hvac.ActionSetMode:
		upd.Power = true
		if action.Mode == hvac.ModeCool {
			upd.OperationMode = aircon.ModeCool
		} else {
			upd.OperationMode = aircon.ModeHeat
		}
		flags = aircon.FlagPowerOperationModeSetTemperature
	case hvac.ActionCoast:
		flags = aircon.FlagSetTemperature
	default:
		return
	}

	// The rate limit counts issued commands, successful or not.
	e.lastCommandAt = now

	e.logger.Infow("dispatching command",
		"id", cmdID,
		"type", actionName(action.Type),
		"mode", action.Mode.String(),
		"setpoint", action.Setpoint,
		"compensated", compensated,
		"reason", reason)

	if err := e.sender.Send(ctx, upd, flags); err != nil {
		e.logger.Warnw("command failed", "id", cmdID, "error", err)
		return
	}

	e.lastCompensated = &compensated
}

func actionName(t hvac.ActionType) string {
	if t == hvac.ActionCoast {
		return "coast"
	}
	return "setMode"
}
