// Package hvac implements the HVAC state machine: eight states with
// anti-oscillation dwell timers, driven by the temperature deviation from the
// user target and by forecast-based pre-conditioning.
package hvac

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/types"
)

// State is the HVAC control state.
type State int

const (
	StateStandby State = iota
	StateHeatingActive
	StateCoolingActive
	StatePreHeat
	StatePreCool
	StateHeatingCoast
	StateCoolingCoast
	StateSensorFault
)

func (s State) String() string {
	switch s {
	case StateStandby:
		return "STANDBY"
	case StateHeatingActive:
		return "HEATING_ACTIVE"
	case StateCoolingActive:
		return "COOLING_ACTIVE"
	case StatePreHeat:
		return "PRE_HEAT"
	case StatePreCool:
		return "PRE_COOL"
	case StateHeatingCoast:
		return "HEATING_COAST"
	case StateCoolingCoast:
		return "COOLING_COAST"
	case StateSensorFault:
		return "SENSOR_FAULT"
	}
	return "UNKNOWN"
}

// isActive reports whether the state runs the compressor.
func (s State) isActive() bool {
	switch s {
	case StateHeatingActive, StateCoolingActive, StatePreHeat, StatePreCool:
		return true
	}
	return false
}

type family int

const (
	familyNeutral family = iota
	familyHeating
	familyCooling
)

func (s State) family() family {
	switch s {
	case StateHeatingActive, StatePreHeat, StateHeatingCoast:
		return familyHeating
	case StateCoolingActive, StatePreCool, StateCoolingCoast:
		return familyCooling
	}
	return familyNeutral
}

// Mode is the command direction carried by an action.
type Mode int

const (
	ModeHeat Mode = iota
	ModeCool
)

func (m Mode) String() string {
	if m == ModeCool {
		return "cool"
	}
	return "heat"
}

// ActionType distinguishes a full setMode command from a setpoint-only coast.
type ActionType int

const (
	ActionSetMode ActionType = iota
	ActionCoast
)

// Action is the command the state machine wants dispatched.
type Action struct {
	Type     ActionType
	Mode     Mode // meaningful for ActionSetMode only
	Setpoint float64
}

// Decision is the outcome of one state-machine step.
type Decision struct {
	State  State
	Action *Action
	Reason string
}

// Input is the per-step input collected by the orchestrator.
type Input struct {
	RoomTemp          *float64
	UserTarget        float64
	PredictedSetpoint float64
	Season            types.SeasonMode
	ForecastTemps     []float64
	ACPowered         bool
}

// Config holds the anti-oscillation constants.
type Config struct {
	Deadband      float64
	Hysteresis    float64
	MinOn         time.Duration
	MinOff        time.Duration
	MinModeSwitch time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Deadband:      4.0,
		Hysteresis:    2.0,
		MinOn:         300 * time.Second,
		MinOff:        180 * time.Second,
		MinModeSwitch: 600 * time.Second,
	}
}

// ConfigFromOverrides merges configuration overrides onto the defaults.
func ConfigFromOverrides(cfg types.AlgorithmConfig) Config {
	c := DefaultConfig()
	if cfg.Deadband != 0 {
		c.Deadband = cfg.Deadband
	}
	if cfg.Hysteresis != 0 {
		c.Hysteresis = cfg.Hysteresis
	}
	if cfg.MinOnSeconds != 0 {
		c.MinOn = time.Duration(cfg.MinOnSeconds) * time.Second
	}
	if cfg.MinOffSeconds != 0 {
		c.MinOff = time.Duration(cfg.MinOffSeconds) * time.Second
	}
	if cfg.MinModeSwitchSecs != 0 {
		c.MinModeSwitch = time.Duration(cfg.MinModeSwitchSecs) * time.Second
	}
	return c
}

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

const historySize = 50

// Machine is the per-device state machine. It is mutated only by the
// orchestrator goroutine and therefore carries no lock; readers get snapshots
// through the orchestrator.
type Machine struct {
	cfg    Config
	logger *zap.SugaredLogger
	clock  func() time.Time

	state     State
	enteredAt time.Time

	lastOnAt         *time.Time
	lastOffAt        *time.Time
	lastModeSwitchAt *time.Time
	lastFamily       family

	history []Transition
}

// NewMachine creates a machine in STANDBY.
func NewMachine(cfg Config, logger *zap.SugaredLogger) *Machine {
	m := &Machine{
		cfg:    cfg,
		logger: logger.Named("hvac"),
		clock:  time.Now,
	}
	m.enteredAt = m.clock()
	return m
}

// Step evaluates one tick and returns the resulting decision. Blocked
// transitions keep the current state with a nil action.
func (m *Machine) Step(in Input) Decision {
	now := m.clock()

	// Sensor loss is unconditional; dwell timers do not apply.
	if in.RoomTemp == nil {
		if m.state != StateSensorFault {
			m.apply(StateSensorFault, now, "room sensor unavailable")
		}
		return Decision{State: StateSensorFault, Reason: "room sensor unavailable"}
	}

	desired, reason := m.desiredState(in)

	if desired == m.state {
		return Decision{State: m.state, Reason: reason}
	}

	if why, blocked := m.blocked(desired, now); blocked {
		return Decision{
			State:  m.state,
			Reason: fmt.Sprintf("transition blocked by anti-oscillation timer (%s)", why),
		}
	}

	m.apply(desired, now, reason)
	return Decision{
		State:  desired,
		Action: actionFor(desired, in.PredictedSetpoint),
		Reason: reason,
	}
}

// desiredState determines where the machine wants to go, ignoring guards.
func (m *Machine) desiredState(in Input) (State, string) {
	dev := *in.RoomTemp - in.UserTarget

	// Recovery from sensor fault restarts control from an inactive
	// baseline: pick the state matching the current need directly.
	if m.state == StateSensorFault {
		if in.Season == types.SeasonWinter && dev < 0 {
			return StateHeatingActive, "sensor recovered, room below target"
		}
		if in.Season == types.SeasonSummer && dev > 0 {
			return StateCoolingActive, "sensor recovered, room above target"
		}
		return StateStandby, "sensor recovered"
	}

	halfDeadband := m.cfg.Deadband / 2

	if in.Season == types.SeasonWinter {
		if cs := DetectColdSnap(in.ForecastTemps); cs != nil && m.state.family() != familyHeating {
			return StatePreHeat, fmt.Sprintf("cold snap in %dh: drop %.1f°C to %.1f°C",
				cs.HoursUntil, cs.TempDrop, cs.MinTemp)
		}
		switch {
		case dev < -m.cfg.Hysteresis:
			return StateHeatingActive, fmt.Sprintf("room %.1f°C below target", -dev)
		case dev > halfDeadband:
			if m.state.family() == familyHeating {
				return StateHeatingCoast, fmt.Sprintf("room %.1f°C above target, coasting", dev)
			}
			return StateStandby, fmt.Sprintf("room %.1f°C above target", dev)
		case m.state == StateHeatingCoast && dev > -0.5:
			return StateStandby, "coast complete, room near target"
		}
	} else {
		if hw := DetectHeatwave(in.ForecastTemps); hw != nil && m.state.family() != familyCooling {
			return StatePreCool, fmt.Sprintf("heatwave in %dh: peak %.1f°C",
				hw.HoursUntil, hw.PeakTemp)
		}
		switch {
		case dev > m.cfg.Hysteresis:
			return StateCoolingActive, fmt.Sprintf("room %.1f°C above target", dev)
		case dev < -halfDeadband:
			if m.state.family() == familyCooling {
				return StateCoolingCoast, fmt.Sprintf("room %.1f°C below target, coasting", -dev)
			}
			return StateStandby, fmt.Sprintf("room %.1f°C below target", -dev)
		case m.state == StateCoolingCoast && dev < 0.5:
			return StateStandby, "coast complete, room near target"
		}
	}

	return m.state, "no state change"
}

// blocked evaluates the anti-oscillation guards for a would-be transition.
func (m *Machine) blocked(desired State, now time.Time) (string, bool) {
	if m.state.isActive() && m.lastOnAt != nil {
		if dwell := now.Sub(*m.lastOnAt); dwell < m.cfg.MinOn {
			return fmt.Sprintf("min-on %v < %v", dwell, m.cfg.MinOn), true
		}
	}
	if desired.isActive() && m.lastOffAt != nil {
		if since := now.Sub(*m.lastOffAt); since < m.cfg.MinOff {
			return fmt.Sprintf("min-off %v < %v", since, m.cfg.MinOff), true
		}
	}
	if df := desired.family(); df != familyNeutral && m.lastFamily != familyNeutral && df != m.lastFamily {
		if m.lastModeSwitchAt != nil {
			if since := now.Sub(*m.lastModeSwitchAt); since < m.cfg.MinModeSwitch {
				return fmt.Sprintf("mode-switch %v < %v", since, m.cfg.MinModeSwitch), true
			}
		}
	}
	return "", false
}

// apply performs the transition, updating timers and history.
func (m *Machine) apply(to State, now time.Time, reason string) {
	from := m.state

	if !from.isActive() && to.isActive() {
		t := now
		m.lastOnAt = &t
	}
	if from.isActive() && !to.isActive() {
		t := now
		m.lastOffAt = &t
	}
	if df := to.family(); df != familyNeutral {
		if m.lastFamily != familyNeutral && df != m.lastFamily {
			t := now
			m.lastModeSwitchAt = &t
		}
		m.lastFamily = df
	}

	if to == StateSensorFault {
		// A fault wipes the dwell history so recovery starts clean.
		m.lastOnAt = nil
		m.lastOffAt = nil
		m.lastModeSwitchAt = nil
		m.lastFamily = familyNeutral
	}

	m.state = to
	m.enteredAt = now
	m.record(Transition{From: from, To: to, At: now, Reason: reason})

	m.logger.Infow("state transition",
		"from", from.String(),
		"to", to.String(),
		"reason", reason)
}

func (m *Machine) record(tr Transition) {
	m.history = append(m.history, tr)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
}

func actionFor(s State, setpoint float64) *Action {
	switch s {
	case StateHeatingActive, StatePreHeat:
		return &Action{Type: ActionSetMode, Mode: ModeHeat, Setpoint: setpoint}
	case StateCoolingActive, StatePreCool:
		return &Action{Type: ActionSetMode, Mode: ModeCool, Setpoint: setpoint}
	case StateStandby, StateHeatingCoast, StateCoolingCoast:
		return &Action{Type: ActionCoast, Setpoint: setpoint}
	}
	return nil
}

// ActionForCurrentState derives the command matching the machine's present
// state; the orchestrator uses it for drift re-dispatch when no transition
// occurred.
func (m *Machine) ActionForCurrentState(setpoint float64) *Action {
	return actionFor(m.state, setpoint)
}

// CurrentState returns the machine's state.
func (m *Machine) CurrentState() State {
	return m.state
}

// TimeInState returns how long the machine has been in its current state.
func (m *Machine) TimeInState() time.Duration {
	return m.clock().Sub(m.enteredAt)
}

// History returns a copy of the recorded transitions, oldest first.
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Reset returns the machine to STANDBY and clears all dwell timers.
func (m *Machine) Reset() {
	now := m.clock()
	if m.state != StateStandby {
		m.record(Transition{From: m.state, To: StateStandby, At: now, Reason: "reset"})
	}
	m.state = StateStandby
	m.enteredAt = now
	m.lastOnAt = nil
	m.lastOffAt = nil
	m.lastModeSwitchAt = nil
	m.lastFamily = familyNeutral
}

// Force moves the machine to the given state bypassing all guards. Intended
// for tests and manual override; an out-of-range state is a programmer error.
func (m *Machine) Force(to State, reason string) {
	if to < StateStandby || to > StateSensorFault {
		panic(fmt.Sprintf("hvac: invalid forced state %d", to))
	}
	m.apply(to, m.clock(), reason)
}
