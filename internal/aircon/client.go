// Package aircon defines the contract with the air-conditioner cloud API and
// provides an HTTP implementation of it. The control core depends only on the
// Client interface; a second AC vendor is a new implementation of it.
package aircon

import (
	"context"
	"time"
)

// OperationMode is the AC unit's operating mode enumeration as used by the
// vendor cloud API.
type OperationMode int

const (
	ModeHeat OperationMode = 1
	ModeDry  OperationMode = 2
	ModeCool OperationMode = 3
	ModeFan  OperationMode = 7
	ModeAuto OperationMode = 8

	// i-SEE sensor variants of heat/dry/cool
	ModeHeatISee OperationMode = 9
	ModeDryISee  OperationMode = 10
	ModeCoolISee OperationMode = 11
)

func (m OperationMode) String() string {
	switch m {
	case ModeHeat, ModeHeatISee:
		return "heat"
	case ModeDry, ModeDryISee:
		return "dry"
	case ModeCool, ModeCoolISee:
		return "cool"
	case ModeFan:
		return "fan"
	case ModeAuto:
		return "auto"
	}
	return "unknown"
}

// EffectiveFlags selects which fields of a device update are applied by the
// cloud. Flags can be OR-ed; the core uses the combined flag for setMode and
// the temperature-only flag for coast commands.
type EffectiveFlags uint32

const (
	FlagPower          EffectiveFlags = 0x01
	FlagOperationMode  EffectiveFlags = 0x02
	FlagSetTemperature EffectiveFlags = 0x04
	FlagProhibit       EffectiveFlags = 0x40

	FlagPowerOperationModeSetTemperature = FlagPower | FlagOperationMode | FlagSetTemperature
)

// DeviceSnapshot is the loosely-typed device state emitted by the cloud.
// Fields the upstream record omitted are nil.
type DeviceSnapshot struct {
	DeviceID      string
	Power         bool
	OperationMode OperationMode
	ACSensorTemp  *float64
	ACSetTemp     *float64
	UserProhibit  bool
	MinSetTemp    float64
	MaxSetTemp    float64
	ObservedAt    time.Time
}

// Client is the AC cloud contract consumed by the core. Snapshots delivers
// fresh device state events; Send issues an atomic command applying the
// fields selected by flags.
type Client interface {
	Snapshots() <-chan DeviceSnapshot
	Send(ctx context.Context, s DeviceSnapshot, flags EffectiveFlags) error
}
