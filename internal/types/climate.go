// Package types contains the configuration structures and the domain model
// shared by the climate-control components.
package types

import "time"

// SeasonMode selects which calculator layers apply and which sign conventions
// the state machine uses.
type SeasonMode int

const (
	SeasonWinter SeasonMode = iota
	SeasonSummer
)

func (s SeasonMode) String() string {
	if s == SeasonSummer {
		return "summer"
	}
	return "winter"
}

// SensorReading is the most recent observation from the external room sensor.
type SensorReading struct {
	RoomTemp   float64
	Humidity   float64
	ObservedAt time.Time
}

// ForecastHour is a single hourly forecast sample. Any observable may be
// absent from the upstream response.
type ForecastHour struct {
	Time            time.Time
	OutdoorTemp     *float64
	SolarRadiation  *float64 // shortwave, W/m²
	DirectRadiation *float64
	CloudCover      *float64
	WindSpeed       *float64
}

// Forecast is an immutable sequence of up to 48 hourly samples, replaced
// atomically on refresh.
type Forecast struct {
	Hours     []ForecastHour
	FetchedAt time.Time
}

// Temps returns the hourly outdoor temperatures with null samples skipped.
func (f *Forecast) Temps() []float64 {
	out := make([]float64, 0, len(f.Hours))
	for _, h := range f.Hours {
		if h.OutdoorTemp != nil {
			out = append(out, *h.OutdoorTemp)
		}
	}
	return out
}

// Solar returns the hourly shortwave radiation with null samples skipped.
func (f *Forecast) Solar() []float64 {
	out := make([]float64, 0, len(f.Hours))
	for _, h := range f.Hours {
		if h.SolarRadiation != nil {
			out = append(out, *h.SolarRadiation)
		}
	}
	return out
}

// ControlContext is the per-tick input to the setpoint calculator and the
// state machine.
type ControlContext struct {
	UserComfortTarget float64
	RoomTemp          *float64
	OutdoorTemp       *float64
	ForecastTemps     []float64
	ForecastSolar     []float64
	Season            SeasonMode
	ACPowered         bool
}

// PredictionComponents is the per-layer breakdown of a prediction.
type PredictionComponents struct {
	Base               float64 `json:"base"`
	OutdoorReset       float64 `json:"outdoorReset"`
	ForecastAdjustment float64 `json:"forecastAdjustment"`
	SolarOffset        float64 `json:"solarOffset"`
	ErrorCorrection    float64 `json:"errorCorrection"`
	ColdWeatherBoost   float64 `json:"coldWeatherBoost"`
}

// PredictionResult is the output of the setpoint calculator.
type PredictionResult struct {
	PredictedTarget float64              `json:"predictedTarget"`
	Components      PredictionComponents `json:"components"`
	Reason          string               `json:"reason"`
}

// Point is a single telemetry sample emitted once per orchestrator tick.
type Point struct {
	Time            time.Time
	Device          string
	HVACState       string
	Season          string
	IndoorTemp      *float64
	OutdoorTemp     *float64
	ACSetpoint      *float64
	PredictedTarget float64
	UserTarget      float64
	SolarRadiation  *float64
	SensorOffset    *float64
	PowerState      bool
}

// ToMap flattens the point's fields for sinks that store key/value pairs.
func (p Point) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"predicted_target": p.PredictedTarget,
		"user_target":      p.UserTarget,
		"power_state":      p.PowerState,
	}
	if p.IndoorTemp != nil {
		m["indoor_temp"] = *p.IndoorTemp
	}
	if p.OutdoorTemp != nil {
		m["outdoor_temp"] = *p.OutdoorTemp
	}
	if p.ACSetpoint != nil {
		m["ac_setpoint"] = *p.ACSetpoint
	}
	if p.SolarRadiation != nil {
		m["solar_radiation"] = *p.SolarRadiation
	}
	if p.SensorOffset != nil {
		m["sensor_offset"] = *p.SensorOffset
	}
	return m
}

// Float returns a pointer to v. Convenience for optional observables.
func Float(v float64) *float64 { return &v }
