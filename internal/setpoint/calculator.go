// Package setpoint implements the predictive room-target calculator. The
// calculator is a pure function of its inputs: the same ControlContext always
// produces the same PredictionResult.
package setpoint

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/passivehome/climatecore/internal/types"
)

// Params are the calculator constants. All are overridable from the device
// configuration; zero values fall back to the defaults below.
type Params struct {
	DesignOutdoorWinter float64 // outdoor temp with zero reset correction, winter
	DesignOutdoorSummer float64 // outdoor temp with zero reset correction, summer
	OutdoorResetGain    float64 // °C of correction per °C of outdoor deviation
	ForecastGain        float64 // fraction of the expected outdoor change pre-applied
	ForecastTauHours    float64 // decay constant for the look-ahead weighting
	SolarThreshold      float64 // W/m² below which solar gain is ignored
	SolarGain           float64 // °C of reduction per W/m² above the threshold
	ErrorGain           float64 // proportional gain on (target - room)
	ComfortBand         float64 // max deviation of prediction from user target
	WinterColdUpper     float64 // widened upper bound in winter below 0 °C outdoor
	MinSetpoint         float64
	MaxSetpoint         float64
}

// DefaultParams returns the documented defaults.
func DefaultParams() Params {
	return Params{
		DesignOutdoorWinter: 10,
		DesignOutdoorSummer: 25,
		OutdoorResetGain:    0.4,
		ForecastGain:        0.3,
		ForecastTauHours:    6,
		SolarThreshold:      200,
		SolarGain:           0.02,
		ErrorGain:           0.3,
		ComfortBand:         2,
		WinterColdUpper:     4,
		MinSetpoint:         16,
		MaxSetpoint:         30,
	}
}

// FromConfig merges configuration overrides onto the defaults.
func FromConfig(cfg types.AlgorithmConfig) Params {
	p := DefaultParams()
	if cfg.OutdoorResetGain != 0 {
		p.OutdoorResetGain = cfg.OutdoorResetGain
	}
	if cfg.ForecastGain != 0 {
		p.ForecastGain = cfg.ForecastGain
	}
	if cfg.ForecastTauHours != 0 {
		p.ForecastTauHours = cfg.ForecastTauHours
	}
	if cfg.SolarThreshold != 0 {
		p.SolarThreshold = cfg.SolarThreshold
	}
	if cfg.SolarGain != 0 {
		p.SolarGain = cfg.SolarGain
	}
	if cfg.ErrorGain != 0 {
		p.ErrorGain = cfg.ErrorGain
	}
	return p
}

// Calculator computes the predicted room target from a ControlContext.
type Calculator struct {
	params Params
}

// New creates a calculator with the given parameters.
func New(params Params) *Calculator {
	return &Calculator{params: params}
}

// Layer contributions only show up in the reason string above this magnitude.
const reasonThreshold = 0.3

// Calculate runs the additive prediction layers and returns the predicted
// room target with its component breakdown.
func (c *Calculator) Calculate(cc types.ControlContext) types.PredictionResult {
	p := c.params

	comps := types.PredictionComponents{Base: cc.UserComfortTarget}
	var reasons []string

	comps.OutdoorReset = c.outdoorReset(cc)
	comps.ForecastAdjustment = c.forecastAdjustment(cc)
	comps.SolarOffset = c.solarOffset(cc)
	comps.ErrorCorrection = c.errorCorrection(cc)
	comps.ColdWeatherBoost = c.coldWeatherBoost(cc)

	appendReason(&reasons, "outdoor reset", comps.OutdoorReset)
	appendReason(&reasons, "forecast look-ahead", comps.ForecastAdjustment)
	appendReason(&reasons, "solar gain", comps.SolarOffset)
	appendReason(&reasons, "error correction", comps.ErrorCorrection)
	appendReason(&reasons, "cold-weather boost", comps.ColdWeatherBoost)
	if cc.OutdoorTemp == nil {
		reasons = append(reasons, "outdoor temperature unavailable")
	} else if len(cc.ForecastTemps) == 0 {
		reasons = append(reasons, "forecast unavailable")
	}

	sum := comps.Base + comps.OutdoorReset + comps.ForecastAdjustment +
		comps.SolarOffset + comps.ErrorCorrection + comps.ColdWeatherBoost

	// Comfort-band clamp around the user target. Winter widens the upper
	// bound to +4 when the outdoors is below freezing.
	lower := cc.UserComfortTarget - p.ComfortBand
	upper := cc.UserComfortTarget + p.ComfortBand
	if cc.Season == types.SeasonWinter && cc.OutdoorTemp != nil && *cc.OutdoorTemp < 0 {
		upper = cc.UserComfortTarget + p.WinterColdUpper
	}
	if sum < lower {
		sum = lower
		reasons = append(reasons, "clamped to comfort band")
	} else if sum > upper {
		sum = upper
		reasons = append(reasons, "clamped to comfort band")
	}

	if sum < p.MinSetpoint {
		sum = p.MinSetpoint
		reasons = append(reasons, "clamped to setpoint range")
	} else if sum > p.MaxSetpoint {
		sum = p.MaxSetpoint
		reasons = append(reasons, "clamped to setpoint range")
	}

	predicted := roundHalf(sum)

	reason := "steady"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return types.PredictionResult{
		PredictedTarget: predicted,
		Components:      comps,
		Reason:          reason,
	}
}

// outdoorReset is the classic outdoor-reset curve: correct harder the further
// the outdoors is from the design temperature. The season only changes the
// design temperature; the sign works out for both.
func (c *Calculator) outdoorReset(cc types.ControlContext) float64 {
	if cc.OutdoorTemp == nil {
		return 0
	}
	design := c.params.DesignOutdoorWinter
	if cc.Season == types.SeasonSummer {
		design = c.params.DesignOutdoorSummer
	}
	offset := c.params.OutdoorResetGain * (design - *cc.OutdoorTemp)
	return clamp(offset, -2, 2)
}

// forecastAdjustment pre-conditions against the expected outdoor change over
// the next 24 h, weighted by exp(-i/tau). A colder future raises the target,
// a hotter future lowers it; the pre-conditioning is symmetric across
// seasons.
func (c *Calculator) forecastAdjustment(cc types.ControlContext) float64 {
	if cc.OutdoorTemp == nil || len(cc.ForecastTemps) < 24 {
		return 0
	}

	horizon := len(cc.ForecastTemps)
	if horizon > 24 {
		horizon = 24
	}
	temps := cc.ForecastTemps[:horizon]
	weights := make([]float64, horizon)
	for i := range weights {
		weights[i] = math.Exp(-float64(i) / c.params.ForecastTauHours)
	}

	weightedFuture := stat.Mean(temps, weights)
	expectedChange := weightedFuture - *cc.OutdoorTemp
	adjustment := -c.params.ForecastGain * expectedChange
	return clamp(adjustment, -1, 1)
}

// solarOffset backs the setpoint off when strong solar gain is expected over
// the next six hours. Winter only; in summer the AC already fights the sun.
func (c *Calculator) solarOffset(cc types.ControlContext) float64 {
	if cc.Season != types.SeasonWinter || len(cc.ForecastSolar) == 0 {
		return 0
	}

	horizon := len(cc.ForecastSolar)
	if horizon > 6 {
		horizon = 6
	}
	avg := stat.Mean(cc.ForecastSolar[:horizon], nil)
	if avg <= c.params.SolarThreshold {
		return 0
	}
	reduction := c.params.SolarGain * (avg - c.params.SolarThreshold)
	return clamp(-reduction, -2, 0)
}

// errorCorrection is a proportional term on the current tracking error.
func (c *Calculator) errorCorrection(cc types.ControlContext) float64 {
	if cc.RoomTemp == nil {
		return 0
	}
	correction := c.params.ErrorGain * (cc.UserComfortTarget - *cc.RoomTemp)
	return clamp(correction, -1, 1)
}

// coldWeatherBoost compensates duct and recuperator installs whose AC sensor
// reads post-recuperator air: the colder it is outside, the more the built-in
// sensor flatters the room. The forecast can raise the boost floor before
// the cold actually arrives.
func (c *Calculator) coldWeatherBoost(cc types.ControlContext) float64 {
	if cc.Season != types.SeasonWinter {
		return 0
	}

	var boost float64
	if cc.OutdoorTemp != nil {
		switch {
		case *cc.OutdoorTemp < -5:
			boost = 3
		case *cc.OutdoorTemp < 0:
			boost = 2
		case *cc.OutdoorTemp < 5:
			boost = 1
		}
	}

	if len(cc.ForecastTemps) > 0 {
		horizon := len(cc.ForecastTemps)
		if horizon > 24 {
			horizon = 24
		}
		minAhead := floats.Min(cc.ForecastTemps[:horizon])
		if minAhead < -5 && boost < 2 {
			boost = 2
		} else if minAhead < 0 && boost < 1 {
			boost = 1
		}
	}

	return boost
}

func appendReason(reasons *[]string, name string, value float64) {
	if math.Abs(value) > reasonThreshold {
		*reasons = append(*reasons, fmt.Sprintf("%s %+.1f", name, value))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}
