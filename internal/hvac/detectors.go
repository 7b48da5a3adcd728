package hvac

// Weather-event detectors drive anticipatory pre-heat / pre-cool. Both look
// 12-36 hours ahead: closer events are handled by the normal control loop,
// and anything further out is too uncertain to act on.

const (
	detectorMinSamples  = 24
	detectorWindowStart = 12 // exclusive
	detectorWindowEnd   = 36 // inclusive
	coldSnapMinDrop     = 5.0
	heatwavePeakTemp    = 30.0
)

// ColdSnap describes a detected incoming temperature drop.
type ColdSnap struct {
	HoursUntil int
	TempDrop   float64
	MinTemp    float64
}

// Heatwave describes a detected incoming temperature peak.
type Heatwave struct {
	HoursUntil int
	PeakTemp   float64
}

// DetectColdSnap scans hourly forecast temperatures (nulls already skipped)
// for a drop of at least 5 °C whose minimum falls 12-36 hours out. Returns
// nil when the forecast is too short or no qualifying drop exists.
func DetectColdSnap(temps []float64) *ColdSnap {
	if len(temps) < detectorMinSamples {
		return nil
	}

	minIdx := 0
	for i, t := range temps {
		if t < temps[minIdx] {
			minIdx = i
		}
	}

	drop := temps[0] - temps[minIdx]
	if drop < coldSnapMinDrop {
		return nil
	}
	if minIdx <= detectorWindowStart || minIdx > detectorWindowEnd {
		return nil
	}

	return &ColdSnap{
		HoursUntil: minIdx,
		TempDrop:   drop,
		MinTemp:    temps[minIdx],
	}
}

// DetectHeatwave scans hourly forecast temperatures for a peak of at least
// 30 °C falling 12-36 hours out. Returns nil when the forecast is too short
// or no qualifying peak exists.
func DetectHeatwave(temps []float64) *Heatwave {
	if len(temps) < detectorMinSamples {
		return nil
	}

	maxIdx := 0
	for i, t := range temps {
		if t > temps[maxIdx] {
			maxIdx = i
		}
	}

	if temps[maxIdx] < heatwavePeakTemp {
		return nil
	}
	if maxIdx <= detectorWindowStart || maxIdx > detectorWindowEnd {
		return nil
	}

	return &Heatwave{
		HoursUntil: maxIdx,
		PeakTemp:   temps[maxIdx],
	}
}
