// Command forecast-chart fetches the 48-hour forecast for a location and
// renders the outdoor temperature, the expected solar radiation and the
// predicted setpoint trajectory to a PNG. Handy for eyeball checks of what
// the control loop is about to react to.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/passivehome/climatecore/internal/log"
	"github.com/passivehome/climatecore/internal/setpoint"
	"github.com/passivehome/climatecore/internal/types"
	"github.com/passivehome/climatecore/internal/weather"
)

const (
	chartWidth  = 960
	chartHeight = 480
	margin      = 50.0
)

func main() {
	lat := flag.Float64("lat", 0, "Latitude of the location")
	lon := flag.Float64("lon", 0, "Longitude of the location")
	target := flag.Float64("target", 21, "Comfort target used for the predicted setpoints")
	endpoint := flag.String("endpoint", "", "Override the forecast API endpoint")
	out := flag.String("out", "forecast.png", "Output PNG path")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	flag.Parse()

	if err := log.Init(*debug, ""); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	client := weather.NewOpenMeteoClient(*endpoint, types.Location{Lat: *lat, Lon: *lon}, log.GetSugaredLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	forecast, err := client.Fetch(ctx)
	if err != nil {
		log.Errorf("Failed to fetch forecast: %v", err)
		os.Exit(1)
	}

	if err := render(forecast, *target, *out); err != nil {
		log.Errorf("Failed to render chart: %v", err)
		os.Exit(1)
	}
	log.Infof("wrote %s (%d hourly samples)", *out, len(forecast.Hours))
}

// predictedSetpoints runs the calculator once per forecast hour, treating
// each hour as "now" with the remainder of the forecast as its look-ahead.
func predictedSetpoints(temps, solar []float64, target float64) []float64 {
	calc := setpoint.New(setpoint.DefaultParams())

	season := types.SeasonWinter
	if len(temps) > 0 && stat.Mean(temps, nil) > target {
		season = types.SeasonSummer
	}

	out := make([]float64, len(temps))
	for i := range temps {
		cc := types.ControlContext{
			UserComfortTarget: target,
			OutdoorTemp:       types.Float(temps[i]),
			ForecastTemps:     temps[i:],
			Season:            season,
		}
		if i < len(solar) {
			cc.ForecastSolar = solar[i:]
		}
		out[i] = calc.Calculate(cc).PredictedTarget
	}
	return out
}

func render(forecast *types.Forecast, target float64, path string) error {
	temps := forecast.Temps()
	solar := forecast.Solar()
	if len(temps) < 2 {
		return fmt.Errorf("forecast has %d temperature samples, need at least 2", len(temps))
	}
	setpoints := predictedSetpoints(temps, solar, target)

	dc := gg.NewContext(chartWidth, chartHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	plotW := float64(chartWidth) - 2*margin
	plotH := float64(chartHeight) - 2*margin

	// Frame
	dc.SetRGB(0.3, 0.3, 0.3)
	dc.SetLineWidth(1)
	dc.DrawRectangle(margin, margin, plotW, plotH)
	dc.Stroke()

	// One temperature axis for both series.
	tMin := floats.Min(temps)
	if m := floats.Min(setpoints); m < tMin {
		tMin = m
	}
	tMax := floats.Max(temps)
	if m := floats.Max(setpoints); m > tMax {
		tMax = m
	}
	tMin, tMax = tMin-1, tMax+1

	// Hour gridlines every 6 h
	dc.SetRGBA(0.3, 0.3, 0.3, 0.2)
	for h := 6; h < len(temps); h += 6 {
		x := margin + plotW*float64(h)/float64(len(temps)-1)
		dc.DrawLine(x, margin, x, margin+plotH)
		dc.Stroke()
	}

	// Solar radiation, filled, scaled to its own max
	if len(solar) >= 2 {
		sMax := floats.Max(solar)
		if sMax > 0 {
			dc.SetRGBA(0.95, 0.75, 0.2, 0.35)
			dc.MoveTo(margin, margin+plotH)
			for i, s := range solar {
				x := margin + plotW*float64(i)/float64(len(solar)-1)
				y := margin + plotH - plotH*s/sMax
				dc.LineTo(x, y)
			}
			dc.LineTo(margin+plotW, margin+plotH)
			dc.ClosePath()
			dc.Fill()
		}
	}

	plotLine := func(series []float64) {
		for i, v := range series {
			x := margin + plotW*float64(i)/float64(len(series)-1)
			y := margin + plotH - plotH*(v-tMin)/(tMax-tMin)
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.Stroke()
	}

	// Outdoor temperature
	dc.SetRGB(0.8, 0.2, 0.2)
	dc.SetLineWidth(2)
	plotLine(temps)

	// Predicted setpoints
	dc.SetRGB(0.2, 0.4, 0.8)
	dc.SetLineWidth(2)
	plotLine(setpoints)

	// Axis labels
	dc.SetRGB(0.1, 0.1, 0.1)
	dc.DrawStringAnchored(fmt.Sprintf("%.1f°C", tMax), margin-6, margin, 1, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.1f°C", tMin), margin-6, margin+plotH, 1, 0.5)
	title := fmt.Sprintf("48 h outdoor forecast and predicted setpoints (target %.1f°C), fetched %s",
		target, forecast.FetchedAt.Format(time.RFC822))
	dc.DrawStringAnchored(title, float64(chartWidth)/2, margin/2, 0.5, 0.5)

	return dc.SavePNG(path)
}
