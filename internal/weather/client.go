// Package weather fetches and caches the hourly outdoor forecast used by the
// predictive setpoint algorithm.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/passivehome/climatecore/internal/types"
	"go.uber.org/zap"
)

const (
	defaultAPIEndpoint = "https://api.open-meteo.com/v1/forecast"

	// The core only ever consumes the first 48 hourly samples.
	maxForecastHours = 48
)

// Provider fetches a fresh forecast. Satisfied by OpenMeteoClient; tests
// substitute their own.
type Provider interface {
	Fetch(ctx context.Context) (*types.Forecast, error)
}

// OpenMeteoClient fetches hourly forecasts from the Open-Meteo API.
type OpenMeteoClient struct {
	endpoint   string
	location   types.Location
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

type openMeteoResponse struct {
	Hourly struct {
		Time               []string   `json:"time"`
		Temperature2m      []*float64 `json:"temperature_2m"`
		ShortwaveRadiation []*float64 `json:"shortwave_radiation"`
		DirectRadiation    []*float64 `json:"direct_radiation"`
		CloudCover         []*float64 `json:"cloud_cover"`
		WindSpeed10m       []*float64 `json:"wind_speed_10m"`
	} `json:"hourly"`
}

// NewOpenMeteoClient creates a forecast client for a fixed location.
func NewOpenMeteoClient(endpoint string, location types.Location, logger *zap.SugaredLogger) *OpenMeteoClient {
	if endpoint == "" {
		endpoint = defaultAPIEndpoint
	}
	return &OpenMeteoClient{
		endpoint: endpoint,
		location: location,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.Named("openmeteo"),
	}
}

// Fetch issues one HTTPS request and converts the response into a Forecast.
func (c *OpenMeteoClient) Fetch(ctx context.Context) (*types.Forecast, error) {
	url := fmt.Sprintf(
		"%s?latitude=%.4f&longitude=%.4f&hourly=temperature_2m,shortwave_radiation,direct_radiation,cloud_cover,wind_speed_10m&forecast_days=2",
		c.endpoint, c.location.Lat, c.location.Lon,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating forecast request: %w", err)
	}

	c.logger.Debugf("fetching forecast: %v", url)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making forecast request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("forecast API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("unable to decode forecast response: %w", err)
	}

	return buildForecast(apiResp)
}

// buildForecast converts the index-aligned hourly arrays into Forecast hours.
// Arrays can be ragged when the upstream truncates a series; the shortest one
// wins. Samples past 48 h are dropped.
func buildForecast(apiResp openMeteoResponse) (*types.Forecast, error) {
	n := len(apiResp.Hourly.Time)
	if n == 0 {
		return nil, fmt.Errorf("forecast response contains no hourly samples")
	}
	if n > maxForecastHours {
		n = maxForecastHours
	}

	f := &types.Forecast{
		Hours:     make([]types.ForecastHour, 0, n),
		FetchedAt: time.Now(),
	}

	for i := 0; i < n; i++ {
		ts, err := time.Parse("2006-01-02T15:04", apiResp.Hourly.Time[i])
		if err != nil {
			return nil, fmt.Errorf("unable to parse forecast timestamp %q: %w", apiResp.Hourly.Time[i], err)
		}
		h := types.ForecastHour{Time: ts}
		if i < len(apiResp.Hourly.Temperature2m) {
			h.OutdoorTemp = apiResp.Hourly.Temperature2m[i]
		}
		if i < len(apiResp.Hourly.ShortwaveRadiation) {
			h.SolarRadiation = apiResp.Hourly.ShortwaveRadiation[i]
		}
		if i < len(apiResp.Hourly.DirectRadiation) {
			h.DirectRadiation = apiResp.Hourly.DirectRadiation[i]
		}
		if i < len(apiResp.Hourly.CloudCover) {
			h.CloudCover = apiResp.Hourly.CloudCover[i]
		}
		if i < len(apiResp.Hourly.WindSpeed10m) {
			h.WindSpeed = apiResp.Hourly.WindSpeed10m[i]
		}
		f.Hours = append(f.Hours, h)
	}

	return f, nil
}
