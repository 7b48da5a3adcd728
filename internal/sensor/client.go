// Package sensor polls the external room sensor and maintains the offset
// between the AC's built-in sensor and the authoritative room reading.
package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/passivehome/climatecore/internal/types"
	"go.uber.org/zap"
)

// Client fetches one temperature reading from the external sensor.
// A second sensor brand is a new adapter with the same shape.
type Client interface {
	FetchTemperature(ctx context.Context) (types.SensorReading, error)
}

// HTTPClient is a cloud sensor adapter returning JSON
// {"temperature": <°C>, "humidity": <%>}.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

type sensorResponse struct {
	Temperature *float64 `json:"temperature"`
	Humidity    float64  `json:"humidity"`
}

// NewHTTPClient creates an adapter for an HTTP JSON sensor endpoint.
func NewHTTPClient(url string, logger *zap.SugaredLogger) *HTTPClient {
	return &HTTPClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.Named("sensorclient"),
	}
}

// FetchTemperature issues one request and returns the reading.
func (c *HTTPClient) FetchTemperature(ctx context.Context) (types.SensorReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return types.SensorReading{}, fmt.Errorf("error creating sensor request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.SensorReading{}, fmt.Errorf("error making sensor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.SensorReading{}, fmt.Errorf("sensor returned status %s", resp.Status)
	}

	var sr sensorResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return types.SensorReading{}, fmt.Errorf("unable to decode sensor response: %w", err)
	}
	if sr.Temperature == nil {
		return types.SensorReading{}, fmt.Errorf("sensor response missing temperature")
	}

	return types.SensorReading{
		RoomTemp:   *sr.Temperature,
		Humidity:   sr.Humidity,
		ObservedAt: time.Now(),
	}, nil
}
