package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/types"
)

const sampleResponse = `{
	"hourly": {
		"time": ["2026-01-15T00:00", "2026-01-15T01:00", "2026-01-15T02:00"],
		"temperature_2m": [2.5, 2.1, null],
		"shortwave_radiation": [0, 12.5],
		"direct_radiation": [0, 8.0, 3.0],
		"cloud_cover": [80, 75, 90],
		"wind_speed_10m": [12.0, 14.5, 13.0]
	}
}`

func TestFetchParsesHourlyArrays(t *testing.T) {
	var gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleResponse))
	}))
	defer server.Close()

	client := NewOpenMeteoClient(server.URL, types.Location{Lat: 52.2297, Lon: 21.0122}, zap.NewNop().Sugar())
	forecast, err := client.Fetch(context.Background())
	require.NoError(t, err)

	assert.Contains(t, gotURL, "latitude=52.2297")
	assert.Contains(t, gotURL, "longitude=21.0122")
	assert.Contains(t, gotURL, "hourly=temperature_2m,shortwave_radiation")
	assert.Contains(t, gotURL, "forecast_days=2")

	require.Len(t, forecast.Hours, 3)

	h0 := forecast.Hours[0]
	require.NotNil(t, h0.OutdoorTemp)
	assert.Equal(t, 2.5, *h0.OutdoorTemp)
	require.NotNil(t, h0.CloudCover)
	assert.Equal(t, 80.0, *h0.CloudCover)

	// Upstream null stays nil, it must not become zero.
	assert.Nil(t, forecast.Hours[2].OutdoorTemp)
	// A truncated series leaves trailing samples nil.
	assert.Nil(t, forecast.Hours[2].SolarRadiation)

	assert.Equal(t, []float64{2.5, 2.1}, forecast.Temps())
	assert.Equal(t, 1, forecast.Hours[1].Time.Hour())
}

func TestFetchRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenMeteoClient(server.URL, types.Location{}, zap.NewNop().Sugar())
	_, err := client.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestFetchRejectsEmptyForecast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hourly": {"time": []}}`))
	}))
	defer server.Close()

	client := NewOpenMeteoClient(server.URL, types.Location{}, zap.NewNop().Sugar())
	_, err := client.Fetch(context.Background())
	require.Error(t, err)
}

func TestBuildForecastCapsAt48Hours(t *testing.T) {
	var apiResp openMeteoResponse
	for i := 0; i < 72; i++ {
		apiResp.Hourly.Time = append(apiResp.Hourly.Time, "2026-01-15T00:00")
		apiResp.Hourly.Temperature2m = append(apiResp.Hourly.Temperature2m, types.Float(float64(i)))
	}

	forecast, err := buildForecast(apiResp)
	require.NoError(t, err)
	assert.Len(t, forecast.Hours, maxForecastHours)
}
