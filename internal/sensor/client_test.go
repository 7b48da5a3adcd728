package sensor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPClientFetchTemperature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"temperature": 21.4, "humidity": 38.5}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, zap.NewNop().Sugar())
	reading, err := c.FetchTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 21.4, reading.RoomTemp)
	assert.Equal(t, 38.5, reading.Humidity)
	assert.False(t, reading.ObservedAt.IsZero())
}

func TestHTTPClientMissingTemperature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"humidity": 38.5}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, zap.NewNop().Sugar())
	_, err := c.FetchTemperature(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing temperature")
}

func TestHTTPClientNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, zap.NewNop().Sugar())
	_, err := c.FetchTemperature(context.Background())
	require.Error(t, err)
}
