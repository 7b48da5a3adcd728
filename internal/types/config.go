package types

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the base configuration object
type Config struct {
	Devices   []DeviceConfig  `yaml:"devices"`
	AirCon    AirConConfig    `yaml:"aircon"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Status    StatusConfig    `yaml:"status,omitempty"`
	Accessory AccessoryConfig `yaml:"accessory,omitempty"`
	LogFile   string          `yaml:"log-file,omitempty"`
}

// DeviceConfig holds configuration for a single controlled device (one room,
// one AC unit, one external sensor).
type DeviceConfig struct {
	Name              string          `yaml:"name"`
	TargetTemperature float64         `yaml:"target-temperature,omitempty"` // comfort band midpoint, default 23
	Location          Location        `yaml:"location"`
	ExternalSensor    SensorConfig    `yaml:"external-sensor"`
	RefreshInterval   int             `yaml:"refresh-interval,omitempty"` // AC snapshot poll, seconds
	Weather           WeatherConfig   `yaml:"weather,omitempty"`
	Algorithm         AlgorithmConfig `yaml:"algorithm,omitempty"`
}

// Location is a geographic coordinate pair
type Location struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// SensorConfig holds configuration for the external room sensor
type SensorConfig struct {
	URL          string `yaml:"url"`
	PollInterval int    `yaml:"poll-interval,omitempty"` // seconds, default 60, floor 1
}

// WeatherConfig holds configuration for the weather forecast fetcher
type WeatherConfig struct {
	APIEndpoint     string `yaml:"api-endpoint,omitempty"`
	RefreshInterval int    `yaml:"refresh-interval,omitempty"` // minutes, default 60
	CacheValidity   int    `yaml:"cache-validity,omitempty"`   // minutes, default 120
}

// AlgorithmConfig carries overrides for the setpoint calculator and state
// machine constants. Zero values mean "use the documented default".
type AlgorithmConfig struct {
	OutdoorResetGain  float64 `yaml:"outdoor-reset-gain,omitempty"`  // default 0.4
	ForecastGain      float64 `yaml:"forecast-gain,omitempty"`       // default 0.3
	ForecastTauHours  float64 `yaml:"forecast-tau-hours,omitempty"`  // default 6
	SolarThreshold    float64 `yaml:"solar-threshold,omitempty"`     // W/m², default 200
	SolarGain         float64 `yaml:"solar-gain,omitempty"`          // default 0.02
	ErrorGain         float64 `yaml:"error-gain,omitempty"`          // default 0.3
	Deadband          float64 `yaml:"deadband,omitempty"`            // °C, default 4.0
	Hysteresis        float64 `yaml:"hysteresis,omitempty"`          // °C, default 2.0
	MinOnSeconds      int     `yaml:"min-on,omitempty"`              // default 300
	MinOffSeconds     int     `yaml:"min-off,omitempty"`             // default 180
	MinModeSwitchSecs int     `yaml:"min-mode-switch,omitempty"`     // default 600
	MinActionInterval int     `yaml:"min-action-interval,omitempty"` // seconds, default 60
}

// AirConConfig holds the cloud credentials for the AC vendor API. With
// Simulator set an in-process simulated unit replaces the cloud client,
// useful for demos and development without hardware.
type AirConConfig struct {
	APIEndpoint string `yaml:"api-endpoint,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	AppVersion  string `yaml:"app-version,omitempty"`
	Simulator   bool   `yaml:"simulator,omitempty"`
}

// TelemetryConfig holds the configuration for time-series sinks. More than
// one sink can be used simultaneously.
type TelemetryConfig struct {
	SQLite      SQLiteConfig      `yaml:"sqlite,omitempty"`
	TimescaleDB TimescaleDBConfig `yaml:"timescaledb,omitempty"`
}

type SQLiteConfig struct {
	Path string `yaml:"path,omitempty"`
}

type TimescaleDBConfig struct {
	ConnectionString string `yaml:"connection-string,omitempty"`
}

// StatusConfig holds the configuration for the diagnostic HTTP server
type StatusConfig struct {
	ListenAddr string `yaml:"listen-addr,omitempty"`
	Port       int    `yaml:"port,omitempty"`
}

// AccessoryConfig holds the configuration for the HomeKit bridge
type AccessoryConfig struct {
	Pin       string `yaml:"pin,omitempty"`
	StateDir  string `yaml:"state-dir,omitempty"`
	Name      string `yaml:"name,omitempty"`
	Disabled  bool   `yaml:"disabled,omitempty"`
}

// NewConfig creates a new config object from the given filename.
func NewConfig(filename string) (Config, error) {
	cfgFile, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, err
	}
	c := Config{}
	err = yaml.Unmarshal(cfgFile, &c)
	if err != nil {
		return Config{}, err
	}
	if len(c.Devices) == 0 {
		return Config{}, fmt.Errorf("no devices configured")
	}
	for i := range c.Devices {
		applyDeviceDefaults(&c.Devices[i])
	}
	return c, nil
}

func applyDeviceDefaults(d *DeviceConfig) {
	if d.TargetTemperature == 0 {
		d.TargetTemperature = 23
	}
	if d.ExternalSensor.PollInterval == 0 {
		d.ExternalSensor.PollInterval = 60
	}
	if d.ExternalSensor.PollInterval < 1 {
		d.ExternalSensor.PollInterval = 1
	}
	if d.RefreshInterval == 0 {
		d.RefreshInterval = 60
	}
	if d.Weather.RefreshInterval == 0 {
		d.Weather.RefreshInterval = 60
	}
	if d.Weather.CacheValidity == 0 {
		d.Weather.CacheValidity = 120
	}
}
