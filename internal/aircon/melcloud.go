package aircon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/passivehome/climatecore/internal/types"
	"go.uber.org/zap"
)

const defaultAPIEndpoint = "https://app.melcloud.com/Mitsubishi.Wifi.Client"

// MELCloudClient talks to the MELCloud REST API: login, periodic device-state
// polling and atomic device updates with effective flags.
type MELCloudClient struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         *sync.WaitGroup
	cfg        types.AirConConfig
	httpClient *http.Client
	logger     *zap.SugaredLogger

	refreshInterval time.Duration
	snapshots       chan DeviceSnapshot

	mu         sync.Mutex
	contextKey string
	deviceID   int64
	buildingID int64
}

type loginRequest struct {
	Email      string `json:"Email"`
	Password   string `json:"Password"`
	Language   int    `json:"Language"`
	AppVersion string `json:"AppVersion"`
	Persist    bool   `json:"Persist"`
}

type loginResponse struct {
	ErrorID   *int `json:"ErrorId"`
	LoginData *struct {
		ContextKey string `json:"ContextKey"`
	} `json:"LoginData"`
}

type listDeviceResponse []struct {
	ID        int64 `json:"ID"`
	Structure struct {
		Devices []struct {
			DeviceID   int64 `json:"DeviceID"`
			BuildingID int64 `json:"BuildingID"`
		} `json:"Devices"`
	} `json:"Structure"`
}

type deviceStateResponse struct {
	DeviceID          int64    `json:"DeviceID"`
	Power             bool     `json:"Power"`
	OperationMode     int      `json:"OperationMode"`
	RoomTemperature   *float64 `json:"RoomTemperature"`
	SetTemperature    *float64 `json:"SetTemperature"`
	ProhibitSetTemp   bool     `json:"ProhibitSetTemperature"`
	ProhibitMode      bool     `json:"ProhibitOperationMode"`
	ProhibitPower     bool     `json:"ProhibitPower"`
	MinTempHeat       float64  `json:"MinTempHeat"`
	MaxTempHeat       float64  `json:"MaxTempHeat"`
	MinTempCoolDry    float64  `json:"MinTempCoolDry"`
	MaxTempCoolDry    float64  `json:"MaxTempCoolDry"`
	LastCommunication string   `json:"LastCommunication"`
}

type deviceUpdateRequest struct {
	DeviceID       int64    `json:"DeviceID"`
	EffectiveFlags uint32   `json:"EffectiveFlags"`
	Power          bool     `json:"Power"`
	OperationMode  int      `json:"OperationMode"`
	SetTemperature *float64 `json:"SetTemperature,omitempty"`
	HasPendingCmd  bool     `json:"HasPendingCommand"`
}

// NewMELCloudClient creates a client. Start must be called before snapshots
// are delivered.
func NewMELCloudClient(ctx context.Context, wg *sync.WaitGroup, cfg types.AirConConfig, refreshInterval time.Duration, logger *zap.SugaredLogger) *MELCloudClient {
	clientCtx, cancel := context.WithCancel(ctx)

	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = defaultAPIEndpoint
	}
	if cfg.AppVersion == "" {
		cfg.AppVersion = "1.34.12.0"
	}

	return &MELCloudClient{
		ctx:    clientCtx,
		cancel: cancel,
		wg:     wg,
		cfg:    cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:          logger.Named("melcloud"),
		refreshInterval: refreshInterval,
		snapshots:       make(chan DeviceSnapshot, 4),
	}
}

// Snapshots returns the device-state event channel.
func (c *MELCloudClient) Snapshots() <-chan DeviceSnapshot {
	return c.snapshots
}

// Start logs in, discovers the device and begins the polling loop.
func (c *MELCloudClient) Start() error {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return fmt.Errorf("aircon username and password are required")
	}

	if err := c.login(c.ctx); err != nil {
		return fmt.Errorf("initial login failed: %w", err)
	}
	if err := c.discoverDevice(c.ctx); err != nil {
		return fmt.Errorf("device discovery failed: %w", err)
	}

	c.wg.Add(1)
	go c.pollLoop()
	return nil
}

// Stop terminates the polling loop.
func (c *MELCloudClient) Stop() {
	c.cancel()
}

func (c *MELCloudClient) pollLoop() {
	defer c.wg.Done()

	// Poll immediately so the orchestrator gets its first tick without
	// waiting a full interval.
	c.pollState()

	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("poll loop stopped")
			return
		case <-ticker.C:
			c.pollState()
		}
	}
}

func (c *MELCloudClient) pollState() {
	snap, err := c.fetchState(c.ctx)
	if err != nil {
		c.logger.Errorw("failed to fetch device state", "error", err)
		return
	}

	select {
	case c.snapshots <- snap:
	case <-c.ctx.Done():
	}
}

func (c *MELCloudClient) login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{
		Email:      c.cfg.Username,
		Password:   c.cfg.Password,
		Language:   0,
		AppVersion: c.cfg.AppVersion,
		Persist:    true,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIEndpoint+"/Login/ClientLogin", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login returned status %s", resp.Status)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("unable to decode login response: %w", err)
	}
	if lr.ErrorID != nil || lr.LoginData == nil {
		return fmt.Errorf("login rejected by cloud (error id %v)", lr.ErrorID)
	}

	c.mu.Lock()
	c.contextKey = lr.LoginData.ContextKey
	c.mu.Unlock()

	c.logger.Info("logged in to AC cloud")
	return nil
}

func (c *MELCloudClient) discoverDevice(ctx context.Context) error {
	req, err := c.newAuthedRequest(ctx, http.MethodGet, "/User/ListDevices", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error listing devices: %w", err)
	}
	defer resp.Body.Close()

	var buildings listDeviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&buildings); err != nil {
		return fmt.Errorf("unable to decode device list: %w", err)
	}

	for _, b := range buildings {
		for _, d := range b.Structure.Devices {
			c.mu.Lock()
			c.deviceID = d.DeviceID
			c.buildingID = d.BuildingID
			c.mu.Unlock()
			c.logger.Infow("discovered device", "device_id", d.DeviceID, "building_id", d.BuildingID)
			return nil
		}
	}
	return fmt.Errorf("no devices found in AC cloud account")
}

func (c *MELCloudClient) fetchState(ctx context.Context) (DeviceSnapshot, error) {
	c.mu.Lock()
	deviceID, buildingID := c.deviceID, c.buildingID
	c.mu.Unlock()

	path := fmt.Sprintf("/Device/Get?id=%d&buildingID=%d", deviceID, buildingID)
	req, err := c.newAuthedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return DeviceSnapshot{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DeviceSnapshot{}, fmt.Errorf("error fetching device state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Context keys expire; re-login and let the next poll retry.
		c.logger.Warn("context key expired, re-authenticating")
		if err := c.login(ctx); err != nil {
			return DeviceSnapshot{}, err
		}
		return DeviceSnapshot{}, fmt.Errorf("session expired, retrying next poll")
	}
	if resp.StatusCode != http.StatusOK {
		return DeviceSnapshot{}, fmt.Errorf("device state returned status %s", resp.Status)
	}

	var st deviceStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return DeviceSnapshot{}, fmt.Errorf("unable to decode device state: %w", err)
	}

	return c.toSnapshot(st), nil
}

func (c *MELCloudClient) toSnapshot(st deviceStateResponse) DeviceSnapshot {
	minTemp, maxTemp := st.MinTempHeat, st.MaxTempHeat
	mode := OperationMode(st.OperationMode)
	if mode == ModeCool || mode == ModeDry || mode == ModeCoolISee || mode == ModeDryISee {
		minTemp, maxTemp = st.MinTempCoolDry, st.MaxTempCoolDry
	}
	if minTemp == 0 && maxTemp == 0 {
		minTemp, maxTemp = 16, 31
	}

	return DeviceSnapshot{
		DeviceID:      fmt.Sprintf("%d", st.DeviceID),
		Power:         st.Power,
		OperationMode: mode,
		ACSensorTemp:  st.RoomTemperature,
		ACSetTemp:     st.SetTemperature,
		UserProhibit:  st.ProhibitSetTemp || st.ProhibitMode || st.ProhibitPower,
		MinSetTemp:    minTemp,
		MaxSetTemp:    maxTemp,
		ObservedAt:    time.Now(),
	}
}

// Send issues an atomic device update applying the fields selected by flags.
func (c *MELCloudClient) Send(ctx context.Context, s DeviceSnapshot, flags EffectiveFlags) error {
	c.mu.Lock()
	deviceID := c.deviceID
	c.mu.Unlock()

	upd := deviceUpdateRequest{
		DeviceID:       deviceID,
		EffectiveFlags: uint32(flags),
		Power:          s.Power,
		OperationMode:  int(s.OperationMode),
		SetTemperature: s.ACSetTemp,
		HasPendingCmd:  true,
	}

	body, err := json.Marshal(upd)
	if err != nil {
		return err
	}

	req, err := c.newAuthedRequest(ctx, http.MethodPost, "/Device/SetAta", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending device update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("device update returned status %s", resp.Status)
	}

	c.logger.Debugw("device update accepted",
		"flags", fmt.Sprintf("0x%x", uint32(flags)),
		"power", s.Power,
		"mode", s.OperationMode.String(),
		"set_temp", s.ACSetTemp)
	return nil
}

func (c *MELCloudClient) newAuthedRequest(ctx context.Context, method, path string, body *bytes.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.cfg.APIEndpoint+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.cfg.APIEndpoint+path, nil)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	key := c.contextKey
	c.mu.Unlock()
	req.Header.Set("X-MitsContextKey", key)
	return req, nil
}
