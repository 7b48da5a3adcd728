package sensor

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/types"
)

const (
	// Offset changes smaller than this are jitter and ignored.
	offsetHysteresis = 0.3

	// Fallback AC setpoint limits until a snapshot reports the real ones.
	defaultMinSetTemp = 16
	defaultMaxSetTemp = 31
)

// Tracker keeps the most recent room reading and the AC-vs-room sensor
// offset. Poll failures never clear the last reading; they only flip the
// online flag.
type Tracker struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
	client Client
	logger *zap.SugaredLogger

	pollInterval time.Duration

	mu          sync.RWMutex
	reading     *types.SensorReading
	online      bool
	offset      float64
	offsetKnown bool
	minSetTemp  float64
	maxSetTemp  float64
}

// NewTracker creates a tracker polling the given client. The poll interval
// floor is one second.
func NewTracker(ctx context.Context, wg *sync.WaitGroup, client Client, pollInterval time.Duration, logger *zap.SugaredLogger) *Tracker {
	if pollInterval < time.Second {
		pollInterval = time.Second
	}
	trackerCtx, cancel := context.WithCancel(ctx)
	return &Tracker{
		ctx:          trackerCtx,
		cancel:       cancel,
		wg:           wg,
		client:       client,
		logger:       logger.Named("sensor"),
		pollInterval: pollInterval,
		minSetTemp:   defaultMinSetTemp,
		maxSetTemp:   defaultMaxSetTemp,
	}
}

// Start begins the polling loop with an immediate first poll.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.pollLoop()
}

// Stop cancels the polling loop.
func (t *Tracker) Stop() {
	t.cancel()
}

func (t *Tracker) pollLoop() {
	defer t.wg.Done()

	t.poll()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("sensor poll loop stopped")
			return
		case <-ticker.C:
			t.poll()
		}
	}
}

func (t *Tracker) poll() {
	reading, err := t.client.FetchTemperature(t.ctx)
	if err != nil {
		t.mu.Lock()
		wasOnline := t.online
		t.online = false
		t.mu.Unlock()
		if wasOnline {
			t.logger.Warnw("external sensor unavailable", "error", err)
		}
		return
	}

	t.mu.Lock()
	wasOffline := !t.online
	t.reading = &reading
	t.online = true
	t.mu.Unlock()

	if wasOffline {
		t.logger.Infow("external sensor online", "room_temp", reading.RoomTemp)
	}
	t.logger.Debugw("sensor reading", "room_temp", reading.RoomTemp, "humidity", reading.Humidity)
}

// Latest returns the most recent reading (possibly stale) and the online flag.
func (t *Tracker) Latest() (*types.SensorReading, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reading, t.online
}

// RoomTemp returns the current room temperature, or nil when the sensor is
// offline or has never reported.
func (t *Tracker) RoomTemp() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.online || t.reading == nil {
		return nil
	}
	v := t.reading.RoomTemp
	return &v
}

// ObserveSnapshot refreshes the sensor offset from a fresh AC snapshot. It
// returns true when the offset moved by more than the hysteresis, which
// callers use to trigger a re-dispatch of the last command.
func (t *Tracker) ObserveSnapshot(acSensorTemp *float64, minSetTemp, maxSetTemp float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A half-populated limit pair would clamp every setpoint to zero.
	if minSetTemp != 0 && maxSetTemp > minSetTemp {
		t.minSetTemp = minSetTemp
		t.maxSetTemp = maxSetTemp
	}

	if acSensorTemp == nil || !t.online || t.reading == nil {
		return false
	}

	newOffset := *acSensorTemp - t.reading.RoomTemp
	if t.offsetKnown && math.Abs(newOffset-t.offset) <= offsetHysteresis {
		return false
	}

	old := t.offset
	t.offset = newOffset
	t.offsetKnown = true
	t.logger.Infow("sensor offset updated", "old", old, "new", newOffset)
	return true
}

// Offset returns the current AC-vs-room offset and whether it is known.
func (t *Tracker) Offset() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offset, t.offsetKnown
}

// Compensate translates a desired room temperature into the setpoint the AC
// must be told, using the measured sensor offset. Returned values are snapped
// to 0.5 °C and clamped to the AC's setpoint range. The offset is applied
// exactly once per dispatched command; re-compensating an already compensated
// value shifts it by the offset again.
func (t *Tracker) Compensate(target float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.online || !t.offsetKnown || math.Abs(t.offset) < offsetHysteresis {
		return target
	}

	compensated := roundHalf(target + t.offset)
	if compensated < t.minSetTemp {
		compensated = t.minSetTemp
	}
	if compensated > t.maxSetTemp {
		compensated = t.maxSetTemp
	}
	return compensated
}

func roundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}
