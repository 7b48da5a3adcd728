package weather

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/passivehome/climatecore/internal/types"
)

// Cache periodically refreshes the forecast and serves it to readers without
// ever blocking them. On refresh failure the last forecast is retained but
// reported unavailable once it is older than the validity window.
type Cache struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	provider Provider
	logger   *zap.SugaredLogger

	refreshInterval time.Duration
	validity        time.Duration
	clock           func() time.Time

	mu       sync.RWMutex
	forecast *types.Forecast
}

// NewCache creates a forecast cache around the given provider.
func NewCache(ctx context.Context, wg *sync.WaitGroup, provider Provider, refreshInterval, validity time.Duration, logger *zap.SugaredLogger) *Cache {
	cacheCtx, cancel := context.WithCancel(ctx)
	return &Cache{
		ctx:             cacheCtx,
		cancel:          cancel,
		wg:              wg,
		provider:        provider,
		logger:          logger.Named("weather"),
		refreshInterval: refreshInterval,
		validity:        validity,
		clock:           time.Now,
	}
}

// Start begins the refresh loop. The first fetch happens immediately.
func (c *Cache) Start() {
	c.wg.Add(1)
	go c.refreshLoop()
}

// Stop cancels the refresh loop.
func (c *Cache) Stop() {
	c.cancel()
}

func (c *Cache) refreshLoop() {
	defer c.wg.Done()

	c.refresh()

	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("forecast refresh loop stopped")
			return
		case <-ticker.C:
			c.refresh()
		}
	}
}

func (c *Cache) refresh() {
	f, err := c.provider.Fetch(c.ctx)
	if err != nil {
		c.logger.Warnw("forecast refresh failed, keeping last forecast", "error", err)
		return
	}

	c.mu.Lock()
	c.forecast = f
	c.mu.Unlock()

	c.logger.Infow("forecast refreshed", "hours", len(f.Hours))
}

// Forecast returns the cached forecast and whether it is still fresh. A stale
// forecast is still returned so degraded readers can decide for themselves.
func (c *Cache) Forecast() (*types.Forecast, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.forecast == nil {
		return nil, false
	}
	fresh := c.clock().Sub(c.forecast.FetchedAt) <= c.validity
	return c.forecast, fresh
}

// CurrentOutdoorTemp returns the first available hourly temperature, or nil
// when no fresh forecast exists.
func (c *Cache) CurrentOutdoorTemp() *float64 {
	f, ok := c.Forecast()
	if !ok || len(f.Hours) == 0 {
		return nil
	}
	return f.Hours[0].OutdoorTemp
}

// CurrentSolar returns the first available shortwave radiation sample, or nil.
func (c *Cache) CurrentSolar() *float64 {
	f, ok := c.Forecast()
	if !ok || len(f.Hours) == 0 {
		return nil
	}
	return f.Hours[0].SolarRadiation
}

// TempsForNextHours returns up to n hourly temperatures, nulls skipped.
// Empty when the forecast is unavailable.
func (c *Cache) TempsForNextHours(n int) []float64 {
	f, ok := c.Forecast()
	if !ok {
		return nil
	}
	temps := f.Temps()
	if len(temps) > n {
		temps = temps[:n]
	}
	return temps
}

// SolarForNextHours returns up to n hourly radiation samples, nulls skipped.
func (c *Cache) SolarForNextHours(n int) []float64 {
	f, ok := c.Forecast()
	if !ok {
		return nil
	}
	solar := f.Solar()
	if len(solar) > n {
		solar = solar[:n]
	}
	return solar
}

// AverageTempNextHours returns the mean outdoor temperature over the next n
// hours, or nil when the forecast is unavailable or empty.
func (c *Cache) AverageTempNextHours(n int) *float64 {
	temps := c.TempsForNextHours(n)
	if len(temps) == 0 {
		return nil
	}
	return types.Float(stat.Mean(temps, nil))
}

// MinMaxTempNextHours returns min and max over the next n hours.
func (c *Cache) MinMaxTempNextHours(n int) (min, max *float64) {
	temps := c.TempsForNextHours(n)
	if len(temps) == 0 {
		return nil, nil
	}
	return types.Float(floats.Min(temps)), types.Float(floats.Max(temps))
}
