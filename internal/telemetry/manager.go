// Package telemetry fans control-loop points out to the configured storage
// sinks so setpoint decisions can be audited and charted after the fact.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/types"
)

// Sink is a telemetry backend. StartSink launches the sink's receive loop and
// returns the channel points are delivered on.
type Sink interface {
	StartSink(ctx context.Context, wg *sync.WaitGroup) chan<- types.Point
}

type sinkEngine struct {
	sink Sink
	c    chan<- types.Point
}

// Manager distributes points to every configured sink.
type Manager struct {
	engines     []sinkEngine
	Distributor chan types.Point
	logger      *zap.SugaredLogger
}

// NewManager creates a manager populated with the sinks the configuration
// enables and starts the distributor.
func NewManager(ctx context.Context, wg *sync.WaitGroup, cfg types.TelemetryConfig, logger *zap.SugaredLogger) (*Manager, error) {
	m := &Manager{
		Distributor: make(chan types.Point, 20),
		logger:      logger.Named("telemetry"),
	}

	if cfg.SQLite.Path != "" {
		sink, err := NewSQLiteSink(cfg.SQLite.Path, m.logger)
		if err != nil {
			return nil, fmt.Errorf("could not add SQLite telemetry sink: %w", err)
		}
		m.addSink(ctx, wg, sink)
	}

	if cfg.TimescaleDB.ConnectionString != "" {
		sink, err := NewTimescaleDBSink(ctx, cfg.TimescaleDB.ConnectionString, m.logger)
		if err != nil {
			return nil, fmt.Errorf("could not add TimescaleDB telemetry sink: %w", err)
		}
		m.addSink(ctx, wg, sink)
	}

	go m.startDistributor(ctx, wg)

	return m, nil
}

func (m *Manager) addSink(ctx context.Context, wg *sync.WaitGroup, sink Sink) {
	m.engines = append(m.engines, sinkEngine{
		sink: sink,
		c:    sink.StartSink(ctx, wg),
	})
}

// startDistributor fans incoming points out to every sink. A slow sink drops
// points rather than stalling the control loop.
func (m *Manager) startDistributor(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("telemetry distributor stopped")
			return
		case p := <-m.Distributor:
			for _, e := range m.engines {
				select {
				case e.c <- p:
				default:
					m.logger.Debug("telemetry sink backlogged, dropping point")
				}
			}
		}
	}
}
