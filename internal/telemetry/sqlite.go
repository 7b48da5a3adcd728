package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/passivehome/climatecore/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS climate_points (
	time             TIMESTAMP NOT NULL,
	device           TEXT NOT NULL,
	hvac_state       TEXT NOT NULL,
	season           TEXT NOT NULL,
	indoor_temp      REAL,
	outdoor_temp     REAL,
	ac_setpoint      REAL,
	predicted_target REAL NOT NULL,
	user_target      REAL NOT NULL,
	solar_radiation  REAL,
	sensor_offset    REAL,
	power_state      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_climate_points_time ON climate_points (time);
`

// SQLiteSink stores points in a local SQLite file. It is the default sink for
// single-box installs with no external database.
type SQLiteSink struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLiteSink opens (and if needed initializes) the SQLite database at path.
func NewSQLiteSink(path string, logger *zap.SugaredLogger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("could not open SQLite database %s: %w", path, err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("could not initialize SQLite schema: %w", err)
	}

	return &SQLiteSink{db: db, logger: logger.Named("sqlite")}, nil
}

// StartSink launches the receive loop and returns its delivery channel.
func (s *SQLiteSink) StartSink(ctx context.Context, wg *sync.WaitGroup) chan<- types.Point {
	s.logger.Info("starting SQLite telemetry sink")
	c := make(chan types.Point, 10)
	go s.processPoints(ctx, wg, c)
	return c
}

func (s *SQLiteSink) processPoints(ctx context.Context, wg *sync.WaitGroup, pchan <-chan types.Point) {
	wg.Add(1)
	defer wg.Done()

	for {
		select {
		case p := <-pchan:
			if err := s.StorePoint(p); err != nil {
				s.logger.Error("could not store point:", err)
			}
		case <-ctx.Done():
			s.logger.Info("SQLite telemetry sink stopped")
			if err := s.db.Close(); err != nil {
				s.logger.Error("could not close SQLite database:", err)
			}
			return
		}
	}
}

// StorePoint inserts a single point.
func (s *SQLiteSink) StorePoint(p types.Point) error {
	_, err := s.db.Exec(
		`INSERT INTO climate_points
		 (time, device, hvac_state, season, indoor_temp, outdoor_temp, ac_setpoint,
		  predicted_target, user_target, solar_radiation, sensor_offset, power_state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Time, p.Device, p.HVACState, p.Season, p.IndoorTemp, p.OutdoorTemp, p.ACSetpoint,
		p.PredictedTarget, p.UserTarget, p.SolarRadiation, p.SensorOffset, p.PowerState)
	return err
}
