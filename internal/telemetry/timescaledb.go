package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/passivehome/climatecore/internal/types"
)

// ClimateRecord is the TimescaleDB row shape for a telemetry point.
type ClimateRecord struct {
	Time            time.Time `gorm:"column:time;not null"`
	Device          string    `gorm:"column:device;not null"`
	HVACState       string    `gorm:"column:hvac_state;not null"`
	Season          string    `gorm:"column:season;not null"`
	IndoorTemp      *float64  `gorm:"column:indoor_temp"`
	OutdoorTemp     *float64  `gorm:"column:outdoor_temp"`
	ACSetpoint      *float64  `gorm:"column:ac_setpoint"`
	PredictedTarget float64   `gorm:"column:predicted_target;not null"`
	UserTarget      float64   `gorm:"column:user_target;not null"`
	SolarRadiation  *float64  `gorm:"column:solar_radiation"`
	SensorOffset    *float64  `gorm:"column:sensor_offset"`
	PowerState      bool      `gorm:"column:power_state;not null"`
}

// TableName customizes the table name used by gorm.
func (ClimateRecord) TableName() string {
	return "climate_points"
}

const createHypertableSQL = `SELECT create_hypertable('climate_points', 'time', if_not_exists => TRUE);`

// TimescaleDBSink stores points in a TimescaleDB hypertable for long-term
// retention and downsampled charting.
type TimescaleDBSink struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

// NewTimescaleDBSink connects to TimescaleDB and prepares the hypertable.
func NewTimescaleDBSink(ctx context.Context, connectionString string, logger *zap.SugaredLogger) (*TimescaleDBSink, error) {
	l := logger.Named("timescaledb")
	l.Info("connecting to TimescaleDB...")

	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to TimescaleDB: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(ClimateRecord{}); err != nil {
		return nil, fmt.Errorf("could not migrate climate_points table: %w", err)
	}

	// Hypertable creation requires the timescaledb extension. A plain
	// Postgres server still works, just without time partitioning.
	if err := db.WithContext(ctx).Exec(createHypertableSQL).Error; err != nil {
		l.Warn("could not create hypertable, continuing with a plain table:", err)
	}

	return &TimescaleDBSink{db: db, logger: l}, nil
}

// StartSink launches the receive loop and returns its delivery channel.
func (t *TimescaleDBSink) StartSink(ctx context.Context, wg *sync.WaitGroup) chan<- types.Point {
	t.logger.Info("starting TimescaleDB telemetry sink")
	c := make(chan types.Point, 10)
	go t.processPoints(ctx, wg, c)
	return c
}

func (t *TimescaleDBSink) processPoints(ctx context.Context, wg *sync.WaitGroup, pchan <-chan types.Point) {
	wg.Add(1)
	defer wg.Done()

	for {
		select {
		case p := <-pchan:
			if err := t.StorePoint(p); err != nil {
				t.logger.Error("could not store point:", err)
			}
		case <-ctx.Done():
			t.logger.Info("TimescaleDB telemetry sink stopped")
			return
		}
	}
}

// StorePoint inserts a single point.
func (t *TimescaleDBSink) StorePoint(p types.Point) error {
	rec := ClimateRecord{
		Time:            p.Time,
		Device:          p.Device,
		HVACState:       p.HVACState,
		Season:          p.Season,
		IndoorTemp:      p.IndoorTemp,
		OutdoorTemp:     p.OutdoorTemp,
		ACSetpoint:      p.ACSetpoint,
		PredictedTarget: p.PredictedTarget,
		UserTarget:      p.UserTarget,
		SolarRadiation:  p.SolarRadiation,
		SensorOffset:    p.SensorOffset,
		PowerState:      p.PowerState,
	}
	return t.db.Create(&rec).Error
}
