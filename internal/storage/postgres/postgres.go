// Package postgres implements outcome persistence on PostgreSQL via GORM.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/riverwatch/floodsentry/internal/database"
	"github.com/riverwatch/floodsentry/internal/log"
	"github.com/riverwatch/floodsentry/internal/storage"
	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

// Store holds the PostgreSQL storage backend
type Store struct {
	db *gorm.DB
}

// New connects to PostgreSQL and migrates the readings table.
func New(ctx context.Context, cfg config.PostgresData) (*Store, error) {
	db, err := database.CreateConnection(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("could not connect to PostgreSQL: %w", err)
	}

	log.Info("migrating sensor_readings table...")
	if err := db.WithContext(ctx).AutoMigrate(&storage.SensorReading{}); err != nil {
		return nil, fmt.Errorf("could not migrate sensor_readings table: %w", err)
	}

	return &Store{db: db}, nil
}

// StoreOutcome stores one decision outcome and returns its record id.
func (s *Store) StoreOutcome(ctx context.Context, outcome *types.DecisionOutcome) (int64, error) {
	record := storage.ReadingFromOutcome(outcome)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return 0, fmt.Errorf("could not store reading: %w", err)
	}
	return record.ID, nil
}

// LatestOutcome returns the most recently stored reading.
func (s *Store) LatestOutcome(ctx context.Context) (*storage.SensorReading, error) {
	var record storage.SensorReading
	err := s.db.WithContext(ctx).Order("id DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNoReadings
	}
	if err != nil {
		return nil, fmt.Errorf("error querying database for latest reading: %w", err)
	}
	return &record, nil
}

// Health verifies the database connection is alive.
func (s *Store) Health(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("SELECT 1").Error
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
