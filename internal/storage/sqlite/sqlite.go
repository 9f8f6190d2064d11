// Package sqlite implements outcome persistence on a local SQLite file, for
// edge deployments that run without a PostgreSQL server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/riverwatch/floodsentry/internal/log"
	"github.com/riverwatch/floodsentry/internal/storage"
	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	outcome_id TEXT NOT NULL,
	distance_cm REAL NOT NULL,
	rain_analog INTEGER NOT NULL,
	float_status INTEGER NOT NULL,
	predicted_risk INTEGER,
	risk_probability REAL,
	explanation TEXT,
	inference_error TEXT,
	source TEXT NOT NULL DEFAULT ''
)`

// Store holds the SQLite storage backend
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and its readings table.
func New(ctx context.Context, cfg config.SQLiteData) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// The serial listener is the only writer; one connection avoids
	// SQLITE_BUSY churn from concurrent REST reads.
	db.SetMaxOpenConns(1)

	log.Infof("opened SQLite storage at %s", cfg.Path)
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sensor_readings table: %w", err)
	}

	return &Store{db: db}, nil
}

// StoreOutcome stores one decision outcome and returns its record id.
func (s *Store) StoreOutcome(ctx context.Context, outcome *types.DecisionOutcome) (int64, error) {
	record := storage.ReadingFromOutcome(outcome)

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_readings
		 (created_at, outcome_id, distance_cm, rain_analog, float_status,
		  predicted_risk, risk_probability, explanation, inference_error, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
		record.OutcomeID, record.DistanceCM, record.RainAnalog,
		record.FloatStatus, record.PredictedRisk, record.RiskProbability,
		record.Explanation, record.InferenceError, record.Source,
	)
	if err != nil {
		return 0, fmt.Errorf("could not store reading: %w", err)
	}
	return result.LastInsertId()
}

// LatestOutcome returns the most recently stored reading.
func (s *Store) LatestOutcome(ctx context.Context) (*storage.SensorReading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, outcome_id, distance_cm, rain_analog, float_status,
		        predicted_risk, risk_probability, explanation, inference_error, source
		 FROM sensor_readings ORDER BY id DESC LIMIT 1`)

	var record storage.SensorReading
	var createdAt string
	err := row.Scan(
		&record.ID, &createdAt, &record.OutcomeID, &record.DistanceCM,
		&record.RainAnalog, &record.FloatStatus, &record.PredictedRisk,
		&record.RiskProbability, &record.Explanation, &record.InferenceError,
		&record.Source,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNoReadings
	}
	if err != nil {
		return nil, fmt.Errorf("error querying database for latest reading: %w", err)
	}
	if record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("malformed created_at %q: %w", createdAt, err)
	}
	return &record, nil
}

// Health verifies the database file is reachable.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}
