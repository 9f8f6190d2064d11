// Package storage defines the interface and record model for decision
// outcome persistence backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/riverwatch/floodsentry/internal/types"
)

// ErrNoReadings is returned by LatestOutcome when nothing has been stored.
var ErrNoReadings = errors.New("no readings stored yet")

// Store is the persistence collaborator consumed by the decision pipeline
// and the REST surface. Implementations are safe for concurrent use.
type Store interface {
	// StoreOutcome appends one decision outcome and returns its record id.
	StoreOutcome(ctx context.Context, outcome *types.DecisionOutcome) (int64, error)

	// LatestOutcome returns the most recently stored reading.
	LatestOutcome(ctx context.Context) (*SensorReading, error)

	// Health verifies the backend is reachable.
	Health(ctx context.Context) error

	Close() error
}

// We declare the Tabler interface for purposes of customizing the table name in the DB
type Tabler interface {
	TableName() string
}

// SensorReading is the stored form of one decision outcome. The raw sensor
// fields are always populated; the inference fields are nullable because
// classification and explanation can each fail independently.
type SensorReading struct {
	ID              int64     `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	OutcomeID       string    `gorm:"size:36;index" json:"outcome_id"`
	DistanceCM      float64   `gorm:"column:distance_cm;not null" json:"distance_cm"`
	RainAnalog      int       `gorm:"not null" json:"rain_analog"`
	FloatStatus     int       `gorm:"not null" json:"float_status"`
	PredictedRisk   *int      `json:"predicted_risk"`
	RiskProbability *float64  `json:"risk_probability"`
	Explanation     *string   `json:"explanation"`
	InferenceError  *string   `json:"inference_error"`
	Source          string    `json:"source,omitempty"`
}

// TableName implements the Tabler interface
func (SensorReading) TableName() string {
	return "sensor_readings"
}

// ReadingFromOutcome converts a pipeline outcome into its stored form.
func ReadingFromOutcome(outcome *types.DecisionOutcome) SensorReading {
	return SensorReading{
		CreatedAt:       outcome.Sample.Timestamp,
		OutcomeID:       outcome.OutcomeID,
		DistanceCM:      outcome.Sample.DistanceCM,
		RainAnalog:      outcome.Sample.RainAnalog,
		FloatStatus:     outcome.Sample.FloatStatus,
		PredictedRisk:   outcome.RiskClass,
		RiskProbability: outcome.Probability,
		Explanation:     outcome.Explanation,
		InferenceError:  outcome.InferenceError,
		Source:          outcome.Source,
	}
}
