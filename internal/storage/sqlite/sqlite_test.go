package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/riverwatch/floodsentry/internal/log"
	"github.com/riverwatch/floodsentry/internal/storage"
	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

var logOnce sync.Once

func initLog() {
	logOnce.Do(func() { log.Init(false) })
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	initLog()
	path := filepath.Join(t.TempDir(), "readings.db")
	store, err := New(context.Background(), config.SQLiteData{Path: path})
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testOutcome() *types.DecisionOutcome {
	risk := 1
	prob := 0.62
	return &types.DecisionOutcome{
		OutcomeID: "11111111-2222-3333-4444-555555555555",
		Sample: types.CanonicalSample{
			Timestamp:   time.Date(2024, 7, 10, 14, 30, 0, 0, time.UTC),
			DistanceCM:  88.5,
			RainAnalog:  430,
			FloatStatus: 0,
		},
		RiskClass:   &risk,
		Probability: &prob,
		Source:      types.SourceModel,
	}
}

func TestStoreAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.StoreOutcome(ctx, testOutcome())
	if err != nil {
		t.Fatalf("StoreOutcome: %v", err)
	}
	if id != 1 {
		t.Errorf("expected first record id 1, got %d", id)
	}

	second := testOutcome()
	second.OutcomeID = "99999999-2222-3333-4444-555555555555"
	second.Sample.DistanceCM = 70.0
	if _, err := store.StoreOutcome(ctx, second); err != nil {
		t.Fatalf("StoreOutcome: %v", err)
	}

	latest, err := store.LatestOutcome(ctx)
	if err != nil {
		t.Fatalf("LatestOutcome: %v", err)
	}
	if latest.OutcomeID != second.OutcomeID {
		t.Errorf("latest outcome id = %q, want %q", latest.OutcomeID, second.OutcomeID)
	}
	if latest.DistanceCM != 70.0 {
		t.Errorf("latest distance = %v, want 70.0", latest.DistanceCM)
	}
	if latest.PredictedRisk == nil || *latest.PredictedRisk != 1 {
		t.Errorf("latest predicted risk = %v, want 1", latest.PredictedRisk)
	}
	if latest.InferenceError != nil {
		t.Errorf("expected nil inference error, got %v", *latest.InferenceError)
	}
}

func TestLatestEmpty(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.LatestOutcome(context.Background()); !errors.Is(err, storage.ErrNoReadings) {
		t.Errorf("expected ErrNoReadings, got %v", err)
	}
}

func TestStoreDegradedOutcome(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := "classifier failed: model file missing"
	outcome := testOutcome()
	outcome.RiskClass = nil
	outcome.Probability = nil
	outcome.InferenceError = &msg

	if _, err := store.StoreOutcome(ctx, outcome); err != nil {
		t.Fatalf("StoreOutcome: %v", err)
	}

	latest, err := store.LatestOutcome(ctx)
	if err != nil {
		t.Fatalf("LatestOutcome: %v", err)
	}
	if latest.PredictedRisk != nil || latest.RiskProbability != nil {
		t.Error("degraded outcome should store null risk fields")
	}
	if latest.InferenceError == nil || *latest.InferenceError != msg {
		t.Errorf("inference error = %v, want %q", latest.InferenceError, msg)
	}
}

func TestHealth(t *testing.T) {
	store := newTestStore(t)
	if err := store.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}
