package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/riverwatch/floodsentry/internal/features"
	"github.com/riverwatch/floodsentry/internal/storage"
	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

type fakeClassifier struct {
	class int
	prob  float64
	err   error
	calls int
}

func (f *fakeClassifier) Predict(fv types.FeatureVector) (int, float64, error) {
	f.calls++
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.class, f.prob, nil
}

type fakeExplainer struct {
	text  string
	err   error
	calls int
}

func (f *fakeExplainer) Explain(ctx context.Context, sample types.CanonicalSample, riskClass int, probability float64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeCommander struct {
	commands []string
}

func (f *fakeCommander) SendCommand(command string) {
	f.commands = append(f.commands, command)
}

type fakeStore struct {
	stored []types.DecisionOutcome
	err    error
}

func (f *fakeStore) StoreOutcome(ctx context.Context, outcome *types.DecisionOutcome) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.stored = append(f.stored, *outcome)
	return int64(len(f.stored)), nil
}

func (f *fakeStore) LatestOutcome(ctx context.Context) (*storage.SensorReading, error) {
	return nil, storage.ErrNoReadings
}

func (f *fakeStore) Health(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                     { return nil }

type harness struct {
	pipeline   *Pipeline
	classifier *fakeClassifier
	explainer  *fakeExplainer
	commander  *fakeCommander
	store      *fakeStore
	window     *features.Window
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.ConfigData{}
	cfg.ApplyDefaults()

	h := &harness{
		classifier: &fakeClassifier{class: 0, prob: 0.9},
		explainer:  &fakeExplainer{text: "water rising fast"},
		commander:  &fakeCommander{},
		store:      &fakeStore{},
		window:     features.NewWindow(cfg.Features),
	}
	h.pipeline = New(cfg, h.window, h.classifier, h.explainer, h.commander, h.store, zap.NewNop().Sugar())
	return h
}

func validRaw() types.RawPayload {
	return types.RawPayload{
		"distance_cm":  120.0,
		"rain_analog":  300.0,
		"float_status": 0.0,
	}
}

func TestProcessLowRisk(t *testing.T) {
	h := newHarness(t)

	outcome := h.pipeline.Process(validRaw())

	if outcome.OutcomeID == "" {
		t.Error("expected a populated outcome ID")
	}
	if outcome.RiskClass == nil || *outcome.RiskClass != 0 {
		t.Errorf("expected risk class 0, got %v", outcome.RiskClass)
	}
	if outcome.Probability == nil || *outcome.Probability != 0.9 {
		t.Errorf("expected probability 0.9, got %v", outcome.Probability)
	}
	if outcome.Source != types.SourceModel {
		t.Errorf("expected source %q, got %q", types.SourceModel, outcome.Source)
	}
	if outcome.Explanation != nil {
		t.Error("low-risk outcome should not carry an explanation")
	}
	if h.explainer.calls != 0 {
		t.Errorf("explainer should not be called for low risk, got %d calls", h.explainer.calls)
	}
	if len(h.commander.commands) != 1 || h.commander.commands[0] != CommandAlertOff {
		t.Errorf("expected single ALERT_OFF, got %v", h.commander.commands)
	}
	if len(h.store.stored) != 1 {
		t.Fatalf("expected 1 stored outcome, got %d", len(h.store.stored))
	}
	if h.window.Count() != 1 {
		t.Errorf("expected sample folded into window, count = %d", h.window.Count())
	}
}

func TestProcessHighRisk(t *testing.T) {
	h := newHarness(t)
	h.classifier.class = 2
	h.classifier.prob = 0.87

	outcome := h.pipeline.Process(validRaw())

	if outcome.RiskClass == nil || *outcome.RiskClass != 2 {
		t.Fatalf("expected risk class 2, got %v", outcome.RiskClass)
	}
	if len(h.commander.commands) != 1 || h.commander.commands[0] != CommandAlertOn {
		t.Errorf("expected ALERT_ON, got %v", h.commander.commands)
	}
	if outcome.Explanation == nil || *outcome.Explanation != "water rising fast" {
		t.Errorf("expected explanation from explainer, got %v", outcome.Explanation)
	}
	if h.explainer.calls != 1 {
		t.Errorf("expected 1 explainer call, got %d", h.explainer.calls)
	}
}

func TestFloatOverrideBypassesClassifier(t *testing.T) {
	h := newHarness(t)
	h.classifier.err = errors.New("model file missing")

	raw := validRaw()
	raw["float_status"] = 1.0
	outcome := h.pipeline.Process(raw)

	if outcome.RiskClass == nil || *outcome.RiskClass != highestRiskClass {
		t.Fatalf("override should force class %d, got %v", highestRiskClass, outcome.RiskClass)
	}
	if outcome.Probability == nil || *outcome.Probability != 1.0 {
		t.Errorf("override probability should be 1.0, got %v", outcome.Probability)
	}
	if outcome.Source != types.SourceOverride {
		t.Errorf("expected source %q, got %q", types.SourceOverride, outcome.Source)
	}
	if h.classifier.calls != 0 {
		t.Errorf("classifier must not run under override, got %d calls", h.classifier.calls)
	}
	if len(h.commander.commands) != 1 || h.commander.commands[0] != CommandAlertOn {
		t.Errorf("override must raise the alert, got %v", h.commander.commands)
	}
	if len(h.store.stored) != 1 {
		t.Errorf("override outcome must persist, got %d stored", len(h.store.stored))
	}
}

func TestFloatOverrideFiresDespiteHardErrors(t *testing.T) {
	h := newHarness(t)

	// Distance missing entirely: a hard error for classification, but the
	// emergency switch still wins.
	raw := types.RawPayload{"float_status": 1.0}
	outcome := h.pipeline.Process(raw)

	if outcome.RiskClass == nil || *outcome.RiskClass != highestRiskClass {
		t.Fatalf("override should fire despite hard errors, got %v", outcome.RiskClass)
	}
	if outcome.Source != types.SourceOverride {
		t.Errorf("expected source %q, got %q", types.SourceOverride, outcome.Source)
	}
}

func TestHardErrorsSkipClassification(t *testing.T) {
	h := newHarness(t)

	raw := types.RawPayload{"rain_analog": 300.0, "float_status": 0.0}
	outcome := h.pipeline.Process(raw)

	if h.classifier.calls != 0 {
		t.Errorf("classifier must not run on hard errors, got %d calls", h.classifier.calls)
	}
	if outcome.RiskClass != nil || outcome.Probability != nil {
		t.Error("risk and probability must stay unset on hard errors")
	}
	if outcome.InferenceError == nil || !strings.Contains(*outcome.InferenceError, "missing_distance") {
		t.Errorf("inference error should name the unusable field, got %v", outcome.InferenceError)
	}
	if len(h.commander.commands) != 1 || h.commander.commands[0] != CommandAlertOff {
		t.Errorf("indeterminate risk must command ALERT_OFF, got %v", h.commander.commands)
	}
	if len(h.store.stored) != 1 {
		t.Errorf("degraded outcome must still persist, got %d stored", len(h.store.stored))
	}
	if h.window.Count() != 0 {
		t.Errorf("hard-error sample must not enter the window, count = %d", h.window.Count())
	}
}

func TestClassifierFailureStillPersists(t *testing.T) {
	h := newHarness(t)
	h.classifier.err = errors.New("feature shape mismatch")

	outcome := h.pipeline.Process(validRaw())

	if outcome.RiskClass != nil || outcome.Probability != nil {
		t.Error("risk and probability must stay unset when the classifier fails")
	}
	if outcome.InferenceError == nil || !strings.Contains(*outcome.InferenceError, "classifier failed") {
		t.Errorf("expected classifier failure recorded, got %v", outcome.InferenceError)
	}
	if len(h.commander.commands) != 1 || h.commander.commands[0] != CommandAlertOff {
		t.Errorf("indeterminate risk must command ALERT_OFF, got %v", h.commander.commands)
	}
	if len(h.store.stored) != 1 {
		t.Fatalf("outcome must persist on classifier failure, got %d stored", len(h.store.stored))
	}
	if h.store.stored[0].Sample.DistanceCM != 120 {
		t.Errorf("stored sample should carry the raw reading, got %v", h.store.stored[0].Sample.DistanceCM)
	}
}

func TestExplanationFailureIsSoft(t *testing.T) {
	h := newHarness(t)
	h.classifier.class = 2
	h.explainer.err = errors.New("ollama unreachable")

	outcome := h.pipeline.Process(validRaw())

	if outcome.Explanation != nil {
		t.Error("explanation must stay unset when the explainer fails")
	}
	if len(h.commander.commands) != 1 || h.commander.commands[0] != CommandAlertOn {
		t.Errorf("actuation must not be affected by explainer failure, got %v", h.commander.commands)
	}
	if len(h.store.stored) != 1 {
		t.Errorf("persistence must not be affected by explainer failure, got %d stored", len(h.store.stored))
	}
}

func TestStoreFailureDropsOutcomeOnly(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("database gone")

	outcome := h.pipeline.Process(validRaw())

	if outcome.RiskClass == nil {
		t.Error("classification result should survive a storage failure")
	}

	// Ingestion continues: the next line processes normally.
	h.store.err = nil
	h.pipeline.Process(validRaw())
	if len(h.store.stored) != 1 {
		t.Errorf("expected the follow-up outcome stored, got %d", len(h.store.stored))
	}
}

func TestNilCommanderSkipsActuation(t *testing.T) {
	h := newHarness(t)
	h.pipeline.commander = nil

	outcome := h.pipeline.Process(validRaw())
	if outcome.RiskClass == nil {
		t.Error("processing should complete without a commander attached")
	}
}

func TestWarningsCarriedOntoOutcome(t *testing.T) {
	h := newHarness(t)

	raw := validRaw()
	raw["rain_analog"] = 9999.0
	outcome := h.pipeline.Process(raw)

	found := false
	for _, w := range outcome.Warnings {
		if strings.Contains(w, "rain_clamped_high") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected rain_clamped_high warning on outcome, got %v", outcome.Warnings)
	}
	if outcome.Sample.RainAnalog != 1023 {
		t.Errorf("expected clamped rain value 1023, got %d", outcome.Sample.RainAnalog)
	}
}
