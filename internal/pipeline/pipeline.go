// Package pipeline turns one raw telemetry line into a persisted decision
// outcome: normalization, safety override, classification, actuation,
// explanation, and storage, in that order.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riverwatch/floodsentry/internal/features"
	"github.com/riverwatch/floodsentry/internal/metrics"
	"github.com/riverwatch/floodsentry/internal/normalize"
	"github.com/riverwatch/floodsentry/internal/storage"
	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

// highestRiskClass is the top class the model can emit. The float switch
// maps straight to it.
const highestRiskClass = 2

// Actuation command tokens understood by the device firmware.
const (
	CommandAlertOn  = "ALERT_ON"
	CommandAlertOff = "ALERT_OFF"
)

// Classifier produces a risk class and its probability for one feature
// vector. Implementations are expected to fail often (model unavailable,
// feature mismatch); the pipeline degrades rather than aborts.
type Classifier interface {
	Predict(fv types.FeatureVector) (int, float64, error)
}

// Explainer produces a human-readable explanation for a high-risk outcome.
type Explainer interface {
	Explain(ctx context.Context, sample types.CanonicalSample, riskClass int, probability float64) (string, error)
}

// Commander accepts outbound actuation commands. Writes are best-effort.
type Commander interface {
	SendCommand(command string)
}

// Pipeline owns the per-line decision flow. All collaborators are injected;
// any of them except the window and store may be nil, in which case the
// corresponding step is skipped gracefully.
type Pipeline struct {
	cfg        config.ConfigData
	window     *features.Window
	classifier Classifier
	explainer  Explainer
	commander  Commander
	store      storage.Store
	logger     *zap.SugaredLogger

	storeTimeout   time.Duration
	explainTimeout time.Duration
}

// New constructs a Pipeline around its collaborators.
func New(cfg config.ConfigData, window *features.Window, classifier Classifier, explainer Explainer, commander Commander, store storage.Store, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		cfg:            cfg,
		window:         window,
		classifier:     classifier,
		explainer:      explainer,
		commander:      commander,
		store:          store,
		logger:         logger,
		storeTimeout:   10 * time.Second,
		explainTimeout: time.Duration(cfg.LLM.TimeoutSeconds * float64(time.Second)),
	}
}

// SetCommander installs the actuation target after construction. The serial
// manager needs the pipeline and the pipeline needs the manager; the manager
// is attached once both exist.
func (p *Pipeline) SetCommander(c Commander) {
	p.commander = c
}

// Process runs the full decision flow for one raw payload. It never panics
// and never returns an error: every failure mode is folded into the outcome
// itself so that ingestion of subsequent lines is never interrupted.
func (p *Pipeline) Process(raw types.RawPayload) (outcome types.DecisionOutcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("panic while processing sample, dropping line",
				"panic", r,
				"raw", raw)
			metrics.SamplesProcessed.WithLabelValues("panic").Inc()
		}
	}()

	normalized := normalize.Payload(raw)
	for _, w := range normalized.Warnings {
		p.logger.Warnw("payload normalization warning", "warning", w)
	}

	outcome = types.DecisionOutcome{
		OutcomeID: uuid.New().String(),
		Sample:    normalized.Sample,
		Source:    types.SourceModel,
		Warnings:  normalized.Warnings,
	}

	switch {
	case normalized.Sample.FloatStatus == 1:
		// Emergency float switch. Fires even when the other fields were
		// unusable; the classifier is never consulted.
		risk := highestRiskClass
		prob := 1.0
		outcome.RiskClass = &risk
		outcome.Probability = &prob
		outcome.Source = types.SourceOverride
		p.logger.Warnw("float switch engaged, forcing highest risk class",
			"risk_class", risk)

	case normalized.HasErrors():
		msg := fmt.Sprintf("sample unusable for classification: %s",
			strings.Join(normalized.Errors, ", "))
		outcome.InferenceError = &msg
		p.logger.Warnw("skipping classification", "errors", normalized.Errors)

	default:
		p.classify(&outcome)
	}

	p.actuate(outcome)
	p.explain(&outcome)
	p.persist(raw, &outcome)

	if outcome.InferenceError != nil {
		metrics.SamplesProcessed.WithLabelValues("degraded").Inc()
	} else {
		metrics.SamplesProcessed.WithLabelValues("ok").Inc()
	}
	return outcome
}

// classify folds the sample into the window and consults the classifier.
// Failures leave risk and probability unset but carry an inference error.
func (p *Pipeline) classify(outcome *types.DecisionOutcome) {
	fv, err := p.window.BuildFeatures(outcome.Sample, true)
	if err != nil {
		msg := fmt.Sprintf("feature computation failed: %v", err)
		outcome.InferenceError = &msg
		metrics.InferenceFailures.Inc()
		p.logger.Errorw("could not build features", "error", err)
		return
	}

	if p.classifier == nil {
		msg := "classifier not configured"
		outcome.InferenceError = &msg
		return
	}

	class, prob, err := p.classifier.Predict(fv)
	if err != nil {
		msg := fmt.Sprintf("classifier failed: %v", err)
		outcome.InferenceError = &msg
		metrics.InferenceFailures.Inc()
		p.logger.Errorw("classifier call failed", "error", err)
		return
	}
	outcome.RiskClass = &class
	outcome.Probability = &prob
}

// actuate resolves the alert line unambiguously: on at or above the
// high-risk threshold, otherwise off. An indeterminate risk must not leave
// a stale alert engaged, so it also commands off.
func (p *Pipeline) actuate(outcome types.DecisionOutcome) {
	if p.commander == nil {
		return
	}
	if outcome.RiskClass != nil && *outcome.RiskClass >= p.cfg.Pipeline.HighRiskThreshold {
		p.logger.Infow("raising alert", "risk_class", *outcome.RiskClass)
		p.commander.SendCommand(CommandAlertOn)
		metrics.AlertsRaised.Inc()
		return
	}
	p.commander.SendCommand(CommandAlertOff)
}

// explain requests a narrative for high-risk outcomes. A failed or slow
// explanation never blocks actuation or persistence.
func (p *Pipeline) explain(outcome *types.DecisionOutcome) {
	if p.explainer == nil || outcome.RiskClass == nil ||
		*outcome.RiskClass < p.cfg.Pipeline.HighRiskThreshold {
		return
	}

	prob := 1.0
	if outcome.Probability != nil {
		prob = *outcome.Probability
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.explainTimeout)
	defer cancel()

	text, err := p.explainer.Explain(ctx, outcome.Sample, *outcome.RiskClass, prob)
	if err != nil {
		metrics.ExplanationFailures.Inc()
		p.logger.Warnw("explanation unavailable", "error", err)
		return
	}
	outcome.Explanation = &text
}

// persist stores the outcome unconditionally. Raw telemetry history has
// value even when every downstream step failed; a storage failure drops
// only this one outcome.
func (p *Pipeline) persist(raw types.RawPayload, outcome *types.DecisionOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), p.storeTimeout)
	defer cancel()

	id, err := p.store.StoreOutcome(ctx, outcome)
	if err != nil {
		metrics.StoreFailures.Inc()
		p.logger.Errorw("failed to store decision outcome, dropping",
			"error", err,
			"raw", raw)
		return
	}
	p.logger.Debugw("stored decision outcome",
		"record_id", id,
		"outcome_id", outcome.OutcomeID)
}
