package restserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/riverwatch/floodsentry/internal/storage"
	"github.com/riverwatch/floodsentry/internal/types"
)

const defaultTopK = 6

// Handlers contains the HTTP request handlers
type Handlers struct {
	ctrl *Controller
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{ctrl: ctrl}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.ctrl.logger.Errorf("error encoding response: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// GetHealth reports process liveness.
func (h *Handlers) GetHealth(w http.ResponseWriter, req *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetReady reports per-subsystem readiness: the storage backend must be
// reachable, and unless require_serial=false the sensor must be connected.
func (h *Handlers) GetReady(w http.ResponseWriter, req *http.Request) {
	requireSerial := true
	if raw := req.URL.Query().Get("require_serial"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "require_serial must be a boolean")
			return
		}
		requireSerial = parsed
	}

	ready := true

	storageState := "ok"
	if err := h.ctrl.deps.Store.Health(req.Context()); err != nil {
		h.ctrl.logger.Errorf("readiness check failed: %v", err)
		storageState = "unavailable"
		ready = false
	}

	serialState := "disconnected"
	if h.ctrl.deps.Serial != nil && h.ctrl.deps.Serial.Status().Connected {
		serialState = "connected"
	}
	if requireSerial && serialState != "connected" {
		ready = false
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]string{
		"status":  status,
		"storage": storageState,
		"serial":  serialState,
	})
}

// GetLatest returns the most recently stored reading.
func (h *Handlers) GetLatest(w http.ResponseWriter, req *http.Request) {
	reading, err := h.ctrl.deps.Store.LatestOutcome(req.Context())
	if errors.Is(err, storage.ErrNoReadings) {
		h.writeError(w, http.StatusNotFound, "no readings stored yet")
		return
	}
	if err != nil {
		h.ctrl.logger.Errorf("error fetching latest reading: %v", err)
		h.writeError(w, http.StatusInternalServerError, "error fetching latest reading")
		return
	}
	h.writeJSON(w, http.StatusOK, reading)
}

// GetSerialStatus returns the transport manager's connection snapshot.
func (h *Handlers) GetSerialStatus(w http.ResponseWriter, req *http.Request) {
	if h.ctrl.deps.Serial == nil {
		h.writeError(w, http.StatusServiceUnavailable, "serial manager not running")
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctrl.deps.Serial.Status())
}

// GetSerialPorts lists candidate serial devices on the host.
func (h *Handlers) GetSerialPorts(w http.ResponseWriter, req *http.Request) {
	ports := h.ctrl.listPorts()
	if ports == nil {
		ports = []types.PortInfo{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ports": ports})
}

// GetFeatureExplanation recomputes features for the latest stored reading
// without mutating the window, and returns the classifier's ranked feature
// contributions.
func (h *Handlers) GetFeatureExplanation(w http.ResponseWriter, req *http.Request) {
	if h.ctrl.deps.Contributor == nil {
		h.writeError(w, http.StatusServiceUnavailable, "inference service not configured")
		return
	}

	topK := defaultTopK
	if raw := req.URL.Query().Get("top_k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = parsed
	}

	reading, err := h.ctrl.deps.Store.LatestOutcome(req.Context())
	if errors.Is(err, storage.ErrNoReadings) {
		h.writeError(w, http.StatusNotFound, "no readings stored yet")
		return
	}
	if err != nil {
		h.ctrl.logger.Errorf("error fetching latest reading: %v", err)
		h.writeError(w, http.StatusInternalServerError, "error fetching latest reading")
		return
	}

	sample := types.CanonicalSample{
		Timestamp:   reading.CreatedAt,
		DistanceCM:  reading.DistanceCM,
		RainAnalog:  reading.RainAnalog,
		FloatStatus: reading.FloatStatus,
	}
	fv, err := h.ctrl.deps.Window.BuildFeatures(sample, false)
	if err != nil {
		h.ctrl.logger.Errorf("error building features for explanation: %v", err)
		h.writeError(w, http.StatusUnprocessableEntity, "stored reading is not explainable")
		return
	}

	explanation, err := h.ctrl.deps.Contributor.Explain(req.Context(), fv, topK)
	if err != nil {
		h.ctrl.logger.Errorf("feature explanation failed: %v", err)
		h.writeError(w, http.StatusBadGateway, "inference service unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, explanation)
}

// GetNarrativeExplanation asks the LLM backend to narrate the latest stored
// reading. Requires that the reading carries a classified risk.
func (h *Handlers) GetNarrativeExplanation(w http.ResponseWriter, req *http.Request) {
	if h.ctrl.deps.Narrator == nil {
		h.writeError(w, http.StatusServiceUnavailable, "LLM backend not configured")
		return
	}

	reading, err := h.ctrl.deps.Store.LatestOutcome(req.Context())
	if errors.Is(err, storage.ErrNoReadings) {
		h.writeError(w, http.StatusNotFound, "no readings stored yet")
		return
	}
	if err != nil {
		h.ctrl.logger.Errorf("error fetching latest reading: %v", err)
		h.writeError(w, http.StatusInternalServerError, "error fetching latest reading")
		return
	}
	if reading.PredictedRisk == nil {
		h.writeError(w, http.StatusUnprocessableEntity, "latest reading has no risk classification")
		return
	}

	probability := 1.0
	if reading.RiskProbability != nil {
		probability = *reading.RiskProbability
	}
	sample := types.CanonicalSample{
		Timestamp:   reading.CreatedAt,
		DistanceCM:  reading.DistanceCM,
		RainAnalog:  reading.RainAnalog,
		FloatStatus: reading.FloatStatus,
	}

	if req.URL.Query().Get("stream") == "true" {
		h.streamNarrative(w, req, sample, *reading.PredictedRisk, probability)
		return
	}

	text, err := h.ctrl.deps.Narrator.Explain(req.Context(), sample, *reading.PredictedRisk, probability)
	if err != nil {
		h.ctrl.logger.Errorf("LLM explanation failed: %v", err)
		h.writeError(w, http.StatusBadGateway, "LLM backend unavailable")
		return
	}
	body := map[string]interface{}{
		"outcome_id":  reading.OutcomeID,
		"risk_class":  *reading.PredictedRisk,
		"probability": probability,
		"explanation": text,
	}
	if h.ctrl.deps.Labeler != nil {
		body["risk_label"] = h.ctrl.deps.Labeler.Label(*reading.PredictedRisk)
	}
	h.writeJSON(w, http.StatusOK, body)
}

// streamNarrative writes the narrative as plain-text chunks as the LLM
// produces them. Falls back to the non-streaming path when the configured
// narrator cannot stream.
func (h *Handlers) streamNarrative(w http.ResponseWriter, req *http.Request, sample types.CanonicalSample, riskClass int, probability float64) {
	streamer, ok := h.ctrl.deps.Narrator.(StreamingNarrator)
	if !ok {
		text, err := h.ctrl.deps.Narrator.Explain(req.Context(), sample, riskClass, probability)
		if err != nil {
			h.ctrl.logger.Errorf("LLM explanation failed: %v", err)
			h.writeError(w, http.StatusBadGateway, "LLM backend unavailable")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(text))
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	_, err := streamer.ExplainStream(req.Context(), sample, riskClass, probability, func(chunk string) {
		w.Write([]byte(chunk))
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil {
		// Headers are already out; all we can do is log and cut the stream.
		h.ctrl.logger.Errorf("LLM explanation stream failed: %v", err)
	}
}
