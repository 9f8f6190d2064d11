// Package inference is the client for the model-serving sidecar that hosts
// the trained flood-risk classifier and its feature-attribution surface.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

// Client talks JSON over HTTP to the scoring service. It is safe for use
// from the single listen-loop goroutine plus concurrent on-demand callers.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger

	metaMu   sync.Mutex
	features []string
	labels   map[string]string
}

// FeatureContribution is one ranked entry of a model explanation.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
	Direction    string  `json:"direction"`
}

// Explanation is the scoring service's feature-attribution result for a
// single row.
type Explanation struct {
	PredictedClass int                   `json:"predicted_class"`
	PredictedLabel string                `json:"predicted_label"`
	Probability    float64               `json:"probability"`
	TopFeatures    []FeatureContribution `json:"top_features"`
}

// NewClient creates a scoring-service client.
func NewClient(cfg config.InferenceData, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds * float64(time.Second)),
		},
		logger: logger,
	}
}

// Predict scores one feature vector and returns the predicted class and its
// probability. Every failure mode (service down, metadata missing, shape
// mismatch) surfaces as a single inference error; callers must be resilient
// to this failing on every call.
func (c *Client) Predict(fv types.FeatureVector) (int, float64, error) {
	row, err := c.buildRow(fv)
	if err != nil {
		return 0, 0, err
	}

	reqBody, err := json.Marshal(map[string]interface{}{"features": row})
	if err != nil {
		return 0, 0, fmt.Errorf("encoding predict request: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+"/predict", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return 0, 0, fmt.Errorf("predict call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("predict call returned status %d", resp.StatusCode)
	}

	var out struct {
		Class       int     `json:"class"`
		Probability float64 `json:"probability"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("decoding predict response: %w", err)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return 0, 0, fmt.Errorf("predict returned probability %v outside [0,1]", out.Probability)
	}

	return out.Class, out.Probability, nil
}

// Explain returns ranked per-feature contributions for one feature vector.
func (c *Client) Explain(ctx context.Context, fv types.FeatureVector, topK int) (*Explanation, error) {
	row, err := c.buildRow(fv)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"features": row,
		"top_k":    topK,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding explain request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/explain", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explain call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explain call returned status %d", resp.StatusCode)
	}

	var out Explanation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding explain response: %w", err)
	}
	return &out, nil
}

// Label maps a class index to its human-readable label, falling back to the
// numeric form when the metadata has no entry.
func (c *Client) Label(class int) string {
	meta, err := c.metadata()
	if err != nil {
		return fmt.Sprintf("%d", class)
	}
	if label, ok := meta.labels[fmt.Sprintf("%d", class)]; ok {
		return label
	}
	return fmt.Sprintf("%d", class)
}

// buildRow reindexes a feature vector to the model's declared feature list.
// Features the model expects but the vector lacks are filled with 0.0; a
// missing key never fails the row.
func (c *Client) buildRow(fv types.FeatureVector) (map[string]float64, error) {
	meta, err := c.metadata()
	if err != nil {
		return nil, err
	}

	row := make(map[string]float64, len(meta.features))
	for _, name := range meta.features {
		row[name] = fv[name]
	}
	return row, nil
}

type modelMeta struct {
	features []string
	labels   map[string]string
}

// metadata fetches and caches the model's declared feature list and label
// map. The cache is never invalidated; the sidecar declares a stable
// contract for the lifetime of the loaded model.
func (c *Client) metadata() (modelMeta, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	if c.features != nil {
		return modelMeta{features: c.features, labels: c.labels}, nil
	}

	resp, err := c.http.Get(c.baseURL + "/metadata")
	if err != nil {
		return modelMeta{}, fmt.Errorf("metadata call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return modelMeta{}, fmt.Errorf("metadata call returned status %d", resp.StatusCode)
	}

	var out struct {
		Features []string          `json:"features"`
		Labels   map[string]string `json:"labels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return modelMeta{}, fmt.Errorf("decoding metadata response: %w", err)
	}
	if len(out.Features) == 0 {
		return modelMeta{}, fmt.Errorf("model metadata declares no features")
	}

	c.features = out.Features
	c.labels = out.Labels
	c.logger.Infof("loaded model metadata: %d features", len(out.Features))

	return modelMeta{features: c.features, labels: c.labels}, nil
}
