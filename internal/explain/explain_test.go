package explain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

func testSample() types.CanonicalSample {
	return types.CanonicalSample{
		Timestamp:   time.Now(),
		DistanceCM:  12.5,
		RainAnalog:  800,
		FloatStatus: 1,
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(testSample(), 2, 0.91)

	for _, want := range []string{
		"Flood Risk Intelligence Agent",
		"Water Height/Distance: 12.5 cm",
		"Rain Level: 800",
		"Float Triggered: 1",
		"Predicted Risk Level: 2",
		"Probability: 0.91",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestExplain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "Water is rising fast. Move to higher ground."}},
			},
		})
	}))
	defer srv.Close()

	g := NewGenerator(config.LLMData{URL: srv.URL, Model: "llama3", TimeoutSeconds: 2}, zap.NewNop().Sugar())

	text, err := g.Explain(context.Background(), testSample(), 2, 0.91)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "higher ground") {
		t.Errorf("unexpected explanation text: %q", text)
	}
}

func TestExplainBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Common case: model not pulled yet.
		http.Error(w, `{"error": "model llama3 not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGenerator(config.LLMData{URL: srv.URL, Model: "llama3", TimeoutSeconds: 2}, zap.NewNop().Sugar())

	if _, err := g.Explain(context.Background(), testSample(), 2, 0.91); err == nil {
		t.Error("expected an error when the backend rejects the request")
	}
}

func TestExplainEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "   "}},
			},
		})
	}))
	defer srv.Close()

	g := NewGenerator(config.LLMData{URL: srv.URL, Model: "llama3", TimeoutSeconds: 2}, zap.NewNop().Sugar())

	if _, err := g.Explain(context.Background(), testSample(), 1, 0.5); err == nil {
		t.Error("expected an error for blank explanation text")
	}
}
