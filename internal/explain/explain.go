// Package explain generates natural-language risk explanations through an
// OpenAI-compatible endpoint, typically a local Ollama instance.
package explain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

// Generator produces explanations for classified samples. All failures are
// returned as errors; callers treat them as soft and never let them block
// actuation or persistence.
type Generator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewGenerator creates an explanation generator against an OpenAI-compatible
// endpoint. Local Ollama deployments need no real API key.
func NewGenerator(cfg config.LLMData, logger *zap.SugaredLogger) *Generator {
	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))

	clientCfg := openai.DefaultConfig("ollama")
	clientCfg.BaseURL = strings.TrimRight(cfg.URL, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Generator{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger,
	}
}

// buildPrompt renders the sample and prediction into the advisory prompt the
// model responds to.
func buildPrompt(sample types.CanonicalSample, riskClass int, probability float64) string {
	return fmt.Sprintf(`You are a Flood Risk Intelligence Agent.

Current Sensor Data:
Water Height/Distance: %g cm
Rain Level: %d
Float Triggered: %d

Predicted Risk Level: %d
Probability: %.2f

Explain the flood risk clearly and recommend safety actions.`,
		sample.DistanceCM, sample.RainAnalog, sample.FloatStatus, riskClass, probability)
}

// Explain returns a narrative explanation for a classified sample. The call
// is bounded by the configured timeout on top of whatever deadline the caller
// carries.
func (g *Generator) Explain(ctx context.Context, sample types.CanonicalSample, riskClass int, probability float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(sample, riskClass, probability),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("explanation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("explanation backend returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("explanation backend returned empty text")
	}
	return text, nil
}

// ExplainStream streams the explanation, invoking emit for each text chunk
// as it arrives, and returns the assembled text. Used by interactive callers
// that want tokens as they are generated.
func (g *Generator) ExplainStream(ctx context.Context, sample types.CanonicalSample, riskClass int, probability float64, emit func(chunk string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(sample, riskClass, probability),
			},
		},
		Stream: true,
	})
	if err != nil {
		return "", fmt.Errorf("explanation stream failed: %w", err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("explanation stream read failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		b.WriteString(chunk)
		if emit != nil {
			emit(chunk)
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("explanation backend returned empty text")
	}
	return text, nil
}
