// Package ollama implements an LLM-backed inference provider over a local
// Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cheekymohnkey/styledna/internal/config"
	"github.com/cheekymohnkey/styledna/pkg/models"
)

const systemPrompt = `You analyze image style traits. Reply with a single JSON object:
{"trait_vector": [8 floats in 0..1], "attributes": {"style_family": "<one word>"}}
No prose, no markdown fences.`

// Provider implements models.InferenceProvider using Ollama.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *Provider) Name() string { return "ollama" }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

type traitPayload struct {
	TraitVector []float64      `json:"trait_vector"`
	Attributes  map[string]any `json:"attributes"`
}

func (p *Provider) Analyze(ctx context.Context, req models.InferenceRequest) (models.InferenceResult, error) {
	if req.ImageID == "" {
		return models.InferenceResult{}, models.ErrInvalidInput
	}

	userPrompt := fmt.Sprintf("run_type=%s image_id=%s", req.RunType, req.ImageID)
	if other, ok := req.Context["compare_image_id"].(string); ok && other != "" {
		userPrompt += " compare_image_id=" + other
	}

	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: false,
	})
	if err != nil {
		return models.InferenceResult{}, err
	}

	url := p.cfg.BaseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.InferenceResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return models.InferenceResult{}, models.ErrInferenceTimeout
		}
		return models.InferenceResult{}, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.InferenceResult{}, fmt.Errorf("%w: status %d", models.ErrProviderUnavailable, resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return models.InferenceResult{}, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}
	if decoded.Error != "" {
		return models.InferenceResult{}, fmt.Errorf("%w: %s", models.ErrInvalidResponse, decoded.Error)
	}

	var payload traitPayload
	if err := json.Unmarshal([]byte(decoded.Message.Content), &payload); err != nil {
		return models.InferenceResult{}, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}
	if len(payload.TraitVector) == 0 {
		return models.InferenceResult{}, fmt.Errorf("%w: empty trait vector", models.ErrInvalidResponse)
	}

	return models.InferenceResult{
		Model:       p.cfg.Model,
		TraitVector: payload.TraitVector,
		Attributes:  payload.Attributes,
	}, nil
}

var _ models.InferenceProvider = (*Provider)(nil)
