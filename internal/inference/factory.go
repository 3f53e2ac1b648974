package inference

import (
	"fmt"

	"github.com/cheekymohnkey/styledna/internal/config"
	"github.com/cheekymohnkey/styledna/internal/inference/deterministic"
	"github.com/cheekymohnkey/styledna/internal/inference/ollama"
	"github.com/cheekymohnkey/styledna/internal/inference/openai"
	"github.com/cheekymohnkey/styledna/pkg/models"
)

// NewProvider constructs the appropriate inference provider based on config.
// Called once at worker startup.
func NewProvider(cfg config.InferenceConfig) (models.InferenceProvider, error) {
	switch cfg.Provider {
	case "deterministic":
		return deterministic.NewProvider(), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q: must be one of deterministic, openai, ollama", cfg.Provider)
	}
}
