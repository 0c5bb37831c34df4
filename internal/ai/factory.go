package ai

import (
	"fmt"

	"github.com/ayupilot/genjobs/internal/ai/anthropic"
	"github.com/ayupilot/genjobs/internal/ai/mock"
	"github.com/ayupilot/genjobs/internal/ai/ollama"
	"github.com/ayupilot/genjobs/internal/ai/openai"
	"github.com/ayupilot/genjobs/internal/ai/vllm"
	"github.com/ayupilot/genjobs/internal/config"
	"github.com/ayupilot/genjobs/pkg/models"
)

// NewProvider constructs the appropriate inference provider based on config.
// Called once at worker startup.
func NewProvider(cfg config.AIConfig) (models.InferenceProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic, mock", cfg.Provider)
	}
}
