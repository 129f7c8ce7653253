package provider

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/pressagent/config"
	openai_provider "github.com/mohammad-safakhou/pressagent/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy.
// Model and temperature travel with each call because every pipeline role
// (draft, refine, evaluate, research) routes to its own model binding.
type Provider interface {
	Generate(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Type) {
	case OpenAI, "":
		if cfg.APIKey == "" {
			return nil, errors.New("llm.api_key not set")
		}
		return openai_provider.NewOpenAIClient(
			cfg.APIKey,
			cfg.BaseURL,
			cfg.Routing.Embedding,
			cfg.MaxRetries,
			cfg.Timeout,
		), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
