package llm

import (
	"context"
	"fmt"

	"apprentice/internal/config"
)

// Default teacher models per provider, used when the config names none.
const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultOpenAIModel    = "gpt-4o"
	defaultGeminiModel    = "gemini-2.0-flash"
)

// DefaultTeacherModel returns the default large model for a provider.
func DefaultTeacherModel(provider string) string {
	switch provider {
	case "openai":
		return defaultOpenAIModel
	case "gemini":
		return defaultGeminiModel
	default:
		return defaultAnthropicModel
	}
}

// New builds a provider client from configuration.
func New(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic", "":
		ac := DefaultAnthropicConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			ac.BaseURL = cfg.BaseURL
		}
		if cfg.Timeout != 0 {
			ac.Timeout = cfg.Timeout
		}
		if cfg.MaxRetries != 0 {
			ac.MaxRetries = cfg.MaxRetries
		}
		return NewAnthropicClient(ac), nil

	case "openai":
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if cfg.Timeout != 0 {
			oc.Timeout = cfg.Timeout
		}
		if cfg.MaxRetries != 0 {
			oc.MaxRetries = cfg.MaxRetries
		}
		return NewOpenAIClient(oc), nil

	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.MaxRetries)

	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: anthropic, openai, gemini)", cfg.Provider)
	}
}
