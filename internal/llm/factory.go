package llm

import (
	"fmt"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/config"
)

// NewFromConfig builds the chat client selected by configuration.
func NewFromConfig(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "", "openai-compatible":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: base_url required for openai-compatible provider")
		}
		return NewOpenAIClient(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case "gemini":
		return NewGeminiClient(GeminiConfig{
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
