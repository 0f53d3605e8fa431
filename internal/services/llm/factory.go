package llm

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
)

// NewLLMService creates the configured scenario LLM provider, wrapped in its
// call rate limiter. Returns nil, nil when the provider is "none"; scenario
// generation then uses rules only.
func NewLLMService(cfg *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	provider := cfg.LLM.DefaultProvider
	if provider == "" {
		provider = common.LLMProviderNone
	}

	logger.Info().Str("provider", string(provider)).Msg("Initializing LLM service")

	switch provider {
	case common.LLMProviderNone:
		return nil, nil

	case common.LLMProviderGemini:
		service, err := NewGeminiService(&cfg.Gemini, logger)
		if err != nil {
			return nil, err
		}
		return NewRateLimited(service, common.ParseDuration(cfg.Gemini.RateLimit, 4*time.Second), logger), nil

	case common.LLMProviderClaude:
		service, err := NewClaudeService(&cfg.Claude, logger)
		if err != nil {
			return nil, err
		}
		return NewRateLimited(service, common.ParseDuration(cfg.Claude.RateLimit, time.Second), logger), nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}
