package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/config"
)

// NewFromConfig builds the configured provider's client. Returns the Client
// interface so callers can substitute a mock in tests.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (Client, error) {
	providerCfg := &Config{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(providerCfg, logger)
	case "anthropic":
		return NewAnthropicClient(providerCfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
