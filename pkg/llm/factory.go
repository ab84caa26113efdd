package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/config"
)

// NewFromConfig creates the TextGenerator named by the evaluator config.
func NewFromConfig(cfg *config.EvaluatorConfig, logger *zap.Logger) (TextGenerator, error) {
	clientCfg := &Config{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	}
	switch cfg.Provider {
	case "openai":
		return NewClient(clientCfg, logger)
	case "anthropic":
		return NewAnthropicClient(clientCfg, logger)
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown evaluator provider %q", cfg.Provider)
	}
}
