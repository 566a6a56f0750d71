package generation

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/config"
)

// maxRateLimitRetries bounds how often one Generate call waits out a 429.
const maxRateLimitRetries = 2

// New builds the generator selected by cfg.Provider, rate limited per cfg.
func New(cfg config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	var g Generator
	switch cfg.Provider {
	case config.ProviderGemini:
		gem, err := NewGeminiGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.TemperatureValue(), cfg.Timeout)
		if err != nil {
			return nil, err
		}
		g = gem
	case config.ProviderOllama:
		g = NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.TemperatureValue(), cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	if cfg.RequestsPerSecond <= 0 {
		return g, nil
	}
	return NewRateLimited(g, cfg.RequestsPerSecond, cfg.Burst, maxRateLimitRetries, logger), nil
}
