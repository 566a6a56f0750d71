package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/config"
	"github.com/hyperjump/yvan/pkg/utils"
)

// New builds the embedder selected by cfg.Provider and, when cfg.CacheSize > 0,
// wraps it with an LRU cache. A provider that cannot start is an error; there is
// no silent fallback to the mock.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	logger = utils.OrNop(logger)
	var e Embedder
	switch cfg.Provider {
	case config.ProviderONNX:
		onnx, err := NewONNXEmbedder(ONNXOptions{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
			InputNames: cfg.InputNames,
			OutputName: cfg.OutputName,
		})
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: %w", err)
		}
		e = onnx
	case config.ProviderOllama:
		e = NewOllamaEmbedder(cfg.OllamaURL, cfg.Model, cfg.Dimensions, cfg.Timeout)
	case config.ProviderMock:
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	logger.Info("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", e.Dimensions()))

	if cfg.CacheSize <= 0 {
		return e, nil
	}
	cached, err := NewCached(e, cfg.CacheSize)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	return cached, nil
}
