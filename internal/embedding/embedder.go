// Package embedding provides text embedding backends (ONNX, OpenAI, mock)
// behind a common interface, with LRU caching.
package embedding

import (
	"context"
	"fmt"

	"github.com/trialscope/trialscope/internal/config"
)

// Embedder produces unit-normalized vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New creates an embedder for the configured provider.
// Supported providers: "onnx" (local model, requires CGO), "openai", "mock".
func New(cfg *config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "onnx", "":
		return NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
	case "openai":
		return NewOpenAIEmbedder(cfg.OpenAIModel, cfg.Dimensions, cfg.CacheSize)
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, openai, mock)", cfg.Provider)
	}
}
