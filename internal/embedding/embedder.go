// Package embedding turns text into vectors. Providers: ONNX Runtime (local model),
// Ollama (HTTP) and a deterministic mock; NewCached adds an LRU cache in front of any of them.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations are safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
