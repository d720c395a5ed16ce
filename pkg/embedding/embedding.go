// Package embedding provides text embedding providers for the vector
// retrieval pipeline. All providers return unit-length vectors in input
// order; the dimension is fixed per provider and known before the
// first call, so collections can be created upfront.
package embedding

import (
	"context"
	"math"
)

// Provider defines the interface for text embedding services.
type Provider interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple inputs.
	// Returns one vector per input, in input order. A batch either
	// succeeds completely or fails.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the vectors.
	Dimension() int

	// ModelName returns the embedding model identifier.
	ModelName() string
}

// QueryEmbedder is implemented by providers whose models embed search
// queries differently from documents (task prefixes).
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedQuery embeds text for use as a search query, applying the
// provider's query task hint when it has one. Providers without
// task-specific embeddings fall back to Embed.
func EmbedQuery(ctx context.Context, p Provider, text string) ([]float32, error) {
	if qe, ok := p.(QueryEmbedder); ok {
		return qe.EmbedQuery(ctx, text)
	}
	return p.Embed(ctx, text)
}

// ModelConfig holds per-model limits used by the chunker and the
// vector index.
type ModelConfig struct {
	Dimension      int // Embedding dimension
	ContextLength  int // Max tokens the model can process
	MaxChunkTokens int // Safe chunk size in tokens
}

// KnownModels maps embedding model names to their configurations.
// Conservative limits avoid context-length errors at the provider.
var KnownModels = map[string]ModelConfig{
	"text-embedding-3-small": {
		Dimension:      1536,
		ContextLength:  8191,
		MaxChunkTokens: 512,
	},
	"text-embedding-3-large": {
		Dimension:      3072,
		ContextLength:  8191,
		MaxChunkTokens: 512,
	},
	"nomic-embed-text": {
		Dimension:      768,
		ContextLength:  8192,
		MaxChunkTokens: 512,
	},
	"mxbai-embed-large": {
		Dimension:      1024,
		ContextLength:  512,
		MaxChunkTokens: 300,
	},
	"jina-embeddings-v2-base-de": {
		Dimension:      768,
		ContextLength:  8192,
		MaxChunkTokens: 512,
	},
	"amazon.titan-embed-text-v2:0": {
		Dimension:      1024,
		ContextLength:  8192,
		MaxChunkTokens: 512,
	},
}

// GetModelConfig returns the configuration for a model, or defaults
// for unknown models.
func GetModelConfig(modelName string) ModelConfig {
	if cfg, ok := KnownModels[modelName]; ok {
		return cfg
	}
	return ModelConfig{
		Dimension:      768,
		ContextLength:  2048,
		MaxChunkTokens: 256,
	}
}

// Normalize scales a vector to unit length in place and returns it.
// The zero vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
