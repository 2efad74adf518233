// Package embeddings defines the Provider interface for text-embedding backends.
//
// Embeddings feed the memory index: every live memory document is embedded
// during reindexing, and every player intent is embedded at retrieval time.
// Similarity is computed as an inner product, so callers that build or query
// an index should wrap their provider with [Normalized] to obtain unit-length
// vectors.
package embeddings

import "context"

// Provider converts text into dense float32 vectors.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order. An empty
	// input returns (nil, nil) without a network call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the length of the vectors produced by this provider.
	Dimensions() int

	// ModelID returns the backend model identifier.
	ModelID() string
}
