// Package index defines the vector index that backs memory retrieval.
//
// An index stores one vector per indexed memory document together with a
// mapping from vector position to document id. Both halves are replaced
// together by [Index.Rebuild]; readers never observe a vector set paired with
// a mapping from a different build.
//
// Similarity is the inner product, which equals cosine similarity for the
// unit-length vectors produced by embeddings.Normalized.
package index

import (
	"context"
	"fmt"
)

// Hit is one search result.
type Hit struct {
	// Score is the inner-product similarity; higher is more similar.
	Score float32
	// Position is the row of the vector inside the index.
	Position int
	// DocID is the memory document stored at Position.
	DocID int64
}

// Index is a rebuild-in-batch similarity index.
//
// Implementations must be safe for concurrent use. Searches that run during a
// rebuild see either the old or the new generation, never a mix.
type Index interface {
	// Rebuild replaces the index contents. ids[i] is the document id of
	// vectors[i]. All vectors must share one dimension.
	Rebuild(ctx context.Context, vectors [][]float32, ids []int64) error

	// Search returns at most k hits ordered by descending Score. An index
	// that was never built yields no hits and no error. Positions without a
	// mapping entry are dropped.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Len reports the number of indexed vectors, 0 when no index exists.
	Len(ctx context.Context) (int, error)
}

// CheckBatch validates the arguments of a Rebuild call and returns the shared
// vector dimension (0 for an empty batch).
func CheckBatch(vectors [][]float32, ids []int64) (int, error) {
	if len(vectors) != len(ids) {
		return 0, fmt.Errorf("index: %d vectors but %d ids", len(vectors), len(ids))
	}
	if len(vectors) == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, fmt.Errorf("index: vector 0 is empty")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("index: vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return dim, nil
}

// Dot returns the inner product of a and b over their common length.
func Dot(a, b []float32) float32 {
	n := min(len(a), len(b))
	var s float32
	for i := range n {
		s += a[i] * b[i]
	}
	return s
}
