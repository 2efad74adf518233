package embeddings_test

import (
	"context"
	"math"
	"testing"

	"github.com/MrWong99/foglamp/pkg/provider/embeddings"
	"github.com/MrWong99/foglamp/pkg/provider/embeddings/mock"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	v := embeddings.Normalize([]float32{3, 4})
	if math.Abs(norm(v)-1) > 1e-6 {
		t.Errorf("norm = %v, want 1", norm(v))
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("v = %v, want [0.6 0.8]", v)
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	t.Parallel()
	v := embeddings.Normalize([]float32{0, 0, 0})
	for i, x := range v {
		if x != 0 {
			t.Errorf("v[%d] = %v, want 0", i, x)
		}
	}
}

func TestNormalized_WrapsEmbedAndBatch(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{
		EmbedResult:      []float32{0, 2},
		EmbedBatchResult: [][]float32{{1, 1}, {0, 5}},
	}
	n := embeddings.Normalized(p)

	v, err := n.Embed(context.Background(), "q")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if v[1] != 1 {
		t.Errorf("Embed = %v, want [0 1]", v)
	}

	vecs, err := n.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range vecs {
		if math.Abs(norm(v)-1) > 1e-6 {
			t.Errorf("vecs[%d] norm = %v, want 1", i, norm(v))
		}
	}
}

func TestNormalized_Idempotent(t *testing.T) {
	t.Parallel()
	n := embeddings.Normalized(&mock.Provider{})
	if embeddings.Normalized(n) != n {
		t.Error("double wrapping should return the same provider")
	}
}
