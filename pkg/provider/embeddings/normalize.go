package embeddings

import (
	"context"
	"math"
)

// Normalize scales v in place to unit L2 length and returns it. A zero vector
// is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) * inv)
	}
	return v
}

// normalized decorates a Provider so every returned vector has unit length.
type normalized struct {
	Provider
}

// Normalized wraps p so that Embed and EmbedBatch return L2-normalised vectors.
// Wrapping an already wrapped provider is a no-op.
func Normalized(p Provider) Provider {
	if _, ok := p.(normalized); ok {
		return p
	}
	return normalized{Provider: p}
}

func (n normalized) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := n.Provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

func (n normalized) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := n.Provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, v := range vecs {
		Normalize(v)
	}
	return vecs, nil
}
