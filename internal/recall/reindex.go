package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/foglamp/internal/observe"
	"github.com/MrWong99/foglamp/pkg/memory"
	"github.com/MrWong99/foglamp/pkg/memory/index"
	"github.com/MrWong99/foglamp/pkg/provider/embeddings"
)

const (
	// DefaultBatchSize is the number of documents embedded per request.
	DefaultBatchSize = 64

	// DefaultConcurrency is the number of embedding requests in flight.
	DefaultConcurrency = 4
)

// Reindexer rebuilds the similarity index from the live documents.
type Reindexer struct {
	embedder    embeddings.Provider
	index       index.Index
	docs        memory.DocumentStore
	batchSize   int
	concurrency int
	metrics     *observe.Metrics
}

// ReindexOption configures a [Reindexer].
type ReindexOption func(*Reindexer)

// WithBatchSize sets the number of texts per embedding request.
func WithBatchSize(n int) ReindexOption {
	return func(r *Reindexer) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of concurrent embedding requests.
func WithConcurrency(n int) ReindexOption {
	return func(r *Reindexer) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithReindexMetrics records rebuild latency on m.
func WithReindexMetrics(m *observe.Metrics) ReindexOption {
	return func(r *Reindexer) { r.metrics = m }
}

// NewReindexer wires a Reindexer. The embedder is wrapped with
// [embeddings.Normalized].
func NewReindexer(e embeddings.Provider, ix index.Index, docs memory.DocumentStore, opts ...ReindexOption) (*Reindexer, error) {
	if e == nil {
		return nil, errors.New("recall: embeddings provider must not be nil")
	}
	if ix == nil {
		return nil, errors.New("recall: index must not be nil")
	}
	if docs == nil {
		return nil, errors.New("recall: document store must not be nil")
	}
	r := &Reindexer{
		embedder:    embeddings.Normalized(e),
		index:       ix,
		docs:        docs,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// Reindex embeds every live document, in id order, and replaces the index
// with the result. It returns the number of indexed documents. On error the
// previous index stays in place.
func (r *Reindexer) Reindex(ctx context.Context) (int, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "recall.reindex")
	defer span.End()

	docs, err := r.docs.ListLive(ctx)
	if err != nil {
		return 0, fmt.Errorf("recall: list live documents: %w", err)
	}

	texts := make([]string, len(docs))
	ids := make([]int64, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
		ids[i] = d.ID
	}

	vectors, err := r.embedAll(ctx, texts)
	if err != nil {
		return 0, err
	}
	if err := r.index.Rebuild(ctx, vectors, ids); err != nil {
		return 0, fmt.Errorf("recall: rebuild index: %w", err)
	}

	r.metrics.ReindexDuration.Record(ctx, time.Since(start).Seconds())
	slog.InfoContext(ctx, "memory index rebuilt",
		"documents", len(docs),
		"model", r.embedder.ModelID(),
		"duration", time.Since(start),
	)
	return len(docs), nil
}

// embedAll embeds texts in batches and returns the vectors in input order.
func (r *Reindexer) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for lo := 0; lo < len(texts); lo += r.batchSize {
		hi := min(lo+r.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := r.embedder.EmbedBatch(gctx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("recall: embed documents %d-%d: %w", lo, hi-1, err)
			}
			if len(vecs) != hi-lo {
				return fmt.Errorf("recall: embed documents %d-%d: got %d vectors, want %d", lo, hi-1, len(vecs), hi-lo)
			}
			copy(vectors[lo:hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
