// Package recall surfaces prior facts for the turn pipeline and keeps the
// similarity index in step with the document store.
//
// Three pieces live here:
//
//   - [Retriever] answers "what do we already know about this intent?" by
//     embedding the intent, searching the index and loading the live
//     documents behind the hits.
//   - [Reindexer] rebuilds the index from every live document.
//   - [Curator] promotes new facts and retires stale ones.
//
// Stale documents never reach a prompt: they are skipped at load time even
// when the index still holds their vectors from an earlier build.
package recall

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/foglamp/internal/observe"
	"github.com/MrWong99/foglamp/pkg/memory"
	"github.com/MrWong99/foglamp/pkg/memory/index"
	"github.com/MrWong99/foglamp/pkg/provider/embeddings"
)

// DefaultTopK is the number of index hits considered per retrieval.
const DefaultTopK = 3

// Match is one retrieved document with its similarity score.
type Match struct {
	Score    float32         `json:"score"`
	Position int             `json:"position"`
	Document memory.Document `json:"document"`
}

// Retriever looks up the live documents most similar to a query.
// It is safe for concurrent use.
type Retriever struct {
	embedder embeddings.Provider
	index    index.Index
	docs     memory.DocumentStore
	topK     int
	metrics  *observe.Metrics
}

// RetrieverOption configures a [Retriever].
type RetrieverOption func(*Retriever)

// WithTopK sets how many index hits are considered. Values below 1 are
// ignored.
func WithTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithRetrieverMetrics records retrieval hit counts on m.
func WithRetrieverMetrics(m *observe.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

// NewRetriever wires a Retriever. The embedder is wrapped with
// [embeddings.Normalized] so query vectors match the indexed ones.
func NewRetriever(e embeddings.Provider, ix index.Index, docs memory.DocumentStore, opts ...RetrieverOption) (*Retriever, error) {
	if e == nil {
		return nil, errors.New("recall: embeddings provider must not be nil")
	}
	if ix == nil {
		return nil, errors.New("recall: index must not be nil")
	}
	if docs == nil {
		return nil, errors.New("recall: document store must not be nil")
	}
	r := &Retriever{
		embedder: embeddings.Normalized(e),
		index:    ix,
		docs:     docs,
		topK:     DefaultTopK,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// TopK returns the configured hit count.
func (r *Retriever) TopK() int { return r.topK }

// Search returns the live documents most similar to query, best first.
//
// An empty or unreadable index yields no matches and no error; the embedder
// is not called in that case. Embedding failures are returned.
func (r *Retriever) Search(ctx context.Context, query string) ([]Match, error) {
	log := observe.Logger(ctx)

	n, err := r.index.Len(ctx)
	if err != nil {
		log.Warn("recall: index unavailable, continuing without facts", "err", err)
		return nil, nil
	}
	if n == 0 {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recall: embed query: %w", err)
	}

	hits, err := r.index.Search(ctx, vec, r.topK)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("recall: search: %w", ctxErr)
		}
		log.Warn("recall: index search failed, continuing without facts", "err", err)
		return nil, nil
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	live, err := r.docs.LiveDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("recall: load documents: %w", err)
	}

	matches := make([]Match, 0, len(live))
	seen := make(map[int64]bool, len(hits))
	for _, h := range hits {
		doc, ok := live[h.DocID]
		if !ok || seen[h.DocID] {
			continue
		}
		seen[h.DocID] = true
		matches = append(matches, Match{Score: h.Score, Position: h.Position, Document: doc})
	}
	if dropped := len(hits) - len(matches); dropped > 0 {
		log.Debug("recall: skipped stale or missing documents", "count", dropped)
	}
	return matches, nil
}

// Retrieve returns the text of the matching documents joined by newlines,
// or "" when nothing live matched.
func (r *Retriever) Retrieve(ctx context.Context, query string) (string, error) {
	matches, err := r.Search(ctx, query)
	if err != nil {
		return "", err
	}
	r.metrics.RetrievalHits.Record(ctx, int64(len(matches)))
	if len(matches) == 0 {
		return "", nil
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Document.Text
	}
	return strings.Join(texts, "\n"), nil
}
