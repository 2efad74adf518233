package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/foglamp/pkg/memory"
)

// Fact is a piece of knowledge to add to memory.
type Fact struct {
	Text       string      `json:"text"`
	Kind       memory.Kind `json:"kind,omitempty"`
	EntityID   string      `json:"entity_id,omitempty"`
	Importance int         `json:"importance,omitempty"`
}

// Curator adds and retires memory documents. New documents become
// retrievable after the next reindex; retired ones stop being retrieved at
// once.
type Curator struct {
	docs memory.DocumentStore
}

// NewCurator returns a Curator writing to docs.
func NewCurator(docs memory.DocumentStore) (*Curator, error) {
	if docs == nil {
		return nil, errors.New("recall: document store must not be nil")
	}
	return &Curator{docs: docs}, nil
}

// Promote stores f as a live document and returns it. The kind defaults to
// known_fact.
func (c *Curator) Promote(ctx context.Context, f Fact) (memory.Document, error) {
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return memory.Document{}, errors.New("recall: promote: fact text must not be empty")
	}
	kind := f.Kind
	if kind == "" {
		kind = memory.KindKnownFact
	}
	if _, err := memory.ParseKind(string(kind)); err != nil {
		return memory.Document{}, fmt.Errorf("recall: promote: %w", err)
	}

	id, err := c.docs.AddDocument(ctx, memory.Document{
		Kind:       kind,
		Text:       text,
		EntityID:   f.EntityID,
		Importance: f.Importance,
	})
	if err != nil {
		return memory.Document{}, fmt.Errorf("recall: promote: %w", err)
	}
	doc, err := c.docs.GetDocument(ctx, id)
	if err != nil {
		return memory.Document{}, fmt.Errorf("recall: promote: reload %d: %w", id, err)
	}
	slog.InfoContext(ctx, "fact promoted", "doc_id", id, "kind", kind)
	return doc, nil
}

// MarkStale retires the document with the given id. It returns an error
// wrapping [memory.ErrNotFound] for unknown ids.
func (c *Curator) MarkStale(ctx context.Context, id int64) error {
	if err := c.docs.MarkStale(ctx, id); err != nil {
		return fmt.Errorf("recall: mark stale %d: %w", id, err)
	}
	slog.InfoContext(ctx, "document marked stale", "doc_id", id)
	return nil
}
