// Package memstore is an in-memory implementation of memory.Store for tests
// and dry runs. Nothing survives process exit.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/foglamp/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store keeps documents and events in slices guarded by a mutex.
type Store struct {
	mu     sync.RWMutex
	docs   []memory.Document
	events []memory.TurnEvent
	now    func() time.Time

	// AppendErr, if non-nil, is returned by AppendEvent without storing.
	AppendErr error
}

// New returns an empty Store.
func New() *Store {
	return &Store{now: time.Now}
}

// AddDocument implements memory.DocumentStore.
func (s *Store) AddDocument(ctx context.Context, doc memory.Document) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.ID = int64(len(s.docs) + 1)
	doc.CreatedAt = s.now().UTC()
	s.docs = append(s.docs, doc)
	return doc.ID, nil
}

// GetDocument implements memory.DocumentStore.
func (s *Store) GetDocument(ctx context.Context, id int64) (memory.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || id > int64(len(s.docs)) {
		return memory.Document{}, memory.ErrNotFound
	}
	return s.docs[id-1], nil
}

// LiveDocuments implements memory.DocumentStore.
func (s *Store) LiveDocuments(ctx context.Context, ids []int64) (map[int64]memory.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]memory.Document, len(ids))
	for _, id := range ids {
		if id < 1 || id > int64(len(s.docs)) {
			continue
		}
		if d := s.docs[id-1]; !d.Stale {
			out[id] = d
		}
	}
	return out, nil
}

// ListLive implements memory.DocumentStore.
func (s *Store) ListLive(ctx context.Context) ([]memory.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []memory.Document
	for _, d := range s.docs {
		if !d.Stale {
			out = append(out, d)
		}
	}
	return out, nil
}

// MarkStale implements memory.DocumentStore.
func (s *Store) MarkStale(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.docs)) {
		return memory.ErrNotFound
	}
	s.docs[id-1].Stale = true
	return nil
}

// AppendEvent implements memory.EventLog.
func (s *Store) AppendEvent(ctx context.Context, ev memory.TurnEvent) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return 0, s.AppendErr
	}
	ev.ID = int64(len(s.events) + 1)
	ev.CreatedAt = s.now().UTC()
	ev.Payload = slices.Clone(ev.Payload)
	s.events = append(s.events, ev)
	return ev.ID, nil
}

// LatestEvent implements memory.EventLog.
func (s *Store) LatestEvent(ctx context.Context) (memory.TurnEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return memory.TurnEvent{}, memory.ErrNotFound
	}
	return s.events[len(s.events)-1], nil
}

// EventsByPlayer implements memory.EventLog.
func (s *Store) EventsByPlayer(ctx context.Context, playerID string, limit int) ([]memory.TurnEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []memory.TurnEvent
	for _, ev := range s.events {
		if ev.PlayerID == playerID {
			out = append(out, ev)
		}
	}
	slices.SortStableFunc(out, func(a, b memory.TurnEvent) int {
		if a.Turn != b.Turn {
			return b.Turn - a.Turn
		}
		return int(b.ID - a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a copy of every stored event in append order.
func (s *Store) Events() []memory.TurnEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Close implements memory.Store.
func (s *Store) Close() error { return nil }
