// Package memory defines the persistent memory used by the turn engine.
//
// Two kinds of records live here:
//
//   - Documents ([Document]) are retrievable facts: seed lore, lore rules,
//     promoted facts, entity cards and transcript excerpts. They are never
//     deleted, only marked stale. Stale documents are neither indexed nor
//     retrieved.
//   - Turn events ([TurnEvent]) are the immutable, append-only transcript of
//     completed turns. Only the turn persister writes them.
//
// Backends: [github.com/MrWong99/foglamp/pkg/memory/sqlite] (default),
// [github.com/MrWong99/foglamp/pkg/memory/postgres] and the in-memory
// [github.com/MrWong99/foglamp/pkg/memory/memstore].
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested document or event does not exist.
var ErrNotFound = errors.New("memory: not found")

// DocumentStore holds memory documents.
type DocumentStore interface {
	// AddDocument inserts doc and returns the assigned id. doc.ID and
	// doc.CreatedAt are ignored; CreatedAt is set by the store.
	AddDocument(ctx context.Context, doc Document) (int64, error)

	// GetDocument returns the document with the given id, stale or not.
	// Returns ErrNotFound when no such document exists.
	GetDocument(ctx context.Context, id int64) (Document, error)

	// LiveDocuments returns the non-stale documents among ids, keyed by id.
	// Unknown and stale ids are silently absent from the result.
	LiveDocuments(ctx context.Context, ids []int64) (map[int64]Document, error)

	// ListLive returns every non-stale document ordered by ascending id.
	ListLive(ctx context.Context) ([]Document, error)

	// MarkStale flags a document as stale. Marking an already stale document
	// is a no-op. Returns ErrNotFound for unknown ids.
	MarkStale(ctx context.Context, id int64) error
}

// EventLog is the append-only turn transcript.
type EventLog interface {
	// AppendEvent stores ev and returns its id. ev.ID and ev.CreatedAt are
	// assigned by the log.
	AppendEvent(ctx context.Context, ev TurnEvent) (int64, error)

	// LatestEvent returns the most recently appended event, or ErrNotFound
	// when the log is empty.
	LatestEvent(ctx context.Context) (TurnEvent, error)

	// EventsByPlayer returns a player's events, newest turn first. A limit
	// of zero or less returns all of them.
	EventsByPlayer(ctx context.Context, playerID string, limit int) ([]TurnEvent, error)
}

// Store combines both record kinds behind one connection.
type Store interface {
	DocumentStore
	EventLog

	// Close releases the underlying resources.
	Close() error
}
