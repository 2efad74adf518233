package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/foglamp/pkg/memory"
	"github.com/MrWong99/foglamp/pkg/memory/index"
)

var (
	_ memory.Store = (*Store)(nil)
	_ index.Index  = (*VectorIndex)(nil)
)

// Store is the PostgreSQL-backed memory store. Its vector index is exposed
// separately via [Store.Index] because index.Index and memory.Store are
// consumed by different components.
//
// All operations are safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	index *VectorIndex
}

// NewStore connects to dsn, registers the pgvector types on every connection
// and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:  pool,
		index: &VectorIndex{pool: pool, dims: embeddingDimensions},
	}, nil
}

// Index returns the pgvector-backed index sharing this store's pool.
func (s *Store) Index() *VectorIndex { return s.index }

// Ping checks database connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// AddDocument implements memory.DocumentStore.
func (s *Store) AddDocument(ctx context.Context, doc memory.Document) (int64, error) {
	const q = `
		INSERT INTO memory_documents (kind, text, entity_id, importance, stale)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, q, string(doc.Kind), doc.Text, doc.EntityID, doc.Importance, doc.Stale).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: add document: %w", err)
	}
	return id, nil
}

const docColumns = `id, kind, text, entity_id, importance, stale, created_at`

func scanDocument(row pgx.Row) (memory.Document, error) {
	var (
		d    memory.Document
		kind string
	)
	if err := row.Scan(&d.ID, &kind, &d.Text, &d.EntityID, &d.Importance, &d.Stale, &d.CreatedAt); err != nil {
		return memory.Document{}, err
	}
	d.Kind = memory.Kind(kind)
	return d, nil
}

// GetDocument implements memory.DocumentStore.
func (s *Store) GetDocument(ctx context.Context, id int64) (memory.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+docColumns+` FROM memory_documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.Document{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Document{}, fmt.Errorf("postgres store: get document %d: %w", id, err)
	}
	return d, nil
}

// LiveDocuments implements memory.DocumentStore.
func (s *Store) LiveDocuments(ctx context.Context, ids []int64) (map[int64]memory.Document, error) {
	out := make(map[int64]memory.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+docColumns+` FROM memory_documents WHERE NOT stale AND id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres store: live documents: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Document, error) {
		return scanDocument(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: live documents: %w", err)
	}
	for _, d := range docs {
		out[d.ID] = d
	}
	return out, nil
}

// ListLive implements memory.DocumentStore.
func (s *Store) ListLive(ctx context.Context) ([]memory.Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+docColumns+` FROM memory_documents WHERE NOT stale ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list live: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Document, error) {
		return scanDocument(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list live: %w", err)
	}
	return docs, nil
}

// MarkStale implements memory.DocumentStore.
func (s *Store) MarkStale(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE memory_documents SET stale = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: mark stale %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// AppendEvent implements memory.EventLog.
func (s *Store) AppendEvent(ctx context.Context, ev memory.TurnEvent) (int64, error) {
	const q = `
		INSERT INTO transcript_events (player_id, turn, kind, payload, markdown)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, q, ev.PlayerID, ev.Turn, ev.Kind, string(ev.Payload), ev.Markdown).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: append event: %w", err)
	}
	return id, nil
}

const eventColumns = `id, player_id, turn, kind, payload::text, markdown, created_at`

func scanEvent(row pgx.Row) (memory.TurnEvent, error) {
	var (
		ev      memory.TurnEvent
		payload string
	)
	if err := row.Scan(&ev.ID, &ev.PlayerID, &ev.Turn, &ev.Kind, &payload, &ev.Markdown, &ev.CreatedAt); err != nil {
		return memory.TurnEvent{}, err
	}
	ev.Payload = []byte(payload)
	return ev, nil
}

// LatestEvent implements memory.EventLog.
func (s *Store) LatestEvent(ctx context.Context) (memory.TurnEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM transcript_events ORDER BY id DESC LIMIT 1`)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.TurnEvent{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.TurnEvent{}, fmt.Errorf("postgres store: latest event: %w", err)
	}
	return ev, nil
}

// EventsByPlayer implements memory.EventLog.
func (s *Store) EventsByPlayer(ctx context.Context, playerID string, limit int) ([]memory.TurnEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM transcript_events WHERE player_id = $1 ORDER BY turn DESC, id DESC`
	args := []any{playerID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: events by player: %w", err)
	}
	evs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TurnEvent, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: events by player: %w", err)
	}
	return evs, nil
}
