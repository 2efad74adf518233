// Package sqlite implements memory.Store on a local SQLite file using the
// pure-Go modernc.org/sqlite driver. It is the default backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/foglamp/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS memory_documents (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT    NOT NULL,
	text       TEXT    NOT NULL,
	entity_id  TEXT    NOT NULL DEFAULT '',
	importance INTEGER NOT NULL DEFAULT 0,
	stale      INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_documents_live
	ON memory_documents (stale, id);

CREATE TABLE IF NOT EXISTS transcript_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	player_id  TEXT    NOT NULL,
	turn       INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	payload    TEXT    NOT NULL,
	markdown   TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcript_events_player
	ON transcript_events (player_id, turn DESC);
`

// Store is a SQLite-backed memory.Store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database named by dsn, a sqlite:// URL, and
// applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	path, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: parse dsn: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection would get its own empty database otherwise.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA journal_mode = WAL;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: setting pragma %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks that the database file is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements memory.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// AddDocument implements memory.DocumentStore.
func (s *Store) AddDocument(ctx context.Context, doc memory.Document) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_documents (kind, text, entity_id, importance, stale, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(doc.Kind), doc.Text, doc.EntityID, doc.Importance, doc.Stale, toMillis(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: add document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: add document: %w", err)
	}
	return id, nil
}

const docColumns = `id, kind, text, entity_id, importance, stale, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (memory.Document, error) {
	var (
		d       memory.Document
		kind    string
		created int64
	)
	if err := row.Scan(&d.ID, &kind, &d.Text, &d.EntityID, &d.Importance, &d.Stale, &created); err != nil {
		return memory.Document{}, err
	}
	d.Kind = memory.Kind(kind)
	d.CreatedAt = fromMillis(created)
	return d, nil
}

// GetDocument implements memory.DocumentStore.
func (s *Store) GetDocument(ctx context.Context, id int64) (memory.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+docColumns+` FROM memory_documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Document{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Document{}, fmt.Errorf("sqlite store: get document %d: %w", id, err)
	}
	return d, nil
}

// LiveDocuments implements memory.DocumentStore.
func (s *Store) LiveDocuments(ctx context.Context, ids []int64) (map[int64]memory.Document, error) {
	out := make(map[int64]memory.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT ` + docColumns + ` FROM memory_documents
	      WHERE stale = 0 AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: live documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: live documents: scan: %w", err)
		}
		out[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: live documents: %w", err)
	}
	return out, nil
}

// ListLive implements memory.DocumentStore.
func (s *Store) ListLive(ctx context.Context) ([]memory.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+docColumns+` FROM memory_documents WHERE stale = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list live: %w", err)
	}
	defer rows.Close()
	var out []memory.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: list live: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list live: %w", err)
	}
	return out, nil
}

// MarkStale implements memory.DocumentStore.
func (s *Store) MarkStale(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memory_documents SET stale = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite store: mark stale %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: mark stale %d: %w", id, err)
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// AppendEvent implements memory.EventLog.
func (s *Store) AppendEvent(ctx context.Context, ev memory.TurnEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_events (player_id, turn, kind, payload, markdown, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.PlayerID, ev.Turn, ev.Kind, string(ev.Payload), ev.Markdown, toMillis(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: append event: %w", err)
	}
	return id, nil
}

const eventColumns = `id, player_id, turn, kind, payload, markdown, created_at`

func scanEvent(row scanner) (memory.TurnEvent, error) {
	var (
		ev      memory.TurnEvent
		payload string
		created int64
	)
	if err := row.Scan(&ev.ID, &ev.PlayerID, &ev.Turn, &ev.Kind, &payload, &ev.Markdown, &created); err != nil {
		return memory.TurnEvent{}, err
	}
	ev.Payload = []byte(payload)
	ev.CreatedAt = fromMillis(created)
	return ev, nil
}

// LatestEvent implements memory.EventLog.
func (s *Store) LatestEvent(ctx context.Context) (memory.TurnEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM transcript_events ORDER BY id DESC LIMIT 1`)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.TurnEvent{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.TurnEvent{}, fmt.Errorf("sqlite store: latest event: %w", err)
	}
	return ev, nil
}

// EventsByPlayer implements memory.EventLog.
func (s *Store) EventsByPlayer(ctx context.Context, playerID string, limit int) ([]memory.TurnEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM transcript_events
		 WHERE player_id = ? ORDER BY turn DESC, id DESC LIMIT ?`,
		playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: events by player: %w", err)
	}
	defer rows.Close()
	var out []memory.TurnEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: events by player: scan: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: events by player: %w", err)
	}
	return out, nil
}
