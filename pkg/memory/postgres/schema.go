// Package postgres implements memory.Store and index.Index on PostgreSQL with
// the pgvector extension.
//
// Documents, transcript events and index vectors share one [pgxpool.Pool]:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	id, _ := store.AddDocument(ctx, memory.Document{Kind: memory.KindKnownFact, Text: "…"})
//	_ = store.Index().Rebuild(ctx, vectors, ids)
//
// [Migrate] installs the extension and tables idempotently on every start.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlDocuments = `
CREATE TABLE IF NOT EXISTS memory_documents (
    id          BIGSERIAL    PRIMARY KEY,
    kind        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    entity_id   TEXT         NOT NULL DEFAULT '',
    importance  INTEGER      NOT NULL DEFAULT 0,
    stale       BOOLEAN      NOT NULL DEFAULT false,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_documents_live
    ON memory_documents (id) WHERE NOT stale;
`

const ddlEvents = `
CREATE TABLE IF NOT EXISTS transcript_events (
    id          BIGSERIAL    PRIMARY KEY,
    player_id   TEXT         NOT NULL,
    turn        INTEGER      NOT NULL,
    kind        TEXT         NOT NULL,
    payload     JSONB        NOT NULL,
    markdown    TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_events_player
    ON transcript_events (player_id, turn DESC);
`

// ddlVectors returns the index DDL with the embedding dimension baked into
// the column type.
func ddlVectors(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_vectors (
    position    INTEGER      PRIMARY KEY,
    doc_id      BIGINT       NOT NULL,
    embedding   vector(%d)   NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_vectors_embedding
    ON memory_vectors USING hnsw (embedding vector_ip_ops);
`, embeddingDimensions)
}

// Migrate creates the extension, tables and indexes when missing.
//
// embeddingDimensions must match the embedding model (e.g. 1536 for
// text-embedding-3-small, 768 for nomic-embed-text). Changing it after the
// first migration requires dropping memory_vectors.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{ddlDocuments, ddlEvents, ddlVectors(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
