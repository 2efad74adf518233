package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/foglamp/pkg/memory/index"
)

// VectorIndex implements index.Index on the memory_vectors table. Position
// and document id live in the same row as the vector, so the index and its
// mapping cannot drift apart.
//
// Obtain one via [Store.Index].
type VectorIndex struct {
	pool *pgxpool.Pool
	dims int
}

// Rebuild implements index.Index. The old rows are replaced inside a single
// transaction; concurrent searches see either the old or the new set.
func (v *VectorIndex) Rebuild(ctx context.Context, vectors [][]float32, ids []int64) error {
	dim, err := index.CheckBatch(vectors, ids)
	if err != nil {
		return err
	}
	if dim != 0 && dim != v.dims {
		return fmt.Errorf("vector index: vectors have dimension %d, column is vector(%d)", dim, v.dims)
	}

	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vector index: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM memory_vectors`); err != nil {
		return fmt.Errorf("vector index: clear: %w", err)
	}

	rows := make([][]any, len(vectors))
	for i, vec := range vectors {
		rows[i] = []any{i, ids[i], pgvector.NewVector(vec)}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"memory_vectors"},
		[]string{"position", "doc_id", "embedding"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("vector index: copy rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("vector index: commit: %w", err)
	}
	return nil
}

// Search implements index.Index. <#> is pgvector's negative inner product,
// so ascending order is descending similarity.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]index.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	const q = `
		SELECT position, doc_id, (embedding <#> $1) * -1 AS score
		FROM   memory_vectors
		ORDER  BY embedding <#> $1, position
		LIMIT  $2`

	rows, err := v.pool.Query(ctx, q, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("vector index: search: %w", err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (index.Hit, error) {
		var (
			h     index.Hit
			score float64
		)
		if err := row.Scan(&h.Position, &h.DocID, &score); err != nil {
			return index.Hit{}, err
		}
		h.Score = float32(score)
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector index: scan rows: %w", err)
	}
	return hits, nil
}

// Len implements index.Index.
func (v *VectorIndex) Len(ctx context.Context) (int, error) {
	var n int
	if err := v.pool.QueryRow(ctx, `SELECT count(*) FROM memory_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("vector index: count: %w", err)
	}
	return n, nil
}
