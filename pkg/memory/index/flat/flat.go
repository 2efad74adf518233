// Package flat implements index.Index as an exhaustive inner-product scan over
// vectors stored in a directory of immutable generations.
//
// Layout under the root directory:
//
//	CURRENT                        name of the live generation
//	generations/<uuid>/index.bin   header + little-endian float32 rows
//	generations/<uuid>/mapping.json {"<position>": <doc id>, ...}
//
// A rebuild writes and fsyncs a new generation, then publishes it by renaming
// CURRENT.tmp over CURRENT. The live generation and its predecessor are kept;
// older ones are pruned.
package flat

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/foglamp/pkg/memory/index"
)

const (
	currentFile = "CURRENT"
	generations = "generations"
)

var _ index.Index = (*Index)(nil)

// Index is a flat-file vector index. It is safe for concurrent use; rebuilds
// are serialised and searches proceed against the last published generation.
type Index struct {
	dir string

	buildMu sync.Mutex

	loads   singleflight.Group
	cacheMu sync.RWMutex
	cached  *generation
}

// New returns an Index rooted at dir. The directory is created on the first
// Rebuild; a missing directory reads as an empty index.
func New(dir string) *Index {
	return &Index{dir: dir}
}

// Dir returns the root directory.
func (ix *Index) Dir() string { return ix.dir }

// Rebuild implements index.Index.
func (ix *Index) Rebuild(ctx context.Context, vectors [][]float32, ids []int64) error {
	dim, err := index.CheckBatch(vectors, ids)
	if err != nil {
		return err
	}

	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	prev, err := ix.current()
	if err != nil {
		return fmt.Errorf("flat index: read %s: %w", currentFile, err)
	}

	name := uuid.NewString()
	genDir := filepath.Join(ix.dir, generations, name)
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return fmt.Errorf("flat index: create generation: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(genDir) }

	if err := writeVectors(filepath.Join(genDir, indexFile), dim, vectors); err != nil {
		cleanup()
		return fmt.Errorf("flat index: write vectors: %w", err)
	}
	if err := writeMapping(filepath.Join(genDir, mappingFile), ids); err != nil {
		cleanup()
		return fmt.Errorf("flat index: write mapping: %w", err)
	}
	if err := syncDir(genDir); err != nil {
		cleanup()
		return fmt.Errorf("flat index: sync generation: %w", err)
	}

	if err := ctx.Err(); err != nil {
		cleanup()
		return err
	}

	tmp := filepath.Join(ix.dir, currentFile+".tmp")
	if err := writeFileSync(tmp, []byte(name+"\n")); err != nil {
		cleanup()
		return fmt.Errorf("flat index: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filepath.Join(ix.dir, currentFile)); err != nil {
		_ = os.Remove(tmp)
		cleanup()
		return fmt.Errorf("flat index: publish generation: %w", err)
	}
	if err := syncDir(ix.dir); err != nil {
		slog.Warn("flat index: sync root directory", "dir", ix.dir, "err", err)
	}

	g := &generation{name: name, dim: dim, count: len(vectors), mapping: make(map[int]int64, len(ids))}
	g.data = make([]float32, 0, dim*len(vectors))
	for i, v := range vectors {
		g.data = append(g.data, v...)
		g.mapping[i] = ids[i]
	}
	ix.cacheMu.Lock()
	ix.cached = g
	ix.cacheMu.Unlock()

	ix.prune(name, prev)
	slog.Info("flat index: published generation", "generation", name, "vectors", len(vectors), "dim", dim)
	return nil
}

// Search implements index.Index.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]index.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	g, err := ix.load(ctx)
	if err != nil || g == nil || g.count == 0 {
		return nil, err
	}
	if len(query) != g.dim {
		return nil, fmt.Errorf("flat index: query dimension %d, index dimension %d", len(query), g.dim)
	}

	h := make(hitHeap, 0, k+1)
	for pos := range g.count {
		if pos%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hit := index.Hit{Score: index.Dot(query, g.row(pos)), Position: pos}
		if h.Len() < k {
			heap.Push(&h, hit)
			continue
		}
		if better(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	hits := make([]index.Hit, h.Len())
	for i := len(hits) - 1; i >= 0; i-- {
		hits[i] = heap.Pop(&h).(index.Hit)
	}

	out := hits[:0]
	dropped := 0
	for _, hit := range hits {
		id, ok := g.mapping[hit.Position]
		if !ok {
			dropped++
			continue
		}
		hit.DocID = id
		out = append(out, hit)
	}
	if dropped > 0 {
		slog.Warn("flat index: dropped hits without mapping entry",
			"generation", g.name, "dropped", dropped)
	}
	return out, nil
}

// better reports whether a ranks above b.
func better(a, b index.Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Position < b.Position
}

// Len implements index.Index.
func (ix *Index) Len(ctx context.Context) (int, error) {
	g, err := ix.load(ctx)
	if err != nil || g == nil {
		return 0, err
	}
	return g.count, nil
}

// current returns the published generation name, or "" when none exists.
func (ix *Index) current() (string, error) {
	b, err := os.ReadFile(filepath.Join(ix.dir, currentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// load returns the live generation, reading it from disk at most once per
// generation. A nil generation means no index has been published.
func (ix *Index) load(ctx context.Context) (*generation, error) {
	for attempt := 0; ; attempt++ {
		name, err := ix.current()
		if err != nil {
			return nil, fmt.Errorf("flat index: read %s: %w", currentFile, err)
		}
		if name == "" {
			return nil, nil
		}

		ix.cacheMu.RLock()
		g := ix.cached
		ix.cacheMu.RUnlock()
		if g != nil && g.name == name {
			return g, nil
		}

		v, err, _ := ix.loads.Do(name, func() (any, error) {
			return ix.readGeneration(name)
		})
		// A concurrent rebuild may prune the generation between resolving
		// CURRENT and reading it; resolve once more.
		if errors.Is(err, fs.ErrNotExist) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("flat index: load generation %s: %w", name, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g = v.(*generation)
		// Only cache what is still live; a rebuild may have published since.
		if cur, err := ix.current(); err == nil && cur == g.name {
			ix.cacheMu.Lock()
			ix.cached = g
			ix.cacheMu.Unlock()
		}
		return g, nil
	}
}

func (ix *Index) readGeneration(name string) (*generation, error) {
	genDir := filepath.Join(ix.dir, generations, name)
	dim, count, data, err := readVectors(filepath.Join(genDir, indexFile))
	if err != nil {
		return nil, err
	}
	mapping, err := readMapping(filepath.Join(genDir, mappingFile))
	if err != nil {
		return nil, err
	}
	if len(mapping) < count {
		slog.Warn("flat index: mapping has fewer entries than vectors",
			"generation", name, "vectors", count, "mapped", len(mapping))
	}
	return &generation{name: name, dim: dim, count: count, data: data, mapping: mapping}, nil
}

// prune removes every generation except keep and prev.
func (ix *Index) prune(keep, prev string) {
	root := filepath.Join(ix.dir, generations)
	entries, err := os.ReadDir(root)
	if err != nil {
		slog.Warn("flat index: list generations", "err", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep || e.Name() == prev {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			slog.Warn("flat index: prune generation", "generation", e.Name(), "err", err)
		}
	}
}
