package flat

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/foglamp/pkg/memory/index"
)

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestSearch_NoIndex(t *testing.T) {
	t.Parallel()
	ix := New(filepath.Join(t.TempDir(), "missing"))
	hits, err := ix.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %v, want none", hits)
	}
	n, err := ix.Len(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Len = %d, %v; want 0, nil", n, err)
	}
}

func TestRebuildAndSearch_SelfSimilarity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ix := New(t.TempDir())

	const dim = 4
	vectors := [][]float32{unit(dim, 0), unit(dim, 1), unit(dim, 2), unit(dim, 3)}
	ids := []int64{10, 11, 12, 13}
	if err := ix.Rebuild(ctx, vectors, ids); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	for i, v := range vectors {
		hits, err := ix.Search(ctx, v, 1)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(hits) != 1 || hits[0].DocID != ids[i] || hits[0].Position != i {
			t.Errorf("Search(vector %d) = %+v, want doc %d", i, hits, ids[i])
		}
		if hits[0].Score < 0.999 {
			t.Errorf("self score = %v, want ~1", hits[0].Score)
		}
	}
}

func TestSearch_OrderAndK(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ix := New(t.TempDir())
	vectors := [][]float32{{0.1, 0}, {0.9, 0}, {0.5, 0}, {0.7, 0}}
	if err := ix.Rebuild(ctx, vectors, []int64{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}

	hits, err := ix.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	var got []int64
	for _, h := range hits {
		got = append(got, h.DocID)
	}
	if len(got) != 3 || got[0] != 2 || got[1] != 4 || got[2] != 3 {
		t.Errorf("doc order = %v, want [2 4 3]", got)
	}

	hits, _ = ix.Search(ctx, []float32{1, 0}, 10)
	if len(hits) != 4 {
		t.Errorf("k larger than index: got %d hits, want 4", len(hits))
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	t.Parallel()
	ix := New(t.TempDir())
	if err := ix.Rebuild(context.Background(), [][]float32{{1, 0}}, []int64{1}); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Search(context.Background(), []float32{1, 0, 0}, 1); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestSearch_DropsUnmappedPositions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	ix := New(dir)
	if err := ix.Rebuild(ctx, [][]float32{{1, 0}, {0.9, 0.1}}, []int64{7, 8}); err != nil {
		t.Fatal(err)
	}

	name, _ := ix.current()
	mapping, _ := json.Marshal(map[string]int64{"1": 8})
	if err := os.WriteFile(filepath.Join(dir, generations, name, mappingFile), mapping, 0o644); err != nil {
		t.Fatal(err)
	}

	// A fresh reader loads the damaged mapping from disk.
	fresh := New(dir)
	hits, err := fresh.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocID != 8 {
		t.Errorf("hits = %+v, want only doc 8", hits)
	}
}

func TestRebuild_PrunesOldGenerations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	ix := New(dir)
	for i := range 4 {
		if err := ix.Rebuild(ctx, [][]float32{{float32(i + 1), 0}}, []int64{int64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(dir, generations))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("generations on disk = %d, want 2", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, currentFile+".tmp")); !os.IsNotExist(err) {
		t.Error("CURRENT.tmp should not survive a rebuild")
	}

	hits, _ := New(dir).Search(ctx, []float32{1, 0}, 1)
	if len(hits) != 1 || hits[0].DocID != 3 {
		t.Errorf("latest generation not served: %+v", hits)
	}
}

func TestRebuild_Empty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ix := New(t.TempDir())
	if err := ix.Rebuild(ctx, [][]float32{{1, 0}}, []int64{1}); err != nil {
		t.Fatal(err)
	}
	if err := ix.Rebuild(ctx, nil, nil); err != nil {
		t.Fatalf("Rebuild(empty): %v", err)
	}
	n, err := ix.Len(ctx)
	if err != nil || n != 0 {
		t.Errorf("Len = %d, %v; want 0", n, err)
	}
	hits, err := ix.Search(ctx, []float32{1, 0}, 3)
	if err != nil || len(hits) != 0 {
		t.Errorf("Search on empty index = %v, %v", hits, err)
	}
}

func TestRebuild_RejectsBadBatch(t *testing.T) {
	t.Parallel()
	ix := New(t.TempDir())
	if err := ix.Rebuild(context.Background(), [][]float32{{1}}, nil); err == nil {
		t.Error("expected error for length mismatch")
	}
}

func TestReadVectors_Corrupt(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), indexFile)
	if err := os.WriteFile(path, []byte("NOPE0000000000000000"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := readVectors(path); err == nil || !strings.Contains(err.Error(), "bad magic") {
		t.Errorf("err = %v, want bad magic", err)
	}
}

func TestReadVectors_HeaderDisagreesWithSize(t *testing.T) {
	t.Parallel()
	rows := func(n int) []byte { return make([]byte, 4*n) }
	tests := []struct {
		name       string
		dim, count uint32
		payload    []byte
	}{
		{"huge claim on a tiny file", 1 << 20, 1 << 20, rows(2)},
		{"overflowing claim", 1<<32 - 1, 1<<32 - 1, rows(1)},
		{"truncated rows", 2, 3, rows(5)},
		{"trailing bytes", 2, 1, rows(3)},
		{"partial float", 1, 1, []byte{0, 0, 0}},
		{"zero dim with rows", 0, 4, rows(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			h := header{Magic: magic, Version: formatVersion, Dim: tt.dim, Count: tt.count}
			if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
				t.Fatal(err)
			}
			buf.Write(tt.payload)
			path := filepath.Join(t.TempDir(), indexFile)
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, _, _, err := readVectors(path); !errors.Is(err, ErrCorrupt) {
				t.Errorf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestReadVectors_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), indexFile)
	if err := writeVectors(path, 2, [][]float32{{1, 2}, {3, 4}, {5, 6}}); err != nil {
		t.Fatal(err)
	}
	dim, count, data, err := readVectors(path)
	if err != nil {
		t.Fatalf("readVectors: %v", err)
	}
	if dim != 2 || count != 3 || len(data) != 6 || data[5] != 6 {
		t.Errorf("got dim=%d count=%d data=%v", dim, count, data)
	}

	empty := filepath.Join(t.TempDir(), indexFile)
	if err := writeVectors(empty, 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, count, _, err := readVectors(empty); err != nil || count != 0 {
		t.Errorf("empty file: count=%d err=%v", count, err)
	}
}

func TestConcurrentSearchDuringRebuild(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ix := New(t.TempDir())
	if err := ix.Rebuild(ctx, [][]float32{{1, 0}, {0, 1}}, []int64{1, 2}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				errs <- ix.Rebuild(ctx, [][]float32{{1, 0}, {0, 1}}, []int64{1, 2})
				return
			}
			for range 20 {
				hits, err := ix.Search(ctx, []float32{1, 0}, 1)
				if err != nil {
					errs <- err
					return
				}
				if len(hits) != 1 || hits[0].DocID != 1 {
					errs <- errUnexpected(hits)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

type errUnexpected []index.Hit

func (e errUnexpected) Error() string { return "unexpected hits" }
