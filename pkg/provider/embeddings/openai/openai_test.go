package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestModelDimensions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			if got := modelDimensions(tt.model); got != tt.want {
				t.Errorf("modelDimensions(%q) = %d, want %d", tt.model, got, tt.want)
			}
		})
	}
}

func TestDimensions_OverrideWins(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "text-embedding-3-large", WithDimensions(256))
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions() = %d, want 256", got)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID() = %q, want %q", p.ModelID(), DefaultModel)
	}
	if p.batchSize != MaxBatchInputs {
		t.Errorf("batchSize = %d, want %d", p.batchSize, MaxBatchInputs)
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	t.Parallel()
	in := []float64{1.0, 2.5, -0.5}
	out := float64ToFloat32(in)
	for i, v := range out {
		if v != float32(in[i]) {
			t.Errorf("index %d: got %v, want %v", i, v, in[i])
		}
	}
}

// fakeEmbeddings answers /embeddings with a vector whose only value is the
// length of each input text, returned in reverse index order.
func fakeEmbeddings(t *testing.T) (*httptest.Server, *[]int) {
	t.Helper()
	var (
		mu    sync.Mutex
		sizes []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		sizes = append(sizes, len(body.Input))
		mu.Unlock()

		data := make([]string, 0, len(body.Input))
		for i := len(body.Input) - 1; i >= 0; i-- {
			data = append(data, fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":[%d]}`, i, len(body.Input[i])))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"object":"list","model":"text-embedding-3-small","data":[%s],"usage":{"prompt_tokens":1,"total_tokens":1}}`,
			strings.Join(data, ","))
	}))
	t.Cleanup(srv.Close)
	return srv, &sizes
}

func TestEmbedBatch_ChunksAndKeepsOrder(t *testing.T) {
	t.Parallel()
	srv, sizes := fakeEmbeddings(t)

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"), WithBatchSize(2))
	if err != nil {
		t.Fatal(err)
	}

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := p.EmbedBatch(t.Context(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != 1 || int(v[0]) != len(texts[i]) {
			t.Errorf("vecs[%d] = %v, want [%d]", i, v, len(texts[i]))
		}
	}
	if got := fmt.Sprint(*sizes); got != "[2 2 1]" {
		t.Errorf("request sizes = %s, want [2 2 1]", got)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := p.EmbedBatch(t.Context(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}
