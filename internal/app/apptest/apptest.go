// Package apptest builds a fully wired [app.App] over in-memory backends and
// scripted model providers for use in tests of the outer surfaces.
package apptest

import (
	"context"
	"strings"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/foglamp/internal/app"
	"github.com/MrWong99/foglamp/internal/config"
	"github.com/MrWong99/foglamp/internal/observe"
	"github.com/MrWong99/foglamp/pkg/memory"
	"github.com/MrWong99/foglamp/pkg/memory/memstore"
	embmock "github.com/MrWong99/foglamp/pkg/provider/embeddings/mock"
	"github.com/MrWong99/foglamp/pkg/provider/llm"
	llmmock "github.com/MrWong99/foglamp/pkg/provider/llm/mock"
)

// Canned model replies.
const (
	DiaryPlan     = `{"action":"examine","targets":["diary"],"state_changes":[],"notes":""}`
	StudyMarkdown = "### The Study\n\n> The diary lies open on the desk.\n\n**Next actions:**\n- read the last entry\n- examine the desk\n"
	DiaryFact     = "Holmes keeps a diary of every case."
	FogFact       = "Fog rolls in from the Thames every evening."
)

// Script decides the model replies. Plan answers JSON-mode requests,
// Narration answers the rest. Either may be swapped between turns.
type Script struct {
	mu        sync.Mutex
	Plan      string
	Narration string
	Err       error
}

// Set replaces the scripted replies.
func (s *Script) Set(plan, narration string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Plan, s.Narration = plan, narration
}

// Fail makes every subsequent model call return err. Nil clears it.
func (s *Script) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

func (s *Script) reply(req llm.CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	if req.Format == llm.FormatJSONObject {
		return s.Plan, nil
	}
	return s.Narration, nil
}

// Env is a running test App with handles on its doubles.
type Env struct {
	App      *app.App
	Store    *memstore.Store
	LLM      *llmmock.Provider
	Embedder *embmock.Provider
	Script   *Script
	Metrics  *observe.Metrics
	Reader   *sdkmetric.ManualReader
	Config   *config.Config
}

// KeywordVector embeds text on three axes: diary, knife and fog.
func KeywordVector(text string) []float32 {
	t := strings.ToLower(text)
	v := []float32{0.01, 0.01, 0.01}
	for i, w := range []string{"diary", "knife", "fog"} {
		v[i] += float32(strings.Count(t, w))
	}
	return v
}

// StreamChunks splits markdown into line-sized chunks ending in a stop chunk.
func StreamChunks(markdown string) []llm.Chunk {
	var out []llm.Chunk
	for _, line := range strings.SplitAfter(markdown, "\n") {
		if line != "" {
			out = append(out, llm.Chunk{Text: line})
		}
	}
	return append(out, llm.Chunk{FinishReason: "stop"})
}

// New returns an Env with the diary and fog facts seeded and indexed.
func New(t *testing.T) *Env {
	t.Helper()
	ctx := context.Background()

	cfg, err := config.LoadFromReader(strings.NewReader("memory:\n  backend: memory\n"))
	if err != nil {
		t.Fatalf("apptest: config: %v", err)
	}
	cfg.Index.Dir = t.TempDir()
	cfg.Logs.Dir = t.TempDir()

	script := &Script{Plan: DiaryPlan, Narration: StudyMarkdown}
	model := &llmmock.Provider{}
	model.CompleteFunc = func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		text, err := script.reply(req)
		if err != nil {
			return nil, err
		}
		return &llm.CompletionResponse{Content: text}, nil
	}
	model.StreamChunks = StreamChunks(StudyMarkdown)
	embedder := &embmock.Provider{EmbedFunc: KeywordVector, DimensionsValue: 3, ModelIDValue: "keyword"}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("apptest: metrics: %v", err)
	}

	store := memstore.New()
	a, err := app.New(ctx, cfg, &app.Providers{LLM: model, Embeddings: embedder},
		app.WithStore(store),
		app.WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("apptest: app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	for _, f := range []string{DiaryFact, FogFact} {
		if _, err := store.AddDocument(ctx, memory.Document{Kind: memory.KindSeedLore, Text: f}); err != nil {
			t.Fatalf("apptest: seed: %v", err)
		}
	}
	if _, err := a.Reindexer().Reindex(ctx); err != nil {
		t.Fatalf("apptest: reindex: %v", err)
	}
	embedder.Reset()

	return &Env{
		App:      a,
		Store:    store,
		LLM:      model,
		Embedder: embedder,
		Script:   script,
		Metrics:  metrics,
		Reader:   reader,
		Config:   cfg,
	}
}
