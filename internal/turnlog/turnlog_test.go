package turnlog_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MrWong99/foglamp/internal/narrator"
	"github.com/MrWong99/foglamp/internal/plan"
	"github.com/MrWong99/foglamp/internal/turnlog"
	"github.com/MrWong99/foglamp/pkg/memory"
	"github.com/MrWong99/foglamp/pkg/memory/memstore"
	"github.com/MrWong99/foglamp/pkg/world"
)

func sampleRecord() turnlog.Record {
	return turnlog.Record{
		Turn:   3,
		Intent: "examine the diary",
		Plan:   &plan.Plan{Action: "examine", Targets: []string{"diary"}, StateChanges: []plan.StateChange{}},
		Result: &narrator.Result{
			Markdown:    "### The Study\n\n> Ink.\n\n**Next actions:**\n- read entry\n",
			NextActions: []string{"read entry"},
		},
		Snapshot: &world.Snapshot{Player: &world.Player{ID: "p1", ProfileName: "Watson"}},
	}
}

func TestPersist_WritesFilesAndEvent(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "logs")
	store := memstore.New()
	p, err := turnlog.New(dir, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := sampleRecord()
	if err := p.Persist(context.Background(), rec); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	md, err := os.ReadFile(p.MarkdownPath(3))
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	if string(md) != rec.Result.Markdown {
		t.Errorf("markdown = %q, want %q", md, rec.Result.Markdown)
	}

	raw, err := os.ReadFile(p.MetadataPath(3))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var meta struct {
		Turn        int        `json:"turn"`
		Timestamp   string     `json:"timestamp"`
		Plan        *plan.Plan `json:"plan"`
		NextActions []string   `json:"next_actions"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.Turn != 3 || meta.Timestamp == "" || meta.Plan.Action != "examine" {
		t.Errorf("metadata = %+v", meta)
	}
	if len(meta.NextActions) != 1 || meta.NextActions[0] != "read entry" {
		t.Errorf("next_actions = %v", meta.NextActions)
	}

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.PlayerID != "p1" || ev.Turn != 3 || ev.Kind != memory.EventKindNarration {
		t.Errorf("event = %+v", ev)
	}
	if ev.Markdown != rec.Result.Markdown {
		t.Errorf("event markdown = %q", ev.Markdown)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(ev.Payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	for _, key := range []string{"player_intent", "plan", "next_actions", "snapshot"} {
		if _, ok := body[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
	if string(body["player_intent"]) != `"examine the diary"` {
		t.Errorf("player_intent = %s", body["player_intent"])
	}
}

func TestPersist_UnknownPlayer(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	p, _ := turnlog.New(t.TempDir(), store)

	rec := sampleRecord()
	rec.Snapshot = &world.Snapshot{}
	if err := p.Persist(context.Background(), rec); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	rec.Snapshot = nil
	if err := p.Persist(context.Background(), rec); err != nil {
		t.Fatalf("Persist nil snapshot: %v", err)
	}
	for _, ev := range store.Events() {
		if ev.PlayerID != turnlog.UnknownPlayer {
			t.Errorf("player_id = %q, want %q", ev.PlayerID, turnlog.UnknownPlayer)
		}
	}
}

func TestPersist_EmptyNextActionsEncodedAsList(t *testing.T) {
	t.Parallel()
	p, _ := turnlog.New(t.TempDir(), memstore.New())
	rec := sampleRecord()
	rec.Result.NextActions = nil
	if err := p.Persist(context.Background(), rec); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	raw, _ := os.ReadFile(p.MetadataPath(rec.Turn))
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(meta["next_actions"]) != "[]" {
		t.Errorf("next_actions = %s, want []", meta["next_actions"])
	}
}

func TestPersist_AppendFailureLeavesNoFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := memstore.New()
	store.AppendErr = errors.New("disk full")
	p, _ := turnlog.New(dir, store)

	err := p.Persist(context.Background(), sampleRecord())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, store.AppendErr) {
		t.Errorf("error %v should wrap the append error", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("log dir not empty: %v", names)
	}
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestPersist_AppendFailureRestoresPreviousTurn(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := memstore.New()
	p, _ := turnlog.New(dir, store)

	first := sampleRecord()
	if err := p.Persist(context.Background(), first); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	prevMeta, _ := os.ReadFile(p.MetadataPath(first.Turn))

	store.AppendErr = errors.New("disk full")
	retry := sampleRecord()
	retry.Result = &narrator.Result{Markdown: "### Elsewhere\n", NextActions: []string{}}
	if err := p.Persist(context.Background(), retry); !errors.Is(err, store.AppendErr) {
		t.Fatalf("err = %v, want the append error", err)
	}

	md, _ := os.ReadFile(p.MarkdownPath(first.Turn))
	if string(md) != first.Result.Markdown {
		t.Errorf("markdown = %q, want the earlier turn restored", md)
	}
	meta, _ := os.ReadFile(p.MetadataPath(first.Turn))
	if string(meta) != string(prevMeta) {
		t.Errorf("metadata = %s, want the earlier turn restored", meta)
	}
	if names := dirNames(t, dir); !slices.Equal(names, []string{"turn_3.json", "turn_3.md"}) {
		t.Errorf("log dir = %v, want only the earlier turn's files", names)
	}
	if n := len(store.Events()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestPersist_PublishFailureLeavesNoEvent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := memstore.New()
	p, _ := turnlog.New(dir, store)

	// A non-empty directory where the metadata file belongs cannot be
	// replaced.
	rec := sampleRecord()
	blocker := p.MetadataPath(rec.Turn)
	if err := os.MkdirAll(filepath.Join(blocker, "x"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := p.Persist(context.Background(), rec); err == nil {
		t.Fatal("expected error")
	}
	if n := len(store.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
	if names := dirNames(t, dir); !slices.Equal(names, []string{"turn_3.json"}) {
		t.Errorf("log dir = %v, want only the blocking directory", names)
	}
}

func TestPersist_OverwritesSameTurn(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	p, _ := turnlog.New(t.TempDir(), store)

	first := sampleRecord()
	second := sampleRecord()
	second.Result = &narrator.Result{Markdown: "### Later\n", NextActions: []string{}}
	for _, rec := range []turnlog.Record{first, second} {
		if err := p.Persist(context.Background(), rec); err != nil {
			t.Fatalf("Persist: %v", err)
		}
	}
	md, _ := os.ReadFile(p.MarkdownPath(first.Turn))
	if string(md) != "### Later\n" {
		t.Errorf("markdown = %q, want latest turn", md)
	}
	if n := len(store.Events()); n != 2 {
		t.Errorf("events = %d, want 2 (the log is append-only)", n)
	}
}

func TestPersist_RejectsIncompleteRecord(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	p, _ := turnlog.New(t.TempDir(), store)

	noResult := sampleRecord()
	noResult.Result = nil
	noPlan := sampleRecord()
	noPlan.Plan = nil
	for name, rec := range map[string]turnlog.Record{"no result": noResult, "no plan": noPlan} {
		if err := p.Persist(context.Background(), rec); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if n := len(store.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := turnlog.New("", memstore.New()); err == nil {
		t.Error("expected error for empty dir")
	}
	if _, err := turnlog.New(t.TempDir(), nil); err == nil {
		t.Error("expected error for nil event log")
	}
}
