// Package memorytest holds behaviour tests shared by every memory.Store
// backend.
package memorytest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/foglamp/pkg/memory"
)

// Run exercises the memory.Store contract against stores produced by
// newStore. Each subtest receives a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) memory.Store) {
	t.Helper()

	t.Run("AddAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id, err := s.AddDocument(ctx, memory.Document{
			Kind: memory.KindKnownFact, Text: "The study door was locked from inside.",
			EntityID: "loc_study", Importance: 3,
		})
		if err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
		got, err := s.GetDocument(ctx, id)
		if err != nil {
			t.Fatalf("GetDocument: %v", err)
		}
		if got.ID != id || got.Kind != memory.KindKnownFact || got.EntityID != "loc_study" || got.Importance != 3 || got.Stale {
			t.Errorf("GetDocument = %+v", got)
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt should be set by the store")
		}
		if _, err := s.GetDocument(ctx, id+100); !errors.Is(err, memory.ErrNotFound) {
			t.Errorf("GetDocument(unknown) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("StaleExcluded", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := mustAdd(t, s, "alpha")
		b := mustAdd(t, s, "beta")
		c := mustAdd(t, s, "gamma")

		if err := s.MarkStale(ctx, b); err != nil {
			t.Fatalf("MarkStale: %v", err)
		}
		if err := s.MarkStale(ctx, b); err != nil {
			t.Fatalf("MarkStale twice: %v", err)
		}
		if err := s.MarkStale(ctx, 9999); !errors.Is(err, memory.ErrNotFound) {
			t.Errorf("MarkStale(unknown) error = %v, want ErrNotFound", err)
		}

		live, err := s.LiveDocuments(ctx, []int64{c, b, a, 9999})
		if err != nil {
			t.Fatalf("LiveDocuments: %v", err)
		}
		if len(live) != 2 {
			t.Fatalf("LiveDocuments returned %d docs, want 2", len(live))
		}
		if _, ok := live[b]; ok {
			t.Error("stale document returned by LiveDocuments")
		}

		list, err := s.ListLive(ctx)
		if err != nil {
			t.Fatalf("ListLive: %v", err)
		}
		if len(list) != 2 || list[0].ID != a || list[1].ID != c {
			t.Errorf("ListLive ids = %v, want [%d %d]", ids(list), a, c)
		}

		doc, err := s.GetDocument(ctx, b)
		if err != nil || !doc.Stale {
			t.Errorf("GetDocument(stale) = %+v, %v", doc, err)
		}
	})

	t.Run("LiveDocumentsEmpty", func(t *testing.T) {
		s := newStore(t)
		live, err := s.LiveDocuments(context.Background(), nil)
		if err != nil {
			t.Fatalf("LiveDocuments(nil): %v", err)
		}
		if len(live) != 0 {
			t.Errorf("LiveDocuments(nil) = %v", live)
		}
	})

	t.Run("Events", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.LatestEvent(ctx); !errors.Is(err, memory.ErrNotFound) {
			t.Errorf("LatestEvent on empty log error = %v, want ErrNotFound", err)
		}

		payload := json.RawMessage(`{"player_intent":"look"}`)
		for _, ev := range []memory.TurnEvent{
			{PlayerID: "p1", Turn: 1, Kind: memory.EventKindNarration, Payload: payload, Markdown: "### One"},
			{PlayerID: "p2", Turn: 1, Kind: memory.EventKindNarration, Payload: payload, Markdown: "### Other"},
			{PlayerID: "p1", Turn: 2, Kind: memory.EventKindNarration, Payload: payload, Markdown: "### Two"},
		} {
			if _, err := s.AppendEvent(ctx, ev); err != nil {
				t.Fatalf("AppendEvent: %v", err)
			}
		}

		latest, err := s.LatestEvent(ctx)
		if err != nil {
			t.Fatalf("LatestEvent: %v", err)
		}
		if latest.Markdown != "### Two" || latest.PlayerID != "p1" {
			t.Errorf("LatestEvent = %+v", latest)
		}
		var decoded map[string]string
		if err := json.Unmarshal(latest.Payload, &decoded); err != nil || decoded["player_intent"] != "look" {
			t.Errorf("payload = %s (%v)", latest.Payload, err)
		}

		evs, err := s.EventsByPlayer(ctx, "p1", 0)
		if err != nil {
			t.Fatalf("EventsByPlayer: %v", err)
		}
		if len(evs) != 2 || evs[0].Turn != 2 || evs[1].Turn != 1 {
			t.Errorf("EventsByPlayer = %+v", evs)
		}

		evs, err = s.EventsByPlayer(ctx, "p1", 1)
		if err != nil || len(evs) != 1 {
			t.Errorf("EventsByPlayer limit 1 = %d events, %v", len(evs), err)
		}

		evs, err = s.EventsByPlayer(ctx, "nobody", 0)
		if err != nil || len(evs) != 0 {
			t.Errorf("EventsByPlayer(nobody) = %v, %v", evs, err)
		}
	})
}

func mustAdd(t *testing.T, s memory.Store, text string) int64 {
	t.Helper()
	id, err := s.AddDocument(context.Background(), memory.Document{Kind: memory.KindSeedLore, Text: text})
	if err != nil {
		t.Fatalf("AddDocument(%q): %v", text, err)
	}
	return id
}

func ids(docs []memory.Document) []int64 {
	out := make([]int64, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
