package mcptools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/foglamp/internal/app/apptest"
	"github.com/MrWong99/foglamp/internal/turn"
)

func TestPlayTurn(t *testing.T) {
	t.Parallel()
	env := apptest.New(t)
	server := NewServer(env.App, "test")

	_, out, err := server.handlePlayTurn(context.Background(), nil, PlayTurnInput{
		Command:           "examine the diary",
		CurrentLocationID: "study",
		Turn:              4,
		Snapshot: map[string]any{
			"player":    map[string]any{"id": "holmes"},
			"inventory": []any{"lamp", map[string]any{"item_id": "pipe"}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Markdown != apptest.StudyMarkdown || len(out.NextActions) != 2 {
		t.Fatalf("unexpected output: %+v", out)
	}

	evs := env.Store.Events()
	if len(evs) != 1 || evs[0].PlayerID != "holmes" || evs[0].Turn != 4 {
		t.Fatalf("events = %+v", evs)
	}
	prompt := env.LLM.CompleteCalls[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "Location: study") || !strings.Contains(prompt, "Inventory: 2 items") {
		t.Errorf("planner prompt missing snapshot details:\n%s", prompt)
	}
}

func TestPlayTurn_DefaultsPlayer(t *testing.T) {
	t.Parallel()
	env := apptest.New(t)
	server := NewServer(env.App, "test")

	if _, _, err := server.handlePlayTurn(context.Background(), nil, PlayTurnInput{Command: "look around"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := env.Store.Events()[0].PlayerID; got != "demo" {
		t.Errorf("player = %q, want demo", got)
	}
}

func TestPlayTurn_Errors(t *testing.T) {
	t.Parallel()
	env := apptest.New(t)
	server := NewServer(env.App, "test")

	if _, _, err := server.handlePlayTurn(context.Background(), nil, PlayTurnInput{}); err == nil {
		t.Fatal("expected error for missing command")
	}

	env.Script.Set(apptest.DiaryPlan, "### Docks\n\nThe killer is the butcher.")
	_, _, err := server.handlePlayTurn(context.Background(), nil, PlayTurnInput{Command: "accuse the butcher"})
	if turn.KindOf(err) != turn.KindRedLine {
		t.Fatalf("kind = %q (err %v), want red_line", turn.KindOf(err), err)
	}
}

func TestMemorySearch(t *testing.T) {
	t.Parallel()
	env := apptest.New(t)
	server := NewServer(env.App, "test")

	_, out, err := server.handleMemorySearch(context.Background(), nil, MemoryQueryInput{Query: "fog on the river"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Matches) == 0 || out.Matches[0].Text != apptest.FogFact {
		t.Fatalf("unexpected search output: %+v", out)
	}
	if out.Matches[0].Kind != "seed_lore" {
		t.Errorf("kind = %q, want seed_lore", out.Matches[0].Kind)
	}

	if _, _, err := server.handleMemorySearch(context.Background(), nil, MemoryQueryInput{}); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestMemoryRetrieve(t *testing.T) {
	t.Parallel()
	env := apptest.New(t)
	server := NewServer(env.App, "test")

	_, out, err := server.handleMemoryRetrieve(context.Background(), nil, MemoryQueryInput{Query: "the diary"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.Context, apptest.DiaryFact) {
		t.Errorf("context = %q", out.Context)
	}
}

func TestPromoteFactAndMarkStale(t *testing.T) {
	t.Parallel()
	env := apptest.New(t)
	server := NewServer(env.App, "test")
	ctx := context.Background()

	_, doc, err := server.handlePromoteFact(ctx, nil, PromoteFactInput{Text: "Watson lost his knife.", EntityID: "knife", Importance: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Kind != "known_fact" || doc.ID == 0 {
		t.Fatalf("unexpected document: %+v", doc)
	}

	if _, _, err := server.handlePromoteFact(ctx, nil, PromoteFactInput{Text: "x", Kind: "gossip"}); err == nil {
		t.Error("expected error for unknown kind")
	}

	_, out, err := server.handleMarkStale(ctx, nil, MarkStaleInput{ID: doc.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Stale {
		t.Errorf("unexpected output: %+v", out)
	}
	stored, err := env.Store.GetDocument(ctx, doc.ID)
	if err != nil || !stored.Stale {
		t.Errorf("stored = %+v, %v; want stale", stored, err)
	}

	for _, id := range []int64{0, 999} {
		if _, _, err := server.handleMarkStale(ctx, nil, MarkStaleInput{ID: id}); err == nil {
			t.Errorf("expected error for id %d", id)
		}
	}
}

func TestServer_ServesToolsOverTransport(t *testing.T) {
	t.Parallel()
	env := apptest.New(t)
	server := NewServer(env.App, "test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverTransport, clientTransport := sdk.NewInMemoryTransports()
	go func() { _ = server.Run(ctx, serverTransport) }()

	client := sdk.NewClient(&sdk.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	clientCtx, clientCancel := context.WithTimeout(ctx, 5*time.Second)
	defer clientCancel()
	session, err := client.Connect(clientCtx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	defer session.Close()

	tools, err := session.ListTools(clientCtx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"play_turn", "memory_search", "memory_retrieve", "promote_fact", "mark_stale"} {
		if !names[want] {
			t.Errorf("tool %q not registered", want)
		}
	}

	res, err := session.CallTool(clientCtx, &sdk.CallToolParams{
		Name:      "play_turn",
		Arguments: map[string]any{"command": "examine the diary", "player_id": "p1"},
	})
	if err != nil {
		t.Fatalf("call play_turn: %v", err)
	}
	if res.IsError {
		t.Fatalf("play_turn returned a tool error: %+v", res.Content)
	}
	data, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var out PlayTurnOutput
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal structured content: %v", err)
	}
	if out.Markdown != apptest.StudyMarkdown {
		t.Errorf("markdown = %q", out.Markdown)
	}

	res, err = session.CallTool(clientCtx, &sdk.CallToolParams{
		Name:      "memory_search",
		Arguments: map[string]any{"query": ""},
	})
	if err != nil {
		t.Fatalf("call memory_search: %v", err)
	}
	if !res.IsError {
		t.Error("empty query should produce a tool error")
	}
}
