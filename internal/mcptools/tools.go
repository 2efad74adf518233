package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/foglamp/internal/recall"
	"github.com/MrWong99/foglamp/pkg/memory"
	"github.com/MrWong99/foglamp/pkg/world"
)

type PlayTurnInput struct {
	Command           string         `json:"command" jsonschema:"what the player wants to do"`
	PlayerID          string         `json:"player_id,omitempty" jsonschema:"player id, defaults to demo"`
	CurrentLocationID string         `json:"current_location_id,omitempty" jsonschema:"overrides the snapshot location"`
	Turn              int            `json:"turn,omitempty" jsonschema:"turn number recorded in the transcript"`
	Snapshot          map[string]any `json:"snapshot,omitempty" jsonschema:"current game state with player, inventory, seen_flags and known_characters"`
}

type PlayTurnOutput struct {
	Markdown    string   `json:"markdown"`
	NextActions []string `json:"next_actions"`
}

type MemoryQueryInput struct {
	Query string `json:"query" jsonschema:"text to match against memory"`
}

type MatchOutput struct {
	ID       int64   `json:"id"`
	Score    float32 `json:"score"`
	Position int     `json:"position"`
	Kind     string  `json:"kind"`
	Text     string  `json:"text"`
	EntityID string  `json:"entity_id,omitempty"`
}

type MemorySearchOutput struct {
	Query   string        `json:"query"`
	Matches []MatchOutput `json:"matches"`
}

type MemoryRetrieveOutput struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

type PromoteFactInput struct {
	Text       string `json:"text" jsonschema:"the fact to remember"`
	Kind       string `json:"kind,omitempty" jsonschema:"memory kind, defaults to known_fact"`
	EntityID   string `json:"entity_id,omitempty" jsonschema:"entity the fact is about"`
	Importance int    `json:"importance,omitempty" jsonschema:"higher is more important"`
}

type DocumentOutput struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Text     string `json:"text"`
	EntityID string `json:"entity_id,omitempty"`
	Stale    bool   `json:"stale"`
}

type MarkStaleInput struct {
	ID int64 `json:"id" jsonschema:"memory document id"`
}

type MarkStaleOutput struct {
	ID    int64 `json:"id"`
	Stale bool  `json:"stale"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "play_turn",
		Description: "Run one narrative turn for a player command",
	}, s.handlePlayTurn)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "memory_search",
		Description: "Find the memory documents most similar to a query",
	}, s.handleMemorySearch)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "memory_retrieve",
		Description: "Return the fact block the narrator would see for a query",
	}, s.handleMemoryRetrieve)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "promote_fact",
		Description: "Store a new fact in memory; it is retrievable after the next reindex",
	}, s.handlePromoteFact)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "mark_stale",
		Description: "Retire a memory document so it is no longer retrieved",
	}, s.handleMarkStale)
}

func (s *Server) handlePlayTurn(ctx context.Context, req *sdk.CallToolRequest, input PlayTurnInput) (*sdk.CallToolResult, PlayTurnOutput, error) {
	if input.Command == "" {
		return nil, PlayTurnOutput{}, fmt.Errorf("command is required")
	}
	snap, err := decodeSnapshot(input.Snapshot)
	if err != nil {
		return nil, PlayTurnOutput{}, err
	}
	if snap.Player == nil {
		snap.Player = &world.Player{}
	}
	if snap.Player.ID == "" {
		snap.Player.ID = input.PlayerID
	}
	if snap.Player.ID == "" {
		snap.Player.ID = "demo"
	}
	if input.CurrentLocationID != "" {
		snap.Player.CurrentLocationID = input.CurrentLocationID
	}

	res, err := s.app.Turns().RunTurn(ctx, input.Command, snap, input.Turn)
	if err != nil {
		return nil, PlayTurnOutput{}, err
	}
	next := res.NextActions
	if next == nil {
		next = []string{}
	}
	return nil, PlayTurnOutput{Markdown: res.Markdown, NextActions: next}, nil
}

func (s *Server) handleMemorySearch(ctx context.Context, req *sdk.CallToolRequest, input MemoryQueryInput) (*sdk.CallToolResult, MemorySearchOutput, error) {
	if input.Query == "" {
		return nil, MemorySearchOutput{}, fmt.Errorf("query is required")
	}
	matches, err := s.app.Retriever().Search(ctx, input.Query)
	if err != nil {
		return nil, MemorySearchOutput{}, err
	}
	out := make([]MatchOutput, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchOutput(m))
	}
	return nil, MemorySearchOutput{Query: input.Query, Matches: out}, nil
}

func (s *Server) handleMemoryRetrieve(ctx context.Context, req *sdk.CallToolRequest, input MemoryQueryInput) (*sdk.CallToolResult, MemoryRetrieveOutput, error) {
	if input.Query == "" {
		return nil, MemoryRetrieveOutput{}, fmt.Errorf("query is required")
	}
	text, err := s.app.Retriever().Retrieve(ctx, input.Query)
	if err != nil {
		return nil, MemoryRetrieveOutput{}, err
	}
	return nil, MemoryRetrieveOutput{Query: input.Query, Context: text}, nil
}

func (s *Server) handlePromoteFact(ctx context.Context, req *sdk.CallToolRequest, input PromoteFactInput) (*sdk.CallToolResult, DocumentOutput, error) {
	if input.Text == "" {
		return nil, DocumentOutput{}, fmt.Errorf("text is required")
	}
	doc, err := s.app.Curator().Promote(ctx, recall.Fact{
		Text:       input.Text,
		Kind:       memory.Kind(input.Kind),
		EntityID:   input.EntityID,
		Importance: input.Importance,
	})
	if err != nil {
		return nil, DocumentOutput{}, err
	}
	return nil, documentOutput(doc), nil
}

func (s *Server) handleMarkStale(ctx context.Context, req *sdk.CallToolRequest, input MarkStaleInput) (*sdk.CallToolResult, MarkStaleOutput, error) {
	if input.ID <= 0 {
		return nil, MarkStaleOutput{}, fmt.Errorf("id must be positive")
	}
	if err := s.app.Curator().MarkStale(ctx, input.ID); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return nil, MarkStaleOutput{}, fmt.Errorf("document %d not found", input.ID)
		}
		return nil, MarkStaleOutput{}, err
	}
	return nil, MarkStaleOutput{ID: input.ID, Stale: true}, nil
}

// decodeSnapshot round-trips the loosely typed tool argument through the
// snapshot's own JSON decoding.
func decodeSnapshot(raw map[string]any) (*world.Snapshot, error) {
	snap := &world.Snapshot{}
	if raw == nil {
		return snap, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

func matchOutput(m recall.Match) MatchOutput {
	return MatchOutput{
		ID:       m.Document.ID,
		Score:    m.Score,
		Position: m.Position,
		Kind:     string(m.Document.Kind),
		Text:     m.Document.Text,
		EntityID: m.Document.EntityID,
	}
}

func documentOutput(d memory.Document) DocumentOutput {
	return DocumentOutput{
		ID:       d.ID,
		Kind:     string(d.Kind),
		Text:     d.Text,
		EntityID: d.EntityID,
		Stale:    d.Stale,
	}
}
