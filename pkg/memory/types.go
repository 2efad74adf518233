package memory

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies a memory document.
type Kind string

const (
	KindSeedLore   Kind = "seed_lore"
	KindLoreRule   Kind = "lore_rule"
	KindKnownFact  Kind = "known_fact"
	KindEntityCard Kind = "entity_card"
	KindTranscript Kind = "transcript"
)

// Kinds lists every valid document kind.
var Kinds = []Kind{KindSeedLore, KindLoreRule, KindKnownFact, KindEntityCard, KindTranscript}

// ParseKind validates s as a document kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("memory: unknown document kind %q", s)
}

// Document is a single retrievable fact.
type Document struct {
	ID         int64     `json:"id"`
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text"`
	EntityID   string    `json:"entity_id,omitempty"`
	Importance int       `json:"importance"`
	Stale      bool      `json:"stale"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventKindNarration is the kind of the event recorded for every completed turn.
const EventKindNarration = "narration"

// TurnEvent is one immutable entry of the turn transcript.
type TurnEvent struct {
	ID       int64  `json:"id"`
	PlayerID string `json:"player_id"`
	Turn     int    `json:"turn"`
	Kind     string `json:"kind"`

	// Payload is the JSON object
	// {player_intent, plan, next_actions, snapshot}.
	Payload json.RawMessage `json:"payload"`

	Markdown  string    `json:"markdown"`
	CreatedAt time.Time `json:"created_at"`
}
