// Package world models the read-only game-state snapshot that accompanies
// every turn request.
//
// The engine only formats a snapshot into prompts and persists it; it never
// mutates game state. Fields the engine does not understand are kept verbatim
// so the persisted transcript carries the snapshot exactly as received.
package world

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// Snapshot is the caller-supplied view of the current game state.
//
// A nil slice means the field was absent; an empty slice means it was
// present but empty. Prompt summaries distinguish the two.
type Snapshot struct {
	Player          *Player
	Inventory       []InventoryItem
	SeenFlags       []json.RawMessage
	KnownCharacters []json.RawMessage

	// Extra holds top-level fields not modelled above.
	Extra map[string]json.RawMessage
}

// Player identifies the acting player.
type Player struct {
	ID                string
	ProfileName       string
	CurrentLocationID string

	// Extra holds player fields not modelled above (vars, timestamps, ...).
	Extra map[string]json.RawMessage
}

// InventoryItem is one carried item. On the wire it is either a bare item id
// string or an object with an item_id field.
type InventoryItem struct {
	ID  string
	raw json.RawMessage
}

// Item returns an InventoryItem encoded as a bare id.
func Item(id string) InventoryItem { return InventoryItem{ID: id} }

// PlayerID returns the player id, or "" when no player is present.
func (s *Snapshot) PlayerID() string {
	if s == nil || s.Player == nil {
		return ""
	}
	return s.Player.ID
}

// ItemIDs returns the inventory item ids in order.
func (s *Snapshot) ItemIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, len(s.Inventory))
	for i, it := range s.Inventory {
		ids[i] = it.ID
	}
	return ids
}

// Clone returns a deep copy of s that may be mutated independently.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Inventory:       cloneSlice(s.Inventory),
		SeenFlags:       cloneSlice(s.SeenFlags),
		KnownCharacters: cloneSlice(s.KnownCharacters),
		Extra:           maps.Clone(s.Extra),
	}
	if s.Player != nil {
		p := *s.Player
		p.Extra = maps.Clone(s.Player.Extra)
		out.Player = &p
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}

var snapshotKeys = []string{"player", "inventory", "seen_flags", "known_characters"}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("world: snapshot must be a JSON object: %w", err)
	}
	*s = Snapshot{}

	if raw, ok := fields["player"]; ok && !isNull(raw) {
		s.Player = &Player{}
		if err := json.Unmarshal(raw, s.Player); err != nil {
			return err
		}
	}
	if err := decodeList(fields, "inventory", &s.Inventory); err != nil {
		return err
	}
	if err := decodeList(fields, "seen_flags", &s.SeenFlags); err != nil {
		return err
	}
	if err := decodeList(fields, "known_characters", &s.KnownCharacters); err != nil {
		return err
	}

	for _, k := range snapshotKeys {
		delete(fields, k)
	}
	if len(fields) > 0 {
		s.Extra = fields
	}
	return nil
}

func decodeList[T any](fields map[string]json.RawMessage, key string, dst *[]T) error {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("world: %s must be a list: %w", key, err)
	}
	if out == nil {
		out = []T{}
	}
	*dst = out
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+4)
	for k, v := range s.Extra {
		out[k] = v
	}
	if s.Player != nil {
		out["player"] = s.Player
	}
	if s.Inventory != nil {
		out["inventory"] = s.Inventory
	}
	if s.SeenFlags != nil {
		out["seen_flags"] = s.SeenFlags
	}
	if s.KnownCharacters != nil {
		out["known_characters"] = s.KnownCharacters
	}
	return json.Marshal(out)
}

var playerKeys = []string{"id", "profile_name", "current_location_id"}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Player) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("world: player must be a JSON object: %w", err)
	}
	*p = Player{}
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"id", &p.ID},
		{"profile_name", &p.ProfileName},
		{"current_location_id", &p.CurrentLocationID},
	} {
		raw, ok := fields[f.key]
		if !ok || isNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return fmt.Errorf("world: player.%s must be a string: %w", f.key, err)
		}
	}
	for _, k := range playerKeys {
		delete(fields, k)
	}
	if len(fields) > 0 {
		p.Extra = fields
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Player) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["id"] = p.ID
	if p.ProfileName != "" {
		out["profile_name"] = p.ProfileName
	}
	if p.CurrentLocationID != "" {
		out["current_location_id"] = p.CurrentLocationID
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (it *InventoryItem) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) > 0 && b[0] == '"':
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*it = InventoryItem{ID: id}
	case len(b) > 0 && b[0] == '{':
		var rec struct {
			ItemID string `json:"item_id"`
		}
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("world: inventory item: %w", err)
		}
		*it = InventoryItem{ID: rec.ItemID, raw: append(json.RawMessage(nil), b...)}
	default:
		return fmt.Errorf("world: inventory item must be a string or an object, got %s", b)
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Items decoded from an object are
// written back unchanged.
func (it InventoryItem) MarshalJSON() ([]byte, error) {
	if it.raw != nil {
		return it.raw, nil
	}
	return json.Marshal(it.ID)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
