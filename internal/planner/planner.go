// Package planner runs the structured planning pass: it turns a player's
// intent into a plan.Plan by asking the model for a single JSON object.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/foglamp/internal/plan"
	"github.com/MrWong99/foglamp/pkg/provider/llm"
	"github.com/MrWong99/foglamp/pkg/world"
)

// DefaultTemperature keeps planning close to deterministic.
const DefaultTemperature = 0.2

const shapeInstruction = `Generate a plan as JSON with:
- "action": string describing the action
- "targets": array of entity IDs involved
- "state_changes": array of {"entity": "...", "op": "...", "value": ...}
- "notes": string with any additional notes
`

// Planner calls an llm.Provider in JSON-object mode and parses the reply.
// It is safe for concurrent use.
type Planner struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// Option configures a Planner.
type Option func(*Planner)

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(p *Planner) { p.temperature = t }
}

// WithMaxTokens caps the plan length.
func WithMaxTokens(max int) Option {
	return func(p *Planner) { p.maxTokens = max }
}

// New returns a Planner backed by p.
func New(p llm.Provider, opts ...Option) (*Planner, error) {
	if p == nil {
		return nil, errors.New("planner: llm provider is required")
	}
	pl := &Planner{llm: p, temperature: DefaultTemperature}
	for _, o := range opts {
		o(pl)
	}
	return pl, nil
}

// BuildPrompt composes the single system message sent for planning.
func BuildPrompt(contextPrompt, intent string, snap *world.Snapshot) string {
	var b strings.Builder
	b.WriteString(contextPrompt)
	b.WriteString("\n\n[PLAYER_INTENT]\n")
	b.WriteString(intent)
	b.WriteString("\n\n[CONTEXT]\n")
	b.WriteString(summary(snap))
	b.WriteString("\n\n")
	b.WriteString(shapeInstruction)
	return b.String()
}

func summary(snap *world.Snapshot) string {
	if snap == nil {
		return ""
	}
	var lines []string
	if p := snap.Player; p != nil {
		lines = append(lines,
			"Player: "+orUnknown(p.ProfileName),
			"Location: "+orUnknown(p.CurrentLocationID),
		)
	}
	if snap.Inventory != nil {
		lines = append(lines, "Inventory: "+strconv.Itoa(len(snap.Inventory))+" items")
	}
	if snap.SeenFlags != nil {
		lines = append(lines, "Seen: "+strconv.Itoa(len(snap.SeenFlags))+" entities")
	}
	return strings.Join(lines, "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// Plan asks the model for a plan. The result has been parsed but not
// validated; run plan.Validate before narrating it.
//
// A reply that is not a JSON object wraps plan.ErrMalformed. Fields of the
// wrong type surface as *plan.ValidationError. There is no retry.
func (p *Planner) Plan(ctx context.Context, contextPrompt, intent string, snap *world.Snapshot) (*plan.Plan, error) {
	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.SystemMessage(BuildPrompt(contextPrompt, intent, snap))},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Format:      llm.FormatJSONObject,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: complete: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("planner: %w: empty response", plan.ErrMalformed)
	}

	pl, err := plan.Parse([]byte(stripFences(resp.Content)))
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	return pl, nil
}

// stripFences removes a surrounding markdown code fence, which backends
// without a native JSON mode sometimes add.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
