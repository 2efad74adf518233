// Package narrator turns a validated plan into markdown prose and extracts
// the suggested next actions from it.
package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/foglamp/internal/plan"
	"github.com/MrWong99/foglamp/pkg/provider/llm"
	"github.com/MrWong99/foglamp/pkg/world"
)

// DefaultTemperature is the sampling temperature for narration.
const DefaultTemperature = 0.6

// Result is the outcome of one narration pass.
type Result struct {
	Markdown    string   `json:"markdown"`
	NextActions []string `json:"next_actions"`
}

// Narrator generates narration through an llm.Provider.
// It is safe for concurrent use.
type Narrator struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// Option configures a Narrator.
type Option func(*Narrator)

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(n *Narrator) { n.temperature = t }
}

// WithMaxTokens caps the length of the narration.
func WithMaxTokens(max int) Option {
	return func(n *Narrator) { n.maxTokens = max }
}

// New returns a Narrator backed by p.
func New(p llm.Provider, opts ...Option) (*Narrator, error) {
	if p == nil {
		return nil, errors.New("narrator: llm provider is required")
	}
	n := &Narrator{llm: p, temperature: DefaultTemperature}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// BuildPrompt composes the single system message sent for narration.
func BuildPrompt(contextPrompt string, p *plan.Plan, snap *world.Snapshot) (string, error) {
	planJSON, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("narrator: encode plan: %w", err)
	}

	var b strings.Builder
	b.WriteString(contextPrompt)
	b.WriteString("\n\n[VALIDATED_PLAN]\n")
	b.Write(planJSON)
	b.WriteString("\n\n[CONTEXT]\n")
	b.WriteString(summary(snap))
	b.WriteString("\n\nGenerate a Markdown-formatted narrative following the formatting rules.\n")
	b.WriteString("Must start with ### Scene Header.\n")
	b.WriteString("End with **Next actions:** section with suggested commands.\n")
	return b.String(), nil
}

func summary(snap *world.Snapshot) string {
	if snap == nil {
		return ""
	}
	var lines []string
	if p := snap.Player; p != nil {
		lines = append(lines,
			"Player: "+orUnknown(p.ProfileName),
			"Current Location: "+orUnknown(p.CurrentLocationID),
		)
	}
	if ids := snap.ItemIDs(); len(ids) > 0 {
		lines = append(lines, "Inventory: "+strings.Join(ids, ", "))
	}
	return strings.Join(lines, "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func (n *Narrator) request(prompt string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages:    []llm.Message{llm.SystemMessage(prompt)},
		Temperature: n.temperature,
		MaxTokens:   n.maxTokens,
	}
}

// Narrate generates the full narration in one call.
func (n *Narrator) Narrate(ctx context.Context, contextPrompt string, p *plan.Plan, snap *world.Snapshot) (*Result, error) {
	prompt, err := BuildPrompt(contextPrompt, p, snap)
	if err != nil {
		return nil, err
	}
	resp, err := n.llm.Complete(ctx, n.request(prompt))
	if err != nil {
		return nil, fmt.Errorf("narrator: complete: %w", err)
	}
	if resp == nil {
		return nil, errors.New("narrator: empty response")
	}
	return &Result{Markdown: resp.Content, NextActions: ExtractNextActions(resp.Content)}, nil
}

// NarrateStream generates the narration incrementally, passing every
// non-empty delta to onChunk as it arrives. Next actions are extracted once
// the stream has finished.
//
// If ctx is cancelled, the stream reports an error, or onChunk returns an
// error, forwarding stops and the accumulated text is discarded.
func (n *Narrator) NarrateStream(ctx context.Context, contextPrompt string, p *plan.Plan, snap *world.Snapshot, onChunk func(string) error) (*Result, error) {
	prompt, err := BuildPrompt(contextPrompt, p, snap)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := n.llm.StreamCompletion(ctx, n.request(prompt))
	if err != nil {
		return nil, fmt.Errorf("narrator: start stream: %w", err)
	}

	var full strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				// Providers close the channel on cancellation as well.
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				text := full.String()
				return &Result{Markdown: text, NextActions: ExtractNextActions(text)}, nil
			}
			if chunk.FinishReason == llm.FinishReasonError {
				return nil, fmt.Errorf("narrator: stream: %s", chunk.Text)
			}
			if chunk.Text == "" {
				continue
			}
			full.WriteString(chunk.Text)
			if onChunk != nil {
				if err := onChunk(chunk.Text); err != nil {
					return nil, fmt.Errorf("narrator: forward chunk: %w", err)
				}
			}
		}
	}
}
