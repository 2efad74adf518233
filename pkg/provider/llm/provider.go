// Package llm defines the Provider interface for text-generation backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform interface
// for the turn pipeline to perform single-shot and streaming completions
// without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// ResponseFormat selects the shape the model is asked to produce.
type ResponseFormat string

const (
	// FormatText is free-form text. It is the zero value.
	FormatText ResponseFormat = ""

	// FormatJSONObject asks the backend to constrain the reply to a single JSON
	// object. Backends without native support ignore it; callers must still
	// validate the body.
	FormatJSONObject ResponseFormat = "json_object"
)

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered list of role-tagged messages. The turn pipeline
	// always sends a single "system" message carrying the composed prompt.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero means
	// use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional instruction prepended as a "system" message.
	SystemPrompt string

	// Format requests structured output. See [FormatJSONObject].
	Format ResponseFormat
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", ...). A value of
	// "error" signals a mid-stream failure; Text then carries the error message.
	FinishReason string
}

// FinishReasonError marks a chunk that reports a mid-stream failure.
const FinishReasonError = "error"

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	// Content is the full generated text.
	Content string

	// Usage reports token consumption for this request.
	Usage Usage
}

// Provider is the abstraction over any text-generation backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// StreamCompletion sends req and returns a channel that emits [Chunk] values
	// as the model generates them. The channel is closed when generation ends or
	// ctx is cancelled. A non-nil error is returned only when the request could
	// not be initiated.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and blocks until the full response is available.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the model.
	Capabilities() ModelCapabilities
}
