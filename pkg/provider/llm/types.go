package llm

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged entry in a completion request.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text body of the message.
	Content string

	// Name optionally identifies the author of the message.
	Name string
}

// SystemMessage returns a [Message] with the system role.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// ModelCapabilities describes static properties of a model.
type ModelCapabilities struct {
	// ContextWindow is the maximum number of tokens the model accepts.
	ContextWindow int

	// MaxOutputTokens is the maximum number of tokens the model can generate.
	MaxOutputTokens int

	// SupportsStreaming reports whether StreamCompletion yields incremental chunks.
	SupportsStreaming bool

	// SupportsJSONMode reports whether the backend enforces [FormatJSONObject]
	// natively rather than relying on prompt instructions.
	SupportsJSONMode bool
}
