package llm

// Conversation roles. A tool message must follow an assistant message whose
// ToolCalls slice contains a call with a matching ID.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single entry in a conversation history.
type Message struct {
	// Role is one of the Role* constants.
	Role string `json:"role"`

	// Content is the message text. May be empty on assistant messages that
	// carry only tool calls.
	Content string `json:"content"`

	// ToolCalls lists tool invocations requested by the assistant. Only set
	// on assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID references the call a tool message answers. Only set when
	// Role is RoleTool.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID is the opaque correlation token chosen by the completion endpoint.
	ID string `json:"id"`

	// Name is the qualified tool name as offered to the model.
	Name string `json:"name"`

	// Arguments is the raw arguments text. Expected to be a JSON object but
	// not guaranteed valid — parsing is the caller's concern.
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	// Name is the qualified tool name (server prefix + tool name).
	Name string `json:"name"`

	// Description explains what the tool does; included in model prompts.
	Description string `json:"description"`

	// Parameters is the JSON Schema for the tool's input. Opaque to this
	// package.
	Parameters map[string]any `json:"parameters"`
}
