// Package llm defines the Provider interface for chat-completion backends.
//
// A Provider wraps one completion endpoint (the OpenAI API, an
// OpenAI-compatible gateway, or a local inference server) and exposes a
// uniform surface for the turn orchestrator: one blocking completion call and
// one streaming variant. Implementations live in the subpackages compat,
// openai, and anyllm.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Usage holds token accounting returned by the completion endpoint. Counts
// are in the model's native token unit; not every backend reports them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty; a zero-value request is invalid.
type CompletionRequest struct {
	// Model is the model identifier sent to the endpoint (e.g. "gpt-4o",
	// "qwen3:32b"). Required.
	Model string

	// Messages is the ordered conversation history, including the synthesized
	// system message. The last message typically drives the response.
	Messages []Message

	// Tools is the set of tool definitions offered to the model for this
	// call. Empty means tool calling is disabled for the call — follow-up
	// completions after a tool round always leave this empty.
	Tools []ToolDefinition

	// MaxTokens caps completion length. Zero means the backend default.
	MaxTokens int

	// Temperature controls randomness in [0.0, 2.0]. Zero means the backend
	// default.
	Temperature float64
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the assistant's reply text. May be empty when the model
	// responds exclusively with tool calls.
	Content string

	// Role is the responding role as reported by the endpoint, normally
	// [RoleAssistant]. Non-compliant endpoints may omit it; implementations
	// substitute RoleAssistant in that case.
	Role string

	// ToolCalls lists tool invocations requested by the model, in request
	// order. The caller executes them and appends the results to the
	// conversation.
	ToolCalls []ToolCall

	// Usage contains token accounting when the backend reports it.
	Usage Usage
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental content of this chunk. May be empty on the
	// final chunk.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", "tool_calls")
	// and on mid-stream failures ("error", with Text carrying the message).
	FinishReason string
}

// Provider is the abstraction over a chat-completion backend.
//
// Implementations must propagate context cancellation promptly: when ctx is
// cancelled each method must return (or close its channel) as quickly as
// possible.
type Provider interface {
	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion sends req and returns a channel of token fragments.
	// The channel is closed by the implementation when generation finishes or
	// ctx is cancelled; callers must drain it to avoid goroutine leaks.
	// Errors after the stream opens surface as a Chunk with FinishReason
	// "error"; the error return is non-nil only when the stream cannot start.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
