// Package mcp defines the interfaces for tool discovery and invocation
// against Model Context Protocol (MCP) servers.
//
// A [Registry] maintains the set of configured servers and aggregates their
// tool catalogues into qualified descriptors; a [Dispatcher] routes a single
// qualified tool call to the owning server and returns its outcome. The
// concrete implementation of both lives in the broker subpackage.
//
// All methods must be safe for concurrent use.
package mcp

import "context"

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"

	// TransportSSE communicates via HTTP Server-Sent Events.
	TransportSSE Transport = "sse"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP || t == TransportSSE
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name is the identifier for this server. Must be unique within a
	// [Registry]; it becomes the prefix of every qualified tool name the
	// server contributes.
	Name string

	// Transport specifies the connection mechanism.
	Transport Transport

	// Endpoint is the connection target. For [TransportStdio] it is the
	// executable path plus optional arguments ("/usr/local/bin/mcp-time
	// --utc"); for the HTTP transports it is the endpoint URL.
	Endpoint string

	// Env holds additional environment variables injected into the server
	// process when Transport is stdio. May be nil.
	Env map[string]string
}

// ToolDescriptor describes one tool offered by a registered server.
type ToolDescriptor struct {
	// Name is the qualified tool name: server name + separator + the tool's
	// own name. This is the name offered to the model.
	Name string

	// Server is the name of the server that owns the tool.
	Server string

	// Description is the tool's description as reported by the server.
	Description string

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema map[string]any
}

// CallResult holds the outcome of a single tool invocation.
//
// Invocation failures of every kind — unknown tool, unreachable server,
// protocol errors, tool-reported errors — surface here rather than as Go
// errors, so a failed call can be fed back to the model as a tool message
// instead of aborting the turn.
type CallResult struct {
	// OK reports whether the call produced a usable result.
	OK bool

	// Content is the tool's textual output when OK is true.
	Content string

	// Error describes what went wrong when OK is false.
	Error string
}

// Registry maintains the configured MCP servers and their tool catalogues.
type Registry interface {
	// Refresh reloads the server set from the backing source. Individual
	// servers with unusable configurations are skipped, not fatal; an error
	// is returned only when the source itself fails.
	Refresh(ctx context.Context) error

	// ListTools queries every registered server and returns the aggregated
	// tool catalogue with qualified names. Servers that cannot be reached
	// contribute no tools; only a fully failed listing returns an error.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
}

// Dispatcher executes tool calls against registered servers.
type Dispatcher interface {
	// Invoke routes the qualified tool call to its server and returns the
	// outcome. Invoke never returns a Go error: every failure mode is
	// reported through [CallResult].
	//
	// arguments is the raw arguments text from the model. It is expected to
	// be a JSON object but tolerated when it is not.
	Invoke(ctx context.Context, name string, arguments string) CallResult
}
