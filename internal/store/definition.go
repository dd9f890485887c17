// Package store provides persistent storage for agent and MCP server
// definitions. An [AgentDefinition] is the full declarative configuration for
// a chat agent — system prompt, tool allow-list, and model settings — and a
// [ServerDefinition] registers one MCP server. Both can be loaded from YAML
// seed files, stored in a PostgreSQL database, or both.
//
// The primary abstraction is the [Store] interface, which offers CRUD and
// list operations. The reference implementation [PostgresStore] stores
// definitions in the agents and mcp_servers tables using JSONB columns for
// structured sub-fields; [MemoryStore] is an in-memory implementation for
// tests and single-process development.
//
// The conversion helper [ServerDefinition.ToServerConfig] bridges between the
// storage representation and the runtime [mcp.ServerConfig] used by the tool
// broker.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/tealdrake/mantle/internal/mcp"
)

// Sentinel errors. Implementations wrap these so callers can map them to
// HTTP statuses with [errors.Is].
var (
	// ErrNotFound is returned by Update and Delete operations that target a
	// definition that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned by Create operations when a definition
	// with the same name already exists.
	ErrDuplicateName = errors.New("name already in use")
)

// ModelSettings configures the completion calls made on behalf of an agent.
type ModelSettings struct {
	// Model is the model identifier sent to the completion endpoint.
	// An empty value falls back to the service-wide default model.
	Model string `yaml:"model" json:"model"`

	// Temperature controls randomness in [0.0, 2.0]. Zero means the backend
	// default.
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// MaxTokens caps completion length. Zero means the backend default.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
}

// AgentDefinition is the full declarative configuration for a chat agent.
type AgentDefinition struct {
	// ID is the unique identifier. Stores assign one on create when empty.
	ID string `yaml:"id" json:"id"`

	// Name is the agent's display name. Must be unique across all agents.
	Name string `yaml:"name" json:"name"`

	// Description is a short human-readable summary shown in listings.
	Description string `yaml:"description" json:"description"`

	// Prompt is the system prompt injected at the start of every turn.
	Prompt string `yaml:"prompt" json:"prompt"`

	// ToolNames is the agent's tool allow-list. A discovered tool is offered
	// to the model when its qualified name contains any of these entries as
	// a substring. An empty list offers every discovered tool.
	ToolNames []string `yaml:"tool_names" json:"tool_names"`

	// Model holds the agent's completion settings.
	Model ModelSettings `yaml:"model_settings" json:"model_settings"`

	// CreatedAt is the time the definition was first persisted.
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// UpdatedAt is the time the definition was last modified.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks the AgentDefinition for logical consistency. It returns a
// joined error describing every violation found, or nil if the definition is
// valid.
func (d *AgentDefinition) Validate() error {
	var errs []error

	if d.Name == "" {
		errs = append(errs, fmt.Errorf("store: agent name must not be empty"))
	}
	if d.Model.Temperature < 0 || d.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("store: temperature must be in [0.0, 2.0], got %g", d.Model.Temperature))
	}
	if d.Model.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("store: max_tokens must not be negative, got %d", d.Model.MaxTokens))
	}

	return errors.Join(errs...)
}

// ServerDefinition registers one MCP server.
type ServerDefinition struct {
	// ID is the unique identifier. Stores assign one on create when empty.
	ID string `yaml:"id" json:"id"`

	// Name identifies the server and prefixes the qualified names of every
	// tool it contributes. Must be unique across all servers.
	Name string `yaml:"name" json:"name"`

	// Description is a short human-readable summary shown in listings.
	Description string `yaml:"description" json:"description"`

	// Transport selects the connection mechanism: "stdio", "streamable-http",
	// or "sse".
	Transport mcp.Transport `yaml:"transport" json:"transport"`

	// Endpoint is the connection target: an executable command line for
	// stdio, an endpoint URL otherwise.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Env holds additional environment variables for stdio servers. May be
	// nil.
	Env map[string]string `yaml:"env" json:"env"`

	// Active controls whether the server participates in tool discovery and
	// invocation. Inactive servers stay registered but contribute nothing.
	Active bool `yaml:"active" json:"active"`

	// CreatedAt is the time the definition was first persisted.
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// UpdatedAt is the time the definition was last modified.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks the ServerDefinition for logical consistency. It returns a
// joined error describing every violation found, or nil if the definition is
// valid.
func (d *ServerDefinition) Validate() error {
	var errs []error

	if d.Name == "" {
		errs = append(errs, fmt.Errorf("store: server name must not be empty"))
	}
	if !d.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("store: transport must be \"stdio\", \"streamable-http\", or \"sse\", got %q", d.Transport))
	}
	if d.Endpoint == "" {
		errs = append(errs, fmt.Errorf("store: server endpoint must not be empty"))
	}

	return errors.Join(errs...)
}

// ToServerConfig converts a [ServerDefinition] into an [mcp.ServerConfig]
// suitable for use by the tool broker.
func (d *ServerDefinition) ToServerConfig() mcp.ServerConfig {
	return mcp.ServerConfig{
		Name:      d.Name,
		Transport: d.Transport,
		Endpoint:  d.Endpoint,
		Env:       d.Env,
	}
}
