package store

import "context"

// Store provides CRUD operations for agent and MCP server definitions.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateAgent inserts a new agent definition, assigning an ID when the
	// definition has none. The definition is validated before insertion.
	// Returns an error wrapping [ErrDuplicateName] if an agent with the same
	// name already exists.
	CreateAgent(ctx context.Context, def *AgentDefinition) error

	// GetAgent retrieves an agent definition by ID. Returns (nil, nil) if
	// not found.
	GetAgent(ctx context.Context, id string) (*AgentDefinition, error)

	// ListAgents returns all agent definitions ordered by name.
	ListAgents(ctx context.Context) ([]AgentDefinition, error)

	// UpdateAgent replaces an existing agent definition. The definition is
	// validated before the update. Returns an error wrapping [ErrNotFound]
	// if the agent does not exist.
	UpdateAgent(ctx context.Context, def *AgentDefinition) error

	// DeleteAgent removes an agent definition by ID. Deleting a non-existent
	// agent is not an error.
	DeleteAgent(ctx context.Context, id string) error

	// UpsertAgent creates or replaces an agent definition keyed by name
	// (useful for YAML seed import). The definition is validated before
	// persistence.
	UpsertAgent(ctx context.Context, def *AgentDefinition) error

	// CreateServer inserts a new server definition, assigning an ID when the
	// definition has none. The definition is validated before insertion.
	// Returns an error wrapping [ErrDuplicateName] if a server with the same
	// name already exists.
	CreateServer(ctx context.Context, def *ServerDefinition) error

	// GetServer retrieves a server definition by ID. Returns (nil, nil) if
	// not found.
	GetServer(ctx context.Context, id string) (*ServerDefinition, error)

	// ListServers returns server definitions ordered by name. When
	// activeOnly is true, inactive registrations are omitted.
	ListServers(ctx context.Context, activeOnly bool) ([]ServerDefinition, error)

	// UpdateServer replaces an existing server definition. The definition is
	// validated before the update. Returns an error wrapping [ErrNotFound]
	// if the server does not exist.
	UpdateServer(ctx context.Context, def *ServerDefinition) error

	// DeleteServer removes a server definition by ID. Deleting a
	// non-existent server is not an error.
	DeleteServer(ctx context.Context, id string) error

	// UpsertServer creates or replaces a server definition keyed by name
	// (useful for YAML seed import). The definition is validated before
	// persistence.
	UpsertServer(ctx context.Context, def *ServerDefinition) error
}
