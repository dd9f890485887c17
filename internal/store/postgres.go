package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tealdrake/mantle/internal/mcp"
)

// Schema is the SQL DDL for the agents and mcp_servers tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS agents (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL UNIQUE,
    description    TEXT NOT NULL DEFAULT '',
    prompt         TEXT NOT NULL DEFAULT '',
    tool_names     JSONB NOT NULL DEFAULT '[]',
    model_settings JSONB NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS mcp_servers (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    transport   TEXT NOT NULL,
    endpoint    TEXT NOT NULL,
    env         JSONB NOT NULL DEFAULT '{}',
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_mcp_servers_active ON mcp_servers(active);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
// It serialises structured sub-fields (tool lists, model settings, env) as
// JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the agents
// and mcp_servers tables if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreateAgent implements [Store].
func (s *PostgresStore) CreateAgent(ctx context.Context, def *AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	toolsJSON, settingsJSON, err := marshalAgentFields(def)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO agents (id, name, description, prompt, tool_names, model_settings)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.Name, def.Description, def.Prompt, toolsJSON, settingsJSON,
	).Scan(&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: agent %q: %w", def.Name, ErrDuplicateName)
		}
		return fmt.Errorf("store: create agent: %w", err)
	}
	return nil
}

// GetAgent implements [Store].
func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*AgentDefinition, error) {
	const query = `
		SELECT id, name, description, prompt, tool_names, model_settings, created_at, updated_at
		FROM agents
		WHERE id = $1`

	def, err := scanAgent(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get agent %q: %w", id, err)
	}
	return def, nil
}

// ListAgents implements [Store].
func (s *PostgresStore) ListAgents(ctx context.Context) ([]AgentDefinition, error) {
	const query = `
		SELECT id, name, description, prompt, tool_names, model_settings, created_at, updated_at
		FROM agents
		ORDER BY name`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var defs []AgentDefinition
	for rows.Next() {
		def, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list agents scan: %w", err)
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	return defs, nil
}

// UpdateAgent implements [Store].
func (s *PostgresStore) UpdateAgent(ctx context.Context, def *AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	toolsJSON, settingsJSON, err := marshalAgentFields(def)
	if err != nil {
		return err
	}

	const query = `
		UPDATE agents SET
			name = $2, description = $3, prompt = $4,
			tool_names = $5, model_settings = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.Name, def.Description, def.Prompt, toolsJSON, settingsJSON,
	).Scan(&def.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("store: agent %q: %w", def.ID, ErrNotFound)
		}
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: agent %q: %w", def.Name, ErrDuplicateName)
		}
		return fmt.Errorf("store: update agent: %w", err)
	}
	return nil
}

// DeleteAgent implements [Store].
func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	const query = `DELETE FROM agents WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("store: delete agent %q: %w", id, err)
	}
	return nil
}

// UpsertAgent implements [Store].
func (s *PostgresStore) UpsertAgent(ctx context.Context, def *AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	toolsJSON, settingsJSON, err := marshalAgentFields(def)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO agents (id, name, description, prompt, tool_names, model_settings)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			prompt = EXCLUDED.prompt,
			tool_names = EXCLUDED.tool_names,
			model_settings = EXCLUDED.model_settings,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.Name, def.Description, def.Prompt, toolsJSON, settingsJSON,
	).Scan(&def.ID, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert agent: %w", err)
	}
	return nil
}

// CreateServer implements [Store].
func (s *PostgresStore) CreateServer(ctx context.Context, def *ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	envJSON, err := json.Marshal(emptyStringMap(def.Env))
	if err != nil {
		return fmt.Errorf("store: marshal env: %w", err)
	}

	const query = `
		INSERT INTO mcp_servers (id, name, description, transport, endpoint, env, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.Name, def.Description, string(def.Transport), def.Endpoint, envJSON, def.Active,
	).Scan(&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: server %q: %w", def.Name, ErrDuplicateName)
		}
		return fmt.Errorf("store: create server: %w", err)
	}
	return nil
}

// GetServer implements [Store].
func (s *PostgresStore) GetServer(ctx context.Context, id string) (*ServerDefinition, error) {
	const query = `
		SELECT id, name, description, transport, endpoint, env, active, created_at, updated_at
		FROM mcp_servers
		WHERE id = $1`

	def, err := scanServer(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get server %q: %w", id, err)
	}
	return def, nil
}

// ListServers implements [Store].
func (s *PostgresStore) ListServers(ctx context.Context, activeOnly bool) ([]ServerDefinition, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if activeOnly {
		const query = `
			SELECT id, name, description, transport, endpoint, env, active, created_at, updated_at
			FROM mcp_servers
			WHERE active
			ORDER BY name`
		rows, err = s.db.Query(ctx, query)
	} else {
		const query = `
			SELECT id, name, description, transport, endpoint, env, active, created_at, updated_at
			FROM mcp_servers
			ORDER BY name`
		rows, err = s.db.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list servers: %w", err)
	}
	defer rows.Close()

	var defs []ServerDefinition
	for rows.Next() {
		def, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list servers scan: %w", err)
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list servers: %w", err)
	}
	return defs, nil
}

// UpdateServer implements [Store].
func (s *PostgresStore) UpdateServer(ctx context.Context, def *ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	envJSON, err := json.Marshal(emptyStringMap(def.Env))
	if err != nil {
		return fmt.Errorf("store: marshal env: %w", err)
	}

	const query = `
		UPDATE mcp_servers SET
			name = $2, description = $3, transport = $4,
			endpoint = $5, env = $6, active = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.Name, def.Description, string(def.Transport), def.Endpoint, envJSON, def.Active,
	).Scan(&def.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("store: server %q: %w", def.ID, ErrNotFound)
		}
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: server %q: %w", def.Name, ErrDuplicateName)
		}
		return fmt.Errorf("store: update server: %w", err)
	}
	return nil
}

// DeleteServer implements [Store].
func (s *PostgresStore) DeleteServer(ctx context.Context, id string) error {
	const query = `DELETE FROM mcp_servers WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("store: delete server %q: %w", id, err)
	}
	return nil
}

// UpsertServer implements [Store].
func (s *PostgresStore) UpsertServer(ctx context.Context, def *ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	envJSON, err := json.Marshal(emptyStringMap(def.Env))
	if err != nil {
		return fmt.Errorf("store: marshal env: %w", err)
	}

	const query = `
		INSERT INTO mcp_servers (id, name, description, transport, endpoint, env, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			transport = EXCLUDED.transport,
			endpoint = EXCLUDED.endpoint,
			env = EXCLUDED.env,
			active = EXCLUDED.active,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.Name, def.Description, string(def.Transport), def.Endpoint, envJSON, def.Active,
	).Scan(&def.ID, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert server: %w", err)
	}
	return nil
}

// row is the subset of pgx.Row and pgx.Rows used by the scan helpers.
type row interface {
	Scan(dest ...any) error
}

// scanAgent reads one agents row.
func scanAgent(r row) (*AgentDefinition, error) {
	var def AgentDefinition
	var toolsJSON, settingsJSON []byte

	if err := r.Scan(
		&def.ID, &def.Name, &def.Description, &def.Prompt,
		&toolsJSON, &settingsJSON, &def.CreatedAt, &def.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(toolsJSON, &def.ToolNames); err != nil {
		return nil, fmt.Errorf("unmarshal tool_names: %w", err)
	}
	if err := json.Unmarshal(settingsJSON, &def.Model); err != nil {
		return nil, fmt.Errorf("unmarshal model_settings: %w", err)
	}
	return &def, nil
}

// scanServer reads one mcp_servers row.
func scanServer(r row) (*ServerDefinition, error) {
	var def ServerDefinition
	var transport string
	var envJSON []byte

	if err := r.Scan(
		&def.ID, &def.Name, &def.Description, &transport, &def.Endpoint,
		&envJSON, &def.Active, &def.CreatedAt, &def.UpdatedAt,
	); err != nil {
		return nil, err
	}
	def.Transport = mcp.Transport(transport)
	if err := json.Unmarshal(envJSON, &def.Env); err != nil {
		return nil, fmt.Errorf("unmarshal env: %w", err)
	}
	return &def, nil
}

// marshalAgentFields serialises the JSONB columns of an agent definition.
func marshalAgentFields(def *AgentDefinition) (toolsJSON, settingsJSON []byte, err error) {
	toolsJSON, err = json.Marshal(emptySlice(def.ToolNames))
	if err != nil {
		return nil, nil, fmt.Errorf("store: marshal tool_names: %w", err)
	}
	settingsJSON, err = json.Marshal(def.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("store: marshal model_settings: %w", err)
	}
	return toolsJSON, settingsJSON, nil
}

// emptySlice returns s if non-nil, otherwise an empty non-nil slice. This
// ensures JSON marshalling produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// emptyStringMap returns m if non-nil, otherwise an empty non-nil map. This
// ensures JSON marshalling produces "{}" instead of "null".
func emptyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
