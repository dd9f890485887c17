package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory [Store] for tests and single-process
// development. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	agents  map[string]AgentDefinition  // key: id
	servers map[string]ServerDefinition // key: id
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:  make(map[string]AgentDefinition),
		servers: make(map[string]ServerDefinition),
	}
}

// CreateAgent implements [Store].
func (s *MemoryStore) CreateAgent(_ context.Context, def *AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.agentIDByName(def.Name); ok && id != def.ID {
		return fmt.Errorf("store: agent %q: %w", def.Name, ErrDuplicateName)
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	} else if _, exists := s.agents[def.ID]; exists {
		return fmt.Errorf("store: agent %q: %w", def.ID, ErrDuplicateName)
	}

	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	s.agents[def.ID] = cloneAgent(*def)
	return nil
}

// GetAgent implements [Store].
func (s *MemoryStore) GetAgent(_ context.Context, id string) (*AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.agents[id]
	if !ok {
		return nil, nil
	}
	cp := cloneAgent(def)
	return &cp, nil
}

// ListAgents implements [Store].
func (s *MemoryStore) ListAgents(_ context.Context) ([]AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]AgentDefinition, 0, len(s.agents))
	for _, def := range s.agents {
		defs = append(defs, cloneAgent(def))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// UpdateAgent implements [Store].
func (s *MemoryStore) UpdateAgent(_ context.Context, def *AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.agents[def.ID]
	if !ok {
		return fmt.Errorf("store: agent %q: %w", def.ID, ErrNotFound)
	}
	if id, taken := s.agentIDByName(def.Name); taken && id != def.ID {
		return fmt.Errorf("store: agent %q: %w", def.Name, ErrDuplicateName)
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()
	s.agents[def.ID] = cloneAgent(*def)
	return nil
}

// DeleteAgent implements [Store].
func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

// UpsertAgent implements [Store].
func (s *MemoryStore) UpsertAgent(_ context.Context, def *AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if id, ok := s.agentIDByName(def.Name); ok {
		existing := s.agents[id]
		def.ID = id
		def.CreatedAt = existing.CreatedAt
	} else {
		if def.ID == "" {
			def.ID = uuid.NewString()
		}
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	s.agents[def.ID] = cloneAgent(*def)
	return nil
}

// CreateServer implements [Store].
func (s *MemoryStore) CreateServer(_ context.Context, def *ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.serverIDByName(def.Name); ok && id != def.ID {
		return fmt.Errorf("store: server %q: %w", def.Name, ErrDuplicateName)
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	} else if _, exists := s.servers[def.ID]; exists {
		return fmt.Errorf("store: server %q: %w", def.ID, ErrDuplicateName)
	}

	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	s.servers[def.ID] = cloneServer(*def)
	return nil
}

// GetServer implements [Store].
func (s *MemoryStore) GetServer(_ context.Context, id string) (*ServerDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.servers[id]
	if !ok {
		return nil, nil
	}
	cp := cloneServer(def)
	return &cp, nil
}

// ListServers implements [Store].
func (s *MemoryStore) ListServers(_ context.Context, activeOnly bool) ([]ServerDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]ServerDefinition, 0, len(s.servers))
	for _, def := range s.servers {
		if activeOnly && !def.Active {
			continue
		}
		defs = append(defs, cloneServer(def))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// UpdateServer implements [Store].
func (s *MemoryStore) UpdateServer(_ context.Context, def *ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.servers[def.ID]
	if !ok {
		return fmt.Errorf("store: server %q: %w", def.ID, ErrNotFound)
	}
	if id, taken := s.serverIDByName(def.Name); taken && id != def.ID {
		return fmt.Errorf("store: server %q: %w", def.Name, ErrDuplicateName)
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()
	s.servers[def.ID] = cloneServer(*def)
	return nil
}

// DeleteServer implements [Store].
func (s *MemoryStore) DeleteServer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, id)
	return nil
}

// UpsertServer implements [Store].
func (s *MemoryStore) UpsertServer(_ context.Context, def *ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if id, ok := s.serverIDByName(def.Name); ok {
		existing := s.servers[id]
		def.ID = id
		def.CreatedAt = existing.CreatedAt
	} else {
		if def.ID == "" {
			def.ID = uuid.NewString()
		}
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	s.servers[def.ID] = cloneServer(*def)
	return nil
}

// agentIDByName looks up an agent ID by name. Caller must hold the lock.
func (s *MemoryStore) agentIDByName(name string) (string, bool) {
	for id, def := range s.agents {
		if def.Name == name {
			return id, true
		}
	}
	return "", false
}

// serverIDByName looks up a server ID by name. Caller must hold the lock.
func (s *MemoryStore) serverIDByName(name string) (string, bool) {
	for id, def := range s.servers {
		if def.Name == name {
			return id, true
		}
	}
	return "", false
}

// cloneAgent deep-copies mutable fields so callers cannot alias store state.
func cloneAgent(def AgentDefinition) AgentDefinition {
	if def.ToolNames != nil {
		tools := make([]string, len(def.ToolNames))
		copy(tools, def.ToolNames)
		def.ToolNames = tools
	}
	return def
}

// cloneServer deep-copies mutable fields so callers cannot alias store state.
func cloneServer(def ServerDefinition) ServerDefinition {
	if def.Env != nil {
		env := make(map[string]string, len(def.Env))
		for k, v := range def.Env {
			env[k] = v
		}
		def.Env = env
	}
	return def
}
