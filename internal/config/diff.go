package config

import (
	"slices"

	"github.com/tealdrake/mantle/internal/store"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentsChanged is true when any seed agent was added, removed, or
	// modified. The affected agents are listed in AgentChanges.
	AgentsChanged bool
	AgentChanges  []AgentDiff

	// ServersChanged is true when the seed server set differs in any way.
	// Server changes are coarse: the tool broker re-reads its server set on
	// every invocation, so a re-seed is all that is needed.
	ServersChanged bool
}

// AgentDiff describes what changed for a single seed agent between two configs.
type AgentDiff struct {
	Name          string
	PromptChanged bool
	ToolsChanged  bool
	ModelChanged  bool
	Added         bool
	Removed       bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldAgents := make(map[string]int, len(old.Seed.Agents))
	for i := range old.Seed.Agents {
		oldAgents[old.Seed.Agents[i].Name] = i
	}
	newAgents := make(map[string]int, len(new.Seed.Agents))
	for i := range new.Seed.Agents {
		newAgents[new.Seed.Agents[i].Name] = i
	}

	// Modified and removed agents.
	for name, oi := range oldAgents {
		ni, exists := newAgents[name]
		if !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Removed: true})
			d.AgentsChanged = true
			continue
		}
		oldA, newA := &old.Seed.Agents[oi], &new.Seed.Agents[ni]
		ad := AgentDiff{
			Name:          name,
			PromptChanged: oldA.Prompt != newA.Prompt,
			ToolsChanged:  !slices.Equal(oldA.ToolNames, newA.ToolNames),
			ModelChanged:  oldA.Model != newA.Model,
		}
		if ad.PromptChanged || ad.ToolsChanged || ad.ModelChanged {
			d.AgentChanges = append(d.AgentChanges, ad)
			d.AgentsChanged = true
		}
	}

	// Added agents.
	for name := range newAgents {
		if _, exists := oldAgents[name]; !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Added: true})
			d.AgentsChanged = true
		}
	}

	d.ServersChanged = serversDiffer(old.Seed.Servers, new.Seed.Servers)

	return d
}

func serversDiffer(old, new []store.ServerDefinition) bool {
	if len(old) != len(new) {
		return true
	}
	byName := make(map[string]int, len(old))
	for i := range old {
		byName[old[i].Name] = i
	}
	for i := range new {
		oi, ok := byName[new[i].Name]
		if !ok {
			return true
		}
		o, n := &old[oi], &new[i]
		if o.Transport != n.Transport || o.Endpoint != n.Endpoint || o.Active != n.Active {
			return true
		}
		if len(o.Env) != len(n.Env) {
			return true
		}
		for k, v := range o.Env {
			if n.Env[k] != v {
				return true
			}
		}
	}
	return false
}
