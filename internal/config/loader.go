package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known completion backend names. [Validate] warns
// about unrecognised names but does not reject them, so third-party providers
// registered at runtime still work.
var ValidProviderNames = []string{
	"compat", "openai", "anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// LLM backend
	if cfg.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.LLM.Provider) {
		slog.Warn("unknown llm provider name — may be a typo or third-party provider",
			"provider", cfg.LLM.Provider,
			"known", ValidProviderNames,
		)
	}
	if cfg.LLM.Provider == "compat" && cfg.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm.base_url is required when llm.provider is compat"))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %g is out of range [0.0, 2.0]", cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must not be negative, got %d", cfg.LLM.MaxTokens))
	}
	if cfg.LLM.Timeout < 0 {
		errs = append(errs, fmt.Errorf("llm.timeout must not be negative, got %s", cfg.LLM.Timeout))
	}
	if cfg.LLM.Model == "" && !seededAgentsAllSetModel(cfg) {
		slog.Warn("llm.model is empty and at least one seed agent does not set model_settings.model; completion calls for those agents will fail")
	}

	// MCP
	if cfg.MCP.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("mcp.call_timeout must not be negative, got %s", cfg.MCP.CallTimeout))
	}

	// Database
	if cfg.Database.DSN == "" && (len(cfg.Seed.Agents) > 0 || len(cfg.Seed.Servers) > 0) {
		slog.Warn("database.dsn is empty; seeded definitions will be kept in memory and lost on restart")
	}

	// Seed agents
	agentNamesSeen := make(map[string]int, len(cfg.Seed.Agents))
	for i, agent := range cfg.Seed.Agents {
		prefix := fmt.Sprintf("seed.agents[%d]", i)
		if err := agent.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if agent.Name != "" {
			if prev, ok := agentNamesSeen[agent.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of seed.agents[%d]", prefix, agent.Name, prev))
			}
			agentNamesSeen[agent.Name] = i
		}
	}

	// Seed servers
	serverNamesSeen := make(map[string]int, len(cfg.Seed.Servers))
	for i, srv := range cfg.Seed.Servers {
		prefix := fmt.Sprintf("seed.servers[%d]", i)
		if err := srv.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if srv.Name != "" {
			if prev, ok := serverNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of seed.servers[%d]", prefix, srv.Name, prev))
			}
			serverNamesSeen[srv.Name] = i
		}
	}

	// Heuristic tool must belong to some seeded server when both are set.
	if cfg.MCP.HeuristicTool != "" && cfg.MCP.DefaultServer != "" {
		if _, ok := serverNamesSeen[cfg.MCP.DefaultServer]; !ok && len(cfg.Seed.Servers) > 0 {
			slog.Warn("mcp.default_server does not match any seeded server name",
				"default_server", cfg.MCP.DefaultServer,
			)
		}
	}

	return errors.Join(errs...)
}

// seededAgentsAllSetModel reports whether every seed agent carries an
// explicit model identifier.
func seededAgentsAllSetModel(cfg *Config) bool {
	for _, a := range cfg.Seed.Agents {
		if a.Model.Model == "" {
			return false
		}
	}
	return true
}
