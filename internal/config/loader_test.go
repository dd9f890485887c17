package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/tealdrake/mantle/internal/config"
	"github.com/tealdrake/mantle/internal/mcp"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  cors_origins:
    - "https://app.example.com"
database:
  dsn: "postgres://localhost/mantle"
llm:
  provider: compat
  base_url: "http://localhost:11434/v1"
  model: qwen2.5
  max_tokens: 512
  temperature: 0.7
  timeout: 30s
mcp:
  default_server: time_http
  call_timeout: 20s
  heuristic_tool: time_http_get_current_time
seed:
  agents:
    - name: helper
      prompt: "You are a helpful assistant."
      tool_names: ["time"]
      model_settings:
        model: qwen2.5
        temperature: 0.5
        max_tokens: 256
  servers:
    - name: time_http
      transport: streamable-http
      endpoint: "http://localhost:9000/mcp"
      active: true
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.LLM.Provider != "compat" {
		t.Errorf("llm.provider = %q, want compat", cfg.LLM.Provider)
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("llm.timeout = %s, want 30s", cfg.LLM.Timeout)
	}
	if cfg.MCP.CallTimeout != 20*time.Second {
		t.Errorf("mcp.call_timeout = %s, want 20s", cfg.MCP.CallTimeout)
	}
	if len(cfg.Seed.Agents) != 1 {
		t.Fatalf("got %d seed agents, want 1", len(cfg.Seed.Agents))
	}
	agent := cfg.Seed.Agents[0]
	if agent.Name != "helper" {
		t.Errorf("agent name = %q, want helper", agent.Name)
	}
	if agent.Model.Temperature != 0.5 {
		t.Errorf("agent temperature = %g, want 0.5", agent.Model.Temperature)
	}
	if len(cfg.Seed.Servers) != 1 {
		t.Fatalf("got %d seed servers, want 1", len(cfg.Seed.Servers))
	}
	if cfg.Seed.Servers[0].Transport != mcp.TransportStreamableHTTP {
		t.Errorf("server transport = %q, want streamable-http", cfg.Seed.Servers[0].Transport)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
llm:
  provider: openai
  modle: gpt-4o
`))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "modle") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: bananas\nllm:\n  provider: openai\n",
			wantErr: "server.log_level",
		},
		{
			name:    "missing provider",
			yaml:    "llm:\n  model: gpt-4o\n",
			wantErr: "llm.provider is required",
		},
		{
			name:    "compat without base_url",
			yaml:    "llm:\n  provider: compat\n",
			wantErr: "llm.base_url is required",
		},
		{
			name:    "temperature out of range",
			yaml:    "llm:\n  provider: openai\n  temperature: 3.5\n",
			wantErr: "llm.temperature",
		},
		{
			name:    "negative max_tokens",
			yaml:    "llm:\n  provider: openai\n  max_tokens: -1\n",
			wantErr: "llm.max_tokens",
		},
		{
			name:    "tls missing key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\nllm:\n  provider: openai\n",
			wantErr: "server.tls",
		},
		{
			name: "duplicate seed agent names",
			yaml: `
llm:
  provider: openai
seed:
  agents:
    - name: twin
    - name: twin
`,
			wantErr: "duplicate",
		},
		{
			name: "seed server missing endpoint",
			yaml: `
llm:
  provider: openai
seed:
  servers:
    - name: broken
      transport: stdio
`,
			wantErr: "endpoint",
		},
		{
			name: "seed server invalid transport",
			yaml: `
llm:
  provider: openai
seed:
  servers:
    - name: broken
      transport: websocket
      endpoint: "ws://x"
`,
			wantErr: "transport",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: loud
llm:
  provider: compat
  temperature: -1
`))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"server.log_level", "llm.base_url", "llm.temperature"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/mantle.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
		{"bananas", "INFO"},
	}
	for _, tc := range tests {
		if got := tc.in.Level().String(); got != tc.want {
			t.Errorf("LogLevel(%q).Level() = %s, want %s", tc.in, got, tc.want)
		}
	}
}
