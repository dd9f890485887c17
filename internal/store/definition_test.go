package store

import (
	"strings"
	"testing"

	"github.com/tealdrake/mantle/internal/mcp"
)

func TestAgentDefinitionValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		def     AgentDefinition
		wantErr []string // substrings that must appear in the error
	}{
		{
			name: "valid minimal",
			def:  AgentDefinition{Name: "helper"},
		},
		{
			name: "valid full",
			def: AgentDefinition{
				Name:      "researcher",
				Prompt:    "You research things.",
				ToolNames: []string{"search", "time"},
				Model:     ModelSettings{Model: "gpt-4o", Temperature: 0.7, MaxTokens: 1024},
			},
		},
		{
			name:    "empty name",
			def:     AgentDefinition{},
			wantErr: []string{"name must not be empty"},
		},
		{
			name:    "temperature out of range",
			def:     AgentDefinition{Name: "a", Model: ModelSettings{Temperature: 2.5}},
			wantErr: []string{"temperature"},
		},
		{
			name:    "negative max tokens",
			def:     AgentDefinition{Name: "a", Model: ModelSettings{MaxTokens: -1}},
			wantErr: []string{"max_tokens"},
		},
		{
			name:    "multiple violations",
			def:     AgentDefinition{Model: ModelSettings{Temperature: -1}},
			wantErr: []string{"name must not be empty", "temperature"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.def.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing substring %q", err, want)
				}
			}
		})
	}
}

func TestServerDefinitionValidate(t *testing.T) {
	t.Parallel()

	valid := ServerDefinition{
		Name:      "time_http",
		Transport: mcp.TransportStdio,
		Endpoint:  "/usr/local/bin/mcp-time",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	invalid := ServerDefinition{Transport: "websocket"}
	err := invalid.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"name must not be empty", "transport", "endpoint must not be empty"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing substring %q", err, want)
		}
	}
}

func TestServerDefinitionToServerConfig(t *testing.T) {
	t.Parallel()

	def := ServerDefinition{
		ID:        "abc",
		Name:      "calc_server",
		Transport: mcp.TransportStreamableHTTP,
		Endpoint:  "http://localhost:8931/mcp",
		Env:       map[string]string{"API_KEY": "x"},
		Active:    true,
	}
	cfg := def.ToServerConfig()

	if cfg.Name != "calc_server" || cfg.Transport != mcp.TransportStreamableHTTP {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Endpoint != def.Endpoint || cfg.Env["API_KEY"] != "x" {
		t.Errorf("config = %+v", cfg)
	}
}
