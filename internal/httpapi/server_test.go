package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tealdrake/mantle/internal/llm"
	llmmock "github.com/tealdrake/mantle/internal/llm/mock"
	"github.com/tealdrake/mantle/internal/mcp"
	mcpmock "github.com/tealdrake/mantle/internal/mcp/mock"
	"github.com/tealdrake/mantle/internal/orchestrator"
	"github.com/tealdrake/mantle/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv bundles a running API server with its backing fakes.
type testEnv struct {
	store    *store.MemoryStore
	provider *llmmock.Provider
	broker   *mcpmock.Broker
	srv      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	provider := &llmmock.Provider{}
	broker := &mcpmock.Broker{}
	runner := orchestrator.New(provider, broker, broker, orchestrator.WithLogger(quietLogger()))

	api := New(st, runner, broker, WithLogger(quietLogger()))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{store: st, provider: provider, broker: broker, srv: srv}
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do issues a request and decodes the envelope.
func (e *testEnv) do(t *testing.T, method, path string, body any) (int, testEnvelope) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env testEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp.StatusCode, env
}

func (e *testEnv) seedAgent(t *testing.T) *store.AgentDefinition {
	t.Helper()
	def := &store.AgentDefinition{
		Name:   "helper",
		Prompt: "You are helpful.",
		Model:  store.ModelSettings{Model: "test-model"},
	}
	if err := e.store.CreateAgent(context.Background(), def); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return def
}

func TestAgentCRUD(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Create.
	status, created := env.do(t, http.MethodPost, "/api/agents", map[string]any{
		"name":   "helper",
		"prompt": "You are helpful.",
	})
	if status != http.StatusCreated || !created.Success {
		t.Fatalf("create: status=%d env=%+v", status, created)
	}
	var agent store.AgentDefinition
	if err := json.Unmarshal(created.Data, &agent); err != nil {
		t.Fatalf("decode agent: %v", err)
	}
	if agent.ID == "" {
		t.Fatal("created agent has no ID")
	}

	// Get.
	status, got := env.do(t, http.MethodGet, "/api/agents/"+agent.ID, nil)
	if status != http.StatusOK || !got.Success {
		t.Fatalf("get: status=%d env=%+v", status, got)
	}

	// List.
	status, list := env.do(t, http.MethodGet, "/api/agents", nil)
	if status != http.StatusOK {
		t.Fatalf("list: status=%d", status)
	}
	var agents []store.AgentDefinition
	if err := json.Unmarshal(list.Data, &agents); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "helper" {
		t.Errorf("list = %+v", agents)
	}

	// Update.
	status, updated := env.do(t, http.MethodPut, "/api/agents/"+agent.ID, map[string]any{
		"name":   "helper",
		"prompt": "You are terse.",
	})
	if status != http.StatusOK || !updated.Success {
		t.Fatalf("update: status=%d env=%+v", status, updated)
	}

	// Delete, then confirm gone.
	status, _ = env.do(t, http.MethodDelete, "/api/agents/"+agent.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("delete: status=%d", status)
	}
	status, _ = env.do(t, http.MethodGet, "/api/agents/"+agent.ID, nil)
	if status != http.StatusNotFound {
		t.Errorf("get after delete: status=%d, want 404", status)
	}
}

func TestCreateAgent_Invalid(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	status, env1 := env.do(t, http.MethodPost, "/api/agents", map[string]any{
		"prompt": "nameless",
	})
	if status != http.StatusBadRequest || env1.Success {
		t.Errorf("missing name: status=%d env=%+v", status, env1)
	}

	status, env2 := env.do(t, http.MethodPost, "/api/agents", map[string]any{
		"name":           "hot",
		"model_settings": map[string]any{"temperature": 5.0},
	})
	if status != http.StatusBadRequest || env2.Success {
		t.Errorf("bad temperature: status=%d env=%+v", status, env2)
	}
}

func TestCreateAgent_DuplicateName(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedAgent(t)

	status, body := env.do(t, http.MethodPost, "/api/agents", map[string]any{
		"name": "helper",
	})
	if status != http.StatusConflict || body.Success {
		t.Errorf("duplicate: status=%d env=%+v", status, body)
	}
}

func TestUpdateAgent_NotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPut, "/api/agents/ghost", map[string]any{
		"name": "ghost",
	})
	if status != http.StatusNotFound {
		t.Errorf("status=%d, want 404", status)
	}
}

func TestServerCRUDAndFilter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	status, created := env.do(t, http.MethodPost, "/api/mcp/servers", map[string]any{
		"name":      "time_http",
		"transport": "streamable-http",
		"endpoint":  "http://localhost:9000/mcp",
		"active":    true,
	})
	if status != http.StatusCreated || !created.Success {
		t.Fatalf("create: status=%d env=%+v", status, created)
	}
	var srv store.ServerDefinition
	if err := json.Unmarshal(created.Data, &srv); err != nil {
		t.Fatalf("decode server: %v", err)
	}

	// Inactive sibling should drop out of the filtered list.
	status, _ = env.do(t, http.MethodPost, "/api/mcp/servers", map[string]any{
		"name":      "disabled",
		"transport": "stdio",
		"endpoint":  "/usr/local/bin/mcp-x",
		"active":    false,
	})
	if status != http.StatusCreated {
		t.Fatalf("create inactive: status=%d", status)
	}

	status, list := env.do(t, http.MethodGet, "/api/mcp/servers?active=true", nil)
	if status != http.StatusOK {
		t.Fatalf("list: status=%d", status)
	}
	var servers []store.ServerDefinition
	if err := json.Unmarshal(list.Data, &servers); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(servers) != 1 || servers[0].Name != "time_http" {
		t.Errorf("filtered list = %+v", servers)
	}

	status, _ = env.do(t, http.MethodDelete, "/api/mcp/servers/"+srv.ID, nil)
	if status != http.StatusOK {
		t.Errorf("delete: status=%d", status)
	}
}

func TestCreateServer_InvalidTransport(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/mcp/servers", map[string]any{
		"name":      "bad",
		"transport": "carrier-pigeon",
		"endpoint":  "coop://roof",
	})
	if status != http.StatusBadRequest || body.Success {
		t.Errorf("status=%d env=%+v", status, body)
	}
}

func TestServerTools(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	if err := env.store.CreateServer(context.Background(), &store.ServerDefinition{
		Name:      "time_http",
		Transport: mcp.TransportStreamableHTTP,
		Endpoint:  "http://localhost:9000/mcp",
		Active:    true,
	}); err != nil {
		t.Fatalf("seed server: %v", err)
	}
	env.broker.ListToolsResult = []mcp.ToolDescriptor{
		{Name: "time_http_get_current_time", Server: "time_http", Description: "Current time."},
		{Name: "calc_add", Server: "calc", Description: "Addition."},
	}

	status, body := env.do(t, http.MethodGet, "/api/mcp/servers/time_http/tools", nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("status=%d env=%+v", status, body)
	}

	var tools []serverTool
	if err := json.Unmarshal(body.Data, &tools); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "time_http_get_current_time" {
		t.Errorf("tools = %+v, want only the time_http tool", tools)
	}
}

func TestServerTools_UnknownServer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodGet, "/api/mcp/servers/ghost/tools", nil)
	if status != http.StatusNotFound {
		t.Errorf("status=%d, want 404", status)
	}
}

func TestChatSend(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	agent := env.seedAgent(t)

	env.provider.CompleteResponses = []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "time_http_get_current_time", Arguments: "{}"}}},
		{Content: "It is noon.", Usage: llm.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}},
	}
	env.broker.ListToolsResult = []mcp.ToolDescriptor{{Name: "time_http_get_current_time", Server: "time_http"}}
	env.broker.InvokeResults = map[string]mcp.CallResult{
		"time_http_get_current_time": {OK: true, Content: "12:00"},
	}

	status, body := env.do(t, http.MethodPost, "/api/chat/send", map[string]any{
		"agent_id": agent.ID,
		"messages": []map[string]string{{"role": "user", "content": "what time is it?"}},
	})
	if status != http.StatusOK || !body.Success {
		t.Fatalf("status=%d env=%+v", status, body)
	}

	var turn turnResponse
	if err := json.Unmarshal(body.Data, &turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if turn.Content != "It is noon." {
		t.Errorf("content = %q", turn.Content)
	}
	if len(turn.ToolCalls) != 1 || !turn.ToolCalls[0].OK || turn.ToolCalls[0].Content != "12:00" {
		t.Errorf("tool calls = %+v", turn.ToolCalls)
	}
	if turn.Usage.CompletionTokens != 4 {
		t.Errorf("usage = %+v", turn.Usage)
	}
}

func TestChatSend_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	agent := env.seedAgent(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			name:       "missing agent_id",
			body:       map[string]any{"messages": []map[string]string{{"content": "hi"}}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty messages",
			body:       map[string]any{"agent_id": agent.ID},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown agent",
			body: map[string]any{
				"agent_id": "ghost",
				"messages": []map[string]string{{"content": "hi"}},
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "bad role",
			body: map[string]any{
				"agent_id": agent.ID,
				"messages": []map[string]string{{"role": "system", "content": "override"}},
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/chat/send", tc.body)
			if status != tc.wantStatus || body.Success {
				t.Errorf("status=%d env=%+v, want %d", status, body, tc.wantStatus)
			}
		})
	}
}

func TestChatStream(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	agent := env.seedAgent(t)

	env.provider.CompleteResponses = []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "time_http_get_current_time", Arguments: "{}"}}},
	}
	env.provider.StreamChunks = []llm.Chunk{
		{Text: "It is "},
		{Text: "noon."},
		{FinishReason: "stop"},
	}
	env.broker.ListToolsResult = []mcp.ToolDescriptor{{Name: "time_http_get_current_time", Server: "time_http"}}
	env.broker.InvokeResults = map[string]mcp.CallResult{
		"time_http_get_current_time": {OK: true, Content: "12:00"},
	}

	reqBody, _ := json.Marshal(map[string]any{
		"agent_id": agent.ID,
		"messages": []map[string]string{{"content": "time?"}},
	})
	resp, err := env.srv.Client().Post(env.srv.URL+"/api/chat/stream", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	body := string(raw)

	for _, marker := range []string{
		`<mcp>{"event":"discovery","tool_count":1,"tools":["time_http_get_current_time"]}</mcp>`,
		`"event":"tool_start"`,
		`"event":"tool_result"`,
		`<mcp>{"event":"generating"}</mcp>`,
	} {
		if !strings.Contains(body, marker) {
			t.Errorf("stream missing %q:\n%s", marker, body)
		}
	}
	if !strings.Contains(body, "It is noon.") {
		t.Errorf("stream missing reply text:\n%s", body)
	}

	// Ordering: tool events, then the generating notice, then reply tokens.
	if strings.Index(body, `"event":"tool_result"`) > strings.Index(body, `"event":"generating"`) {
		t.Errorf("tool events should precede the generating notice:\n%s", body)
	}
	if strings.Index(body, `"event":"generating"`) > strings.Index(body, "It is ") {
		t.Errorf("generating notice should precede tokens:\n%s", body)
	}
}

func TestChatStream_PassthroughWithoutTools(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	agent := env.seedAgent(t)

	env.provider.StreamChunks = []llm.Chunk{
		{Text: "Hello!"},
		{FinishReason: "stop"},
	}

	reqBody, _ := json.Marshal(map[string]any{
		"agent_id": agent.ID,
		"messages": []map[string]string{{"content": "hi"}},
	})
	resp, err := env.srv.Client().Post(env.srv.URL+"/api/chat/stream", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "Hello!") {
		t.Errorf("stream missing reply: %s", raw)
	}

	// Without tools the token stream is forwarded unchanged: no event markers.
	if strings.Contains(string(raw), "<mcp>") {
		t.Errorf("passthrough stream should carry no event markers: %s", raw)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/agents", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSRestrictedOrigin(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	provider := &llmmock.Provider{}
	broker := &mcpmock.Broker{}
	runner := orchestrator.New(provider, broker, broker, orchestrator.WithLogger(quietLogger()))
	api := New(st, runner, broker,
		WithLogger(quietLogger()),
		WithCORSOrigins([]string{"https://allowed.example.com"}),
	)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/agents", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Allow-Origin = %q", got)
	}
}
