package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tealdrake/mantle/internal/mcp"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefreshSkipsUnusableServers(t *testing.T) {
	t.Parallel()

	b := New(StaticSource(
		mcp.ServerConfig{Name: "good", Transport: mcp.TransportStreamableHTTP, Endpoint: "http://localhost:9999/mcp"},
		mcp.ServerConfig{Name: "", Transport: mcp.TransportStdio, Endpoint: "/bin/true"},
		mcp.ServerConfig{Name: "badtransport", Transport: "websocket", Endpoint: "ws://x"},
		mcp.ServerConfig{Name: "noendpoint", Transport: mcp.TransportStdio, Endpoint: ""},
	), WithLogger(quietLogger()))

	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.servers) != 1 {
		t.Fatalf("len(servers) = %d, want 1", len(b.servers))
	}
	if _, ok := b.servers["good"]; !ok {
		t.Error("server \"good\" should be registered")
	}
}

func TestRefreshSourceError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("database down")
	b := New(SourceFunc(func(context.Context) ([]mcp.ServerConfig, error) {
		return nil, wantErr
	}), WithLogger(quietLogger()))

	err := b.Refresh(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("Refresh error = %v, want wrapped %v", err, wantErr)
	}
}

func TestListToolsEmptyRegistry(t *testing.T) {
	t.Parallel()

	b := New(StaticSource(), WithLogger(quietLogger()))
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	tools, err := b.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("tools = %v, want none", tools)
	}
}

func TestListToolsToleratesUnreachableServer(t *testing.T) {
	t.Parallel()

	// A stdio server whose executable does not exist must contribute zero
	// tools without failing the listing.
	b := New(StaticSource(
		mcp.ServerConfig{Name: "ghost", Transport: mcp.TransportStdio, Endpoint: "/nonexistent/mcp-server"},
	), WithLogger(quietLogger()), WithCallTimeout(2*time.Second))
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	tools, err := b.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("tools = %v, want none from an unreachable server", tools)
	}
}

func TestInvokeUnresolvableName(t *testing.T) {
	t.Parallel()

	b := New(StaticSource(), WithLogger(quietLogger()))

	res := b.Invoke(context.Background(), "plainname", "{}")
	if res.OK {
		t.Error("Invoke should fail for an unresolvable name")
	}
	if !strings.Contains(res.Error, "resolve") {
		t.Errorf("Error = %q, want a resolution failure", res.Error)
	}
}

func TestInvokeUnregisteredServer(t *testing.T) {
	t.Parallel()

	b := New(StaticSource(
		mcp.ServerConfig{Name: "calc_server", Transport: mcp.TransportStdio, Endpoint: "/bin/true"},
	), WithLogger(quietLogger()))

	res := b.Invoke(context.Background(), "other_server_tool", "{}")
	if res.OK {
		t.Error("Invoke should fail when the resolved server is not registered")
	}
}

func TestInvokeConnectFailure(t *testing.T) {
	t.Parallel()

	b := New(StaticSource(
		mcp.ServerConfig{Name: "ghost", Transport: mcp.TransportStdio, Endpoint: "/nonexistent/mcp-server"},
	), WithLogger(quietLogger()), WithCallTimeout(2*time.Second))

	res := b.Invoke(context.Background(), "ghost_sometool", "not even json")
	if res.OK {
		t.Error("Invoke should fail when the server cannot be started")
	}
	if res.Error == "" {
		t.Error("failed CallResult should carry an error message")
	}
}

func TestInvokeUsesDefaultServer(t *testing.T) {
	t.Parallel()

	b := New(StaticSource(
		mcp.ServerConfig{Name: "time_http", Transport: mcp.TransportStdio, Endpoint: "/nonexistent/mcp-time"},
	), WithDefaultServer("time_http"), WithLogger(quietLogger()), WithCallTimeout(2*time.Second))

	// "now" has no separator; it must resolve to the default server and then
	// fail at connect rather than at resolution.
	res := b.Invoke(context.Background(), "now", "{}")
	if res.OK {
		t.Fatal("Invoke should fail against the unreachable default server")
	}
	if !strings.Contains(res.Error, "time_http") {
		t.Errorf("Error = %q, want it to name the default server", res.Error)
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantExec string
		wantArgs int
	}{
		{"/bin/foo --bar baz", "/bin/foo", 2},
		{"server", "server", 0},
		{"", "", 0},
		{"   ", "", 0},
	}
	for _, tt := range tests {
		executable, args := splitCommand(tt.in)
		if executable != tt.wantExec || len(args) != tt.wantArgs {
			t.Errorf("splitCommand(%q) = (%q, %d args), want (%q, %d)",
				tt.in, executable, len(args), tt.wantExec, tt.wantArgs)
		}
	}
}

func TestSchemaToMap(t *testing.T) {
	t.Parallel()

	if m := schemaToMap(nil); m["type"] != "object" {
		t.Errorf("nil schema = %v, want object default", m)
	}

	in := map[string]any{"type": "object", "properties": map[string]any{}}
	if m := schemaToMap(in); m["type"] != "object" {
		t.Errorf("map schema = %v", m)
	}

	type schema struct {
		Type string `json:"type"`
	}
	if m := schemaToMap(schema{Type: "object"}); m["type"] != "object" {
		t.Errorf("struct schema = %v", m)
	}

	// Unmarshalable values fall back to the object default.
	if m := schemaToMap(make(chan int)); m["type"] != "object" {
		t.Errorf("bad schema = %v, want object default", m)
	}
}
