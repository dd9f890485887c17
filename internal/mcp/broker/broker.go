// Package broker provides the concrete implementation of the [mcp.Registry]
// and [mcp.Dispatcher] interfaces using the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk).
//
// Connections are one-shot: every tool listing and every invocation opens a
// fresh session against the owning server and closes it when done. Server
// registrations change at runtime (they live in the store and are edited over
// the HTTP API), and a session cache would hand out connections to servers
// that have been reconfigured or removed. The cost of a handshake per call is
// accepted for always-current connections.
//
// Typical usage:
//
//	b := broker.New(source,
//	    broker.WithDefaultServer("time_http"),
//	    broker.WithCallTimeout(30*time.Second),
//	)
//
//	if err := b.Refresh(ctx); err != nil { … }
//	tools, err := b.ListTools(ctx)
//	result := b.Invoke(ctx, "time_http_get_current_time", "{}")
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/tealdrake/mantle/internal/mcp"
)

// defaultCallTimeout bounds a single tool invocation, handshake included.
const defaultCallTimeout = 30 * time.Second

// Source supplies the current set of MCP server configurations, typically
// backed by the store's active servers.
type Source interface {
	Servers(ctx context.Context) ([]mcp.ServerConfig, error)
}

// SourceFunc adapts a function to the [Source] interface.
type SourceFunc func(ctx context.Context) ([]mcp.ServerConfig, error)

// Servers implements [Source].
func (f SourceFunc) Servers(ctx context.Context) ([]mcp.ServerConfig, error) {
	return f(ctx)
}

// StaticSource returns a [Source] that always serves the given fixed set.
func StaticSource(servers ...mcp.ServerConfig) Source {
	return SourceFunc(func(context.Context) ([]mcp.ServerConfig, error) {
		return servers, nil
	})
}

// Broker implements [mcp.Registry] and [mcp.Dispatcher].
//
// The zero value is NOT usable; create instances with [New].
type Broker struct {
	source        Source
	client        *mcpsdk.Client
	defaultServer string
	callTimeout   time.Duration
	logger        *slog.Logger

	mu       sync.RWMutex
	servers  map[string]mcp.ServerConfig
	resolver *mcp.Resolver
}

// Compile-time interface checks.
var (
	_ mcp.Registry   = (*Broker)(nil)
	_ mcp.Dispatcher = (*Broker)(nil)
)

// Option is a functional option for Broker.
type Option func(*Broker)

// WithDefaultServer sets the server assumed to own qualified tool names that
// match no registered server name.
func WithDefaultServer(name string) Option {
	return func(b *Broker) {
		b.defaultServer = name
	}
}

// WithCallTimeout bounds a single tool invocation, connection handshake
// included.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

// WithLogger sets the logger for skipped servers and failed listings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// New creates a Broker that loads its server set from source.
func New(source Source, opts ...Option) *Broker {
	b := &Broker{
		source:      source,
		callTimeout: defaultCallTimeout,
		logger:      slog.Default(),
		servers:     make(map[string]mcp.ServerConfig),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "mantle-broker", Version: "1.0.0"},
			nil,
		),
	}
	for _, o := range opts {
		o(b)
	}
	b.resolver = mcp.NewResolver(b.defaultServer, nil)
	return b
}

// Refresh implements [mcp.Registry]. Servers with an invalid transport or an
// empty endpoint are logged and skipped so that one bad registration never
// takes down the rest of the catalogue.
func (b *Broker) Refresh(ctx context.Context) error {
	configs, err := b.source.Servers(ctx)
	if err != nil {
		return fmt.Errorf("broker: load server configs: %w", err)
	}

	servers := make(map[string]mcp.ServerConfig, len(configs))
	names := make([]string, 0, len(configs))
	for _, cfg := range configs {
		switch {
		case cfg.Name == "":
			b.logger.Warn("skipping server with empty name", "transport", cfg.Transport)
			continue
		case !cfg.Transport.IsValid():
			b.logger.Warn("skipping server with unsupported transport",
				"server", cfg.Name, "transport", cfg.Transport)
			continue
		case cfg.Endpoint == "":
			b.logger.Warn("skipping server with empty endpoint", "server", cfg.Name)
			continue
		}
		servers[cfg.Name] = cfg
		names = append(names, cfg.Name)
	}

	b.mu.Lock()
	b.servers = servers
	b.resolver = mcp.NewResolver(b.defaultServer, names)
	b.mu.Unlock()
	return nil
}

// ListTools implements [mcp.Registry]. Servers are queried concurrently; a
// server that cannot be reached or fails its listing contributes zero tools.
func (b *Broker) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	b.mu.RLock()
	configs := make([]mcp.ServerConfig, 0, len(b.servers))
	for _, cfg := range b.servers {
		configs = append(configs, cfg)
	}
	b.mu.RUnlock()

	var mu sync.Mutex
	var tools []mcp.ToolDescriptor

	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range configs {
		g.Go(func() error {
			discovered, err := b.listServerTools(gctx, cfg)
			if err != nil {
				b.logger.Warn("tool discovery failed", "server", cfg.Name, "error", err)
				return nil
			}
			mu.Lock()
			tools = append(tools, discovered...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("broker: list tools: %w", err)
	}

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

// listServerTools opens a session against one server, lists its tools, and
// closes the session.
func (b *Broker) listServerTools(ctx context.Context, cfg mcp.ServerConfig) ([]mcp.ToolDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	session, err := b.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var tools []mcp.ToolDescriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		tools = append(tools, mcp.ToolDescriptor{
			Name:        mcp.Join(cfg.Name, tool.Name),
			Server:      cfg.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
		})
	}
	return tools, nil
}

// Invoke implements [mcp.Dispatcher].
//
// The server set is refreshed before resolution so that invocations see
// registrations added since the last turn; a refresh failure falls back to
// the cached set.
func (b *Broker) Invoke(ctx context.Context, name string, arguments string) mcp.CallResult {
	if err := b.Refresh(ctx); err != nil {
		b.logger.Warn("server refresh before invocation failed", "error", err)
	}

	b.mu.RLock()
	server, tool, ok := b.resolver.Resolve(name)
	cfg, registered := b.servers[server]
	b.mu.RUnlock()

	if !ok {
		return mcp.CallResult{OK: false, Error: fmt.Sprintf("cannot resolve tool name %q to a server", name)}
	}
	if !registered {
		return mcp.CallResult{OK: false, Error: fmt.Sprintf("server %q for tool %q is not registered", server, name)}
	}

	// The model does not reliably emit valid JSON arguments. A parameter-less
	// call is more useful than a dropped one.
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args == nil {
		if strings.TrimSpace(arguments) != "" && strings.TrimSpace(arguments) != "{}" {
			b.logger.Warn("tool arguments are not a JSON object, invoking with none",
				"tool", name, "arguments", arguments)
		}
		args = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	session, err := b.connect(ctx, cfg)
	if err != nil {
		return mcp.CallResult{OK: false, Error: fmt.Sprintf("connect to server %q: %v", server, err)}
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return mcp.CallResult{OK: false, Error: fmt.Sprintf("call tool %q on server %q: %v", tool, server, err)}
	}

	content := textContent(result)
	if result.IsError {
		if content == "" {
			content = fmt.Sprintf("tool %q reported an error", name)
		}
		return mcp.CallResult{OK: false, Error: content}
	}
	return mcp.CallResult{OK: true, Content: content}
}

// connect opens a session for the given server configuration.
func (b *Broker) connect(ctx context.Context, cfg mcp.ServerConfig) (*mcpsdk.ClientSession, error) {
	var transport mcpsdk.Transport

	switch cfg.Transport {
	case mcp.TransportStdio:
		executable, args := splitCommand(cfg.Endpoint)
		if executable == "" {
			return nil, fmt.Errorf("stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case mcp.TransportStreamableHTTP:
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.Endpoint}

	case mcp.TransportSSE:
		transport = &mcpsdk.SSEClientTransport{Endpoint: cfg.Endpoint}

	default:
		return nil, fmt.Errorf("unsupported transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return session, nil
}

// textContent concatenates all text content blocks of a call result.
func textContent(result *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
