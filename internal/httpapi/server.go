// Package httpapi exposes the Mantle REST and streaming HTTP surface.
//
// Routes:
//
//	GET/POST   /api/agents
//	GET/PUT/DELETE /api/agents/{id}
//	POST       /api/chat/send          — blocking conversation turn
//	POST       /api/chat/stream        — streaming turn (tool events + tokens)
//	GET/POST   /api/mcp/servers
//	PUT/DELETE /api/mcp/servers/{id}
//	GET        /api/mcp/servers/{name}/tools — live discovery for one server
//
// JSON endpoints wrap their payloads in a {success, message, data} envelope.
// The streaming endpoint writes plain chunked text instead.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/tealdrake/mantle/internal/llm"
	"github.com/tealdrake/mantle/internal/mcp"
	"github.com/tealdrake/mantle/internal/observe"
	"github.com/tealdrake/mantle/internal/orchestrator"
	"github.com/tealdrake/mantle/internal/store"
)

// TurnRunner is the orchestrator surface the chat handlers need.
// [orchestrator.Orchestrator] satisfies it.
type TurnRunner interface {
	RunTurn(ctx context.Context, agent *store.AgentDefinition, history []llm.Message) (*orchestrator.TurnResult, error)
	StreamTurn(ctx context.Context, agent *store.AgentDefinition, history []llm.Message) <-chan orchestrator.Event
}

// Server holds the handler dependencies. Construct with [New]; serve the
// result of [Server.Handler].
type Server struct {
	store    store.Store
	runner   TurnRunner
	registry mcp.Registry

	metrics     *observe.Metrics
	logger      *slog.Logger
	corsOrigins []string
}

// Option configures a Server during construction.
type Option func(*Server)

// WithCORSOrigins restricts cross-origin requests to the given origins.
// Default allows any origin.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithLogger overrides the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server over the given definition store, turn runner, and tool
// registry.
func New(st store.Store, runner TurnRunner, registry mcp.Registry, opts ...Option) *Server {
	s := &Server{
		store:    st,
		runner:   runner,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler builds the full route table wrapped in CORS and observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/agents", s.handleCreateAgent)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PUT /api/agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeleteAgent)

	mux.HandleFunc("POST /api/chat/send", s.handleChatSend)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)

	mux.HandleFunc("GET /api/mcp/servers", s.handleListServers)
	mux.HandleFunc("POST /api/mcp/servers", s.handleCreateServer)
	mux.HandleFunc("PUT /api/mcp/servers/{id}", s.handleUpdateServer)
	mux.HandleFunc("DELETE /api/mcp/servers/{id}", s.handleDeleteServer)
	mux.HandleFunc("GET /api/mcp/servers/{name}/tools", s.handleServerTools)

	return observe.Middleware(s.metrics)(s.cors(mux))
}

// cors handles preflight requests and sets the CORS response headers. An
// empty origin allow-list reflects any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.corsOrigins) == 0 {
		return true
	}
	return slices.Contains(s.corsOrigins, origin)
}
