// Command mantle is the main entry point for the Mantle agent chat server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tealdrake/mantle/internal/config"
	"github.com/tealdrake/mantle/internal/health"
	"github.com/tealdrake/mantle/internal/httpapi"
	"github.com/tealdrake/mantle/internal/llm"
	"github.com/tealdrake/mantle/internal/llm/anyllm"
	"github.com/tealdrake/mantle/internal/llm/compat"
	"github.com/tealdrake/mantle/internal/llm/normalize"
	llmopenai "github.com/tealdrake/mantle/internal/llm/openai"
	"github.com/tealdrake/mantle/internal/mcp"
	"github.com/tealdrake/mantle/internal/mcp/broker"
	"github.com/tealdrake/mantle/internal/observe"
	"github.com/tealdrake/mantle/internal/orchestrator"
	"github.com/tealdrake/mantle/internal/store"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mantle: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mantle: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it at
	// runtime without rebuilding the handler.
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("mantle starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mantle",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Definition store ──────────────────────────────────────────────────────
	var (
		st       store.Store
		checkers []health.Checker
	)
	if cfg.Database.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			slog.Error("failed to connect to database", "err", err)
			return 1
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			return 1
		}
		st = pg
		checkers = append(checkers, health.DatabaseChecker(pool))
		slog.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		slog.Info("using in-memory store — definitions are lost on restart")
	}

	if err := seedDefinitions(ctx, st, cfg.Seed); err != nil {
		slog.Error("seeding definitions failed", "err", err)
		return 1
	}

	// ── LLM provider ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.MCP.HeuristicTool)

	provider, err := reg.Create(cfg.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "provider", cfg.LLM.Provider, "err", err)
		return 1
	}
	slog.Info("provider created", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)

	// ── Tool broker ───────────────────────────────────────────────────────────
	// The broker reads the active server set from the store on every refresh,
	// so servers added through the API become visible without a restart.
	source := broker.SourceFunc(func(ctx context.Context) ([]mcp.ServerConfig, error) {
		defs, err := st.ListServers(ctx, true)
		if err != nil {
			return nil, err
		}
		configs := make([]mcp.ServerConfig, len(defs))
		for i := range defs {
			configs[i] = defs[i].ToServerConfig()
		}
		return configs, nil
	})

	var brokerOpts []broker.Option
	if cfg.MCP.DefaultServer != "" {
		brokerOpts = append(brokerOpts, broker.WithDefaultServer(cfg.MCP.DefaultServer))
	}
	if cfg.MCP.CallTimeout > 0 {
		brokerOpts = append(brokerOpts, broker.WithCallTimeout(cfg.MCP.CallTimeout))
	}
	tools := broker.New(source, brokerOpts...)
	checkers = append(checkers, health.RegistryChecker(tools))

	// ── Orchestrator ──────────────────────────────────────────────────────────
	orch := orchestrator.New(provider, tools, tools,
		orchestrator.WithDefaults(store.ModelSettings{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}),
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	api := httpapi.New(st, orch, tools, httpapi.WithCORSOrigins(cfg.Server.CORSOrigins))

	root := http.NewServeMux()
	root.Handle("/api/", api.Handler())
	root.Handle("GET /metrics", promhttp.Handler())
	health.New(version, checkers...).Register(root)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(ctx, st, level, config.Diff(old, new), new)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in LLM provider factories into reg.
// heuristicTool, when set, names the tool the compat provider's keyword
// heuristic injects for models that cannot emit structured tool calls.
func registerBuiltinProviders(reg *config.Registry, heuristicTool string) {
	// compat talks to any OpenAI-compatible completion endpoint; base_url is
	// mandatory (validated at config load).
	reg.Register("compat", func(entry config.LLMConfig) (llm.Provider, error) {
		var opts []compat.Option
		if entry.APIKey != "" {
			opts = append(opts, compat.WithAPIKey(entry.APIKey))
		}
		if entry.Timeout > 0 {
			opts = append(opts, compat.WithTimeout(entry.Timeout))
		}
		if heuristicTool != "" {
			opts = append(opts, compat.WithHeuristic(normalize.TimeHeuristic(heuristicTool)))
		}
		return compat.New(entry.BaseURL, opts...)
	})

	// openai uses the official SDK directly.
	reg.Register("openai", func(entry config.LLMConfig) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, llmopenai.WithTimeout(entry.Timeout))
		}
		return llmopenai.New(entry.APIKey, opts...)
	})

	// The remaining backends all share the same pattern through any-llm-go:
	// optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.Register(providerName, func(entry config.LLMConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.Register("ollama", func(entry config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// ── Seeding ───────────────────────────────────────────────────────────────────

// seedDefinitions upserts the agents and servers declared in the config file.
// Upserting by name makes boot idempotent: definitions created through the API
// survive, config-declared ones converge to the file.
func seedDefinitions(ctx context.Context, st store.Store, seed config.SeedConfig) error {
	for i := range seed.Agents {
		if err := st.UpsertAgent(ctx, &seed.Agents[i]); err != nil {
			return fmt.Errorf("upsert agent %q: %w", seed.Agents[i].Name, err)
		}
	}
	for i := range seed.Servers {
		if err := st.UpsertServer(ctx, &seed.Servers[i]); err != nil {
			return fmt.Errorf("upsert server %q: %w", seed.Servers[i].Name, err)
		}
	}
	return nil
}

// applyReload reacts to a config file change detected by the watcher. Only the
// log level and the seeded definitions are applied live; everything else
// (listen address, provider, database) needs a restart.
func applyReload(ctx context.Context, st store.Store, level *slog.LevelVar, diff config.ConfigDiff, cfg *config.Config) {
	if diff.LogLevelChanged {
		level.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}

	if !diff.AgentsChanged && !diff.ServersChanged {
		return
	}
	if err := seedDefinitions(ctx, st, cfg.Seed); err != nil {
		slog.Error("re-seeding after config change failed", "err", err)
		return
	}
	for _, ac := range diff.AgentChanges {
		slog.Info("seed agent updated",
			"agent", ac.Name,
			"added", ac.Added,
			"removed", ac.Removed,
			"prompt_changed", ac.PromptChanged,
			"tools_changed", ac.ToolsChanged,
			"model_changed", ac.ModelChanged,
		)
	}
	if diff.ServersChanged {
		slog.Info("seed servers updated")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Mantle — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Provider", cfg.LLM.Provider+" / "+cfg.LLM.Model)
	if cfg.Database.DSN != "" {
		printField("Store", "postgres")
	} else {
		printField("Store", "in-memory")
	}
	if cfg.MCP.DefaultServer != "" {
		printField("Default server", cfg.MCP.DefaultServer)
	}
	fmt.Printf("║  Seed agents     : %-19d ║\n", len(cfg.Seed.Agents))
	fmt.Printf("║  Seed servers    : %-19d ║\n", len(cfg.Seed.Servers))
	printField("Listen addr", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		printField("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}
