// Command aide is the main entry point for the Aide assistant core server.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/aide/internal/app"
	"github.com/MrWong99/aide/internal/config"
	"github.com/MrWong99/aide/internal/httpapi"
	"github.com/MrWong99/aide/internal/observe"
	"github.com/MrWong99/aide/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/aide/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/aide/pkg/provider/embeddings/openai"
	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/provider/llm/anyllm"
	"github.com/MrWong99/aide/pkg/provider/llm/ollama"
	"github.com/MrWong99/aide/pkg/provider/llm/openai"
	"github.com/MrWong99/aide/pkg/types"
)

// defaultListenAddr is used when server.listen_addr is empty.
const defaultListenAddr = ":8080"

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
			fmt.Fprintf(os.Stderr, "aide: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aide: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("aide starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "aide"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	var embedder embeddings.Provider
	if cfg.Embedding.Provider != "" {
		embedder, err = reg.CreateEmbeddings(cfg.Embedding)
		if err != nil {
			slog.Error("failed to build embedding backend", "err", err)
			return 1
		}
		slog.Info("embedding backend created",
			"provider", cfg.Embedding.Provider, "model", cfg.Embedding.Model)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── Assistant core ────────────────────────────────────────────────────────
	assistant, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithEmbedder(embedder),
	)
	if err != nil {
		slog.Error("failed to initialise assistant", "err", err)
		return 1
	}
	defer func() {
		if err := assistant.Close(); err != nil {
			slog.Warn("assistant close error", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		assistant.ApplyConfigDiff(d, new)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := httpapi.New(assistant, observe.DefaultMetrics(),
		httpapi.Checker{Name: "providers", Check: assistant.Healthy},
	)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

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
		slog.Warn("http shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives its config entry and constructs the provider from the
// real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM(config.KindOpenAI, func(entry config.ProviderConfig) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Referrer != "" {
			opts = append(opts, openai.WithReferrer(entry.Referrer, entry.Title))
		}
		return openai.New(entry.Name, entry.ResolveAPIKey(), entry.Model, defaultParams(entry), opts...)
	})

	reg.RegisterLLM(config.KindAnyLLM, func(entry config.ProviderConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if key := entry.ResolveAPIKey(); key != "" {
			opts = append(opts, anyllmlib.WithAPIKey(key))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Backend, entry.Model, defaultParams(entry), opts...)
	})

	reg.RegisterLLM(config.KindOllama, func(entry config.ProviderConfig) (llm.Provider, error) {
		return ollama.New(entry.Name, entry.BaseURL, entry.Model, defaultParams(entry))
	})

	reg.RegisterEmbeddings("openai", func(entry config.EmbeddingConfig) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(os.Getenv(entry.APIKeyEnv), entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.EmbeddingConfig) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if entry.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(entry.Dimensions))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})
}

// defaultParams maps a provider entry's generation defaults.
func defaultParams(entry config.ProviderConfig) types.GenerationParams {
	return types.GenerationParams{
		Temperature: entry.Temperature,
		MaxTokens:   entry.MaxTokens,
	}
}

// buildProviders instantiates every configured provider in order. The slice
// order doubles as the routing fallback order.
func buildProviders(cfg *config.Config, reg *config.Registry) ([]llm.Provider, error) {
	providers := make([]llm.Provider, 0, len(cfg.Providers))
	for _, entry := range cfg.Providers {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create provider %q: %w", entry.Name, err)
		}
		providers = append(providers, p)
		slog.Info("provider created", "name", entry.Name, "kind", entry.Kind, "model", entry.Model)
	}
	return providers, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Aide — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, p := range cfg.Providers {
		printEntry(p.Name, p.Model)
	}
	if cfg.Embedding.Provider != "" {
		printEntry("embeddings", cfg.Embedding.Provider+" / "+cfg.Embedding.Model)
	} else {
		printEntry("embeddings", "(disabled)")
	}
	driver := cfg.Cache.Driver
	if driver == "" {
		driver = config.DriverSQLite
	}
	printEntry("cache", string(driver))
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	printEntry("listen addr", addr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
