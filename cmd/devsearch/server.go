package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/devsearch/internal/api"
	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/catalog"
	"github.com/kalambet/devsearch/internal/config"
	"github.com/kalambet/devsearch/internal/engine"
	"github.com/kalambet/devsearch/internal/maintenance"
	"github.com/kalambet/devsearch/internal/rag"
	"github.com/kalambet/devsearch/internal/search"
	"github.com/kalambet/devsearch/internal/semantic"
	"github.com/kalambet/devsearch/internal/storage"
	"github.com/kalambet/devsearch/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("stdio")
		seedPath, _ := cmd.Flags().GetString("seed")
		return runServer(stdio, seedPath)
	},
}

func init() {
	serveCmd.Flags().Bool("stdio", true, "serve MCP over stdin/stdout")
	serveCmd.Flags().String("seed", "", "YAML file to load into the catalog before serving")
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func searchSettings(cfg config.Config) search.Settings {
	return search.Settings{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
		Threshold:    cfg.Search.FuzzyThreshold,
		IndexTTL:     cfg.Search.IndexTTL,
	}
}

// selectBackend picks the embedding model when vectors are enabled and the
// engine answers the capability probe, and term-frequency vectors otherwise.
func selectBackend(ctx context.Context, cfg config.Config) semantic.Backend {
	if !cfg.Search.VectorEnabled {
		return semantic.TermBackend()
	}
	eng, err := engine.Detect(engine.DetectConfig{OllamaBaseURL: cfg.Ollama.BaseURL})
	if err != nil {
		slog.Warn("embedding engine unavailable", "error", err)
		return semantic.TermBackend()
	}
	return semantic.Select(ctx, semantic.Probe{
		Engine:    eng,
		Model:     cfg.Ollama.EmbedModel,
		Dimension: cfg.Search.VectorDimension,
		AutoPull:  cfg.Ollama.AutoPull,
		Progress:  os.Stderr,
	})
}

func runServer(stdio bool, seedPath string) error {
	fmt.Fprintf(os.Stderr, "devsearch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	if !stdio && !cfg.Server.HTTPEnabled {
		return apperr.Config("nothing to serve: stdio and HTTP are both disabled", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if seedPath != "" {
		res, err := seedFromFile(ctx, store, seedPath)
		if err != nil {
			return err
		}
		slog.Info("catalog seeded", "projects", res.Projects, "apis", res.APIs, "tags", res.Tags)
	}

	registry, err := search.NewRegistry(store, search.RegistryOptions{
		Settings:        searchSettings(cfg),
		VectorThreshold: cfg.Search.VectorThreshold,
		Backend:         selectBackend(ctx, cfg),
	})
	if err != nil {
		return fmt.Errorf("creating search registry: %w", err)
	}
	defer registry.Close()

	var ragSvc *rag.Service
	if cfg.RAG.Enabled {
		ragSvc = rag.New(store, registry, rag.Options{
			TTL:           cfg.RAG.CacheTTL,
			HighRelevance: cfg.RAG.RelevanceThreshold,
		})
	}

	errStats := apperr.NewStats()
	manager := tools.NewManager(tools.Options{
		Window:           cfg.Tools.RateWindow,
		DefaultRateLimit: cfg.Tools.DefaultRateLimit,
		DefaultCacheTTL:  cfg.Tools.DefaultCacheTTL,
		Errors:           errStats,
	})
	deps := catalog.Deps{Registry: registry, RAG: ragSvc, Tools: manager, Errors: errStats}
	if err := catalog.Register(deps); err != nil {
		return err
	}
	healthFn := func() catalog.Report { return catalog.Health(deps) }

	// Warm the indexes so the first search does not pay for the build.
	go func() {
		if _, err := registry.BuildVectorIndex(ctx, false, 100); err != nil && ctx.Err() == nil {
			slog.Warn("initial index build failed", "error", err)
		}
	}()

	worker := maintenance.NewWorker(manager, errStats, cfg.Tools.SweepInterval, cfg.Tools.StatsResetInterval)
	go worker.Run(ctx)

	if stdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Tools: manager, Health: healthFn, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			// stdin closed: the client is gone.
			stop()
		}()
		slog.Info("MCP server started (stdio transport)", "tools", len(manager.List()))
	}

	if !cfg.Server.HTTPEnabled {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		return nil
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.HTTPPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHTTPHandler(api.HTTPDeps{Tools: manager, Health: healthFn}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "devsearch listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
