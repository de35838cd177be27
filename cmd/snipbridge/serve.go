package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"snipbridge/internal/config"
	"snipbridge/internal/httpx"
	"snipbridge/internal/journal"
	"snipbridge/internal/runservice"
	"snipbridge/internal/tools"
	"snipbridge/internal/toolserver"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func newToolsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Snippet tool server",
	}

	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve hello_mcp, get_snippet and save_snippet over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ToolServer.Addr = addr
			}
			logger := newLogger(logOutput, cfg)

			handler, closeFn, err := buildToolHandler(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			return httpx.Serve(cmd.Context(), cfg.ToolServer.Addr, handler, logger.With("component", "toolserver"))
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "Listen address (overrides tool_server.addr)")

	cmd.AddCommand(serve)
	return cmd
}

func buildToolHandler(ctx context.Context, cfg config.Config, logger *slog.Logger) (http.Handler, func(), error) {
	snippets, closeFn, err := openSnippetStore(ctx, cfg.Store)
	if err != nil {
		return nil, func() {}, err
	}
	server := toolserver.New(tools.NewSnippetRegistry(snippets), toolserver.Config{
		FunctionKey: cfg.ToolServer.FunctionKey,
		RateLimit: httpx.RateLimitConfig{
			RequestsPerMinute: cfg.ToolServer.RateLimitPerMinute,
			Burst:             cfg.ToolServer.RateLimitBurst,
		},
		Logger:   logger.With("component", "toolserver"),
		Registry: prometheus.NewRegistry(),
	})
	logger.Info("tool server ready", "backend", cfg.Store.Backend, "container", snippets.Container())
	return server.Handler(), closeFn, nil
}

func newAgentsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Local Agent-Run API",
	}

	var (
		addr      string
		withTools bool
	)
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Agent-Run API backed by the configured model provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.RunService.Addr = addr
			}
			logger := newLogger(logOutput, cfg)

			model, modelName, err := buildModelFromConfig(cfg)
			if err != nil {
				return err
			}
			settings, err := cfg.RunServiceSettings()
			if err != nil {
				return err
			}

			var journalStore *journal.Store
			if dir := strings.TrimSpace(cfg.RunService.JournalDir); dir != "" {
				journalStore, err = journal.NewStore(dir)
				if err != nil {
					return fmt.Errorf("open journal: %w", err)
				}
			}

			store := runservice.NewStore()
			engine, err := runservice.NewEngine(store, runservice.EngineConfig{
				Model:     model,
				ModelName: modelName,
				MaxTurns:  cfg.RunService.MaxTurns,
				RunTTL:    settings.RunTTL,
				Journal:   journalStore,
				Logger:    logger.With("component", "engine"),
			})
			if err != nil {
				return err
			}
			defer engine.Close()

			server := runservice.NewServer(store, engine, runservice.ServerConfig{
				APIKey:         cfg.RunService.APIKey,
				AllowedOrigins: cfg.RunService.AllowedOrigins,
				Logger:         logger.With("component", "runservice"),
			})
			logger.Info("run service ready", "model", modelName, "max_turns", cfg.RunService.MaxTurns, "run_ttl", settings.RunTTL)

			var toolHandler http.Handler
			if withTools {
				handler, closeFn, err := buildToolHandler(cmd.Context(), cfg, logger)
				if err != nil {
					return err
				}
				defer closeFn()
				toolHandler = handler
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return httpx.Serve(ctx, cfg.RunService.Addr, server.Handler(), logger.With("component", "runservice"))
			})
			if toolHandler != nil {
				g.Go(func() error {
					return httpx.Serve(ctx, cfg.ToolServer.Addr, toolHandler, logger.With("component", "toolserver"))
				})
			}
			return g.Wait()
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "Listen address (overrides run_service.addr)")
	serve.Flags().BoolVar(&withTools, "with-tools", false, "Also serve the snippet tool server on tool_server.addr")

	cmd.AddCommand(serve)
	return cmd
}
