package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Lechros/chatda/internal/backend"
	"github.com/Lechros/chatda/internal/browser"
	"github.com/Lechros/chatda/internal/config"
	"github.com/Lechros/chatda/internal/logging"
	"github.com/Lechros/chatda/internal/mangle"
	mcpserver "github.com/Lechros/chatda/internal/mcp"
	"github.com/Lechros/chatda/internal/overlay"
	"github.com/Lechros/chatda/internal/recorder"
	"github.com/Lechros/chatda/internal/storage"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var ssePort int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the overlay daemon and its MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if ssePort != 0 {
				cfg.MCP.SSEPort = ssePort
			}
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the chatda config file")
	cmd.Flags().IntVar(&ssePort, "sse-port", 0, "Optional SSE port override (falls back to config)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	// stdio mode keeps stderr free for the MCP protocol
	logger, err := logging.New(cfg.Server, cfg.MCP.SSEPort == 0)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	session := uuid.NewString()
	logger = logger.With(zap.String("session", session))

	engine, err := mangle.NewEngine(cfg.Mangle, logger.Named("mangle"))
	if err != nil {
		return fmt.Errorf("failed to initialize mangle engine: %w", err)
	}

	sessions := browser.NewSessionManager(cfg.Browser, logger.Named("browser"))

	store, closeStore, err := openStore(ctx, cfg.Storage, session, sessions)
	if err != nil {
		return err
	}
	defer closeStore()

	deps := overlay.Deps{
		Config:  &cfg,
		Logger:  logger.Named("overlay"),
		Storage: store,
		Facts:   engine,
		Session: session,
	}
	client := backend.New(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout())
	deps.Summary = client
	deps.Chat = client

	if cfg.Recorder.Enable {
		rec, err := recorder.New(cfg.Recorder.Dir)
		if err != nil {
			return fmt.Errorf("failed to initialize recorder: %w", err)
		}
		if err := rec.Start(session); err != nil {
			return fmt.Errorf("failed to start trace: %w", err)
		}
		defer func() { _ = rec.Close() }()
		deps.Trace = rec
	}

	ctrl := overlay.New(deps)
	ctrl.Init(ctx)
	defer ctrl.Teardown()

	server, err := mcpserver.NewServer(cfg, mcpserver.Deps{
		Overlay:  ctrl,
		Sessions: sessions,
		Engine:   engine,
		Logger:   logger.Named("mcp"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP server: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Browser.AutoStart {
		g.Go(func() error {
			if err := sessions.Start(gctx); err != nil {
				return fmt.Errorf("failed to start browser: %w", err)
			}
			if _, err := sessions.OpenOverlay(gctx, cfg.Browser.StartURL, ctrl); err != nil {
				return fmt.Errorf("failed to open overlay tab: %w", err)
			}
			return nil
		})
	} else {
		logger.Info("browser auto-start disabled; use launch-browser to attach later")
	}

	g.Go(func() error {
		// stdin EOF ends the server without an error
		defer cancel()
		if cfg.MCP.SSEPort > 0 {
			logger.Info("starting MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
			return server.StartSSE(gctx, cfg.MCP.SSEPort)
		}
		logger.Info("starting MCP stdio server")
		return server.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			logger.Warn("browser shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig, session string, pages browser.PageSource) (storage.Store, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return storage.NewMemory(), func() {}, nil
	case "redis":
		r, err := storage.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, session, cfg.TTL())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect session store: %w", err)
		}
		return r, func() { _ = r.Close() }, nil
	case "browser":
		return browser.NewSessionStorage(pages), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
