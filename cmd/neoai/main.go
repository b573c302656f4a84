// Package main is the neoai bridge: it links a neovim instance per terminal
// to one ACP coding agent and serves the chat UI over a WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neoai/neoai/internal/agent/process"
	"github.com/neoai/neoai/internal/bridge"
	"github.com/neoai/neoai/internal/common/config"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/editor"
	"github.com/neoai/neoai/internal/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCommand(os.Args[2:]))
		case "version", "--version":
			fmt.Println("neoai", version)
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "neoai: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting neoai...", zap.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Tracing (only when an OTLP endpoint is configured)
	if enabled, err := tracing.Init(ctx, cfg.Tracing.ServiceName, ""); err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
	} else if enabled {
		log.Info("OpenTelemetry tracing enabled")
	}

	var cleanups []func() error
	runCleanups := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](); err != nil {
				log.Warn("cleanup failed", zap.Error(err))
			}
		}
	}
	defer runCleanups()

	// 4. Event bus
	eventBus, cleanup, err := provideEventBus(cfg, log)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, cleanup)

	// 5. Storage
	repo, storeCleanups, err := provideStore(cfg, log)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, storeCleanups...)

	// Sockets left behind by bridges that died without cleaning up.
	if removed := editor.CleanupStale(cfg.Editor.SocketDir, log); removed > 0 {
		log.Info("Removed stale editor sockets", zap.Int("count", removed))
	}

	// 6. Agent process manager
	agentMgr := process.NewManager(process.Config{
		DefaultPath:     cfg.Agent.Path,
		WorkingDir:      cfg.Agent.WorkingDir,
		InstallDir:      cfg.Agent.InstallDir,
		StartTimeout:    cfg.Agent.StartTimeout,
		DownloadTimeout: cfg.Agent.DownloadTimeout,
		ClientVersion:   version,
	}, log)

	// 7. Bridge service
	svc := bridge.NewService(cfg, agentMgr, repo, eventBus, log)
	if err := svc.LoadSettings(ctx); err != nil {
		log.Warn("Failed to load settings", zap.Error(err))
	}

	// 8. Gateway
	router, cleanup, err := provideRouter(ctx, cfg, log, eventBus, svc)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, cleanup)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Gateway listening",
			zap.String("addr", server.Addr),
			zap.String("websocket", "/ws"),
			zap.String("http", "/api/v1"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		runGracefulShutdown(server, svc, log)
		return nil
	})

	err = g.Wait()
	log.Info("neoai stopped")
	return err
}

// runGracefulShutdown stops the gateway, then the agent, then every terminal
// actor so transcripts are saved.
func runGracefulShutdown(server *http.Server, svc *bridge.Service, log *logger.Logger) {
	log.Info("Shutting down neoai...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := svc.StopAgent(shutdownCtx); err != nil && !errors.Is(err, process.ErrNotRunning) {
		log.Error("Agent stop error", zap.Error(err))
	}

	svc.Close(shutdownCtx)

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracing shutdown error", zap.Error(err))
	}
}
