package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jo-hoe/shopglot/internal/catalog"
	"github.com/jo-hoe/shopglot/internal/catalog/shopify"
	appcfg "github.com/jo-hoe/shopglot/internal/config"
	"github.com/jo-hoe/shopglot/internal/executor"
	"github.com/jo-hoe/shopglot/internal/jobs"
	"github.com/jo-hoe/shopglot/internal/processor"
	"github.com/jo-hoe/shopglot/internal/resume"
	"github.com/jo-hoe/shopglot/internal/server"
	"github.com/jo-hoe/shopglot/internal/stats"
	"github.com/jo-hoe/shopglot/internal/storage"
	"github.com/jo-hoe/shopglot/internal/vision"
	"github.com/jo-hoe/shopglot/internal/vision/mock"
	"github.com/jo-hoe/shopglot/internal/vision/openai"
)

func main() {
	// Optional .env for local development; config env expansion picks it up.
	_ = godotenv.Load()

	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	// Store (SQLite), shared with the cost tracker
	store, err := jobs.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		logger.Error("sqlite open", "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	tracker, err := stats.NewTracker(store.DB())
	if err != nil {
		logger.Error("init cost tracker", "err", err)
		os.Exit(1)
	}

	// Vision client
	var visionClient vision.Client
	switch strings.ToLower(cfg.Vision.Provider) {
	case "mock":
		visionClient = mock.New(cfg.Vision.Mock)
	case "openai":
		visionClient = openai.New(cfg.Vision.OpenAI)
	default:
		logger.Error("unsupported vision provider", "provider", cfg.Vision.Provider)
		os.Exit(1)
	}

	// Destination catalog (optional; download jobs work without it)
	var cat catalog.Client
	if cfg.CatalogEnabled() {
		sc, err := shopify.New(cfg.Catalog.CatalogSettings)
		if err != nil {
			logger.Error("init catalog client", "err", err)
			os.Exit(1)
		}
		cat = sc
		logger.Info("catalog destination enabled", "shop", cfg.Catalog.Shop)
	} else {
		logger.Info("no catalog configured, download destination only")
	}

	steps := processor.New(logger, visionClient, cat, cfg.Pipeline.ReassociatePause, cfg.Pipeline.ReassociateRetryPause)
	fetcher := storage.NewHTTPFetcher()
	output := storage.NewOutputWriter(cfg.Server.StorageDir)

	exec := executor.New(logger, store, steps, fetcher, cat, output, tracker)
	exec.ItemDelay = cfg.Pipeline.ItemDelay
	exec.RetryAttempts = cfg.Pipeline.RetryAttempts
	exec.RetryPause = cfg.Pipeline.RetryPause
	exec.ImageCost = cfg.Pipeline.ImageCost

	ctrl := resume.New(logger, store)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Surface an interrupted run; resuming is an operator decision via the API.
	if job, err := ctrl.Inspect(); err != nil {
		logger.Error("inspect stored job", "err", err)
	} else if job != nil {
		logger.Info("incomplete job found, resume or discard it via the API",
			"job_id", job.ID, "pending", job.PendingCount(), "items", len(job.Items))
	}

	// HTTP server
	svc := &server.Service{
		Log:      logger,
		Cfg:      cfg,
		Store:    store,
		Steps:    steps,
		Executor: exec,
		Resume:   ctrl,
		Catalog:  cat,
		Stats:    tracker,
		RunCtx:   rootCtx,
	}
	if gen, ok := visionClient.(vision.Generator); ok {
		svc.Generate = gen
	}
	if bal, ok := visionClient.(vision.BalanceProvider); ok {
		svc.Balance = bal
	}
	httpSrv := server.NewHTTPServer(svc)

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	logger.Info("shutdown complete")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
