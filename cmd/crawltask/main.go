// Package main wires together the crawl task service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/asandberg/crawltask/internal/api"
	"github.com/asandberg/crawltask/internal/clock/system"
	"github.com/asandberg/crawltask/internal/config"
	"github.com/asandberg/crawltask/internal/crawl"
	"github.com/asandberg/crawltask/internal/engine"
	"github.com/asandberg/crawltask/internal/executor"
	"github.com/asandberg/crawltask/internal/hub"
	"github.com/asandberg/crawltask/internal/id/uuid"
	"github.com/asandberg/crawltask/internal/logging"
	"github.com/asandberg/crawltask/internal/metrics"
	"github.com/asandberg/crawltask/internal/registry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	idGen := uuid.New()

	var crawlEngine crawl.Engine
	switch cfg.Crawler.Engine {
	case "headless":
		headlessEngine, err := engine.NewHeadlessEngine(engine.HeadlessConfig{
			UserAgent:   cfg.Crawler.UserAgent,
			MaxParallel: cfg.Headless.MaxParallel,
			NavTimeout:  time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		}, logger.Named("engine"))
		if err != nil {
			logger.Fatal("headless engine init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := headlessEngine.Close(); closeErr != nil {
				logger.Warn("headless engine close failed", zap.Error(closeErr))
			}
		}()
		crawlEngine = headlessEngine
	default:
		crawlEngine = engine.NewCollyEngine(cfg.Crawler.UserAgent, logger.Named("engine"))
	}

	reg := registry.New(idGen, clock, logger.Named("registry"))
	eventHub := hub.New(reg, idGen, clock, logger.Named("hub"))
	exec := executor.New(reg, crawlEngine, eventHub, clock, executor.Config{
		MaxConcurrent:   cfg.Crawler.MaxConcurrentTasks,
		MaxTaskDuration: cfg.MaxTaskDuration(),
	}, logger.Named("executor"))

	apiServer := api.NewServer(ctx, reg, exec, eventHub, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
