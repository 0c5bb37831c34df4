// Package main is the entrypoint for the genjobs worker: it runs the
// worker pool and the reaper against the shared queue and job store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ayupilot/genjobs/internal/ai"
	"github.com/ayupilot/genjobs/internal/config"
	"github.com/ayupilot/genjobs/internal/queue"
	"github.com/ayupilot/genjobs/internal/store"
	"github.com/ayupilot/genjobs/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "workers", cfg.Jobs.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	jobQueue, err := queue.NewRedisQueue(cfg.Redis.URL, cfg.Jobs.LeaseTimeout)
	if err != nil {
		return fmt.Errorf("create job queue: %w", err)
	}
	defer jobQueue.Close()

	if err := jobQueue.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", provider.Name())

	pgStore := store.NewPostgresStore(pool)
	processor := worker.NewProcessor(pgStore, jobQueue, provider, cfg.Jobs)
	workerPool := worker.NewPool(jobQueue, processor, cfg.Jobs.Workers)
	reaper := worker.NewReaper(pgStore, jobQueue, cfg.Jobs)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		workerPool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reaper.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining workers...")
	wg.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}
