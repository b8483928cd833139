package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/api"
	"github.com/acme/call-session-orchestrator/internal/app"
	"github.com/acme/call-session-orchestrator/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())
	lg := container.Logger

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App)
	if err != nil {
		lg.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		lg.Fatal("failed to ensure kafka topics", zap.Error(err))
	}

	services := container.Services()
	server := api.NewServer(container, container.HandlerSet())

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	p.Go(server.Start)
	p.Go(services.Orchestrator.Run)
	p.Go(services.Queue.Run)
	if worker := container.RequestWorker(); worker != nil {
		p.Go(worker.Run)
	}

	lg.Info("call session orchestrator started", zap.Int("port", container.Config.HTTP.Port))
	if err := p.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("service terminated", zap.Error(err))
	}
	lg.Info("call session orchestrator stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
