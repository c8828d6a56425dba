package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/outbound-call-scheduler/internal/app"
	"github.com/acme/outbound-call-scheduler/internal/builder"
	"github.com/acme/outbound-call-scheduler/internal/telemetry"
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
	defer container.Close()

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-builder")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	repos, err := container.Repositories()
	if err != nil {
		log.Fatalf("failed to build repositories: %v", err)
	}
	services, err := container.Services()
	if err != nil {
		log.Fatalf("failed to build services: %v", err)
	}

	runner := builder.NewRunner(
		container.Config.Builders,
		repos.Appointments,
		services.Campaign,
		services.Call,
		container.Logger.Named("builder"),
	)

	container.Logger.Info("campaign builder starting")
	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("builder terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
