package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/cati-dispatch/internal/app"
	"github.com/acme/cati-dispatch/internal/sweeper"
	"github.com/acme/cati-dispatch/internal/telemetry"
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

	shutdownTracing, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-sweeper", container.Config.App.Version)
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}
	defer shutdownTracing(context.Background())

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	repos := container.Repositories()
	lease := container.SweeperLease()
	defer lease.Release(context.Background())

	sw := sweeper.New(repos.Cases, repos.Campaigns, lease, container.Logger, sweeper.Config{
		TickInterval:        container.Config.Sweeper.TickInterval,
		BatchSize:           container.Config.Sweeper.BatchSize,
		DefaultClaimTimeout: container.Config.Dispatch.DefaultClaimTimeout,
	})

	log.Println("starting claim sweeper")
	if err := sw.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("sweeper terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
