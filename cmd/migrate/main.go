package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bl8ckfz/forecast-alerts/pkg/config"
	"github.com/bl8ckfz/forecast-alerts/pkg/database"
	"github.com/bl8ckfz/forecast-alerts/pkg/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "optional YAML config file")
	timeout := flag.Duration("timeout", time.Minute, "migration timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate", observability.ParseLevel(cfg.LogLevel))
	if cfg.Postgres.URL == "" {
		logger.Fatal("POSTGRES_URL is required", fmt.Errorf("no database configured"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.Postgres.URL, MaxConns: 2}, logger.Zerolog())
	if err != nil {
		logger.Fatal("Failed to connect to database", err)
	}
	defer database.Close(pool, logger.Zerolog())

	if err := database.Migrate(ctx, pool, logger.Zerolog()); err != nil {
		logger.Error("Migration failed", err)
		database.Close(pool, logger.Zerolog())
		os.Exit(1)
	}

	logger.WithField("migrations", len(database.Migrations)).Info("All migrations completed")
}
