package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bl8ckfz/forecast-alerts/internal/alerts"
	"github.com/bl8ckfz/forecast-alerts/pkg/config"
	"github.com/bl8ckfz/forecast-alerts/pkg/database"
	"github.com/bl8ckfz/forecast-alerts/pkg/messaging"
	"github.com/bl8ckfz/forecast-alerts/pkg/observability"
	"github.com/rs/zerolog"
)

const durableName = "alert-dispatcher"

type dispatcher interface {
	Dispatch(ctx context.Context, triggered []alerts.TriggeredAlert)
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("alert-dispatcher", observability.ParseLevel(cfg.LogLevel))
	zl := logger.Zerolog()
	health := observability.NewHealthChecker()

	logger.Info("Starting Alert Dispatcher service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.NATS.URL == "" {
		logger.Fatal("NATS is required", errors.New("NATS_URL is empty"))
	}

	nc, err := messaging.NewNATSConn(messaging.Config{URL: cfg.NATS.URL, Name: durableName}, zl)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", err)
	}
	defer messaging.Close(nc, zl)

	health.AddCheck("nats", func(ctx context.Context) error {
		if nc.IsClosed() {
			return fmt.Errorf("NATS connection closed")
		}
		return nil
	})

	js, err := messaging.NewJetStream(nc)
	if err != nil {
		logger.Fatal("Failed to create JetStream context", err)
	}
	for _, spec := range messaging.DefaultStreams {
		if err := messaging.EnsureStream(js, spec, zl); err != nil {
			logger.Fatal("Failed to ensure stream", err)
		}
	}

	var persister *alerts.AlertPersister
	if cfg.Postgres.URL != "" {
		db, err := database.NewPool(ctx, database.Config{URL: cfg.Postgres.URL, MaxConns: cfg.Postgres.MaxConns}, zl)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", err)
		}
		defer database.Close(db, zl)

		if err := database.Migrate(ctx, db, zl); err != nil {
			logger.Fatal("Failed to migrate PostgreSQL", err)
		}
		health.AddCheck("postgres", func(ctx context.Context) error {
			return db.Ping(ctx)
		})

		persister = alerts.NewAlertPersister(db, zl)
		defer persister.Close()
	} else {
		logger.Info("PostgreSQL disabled, alert history will not be recorded")
	}

	notifier := alerts.NewNotifier(cfg.Alerts.WebhookURLs, zl)
	logger.WithField("webhooks", len(cfg.Alerts.WebhookURLs)).Info("Initialized notifier")

	d := alerts.NewDispatcher(notifier, persister, zl)
	sub, err := messaging.SubscribeDurable(js, messaging.SubjectAlertsTriggered, durableName, handleAlert(ctx, d, zl), zl)
	if err != nil {
		logger.Fatal("Failed to subscribe to alerts", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /health/live", health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", health.ReadinessHandler())

	addr := metricsAddr(cfg.Server.MetricsPort)
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("addr", addr).Info("Metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	if err := sub.Drain(); err != nil {
		logger.Error("Failed to drain subscription", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown failed", err)
	}

	logger.Info("Alert Dispatcher service stopped")
}

// handleAlert decodes one alerts.triggered message and dispatches it.
// Malformed payloads are acknowledged and dropped since redelivery cannot fix them.
func handleAlert(ctx context.Context, d dispatcher, logger zerolog.Logger) messaging.Handler {
	return func(data []byte) error {
		var alert alerts.TriggeredAlert
		if err := json.Unmarshal(data, &alert); err != nil {
			logger.Error().Err(err).Msg("Dropping malformed alert payload")
			return nil
		}
		if alert.ID == "" {
			logger.Warn().Msg("Dropping alert without id")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		d.Dispatch(ctx, []alerts.TriggeredAlert{alert})
		return nil
	}
}

func metricsAddr(port string) string {
	if port == "" {
		return ":9091"
	}
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}
