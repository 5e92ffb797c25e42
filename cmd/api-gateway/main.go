package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bl8ckfz/forecast-alerts/internal/alerts"
	"github.com/bl8ckfz/forecast-alerts/internal/binance"
	"github.com/bl8ckfz/forecast-alerts/internal/dashboard"
	"github.com/bl8ckfz/forecast-alerts/internal/forecast"
	"github.com/bl8ckfz/forecast-alerts/pkg/config"
	"github.com/bl8ckfz/forecast-alerts/pkg/database"
	"github.com/bl8ckfz/forecast-alerts/pkg/messaging"
	"github.com/bl8ckfz/forecast-alerts/pkg/observability"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("api-gateway", observability.ParseLevel(cfg.LogLevel))
	logger.Info("Starting API Gateway service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to bootstrap API Gateway", err)
	}

	var workers sync.WaitGroup
	if srv.tickerStream != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			srv.tickerStream.Run(ctx)
		}()
	}

	horizon, _ := forecast.ParseHorizon(cfg.Refresh.Horizon)
	refresher := dashboard.NewRefresher(srv.controller, cfg.Refresh.Symbols, horizon, cfg.Refresh.Interval, cfg.Refresh.Timeout, logger.Zerolog())
	workers.Add(1)
	go func() {
		defer workers.Done()
		refresher.Run(ctx)
	}()

	go srv.rateLimiter.runSweeper(ctx.Done(), 10*time.Minute)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("API Gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", err)
	}
	srv.hub.closeAll()
	workers.Wait()
	srv.shutdown()

	logger.Info("API Gateway service stopped")
}

// bootstrap connects every configured integration. Redis, PostgreSQL, NATS
// and Binance are each optional; a missing one degrades a feature rather
// than failing startup, except when its connection attempt errors.
func bootstrap(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*server, error) {
	zl := logger.Zerolog()
	health := observability.NewHealthChecker()

	var (
		rdb  *redis.Client
		feed forecast.PriceFeed
		ts   *binance.TickerStream
	)

	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithField("error", err.Error()).Warn("Failed to connect to Redis, ticker cache disabled")
			rdb.Close()
			rdb = nil
		} else {
			health.AddCheck("redis", func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			})
		}
	}

	if cfg.Binance.Enabled {
		client := binance.NewClient(cfg.Binance.BaseURL, zl)
		if rdb != nil {
			feed = binance.NewPriceFeed(rdb, client, cfg.Binance.MaxPriceAge, zl)
			ts = binance.NewTickerStream(cfg.Binance.StreamURL, rdb, catalogExchangeSymbols(), zl)
		} else {
			feed = binance.NewPriceFeed(nil, client, cfg.Binance.MaxPriceAge, zl)
		}
	} else {
		logger.Info("Binance disabled, snapshots anchor on catalog prices")
	}

	source := forecast.NewSyntheticSource(feed, forecast.NewGenerator(cfg.Generator.Seed), zl)
	controller := dashboard.NewController(source, alerts.NewEngine(zl), alerts.NewMemoryStore(), alerts.NewInbox(), zl)

	srv := newServer(controller, health, logger, cfg.Server.RateLimit, cfg.Server.RateWindow, cfg.Server.AllowedOrigins)
	srv.refreshTimeout = cfg.Refresh.Timeout
	srv.redis = rdb
	srv.tickerStream = ts
	controller.Subscribe(srv.hub)

	if cfg.Postgres.URL != "" {
		db, err := database.NewPool(ctx, database.Config{URL: cfg.Postgres.URL, MaxConns: cfg.Postgres.MaxConns}, zl)
		if err != nil {
			srv.shutdown()
			return nil, err
		}
		srv.db = db
		if err := database.Migrate(ctx, db, zl); err != nil {
			srv.shutdown()
			return nil, err
		}
		health.AddCheck("postgres", func(ctx context.Context) error {
			return db.Ping(ctx)
		})
		srv.history = alerts.NewHistoryReader(db)
	}

	if cfg.NATS.URL != "" {
		nc, js, err := connectNATS(cfg.NATS.URL, zl)
		if err != nil {
			srv.shutdown()
			return nil, err
		}
		srv.nc = nc
		health.AddCheck("nats", func(ctx context.Context) error {
			if nc.IsClosed() {
				return fmt.Errorf("NATS connection closed")
			}
			return nil
		})
		// the alert-dispatcher consumes alerts.triggered
		controller.Subscribe(newNATSListener(messaging.NewPublisher(js, zl), zl))
	} else {
		var persister *alerts.AlertPersister
		if srv.db != nil {
			persister = alerts.NewAlertPersister(srv.db, zl)
			srv.persister = persister
		}
		notifier := alerts.NewNotifier(cfg.Alerts.WebhookURLs, zl)
		srv.dispatch = newDispatchListener(alerts.NewDispatcher(notifier, persister, zl), zl)
		controller.Subscribe(srv.dispatch)
		logger.WithField("webhooks", len(cfg.Alerts.WebhookURLs)).Info("NATS disabled, dispatching alerts in-process")
	}

	return srv, nil
}

func connectNATS(url string, logger zerolog.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := messaging.NewNATSConn(messaging.Config{URL: url, Name: "api-gateway"}, logger)
	if err != nil {
		return nil, nil, err
	}
	js, err := messaging.NewJetStream(nc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	for _, spec := range messaging.DefaultStreams {
		if err := messaging.EnsureStream(js, spec, logger); err != nil {
			nc.Close()
			return nil, nil, err
		}
	}
	return nc, js, nil
}

func catalogExchangeSymbols() []string {
	out := make([]string, 0, len(forecast.Currencies))
	for _, c := range forecast.Currencies {
		out = append(out, forecast.ExchangeSymbol(c.ID))
	}
	return out
}

func (s *server) shutdown() {
	if s.dispatch != nil {
		s.dispatch.wait()
	}
	if s.persister != nil {
		s.persister.Close()
	}
	if s.db != nil {
		database.Close(s.db, s.logger.Zerolog())
	}
	if s.nc != nil {
		messaging.Close(s.nc, s.logger.Zerolog())
	}
	if s.redis != nil {
		s.redis.Close()
	}
}
