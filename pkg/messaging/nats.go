package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects and streams shared by the gateway and the dispatcher
const (
	StreamForecasts = "FORECASTS"
	StreamAlerts    = "ALERTS"

	SubjectAlertsTriggered = "alerts.triggered"
	subjectForecastPrefix  = "forecasts."
)

// ForecastSubject returns the subject snapshots for symbol are published on.
// symbol is the exchange form, e.g. BTCUSDT.
func ForecastSubject(symbol string) string {
	return subjectForecastPrefix + symbol
}

// Config holds NATS configuration
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NewNATSConn creates a new NATS connection
func NewNATSConn(cfg Config, logger zerolog.Logger) (*nats.Conn, error) {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1 // Infinite retries
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "forecast-alerts"
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info().
		Str("server", nc.ConnectedUrl()).
		Str("name", cfg.Name).
		Msg("Connected to NATS")

	return nc, nil
}

// NewJetStream creates a JetStream context
func NewJetStream(nc *nats.Conn) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return js, nil
}

// StreamSpec describes a stream to ensure on startup
type StreamSpec struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	WorkQueue bool
}

// DefaultStreams are the streams this service family relies on
var DefaultStreams = []StreamSpec{
	{Name: StreamForecasts, Subjects: []string{subjectForecastPrefix + ">"}, MaxAge: time.Hour},
	{Name: StreamAlerts, Subjects: []string{"alerts.>"}, MaxAge: 24 * time.Hour, WorkQueue: true},
}

// EnsureStream creates a JetStream stream if it doesn't exist
func EnsureStream(js nats.JetStreamContext, spec StreamSpec, logger zerolog.Logger) error {
	_, err := js.StreamInfo(spec.Name)
	if err == nil {
		logger.Debug().Str("stream", spec.Name).Msg("Stream already exists")
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", spec.Name, err)
	}

	retention := nats.LimitsPolicy
	if spec.WorkQueue {
		retention = nats.WorkQueuePolicy
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      spec.Name,
		Subjects:  spec.Subjects,
		Retention: retention,
		MaxAge:    spec.MaxAge,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", spec.Name, err)
	}

	logger.Info().
		Str("stream", spec.Name).
		Strs("subjects", spec.Subjects).
		Dur("max_age", spec.MaxAge).
		Msg("Created JetStream stream")

	return nil
}

// Close gracefully closes the NATS connection
func Close(nc *nats.Conn, logger zerolog.Logger) {
	if nc != nil && !nc.IsClosed() {
		nc.Drain()
		logger.Info().Msg("NATS connection drained")
	}
}
