package main

import (
	"context"
	"sync"

	"github.com/bl8ckfz/forecast-alerts/internal/alerts"
	"github.com/bl8ckfz/forecast-alerts/internal/forecast"
	"github.com/bl8ckfz/forecast-alerts/pkg/messaging"
	"github.com/bl8ckfz/forecast-alerts/pkg/observability"
	"github.com/rs/zerolog"
)

type jsonPublisher interface {
	PublishJSON(subject, msgID string, v interface{}) error
}

// natsListener mirrors controller events onto JetStream
type natsListener struct {
	pub    jsonPublisher
	logger zerolog.Logger
}

func newNATSListener(pub jsonPublisher, logger zerolog.Logger) *natsListener {
	return &natsListener{pub: pub, logger: logger.With().Str("component", "nats-listener").Logger()}
}

func (l *natsListener) OnSnapshot(s forecast.Snapshot) {
	subject := messaging.ForecastSubject(forecast.ExchangeSymbol(s.Symbol))
	if err := l.pub.PublishJSON(subject, s.LogID, s); err != nil {
		observability.PublishErrors.WithLabelValues("forecasts").Inc()
		l.logger.Error().Err(err).Str("symbol", s.Symbol).Msg("Failed to publish snapshot")
	}
}

func (l *natsListener) OnAlerts(fired []alerts.TriggeredAlert) {
	for _, a := range fired {
		if err := l.pub.PublishJSON(messaging.SubjectAlertsTriggered, a.ID, a); err != nil {
			observability.PublishErrors.WithLabelValues("alerts").Inc()
			l.logger.Error().Err(err).Str("alert_id", a.ID).Msg("Failed to publish alert")
		}
	}
}

// dispatchListener delivers alerts in-process when no broker is configured.
// Delivery runs off the caller's goroutine.
type dispatchListener struct {
	dispatcher *alerts.Dispatcher
	wg         sync.WaitGroup
	logger     zerolog.Logger
}

func newDispatchListener(d *alerts.Dispatcher, logger zerolog.Logger) *dispatchListener {
	return &dispatchListener{dispatcher: d, logger: logger.With().Str("component", "dispatch-listener").Logger()}
}

func (l *dispatchListener) OnSnapshot(forecast.Snapshot) {}

func (l *dispatchListener) OnAlerts(fired []alerts.TriggeredAlert) {
	if len(fired) == 0 {
		return
	}
	batch := append([]alerts.TriggeredAlert(nil), fired...)
	l.logger.Debug().Int("count", len(batch)).Msg("Dispatching alerts")
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.dispatcher.Dispatch(context.Background(), batch)
	}()
}

// wait blocks until in-flight deliveries finish
func (l *dispatchListener) wait() {
	l.wg.Wait()
}
