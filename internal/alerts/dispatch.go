package alerts

import (
	"context"
	"time"

	"github.com/bl8ckfz/forecast-alerts/pkg/observability"
	"github.com/rs/zerolog"
)

// Dispatcher fans triggered alerts out to the audit log and webhooks.
// Either side may be nil.
type Dispatcher struct {
	notifier  *Notifier
	persister *AlertPersister
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(notifier *Notifier, persister *AlertPersister, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier:  notifier,
		persister: persister,
		timeout:   30 * time.Second,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch queues alerts for persistence and delivers them to every webhook.
// It blocks until webhook delivery finishes or ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, triggered []TriggeredAlert) {
	if len(triggered) == 0 {
		return
	}

	if d.persister != nil {
		d.persister.SaveAlerts(triggered...)
	}

	if d.notifier == nil || !d.notifier.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	for _, a := range triggered {
		if failed := d.notifier.SendAlert(ctx, a); failed > 0 {
			observability.WebhookFailures.Add(float64(failed))
		}
	}

	d.logger.Debug().Int("count", len(triggered)).Msg("Dispatched alerts")
}
