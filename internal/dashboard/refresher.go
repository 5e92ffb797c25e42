package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/bl8ckfz/forecast-alerts/internal/forecast"
	"github.com/rs/zerolog"
)

// Refresher periodically refreshes a fixed set of symbols so alerts keep
// evaluating without a client driving requests.
type Refresher struct {
	controller *Controller
	symbols    []string
	horizon    forecast.Horizon
	interval   time.Duration
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewRefresher creates a refresher; a non-positive interval disables it
func NewRefresher(controller *Controller, symbols []string, horizon forecast.Horizon, interval, timeout time.Duration, logger zerolog.Logger) *Refresher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Refresher{
		controller: controller,
		symbols:    symbols,
		horizon:    horizon,
		interval:   interval,
		timeout:    timeout,
		logger:     logger.With().Str("component", "refresher").Logger(),
	}
}

// Run blocks until ctx is cancelled
func (r *Refresher) Run(ctx context.Context) {
	if r.interval <= 0 || len(r.symbols) == 0 {
		r.logger.Info().Msg("Background refresh disabled")
		return
	}

	r.logger.Info().
		Strs("symbols", r.symbols).
		Str("horizon", string(r.horizon)).
		Dur("interval", r.interval).
		Msg("Background refresh started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	for _, symbol := range r.symbols {
		if ctx.Err() != nil {
			return
		}

		rctx, cancel := context.WithTimeout(ctx, r.timeout)
		_, err := r.controller.Refresh(rctx, symbol, r.horizon)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, ErrStaleResponse):
			r.logger.Debug().Str("symbol", symbol).Msg("Background refresh superseded")
		default:
			r.logger.Warn().Err(err).Str("symbol", symbol).Msg("Background refresh failed")
		}
	}
}
