package forecast

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrUnknownSymbol is returned for symbols outside the catalog
var ErrUnknownSymbol = errors.New("unknown symbol")

// Source supplies reference prices and forecast snapshots
type Source interface {
	FetchReferencePrice(ctx context.Context, symbol string) (*float64, error)
	FetchSnapshot(ctx context.Context, symbol string, horizon Horizon, referencePrice *float64) (Result, error)
}

// PriceFeed returns the current spot price for a catalog symbol
type PriceFeed interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// SyntheticSource anchors generated snapshots on a live price feed
type SyntheticSource struct {
	feed      PriceFeed
	generator *Generator
	logger    zerolog.Logger
}

// NewSyntheticSource creates a source. feed may be nil, in which case no
// reference price is ever available and snapshots anchor on catalog prices.
func NewSyntheticSource(feed PriceFeed, generator *Generator, logger zerolog.Logger) *SyntheticSource {
	return &SyntheticSource{
		feed:      feed,
		generator: generator,
		logger:    logger.With().Str("component", "forecast-source").Logger(),
	}
}

// FetchReferencePrice returns nil when the price is unavailable
func (s *SyntheticSource) FetchReferencePrice(ctx context.Context, symbol string) (*float64, error) {
	if s.feed == nil {
		return nil, nil
	}
	if _, ok := LookupCurrency(symbol); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	price, err := s.feed.Price(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch price %s: %w", symbol, err)
	}

	s.logger.Debug().Str("symbol", symbol).Float64("price", price).Msg("fetched reference price")
	return &price, nil
}

// FetchSnapshot synthesises a snapshot anchored at referencePrice, or at the
// catalog base price when referencePrice is nil.
func (s *SyntheticSource) FetchSnapshot(ctx context.Context, symbol string, horizon Horizon, referencePrice *float64) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	currency, ok := LookupCurrency(symbol)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	anchor := currency.BasePrice
	if referencePrice != nil {
		anchor = *referencePrice
	}

	res, err := s.generator.Generate(symbol, horizon, anchor)
	if err != nil {
		return Result{}, fmt.Errorf("generate snapshot: %w", err)
	}

	s.logger.Debug().
		Str("symbol", symbol).
		Str("horizon", string(horizon)).
		Float64("anchor", anchor).
		Str("action", string(res.Snapshot.Recommendation.Action)).
		Msg("generated snapshot")

	return res, nil
}
