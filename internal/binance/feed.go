package binance

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bl8ckfz/forecast-alerts/internal/forecast"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TickerCache is the slice of redis the feed reads from
type TickerCache interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// PricePoller fetches a price over REST
type PricePoller interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceFeed serves catalog symbols from the redis ticker cache, falling back
// to REST when the cached ticker is missing or older than maxAge.
type PriceFeed struct {
	cache  TickerCache
	poller PricePoller
	maxAge time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewPriceFeed creates a feed; cache may be nil
func NewPriceFeed(cache TickerCache, poller PricePoller, maxAge time.Duration, logger zerolog.Logger) *PriceFeed {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &PriceFeed{
		cache:  cache,
		poller: poller,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger.With().Str("component", "price-feed").Logger(),
	}
}

// Price returns the spot price for a catalog symbol such as BTC/USDT
func (f *PriceFeed) Price(ctx context.Context, symbol string) (float64, error) {
	exchangeSymbol := forecast.ExchangeSymbol(symbol)

	if price, ok := f.cached(ctx, exchangeSymbol); ok {
		return price, nil
	}

	return f.poller.GetPrice(ctx, exchangeSymbol)
}

func (f *PriceFeed) cached(ctx context.Context, symbol string) (float64, bool) {
	if f.cache == nil {
		return 0, false
	}

	raw, err := f.cache.HGet(ctx, TickersKey, symbol).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			f.logger.Warn().Err(err).Str("symbol", symbol).Msg("Ticker cache read failed")
		}
		return 0, false
	}

	var t CachedTicker
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		f.logger.Warn().Err(err).Str("symbol", symbol).Msg("Corrupt cached ticker")
		return 0, false
	}
	if f.now().Sub(t.Time()) > f.maxAge {
		return 0, false
	}

	price, err := ParsePrice(t.LastPrice)
	if err != nil {
		return 0, false
	}
	return price, true
}
