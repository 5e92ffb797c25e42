package binance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// MiniTickerStreamURL streams 24h mini tickers for every spot symbol
	MiniTickerStreamURL = "wss://stream.binance.com:9443/ws/!miniTicker@arr"

	// TickersKey is the redis hash holding the latest ticker per exchange symbol
	TickersKey = "tickers"

	tickersTTL = 2 * time.Minute
)

// TickerStream mirrors live prices for a fixed symbol set into redis
type TickerStream struct {
	url     string
	rdb     redis.Cmdable
	symbols map[string]struct{}
	dialer  *websocket.Dialer
	logger  zerolog.Logger
}

// NewTickerStream creates a stream for the given exchange symbols. An empty
// url uses MiniTickerStreamURL.
func NewTickerStream(url string, rdb redis.Cmdable, symbols []string, logger zerolog.Logger) *TickerStream {
	if url == "" {
		url = MiniTickerStreamURL
	}
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return &TickerStream{
		url:     url,
		rdb:     rdb,
		symbols: set,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger.With().Str("component", "ticker-stream").Logger(),
	}
}

// Run connects and reconnects with backoff until ctx is cancelled
func (s *TickerStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Error().Err(err).Dur("backoff", backoff).Msg("Failed to connect to ticker stream")
			sleepWithContext(ctx, backoff)
			backoff = nextBackoff(backoff)
			continue
		}

		s.logger.Info().Int("symbols", len(s.symbols)).Msg("Connected to Binance ticker stream")
		backoff = time.Second

		// unblock ReadMessage on shutdown
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		if err := s.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Ticker stream read error")
		}
		stop()
		_ = conn.Close()
	}
}

func (s *TickerStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.handleMessage(ctx, message); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to cache tickers")
		}
	}
}

// handleMessage writes every tracked, valid ticker of one stream frame
func (s *TickerStream) handleMessage(ctx context.Context, message []byte) error {
	var events []MiniTickerEvent
	if err := json.Unmarshal(message, &events); err != nil {
		s.logger.Error().Err(err).Msg("Failed to decode ticker stream payload")
		return nil
	}

	pipe := s.rdb.Pipeline()
	queued := 0
	for _, e := range events {
		if _, ok := s.symbols[e.Symbol]; !ok {
			continue
		}
		if err := e.Validate(); err != nil {
			s.logger.Debug().Err(err).Msg("Skipping invalid ticker")
			continue
		}

		buf, err := json.Marshal(CachedTicker{Symbol: e.Symbol, LastPrice: e.ClosePrice, EventTime: e.EventTime})
		if err != nil {
			continue
		}
		pipe.HSet(ctx, TickersKey, e.Symbol, string(buf))
		queued++
	}
	if queued == 0 {
		return nil
	}

	pipe.Expire(ctx, TickersKey, tickersTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > 30*time.Second {
		return 30 * time.Second
	}
	if next < time.Second {
		return time.Second
	}
	return next
}
