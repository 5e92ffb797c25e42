package binance

import (
	"fmt"
	"strconv"
	"time"
)

// TickerPrice represents the response from /api/v3/ticker/price
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// APIError is the error body Binance returns on 4xx responses
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance error %d: %s", e.Code, e.Message)
}

// MiniTickerEvent represents one element of the !miniTicker@arr stream
type MiniTickerEvent struct {
	EventType   string `json:"e"` // Event type (24hrMiniTicker)
	EventTime   int64  `json:"E"` // Event time (ms)
	Symbol      string `json:"s"` // Symbol
	ClosePrice  string `json:"c"` // Last price
	OpenPrice   string `json:"o"` // Open price
	HighPrice   string `json:"h"` // High price
	LowPrice    string `json:"l"` // Low price
	Volume      string `json:"v"` // Base asset volume
	QuoteVolume string `json:"q"` // Quote asset volume
}

// Validate checks the event carries a usable price
func (e MiniTickerEvent) Validate() error {
	if e.Symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	if _, err := ParsePrice(e.ClosePrice); err != nil {
		return fmt.Errorf("%s: %w", e.Symbol, err)
	}
	return nil
}

// CachedTicker is the value stored per symbol in the tickers hash
type CachedTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	EventTime int64  `json:"eventTime"`
}

// Time returns the exchange event time
func (c CachedTicker) Time() time.Time {
	return time.UnixMilli(c.EventTime)
}

// ParsePrice converts a Binance decimal string into a positive float
func ParsePrice(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("non-positive price %q", s)
	}
	return v, nil
}
