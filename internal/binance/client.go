package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	// SpotAPIBase is the base URL for the Binance spot API
	SpotAPIBase = "https://api.binance.com"

	// TickerPriceEndpoint returns the latest price for a symbol
	TickerPriceEndpoint = "/api/v3/ticker/price"

	// PingEndpoint tests connectivity
	PingEndpoint = "/api/v3/ping"
)

// Client handles HTTP requests to the Binance spot API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new Binance API client. An empty baseURL uses SpotAPIBase.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = SpotAPIBase
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With().Str("component", "binance-client").Logger(),
	}
}

// GetPrice fetches the last traded price for an exchange symbol such as BTCUSDT
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	endpoint := c.baseURL + TickerPriceEndpoint + "?" + url.Values{"symbol": {symbol}}.Encode()

	var ticker TickerPrice
	if err := c.get(ctx, endpoint, &ticker); err != nil {
		return 0, err
	}

	price, err := ParsePrice(ticker.Price)
	if err != nil {
		return 0, fmt.Errorf("ticker %s: %w", symbol, err)
	}

	c.logger.Debug().Str("symbol", symbol).Float64("price", price).Msg("fetched ticker price")
	return price, nil
}

// Ping checks the API is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, c.baseURL+PingEndpoint, nil)
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("unexpected status %d: %w", resp.StatusCode, &apiErr)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
