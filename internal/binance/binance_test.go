package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    float64
		wantErr bool
	}{
		{name: "integer", in: "115000", want: 115000},
		{name: "decimal", in: "0.08123000", want: 0.08123},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "abc", wantErr: true},
		{name: "zero", in: "0.00000000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePrice(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParsePrice(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMiniTickerEventValidate(t *testing.T) {
	valid := MiniTickerEvent{EventType: "24hrMiniTicker", Symbol: "BTCUSDT", ClosePrice: "115000.01"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	noSymbol := valid
	noSymbol.Symbol = ""
	if noSymbol.Validate() == nil {
		t.Error("Validate() without symbol expected error")
	}

	noPrice := valid
	noPrice.ClosePrice = ""
	if noPrice.Validate() == nil {
		t.Error("Validate() without close price expected error")
	}
}

func TestClientGetPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != TickerPriceEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, TickerPriceEndpoint)
		}
		switch r.URL.Query().Get("symbol") {
		case "BTCUSDT":
			json.NewEncoder(w).Encode(TickerPrice{Symbol: "BTCUSDT", Price: "115234.50000000"})
		default:
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(APIError{Code: -1121, Message: "Invalid symbol."})
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())

	price, err := client.GetPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}
	if price != 115234.5 {
		t.Errorf("GetPrice() = %v, want 115234.5", price)
	}

	_, err = client.GetPrice(context.Background(), "NOPEUSDT")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetPrice(NOPEUSDT) error = %v, want *APIError", err)
	}
	if apiErr.Code != -1121 {
		t.Errorf("api error code = %d, want -1121", apiErr.Code)
	}
}

func TestClientPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PingEndpoint {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	if err := NewClient(server.URL, zerolog.Nop()).Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

type fakeCache map[string]string

func (f fakeCache) HGet(_ context.Context, key, field string) *redis.StringCmd {
	if key != TickersKey {
		return redis.NewStringResult("", redis.Nil)
	}
	v, ok := f[field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

type fakePoller struct {
	price float64
	err   error
	calls []string
}

func (p *fakePoller) GetPrice(_ context.Context, symbol string) (float64, error) {
	p.calls = append(p.calls, symbol)
	return p.price, p.err
}

func cachedTicker(t *testing.T, price string, at time.Time) string {
	t.Helper()
	buf, err := json.Marshal(CachedTicker{Symbol: "BTCUSDT", LastPrice: price, EventTime: at.UnixMilli()})
	if err != nil {
		t.Fatal(err)
	}
	return string(buf)
}

func TestPriceFeed(t *testing.T) {
	now := time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	tests := []struct {
		name      string
		cache     TickerCache
		poller    *fakePoller
		maxAge    time.Duration
		symbol    string
		want      float64
		wantErr   bool
		wantPolls []string
	}{
		{
			name:   "fresh_cache_hit",
			cache:  fakeCache{"BTCUSDT": cachedTicker(t, "116000", now.Add(-5*time.Second))},
			poller: &fakePoller{price: 1},
			maxAge: 30 * time.Second,
			symbol: "BTC/USDT",
			want:   116000,
		},
		{
			name:      "stale_cache_falls_back",
			cache:     fakeCache{"BTCUSDT": cachedTicker(t, "116000", now.Add(-time.Minute))},
			poller:    &fakePoller{price: 114500},
			maxAge:    30 * time.Second,
			symbol:    "BTC/USDT",
			want:      114500,
			wantPolls: []string{"BTCUSDT"},
		},
		{
			name:      "cache_miss",
			cache:     fakeCache{},
			poller:    &fakePoller{price: 5500},
			symbol:    "ETH/USDT",
			want:      5500,
			wantPolls: []string{"ETHUSDT"},
		},
		{
			name:      "no_cache_error",
			poller:    &fakePoller{err: errors.New("timeout")},
			symbol:    "BTC/USDT",
			wantErr:   true,
			wantPolls: []string{"BTCUSDT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := NewPriceFeed(tt.cache, tt.poller, tt.maxAge, zerolog.Nop())
			feed.now = func() time.Time { return now }

			got, err := feed.Price(ctx, tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Price() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Price() = %v, want %v", got, tt.want)
			}
			if len(tt.poller.calls) != len(tt.wantPolls) {
				t.Fatalf("poller calls = %v, want %v", tt.poller.calls, tt.wantPolls)
			}
			for i := range tt.wantPolls {
				if tt.poller.calls[i] != tt.wantPolls[i] {
					t.Errorf("poller call[%d] = %q, want %q", i, tt.poller.calls[i], tt.wantPolls[i])
				}
			}
		})
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{time.Second, 2 * time.Second},
		{0, time.Second},
		{20 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.in); got != tt.want {
			t.Errorf("nextBackoff(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTickerStreamSymbolSet(t *testing.T) {
	s := NewTickerStream("", nil, []string{"BTCUSDT", "ETHUSDT"}, zerolog.Nop())
	if s.url != MiniTickerStreamURL {
		t.Errorf("url = %q, want %q", s.url, MiniTickerStreamURL)
	}
	if len(s.symbols) != 2 {
		t.Errorf("symbols = %v, want 2 entries", s.symbols)
	}
}
