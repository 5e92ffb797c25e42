package forecast

import "strings"

// Currency describes a tradable symbol offered by the dashboard
type Currency struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	BasePrice float64 `json:"-"`
}

// HorizonOption pairs a horizon with its display label
type HorizonOption struct {
	Label string  `json:"label"`
	Value Horizon `json:"value"`
}

// Currencies is the symbol catalog, in display order
var Currencies = []Currency{
	{ID: "BTC/USDT", Name: "Bitcoin", BasePrice: 115000},
	{ID: "ETH/USDT", Name: "Ethereum", BasePrice: 5500},
	{ID: "SOL/USDT", Name: "Solana", BasePrice: 350},
	{ID: "BNB/USDT", Name: "BNB", BasePrice: 900},
	{ID: "XRP/USDT", Name: "XRP", BasePrice: 0.8},
	{ID: "DOGE/USDT", Name: "Dogecoin", BasePrice: 0.25},
	{ID: "ADA/USDT", Name: "Cardano", BasePrice: 0.60},
}

// Horizons is the horizon catalog, in display order
var Horizons = []HorizonOption{
	{Label: "1 Hour", Value: Horizon1h},
	{Label: "4 Hours", Value: Horizon4h},
	{Label: "1 Day", Value: Horizon1d},
	{Label: "1 Week", Value: Horizon1w},
	{Label: "1 Month", Value: Horizon1m},
}

// LookupCurrency finds a catalog entry by symbol
func LookupCurrency(symbol string) (Currency, bool) {
	for _, c := range Currencies {
		if c.ID == symbol {
			return c, true
		}
	}
	return Currency{}, false
}

// ExchangeSymbol converts "BTC/USDT" into the exchange form "BTCUSDT"
func ExchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}
