package forecast

import (
	"fmt"
	"time"
)

// Horizon is the forecast look-ahead window
type Horizon string

const (
	Horizon1h Horizon = "1h"
	Horizon4h Horizon = "4h"
	Horizon1d Horizon = "1d"
	Horizon1w Horizon = "1w"
	Horizon1m Horizon = "1m"
)

// ParseHorizon validates a raw horizon value
func ParseHorizon(s string) (Horizon, error) {
	h := Horizon(s)
	if !h.Valid() {
		return "", fmt.Errorf("unknown horizon %q", s)
	}
	return h, nil
}

// Valid reports whether h is one of the supported horizons
func (h Horizon) Valid() bool {
	switch h {
	case Horizon1h, Horizon4h, Horizon1d, Horizon1w, Horizon1m:
		return true
	default:
		return false
	}
}

// Action is the recommended trading action
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Quantiles holds the central forecast and its quantile band
type Quantiles struct {
	Point float64 `json:"point"`
	Q10   float64 `json:"q10"`
	Q25   float64 `json:"q25"`
	Q50   float64 `json:"q50"`
	Q75   float64 `json:"q75"`
	Q90   float64 `json:"q90"`
}

// TopFeature is a single feature attribution
type TopFeature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	SHAP  float64 `json:"shap"`
}

// Recommendation is the model's suggested action
type Recommendation struct {
	Action      Action  `json:"action"`
	SizePct     float64 `json:"size_pct"`
	StopLossPct float64 `json:"stop_loss_pct"`
	Rationale   string  `json:"rationale"`
}

// Backtest summarises historical model performance
type Backtest struct {
	Period string  `json:"period"`
	Sharpe float64 `json:"sharpe"`
	MaxDD  float64 `json:"max_dd"`
}

// Scenarios points at the scenario simulation for a forecast
type Scenarios struct {
	DiffusionURL string `json:"diffusion_url"`
	NPaths       int    `json:"n_paths"`
}

// Provenance records where a forecast came from
type Provenance struct {
	DataSources          []string `json:"data_sources"`
	FeatureStoreSnapshot string   `json:"feature_store_snapshot"`
	ModelCommit          string   `json:"model_commit"`
}

// Snapshot is one forecast result for one symbol/horizon at one point in time.
// Snapshots are never mutated after creation.
type Snapshot struct {
	Symbol         string         `json:"symbol"`
	Horizon        Horizon        `json:"horizon"`
	Timestamp      time.Time      `json:"timestamp"`
	Forecast       Quantiles      `json:"forecast"`
	Confidence     float64        `json:"confidence"`
	ModelID        string         `json:"model_id"`
	TopFeatures    []TopFeature   `json:"top_features"`
	Recommendation Recommendation `json:"recommendation"`
	Backtest       Backtest       `json:"backtest"`
	Scenarios      Scenarios      `json:"scenarios"`
	ExplainURL     string         `json:"explain_url"`
	Provenance     Provenance     `json:"provenance"`
	LogID          string         `json:"log_id"`
}

// PricePoint is one element of a price series. Historical points carry OHLC,
// forecast points carry Point and the quantile band.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`

	Open  *float64 `json:"open,omitempty"`
	High  *float64 `json:"high,omitempty"`
	Low   *float64 `json:"low,omitempty"`
	Close *float64 `json:"close,omitempty"`

	Point *float64 `json:"point,omitempty"`
	Q10   *float64 `json:"q10,omitempty"`
	Q25   *float64 `json:"q25,omitempty"`
	Q50   *float64 `json:"q50,omitempty"`
	Q75   *float64 `json:"q75,omitempty"`
	Q90   *float64 `json:"q90,omitempty"`
}

// Series is a chronologically ordered price series (history then forecast)
type Series []PricePoint

// LatestPrice returns the last point's forecast value, falling back to its
// historical close, then to 0. Only the final element is consulted.
func (s Series) LatestPrice() float64 {
	if len(s) == 0 {
		return 0
	}
	last := s[len(s)-1]
	if last.Point != nil {
		return *last.Point
	}
	if last.Close != nil {
		return *last.Close
	}
	return 0
}

// Result is what a Source returns for one acquisition
type Result struct {
	Snapshot Snapshot `json:"snapshot"`
	Series   Series   `json:"series"`
}
