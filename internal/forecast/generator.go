package forecast

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

const modelID = "shadow-ensemble-v2.1-live"

type horizonParams struct {
	volatility float64
	points     int
	step       time.Duration
}

var horizonTable = map[Horizon]horizonParams{
	Horizon1h: {volatility: 0.005, points: 60, step: time.Minute},
	Horizon4h: {volatility: 0.01, points: 96, step: 15 * time.Minute},
	Horizon1d: {volatility: 0.02, points: 120, step: 12 * time.Minute},
	Horizon1w: {volatility: 0.05, points: 168, step: 6 * time.Hour},
	Horizon1m: {volatility: 0.1, points: 120, step: 6 * time.Hour},
}

var baseFeatures = []TopFeature{
	{Name: "orderbook_imbalance", Value: 0.23, SHAP: 0.28},
	{Name: "funding_rate_zscore", Value: 1.8, SHAP: 0.19},
	{Name: "exchange_inflow_1h", Value: -450000, SHAP: 0.12},
	{Name: "social_sentiment_embed_dist", Value: 0.9, SHAP: 0.08},
	{Name: "realized_vol_1d", Value: 0.03, SHAP: 0.05},
}

var recommendations = []Recommendation{
	{Action: ActionBuy, Rationale: "Strong momentum and positive funding rates suggest upward potential."},
	{Action: ActionSell, Rationale: "High exchange inflows and negative sentiment point to a potential correction."},
	{Action: ActionHold, Rationale: "Market is consolidating; indicators are mixed. Await a clearer signal."},
}

// Generator synthesises forecast snapshots and price series. It is safe for
// concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// NewGenerator creates a generator seeded with seed
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// Generate builds a snapshot and series for symbol/horizon whose history ends
// at anchor.
func (g *Generator) Generate(symbol string, horizon Horizon, anchor float64) (Result, error) {
	params, ok := horizonTable[horizon]
	if !ok {
		return Result{}, fmt.Errorf("unknown horizon %q", horizon)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	history := g.history(anchor, params, now)
	lastClose := anchor
	if n := len(history); n > 0 {
		lastClose = *history[n-1].Close
	}
	projected := g.projection(lastClose, params, now)

	final := projected[len(projected)-1]
	rec := recommendations[g.rnd.Intn(len(recommendations))]
	rec.SizePct = round(g.rnd.Float64()*3+1, 1)
	rec.StopLossPct = round(g.rnd.Float64()*2+0.5, 1)

	features := make([]TopFeature, len(baseFeatures))
	copy(features, baseFeatures)
	g.rnd.Shuffle(len(features), func(i, j int) {
		features[i], features[j] = features[j], features[i]
	})

	snap := Snapshot{
		Symbol:    symbol,
		Horizon:   horizon,
		Timestamp: now,
		Forecast: Quantiles{
			Point: *final.Point,
			Q10:   *final.Q10,
			Q25:   *final.Q25,
			Q50:   *final.Q50,
			Q75:   *final.Q75,
			Q90:   *final.Q90,
		},
		Confidence:     g.rnd.Float64()*(0.9-0.6) + 0.6,
		ModelID:        modelID,
		TopFeatures:    features,
		Recommendation: rec,
		Backtest: Backtest{
			Period: "2024-01-01:2025-09-15",
			Sharpe: round(g.rnd.Float64()*2+0.5, 2),
			MaxDD:  round(-(g.rnd.Float64()*15 + 5), 1),
		},
		Scenarios: Scenarios{
			DiffusionURL: "https://app/api/scenario/xxx",
			NPaths:       2000,
		},
		ExplainURL: "https://app/api/explain/forecast/xxx",
		Provenance: Provenance{
			DataSources:          []string{"binance_rest", "binance_ws", "feature_store"},
			FeatureStoreSnapshot: "v" + now.Format("2006-01-02"),
			ModelCommit:          "sha256:" + strconv.FormatInt(g.rnd.Int63(), 36),
		},
		LogID: fmt.Sprintf("cp-live-%d", now.UnixMilli()),
	}

	series := make(Series, 0, len(history)+len(projected))
	series = append(series, history...)
	series = append(series, projected...)

	return Result{Snapshot: snap, Series: series}, nil
}

// history walks backwards from anchor so the last close equals anchor exactly
func (g *Generator) history(anchor float64, p horizonParams, now time.Time) Series {
	out := make(Series, p.points)
	price := anchor
	for i := p.points - 1; i >= 0; i-- {
		vol := g.rnd.Float64() * 0.02
		move := (g.rnd.Float64() - 0.5) * price * vol
		closeP := price
		openP := closeP - move
		high := math.Max(openP, closeP) + g.rnd.Float64()*price*vol*0.5
		low := math.Min(openP, closeP) - g.rnd.Float64()*price*vol*0.5

		out[i] = PricePoint{
			Timestamp: now.Add(-time.Duration(p.points-1-i) * p.step),
			Open:      ptr(openP),
			High:      ptr(high),
			Low:       ptr(low),
			Close:     ptr(closeP),
		}
		price = openP
	}
	if len(out) > 0 {
		out[len(out)-1].Close = ptr(anchor)
	}
	return out
}

// projection produces a quarter of the history length of forecast points
func (g *Generator) projection(last float64, p horizonParams, now time.Time) Series {
	n := p.points / 4
	out := make(Series, 0, n)
	trend := g.rnd.Float64() - 0.45
	price := last
	for i := 1; i <= n; i++ {
		progress := float64(i) / float64(n)
		point := price * (1 + trend*p.volatility*progress + (g.rnd.Float64()-0.5)*p.volatility*0.2)
		spread := point * p.volatility * 1.5 * math.Sqrt(progress)

		out = append(out, PricePoint{
			Timestamp: now.Add(time.Duration(i) * p.step),
			Point:     ptr(point),
			Q90:       ptr(point + spread),
			Q75:       ptr(point + spread*0.5),
			Q50:       ptr(point),
			Q25:       ptr(point - spread*0.5),
			Q10:       ptr(point - spread),
		})
		price = point
	}
	return out
}

func ptr(v float64) *float64 { return &v }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
