package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/bl8ckfz/forecast-alerts/internal/forecast"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Input is everything one evaluation pass looks at
type Input struct {
	Current *forecast.Snapshot
	// ReferencePrice is the live price; nil falls back to Series.LatestPrice
	ReferencePrice *float64
	Series         forecast.Series
	Previous       *forecast.Snapshot
	Definitions    []Definition
	Live           []TriggeredAlert
}

// Engine evaluates alert definitions against forecast snapshots
type Engine struct {
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewEngine creates a new alert engine
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		logger: logger.With().Str("component", "alert-engine").Logger(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Evaluate returns the alerts that newly fire for in.Current, in definition
// order. It returns nil when there is no current snapshot.
func (e *Engine) Evaluate(in Input) []TriggeredAlert {
	if in.Current == nil {
		return nil
	}
	current := in.Current

	price := in.Series.LatestPrice()
	if in.ReferencePrice != nil {
		price = *in.ReferencePrice
	}

	live := make(map[string]struct{}, len(in.Live))
	for _, a := range in.Live {
		live[a.DefinitionID] = struct{}{}
	}

	var fired []TriggeredAlert
	now := e.now()

	for _, def := range in.Definitions {
		if def.Symbol != current.Symbol {
			continue
		}
		if _, ok := live[def.ID]; ok {
			continue
		}

		message, ok := evaluateCondition(def.Condition, current, in.Previous, price)
		if !ok {
			continue
		}

		alert := TriggeredAlert{
			ID:           e.newID(),
			DefinitionID: def.ID,
			Kind:         def.Condition.Kind,
			Symbol:       current.Symbol,
			Message:      message,
			OccurredAt:   now,
		}
		fired = append(fired, alert)
		// a definition fires at most once per pass
		live[def.ID] = struct{}{}

		e.logger.Info().
			Str("symbol", current.Symbol).
			Str("definition", def.ID).
			Str("kind", string(def.Condition.Kind)).
			Float64("price", price).
			Msg("alert triggered")
	}

	return fired
}

// evaluateCondition reports whether c holds and, if so, the alert message
func evaluateCondition(c Condition, current, previous *forecast.Snapshot, price float64) (string, bool) {
	symbol := current.Symbol

	switch c.Kind {
	case KindPrice:
		if !crosses(c.Direction, price, c.Threshold) {
			return "", false
		}
		return fmt.Sprintf("%s price crossed %s %s", symbol, c.Direction, formatPrice(c.Threshold)), true

	case KindConfidence:
		if !crosses(c.Direction, current.Confidence, c.Threshold) {
			return "", false
		}
		return fmt.Sprintf("%s forecast confidence is %s %s%%", symbol, c.Direction, formatPercent(c.Threshold)), true

	case KindRecommendation:
		if previous == nil || previous.Symbol != symbol {
			return "", false
		}
		from, to := previous.Recommendation.Action, current.Recommendation.Action
		if from == to {
			return "", false
		}
		return fmt.Sprintf("%s recommendation changed from %s to %s",
			symbol, strings.ToUpper(string(from)), strings.ToUpper(string(to))), true

	default:
		return "", false
	}
}

// crosses compares strictly; a value equal to the threshold never fires
func crosses(dir Direction, value, threshold float64) bool {
	switch dir {
	case Above:
		return value > threshold
	case Below:
		return value < threshold
	default:
		return false
	}
}
