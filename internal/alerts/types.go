package alerts

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// ConditionKind enumerates the supported alert conditions
type ConditionKind string

const (
	KindPrice          ConditionKind = "price"
	KindConfidence     ConditionKind = "confidence"
	KindRecommendation ConditionKind = "recommendation"
)

// Direction is the side of a threshold a value must be on to fire
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// Condition is a closed sum over price, confidence and recommendation-change
// conditions. Direction and Threshold are unused for KindRecommendation.
type Condition struct {
	Kind      ConditionKind `json:"type"`
	Direction Direction     `json:"direction,omitempty"`
	Threshold float64       `json:"threshold,omitempty"`
}

// PriceCondition builds a price threshold condition
func PriceCondition(dir Direction, threshold float64) Condition {
	return Condition{Kind: KindPrice, Direction: dir, Threshold: threshold}
}

// ConfidenceCondition builds a confidence threshold condition; threshold is a fraction in [0,1]
func ConfidenceCondition(dir Direction, threshold float64) Condition {
	return Condition{Kind: KindConfidence, Direction: dir, Threshold: threshold}
}

// RecommendationChangeCondition fires on any change of recommended action
func RecommendationChangeCondition() Condition {
	return Condition{Kind: KindRecommendation}
}

// Describe renders the condition for listings
func (c Condition) Describe() string {
	switch c.Kind {
	case KindPrice:
		return fmt.Sprintf("Price %s %s", c.Direction, formatPrice(c.Threshold))
	case KindConfidence:
		return fmt.Sprintf("Confidence %s %s%%", c.Direction, formatPercent(c.Threshold))
	case KindRecommendation:
		return "On recommendation change"
	default:
		return ""
	}
}

// Definition is a user-authored alert rule scoped to one symbol
type Definition struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Condition Condition `json:"condition"`
	CreatedAt time.Time `json:"created_at"`
}

// TriggeredAlert is one firing occurrence of a definition
type TriggeredAlert struct {
	ID           string        `json:"id"`
	DefinitionID string        `json:"definition_id"`
	Kind         ConditionKind `json:"kind"`
	Symbol       string        `json:"symbol"`
	Message      string        `json:"message"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatPercent renders a fraction as a whole percentage, rounding half away from zero
func formatPercent(v float64) string {
	return strconv.FormatFloat(math.Round(v*100), 'f', 0, 64)
}
