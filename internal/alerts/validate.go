package alerts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bl8ckfz/forecast-alerts/internal/forecast"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidDefinition is returned when a definition request fails admission
var ErrInvalidDefinition = errors.New("invalid alert definition")

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("catalog_symbol", func(fl validator.FieldLevel) bool {
		_, ok := forecast.LookupCurrency(fl.Field().String())
		return ok
	})
}

// DefinitionRequest is the user-facing form of a new alert definition.
// Confidence thresholds are given in percent (0-100).
type DefinitionRequest struct {
	Symbol       string   `json:"symbol" validate:"required,catalog_symbol"`
	Type         string   `json:"type" validate:"required,oneof=price confidence recommendation"`
	Direction    string   `json:"direction" default:"above" validate:"oneof=above below"`
	Threshold    *float64 `json:"threshold" validate:"required_if=Type price"`
	ThresholdPct *float64 `json:"threshold_pct" validate:"required_if=Type confidence,omitempty,gte=0,lte=100"`
}

// FieldError describes one failed validation rule
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field error of a rejected request
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidDefinition, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDefinition }

// Admit validates req and converts it into a Definition with the given id
// and creation time.
func Admit(req DefinitionRequest, id string, now time.Time) (Definition, error) {
	if err := defaults.Set(&req); err != nil {
		return Definition{}, fmt.Errorf("apply defaults: %w", err)
	}
	if err := validate.Struct(req); err != nil {
		return Definition{}, toValidationError(err)
	}

	def := Definition{
		ID:        id,
		Symbol:    req.Symbol,
		CreatedAt: now,
	}

	switch ConditionKind(req.Type) {
	case KindPrice:
		def.Condition = PriceCondition(Direction(req.Direction), *req.Threshold)
	case KindConfidence:
		def.Condition = ConfidenceCondition(Direction(req.Direction), *req.ThresholdPct/100)
	case KindRecommendation:
		def.Condition = RecommendationChangeCondition()
	}

	return def, nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Code:    "ERR_" + strings.ToUpper(fe.Tag()),
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "catalog_symbol":
		return fmt.Sprintf("%s is not a supported symbol", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
