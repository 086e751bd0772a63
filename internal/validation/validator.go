// package validation provides helper functions for request data validation.
// It uses the go-playground/validator library and includes custom validation rules.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/crmforge/policy-engine/internal/domain"
	"github.com/crmforge/policy-engine/internal/schedule"
)

var validate = validator.New()

var hhmmRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// init registers custom validation rules with the validator instance.
func init() {
	// "hhmm" validates 24h wall-clock strings such as "08:00".
	mustRegister("hhmm", func(fl validator.FieldLevel) bool {
		if fl.Field().String() == "" {
			// Allow empty strings to be handled by the 'required' tag.
			return true
		}

		return hhmmRe.MatchString(fl.Field().String())
	})

	// "day_abbr" validates three-letter day-of-week abbreviations.
	mustRegister("day_abbr", func(fl validator.FieldLevel) bool {
		if fl.Field().String() == "" {
			return true
		}

		return schedule.ValidDay(fl.Field().String())
	})

	// "priority_label" validates Low | Medium | High.
	mustRegister("priority_label", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "", domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh:
			return true
		default:
			return false
		}
	})

	// "entity_type" validates Lead | Deal.
	mustRegister("entity_type", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "", domain.EntityTypeLead, domain.EntityTypeDeal:
			return true
		default:
			return false
		}
	})

	// "strategy" validates round_robin | load_balancing.
	mustRegister("strategy", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "", domain.StrategyRoundRobin, domain.StrategyLoadBalancing:
			return true
		default:
			return false
		}
	})
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		// A failed registration is a critical startup failure.
		panic(fmt.Sprintf("failed to register custom validation %q: %v", tag, err))
	}
}

// ValidationError is a custom error type that holds a slice of validation error messages.
type ValidationError struct {
	Errors []string
}

// Error returns a single string concatenating all validation error messages.
func (v *ValidationError) Error() string {
	return strings.Join(v.Errors, ", ")
}

// NewValidationError builds a ValidationError from free-form messages.
// Services use it for cross-field rules the tag syntax cannot express.
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidateStruct performs validation on a given struct based on its validation tags.
// If validation fails, it returns a *ValidationError with user-friendly messages.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors []string

		for _, err := range err.(validator.ValidationErrors) {
			var message string

			switch err.Tag() {
			case "hhmm":
				message = fmt.Sprintf("field '%s' must be a 24h time in HH:MM format", err.Field())
			case "day_abbr":
				message = fmt.Sprintf("field '%s' must be one of Mon, Tue, Wed, Thu, Fri, Sat, Sun", err.Field())
			case "priority_label":
				message = fmt.Sprintf("field '%s' must be one of Low, Medium, High", err.Field())
			case "entity_type":
				message = fmt.Sprintf("field '%s' must be Lead or Deal", err.Field())
			case "strategy":
				message = fmt.Sprintf("field '%s' must be round_robin or load_balancing", err.Field())
			default:
				message = fmt.Sprintf("field '%s' failed on the '%s' tag", err.Field(), err.Tag())
			}

			validationErrors = append(validationErrors, message)
		}

		return &ValidationError{Errors: validationErrors}
	}

	return nil
}
