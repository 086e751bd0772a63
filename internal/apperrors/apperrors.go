package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	ErrInvalidRequest = errors.New("invalid request body")
	ErrValidation     = errors.New("validation failed")

	// Returned by the explicit "apply now" paths only; the engine paths
	// treat the same situations as a logged no-op.
	ErrNoSLAMatched     = errors.New("no enabled SLA matches this entity")
	ErrNoPriorityTiers  = errors.New("matched SLA has no priority tiers configured")
	ErrNoBusinessDays   = errors.New("matched SLA has no business days configured")
	ErrNoRuleMatched    = errors.New("no enabled assignment rule matches this entity")
	ErrAssignmentClosed = errors.New("assignment is not open")
)

type SLAAlreadyExistsError struct{ Name string }

func (e *SLAAlreadyExistsError) Error() string {
	return fmt.Sprintf("SLA '%s' already exists", e.Name)
}
func (e *SLAAlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

type RuleAlreadyExistsError struct{ Name string }

func (e *RuleAlreadyExistsError) Error() string {
	return fmt.Sprintf("assignment rule '%s' already exists", e.Name)
}
func (e *RuleAlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }
