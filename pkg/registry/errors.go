package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrActionNotRegistered     = errors.New("action type not registered")
	ErrActionAlreadyRegistered = errors.New("action type already registered")
	ErrMissingInput            = errors.New("required input missing")
)

// IntegrationError is returned when an external action still fails after
// every retry attempt.
type IntegrationError struct {
	ActionType string
	Attempts   int
	Err        error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.ActionType, e.Attempts, e.Err)
}

func (e *IntegrationError) Unwrap() error {
	return e.Err
}

type MissingInputError struct {
	ActionType string
	Fields     []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("%s: missing required input %s", e.ActionType, strings.Join(e.Fields, ", "))
}

func (e *MissingInputError) Is(target error) bool {
	return target == ErrMissingInput
}

func IsIntegrationError(err error) bool {
	var target *IntegrationError

	return errors.As(err, &target)
}
