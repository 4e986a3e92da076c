package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("domain: validation failed")
	// ErrNotFound is returned by stores when a referenced catalog entry does not exist.
	ErrNotFound = errors.New("domain: not found")
)

// ValidationError names the field and the rule an entity construction violated.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("domain: invalid %s: %s", e.Field, e.Rule)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, rule string) error {
	return &ValidationError{Field: field, Rule: rule}
}
