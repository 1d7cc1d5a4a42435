package entities

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationResult represents the outcome of a manifest validation.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError represents a specific validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Err folds the failures into one error, or returns nil when valid.
func (r *ValidationResult) Err() error {
	if r == nil || r.Valid {
		return nil
	}
	var b strings.Builder
	b.WriteString("manifest validation failed:")
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n- %s: %s", e.Field, e.Message)
	}
	return errors.New(b.String())
}

// Add records a failure and marks the result invalid.
func (r *ValidationResult) Add(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}
