package config

import "fmt"

// FieldError names the config field that failed validation and why.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}
