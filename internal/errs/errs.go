package errs

import (
	"fmt"
	"strings"
)

// ServiceError wraps an unexpected failure with a dotted operation code that
// survives into API responses and log lines.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

// NewServiceError builds a ServiceError with code "<operation>.<reason>".
func NewServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// NonFieldErrors is the key used for validation failures that do not belong
// to a single input field.
const NonFieldErrors = "non_field_errors"

// FieldErrors maps input field names to human-readable validation messages.
// It renders as the JSON body of a 400 response.
type FieldErrors map[string][]string

func (e FieldErrors) Error() string {
	parts := make([]string, 0, len(e))
	for field, messages := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(messages, "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Add appends a message to the given field.
func (e FieldErrors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// NewFieldError builds a FieldErrors carrying a single message.
func NewFieldError(field, message string) FieldErrors {
	return FieldErrors{field: []string{message}}
}

// NewNonFieldError builds a FieldErrors under the non_field_errors key.
func NewNonFieldError(message string) FieldErrors {
	return NewFieldError(NonFieldErrors, message)
}
