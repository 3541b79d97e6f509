package merge

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// ValidationError describes one rejected observation.
type ValidationError struct {
	Index  int
	Key    leads.IdentityKey
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "missing required field(s)"
	}
	return fmt.Sprintf("observation %d (%s): %s: %s", e.Index, e.Key, reason, strings.Join(e.Fields, ", "))
}

// BatchError collects every observation rejected during a Reduce call.
// Records built from the remaining observations are still returned.
type BatchError struct {
	Failures []*ValidationError
}

func (e *BatchError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("1 observation rejected: %v", e.Failures[0])
	}
	return fmt.Sprintf("%d observations rejected; first: %v", len(e.Failures), e.Failures[0])
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

// Rejected returns the number of rejected observations carried by err, or 0.
func Rejected(err error) int {
	var batch *BatchError
	if errors.As(err, &batch) {
		return len(batch.Failures)
	}
	return 0
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func toValidationError(index int, key leads.IdentityKey, err error) *ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Index: index, Key: key, Reason: err.Error()}
	}
	out := &ValidationError{Index: index, Key: key}
	invalid := false
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, fe.Field())
		if fe.Tag() != "required" {
			invalid = true
		}
	}
	if invalid {
		out.Reason = "missing or invalid field(s)"
	}
	return out
}
