package calculation

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrSchemeNotApplied is returned when an override targets a scheme that is
	// not in the current applied set.
	ErrSchemeNotApplied = errors.New("scheme is not applied")
	// ErrReasonRequired is returned when an override has no reason.
	ErrReasonRequired = errors.New("override reason is required")
	// ErrActorRequired is returned when an override has no actor.
	ErrActorRequired = errors.New("override actor is required")
	// ErrSessionNotFound is returned for an unknown or expired session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionSubmitted is returned when a submitted session is modified.
	ErrSessionSubmitted = errors.New("session already submitted")
)

// ValidationError reports a caller contract violation. It is meant to be
// shown to the caller, who is expected to correct the request and retry.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func validationErr(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: err.Error(), Err: err}
}
