package scheme

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrInvalidConfiguration is matched by every *ConfigurationError.
var ErrInvalidConfiguration = errors.New("invalid scheme configuration")

// ConfigurationError reports a definition that violates a data-model
// invariant. The offending scheme is excluded from a calculation; the error
// is never surfaced to the ordering customer.
type ConfigurationError struct {
	SchemeID string
	Reason   string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scheme %s: %s: %v", e.SchemeID, e.Reason, e.Err)
	}
	return fmt.Sprintf("scheme %s: %s", e.SchemeID, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInvalidConfiguration) hold for any
// configuration error.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

func configErr(id, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{SchemeID: id, Reason: fmt.Sprintf(format, args...)}
}
