package domain

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned while the initial corpus is still being built.
var ErrNotReady = errors.New("service not ready: initial corpus load in progress")

// ValidationError rejects a single malformed request entry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProviderError wraps a failed call to the embedding provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsProvider reports whether err carries a ProviderError.
func IsProvider(err error) bool {
	var p *ProviderError
	return errors.As(err, &p)
}
