package utils

import "fmt"

// CoreError represents a structured, contextual error raised by the
// byte-cursor and checksum primitives shared across all format codecs.
type CoreError struct {
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

// WrapError creates a contextual error. Returns nil when cause is nil so
// callers can write `return utils.WrapError(ctx, err)` unconditionally.
func WrapError(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &CoreError{
		Context: context,
		Cause:   cause,
	}
}

// Unwrap provides compatibility with errors.Unwrap().
func (e *CoreError) Unwrap() error {
	return e.Cause
}
