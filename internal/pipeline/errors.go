package pipeline

import "errors"

var (
	// ErrValidation marks a telemetry sample rejected before any tracker or
	// store mutation.
	ErrValidation = errors.New("invalid telemetry sample")

	// ErrIdentityMismatch marks a sample whose installation id does not match
	// the caller's bound installation.
	ErrIdentityMismatch = errors.New("installation id mismatch")
)
