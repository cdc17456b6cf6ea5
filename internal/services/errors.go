// Package services defines the business logic for coordinate resolution,
// backup-coordinate storage, and notification dispatch. This file centralizes
// common service-level error values so that they can be consistently returned
// by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrInvalidCoordinates is returned when a sample or manual input fails
	// range/non-zero validation. Rejected synchronously, never retried.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrInvalidSample is returned when a telemetry payload is structurally
	// unusable (missing bin id).
	ErrInvalidSample = errors.New("invalid telemetry sample")

	// ErrRateLimited is returned when the sliding-window admission gate
	// denies a request; the caller must back off and may re-poll later.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrJobNotFound indicates that the requested notification job does not
	// exist.
	ErrJobNotFound = errors.New("notification job not found")

	// ErrEmptyRecipient is returned when a notify request carries no
	// destination phone number.
	ErrEmptyRecipient = errors.New("recipient phone is empty")

	// ErrInvalidBinLevel is returned when a notify request carries a fill
	// level outside [0, 100].
	ErrInvalidBinLevel = errors.New("bin level must be between 0 and 100")
)
