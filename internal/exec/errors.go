package exec

import "errors"

var (
	ErrCatalogUnavailable   = errors.New("asset catalog unavailable")
	ErrNoPriceAvailable     = errors.New("no price available")
	ErrLeverageConfigFailed = errors.New("leverage configuration failed")
	ErrTickSizeExhausted    = errors.New("no valid tick size found")
	ErrOrderRejected        = errors.New("order rejected")
	ErrTransport            = errors.New("transport error")
	ErrTimedOut             = errors.New("execution deadline exceeded")
	ErrInvariantViolation   = errors.New("invariant violation")
	ErrInvalidIntent        = errors.New("invalid trade intent")

	// ErrAttemptInFlight is returned instead of a Result: the call was not
	// an attempt and nothing was submitted or logged.
	ErrAttemptInFlight = errors.New("an attempt for this symbol is already in flight")
)
