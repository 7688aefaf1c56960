package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrSigningFailed       = errors.New("signing failed")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrContextDone         = errors.New("context cancelled")
	ErrLockHeld            = errors.New("lock already held")
	ErrTransient           = errors.New("transient io failure")
	ErrDataIntegrity       = errors.New("data integrity violation")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOrderRejected       = errors.New("order rejected by venue")
)

// IsTransient reports whether err stems from a retryable IO failure.
// Callers retry these once before surfacing them to the cycle runner.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsDataIntegrity reports whether err marks a malformed upstream record.
// Such records are skipped and logged, never retried.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}
