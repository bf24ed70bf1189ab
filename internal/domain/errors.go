package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrBelowFloorPrice       = errors.New("offer below floor price")
	ErrQuantityTooLow        = errors.New("quantity below bulk minimum")
	ErrNegotiationClosed     = errors.New("negotiation already closed")
	ErrStaleNegotiationState = errors.New("stale negotiation state")
	ErrVersionConflict       = errors.New("version conflict")
	ErrPriceDataUnavailable  = errors.New("price data unavailable")
	ErrInvalidActorRole      = errors.New("invalid actor role")
	ErrInvalidDecision       = errors.New("invalid decision")
	ErrLockHeld              = errors.New("lock already held")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrRateLimited           = errors.New("rate limited")
)
