package domain

import "errors"

var (
	// ErrValidation covers malformed proposal shape: bad symbol format,
	// quantity out of bounds, missing side. Nothing is persisted.
	ErrValidation = errors.New("validation failed")

	// ErrInstrumentNotFound means the market-data source answered and the
	// symbol does not exist.
	ErrInstrumentNotFound = errors.New("instrument not found")

	// ErrMarketDataUnavailable means the market-data source could not be
	// reached (timeout, non-2xx, open breaker). An unresolvable instrument
	// blocks the trade; it is never approved by omission.
	ErrMarketDataUnavailable = errors.New("market data unavailable")

	// ErrInvalidState means the attempted transition violates the request
	// state machine. No mutation occurs.
	ErrInvalidState = errors.New("invalid request state")

	ErrRequestNotFound   = errors.New("trading request not found")
	ErrAlreadyRestricted = errors.New("instrument already restricted")
	ErrNotRestricted     = errors.New("instrument not restricted")

	// ErrStoreUnavailable means a durable-store write failed and the
	// enclosing transaction was rolled back entirely.
	ErrStoreUnavailable = errors.New("durable store unavailable")
)
