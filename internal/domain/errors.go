package domain

import "errors"

// Domain errors
var (
	ErrMalformedAddress  = errors.New("malformed node address")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrPlayerConflict    = errors.New("multiple players matched a single address")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInternalError     = errors.New("internal server error")
)
