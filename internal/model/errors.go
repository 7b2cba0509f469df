package model

import (
	"errors"
	"fmt"
)

// Domain errors. Callers add context with %w and branch with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrMarketResolved    = errors.New("market is already resolved")
	ErrAlreadyResolved   = errors.New("market already resolved")

	// ErrInvalidAmount is a validation error for non-positive stakes.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrValidation)

	// ErrConflict means entity lock contention exhausted its retry budget.
	// Transient: the whole operation may be retried by the caller.
	ErrConflict = errors.New("conflict: entity busy, retry")

	// ErrStoreUnavailable wraps any ledger store read/write failure.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)
