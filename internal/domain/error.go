package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrPlanNotFound         = errors.New("plan not found or inactive")
	ErrPriceNotFound        = errors.New("no single price for currency")
	ErrProviderNotFound     = errors.New("payment provider not found")
	ErrNoSavedPaymentMethod = errors.New("no saved payment method for renewal")
	ErrMalformedEvent       = errors.New("malformed webhook event")
	ErrLockNotAcquired      = errors.New("lock not acquired")

	// Storage errors
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Provider error kinds, wrapped by ProviderError
	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrProviderInvalidParams = errors.New("payment provider rejected params")
)

// ProviderError is returned by gateway adapters when a remote call fails.
// Err is one of ErrProviderUnavailable, ErrProviderInvalidParams or ErrNotFound.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err came from a payment provider call.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
