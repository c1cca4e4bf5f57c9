/*
errors.go - Centralized error types for the settlement engine

ERROR CATEGORIES:
  1. Validation - bad input, never touches the store
  2. Not found  - referenced card is missing or inactive
  3. Conflict   - optimistic transaction could not commit within its budget
  4. Store      - the underlying store is unreachable
  5. Authorization - caller was not admitted by the gate

Callers classify with errors.Is against the sentinels or with the helpers at
the bottom of this file. HTTP status mapping lives in api/handlers.go.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is the root of every *NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned by a store when data read or
	// written by a transaction changed before it could commit. The whole
	// transactional body must be retried from the start.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStoreUnavailable means the store could not be reached at all.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUnauthorized is returned when a mutating operation is attempted by a
	// caller the authorization gate did not admit.
	ErrUnauthorized = errors.New("unauthorized")
)

// Validation reasons. Each failure carries exactly one.
const (
	ReasonMissingMerchant   = "missing merchant"
	ReasonMissingAmount     = "missing amount"
	ReasonAmountNotANumber  = "amount not a number"
	ReasonAmountNotPositive = "amount must exceed zero"
	ReasonMissingCardID     = "missing card id"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports the first invalid field of a request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a missing or unusable referenced record.
type NotFoundError struct {
	Resource string // e.g. "card"
	ID       string
	Reason   string // e.g. "card does not exist"
}

func (e *NotFoundError) Error() string { return e.Reason }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func cardNotFound(id CardID) *NotFoundError {
	return &NotFoundError{Resource: "card", ID: string(id), Reason: "card does not exist"}
}

func cardInactive(id CardID) *NotFoundError {
	return &NotFoundError{Resource: "card", ID: string(id), Reason: "card is not active"}
}

// ConflictError is returned when an optimistic transaction kept conflicting
// until its retry budget ran out. It is safe for the caller to retry.
type ConflictError struct {
	Attempts int
	Err      error // last conflict reported by the store
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("transaction did not commit after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentModification }

// StoreUnavailableError wraps a failure to reach the store.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// SettlementError is returned alongside a successfully recorded purchase when
// the follow-up settlement pass failed. The purchase itself is committed.
type SettlementError struct {
	Err error
}

func (e *SettlementError) Error() string { return "settlement evaluation failed: " + e.Err.Error() }

func (e *SettlementError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStoreUnavailable returns true if the store could not be reached.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
