/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. Callers classify failures with errors.Is
  against the sentinels; structured types carry enough context (which
  customer, which transaction, why) for a retry or manual correction.

ERROR CATEGORIES:
  1. Validation errors - malformed transactions, rejected before the engine
  2. Conflict errors   - concurrent-write collision detected at commit
  3. Not-found errors  - operations on nonexistent customers/transactions
  4. Persistence errors - store failure; the whole cascade batch rolls back
  5. Busy errors       - per-customer gate not acquired within the timeout

PROPAGATION POLICY:
  Every error is returned to the immediate caller. Nothing is swallowed or
  retried internally; conflict and busy errors are retryable by the caller
  after re-fetching current state.
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
	// ErrValidation is returned when a transaction is malformed. Never
	// retried automatically.
	ErrValidation = errors.New("invalid transaction")

	// ErrConflict is returned when a concurrent writer committed first.
	// The caller must re-fetch the chain and retry.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrCustomerNotFound is returned for operations on an unknown customer.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrTransactionNotFound is returned for operations on an unknown transaction.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrPersistence is returned when the underlying store fails during a
	// commit. The entire batch is rolled back; partial cascades are never
	// observably persisted.
	ErrPersistence = errors.New("persistence failure")

	// ErrBusy is returned when the per-customer serialization gate cannot
	// be acquired within the configured timeout. Retry with backoff.
	ErrBusy = errors.New("customer ledger busy")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError identifies which field of which customer's transaction
// was rejected and why.
type ValidationError struct {
	CustomerID CustomerID
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction for customer %s: %s %s", e.CustomerID, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports a chain-version mismatch at commit time.
type ConflictError struct {
	CustomerID CustomerID
	Expected   int64
	Actual     int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting write on customer %s: chain version %d, expected %d",
		e.CustomerID, e.Actual, e.Expected)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrBusy)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
