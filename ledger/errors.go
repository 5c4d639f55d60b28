/*
errors.go - Centralized error types for the cartera engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers should match with errors.Is / errors.As and never on strings.

ERROR CATEGORIES:
  1. Parse errors       - Malformed raw fields; recovered locally (zero-filled)
  2. Allocation errors  - Caller asked for more than credits or invoices allow
  3. Commit errors      - Snapshot went stale between proposal and commit
  4. Store errors       - Idempotency and lookup failures

USER-VISIBLE BEHAVIOR:
  Allocation errors block the "apply prepayments" action with a descriptive
  message. Parse errors never block rendering; they are only reported.

SEE ALSO:
  - normalize.go: Produces ParseError
  - allocation.go: Produces InvalidAllocationError, InsufficientInvoiceBalanceError
  - store.go: Commit produces StaleSnapshotError
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAllocation is returned when a credit selection or a manual
	// invoice amount breaks a cap.
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrInsufficientInvoiceBalance is returned when the selected invoices
	// cannot absorb the full amount to apply.
	ErrInsufficientInvoiceBalance = errors.New("insufficient invoice balance")

	// ErrStaleSnapshot is returned at commit time when an invoice or credit
	// changed after the proposal was computed.
	ErrStaleSnapshot = errors.New("stale snapshot")

	// ErrDuplicateIdempotencyKey is returned when a movement with the same
	// idempotency key already exists. Expected for retried imports.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateDocument is returned when an invoice or prepayment id is
	// already recorded for the account, whatever its idempotency key.
	ErrDuplicateDocument = errors.New("invoice or credit already recorded")

	// ErrUnsortedMovements is returned when movements handed to the
	// accumulator are not in ascending date order.
	ErrUnsortedMovements = errors.New("movements not sorted by date")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidAccount is returned for an unknown side or empty counterparty.
	ErrInvalidAccount = errors.New("invalid account")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ParseError records a raw field that could not be parsed. The normalizer
// substitutes a zero value and keeps going.
type ParseError struct {
	RecordIndex int
	Field       string
	Value       any
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("record %d: cannot parse %s from %v", e.RecordIndex, e.Field, e.Value)
}

// InvalidAllocationError explains which cap was broken.
type InvalidAllocationError struct {
	Reason    string
	CreditID  CreditID
	InvoiceID InvoiceID
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InvalidAllocationError) Error() string {
	switch {
	case e.CreditID != "":
		return fmt.Sprintf("invalid allocation: %s (credit %s: requested %s, available %s)",
			e.Reason, e.CreditID, e.Requested.StringFixed(CurrencyPlaces), e.Available.StringFixed(CurrencyPlaces))
	case e.InvoiceID != "":
		return fmt.Sprintf("invalid allocation: %s (invoice %s: requested %s, balance %s)",
			e.Reason, e.InvoiceID, e.Requested.StringFixed(CurrencyPlaces), e.Available.StringFixed(CurrencyPlaces))
	default:
		return "invalid allocation: " + e.Reason
	}
}

func (e *InvalidAllocationError) Unwrap() error {
	return ErrInvalidAllocation
}

// InsufficientInvoiceBalanceError reports how much the invoices could absorb.
type InsufficientInvoiceBalanceError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientInvoiceBalanceError) Error() string {
	return fmt.Sprintf("cannot allocate amount %s, only %s available across selected invoices",
		e.Requested.StringFixed(CurrencyPlaces), e.Available.StringFixed(CurrencyPlaces))
}

func (e *InsufficientInvoiceBalanceError) Unwrap() error {
	return ErrInsufficientInvoiceBalance
}

// StaleSnapshotError names the first row found to have changed.
type StaleSnapshotError struct {
	InvoiceID       InvoiceID
	CreditID        CreditID
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *StaleSnapshotError) Error() string {
	if e.CreditID != "" {
		return fmt.Sprintf("stale snapshot: credit %s at version %d, expected %d",
			e.CreditID, e.ActualVersion, e.ExpectedVersion)
	}
	return fmt.Sprintf("stale snapshot: invoice %s at version %d, expected %d",
		e.InvoiceID, e.ActualVersion, e.ExpectedVersion)
}

func (e *StaleSnapshotError) Unwrap() error {
	return ErrStaleSnapshot
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAllocation) ||
		errors.Is(err, ErrInsufficientInvoiceBalance) ||
		errors.Is(err, ErrUnsortedMovements) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidAccount)
}

// IsConflict returns true if the error comes from concurrent or repeated writes.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStaleSnapshot) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrDuplicateDocument)
}
