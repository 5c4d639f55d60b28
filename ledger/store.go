/*
store.go - Persistence interface for movements, balances and applications

PURPOSE:
  Defines the boundary between the pure engine and the database. Movements
  are append-only; invoice balances and credit consumption change only
  through Commit, and every change bumps a version.

KEY INTERFACES:
  Store:        Movement persistence (append, load, exists)
  BalanceStore: Store + open invoices, credit pool, atomic Commit

APPEND-ONLY CONTRACT:
  There is no Update or Delete for movements. Applying credit to an invoice
  does not edit the invoice; it appends a non-editable Payment movement and
  records the application lines.

DERIVED ROWS:
  Appending an Invoice movement creates its InvoiceBalance (balance = gross,
  version 1). Appending a Prepayment movement creates its PrepaymentCredit
  (consumed 0, version 1).

OPTIMISTIC CONCURRENCY:
  Commit re-reads every invoice and credit named by the plan inside one
  transaction and compares versions. Any difference, or a cap that no longer
  holds, fails the whole commit with StaleSnapshotError. The caller then
  takes a fresh snapshot and re-plans.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and the CLI
  - store/sqlite/sqlite.go: SQLite with embedded migrations
*/
package ledger

import (
	"context"
	"fmt"
)

// =============================================================================
// STORE - Append-only movement persistence
// =============================================================================

// Store persists movements. Movements are never updated or deleted.
type Store interface {
	// Append persists a movement. Returns ErrDuplicateIdempotencyKey if the key
	// exists and ErrDuplicateDocument if an invoice or prepayment id does.
	Append(ctx context.Context, m Movement) error

	// AppendBatch persists movements atomically: all or none.
	AppendBatch(ctx context.Context, ms []Movement) error

	// Load returns every movement of the account ordered by date, then insertion.
	Load(ctx context.Context, account Account) ([]Movement, error)

	// LoadRange returns movements dated in [from, to]. A zero bound is open.
	LoadRange(ctx context.Context, account Account, from, to Date) ([]Movement, error)

	// Exists reports whether an idempotency key was already written.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// BalanceStore adds the mutable, versioned side of the ledger.
type BalanceStore interface {
	Store

	// OpenInvoices returns invoices of the account with a positive balance.
	OpenInvoices(ctx context.Context, account Account) ([]InvoiceBalance, error)

	// Credits returns every prepayment credit of the account, consumed or not.
	Credits(ctx context.Context, account Account) ([]PrepaymentCredit, error)

	// Commit applies a plan atomically, checking versions first.
	Commit(ctx context.Context, app Application) error
}

// =============================================================================
// APPLICATION - A committed plan
// =============================================================================

// Application is a plan bound to an account and a date, ready to commit.
type Application struct {
	ID        string
	Account   Account
	Plan      Plan
	AppliedAt Date
}

// PaymentMovements returns the non-editable Payment movements that record the
// application in the running balance, one per invoice.
func (a Application) PaymentMovements() []Movement {
	out := make([]Movement, 0, len(a.Plan.Allocations))
	for _, alloc := range a.Plan.Allocations {
		out = append(out, Movement{
			ID:              MovementID(fmt.Sprintf("%s-%s", a.ID, alloc.InvoiceID)),
			Account:         a.Account,
			Kind:            KindPayment,
			Date:            a.AppliedAt,
			GrossAmount:     alloc.Applied,
			ReferenceNumber: alloc.ReferenceNumber,
			Notes:           "prepayment applied",
			Editable:        false,
			IdempotencyKey:  fmt.Sprintf("application:%s:%s", a.ID, alloc.InvoiceID),
		})
	}
	return out
}

// CheckInvoice verifies a stored invoice against the plan's view of it.
// Stores call it inside their commit transaction.
func CheckInvoice(stored *InvoiceBalance, alloc Allocation) error {
	if stored == nil {
		return &StaleSnapshotError{InvoiceID: alloc.InvoiceID, ExpectedVersion: alloc.Version}
	}
	if stored.Version != alloc.Version || alloc.Applied.GreaterThan(stored.CurrentBalance) {
		return &StaleSnapshotError{
			InvoiceID:       alloc.InvoiceID,
			ExpectedVersion: alloc.Version,
			ActualVersion:   stored.Version,
		}
	}
	return nil
}

// CheckCredit verifies a stored credit against the plan's view of it.
func CheckCredit(stored *PrepaymentCredit, use CreditConsumption) error {
	if stored == nil {
		return &StaleSnapshotError{CreditID: use.CreditID, ExpectedVersion: use.Version}
	}
	if stored.Version != use.Version || use.Used.GreaterThan(stored.Available()) {
		return &StaleSnapshotError{
			CreditID:        use.CreditID,
			ExpectedVersion: use.Version,
			ActualVersion:   stored.Version,
		}
	}
	return nil
}

// DerivedInvoice returns the balance row an invoice movement opens.
func DerivedInvoice(m Movement) InvoiceBalance {
	return InvoiceBalance{
		InvoiceID:       InvoiceID(m.ID),
		ReferenceNumber: m.ReferenceNumber,
		CurrentBalance:  m.GrossAmount,
		InvoiceDate:     m.Date,
		Version:         1,
	}
}

// DerivedCredit returns the credit row a prepayment movement opens.
func DerivedCredit(m Movement) PrepaymentCredit {
	return PrepaymentCredit{
		ID:              CreditID(m.ID),
		Date:            m.Date,
		GrossAmount:     m.GrossAmount,
		AmountConsumed:  m.AmountConsumed,
		ReferenceNumber: m.ReferenceNumber,
		Version:         1,
	}
}
