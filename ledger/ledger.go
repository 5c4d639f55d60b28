/*
ledger.go - Append-only movement log for one account

PURPOSE:
  The Ledger is the source of truth a statement is computed from. Balances
  are never stored for the timeline; they are always folded from movements.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: movements are never edited or removed
  2. IDEMPOTENT: the same idempotency key is written at most once
  3. AUDITABLE: every change to an invoice balance has a Payment movement

CORRECTIONS:
  A wrong invoice is not edited. The source system issues a credit note
  (or a debit note) and both stay in the history.

SEE ALSO:
  - store.go: Low-level persistence interface
  - timeline.go: The fold that turns movements into a running balance
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the read/write view of one store, with duplicate prevention.
type Ledger interface {
	// Append adds a movement. Fails with ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, m Movement) error

	// AppendBatch adds movements atomically.
	AppendBatch(ctx context.Context, ms []Movement) error

	// Movements returns every movement of the account, chronologically.
	Movements(ctx context.Context, account Account) ([]Movement, error)

	// MovementsIn returns movements inside the period.
	MovementsIn(ctx context.Context, account Account, period Period) ([]Movement, error)

	// OpeningBalance is the balance carried into a window starting at before.
	OpeningBalance(ctx context.Context, account Account, before Date) (decimal.Decimal, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, m Movement) error {
	if m.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, m.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, m)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, ms []Movement) error {
	seen := make(map[string]bool, len(ms))
	for _, m := range ms {
		if m.IdempotencyKey == "" {
			continue
		}
		if seen[m.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		seen[m.IdempotencyKey] = true

		exists, err := l.Store.Exists(ctx, m.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, ms)
}

func (l *DefaultLedger) Movements(ctx context.Context, account Account) ([]Movement, error) {
	return l.Store.Load(ctx, account)
}

func (l *DefaultLedger) MovementsIn(ctx context.Context, account Account, period Period) ([]Movement, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return l.Store.LoadRange(ctx, account, period.Start, period.End)
}

func (l *DefaultLedger) OpeningBalance(ctx context.Context, account Account, before Date) (decimal.Decimal, error) {
	if before.IsZero() {
		return decimal.Zero, nil
	}
	ms, err := l.Store.LoadRange(ctx, account, Date{}, before.AddDays(-1))
	if err != nil {
		return decimal.Zero, err
	}
	return OpeningBalance(ms, before), nil
}
