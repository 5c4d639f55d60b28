/*
timeline.go - Running balance accumulator

PURPOSE:
  Folds movements, oldest first, into a cumulative balance starting from an
  opening balance. This is what the statement table shows row by row.

ORDERING CONTRACT:
  The fold itself never sorts. Ordering is carried by the SortedMovements
  type, which can only be built by:
    - SortByDate:          sorts (stable) and wraps
    - NewSortedMovements:  verifies order and fails with ErrUnsortedMovements
  A caller that forgets to sort therefore gets a compile error, not a wrong
  balance.

INVARIANT:
  rows[last].Balance == opening + Σ SignedContribution(m) for every movement
  kept in the timeline. Prepayments are never part of the timeline; they live
  in the credit pool (see allocation.go).

EXAMPLE:
  opening 100.00
  2025-01-01 invoice   50.00  → 150.00
  2025-01-02 payment  150.00  →   0.00
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SORTED MOVEMENTS
// =============================================================================

// SortedMovements is a batch of movements known to be in ascending date order.
type SortedMovements struct {
	items []Movement
}

// SortByDate returns a sorted copy. Movements on the same date keep their
// input order.
func SortByDate(movements []Movement) SortedMovements {
	items := make([]Movement, len(movements))
	copy(items, movements)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Date.Before(items[j].Date)
	})
	return SortedMovements{items: items}
}

// NewSortedMovements wraps movements that the caller claims are already sorted.
func NewSortedMovements(movements []Movement) (SortedMovements, error) {
	for i := 1; i < len(movements); i++ {
		if movements[i].Date.Before(movements[i-1].Date) {
			return SortedMovements{}, ErrUnsortedMovements
		}
	}
	items := make([]Movement, len(movements))
	copy(items, movements)
	return SortedMovements{items: items}, nil
}

// Movements returns a copy of the sorted batch.
func (s SortedMovements) Movements() []Movement {
	out := make([]Movement, len(s.items))
	copy(out, s.items)
	return out
}

func (s SortedMovements) Len() int { return len(s.items) }

// =============================================================================
// RUNNING ROW
// =============================================================================

// RunningRow is one statement line: the movement plus the balance after it.
type RunningRow struct {
	Movement     Movement
	Contribution decimal.Decimal
	Buckets      Buckets
	Balance      decimal.Decimal
}

// =============================================================================
// ACCUMULATE
// =============================================================================

// Accumulate folds the movements into running rows. Prepayments are skipped.
func Accumulate(opening decimal.Decimal, movements SortedMovements) []RunningRow {
	rows := make([]RunningRow, 0, len(movements.items))
	balance := opening
	for _, m := range movements.items {
		if m.Kind == KindPrepayment {
			continue
		}
		contribution := m.SignedContribution()
		balance = balance.Add(contribution)
		rows = append(rows, RunningRow{
			Movement:     m,
			Contribution: contribution,
			Buckets:      m.Buckets(),
			Balance:      balance,
		})
	}
	return rows
}

// BalanceAt returns the balance after every movement dated on or before at.
func BalanceAt(opening decimal.Decimal, movements SortedMovements, at Date) decimal.Decimal {
	balance := opening
	for _, m := range movements.items {
		if m.Date.After(at) {
			break
		}
		balance = balance.Add(m.SignedContribution())
	}
	return balance
}

// OpeningBalance sums the contributions of movements dated strictly before start.
// Order does not matter for a sum, so any slice is accepted.
func OpeningBalance(movements []Movement, start Date) decimal.Decimal {
	total := decimal.Zero
	if start.IsZero() {
		return total
	}
	for _, m := range movements {
		if m.Date.Before(start) {
			total = total.Add(m.SignedContribution())
		}
	}
	return total
}
