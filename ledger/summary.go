package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// SUMMARY - Statement footer
// =============================================================================

// Summary is the aggregate shown under a statement.
type Summary struct {
	OpeningBalance decimal.Decimal
	ByKind         map[Kind]Buckets
	Totals         Buckets

	// OutstandingBalance is the last running balance, or the opening balance
	// when there are no rows.
	OutstandingBalance   decimal.Decimal
	TotalAvailableCredit decimal.Decimal

	// NetPosition is outstanding minus available credit. Negative means the
	// counterparty is in credit.
	NetPosition decimal.Decimal

	MovementCount int
}

// Summarize folds running rows and the credit pool into a Summary.
// It cannot fail; empty input yields the opening balance and zero totals.
func Summarize(opening decimal.Decimal, rows []RunningRow, credits []PrepaymentCredit) Summary {
	s := Summary{
		OpeningBalance:     opening,
		ByKind:             make(map[Kind]Buckets),
		OutstandingBalance: opening,
		MovementCount:      len(rows),
	}

	for _, row := range rows {
		kind := row.Movement.Kind
		s.ByKind[kind] = s.ByKind[kind].Add(row.Buckets)
		s.Totals = s.Totals.Add(row.Buckets)
	}
	if len(rows) > 0 {
		s.OutstandingBalance = rows[len(rows)-1].Balance
	}

	available := make([]decimal.Decimal, 0, len(credits))
	for _, c := range credits {
		available = append(available, c.Available())
	}
	s.TotalAvailableCredit = sumDecimals(available)
	s.NetPosition = s.OutstandingBalance.Sub(s.TotalAvailableCredit)
	return s
}
