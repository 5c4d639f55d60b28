/*
engine_test.go - Executable scenarios for the cartera engine

ORGANIZATION:
  1. Running balance  - opening balance, kinds, prepayment exclusion
  2. Summary / aging  - outstanding, available credit, net position
  Allocation lives in allocation_test.go, normalization in normalize_test.go.

Each test states its scenario as GIVEN/WHEN/THEN.
*/
package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraexport/cartera/ledger"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

var testAccount = ledger.Account{Side: ledger.SideReceivable, CounterpartyID: "cli-001"}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(ledger.CurrencyPlaces), msgAndArgs...)
}

func mv(id string, kind ledger.Kind, date string, amount string) ledger.Movement {
	return ledger.Movement{
		ID:          ledger.MovementID(id),
		Account:     testAccount,
		Kind:        kind,
		Date:        ledger.MustParseDate(date),
		GrossAmount: money(amount),
	}
}

func invoice(id, date, balance string) ledger.InvoiceBalance {
	return ledger.InvoiceBalance{
		InvoiceID:       ledger.InvoiceID(id),
		ReferenceNumber: "FAC-" + id,
		CurrentBalance:  money(balance),
		InvoiceDate:     ledger.MustParseDate(date),
		Version:         1,
	}
}

func credit(id, date, gross, consumed string) ledger.PrepaymentCredit {
	return ledger.PrepaymentCredit{
		ID:             ledger.CreditID(id),
		Date:           ledger.MustParseDate(date),
		GrossAmount:    money(gross),
		AmountConsumed: money(consumed),
		Version:        1,
	}
}

// =============================================================================
// 1. RUNNING BALANCE
// =============================================================================

func TestAccumulate_OpeningPlusInvoice(t *testing.T) {
	// GIVEN: opening balance 100.00 and one invoice of 50.00 on day 1
	// WHEN: accumulating
	// THEN: the balance after the row is 150.00

	rows := ledger.Accumulate(money("100"), ledger.SortByDate([]ledger.Movement{
		mv("m1", ledger.KindInvoice, "2025-01-01", "50.00"),
	}))

	require.Len(t, rows, 1)
	assertMoney(t, "150.00", rows[0].Balance)
	assertMoney(t, "50.00", rows[0].Contribution)
	assertMoney(t, "50.00", rows[0].Buckets.Amount)
}

func TestAccumulate_PaymentSettlesBalance(t *testing.T) {
	// GIVEN: opening 100.00, invoice 50.00 on day 1, payment 150.00 on day 2
	// WHEN: accumulating
	// THEN: the second row's balance is 0.00

	rows := ledger.Accumulate(money("100"), ledger.SortByDate([]ledger.Movement{
		mv("m2", ledger.KindPayment, "2025-01-02", "150.00"),
		mv("m1", ledger.KindInvoice, "2025-01-01", "50.00"),
	}))

	require.Len(t, rows, 2)
	assert.Equal(t, ledger.MovementID("m1"), rows[0].Movement.ID)
	assertMoney(t, "150.00", rows[0].Balance)
	assertMoney(t, "0.00", rows[1].Balance)
	assertMoney(t, "150.00", rows[1].Buckets.Payment)
}

func TestAccumulate_FinalBalanceEqualsOpeningPlusContributions(t *testing.T) {
	// GIVEN: a mix of every kind, including an unknown one
	// WHEN: accumulating
	// THEN: last balance == opening + Σ signed contributions

	movements := []ledger.Movement{
		mv("a", ledger.KindOpeningBalance, "2025-01-01", "10.00"),
		mv("b", ledger.KindInvoice, "2025-01-03", "1200.50"),
		mv("c", ledger.KindDebitNote, "2025-01-04", "30.25"),
		mv("d", ledger.KindCreditNote, "2025-01-05", "100.00"),
		mv("e", ledger.KindRetention, "2025-01-06", "12.01"),
		mv("f", ledger.KindPayment, "2025-01-07", "500.00"),
		mv("g", ledger.Kind("ajuste_raro"), "2025-01-08", "999.99"),
	}
	opening := money("-42.10")

	expected := opening
	for _, m := range movements {
		expected = expected.Add(m.SignedContribution())
	}

	rows := ledger.Accumulate(opening, ledger.SortByDate(movements))
	require.Len(t, rows, len(movements))
	assertMoney(t, expected.StringFixed(2), rows[len(rows)-1].Balance)
	assertMoney(t, "586.64", rows[len(rows)-1].Balance)

	// The unknown kind stays visible but moves nothing.
	assert.Equal(t, ledger.Kind("ajuste_raro"), rows[6].Movement.Kind)
	assertMoney(t, "0.00", rows[6].Contribution)
	assert.Equal(t, ledger.Buckets{}, rows[6].Buckets)
}

func TestAccumulate_NeverEmitsPrepayments(t *testing.T) {
	// GIVEN: a prepayment between two invoices
	// WHEN: accumulating
	// THEN: no row has kind prepayment and the balance ignores it

	rows := ledger.Accumulate(decimal.Zero, ledger.SortByDate([]ledger.Movement{
		mv("i1", ledger.KindInvoice, "2025-02-01", "100.00"),
		mv("p1", ledger.KindPrepayment, "2025-02-02", "500.00"),
		mv("i2", ledger.KindInvoice, "2025-02-03", "50.00"),
	}))

	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.NotEqual(t, ledger.KindPrepayment, r.Movement.Kind)
	}
	assertMoney(t, "150.00", rows[1].Balance)
}

func TestNewSortedMovements_RejectsUnsortedInput(t *testing.T) {
	// GIVEN: movements out of date order
	// WHEN: wrapping them as already sorted
	// THEN: ErrUnsortedMovements, nothing is re-sorted silently

	_, err := ledger.NewSortedMovements([]ledger.Movement{
		mv("b", ledger.KindInvoice, "2025-01-05", "1"),
		mv("a", ledger.KindInvoice, "2025-01-01", "1"),
	})
	assert.ErrorIs(t, err, ledger.ErrUnsortedMovements)

	sorted, err := ledger.NewSortedMovements([]ledger.Movement{
		mv("a", ledger.KindInvoice, "2025-01-01", "1"),
		mv("b", ledger.KindInvoice, "2025-01-01", "2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sorted.Len())
}

func TestSortByDate_KeepsSameDayOrder(t *testing.T) {
	sorted := ledger.SortByDate([]ledger.Movement{
		mv("x", ledger.KindInvoice, "2025-03-02", "1"),
		mv("y", ledger.KindPayment, "2025-03-01", "1"),
		mv("z", ledger.KindInvoice, "2025-03-01", "1"),
	}).Movements()

	ids := []ledger.MovementID{sorted[0].ID, sorted[1].ID, sorted[2].ID}
	assert.Equal(t, []ledger.MovementID{"y", "z", "x"}, ids)
}

func TestOpeningBalance_SumsOnlyBeforeStart(t *testing.T) {
	movements := []ledger.Movement{
		mv("a", ledger.KindInvoice, "2024-12-30", "300.00"),
		mv("b", ledger.KindPayment, "2024-12-31", "100.00"),
		mv("c", ledger.KindInvoice, "2025-01-01", "999.00"),
	}

	assertMoney(t, "200.00", ledger.OpeningBalance(movements, ledger.MustParseDate("2025-01-01")))
	assertMoney(t, "0.00", ledger.OpeningBalance(movements, ledger.Date{}))
}

func TestBalanceAt_StopsAtDate(t *testing.T) {
	sorted := ledger.SortByDate([]ledger.Movement{
		mv("a", ledger.KindInvoice, "2025-01-01", "100.00"),
		mv("b", ledger.KindPayment, "2025-01-10", "40.00"),
		mv("c", ledger.KindInvoice, "2025-01-20", "10.00"),
	})

	assertMoney(t, "60.00", ledger.BalanceAt(decimal.Zero, sorted, ledger.MustParseDate("2025-01-15")))
	assertMoney(t, "70.00", ledger.BalanceAt(decimal.Zero, sorted, ledger.MustParseDate("2025-01-20")))
}

// =============================================================================
// 2. SUMMARY / AGING
// =============================================================================

func TestSummarize_NetPositionSubtractsAvailableCredit(t *testing.T) {
	// GIVEN: opening 100, invoice 50, credit note 20, payment 30,
	//        and credits with 25 + 0 available
	// WHEN: summarizing
	// THEN: outstanding 100, available 25, net 75

	rows := ledger.Accumulate(money("100"), ledger.SortByDate([]ledger.Movement{
		mv("i", ledger.KindInvoice, "2025-01-01", "50.00"),
		mv("n", ledger.KindCreditNote, "2025-01-02", "20.00"),
		mv("p", ledger.KindPayment, "2025-01-03", "30.00"),
	}))
	credits := []ledger.PrepaymentCredit{
		credit("c1", "2024-12-01", "40.00", "15.00"),
		credit("c2", "2024-12-02", "10.00", "10.00"),
	}

	s := ledger.Summarize(money("100"), rows, credits)

	assertMoney(t, "100.00", s.OutstandingBalance)
	assertMoney(t, "25.00", s.TotalAvailableCredit)
	assertMoney(t, "75.00", s.NetPosition)
	assertMoney(t, "50.00", s.Totals.Amount)
	assertMoney(t, "20.00", s.Totals.Credits)
	assertMoney(t, "30.00", s.Totals.Payment)
	assertMoney(t, "20.00", s.ByKind[ledger.KindCreditNote].Credits)
	assert.Equal(t, 3, s.MovementCount)
}

func TestSummarize_EmptyRowsYieldOpeningBalance(t *testing.T) {
	s := ledger.Summarize(money("12.34"), nil, nil)

	assertMoney(t, "12.34", s.OutstandingBalance)
	assertMoney(t, "12.34", s.NetPosition)
	assertMoney(t, "0.00", s.TotalAvailableCredit)
	assert.Zero(t, s.MovementCount)
}

func TestSummarize_NegativeNetPositionMeansCounterpartyInCredit(t *testing.T) {
	rows := ledger.Accumulate(decimal.Zero, ledger.SortByDate([]ledger.Movement{
		mv("i", ledger.KindInvoice, "2025-01-01", "10.00"),
	}))
	s := ledger.Summarize(decimal.Zero, rows, []ledger.PrepaymentCredit{
		credit("c1", "2025-01-01", "25.00", "0"),
	})

	assertMoney(t, "-15.00", s.NetPosition)
}

func TestAgeInvoices_BucketsByDaysPastInvoiceDate(t *testing.T) {
	asOf := ledger.MustParseDate("2025-06-30")
	report := ledger.AgeInvoices([]ledger.InvoiceBalance{
		invoice("a", "2025-06-30", "10.00"), // 0 days
		invoice("b", "2025-06-15", "20.00"), // 15
		invoice("c", "2025-05-10", "30.00"), // 51
		invoice("d", "2025-04-05", "40.00"), // 86
		invoice("e", "2024-12-31", "50.00"), // 181
		invoice("f", "2024-01-01", "0"),     // settled, ignored
	}, asOf)

	assertMoney(t, "10.00", report.Totals[ledger.AgingCurrent])
	assertMoney(t, "20.00", report.Totals[ledger.Aging1To30])
	assertMoney(t, "30.00", report.Totals[ledger.Aging31To60])
	assertMoney(t, "40.00", report.Totals[ledger.Aging61To90])
	assertMoney(t, "50.00", report.Totals[ledger.AgingOver90])
	assertMoney(t, "150.00", report.Total)
	assert.Len(t, report.Invoices, 5)
}

func TestBucketForDays_Boundaries(t *testing.T) {
	cases := map[int]ledger.AgingBucket{
		-3: ledger.AgingCurrent,
		0:  ledger.AgingCurrent,
		1:  ledger.Aging1To30,
		30: ledger.Aging1To30,
		31: ledger.Aging31To60,
		60: ledger.Aging31To60,
		61: ledger.Aging61To90,
		90: ledger.Aging61To90,
		91: ledger.AgingOver90,
	}
	for days, want := range cases {
		assert.Equal(t, want, ledger.BucketForDays(days), "days=%d", days)
	}
}
