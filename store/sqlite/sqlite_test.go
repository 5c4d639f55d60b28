package sqlite_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraexport/cartera/ledger"
	"github.com/floraexport/cartera/store/sqlite"
)

var acc = ledger.Account{Side: ledger.SidePayable, CounterpartyID: "prov-3"}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func movement(id string, kind ledger.Kind, date, amount string) ledger.Movement {
	return ledger.Movement{
		ID:                ledger.MovementID(id),
		Account:           acc,
		Kind:              kind,
		Date:              ledger.MustParseDate(date),
		GrossAmount:       decimal.RequireFromString(amount),
		CounterpartyLabel: "Cajas del Sur",
		ReferenceNumber:   "REF-" + id,
		Editable:          true,
		IdempotencyKey:    "import:" + id,
	}
}

func seed(t *testing.T, s *sqlite.Store) {
	t.Helper()
	require.NoError(t, s.AppendBatch(context.Background(), []ledger.Movement{
		movement("F1", ledger.KindInvoice, "2025-01-01", "30.00"),
		movement("F2", ledger.KindInvoice, "2025-02-01", "70.00"),
		movement("P1", ledger.KindPrepayment, "2024-12-20", "100.00"),
		movement("N1", ledger.KindCreditNote, "2025-02-01", "5.00"),
	}))
}

func TestSQLite_RoundTripsMovements(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	ms, err := s.Load(ctx, acc)
	require.NoError(t, err)
	require.Len(t, ms, 4)

	assert.Equal(t, ledger.MovementID("P1"), ms[0].ID)
	assert.Equal(t, ledger.MovementID("F2"), ms[2].ID, "same-date rows keep insertion order")
	assert.Equal(t, ledger.MovementID("N1"), ms[3].ID)

	f1 := ms[1]
	assert.Equal(t, acc, f1.Account)
	assert.Equal(t, ledger.KindInvoice, f1.Kind)
	assert.Equal(t, "2025-01-01", f1.Date.String())
	assert.Equal(t, "30.00", f1.GrossAmount.StringFixed(2))
	assert.Equal(t, "Cajas del Sur", f1.CounterpartyLabel)
	assert.Equal(t, "REF-F1", f1.ReferenceNumber)
	assert.True(t, f1.Editable)
	assert.Equal(t, "import:F1", f1.IdempotencyKey)
}

func TestSQLite_LoadRangeAndExists(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	ms, err := s.LoadRange(ctx, acc, ledger.MustParseDate("2025-01-01"), ledger.MustParseDate("2025-01-31"))
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, ledger.MovementID("F1"), ms[0].ID)

	exists, err := s.Exists(ctx, "import:F2")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "import:nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLite_DuplicateKeyRollsBackBatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	err := s.AppendBatch(ctx, []ledger.Movement{
		movement("F9", ledger.KindInvoice, "2025-03-01", "9.00"),
		movement("F1", ledger.KindInvoice, "2025-03-01", "9.00"),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	invoices, err := s.OpenInvoices(ctx, acc)
	require.NoError(t, err)
	assert.Len(t, invoices, 2, "F9 balance row rolled back with its movement")
}

func TestSQLite_DerivedBalances(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	invoices, err := s.OpenInvoices(ctx, acc)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, ledger.InvoiceID("F1"), invoices[0].InvoiceID)
	assert.Equal(t, "REF-F1", invoices[0].ReferenceNumber)
	assert.Equal(t, int64(1), invoices[0].Version)

	credits, err := s.Credits(ctx, acc)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, "100.00", credits[0].Available().StringFixed(2))
}

func TestSQLite_CommitAndStaleRejection(t *testing.T) {
	// GIVEN: two plans built from the same snapshot
	// WHEN: committing both
	// THEN: the first updates balances, appends payments and records lines;
	//       the second is stale and leaves everything as the first left it

	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	snap, err := ledger.TakeSnapshot(ctx, s, acc, ledger.MustParseDate("2025-03-01"))
	require.NoError(t, err)

	p1, err := snap.Plan(nil, decimal.RequireFromString("40.00"), nil)
	require.NoError(t, err)
	p2, err := snap.Plan(nil, decimal.RequireFromString("10.00"), nil)
	require.NoError(t, err)

	require.NoError(t, s.Commit(ctx, ledger.Application{ID: "app-1", Account: acc, Plan: *p1, AppliedAt: snap.TakenAt}))

	err = s.Commit(ctx, ledger.Application{ID: "app-2", Account: acc, Plan: *p2, AppliedAt: snap.TakenAt})
	require.ErrorIs(t, err, ledger.ErrStaleSnapshot)

	invoices, err := s.OpenInvoices(ctx, acc)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, ledger.InvoiceID("F2"), invoices[0].InvoiceID)
	assert.Equal(t, "60.00", invoices[0].CurrentBalance.StringFixed(2))
	assert.Equal(t, int64(2), invoices[0].Version)

	credits, err := s.Credits(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, "60.00", credits[0].Available().StringFixed(2))
	assert.Equal(t, int64(2), credits[0].Version)

	lines, err := s.ApplicationLines(ctx, "app-1")
	require.NoError(t, err)
	assert.Len(t, lines, 3, "two invoices and one credit")

	ms, err := s.LoadRange(ctx, acc, snap.TakenAt, snap.TakenAt)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	for _, m := range ms {
		assert.Equal(t, ledger.KindPayment, m.Kind)
		assert.False(t, m.Editable)
	}

	// Same application id again is a duplicate, not a second payment.
	fresh, err := ledger.TakeSnapshot(ctx, s, acc, snap.TakenAt)
	require.NoError(t, err)
	p3, err := fresh.Plan(nil, decimal.RequireFromString("1.00"), nil)
	require.NoError(t, err)
	err = s.Commit(ctx, ledger.Application{ID: "app-1", Account: acc, Plan: *p3, AppliedAt: snap.TakenAt})
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	require.NoError(t, s.Reset(ctx))
	ms, err := s.Load(ctx, acc)
	require.NoError(t, err)
	assert.Empty(t, ms)
	require.NoError(t, s.Ping(ctx))
}

func TestSQLite_ReappendedDocumentKeepsAppliedBalance(t *testing.T) {
	// GIVEN: a committed application that leaves F2 at 60
	// WHEN: F2 or P1 is appended again under a different idempotency key
	// THEN: the append fails as a duplicate and nothing is overwritten

	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	snap, err := ledger.TakeSnapshot(ctx, s, acc, ledger.MustParseDate("2025-03-01"))
	require.NoError(t, err)
	p, err := snap.Plan(nil, decimal.RequireFromString("40.00"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, ledger.Application{ID: "app-1", Account: acc, Plan: *p, AppliedAt: snap.TakenAt}))

	again := movement("F2", ledger.KindInvoice, "2025-02-01", "70.00")
	again.IdempotencyKey = "import:F2-again"
	assert.ErrorIs(t, s.Append(ctx, again), ledger.ErrDuplicateDocument)

	again.IdempotencyKey = ""
	assert.ErrorIs(t, s.Append(ctx, again), ledger.ErrDuplicateDocument)

	credit := movement("P1", ledger.KindPrepayment, "2024-12-20", "100.00")
	credit.IdempotencyKey = "import:P1-again"
	assert.ErrorIs(t, s.Append(ctx, credit), ledger.ErrDuplicateDocument)

	invoices, err := s.OpenInvoices(ctx, acc)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "60.00", invoices[0].CurrentBalance.StringFixed(2))
	assert.Equal(t, int64(2), invoices[0].Version)

	credits, err := s.Credits(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, "60.00", credits[0].Available().StringFixed(2))

	exists, err := s.Exists(ctx, "import:F2-again")
	require.NoError(t, err)
	assert.False(t, exists, "the movement row rolled back with the balance row")
}

func TestSQLite_PrepaymentKeepsSourceConsumption(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	p := movement("P7", ledger.KindPrepayment, "2025-01-10", "1000.00")
	p.AmountConsumed = decimal.RequireFromString("300.00")
	require.NoError(t, s.AppendBatch(ctx, []ledger.Movement{p, movement("F7", ledger.KindInvoice, "2025-01-15", "500.00")}))

	credits, err := s.Credits(ctx, acc)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, "700.00", credits[0].Available().StringFixed(2))

	ms, err := s.Load(ctx, acc)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "300.00", ms[0].AmountConsumed.StringFixed(2))
	assert.True(t, ms[1].AmountConsumed.IsZero())
}
