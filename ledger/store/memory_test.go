package store_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraexport/cartera/ledger"
	"github.com/floraexport/cartera/ledger/store"
)

var acc = ledger.Account{Side: ledger.SideReceivable, CounterpartyID: "cli-7"}

func movement(id string, kind ledger.Kind, date, amount string) ledger.Movement {
	return ledger.Movement{
		ID:             ledger.MovementID(id),
		Account:        acc,
		Kind:           kind,
		Date:           ledger.MustParseDate(date),
		GrossAmount:    decimal.RequireFromString(amount),
		IdempotencyKey: "k-" + id,
	}
}

func seeded(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	require.NoError(t, m.AppendBatch(context.Background(), []ledger.Movement{
		movement("F1", ledger.KindInvoice, "2025-01-01", "30.00"),
		movement("F2", ledger.KindInvoice, "2025-02-01", "70.00"),
		movement("P1", ledger.KindPrepayment, "2024-12-20", "100.00"),
	}))
	return m
}

func TestMemory_AppendDerivesInvoicesAndCredits(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	invoices, err := m.OpenInvoices(ctx, acc)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, ledger.InvoiceID("F1"), invoices[0].InvoiceID)
	assert.Equal(t, int64(1), invoices[0].Version)

	credits, err := m.Credits(ctx, acc)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, "100.00", credits[0].Available().StringFixed(2))

	other, err := m.OpenInvoices(ctx, ledger.Account{Side: ledger.SidePayable, CounterpartyID: "cli-7"})
	require.NoError(t, err)
	assert.Empty(t, other, "accounts are isolated by side")
}

func TestMemory_LoadIsDateOrdered(t *testing.T) {
	ms, err := seeded(t).Load(context.Background(), acc)
	require.NoError(t, err)

	require.Len(t, ms, 3)
	assert.Equal(t, ledger.MovementID("P1"), ms[0].ID)
	assert.Equal(t, ledger.MovementID("F2"), ms[2].ID)
}

func TestMemory_LoadRangeHonorsOpenBounds(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	ms, err := m.LoadRange(ctx, acc, ledger.MustParseDate("2025-01-01"), ledger.Date{})
	require.NoError(t, err)
	assert.Len(t, ms, 2)

	ms, err = m.LoadRange(ctx, acc, ledger.Date{}, ledger.MustParseDate("2024-12-31"))
	require.NoError(t, err)
	assert.Len(t, ms, 1)
}

func TestMemory_AppendBatch_AllOrNothing(t *testing.T) {
	// GIVEN: a store holding key k-F1
	// WHEN: a batch of new movements also carries k-F1
	// THEN: the batch fails and none of it is written

	ctx := context.Background()
	m := seeded(t)

	err := m.AppendBatch(ctx, []ledger.Movement{
		movement("F3", ledger.KindInvoice, "2025-03-01", "5.00"),
		movement("F1", ledger.KindInvoice, "2025-03-01", "5.00"),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	exists, err := m.Exists(ctx, "k-F3")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, m.Append(ctx, movement("F1", ledger.KindInvoice, "2025-01-01", "1")), ledger.ErrDuplicateIdempotencyKey)
}

func plan(t *testing.T, m *store.Memory, total string) ledger.Application {
	t.Helper()
	snap, err := ledger.TakeSnapshot(context.Background(), m, acc, ledger.MustParseDate("2025-03-01"))
	require.NoError(t, err)
	p, err := snap.Plan(nil, decimal.RequireFromString(total), nil)
	require.NoError(t, err)
	return ledger.Application{ID: "app-" + total, Account: acc, Plan: *p, AppliedAt: snap.TakenAt}
}

func TestMemory_CommitAppliesPlanAndAppendsPayments(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	app := plan(t, m, "40.00")
	require.NoError(t, m.Commit(ctx, app))

	invoices, err := m.OpenInvoices(ctx, acc)
	require.NoError(t, err)
	require.Len(t, invoices, 1, "F1 is settled")
	assert.Equal(t, "60.00", invoices[0].CurrentBalance.StringFixed(2))
	assert.Equal(t, int64(2), invoices[0].Version)

	credits, err := m.Credits(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, "60.00", credits[0].Available().StringFixed(2))

	ms, err := m.Load(ctx, acc)
	require.NoError(t, err)
	var payments []ledger.Movement
	for _, mv := range ms {
		if mv.Kind == ledger.KindPayment {
			payments = append(payments, mv)
		}
	}
	require.Len(t, payments, 2)
	assert.False(t, payments[0].Editable)

	_, ok := m.Application(app.ID)
	assert.True(t, ok)
}

func TestMemory_CommitRejectsStaleVersions(t *testing.T) {
	// GIVEN: two plans computed from the same snapshot
	// WHEN: both are committed
	// THEN: the second fails with ErrStaleSnapshot and changes nothing

	ctx := context.Background()
	m := seeded(t)

	first := plan(t, m, "40.00")
	second := plan(t, m, "20.00")

	require.NoError(t, m.Commit(ctx, first))
	err := m.Commit(ctx, second)
	require.ErrorIs(t, err, ledger.ErrStaleSnapshot)
	assert.True(t, ledger.IsConflict(err))

	credits, err := m.Credits(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, "60.00", credits[0].Available().StringFixed(2))
}

func TestMemory_ReappendedDocumentKeepsAppliedBalance(t *testing.T) {
	// GIVEN: F1 and F2 partly settled by a committed application
	// WHEN: F2 is appended again under a new idempotency key
	// THEN: the append is rejected and the balance still reflects the application

	ctx := context.Background()
	m := seeded(t)
	require.NoError(t, m.Commit(ctx, plan(t, m, "40.00")))

	again := movement("F2", ledger.KindInvoice, "2025-02-01", "70.00")
	again.IdempotencyKey = "k-F2-again"
	assert.ErrorIs(t, m.Append(ctx, again), ledger.ErrDuplicateDocument)

	again.IdempotencyKey = ""
	assert.ErrorIs(t, m.AppendBatch(ctx, []ledger.Movement{again}), ledger.ErrDuplicateDocument)

	credit := movement("P1", ledger.KindPrepayment, "2024-12-20", "100.00")
	credit.IdempotencyKey = "k-P1-again"
	assert.ErrorIs(t, m.Append(ctx, credit), ledger.ErrDuplicateDocument)

	invoices, err := m.OpenInvoices(ctx, acc)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "60.00", invoices[0].CurrentBalance.StringFixed(2))
	assert.Equal(t, int64(2), invoices[0].Version)

	exists, err := m.Exists(ctx, "k-F2-again")
	require.NoError(t, err)
	assert.False(t, exists, "a rejected append leaves no trace")
}

func TestMemory_SameIDInOneBatchRejected(t *testing.T) {
	m := store.NewMemory()
	err := m.AppendBatch(context.Background(), []ledger.Movement{
		movement("X1", ledger.KindInvoice, "2025-01-01", "10.00"),
		{ID: "X1", Account: acc, Kind: ledger.KindInvoice, Date: ledger.MustParseDate("2025-01-02"), GrossAmount: decimal.RequireFromString("5")},
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateDocument)

	// An invoice and a prepayment may share an id.
	require.NoError(t, m.AppendBatch(context.Background(), []ledger.Movement{
		movement("X1", ledger.KindInvoice, "2025-01-01", "10.00"),
		{ID: "X1", Account: acc, Kind: ledger.KindPrepayment, Date: ledger.MustParseDate("2025-01-02"), GrossAmount: decimal.RequireFromString("5")},
	}))
}

func TestMemory_PrepaymentStartsWithSourceConsumption(t *testing.T) {
	p := movement("P9", ledger.KindPrepayment, "2025-01-01", "1000.00")
	p.AmountConsumed = decimal.RequireFromString("300")
	m := store.NewMemory()
	require.NoError(t, m.Append(context.Background(), p))

	credits, err := m.Credits(context.Background(), acc)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, "700.00", credits[0].Available().StringFixed(2))
	assert.Equal(t, int64(1), credits[0].Version)
}
