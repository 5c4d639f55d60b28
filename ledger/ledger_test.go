package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraexport/cartera/ledger"
	"github.com/floraexport/cartera/ledger/store"
)

func keyed(m ledger.Movement, key string) ledger.Movement {
	m.IdempotencyKey = key
	return m
}

func TestLedger_DuplicateKeyRejected(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewLedger(store.NewMemory())

	m := keyed(mv("f1", ledger.KindInvoice, "2025-01-01", "10"), "import:f1")
	require.NoError(t, l.Append(ctx, m))
	assert.ErrorIs(t, l.Append(ctx, m), ledger.ErrDuplicateIdempotencyKey)
}

func TestLedger_BatchWithRepeatedKeyRejected(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewLedger(store.NewMemory())

	err := l.AppendBatch(ctx, []ledger.Movement{
		keyed(mv("a", ledger.KindInvoice, "2025-01-01", "10"), "same"),
		keyed(mv("b", ledger.KindInvoice, "2025-01-02", "10"), "same"),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	ms, err := l.Movements(ctx, testAccount)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestLedger_OpeningBalanceAndWindow(t *testing.T) {
	// GIVEN: movements in December and January
	// WHEN: reading a January statement window
	// THEN: December folds into the opening balance and January is listed

	ctx := context.Background()
	l := ledger.NewLedger(store.NewMemory())
	require.NoError(t, l.AppendBatch(ctx, []ledger.Movement{
		mv("a", ledger.KindInvoice, "2024-12-01", "500.00"),
		mv("b", ledger.KindRetention, "2024-12-15", "20.00"),
		mv("c", ledger.KindPayment, "2025-01-10", "100.00"),
		mv("d", ledger.KindInvoice, "2025-02-01", "1.00"),
	}))

	january := ledger.MonthPeriod(ledger.MustParseDate("2025-01-20"))
	opening, err := l.OpeningBalance(ctx, testAccount, january.Start)
	require.NoError(t, err)
	assertMoney(t, "480.00", opening)

	ms, err := l.MovementsIn(ctx, testAccount, january)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, ledger.MovementID("c"), ms[0].ID)

	_, err = l.MovementsIn(ctx, testAccount, ledger.Period{Start: january.End, End: january.Start})
	assert.ErrorIs(t, err, ledger.ErrInvalidPeriod)
}

func TestParseAccount(t *testing.T) {
	acc, err := ledger.ParseAccount(" Payable ", "prov-9")
	require.NoError(t, err)
	assert.Equal(t, ledger.SidePayable, acc.Side)
	assert.Equal(t, "payable:prov-9", acc.String())

	_, err = ledger.ParseAccount("both", "x")
	assert.ErrorIs(t, err, ledger.ErrInvalidAccount)
	_, err = ledger.ParseAccount("receivable", "  ")
	assert.ErrorIs(t, err, ledger.ErrInvalidAccount)
}

func TestPeriod_ContainsBoundsAreInclusive(t *testing.T) {
	feb := ledger.MonthPeriod(ledger.MustParseDate("2025-02-14"))

	assert.True(t, feb.Contains(ledger.MustParseDate("2025-02-01")))
	assert.True(t, feb.Contains(ledger.MustParseDate("2025-02-28")))
	assert.False(t, feb.Contains(ledger.MustParseDate("2025-01-31")))
	assert.False(t, feb.Contains(ledger.MustParseDate("2025-03-01")))

	open := ledger.Period{Start: ledger.MustParseDate("2025-02-01")}
	assert.True(t, open.Contains(ledger.MustParseDate("2031-12-31")))
	assert.True(t, ledger.Period{}.Contains(ledger.Date{}))
}
