package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraexport/cartera/ledger"
)

func TestStaleOr_OnlyLostRacesAreStale(t *testing.T) {
	stale := &ledger.StaleSnapshotError{InvoiceID: "F1", ExpectedVersion: 1, ActualVersion: 1}

	assert.ErrorIs(t, staleOr(errNoRowUpdated, stale), ledger.ErrStaleSnapshot)

	diskFull := errors.New("disk I/O error")
	err := staleOr(diskFull, stale)
	assert.ErrorIs(t, err, diskFull)
	assert.NotErrorIs(t, err, ledger.ErrStaleSnapshot)
	assert.False(t, ledger.IsConflict(err))
}

func TestUpdateVersioned_DriverErrorIsNotStale(t *testing.T) {
	ctx := context.Background()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tx, err := s.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	err = updateVersioned(ctx, tx, "UPDATE no_such_table SET version = version + 1 WHERE version = ?", 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errNoRowUpdated)

	err = updateVersioned(ctx, tx, `
		UPDATE invoice_balances SET version = version + 1
		WHERE invoice_id = ? AND version = ?`, "missing", 1)
	assert.ErrorIs(t, err, errNoRowUpdated)
}
