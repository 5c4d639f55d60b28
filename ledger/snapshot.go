package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// SNAPSHOT - What an allocation is planned against
// =============================================================================

// Snapshot is the open invoices and credits of one account read together.
// Plans carry the versions seen here; Commit rejects them once any row moves.
type Snapshot struct {
	Account  Account
	Invoices []InvoiceBalance
	Credits  []PrepaymentCredit
	TakenAt  Date
}

// TakeSnapshot reads invoices and credits concurrently.
func TakeSnapshot(ctx context.Context, store BalanceStore, account Account, at Date) (*Snapshot, error) {
	snap := &Snapshot{Account: account, TakenAt: at}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		invoices, err := store.OpenInvoices(gctx, account)
		snap.Invoices = invoices
		return err
	})
	g.Go(func() error {
		credits, err := store.Credits(gctx, account)
		snap.Credits = credits
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Plan runs the allocator over the snapshot. A nil applications slice selects
// the oldest-first strategy.
func (s *Snapshot) Plan(selections []CreditSelection, total decimal.Decimal, applications []InvoiceApplication) (*Plan, error) {
	var a Allocator
	if len(applications) == 0 {
		return a.Allocate(s.Credits, selections, s.Invoices, total)
	}
	return a.AllocateManual(s.Credits, selections, s.Invoices, total, applications)
}
