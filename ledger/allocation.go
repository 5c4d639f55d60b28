/*
allocation.go - Prepayment / credit allocation against open invoices

PURPOSE:
  A counterparty paid ahead (prepayments) or was issued notes; the user picks
  which credits to use and how much, and the engine spreads that amount over
  open invoices. The result is a Plan the store commits atomically.

TWO PATHS:
  Oldest-first (greedy):
    Invoices sorted by InvoiceDate ascending, ties by InvoiceID ascending.
    Each invoice takes min(remaining, CurrentBalance) until nothing remains.

  Manual:
    The caller names the amount per invoice. The engine only validates:
    every amount ≤ that invoice's balance and Σ amounts == total.

CAPS (checked, never assumed):
  - total > 0 and expressed in whole currency units (2 decimals)
  - each selected credit exists and usage ≤ Available() (selections of the
    same credit are merged before checking)
  - total ≤ Σ selected usage
  - greedy: Σ open balances ≥ total, else InsufficientInvoiceBalanceError
  - manual: Σ applied == total exactly

POSTCONDITIONS:
  Σ Allocation.Applied == Σ CreditConsumption.Used == total

CONCURRENCY:
  None here. A Plan is computed over a snapshot and carries the Version of
  every invoice and credit it touches. The store re-checks those versions at
  commit time and answers ErrStaleSnapshot if anything moved.

EXAMPLE:
  invoices: A (2025-01-01, 30.00), B (2025-02-01, 70.00)
  total 40.00 → A gets 30.00, B gets 10.00

SEE ALSO:
  - errors.go: InvalidAllocationError, InsufficientInvoiceBalanceError
  - store.go: BalanceStore.Commit
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUEST / RESULT TYPES
// =============================================================================

// Strategy names how a plan distributed the amount.
type Strategy string

const (
	StrategyOldestFirst Strategy = "oldest_first"
	StrategyManual      Strategy = "manual"
)

// CreditSelection is the caller's choice of how much of one credit to use.
type CreditSelection struct {
	CreditID CreditID
	Amount   decimal.Decimal
}

// InvoiceApplication is a manual per-invoice amount.
type InvoiceApplication struct {
	InvoiceID InvoiceID
	Amount    decimal.Decimal
}

// Allocation is the amount applied to one invoice.
type Allocation struct {
	InvoiceID        InvoiceID
	ReferenceNumber  string
	Applied          decimal.Decimal
	RemainingBalance decimal.Decimal
	Version          int64
}

// CreditConsumption is the amount drawn from one credit.
type CreditConsumption struct {
	CreditID           CreditID
	Used               decimal.Decimal
	RemainingAvailable decimal.Decimal
	Version            int64
}

// Plan is a validated allocation proposal. It is not persisted by this package.
type Plan struct {
	Strategy     Strategy
	Total        decimal.Decimal
	Allocations  []Allocation
	Consumptions []CreditConsumption
}

// TotalApplied sums the invoice side of the plan.
func (p *Plan) TotalApplied() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Allocations {
		total = total.Add(a.Applied)
	}
	return total
}

// TotalUsed sums the credit side of the plan.
func (p *Plan) TotalUsed() decimal.Decimal {
	total := decimal.Zero
	for _, c := range p.Consumptions {
		total = total.Add(c.Used)
	}
	return total
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocator computes plans. It holds no state.
type Allocator struct{}

// Allocate distributes total over invoices, oldest first.
//
// When selections is empty every credit with a positive Available() is
// selected in full.
func (a Allocator) Allocate(
	credits []PrepaymentCredit,
	selections []CreditSelection,
	invoices []InvoiceBalance,
	total decimal.Decimal,
) (*Plan, error) {
	if err := validateTotal(total); err != nil {
		return nil, err
	}
	if _, err := indexInvoices(invoices); err != nil {
		return nil, err
	}
	consumptions, err := resolveCredits(credits, selections, total)
	if err != nil {
		return nil, err
	}

	ordered := make([]InvoiceBalance, len(invoices))
	copy(ordered, invoices)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].InvoiceDate.Equal(ordered[j].InvoiceDate) {
			return ordered[i].InvoiceDate.Before(ordered[j].InvoiceDate)
		}
		return ordered[i].InvoiceID < ordered[j].InvoiceID
	})

	var allocations []Allocation
	remaining := total
	capacity := decimal.Zero

	for _, inv := range ordered {
		if !inv.CurrentBalance.IsPositive() {
			continue
		}
		capacity = capacity.Add(inv.CurrentBalance)
		if remaining.IsZero() {
			continue
		}
		applied := decimal.Min(remaining, inv.CurrentBalance)
		allocations = append(allocations, Allocation{
			InvoiceID:        inv.InvoiceID,
			ReferenceNumber:  inv.ReferenceNumber,
			Applied:          applied,
			RemainingBalance: inv.CurrentBalance.Sub(applied),
			Version:          inv.Version,
		})
		remaining = remaining.Sub(applied)
	}

	if remaining.IsPositive() {
		return nil, &InsufficientInvoiceBalanceError{Requested: total, Available: capacity}
	}

	return &Plan{
		Strategy:     StrategyOldestFirst,
		Total:        total,
		Allocations:  allocations,
		Consumptions: consumptions,
	}, nil
}

// AllocateManual validates caller-chosen per-invoice amounts.
func (a Allocator) AllocateManual(
	credits []PrepaymentCredit,
	selections []CreditSelection,
	invoices []InvoiceBalance,
	total decimal.Decimal,
	applications []InvoiceApplication,
) (*Plan, error) {
	if err := validateTotal(total); err != nil {
		return nil, err
	}
	byID, err := indexInvoices(invoices)
	if err != nil {
		return nil, err
	}
	consumptions, err := resolveCredits(credits, selections, total)
	if err != nil {
		return nil, err
	}

	// Merge repeated invoice entries, keeping first-seen order.
	var order []InvoiceID
	merged := make(map[InvoiceID]decimal.Decimal)
	for _, app := range applications {
		if !app.Amount.IsPositive() {
			return nil, &InvalidAllocationError{
				Reason:    "applied amount must be positive",
				InvoiceID: app.InvoiceID,
				Requested: app.Amount,
			}
		}
		if _, seen := merged[app.InvoiceID]; !seen {
			order = append(order, app.InvoiceID)
			merged[app.InvoiceID] = decimal.Zero
		}
		merged[app.InvoiceID] = merged[app.InvoiceID].Add(app.Amount)
	}

	allocations := make([]Allocation, 0, len(order))
	sum := decimal.Zero
	for _, id := range order {
		inv, ok := byID[id]
		if !ok {
			return nil, &InvalidAllocationError{Reason: "unknown invoice", InvoiceID: id, Requested: merged[id]}
		}
		applied := merged[id]
		if applied.GreaterThan(inv.CurrentBalance) {
			return nil, &InvalidAllocationError{
				Reason:    "applied amount exceeds invoice balance",
				InvoiceID: id,
				Requested: applied,
				Available: inv.CurrentBalance,
			}
		}
		allocations = append(allocations, Allocation{
			InvoiceID:        id,
			ReferenceNumber:  inv.ReferenceNumber,
			Applied:          applied,
			RemainingBalance: inv.CurrentBalance.Sub(applied),
			Version:          inv.Version,
		})
		sum = sum.Add(applied)
	}

	if !sum.Equal(total) {
		return nil, &InvalidAllocationError{
			Reason:    "manual amounts must add up to the total to apply",
			Requested: total,
			Available: sum,
		}
	}

	return &Plan{
		Strategy:     StrategyManual,
		Total:        total,
		Allocations:  allocations,
		Consumptions: consumptions,
	}, nil
}

// =============================================================================
// VALIDATION HELPERS
// =============================================================================

func validateTotal(total decimal.Decimal) error {
	if !total.IsPositive() {
		return &InvalidAllocationError{Reason: "total to apply must be positive", Requested: total}
	}
	if !total.Equal(RoundCurrency(total)) {
		return &InvalidAllocationError{Reason: "total to apply is finer than the currency unit", Requested: total}
	}
	return nil
}

func indexInvoices(invoices []InvoiceBalance) (map[InvoiceID]InvoiceBalance, error) {
	byID := make(map[InvoiceID]InvoiceBalance, len(invoices))
	for _, inv := range invoices {
		if _, dup := byID[inv.InvoiceID]; dup {
			return nil, &InvalidAllocationError{Reason: "invoice listed twice in snapshot", InvoiceID: inv.InvoiceID}
		}
		byID[inv.InvoiceID] = inv
	}
	return byID, nil
}

// resolveCredits validates the selection and drains the selected credits,
// oldest credit first, until total is covered.
func resolveCredits(credits []PrepaymentCredit, selections []CreditSelection, total decimal.Decimal) ([]CreditConsumption, error) {
	byID := make(map[CreditID]PrepaymentCredit, len(credits))
	for _, c := range credits {
		if _, dup := byID[c.ID]; dup {
			return nil, &InvalidAllocationError{Reason: "credit listed twice in snapshot", CreditID: c.ID}
		}
		byID[c.ID] = c
	}

	if len(selections) == 0 {
		for _, c := range credits {
			if c.Available().IsPositive() {
				selections = append(selections, CreditSelection{CreditID: c.ID, Amount: c.Available()})
			}
		}
	}

	merged := make(map[CreditID]decimal.Decimal)
	for _, sel := range selections {
		if !sel.Amount.IsPositive() {
			return nil, &InvalidAllocationError{
				Reason:    "credit usage must be positive",
				CreditID:  sel.CreditID,
				Requested: sel.Amount,
			}
		}
		merged[sel.CreditID] = merged[sel.CreditID].Add(sel.Amount)
	}

	selected := make([]PrepaymentCredit, 0, len(merged))
	selectedSum := decimal.Zero
	for id, used := range merged {
		c, ok := byID[id]
		if !ok {
			return nil, &InvalidAllocationError{Reason: "unknown credit", CreditID: id, Requested: used}
		}
		if used.GreaterThan(c.Available()) {
			return nil, &InvalidAllocationError{
				Reason:    "credit usage exceeds available amount",
				CreditID:  id,
				Requested: used,
				Available: c.Available(),
			}
		}
		selected = append(selected, c)
		selectedSum = selectedSum.Add(used)
	}

	if total.GreaterThan(selectedSum) {
		return nil, &InvalidAllocationError{
			Reason:    "total to apply exceeds selected credit",
			Requested: total,
			Available: selectedSum,
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		if !selected[i].Date.Equal(selected[j].Date) {
			return selected[i].Date.Before(selected[j].Date)
		}
		return selected[i].ID < selected[j].ID
	})

	var consumptions []CreditConsumption
	remaining := total
	for _, c := range selected {
		if remaining.IsZero() {
			break
		}
		used := decimal.Min(remaining, merged[c.ID])
		consumptions = append(consumptions, CreditConsumption{
			CreditID:           c.ID,
			Used:               used,
			RemainingAvailable: c.Available().Sub(used),
			Version:            c.Version,
		})
		remaining = remaining.Sub(used)
	}
	return consumptions, nil
}
