// Package store provides in-process BalanceStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/floraexport/cartera/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev/CLI)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	movements    map[ledger.Account][]ledger.Movement
	invoices     map[ledger.Account]map[ledger.InvoiceID]*ledger.InvoiceBalance
	credits      map[ledger.Account]map[ledger.CreditID]*ledger.PrepaymentCredit
	applications map[string]ledger.Application
	idempotency  map[string]bool
}

var _ ledger.BalanceStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		movements:    make(map[ledger.Account][]ledger.Movement),
		invoices:     make(map[ledger.Account]map[ledger.InvoiceID]*ledger.InvoiceBalance),
		credits:      make(map[ledger.Account]map[ledger.CreditID]*ledger.PrepaymentCredit),
		applications: make(map[string]ledger.Application),
		idempotency:  make(map[string]bool),
	}
}

// Append adds a single movement. Append-only.
func (m *Memory) Append(_ context.Context, mv ledger.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendBatchLocked([]ledger.Movement{mv})
}

// AppendBatch adds multiple movements atomically.
func (m *Memory) AppendBatch(_ context.Context, ms []ledger.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendBatchLocked(ms)
}

func (m *Memory) appendBatchLocked(ms []ledger.Movement) error {
	// Check every key and document id before writing anything.
	seen := make(map[string]bool, len(ms))
	docs := make(map[documentKey]bool)
	for _, mv := range ms {
		if mv.IdempotencyKey != "" {
			if m.idempotency[mv.IdempotencyKey] || seen[mv.IdempotencyKey] {
				return ledger.ErrDuplicateIdempotencyKey
			}
			seen[mv.IdempotencyKey] = true
		}
		if !opensDocument(mv.Kind) {
			continue
		}
		key := documentKey{mv.Account, mv.Kind, mv.ID}
		if m.documentExists(mv) || docs[key] {
			return ledger.ErrDuplicateDocument
		}
		docs[key] = true
	}
	for _, mv := range ms {
		m.appendLocked(mv)
	}
	return nil
}

type documentKey struct {
	account ledger.Account
	kind    ledger.Kind
	id      ledger.MovementID
}

// opensDocument reports whether movements of this kind open a balance row.
func opensDocument(kind ledger.Kind) bool {
	return kind == ledger.KindInvoice || kind == ledger.KindPrepayment
}

func (m *Memory) documentExists(mv ledger.Movement) bool {
	switch mv.Kind {
	case ledger.KindInvoice:
		_, ok := m.invoices[mv.Account][ledger.InvoiceID(mv.ID)]
		return ok
	case ledger.KindPrepayment:
		_, ok := m.credits[mv.Account][ledger.CreditID(mv.ID)]
		return ok
	}
	return false
}

func (m *Memory) appendLocked(mv ledger.Movement) {
	acc := mv.Account
	ms := m.movements[acc]

	// Insert after every movement on the same date to keep insertion order.
	i := sort.Search(len(ms), func(i int) bool {
		return ms[i].Date.After(mv.Date)
	})
	ms = append(ms, ledger.Movement{})
	copy(ms[i+1:], ms[i:])
	ms[i] = mv
	m.movements[acc] = ms

	if mv.IdempotencyKey != "" {
		m.idempotency[mv.IdempotencyKey] = true
	}

	switch mv.Kind {
	case ledger.KindInvoice:
		if m.invoices[acc] == nil {
			m.invoices[acc] = make(map[ledger.InvoiceID]*ledger.InvoiceBalance)
		}
		inv := ledger.DerivedInvoice(mv)
		m.invoices[acc][inv.InvoiceID] = &inv
	case ledger.KindPrepayment:
		if m.credits[acc] == nil {
			m.credits[acc] = make(map[ledger.CreditID]*ledger.PrepaymentCredit)
		}
		c := ledger.DerivedCredit(mv)
		m.credits[acc][c.ID] = &c
	}
}

func (m *Memory) Load(_ context.Context, account ledger.Account) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Movement, len(m.movements[account]))
	copy(result, m.movements[account])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, account ledger.Account, from, to ledger.Date) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	period := ledger.Period{Start: from, End: to}
	var result []ledger.Movement
	for _, mv := range m.movements[account] {
		if period.Contains(mv.Date) {
			result = append(result, mv)
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// BALANCES
// =============================================================================

func (m *Memory) OpenInvoices(_ context.Context, account ledger.Account) ([]ledger.InvoiceBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.InvoiceBalance
	for _, inv := range m.invoices[account] {
		if inv.CurrentBalance.IsPositive() {
			result = append(result, *inv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].InvoiceDate.Equal(result[j].InvoiceDate) {
			return result[i].InvoiceDate.Before(result[j].InvoiceDate)
		}
		return result[i].InvoiceID < result[j].InvoiceID
	})
	return result, nil
}

func (m *Memory) Credits(_ context.Context, account ledger.Account) ([]ledger.PrepaymentCredit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.PrepaymentCredit, 0, len(m.credits[account]))
	for _, c := range m.credits[account] {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Commit checks every version under the write lock, then applies the plan.
func (m *Memory) Commit(_ context.Context, app ledger.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := app.Account
	for _, alloc := range app.Plan.Allocations {
		if err := ledger.CheckInvoice(m.invoices[acc][alloc.InvoiceID], alloc); err != nil {
			return err
		}
	}
	for _, use := range app.Plan.Consumptions {
		if err := ledger.CheckCredit(m.credits[acc][use.CreditID], use); err != nil {
			return err
		}
	}
	if _, dup := m.applications[app.ID]; dup {
		return ledger.ErrDuplicateIdempotencyKey
	}
	if err := m.appendBatchLocked(app.PaymentMovements()); err != nil {
		return err
	}

	for _, alloc := range app.Plan.Allocations {
		inv := m.invoices[acc][alloc.InvoiceID]
		inv.CurrentBalance = inv.CurrentBalance.Sub(alloc.Applied)
		inv.Version++
	}
	for _, use := range app.Plan.Consumptions {
		c := m.credits[acc][use.CreditID]
		c.AmountConsumed = c.AmountConsumed.Add(use.Used)
		c.Version++
	}
	m.applications[app.ID] = app
	return nil
}

// Application returns a committed application by id.
func (m *Memory) Application(id string) (ledger.Application, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.applications[id]
	return app, ok
}

// Reset drops every account (for demo scenarios).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements = make(map[ledger.Account][]ledger.Movement)
	m.invoices = make(map[ledger.Account]map[ledger.InvoiceID]*ledger.InvoiceBalance)
	m.credits = make(map[ledger.Account]map[ledger.CreditID]*ledger.PrepaymentCredit)
	m.applications = make(map[string]ledger.Application)
	m.idempotency = make(map[string]bool)
	return nil
}
