/*
Package ledger provides the core cartera engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms behind the
  accounts-receivable / accounts-payable ("cartera") screens. Whether the
  counterparty is a client buying flowers or a supplier selling boxes, the
  same engine normalizes movements, folds them into a running balance,
  allocates prepayments against open invoices and summarizes the position.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind: What a movement is (invoice, credit note, payment, ...)
  - Movement: A single dated ledger entry for one counterparty
  - InvoiceBalance: What is still owed on one invoice
  - PrepaymentCredit: Money received ahead of invoicing, not yet applied
  - Account: The (side, counterparty) pair a ledger is kept for

DESIGN PRINCIPLES:
  1. Purity: Normalize, Accumulate, Allocate and Summarize never do I/O
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing invoices and credits
  4. Explicit contracts: ordering and caps are checked, not assumed

USAGE:
  movements := ledger.NewNormalizer().Normalize(raws)
  rows := ledger.Accumulate(opening, ledger.SortByDate(movements))
  summary := ledger.Summarize(opening, rows, credits)

SEE ALSO:
  - normalize.go: Raw record → Movement
  - timeline.go: Running balance
  - allocation.go: Prepayment / credit allocation
  - summary.go: Totals and net position
*/
package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the number of decimal places of the smallest currency unit.
const CurrencyPlaces = 2

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MovementID string
type InvoiceID string
type CreditID string
type CounterpartyID string

// Side tells whether a ledger tracks what a client owes us or what we owe a supplier.
type Side string

const (
	SideReceivable Side = "receivable" // clients
	SidePayable    Side = "payable"    // suppliers
)

func (s Side) IsValid() bool {
	return s == SideReceivable || s == SidePayable
}

// Account identifies one counterparty ledger.
type Account struct {
	Side           Side
	CounterpartyID CounterpartyID
}

func (a Account) String() string {
	return string(a.Side) + ":" + string(a.CounterpartyID)
}

// ParseAccount builds an Account from path or flag values.
func ParseAccount(side, counterparty string) (Account, error) {
	acc := Account{Side: Side(strings.ToLower(strings.TrimSpace(side))), CounterpartyID: CounterpartyID(strings.TrimSpace(counterparty))}
	if !acc.Side.IsValid() || acc.CounterpartyID == "" {
		return Account{}, fmt.Errorf("%w: %q/%q", ErrInvalidAccount, side, counterparty)
	}
	return acc, nil
}

// =============================================================================
// KIND - What a movement is
// =============================================================================

// Kind tags a movement. Unknown kind strings coming from the source system are
// kept verbatim so they can still be displayed; they contribute nothing to any
// balance or bucket.
type Kind string

const (
	KindInvoice        Kind = "invoice"
	KindCreditNote     Kind = "credit_note"
	KindDebitNote      Kind = "debit_note"
	KindRetention      Kind = "retention"
	KindPayment        Kind = "payment"
	KindPrepayment     Kind = "prepayment"
	KindOpeningBalance Kind = "opening_balance"
)

// KnownKinds lists every kind the engine understands, in display order.
var KnownKinds = []Kind{
	KindOpeningBalance,
	KindInvoice,
	KindDebitNote,
	KindCreditNote,
	KindRetention,
	KindPayment,
	KindPrepayment,
}

func (k Kind) IsKnown() bool {
	for _, known := range KnownKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Sign is the single mapping from kind to running-balance effect.
//
//	Invoice, DebitNote, OpeningBalance  → +1
//	CreditNote, Retention, Payment      → -1
//	Prepayment, unknown                 →  0
func (k Kind) Sign() int {
	switch k {
	case KindInvoice, KindDebitNote, KindOpeningBalance:
		return 1
	case KindCreditNote, KindRetention, KindPayment:
		return -1
	default:
		return 0
	}
}

// Buckets splits an amount into the three display columns of a statement.
type Buckets struct {
	Amount  decimal.Decimal // charges: invoices, debit notes, opening balances
	Credits decimal.Decimal // credit notes and retentions
	Payment decimal.Decimal // payments
}

func (b Buckets) Add(o Buckets) Buckets {
	return Buckets{
		Amount:  b.Amount.Add(o.Amount),
		Credits: b.Credits.Add(o.Credits),
		Payment: b.Payment.Add(o.Payment),
	}
}

// Net is charges minus credits minus payments.
func (b Buckets) Net() decimal.Decimal {
	return b.Amount.Sub(b.Credits).Sub(b.Payment)
}

// Buckets places amount in the column that matches the kind.
func (k Kind) Buckets(amount decimal.Decimal) Buckets {
	switch k {
	case KindInvoice, KindDebitNote, KindOpeningBalance:
		return Buckets{Amount: amount}
	case KindCreditNote, KindRetention:
		return Buckets{Credits: amount}
	case KindPayment:
		return Buckets{Payment: amount}
	default:
		return Buckets{}
	}
}

// =============================================================================
// MOVEMENT - A single ledger entry
// =============================================================================

type Movement struct {
	ID                MovementID
	Account           Account
	Kind              Kind
	Date              Date
	GrossAmount       decimal.Decimal // never negative; sign comes from Kind
	CounterpartyLabel string          // sub-client "mark" or supplier name
	ReferenceNumber   string
	Notes             string

	// AmountConsumed is what the source already used of a prepayment.
	// Ignored for every other kind.
	AmountConsumed decimal.Decimal

	// Editable is a business-rule flag owned by the source system.
	Editable bool

	IdempotencyKey string
}

// SignedContribution is the movement's effect on the running balance.
func (m Movement) SignedContribution() decimal.Decimal {
	switch m.Kind.Sign() {
	case 1:
		return m.GrossAmount
	case -1:
		return m.GrossAmount.Neg()
	default:
		return decimal.Zero
	}
}

// Buckets returns the movement's contribution to each display column.
func (m Movement) Buckets() Buckets {
	return m.Kind.Buckets(m.GrossAmount)
}

// =============================================================================
// INVOICE BALANCE - Payable state of one invoice
// =============================================================================

type InvoiceBalance struct {
	InvoiceID       InvoiceID
	ReferenceNumber string
	CurrentBalance  decimal.Decimal // shrinks only via allocation
	InvoiceDate     Date

	// Version increments on every committed change; used for stale checks.
	Version int64
}

// =============================================================================
// PREPAYMENT CREDIT - Money available to apply
// =============================================================================

type PrepaymentCredit struct {
	ID              CreditID
	Date            Date
	GrossAmount     decimal.Decimal
	AmountConsumed  decimal.Decimal
	ReferenceNumber string
	Version         int64
}

// Available is GrossAmount - AmountConsumed, kept within [0, GrossAmount].
func (c PrepaymentCredit) Available() decimal.Decimal {
	avail := c.GrossAmount.Sub(c.AmountConsumed)
	if avail.IsNegative() {
		return decimal.Zero
	}
	if avail.GreaterThan(c.GrossAmount) {
		return c.GrossAmount
	}
	return avail
}

// =============================================================================
// HELPERS
// =============================================================================

// RoundCurrency rounds to the smallest currency unit.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// MustParseDecimal parses s or returns zero.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func sumDecimals(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
