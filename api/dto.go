/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Money always travels as
  a string with two decimals and dates as "YYYY-MM-DD", so clients never see
  float rounding.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  validateRequest before touching the service. Import bodies are decoded by
  factory.BatchFactory instead, since their records have no fixed shape.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/batch.go: Import body format
*/
package api

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/floraexport/cartera/cartera"
	"github.com/floraexport/cartera/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// AllocationRequest applies prepayment credits to open invoices. Without
// applications the invoices are filled oldest first.
type AllocationRequest struct {
	ApplicationID string                  `json:"application_id,omitempty" validate:"omitempty,max=64,printascii"`
	Total         string                  `json:"total" validate:"required,numeric"`
	Selections    []CreditSelectionDTO    `json:"selections,omitempty" validate:"omitempty,dive"`
	Applications  []InvoiceApplicationDTO `json:"applications,omitempty" validate:"omitempty,dive"`
}

type CreditSelectionDTO struct {
	CreditID string `json:"credit_id" validate:"required"`
	Amount   string `json:"amount" validate:"required,numeric"`
}

type InvoiceApplicationDTO struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
	Amount    string `json:"amount" validate:"required,numeric"`
}

// LoadScenarioRequest picks a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// toService converts validated strings into the service request.
func (r AllocationRequest) toService() (cartera.AllocationRequest, error) {
	total, err := decimal.NewFromString(r.Total)
	if err != nil {
		return cartera.AllocationRequest{}, err
	}
	req := cartera.AllocationRequest{ApplicationID: r.ApplicationID, Total: total}
	for _, s := range r.Selections {
		amt, err := decimal.NewFromString(s.Amount)
		if err != nil {
			return cartera.AllocationRequest{}, err
		}
		req.Selections = append(req.Selections, ledger.CreditSelection{CreditID: ledger.CreditID(s.CreditID), Amount: amt})
	}
	for _, a := range r.Applications {
		amt, err := decimal.NewFromString(a.Amount)
		if err != nil {
			return cartera.AllocationRequest{}, err
		}
		req.Applications = append(req.Applications, ledger.InvoiceApplication{InvoiceID: ledger.InvoiceID(a.InvoiceID), Amount: amt})
	}
	return req, nil
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type AccountDTO struct {
	Side         string `json:"side"`
	Counterparty string `json:"counterparty"`
}

// MovementDTO is one ledger entry. KnownKind is false for kinds the engine
// does not recognise; they are listed but never counted.
type MovementDTO struct {
	ID                string `json:"id"`
	Kind              string `json:"kind"`
	KnownKind         bool   `json:"known_kind"`
	Date              string `json:"date"`
	GrossAmount       string `json:"gross_amount"`
	AmountConsumed    string `json:"amount_consumed,omitempty"`
	CounterpartyLabel string `json:"counterparty_label,omitempty"`
	ReferenceNumber   string `json:"reference_number,omitempty"`
	Notes             string `json:"notes,omitempty"`
	Editable          bool   `json:"editable"`
}

// BucketsDTO is the three display columns plus their net.
type BucketsDTO struct {
	Amount  string `json:"amount"`
	Credits string `json:"credits"`
	Payment string `json:"payment"`
	Net     string `json:"net"`
}

// StatementRowDTO is a movement with its running balance.
type StatementRowDTO struct {
	MovementDTO
	Contribution string     `json:"contribution"`
	Buckets      BucketsDTO `json:"buckets"`
	Balance      string     `json:"balance"`
}

type SummaryDTO struct {
	OpeningBalance       string                `json:"opening_balance"`
	ByKind               map[string]BucketsDTO `json:"by_kind"`
	Totals               BucketsDTO            `json:"totals"`
	OutstandingBalance   string                `json:"outstanding_balance"`
	TotalAvailableCredit string                `json:"total_available_credit"`
	NetPosition          string                `json:"net_position"`
	MovementCount        int                   `json:"movement_count"`
}

type InvoiceBalanceDTO struct {
	InvoiceID       string `json:"invoice_id"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	InvoiceDate     string `json:"invoice_date"`
	CurrentBalance  string `json:"current_balance"`
	Version         int64  `json:"version"`
}

type CreditDTO struct {
	ID              string `json:"id"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	Date            string `json:"date"`
	GrossAmount     string `json:"gross_amount"`
	AmountConsumed  string `json:"amount_consumed"`
	Available       string `json:"available"`
	Version         int64  `json:"version"`
}

type AgingBucketDTO struct {
	Bucket string `json:"bucket"`
	Amount string `json:"amount"`
}

type AgedInvoiceDTO struct {
	InvoiceBalanceDTO
	Days   int    `json:"days"`
	Bucket string `json:"bucket"`
}

type AgingDTO struct {
	AsOf     string           `json:"as_of"`
	Buckets  []AgingBucketDTO `json:"buckets"`
	Total    string           `json:"total"`
	Invoices []AgedInvoiceDTO `json:"invoices"`
}

// StatementDTO is the full account statement.
type StatementDTO struct {
	Account        AccountDTO        `json:"account"`
	From           string            `json:"from,omitempty"`
	To             string            `json:"to,omitempty"`
	AsOf           string            `json:"as_of"`
	OpeningBalance string            `json:"opening_balance"`
	Rows           []StatementRowDTO `json:"rows"`
	Summary        SummaryDTO        `json:"summary"`
	Credits        []CreditDTO       `json:"credits"`
	Aging          AgingDTO          `json:"aging"`
}

type IssueDTO struct {
	Record int    `json:"record"`
	Field  string `json:"field"`
	Value  string `json:"value,omitempty"`
}

type ImportResponse struct {
	Imported  int           `json:"imported"`
	Skipped   int           `json:"skipped"`
	Issues    []IssueDTO    `json:"issues"`
	Movements []MovementDTO `json:"movements"`
}

type AllocationDTO struct {
	InvoiceID        string `json:"invoice_id"`
	ReferenceNumber  string `json:"reference_number,omitempty"`
	Applied          string `json:"applied"`
	RemainingBalance string `json:"remaining_balance"`
}

type ConsumptionDTO struct {
	CreditID           string `json:"credit_id"`
	Used               string `json:"used"`
	RemainingAvailable string `json:"remaining_available"`
}

type PlanDTO struct {
	Strategy     string           `json:"strategy"`
	Total        string           `json:"total"`
	Allocations  []AllocationDTO  `json:"allocations"`
	Consumptions []ConsumptionDTO `json:"consumptions"`
}

type ApplyResponse struct {
	ApplicationID string  `json:"application_id"`
	AppliedAt     string  `json:"applied_at"`
	Attempts      int     `json:"attempts"`
	Plan          PlanDTO `json:"plan"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Accounts    []AccountDTO `json:"accounts"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(ledger.CurrencyPlaces)
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{Side: string(a.Side), Counterparty: string(a.CounterpartyID)}
}

func toMovementDTO(m ledger.Movement) MovementDTO {
	dto := MovementDTO{
		ID:                string(m.ID),
		Kind:              string(m.Kind),
		KnownKind:         m.Kind.IsKnown(),
		Date:              m.Date.String(),
		GrossAmount:       money(m.GrossAmount),
		CounterpartyLabel: m.CounterpartyLabel,
		ReferenceNumber:   m.ReferenceNumber,
		Notes:             m.Notes,
		Editable:          m.Editable,
	}
	if !m.AmountConsumed.IsZero() {
		dto.AmountConsumed = money(m.AmountConsumed)
	}
	return dto
}

func toMovementDTOs(ms []ledger.Movement) []MovementDTO {
	out := make([]MovementDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMovementDTO(m))
	}
	return out
}

func toBucketsDTO(b ledger.Buckets) BucketsDTO {
	return BucketsDTO{Amount: money(b.Amount), Credits: money(b.Credits), Payment: money(b.Payment), Net: money(b.Net())}
}

func toInvoiceDTO(inv ledger.InvoiceBalance) InvoiceBalanceDTO {
	return InvoiceBalanceDTO{
		InvoiceID:       string(inv.InvoiceID),
		ReferenceNumber: inv.ReferenceNumber,
		InvoiceDate:     inv.InvoiceDate.String(),
		CurrentBalance:  money(inv.CurrentBalance),
		Version:         inv.Version,
	}
}

func toInvoiceDTOs(invoices []ledger.InvoiceBalance) []InvoiceBalanceDTO {
	out := make([]InvoiceBalanceDTO, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceDTO(inv))
	}
	return out
}

func toCreditDTOs(credits []ledger.PrepaymentCredit) []CreditDTO {
	out := make([]CreditDTO, 0, len(credits))
	for _, c := range credits {
		out = append(out, CreditDTO{
			ID:              string(c.ID),
			ReferenceNumber: c.ReferenceNumber,
			Date:            c.Date.String(),
			GrossAmount:     money(c.GrossAmount),
			AmountConsumed:  money(c.AmountConsumed),
			Available:       money(c.Available()),
			Version:         c.Version,
		})
	}
	return out
}

func toAgingDTO(r ledger.AgingReport) AgingDTO {
	dto := AgingDTO{
		AsOf:     r.AsOf.String(),
		Total:    money(r.Total),
		Buckets:  make([]AgingBucketDTO, 0, len(ledger.AgingBuckets)),
		Invoices: make([]AgedInvoiceDTO, 0, len(r.Invoices)),
	}
	for _, b := range ledger.AgingBuckets {
		dto.Buckets = append(dto.Buckets, AgingBucketDTO{Bucket: string(b), Amount: money(r.Totals[b])})
	}
	for _, ai := range r.Invoices {
		dto.Invoices = append(dto.Invoices, AgedInvoiceDTO{
			InvoiceBalanceDTO: toInvoiceDTO(ai.Invoice),
			Days:              ai.Days,
			Bucket:            string(ai.Bucket),
		})
	}
	return dto
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	dto := SummaryDTO{
		OpeningBalance:       money(s.OpeningBalance),
		ByKind:               make(map[string]BucketsDTO, len(s.ByKind)),
		Totals:               toBucketsDTO(s.Totals),
		OutstandingBalance:   money(s.OutstandingBalance),
		TotalAvailableCredit: money(s.TotalAvailableCredit),
		NetPosition:          money(s.NetPosition),
		MovementCount:        s.MovementCount,
	}
	for k, b := range s.ByKind {
		dto.ByKind[string(k)] = toBucketsDTO(b)
	}
	return dto
}

func toStatementDTO(st *cartera.Statement) StatementDTO {
	dto := StatementDTO{
		Account:        toAccountDTO(st.Account),
		From:           st.Period.Start.String(),
		To:             st.Period.End.String(),
		AsOf:           st.AsOf.String(),
		OpeningBalance: money(st.OpeningBalance),
		Rows:           make([]StatementRowDTO, 0, len(st.Rows)),
		Summary:        toSummaryDTO(st.Summary),
		Credits:        toCreditDTOs(st.Credits),
		Aging:          toAgingDTO(st.Aging),
	}
	for _, row := range st.Rows {
		dto.Rows = append(dto.Rows, StatementRowDTO{
			MovementDTO:  toMovementDTO(row.Movement),
			Contribution: money(row.Contribution),
			Buckets:      toBucketsDTO(row.Buckets),
			Balance:      money(row.Balance),
		})
	}
	return dto
}

func toPlanDTO(p ledger.Plan) PlanDTO {
	dto := PlanDTO{
		Strategy:     string(p.Strategy),
		Total:        money(p.Total),
		Allocations:  make([]AllocationDTO, 0, len(p.Allocations)),
		Consumptions: make([]ConsumptionDTO, 0, len(p.Consumptions)),
	}
	for _, a := range p.Allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{
			InvoiceID:        string(a.InvoiceID),
			ReferenceNumber:  a.ReferenceNumber,
			Applied:          money(a.Applied),
			RemainingBalance: money(a.RemainingBalance),
		})
	}
	for _, c := range p.Consumptions {
		dto.Consumptions = append(dto.Consumptions, ConsumptionDTO{
			CreditID:           string(c.CreditID),
			Used:               money(c.Used),
			RemainingAvailable: money(c.RemainingAvailable),
		})
	}
	return dto
}

func toImportResponse(res *cartera.ImportResult) ImportResponse {
	resp := ImportResponse{
		Imported:  len(res.Imported),
		Skipped:   res.Skipped,
		Issues:    make([]IssueDTO, 0, len(res.Issues)),
		Movements: toMovementDTOs(res.Imported),
	}
	for _, pe := range res.Issues {
		issue := IssueDTO{Record: pe.RecordIndex, Field: pe.Field}
		if pe.Value != nil {
			issue.Value = fmt.Sprint(pe.Value)
		}
		resp.Issues = append(resp.Issues, issue)
	}
	return resp
}
