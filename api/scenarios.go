/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	ledgers. Each scenario imports raw records the way the source system
	exports them (mixed field names, Spanish document types, locale amounts)
	and optionally applies prepayments.

AVAILABLE SCENARIOS:

	client-statement:      Receivable account with every movement kind
	prepayment-allocation: Two prepayments, three invoices, one application
	supplier-ledger:       Payable account with locale-formatted amounts

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "prepayment-allocation"}

NOTE:

	Scenarios reset the store and the statement cache. Only use in
	development/demo environments.
*/
package api

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/floraexport/cartera/cartera"
	"github.com/floraexport/cartera/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, svc *cartera.Service) error
}

var (
	rosas  = ledger.Account{Side: ledger.SideReceivable, CounterpartyID: "cli-001"}
	tulipa = ledger.Account{Side: ledger.SideReceivable, CounterpartyID: "cli-002"}
	cajas  = ledger.Account{Side: ledger.SidePayable, CounterpartyID: "prov-001"}
)

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "client-statement",
			Name:        "Client Statement",
			Description: "Opening balance, invoices, credit note, retention, payment and an unrecognised document type",
			Accounts:    []AccountDTO{toAccountDTO(rosas)},
		},
		load: func(ctx context.Context, svc *cartera.Service) error {
			return importAll(ctx, svc, rosas, []ledger.RawMovement{
				{"id": "SI-2024", "kind": "SALDO_INICIAL", "date": "2024-12-31", "grossAmount": "250.00", "cliente": "Floristería Las Rosas"},
				{"id": "F-101", "kind": "FACTURA", "date": "2025-01-08", "grossAmount": "1200.00", "referenceNumber": "001-001-000101", "marca": "Las Rosas Norte"},
				{"id": "F-102", "kind": "FACTURA", "date": "2025-02-03", "grossAmount": "860.40", "referenceNumber": "001-001-000102", "marca": "Las Rosas Sur"},
				{"id": "NC-12", "kind": "Nota de Crédito", "date": "2025-02-10", "grossAmount": "60.40", "referenceNumber": "001-002-000012", "notes": "flores dañadas"},
				{"id": "RET-7", "kind": "RETENCION", "date": "2025-02-12", "grossAmount": "12.00", "referenceNumber": "RET-000007"},
				{"id": "PAG-33", "kind": "ABONO", "date": "2025-02-28", "grossAmount": "1000.00", "notes": "transferencia"},
				{"id": "AJ-1", "kind": "AJUSTE", "date": "2025-03-01", "grossAmount": "5.00", "notes": "ajuste manual"},
				{"id": "F-103", "kind": "FACTURA", "date": "2025-03-05", "grossAmount": "430.00", "referenceNumber": "001-001-000103", "editable": true},
			})
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "prepayment-allocation",
			Name:        "Prepayment Allocation",
			Description: "Two prepayments against three invoices; 300.00 already applied oldest first",
			Accounts:    []AccountDTO{toAccountDTO(tulipa)},
		},
		load: func(ctx context.Context, svc *cartera.Service) error {
			err := importAll(ctx, svc, tulipa, []ledger.RawMovement{
				{"id": "ANT-1", "kind": "ANTICIPO", "date": "2024-12-15", "grossAmount": "500.00", "referenceNumber": "ANT-000001"},
				{"id": "ANT-2", "kind": "ANTICIPO", "date": "2025-01-20", "grossAmount": "250.00", "referenceNumber": "ANT-000002"},
				{"id": "F-201", "kind": "FACTURA", "date": "2025-01-10", "grossAmount": "180.00", "referenceNumber": "001-001-000201"},
				{"id": "F-202", "kind": "FACTURA", "date": "2025-01-25", "grossAmount": "420.00", "referenceNumber": "001-001-000202"},
				{"id": "F-203", "kind": "FACTURA", "date": "2025-02-14", "grossAmount": "300.00", "referenceNumber": "001-001-000203"},
			})
			if err != nil {
				return err
			}
			_, err = svc.Apply(ctx, tulipa, cartera.AllocationRequest{
				ApplicationID: "demo-application-1",
				Total:         decimal.RequireFromString("300.00"),
			})
			return err
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "supplier-ledger",
			Name:        "Supplier Ledger",
			Description: "Payable account exported with legacy field names and comma decimals",
			Accounts:    []AccountDTO{toAccountDTO(cajas)},
		},
		load: func(ctx context.Context, svc *cartera.Service) error {
			return importAll(ctx, svc, cajas, []ledger.RawMovement{
				{"idMovimiento": "C-55", "tipoDocumento": "FACTURA", "fechaEmision": "03/01/2025", "valorTotal": "2.340,75", "subcliente": "Cajas del Sur", "numeroFactura": "002-001-000055"},
				{"idMovimiento": "C-61", "tipoDocumento": "FACTURA", "fechaEmision": "17/02/2025", "valorTotal": "1.105,20", "subcliente": "Cajas del Sur", "numeroFactura": "002-001-000061"},
				{"idMovimiento": "R-55", "tipoDocumento": "RETENCION", "fechaEmision": "05/01/2025", "valorTotal": "23,41", "observaciones": "1% renta"},
				{"idMovimiento": "P-90", "tipoDocumento": "PAGO", "fechaEmision": "31/01/2025", "valorTotal": "2.317,34", "observaciones": "cheque 4471"},
				{"idMovimiento": "ND-3", "tipoDocumento": "NOTA_DEBITO", "fechaEmision": "20/02/2025", "valorTotal": "45,00", "observaciones": "flete"},
			})
		},
	},
}

func importAll(ctx context.Context, svc *cartera.Service, acc ledger.Account, raws []ledger.RawMovement) error {
	_, err := svc.Import(ctx, acc, raws)
	return err
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario wipes the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Service.Reset(ctx); err != nil {
		h.writeServiceError(w, r, "Failed to reset store", err)
		return
	}
	if err := s.load(ctx, h.Service); err != nil {
		h.writeServiceError(w, r, "Failed to load scenario", err)
		return
	}
	h.currentScenario = s.ID
	h.log.Info().Str("scenario", s.ID).Msg("scenario loaded")

	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}
