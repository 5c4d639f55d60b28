/*
handlers.go - HTTP API handlers for the cartera ledger

PURPOSE:
  Exposes statements, imports and prepayment applications via REST. Handles
  HTTP request/response and JSON serialization; all ledger work is delegated
  to cartera.Service.

ENDPOINTS:
  Accounts ({side} is "receivable" or "payable"):
    GET    /api/accounts/{side}/{counterparty}/statement    Running-balance statement
    GET    /api/accounts/{side}/{counterparty}/movements    Movement list
    POST   /api/accounts/{side}/{counterparty}/movements    Import raw records
    GET    /api/accounts/{side}/{counterparty}/invoices     Open invoice balances
    GET    /api/accounts/{side}/{counterparty}/credits      Prepayment credits
    GET    /api/accounts/{side}/{counterparty}/aging        Aging of open invoices

  Allocations:
    POST   /api/accounts/{side}/{counterparty}/allocations/preview   Plan without writing
    POST   /api/accounts/{side}/{counterparty}/allocations           Plan and commit

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

QUERY PARAMETERS:
  from, to, as_of accept any date layout ledger.ParseDate knows.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, bad allocation
  - 404: Unknown scenario
  - 409: Stale snapshot, duplicate application or import
  - 422: Amount larger than the open invoices can absorb
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/floraexport/cartera/cartera"
	"github.com/floraexport/cartera/factory"
	"github.com/floraexport/cartera/ledger"
)

// maxBodyBytes bounds request bodies, imports included.
const maxBodyBytes = 8 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *cartera.Service
	Factory *factory.BatchFactory

	// Health is checked by /healthz when set.
	Health Pinger

	log      zerolog.Logger
	validate *validator.Validate

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler around the service.
func NewHandler(svc *cartera.Service, log zerolog.Logger) *Handler {
	return &Handler{
		Service:  svc,
		Factory:  factory.NewBatchFactory(),
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type accountKey struct{}

// withAccount parses {side}/{counterparty} once for every account route.
func withAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, err := ledger.ParseAccount(chi.URLParam(r, "side"), chi.URLParam(r, "counterparty"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid account", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, acc)))
	})
}

func accountFrom(r *http.Request) ledger.Account {
	acc, _ := r.Context().Value(accountKey{}).(ledger.Account)
	return acc
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// GetStatement returns the running-balance statement of an account.
// GET /api/accounts/{side}/{counterparty}/statement?from=&to=&as_of=
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	period, err := periodParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	asOf, err := dateParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}

	st, err := h.Service.Statement(r.Context(), cartera.StatementQuery{
		Account: accountFrom(r),
		Period:  period,
		AsOf:    asOf,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to build statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// ListMovements returns movements, optionally limited to from/to.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	period, err := periodParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	ms, err := h.Service.Movements(r.Context(), accountFrom(r), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list movements", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(ms))
}

// ListInvoices returns invoices with a positive balance, oldest first.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.Service.OpenInvoices(r.Context(), accountFrom(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invoices))
}

func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.Service.Credits(r.Context(), accountFrom(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list credits", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTOs(credits))
}

// GetAging groups open invoices by age at as_of (today by default).
func (h *Handler) GetAging(w http.ResponseWriter, r *http.Request) {
	asOf, err := dateParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}
	report, err := h.Service.Aging(r.Context(), accountFrom(r), asOf)
	if err != nil {
		h.writeServiceError(w, r, "Failed to age invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgingDTO(report))
}

// =============================================================================
// WRITE HANDLERS
// =============================================================================

// ImportMovements normalizes and appends raw records. The body is a bare
// array of records or a batch document; a document naming another account is
// rejected.
// POST /api/accounts/{side}/{counterparty}/movements
func (h *Handler) ImportMovements(w http.ResponseWriter, r *http.Request) {
	acc := accountFrom(r)

	batch, err := h.Factory.ReadBatch(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid import body", err)
		return
	}
	if batch.HasAccount() && batch.Account != acc {
		writeError(w, http.StatusBadRequest, "Batch account does not match the URL",
			fmt.Errorf("batch is for %s", batch.Account))
		return
	}
	if len(batch.Records) == 0 {
		writeError(w, http.StatusBadRequest, "No movements to import", nil)
		return
	}

	res, err := h.Service.Import(r.Context(), acc, batch.Records)
	if err != nil {
		h.writeServiceError(w, r, "Failed to import movements", err)
		return
	}
	status := http.StatusCreated
	if len(res.Imported) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, toImportResponse(res))
}

// PreviewAllocation plans an application without writing anything.
// POST /api/accounts/{side}/{counterparty}/allocations/preview
func (h *Handler) PreviewAllocation(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAllocation(w, r)
	if !ok {
		return
	}
	plan, err := h.Service.Propose(r.Context(), accountFrom(r), req)
	if err != nil {
		h.writeServiceError(w, r, "Allocation rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(*plan))
}

// ApplyAllocation plans and commits an application.
// POST /api/accounts/{side}/{counterparty}/allocations
func (h *Handler) ApplyAllocation(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAllocation(w, r)
	if !ok {
		return
	}
	res, err := h.Service.Apply(r.Context(), accountFrom(r), req)
	if err != nil {
		h.writeServiceError(w, r, "Allocation rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, ApplyResponse{
		ApplicationID: res.ApplicationID,
		AppliedAt:     res.AppliedAt.String(),
		Attempts:      res.Attempts,
		Plan:          toPlanDTO(res.Plan),
	})
}

func (h *Handler) decodeAllocation(w http.ResponseWriter, r *http.Request) (cartera.AllocationRequest, bool) {
	var body AllocationRequest
	if !h.decodeAndValidate(w, r, &body) {
		return cartera.AllocationRequest{}, false
	}
	req, err := body.toService()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return cartera.AllocationRequest{}, false
	}
	return req, true
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeAndValidate reads a JSON body into dst and runs its validator tags.
// It writes the 400 itself and returns false on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func dateParam(r *http.Request, name string) (ledger.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return ledger.Date{}, nil
	}
	d, ok := ledger.ParseDate(raw)
	if !ok {
		return ledger.Date{}, fmt.Errorf("%s: unrecognised date %q", name, raw)
	}
	return d, nil
}

func periodParams(r *http.Request) (ledger.Period, error) {
	from, err := dateParam(r, "from")
	if err != nil {
		return ledger.Period{}, err
	}
	to, err := dateParam(r, "to")
	if err != nil {
		return ledger.Period{}, err
	}
	p := ledger.Period{Start: from, End: to}
	return p, p.Validate()
}

// writeServiceError maps domain errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientInvoiceBalance):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err), errors.Is(err, factory.ErrInvalidBatch):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
