/*
handlers.go - HTTP API handlers for the royalty statement service

PURPOSE:
  Exposes the statement engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to royalty.Service.

ENDPOINTS:
  Contracts:
    GET    /api/contracts                          List contracts
    POST   /api/contracts                          Create or replace contract from JSON
    GET    /api/contracts/{id}                     Get contract
    GET    /api/contracts/{id}/ledger              Recoupment ledger and replay check

  Sales data:
    POST   /api/contracts/{id}/sales               Bulk sales rows
    POST   /api/contracts/{id}/returns             Bulk returns rows

  Statements:
    POST   /api/contracts/{id}/statements          Generate drafts for a period
    POST   /api/contracts/{id}/statements/preview  Compute without saving
    POST   /api/contracts/{id}/statements/finalize Finalize a period
    GET    /api/contracts/{id}/statements          List statements
    GET    /api/statements/{id}                    Get statement

  Batch:
    POST   /api/batch                              Run many contracts

  Scenarios:
    GET    /api/scenarios                          List demo scenarios
    POST   /api/scenarios/load                     Load a demo scenario

TENANCY:
  The tenant comes from the X-Tenant-ID header, falling back to
  DefaultTenant. Every store call is scoped to it.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed JSON, failed validation, invalid period
  - 404: Contract, statement or period activity not found
  - 409: Lifecycle conflicts (already final, no draft, prior period open,
         concurrent finalization)
  - 422: Contract configuration errors (tiers, ownership)
  - 500: Invariant violations and internal errors

SECURITY NOTE:
  No authentication. The tenant header is trusted as-is.

SEE ALSO:
  - dto.go: Request/response data structures
  - batch.go: Batch runner behind /api/batch
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/warp/royalty-engine/factory"
	"github.com/warp/royalty-engine/royalty"
)

// TenantHeader carries the tenant id on every request.
const TenantHeader = "X-Tenant-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         royalty.TxStore
	Service       *royalty.Service
	Contracts     *factory.ContractFactory
	Batch         *BatchRunner
	Log           zerolog.Logger
	DefaultTenant royalty.TenantID

	validate *validator.Validate
}

// NewHandler creates a handler over the given store and service.
func NewHandler(store royalty.TxStore, service *royalty.Service, batch *BatchRunner, logger zerolog.Logger) *Handler {
	return &Handler{
		Store:         store,
		Service:       service,
		Contracts:     factory.NewContractFactory(),
		Batch:         batch,
		Log:           logger,
		DefaultTenant: "default",
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) tenant(r *http.Request) royalty.TenantID {
	if t := r.Header.Get(TenantHeader); t != "" {
		return royalty.TenantID(t)
	}
	return h.DefaultTenant
}

// decode reads a JSON body into v and validates its struct tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// ListContracts returns every contract of the tenant.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Store.ListContracts(r.Context(), h.tenant(r))
	if err != nil {
		h.writeDomainError(w, "failed to list contracts", err)
		return
	}

	dtos := make([]ContractDTO, 0, len(contracts))
	for _, c := range contracts {
		dtos = append(dtos, h.toContractDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContract parses a contract definition and stores it. Posting an
// existing id replaces its terms; the recouped advance is kept.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var cj factory.ContractJSON
	if err := json.NewDecoder(r.Body).Decode(&cj); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	tenantID := h.tenant(r)
	c, err := h.Contracts.FromJSON(tenantID, cj)
	if err != nil {
		h.writeDomainError(w, "invalid contract", err)
		return
	}
	if err := h.Store.SaveContract(r.Context(), c); err != nil {
		h.writeDomainError(w, "failed to save contract", err)
		return
	}

	saved, err := h.Store.GetContract(r.Context(), tenantID, c.ID)
	if err != nil {
		h.writeDomainError(w, "failed to load contract", err)
		return
	}
	h.Log.Info().
		Str("tenant_id", string(tenantID)).
		Str("contract_id", string(c.ID)).
		Str("mode", string(c.TierCalculationMode)).
		Int("tiers", len(c.Tiers)).
		Msg("contract saved")
	writeJSON(w, http.StatusCreated, h.toContractDTO(saved))
}

// GetContract returns one contract.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetContract(r.Context(), h.tenant(r), contractID(r))
	if err != nil {
		h.writeDomainError(w, "contract not found", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toContractDTO(c))
}

// GetLedger lists the recoupment ledger of a contract and checks that it
// replays to the contract's recouped total.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.Store.GetContract(ctx, h.tenant(r), contractID(r))
	if err != nil {
		h.writeDomainError(w, "contract not found", err)
		return
	}

	ledger := h.Service.Ledger()
	entries, err := ledger.Entries(ctx, c.TenantID, c.ID)
	if err != nil {
		h.writeDomainError(w, "failed to read ledger", err)
		return
	}
	resp := LedgerResponse{
		ContractID:    string(c.ID),
		RecoupedTotal: c.AdvancePreviouslyRecouped,
		Consistent:    true,
		Entries:       entries,
	}
	if resp.Entries == nil {
		resp.Entries = []royalty.RecoupmentEntry{}
	}
	if err := ledger.Verify(ctx, c); err != nil {
		if !errors.Is(err, royalty.ErrInvariantViolation) {
			h.writeDomainError(w, "failed to verify ledger", err)
			return
		}
		resp.Consistent = false
		resp.Inconsistency = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SALES DATA HANDLERS
// =============================================================================

// AddSales ingests sales rows for a contract.
func (h *Handler) AddSales(w http.ResponseWriter, r *http.Request) {
	var req AddSalesRequest
	if !h.decode(w, r, &req) {
		return
	}

	rows := make([]royalty.SaleRow, 0, len(req.Rows))
	for i, d := range req.Rows {
		row, err := d.toRow()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid row %d", i), err)
			return
		}
		rows = append(rows, row)
	}

	id := contractID(r)
	if err := h.Store.AddSales(r.Context(), h.tenant(r), id, rows); err != nil {
		h.writeDomainError(w, "failed to add sales", err)
		return
	}
	writeJSON(w, http.StatusCreated, RowsAddedResponse{ContractID: string(id), Added: len(rows)})
}

// AddReturns ingests returns rows for a contract.
func (h *Handler) AddReturns(w http.ResponseWriter, r *http.Request) {
	var req AddReturnsRequest
	if !h.decode(w, r, &req) {
		return
	}

	rows := make([]royalty.ReturnRow, 0, len(req.Rows))
	for i, d := range req.Rows {
		row, err := d.toRow()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid row %d", i), err)
			return
		}
		rows = append(rows, row)
	}

	id := contractID(r)
	if err := h.Store.AddReturns(r.Context(), h.tenant(r), id, rows); err != nil {
		h.writeDomainError(w, "failed to add returns", err)
		return
	}
	writeJSON(w, http.StatusCreated, RowsAddedResponse{ContractID: string(id), Added: len(rows)})
}

// =============================================================================
// STATEMENT HANDLERS
// =============================================================================

func (h *Handler) decodePeriod(w http.ResponseWriter, r *http.Request) (royalty.Period, bool) {
	var req PeriodRequest
	if !h.decode(w, r, &req) {
		return royalty.Period{}, false
	}
	p, err := req.toPeriod()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period", err)
		return royalty.Period{}, false
	}
	return p, true
}

// GenerateStatements computes and stores the drafts of one period.
func (h *Handler) GenerateStatements(w http.ResponseWriter, r *http.Request) {
	period, ok := h.decodePeriod(w, r)
	if !ok {
		return
	}
	id := contractID(r)
	stmts, err := h.Service.Generate(r.Context(), h.tenant(r), id, period)
	if err != nil {
		h.writeDomainError(w, "failed to generate statements", err)
		return
	}
	writeJSON(w, http.StatusCreated, StatementsResponse{ContractID: string(id), Period: period, Statements: stmts})
}

// PreviewStatements computes one period without saving anything.
func (h *Handler) PreviewStatements(w http.ResponseWriter, r *http.Request) {
	period, ok := h.decodePeriod(w, r)
	if !ok {
		return
	}
	authors, err := h.Service.Preview(r.Context(), h.tenant(r), contractID(r), period)
	if err != nil {
		h.writeDomainError(w, "failed to preview statements", err)
		return
	}

	dtos := make([]PreviewDTO, 0, len(authors))
	for _, a := range authors {
		dtos = append(dtos, PreviewDTO{AuthorID: string(a.AuthorID), Percentage: a.Percentage, Calculations: a.Calculations})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// FinalizeStatements moves a period's drafts to final and applies the
// advance recoupment.
func (h *Handler) FinalizeStatements(w http.ResponseWriter, r *http.Request) {
	period, ok := h.decodePeriod(w, r)
	if !ok {
		return
	}
	id := contractID(r)
	stmts, err := h.Service.Finalize(r.Context(), h.tenant(r), id, period)
	if err != nil {
		h.writeDomainError(w, "failed to finalize statements", err)
		return
	}
	writeJSON(w, http.StatusOK, StatementsResponse{ContractID: string(id), Period: period, Statements: stmts})
}

// ListStatements returns every statement of a contract.
func (h *Handler) ListStatements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := h.tenant(r)
	id := contractID(r)
	if _, err := h.Store.GetContract(ctx, tenantID, id); err != nil {
		h.writeDomainError(w, "contract not found", err)
		return
	}
	stmts, err := h.Store.ListStatements(ctx, tenantID, id)
	if err != nil {
		h.writeDomainError(w, "failed to list statements", err)
		return
	}
	if stmts == nil {
		stmts = []royalty.Statement{}
	}
	writeJSON(w, http.StatusOK, stmts)
}

// GetStatement returns one statement.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id := royalty.StatementID(chi.URLParam(r, "id"))
	stmt, err := h.Store.GetStatement(r.Context(), h.tenant(r), id)
	if err != nil {
		h.writeDomainError(w, "statement not found", err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

// =============================================================================
// BATCH HANDLER
// =============================================================================

// RunBatch generates (and optionally finalizes) statements for many
// contracts. Per-contract failures are reported in the body, not the status.
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	from, err := royalty.ParseDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date", err)
		return
	}
	to, err := royalty.ParseDate(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date", err)
		return
	}

	batch := BatchRequest{TenantID: h.tenant(r), From: from, To: to, Finalize: req.Finalize}
	for _, id := range req.ContractIDs {
		batch.ContractIDs = append(batch.ContractIDs, royalty.ContractID(id))
	}

	res, err := h.Batch.Run(r.Context(), batch)
	if err != nil {
		h.writeDomainError(w, "batch run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// HELPERS
// =============================================================================

func contractID(r *http.Request) royalty.ContractID {
	return royalty.ContractID(chi.URLParam(r, "id"))
}

func (h *Handler) toContractDTO(c royalty.Contract) ContractDTO {
	return ContractDTO{Config: h.Contracts.ToJSON(c), Version: c.Version}
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case royalty.IsConfiguration(err):
		return http.StatusUnprocessableEntity
	case royalty.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, royalty.ErrInvalidPeriod):
		return http.StatusBadRequest
	case royalty.IsClientError(err), royalty.IsRetryable(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err)
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
