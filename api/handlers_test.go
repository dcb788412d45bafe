/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Contract create/get/list and tenant scoping
- Request validation and error status mapping
- Generate, preview, finalize lifecycle over HTTP
- Ledger replay, batch endpoint, health and metrics
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/royalty-engine/obs"
	"github.com/warp/royalty-engine/royalty"
	"github.com/warp/royalty-engine/royalty/store"
)

func newTestServer(t *testing.T, metrics *obs.Metrics) (*Handler, http.Handler) {
	t.Helper()
	st := store.NewTxMemory()
	logger := zerolog.Nop()
	var observer royalty.Observer
	if metrics != nil {
		observer = metrics
	}
	svc := royalty.NewService(st, logger, observer)
	batch := NewBatchRunner(svc, st, logger)
	if metrics != nil {
		batch.Metrics = metrics
	}
	h := NewHandler(st, svc, batch, logger)
	return h, NewRouter(h, RouterOptions{Logger: logger, Metrics: metrics})
}

func do(t *testing.T, srv http.Handler, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const twoTierContract = `{
	"id": "c-1", "author_id": "author-1", "title_id": "title-1",
	"tiers": [
		{"format": "physical", "min_quantity": 0, "max_quantity": 100, "rate": "0.10"},
		{"format": "physical", "min_quantity": 100, "rate": "0.15"}
	]
}`

var h1 = PeriodRequest{StartDate: "2025-01-01", EndDate: "2025-06-30"}

func salesBody(rows ...SaleRowDTO) AddSalesRequest { return AddSalesRequest{Rows: rows} }

func TestContracts_CreateGetList(t *testing.T) {
	_, srv := newTestServer(t, nil)

	// GIVEN: a contract posted for tenant-a
	rec := do(t, srv, http.MethodPost, "/api/contracts", "tenant-a", twoTierContract)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ContractDTO](t, rec)
	assert.Equal(t, "c-1", created.Config.ID)
	assert.Equal(t, int64(1), created.Version)

	// WHEN: reading it back in the same tenant
	rec = do(t, srv, http.MethodGet, "/api/contracts/c-1", "tenant-a", nil)

	// THEN: the tiers survive
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[ContractDTO](t, rec)
	require.Len(t, got.Config.Tiers, 2)
	assert.True(t, got.Config.Tiers[1].Rate.Equal(royalty.MustMoney("0.15")))

	rec = do(t, srv, http.MethodGet, "/api/contracts", "tenant-a", nil)
	assert.Len(t, decodeBody[[]ContractDTO](t, rec), 1)

	// AND: another tenant cannot see it
	rec = do(t, srv, http.MethodGet, "/api/contracts/c-1", "tenant-b", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContracts_ReplaceBumpsVersion(t *testing.T) {
	_, srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/api/contracts", "", twoTierContract)

	rec := do(t, srv, http.MethodPost, "/api/contracts", "", twoTierContract)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(2), decodeBody[ContractDTO](t, rec).Version)
}

func TestContracts_ConfigurationErrorIs422(t *testing.T) {
	_, srv := newTestServer(t, nil)

	// GIVEN: tiers with a gap between 100 and 150
	js := `{"id": "c-bad", "title_id": "t", "author_id": "a", "tiers": [
		{"format": "physical", "min_quantity": 0, "max_quantity": 100, "rate": "0.1"},
		{"format": "physical", "min_quantity": 150, "rate": "0.15"}]}`

	rec := do(t, srv, http.MethodPost, "/api/contracts", "", js)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid contract", decodeBody[ErrorResponse](t, rec).Error)
}

func TestContracts_MalformedJSONIs400(t *testing.T) {
	_, srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/api/contracts", "", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSales_Validation(t *testing.T) {
	_, srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/api/contracts", "", twoTierContract)

	tests := []struct {
		name string
		body any
	}{
		{"no rows", AddSalesRequest{}},
		{"no revenue or price", salesBody(SaleRowDTO{Format: "physical", Quantity: 1, SaleDate: "2025-01-02"})},
		{"bad date", salesBody(SaleRowDTO{Format: "physical", Quantity: 1, Revenue: "10", SaleDate: "02/01/2025"})},
		{"negative quantity", salesBody(SaleRowDTO{Format: "physical", Quantity: -1, Revenue: "10", SaleDate: "2025-01-02"})},
		{"non numeric revenue", salesBody(SaleRowDTO{Format: "physical", Quantity: 1, Revenue: "ten", SaleDate: "2025-01-02"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/contracts/c-1/sales", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestSales_UnknownContractIs404(t *testing.T) {
	_, srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/api/contracts/missing/sales", "",
		salesBody(SaleRowDTO{Format: "physical", Quantity: 1, Revenue: "10", SaleDate: "2025-01-02"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReturns_Validation(t *testing.T) {
	_, srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/api/contracts", "", twoTierContract)

	rec := do(t, srv, http.MethodPost, "/api/contracts/c-1/returns", "", AddReturnsRequest{Rows: []ReturnRowDTO{
		{Format: "physical", Quantity: 1, Value: "20", Date: "2025-02-01", Status: "lost"},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/contracts/c-1/returns", "", AddReturnsRequest{Rows: []ReturnRowDTO{
		{Format: "physical", Quantity: 1, Value: "20", Date: "2025-02-01", Status: "approved"},
	}})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, decodeBody[RowsAddedResponse](t, rec).Added)
}

func TestStatements_Lifecycle(t *testing.T) {
	_, srv := newTestServer(t, nil)

	// GIVEN: a two-tier contract with 150 units at 20.00 and one approved return
	do(t, srv, http.MethodPost, "/api/contracts", "", twoTierContract)
	rec := do(t, srv, http.MethodPost, "/api/contracts/c-1/sales", "",
		salesBody(SaleRowDTO{Format: "physical", Quantity: 150, Revenue: "3000.00", SaleDate: "2025-03-15"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: previewing
	rec = do(t, srv, http.MethodPost, "/api/contracts/c-1/statements/preview", "", h1)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[[]PreviewDTO](t, rec)
	require.Len(t, preview, 1)
	assert.True(t, preview[0].Calculations.NetPayable.Equal(royalty.MustMoney("350")))

	// THEN: nothing is stored yet
	rec = do(t, srv, http.MethodGet, "/api/contracts/c-1/statements", "", nil)
	assert.Empty(t, decodeBody[[]royalty.Statement](t, rec))

	// WHEN: generating
	rec = do(t, srv, http.MethodPost, "/api/contracts/c-1/statements", "", h1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	generated := decodeBody[StatementsResponse](t, rec)
	require.Len(t, generated.Statements, 1)
	stmt := generated.Statements[0]
	assert.Equal(t, royalty.StatusDraft, stmt.Status)
	assert.True(t, stmt.Calculations.GrossRoyalty.Equal(royalty.MustMoney("350")))
	require.Len(t, stmt.Calculations.FormatBreakdowns[0].TierBreakdowns, 2)

	// THEN: regenerating keeps the statement id
	rec = do(t, srv, http.MethodPost, "/api/contracts/c-1/statements", "", h1)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, stmt.ID, decodeBody[StatementsResponse](t, rec).Statements[0].ID)

	// WHEN: finalizing
	rec = do(t, srv, http.MethodPost, "/api/contracts/c-1/statements/finalize", "", h1)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	final := decodeBody[StatementsResponse](t, rec)
	assert.Equal(t, royalty.StatusFinal, final.Statements[0].Status)

	// THEN: the statement reads as final and the period is closed
	rec = do(t, srv, http.MethodGet, "/api/statements/"+string(stmt.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, royalty.StatusFinal, decodeBody[royalty.Statement](t, rec).Status)

	rec = do(t, srv, http.MethodPost, "/api/contracts/c-1/statements", "", h1)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/contracts/c-1/statements/finalize", "", h1)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatements_ErrorMapping(t *testing.T) {
	_, srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/api/contracts", "", twoTierContract)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown contract", "/api/contracts/missing/statements", h1, http.StatusNotFound},
		{"no activity in period", "/api/contracts/c-1/statements", h1, http.StatusNotFound},
		{"reversed period", "/api/contracts/c-1/statements", PeriodRequest{StartDate: "2025-06-30", EndDate: "2025-01-01"}, http.StatusBadRequest},
		{"missing end date", "/api/contracts/c-1/statements", PeriodRequest{StartDate: "2025-01-01"}, http.StatusBadRequest},
		{"finalize without draft", "/api/contracts/c-1/statements/finalize", h1, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, srv, http.MethodGet, "/api/statements/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatements_FormatWithoutTiersIs422(t *testing.T) {
	_, srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/api/contracts", "", twoTierContract)
	do(t, srv, http.MethodPost, "/api/contracts/c-1/sales", "",
		salesBody(SaleRowDTO{Format: "ebook", Quantity: 10, UnitPrice: "9.99", SaleDate: "2025-03-15"}))

	rec := do(t, srv, http.MethodPost, "/api/contracts/c-1/statements", "", h1)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestStatementsStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&royalty.ConfigurationError{TierIndex: -1, Reason: "x"}, http.StatusUnprocessableEntity},
		{&royalty.NotFoundError{Kind: "contract", ID: "c"}, http.StatusNotFound},
		{royalty.ErrInvalidPeriod, http.StatusBadRequest},
		{royalty.ErrPriorPeriodNotFinalized, http.StatusConflict},
		{royalty.ErrLaterPeriodFinalized, http.StatusConflict},
		{royalty.ErrContractLocked, http.StatusConflict},
		{royalty.ErrConcurrentModification, http.StatusConflict},
		{&royalty.InvariantViolationError{Invariant: "x"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

func TestLedger_AfterFinalize(t *testing.T) {
	_, srv := newTestServer(t, nil)

	// GIVEN: a flat 10% contract with a 1000.00 advance and 2500.00 of sales
	js := `{"id": "c-adv", "author_id": "a", "title_id": "t", "advance_amount": "1000.00",
		"tiers": [{"format": "physical", "min_quantity": 0, "rate": "0.10"}]}`
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/contracts", "", js).Code)
	do(t, srv, http.MethodPost, "/api/contracts/c-adv/sales", "",
		salesBody(SaleRowDTO{Format: "physical", Quantity: 100, Revenue: "2500.00", SaleDate: "2025-02-01"}))
	do(t, srv, http.MethodPost, "/api/contracts/c-adv/statements", "", h1)

	// WHEN: finalizing the period
	rec := do(t, srv, http.MethodPost, "/api/contracts/c-adv/statements/finalize", "", h1)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: one ledger entry of 250.00 replays to the contract total
	rec = do(t, srv, http.MethodGet, "/api/contracts/c-adv/ledger", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decodeBody[LedgerResponse](t, rec)
	assert.True(t, ledger.Consistent, ledger.Inconsistency)
	assert.True(t, ledger.RecoupedTotal.Equal(royalty.MustMoney("250")))
	require.Len(t, ledger.Entries, 1)
	assert.True(t, ledger.Entries[0].Amount.Equal(royalty.MustMoney("250")))
}

func TestCreateContract_LockedAfterFinalize(t *testing.T) {
	_, srv := newTestServer(t, nil)

	// GIVEN: a finalized H1 on a 1000.00 advance contract
	js := `{"id": "c-adv", "author_id": "a", "title_id": "t", "advance_amount": "1000.00",
		"tiers": [{"format": "physical", "min_quantity": 0, "rate": "0.10"}]}`
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/contracts", "", js).Code)
	do(t, srv, http.MethodPost, "/api/contracts/c-adv/sales", "",
		salesBody(SaleRowDTO{Format: "physical", Quantity: 100, Revenue: "2500.00", SaleDate: "2025-02-01"}))
	do(t, srv, http.MethodPost, "/api/contracts/c-adv/statements", "", h1)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/contracts/c-adv/statements/finalize", "", h1).Code)

	// WHEN: re-posting with a lower advance and a higher rate
	amended := `{"id": "c-adv", "author_id": "a", "title_id": "t", "advance_amount": "100.00",
		"tiers": [{"format": "physical", "min_quantity": 0, "rate": "0.50"}]}`
	rec := do(t, srv, http.MethodPost, "/api/contracts", "", amended)

	// THEN: conflict, and the original advance stands
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	rec = do(t, srv, http.MethodGet, "/api/contracts/c-adv", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[ContractDTO](t, rec)
	require.NotNil(t, got.Config.AdvanceAmount)
	assert.True(t, got.Config.AdvanceAmount.Equal(royalty.MustMoney("1000")))
}

func TestBatch_Endpoint(t *testing.T) {
	_, srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/api/contracts", "", twoTierContract)
	do(t, srv, http.MethodPost, "/api/contracts/c-1/sales", "", salesBody(
		SaleRowDTO{Format: "physical", Quantity: 50, Revenue: "1000.00", SaleDate: "2025-03-15"},
		SaleRowDTO{Format: "physical", Quantity: 20, Revenue: "400.00", SaleDate: "2025-09-15"},
	))

	// WHEN: finalizing the whole of 2025
	rec := do(t, srv, http.MethodPost, "/api/batch", "", BatchRequestDTO{From: "2025-01-01", To: "2025-12-31", Finalize: true})

	// THEN: both halves are final
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[BatchResult](t, rec)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Contracts[0].Periods, 2)
	assert.True(t, res.Contracts[0].Periods[0].Finalized)
	assert.True(t, res.Contracts[0].Periods[1].NetPayable.Equal(royalty.MustMoney("40")))

	rec = do(t, srv, http.MethodPost, "/api/batch", "", BatchRequestDTO{From: "2025-01-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarios_ListAndLoad(t *testing.T) {
	_, srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarioLoaders))

	rec = do(t, srv, http.MethodPost, "/api/scenarios/load", "demo", LoadScenarioRequest{ScenarioID: "co-authored"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[ScenarioResult](t, rec)
	assert.Equal(t, "demo", res.TenantID)
	assert.Len(t, res.Statements, 2)

	rec = do(t, srv, http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := obs.NewMetrics("royalty", prometheus.NewRegistry())
	_, srv := newTestServer(t, metrics)

	rec := do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	do(t, srv, http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "single-tier"})

	rec = do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "royalty_statements_generated_total"), body)
	assert.True(t, strings.Contains(body, "royalty_http_requests_total"), body)
}
