/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a contract,
	its sales rows and the resulting draft statements. Each scenario shows
	one calculation feature with round numbers that are easy to check by hand.

AVAILABLE SCENARIOS:

	single-tier:        A: one format, one tier, 100 units for 2500.00 at 10%
	two-tier:           B: 150 units across [0,100)@10% and [100,inf)@15%
	lifetime-boundary:  C: lifetime mode, 4500 prior units, 500 this period
	advance-recoupment: D: advance 1000.00 with 600.00 already recouped
	co-authored:        E: 60/40 split of a 1000.00 statement

HOW SCENARIOS WORK:
 1. Create a contract via factory presets, under a fresh id
 2. Add sales rows (and finalize earlier periods when the scenario needs history)
 3. Generate the drafts for the demo period
 4. Return the drafts so the caller can inspect them

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "two-tier"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, tenantID, contractID)
 3. Add it to scenarioLoaders

NOTE:

	Scenarios never reset the store. Every load creates a new contract in the
	caller's tenant, so loading twice is safe.

SEE ALSO:
  - handlers.go: Statement endpoints used to inspect results
  - factory/presets.go: Contract presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/warp/royalty-engine/factory"
	"github.com/warp/royalty-engine/royalty"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-tier",
		Name:        "Single Tier",
		Description: "Flat 10% physical royalty: 100 units, 2500.00 revenue, 250.00 royalty",
	},
	{
		ID:          "two-tier",
		Name:        "Two Tiers",
		Description: "Period mode: 150 units at 20.00 split 100 @ 10% and 50 @ 15%, 350.00 royalty",
	},
	{
		ID:          "lifetime-boundary",
		Name:        "Lifetime Boundary",
		Description: "Lifetime mode: 4500 finalized units, 500 more reach the 5000 breakpoint; next rate 12%",
	},
	{
		ID:          "advance-recoupment",
		Name:        "Advance Recoupment",
		Description: "1000.00 advance with 600.00 recouped: 250.00 royalty recoups 250.00, 150.00 remains",
	},
	{
		ID:          "co-authored",
		Name:        "Co-Authored",
		Description: "60/40 ownership of a 1000.00 statement: 600.00 and 400.00",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, tenantID royalty.TenantID, id string) (royalty.Period, error)

var scenarioLoaders = map[string]scenarioLoader{
	"single-tier":        (*Handler).loadSingleTierScenario,
	"two-tier":           (*Handler).loadTwoTierScenario,
	"lifetime-boundary":  (*Handler).loadLifetimeBoundaryScenario,
	"advance-recoupment": (*Handler).loadAdvanceRecoupmentScenario,
	"co-authored":        (*Handler).loadCoAuthoredScenario,
}

// Every scenario reports on the first half of 2025.
var (
	demoPeriod  = royalty.Period{StartDate: royalty.NewDate(2025, time.January, 1), EndDate: royalty.NewDate(2025, time.June, 30)}
	priorPeriod = royalty.Period{StartDate: royalty.NewDate(2024, time.July, 1), EndDate: royalty.NewDate(2024, time.December, 31)}
)

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a demo scenario into the caller's tenant.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.loadScenario(r.Context(), h.tenant(r), req.ScenarioID)
	if err != nil {
		if royalty.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "unknown scenario", err)
			return
		}
		h.writeDomainError(w, "failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) loadScenario(ctx context.Context, tenantID royalty.TenantID, scenarioID string) (ScenarioResult, error) {
	load, ok := scenarioLoaders[scenarioID]
	if !ok {
		return ScenarioResult{}, &royalty.NotFoundError{Kind: "scenario", ID: scenarioID}
	}

	id := fmt.Sprintf("%s-%s", scenarioID, uuid.NewString()[:8])
	period, err := load(h, ctx, tenantID, id)
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("scenario %s: %w", scenarioID, err)
	}

	stmts, err := h.Service.Generate(ctx, tenantID, royalty.ContractID(id), period)
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("scenario %s: %w", scenarioID, err)
	}

	h.Log.Info().
		Str("tenant_id", string(tenantID)).
		Str("scenario", scenarioID).
		Str("contract_id", id).
		Int("statements", len(stmts)).
		Msg("scenario loaded")
	return ScenarioResult{
		ScenarioID: scenarioID,
		TenantID:   string(tenantID),
		ContractID: id,
		Period:     period,
		Statements: stmts,
	}, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// A: 100 physical units for 2500.00 at a flat 10%.
func (h *Handler) loadSingleTierScenario(ctx context.Context, tenantID royalty.TenantID, id string) (royalty.Period, error) {
	cj := factory.FlatRateJSON(id, "author-a", "title-a", royalty.FormatPhysical, "0.10", "0")
	if err := h.createContract(ctx, tenantID, cj); err != nil {
		return royalty.Period{}, err
	}
	return demoPeriod, h.addSales(ctx, tenantID, id,
		physicalSale(60, "1500.00", royalty.NewDate(2025, time.February, 10)),
		physicalSale(40, "1000.00", royalty.NewDate(2025, time.May, 3)),
	)
}

// B: 150 units at 20.00; the first 100 earn 10%, the other 50 earn 15%.
func (h *Handler) loadTwoTierScenario(ctx context.Context, tenantID royalty.TenantID, id string) (royalty.Period, error) {
	cj := factory.TwoTierJSON(id, "author-b", "title-b", 100)
	if err := h.createContract(ctx, tenantID, cj); err != nil {
		return royalty.Period{}, err
	}
	return demoPeriod, h.addSales(ctx, tenantID, id,
		physicalSale(150, "3000.00", royalty.NewDate(2025, time.March, 15)),
	)
}

// C: 4500 units are finalized in the prior half; 500 more this half land
// exactly on the 5000 breakpoint, so the next unit earns 12%.
func (h *Handler) loadLifetimeBoundaryScenario(ctx context.Context, tenantID royalty.TenantID, id string) (royalty.Period, error) {
	cj := factory.TwoTierJSON(id, "author-c", "title-c", 5000)
	cj.TierCalculationMode = string(royalty.ModeLifetime)
	cj.Tiers[1].Rate = royalty.MustMoney("0.12")
	if err := h.createContract(ctx, tenantID, cj); err != nil {
		return royalty.Period{}, err
	}

	if err := h.addSales(ctx, tenantID, id,
		physicalSale(4500, "90000.00", royalty.NewDate(2024, time.September, 1)),
	); err != nil {
		return royalty.Period{}, err
	}
	if err := h.closePeriod(ctx, tenantID, id, priorPeriod); err != nil {
		return royalty.Period{}, err
	}

	return demoPeriod, h.addSales(ctx, tenantID, id,
		physicalSale(500, "10000.00", royalty.NewDate(2025, time.April, 1)),
	)
}

// D: 1000.00 advance with 600.00 already recouped; 250.00 of royalty
// recoups 250.00 and leaves 150.00.
func (h *Handler) loadAdvanceRecoupmentScenario(ctx context.Context, tenantID royalty.TenantID, id string) (royalty.Period, error) {
	cj := factory.FlatRateJSON(id, "author-d", "title-d", royalty.FormatPhysical, "0.10", "1000.00")
	recouped := royalty.MustMoney("600.00")
	cj.AdvancePreviouslyRecouped = &recouped
	if err := h.createContract(ctx, tenantID, cj); err != nil {
		return royalty.Period{}, err
	}
	return demoPeriod, h.addSales(ctx, tenantID, id,
		physicalSale(100, "2500.00", royalty.NewDate(2025, time.June, 1)),
	)
}

// E: a 1000.00 statement split 60/40 between two authors.
func (h *Handler) loadCoAuthoredScenario(ctx context.Context, tenantID royalty.TenantID, id string) (royalty.Period, error) {
	cj := factory.CoAuthoredJSON(
		factory.FlatRateJSON(id, "", "title-e", royalty.FormatPhysical, "0.10", "0"),
		factory.Share("author-e1", "60"),
		factory.Share("author-e2", "40"),
	)
	if err := h.createContract(ctx, tenantID, cj); err != nil {
		return royalty.Period{}, err
	}
	return demoPeriod, h.addSales(ctx, tenantID, id,
		physicalSale(400, "10000.00", royalty.NewDate(2025, time.January, 20)),
	)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createContract(ctx context.Context, tenantID royalty.TenantID, cj factory.ContractJSON) error {
	c, err := h.Contracts.FromJSON(tenantID, cj)
	if err != nil {
		return err
	}
	return h.Store.SaveContract(ctx, c)
}

func (h *Handler) addSales(ctx context.Context, tenantID royalty.TenantID, id string, rows ...royalty.SaleRow) error {
	return h.Store.AddSales(ctx, tenantID, royalty.ContractID(id), rows)
}

func (h *Handler) closePeriod(ctx context.Context, tenantID royalty.TenantID, id string, p royalty.Period) error {
	if _, err := h.Service.Generate(ctx, tenantID, royalty.ContractID(id), p); err != nil {
		return err
	}
	_, err := h.Service.Finalize(ctx, tenantID, royalty.ContractID(id), p)
	return err
}

func physicalSale(qty int64, revenue string, d royalty.Date) royalty.SaleRow {
	rev := royalty.MustMoney(revenue)
	return royalty.SaleRow{Format: royalty.FormatPhysical, Quantity: qty, Revenue: &rev, SaleDate: d}
}
