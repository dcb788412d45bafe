/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  validator struct tags; monetary values travel as decimal strings and are
  parsed into royalty.Money only after validation.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Contracts:  ContractDTO (wraps factory.ContractJSON)
  Rows:       AddSalesRequest, SaleRowDTO, AddReturnsRequest, ReturnRowDTO
  Statements: PeriodRequest, StatementsResponse, PreviewDTO
  Ledger:     LedgerResponse
  Batch:      BatchRequestDTO (results are BatchResult)
  Scenarios:  ScenarioDTO, LoadScenarioRequest, ScenarioResult

Statements themselves are returned as royalty.Statement, whose JSON shape is
the published statement format.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/contract.go: ContractJSON type
*/
package api

import (
	"fmt"

	"github.com/warp/royalty-engine/factory"
	"github.com/warp/royalty-engine/royalty"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// ContractDTO represents a contract in API responses.
type ContractDTO struct {
	Config  factory.ContractJSON `json:"config"`
	Version int64                `json:"version"`
}

// =============================================================================
// SALES AND RETURNS
// =============================================================================

// SaleRowDTO is one sales row. Either revenue or unit_price must be set.
type SaleRowDTO struct {
	Format    string `json:"format" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gte=0"`
	UnitPrice string `json:"unit_price,omitempty" validate:"required_without=Revenue,omitempty,numeric"`
	Revenue   string `json:"revenue,omitempty" validate:"required_without=UnitPrice,omitempty,numeric"`
	SaleDate  string `json:"sale_date" validate:"required,datetime=2006-01-02"`
}

// AddSalesRequest is a bulk sales ingest.
type AddSalesRequest struct {
	Rows []SaleRowDTO `json:"rows" validate:"required,min=1,dive"`
}

// ReturnRowDTO is one returns row.
type ReturnRowDTO struct {
	Format   string `json:"format" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gte=0"`
	Value    string `json:"value" validate:"required,numeric"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Status   string `json:"status" validate:"required,oneof=pending approved rejected"`
}

// AddReturnsRequest is a bulk returns ingest.
type AddReturnsRequest struct {
	Rows []ReturnRowDTO `json:"rows" validate:"required,min=1,dive"`
}

// RowsAddedResponse confirms an ingest.
type RowsAddedResponse struct {
	ContractID string `json:"contract_id"`
	Added      int    `json:"added"`
}

func (d SaleRowDTO) toRow() (royalty.SaleRow, error) {
	row := royalty.SaleRow{Format: royalty.Format(d.Format), Quantity: d.Quantity}
	var err error
	if row.SaleDate, err = royalty.ParseDate(d.SaleDate); err != nil {
		return row, err
	}
	if d.Revenue != "" {
		v, err := royalty.NewMoney(d.Revenue)
		if err != nil {
			return row, fmt.Errorf("revenue: %w", err)
		}
		row.Revenue = &v
	}
	if d.UnitPrice != "" {
		v, err := royalty.NewMoney(d.UnitPrice)
		if err != nil {
			return row, fmt.Errorf("unit_price: %w", err)
		}
		row.UnitPrice = &v
	}
	return row, nil
}

func (d ReturnRowDTO) toRow() (royalty.ReturnRow, error) {
	row := royalty.ReturnRow{Format: royalty.Format(d.Format), Quantity: d.Quantity, Status: royalty.ReturnStatus(d.Status)}
	var err error
	if row.Date, err = royalty.ParseDate(d.Date); err != nil {
		return row, err
	}
	if row.Value, err = royalty.NewMoney(d.Value); err != nil {
		return row, fmt.Errorf("value: %w", err)
	}
	return row, nil
}

// =============================================================================
// STATEMENTS
// =============================================================================

// PeriodRequest names a statement period.
type PeriodRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func (p PeriodRequest) toPeriod() (royalty.Period, error) {
	start, err := royalty.ParseDate(p.StartDate)
	if err != nil {
		return royalty.Period{}, err
	}
	end, err := royalty.ParseDate(p.EndDate)
	if err != nil {
		return royalty.Period{}, err
	}
	return royalty.NewPeriod(start, end)
}

// StatementsResponse wraps the statements of one contract period.
type StatementsResponse struct {
	ContractID string              `json:"contract_id"`
	Period     royalty.Period      `json:"period"`
	Statements []royalty.Statement `json:"statements"`
}

// PreviewDTO is one author's unsaved calculation.
type PreviewDTO struct {
	AuthorID     string                        `json:"author_id"`
	Percentage   *royalty.Money                `json:"percentage,omitempty"`
	Calculations royalty.StatementCalculations `json:"calculations"`
}

// LedgerResponse lists a contract's recoupment entries and whether they
// replay to the contract's recouped total.
type LedgerResponse struct {
	ContractID    string                    `json:"contract_id"`
	RecoupedTotal royalty.Money             `json:"recouped_total"`
	Consistent    bool                      `json:"consistent"`
	Inconsistency string                    `json:"inconsistency,omitempty"`
	Entries       []royalty.RecoupmentEntry `json:"entries"`
}

// =============================================================================
// BATCH
// =============================================================================

// BatchRequestDTO starts a batch run. Empty contract_ids means every contract
// of the tenant.
type BatchRequestDTO struct {
	ContractIDs []string `json:"contract_ids" validate:"omitempty,dive,required"`
	From        string   `json:"from" validate:"required,datetime=2006-01-02"`
	To          string   `json:"to" validate:"required,datetime=2006-01-02"`
	Finalize    bool     `json:"finalize"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ScenarioResult is what loading a scenario produced.
type ScenarioResult struct {
	ScenarioID string              `json:"scenario_id"`
	TenantID   string              `json:"tenant_id"`
	ContractID string              `json:"contract_id"`
	Period     royalty.Period      `json:"period"`
	Statements []royalty.Statement `json:"statements"`
}

// ErrorResponse is returned on error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
