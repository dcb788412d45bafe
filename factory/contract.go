/*
Package factory provides JSON to Go contract conversion.

PURPOSE:
  Converts JSON contract definitions into royalty.Contract values. Contracts
  arrive from the publisher's rights system as JSON; the factory parses exact
  decimals, fills defaults and validates the tier schedule up front, so a
  malformed contract is rejected at ingest instead of at statement time.

JSON SCHEMA:
  {
    "id": "c-42",
    "author_id": "author-7",
    "title_id": "title-9",
    "tier_calculation_mode": "lifetime",
    "advance_amount": "5000.00",
    "advance_previously_recouped": "0",
    "period_type": "semiannual",
    "fiscal_year_start": 1,
    "tiers": [
      {"format": "physical", "min_quantity": 0, "max_quantity": 5000, "rate": "0.10"},
      {"format": "physical", "min_quantity": 5000, "rate": "0.125"},
      {"format": "ebook", "min_quantity": 0, "rate": "0.25"}
    ],
    "ownership": [
      {"author_id": "author-7", "percentage": "60"},
      {"author_id": "author-8", "percentage": "40"}
    ]
  }

  Decimals may be JSON strings or numbers; strings are preferred because they
  never pass through float64.

DEFAULTS:
  - tier_calculation_mode: period
  - period_type: semiannual, fiscal_year_start: January
  - advance amounts: 0

USAGE:
  f := factory.NewContractFactory()
  contract, err := f.ParseContract(tenantID, jsonString)

  // Or from a preset
  contract, err := f.FromJSON(tenantID, factory.TwoTierJSON("c-1", "author-1", "title-1"))

SEE ALSO:
  - royalty/contract.go: Contract type definition
  - royalty/tiers.go: ValidateTiers
  - api/scenarios.go: Demo contracts built from presets
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/royalty-engine/royalty"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ContractJSON is the JSON representation of a contract.
type ContractJSON struct {
	ID                        string          `json:"id"`
	AuthorID                  string          `json:"author_id"`
	TitleID                   string          `json:"title_id"`
	TierCalculationMode       string          `json:"tier_calculation_mode,omitempty"`
	AdvanceAmount             *royalty.Money  `json:"advance_amount,omitempty"`
	AdvancePreviouslyRecouped *royalty.Money  `json:"advance_previously_recouped,omitempty"`
	PeriodType                string          `json:"period_type,omitempty"`
	FiscalYearStart           int             `json:"fiscal_year_start,omitempty"` // Month 1-12
	Tiers                     []TierJSON      `json:"tiers"`
	Ownership                 []OwnershipJSON `json:"ownership,omitempty"`
}

// TierJSON represents one royalty tier. A missing max_quantity is unbounded.
type TierJSON struct {
	Format      string        `json:"format"`
	MinQuantity int64         `json:"min_quantity"`
	MaxQuantity *int64        `json:"max_quantity,omitempty"`
	Rate        royalty.Money `json:"rate"`
}

// OwnershipJSON represents one author's share of a co-authored title.
type OwnershipJSON struct {
	AuthorID   string        `json:"author_id"`
	Percentage royalty.Money `json:"percentage"`
}

// =============================================================================
// FACTORY
// =============================================================================

// ContractFactory creates contracts from JSON.
type ContractFactory struct{}

func NewContractFactory() *ContractFactory {
	return &ContractFactory{}
}

// ParseContract parses a JSON string into a validated Contract.
func (f *ContractFactory) ParseContract(tenantID royalty.TenantID, jsonStr string) (royalty.Contract, error) {
	var cj ContractJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return royalty.Contract{}, fmt.Errorf("invalid contract JSON: %w", err)
	}
	return f.FromJSON(tenantID, cj)
}

// FromJSON converts a ContractJSON into a validated Contract.
func (f *ContractFactory) FromJSON(tenantID royalty.TenantID, cj ContractJSON) (royalty.Contract, error) {
	if cj.ID == "" {
		return royalty.Contract{}, &royalty.ConfigurationError{TierIndex: -1, Reason: "contract id is required"}
	}

	mode := royalty.TierCalculationMode(cj.TierCalculationMode)
	if mode == "" {
		mode = royalty.ModePeriod
	}

	periodConfig, err := parsePeriodConfig(cj.PeriodType, cj.FiscalYearStart)
	if err != nil {
		return royalty.Contract{}, &royalty.ConfigurationError{ContractID: royalty.ContractID(cj.ID), TierIndex: -1, Reason: err.Error()}
	}

	c := royalty.Contract{
		ID:                        royalty.ContractID(cj.ID),
		TenantID:                  tenantID,
		AuthorID:                  royalty.AuthorID(cj.AuthorID),
		TitleID:                   royalty.TitleID(cj.TitleID),
		TierCalculationMode:       mode,
		AdvanceAmount:             moneyOrZero(cj.AdvanceAmount),
		AdvancePreviouslyRecouped: moneyOrZero(cj.AdvancePreviouslyRecouped),
		PeriodConfig:              periodConfig,
	}

	for _, tj := range cj.Tiers {
		format, err := royalty.ParseFormat(tj.Format)
		if err != nil {
			return royalty.Contract{}, &royalty.ConfigurationError{ContractID: c.ID, TierIndex: -1, Reason: err.Error()}
		}
		c.Tiers = append(c.Tiers, royalty.RoyaltyTier{
			Format:      format,
			MinQuantity: tj.MinQuantity,
			MaxQuantity: tj.MaxQuantity,
			Rate:        tj.Rate,
		})
	}

	for _, oj := range cj.Ownership {
		c.Ownership = append(c.Ownership, royalty.OwnershipShare{
			AuthorID:   royalty.AuthorID(oj.AuthorID),
			Percentage: oj.Percentage,
		})
	}
	// A single owner is the contract's author.
	if c.AuthorID == "" && len(c.Ownership) > 0 {
		c.AuthorID = c.Ownership[0].AuthorID
	}

	if err := c.Validate(); err != nil {
		return royalty.Contract{}, err
	}
	return c, nil
}

// ToJSON converts a Contract back to its JSON representation.
func (f *ContractFactory) ToJSON(c royalty.Contract) ContractJSON {
	advance := c.AdvanceAmount
	recouped := c.AdvancePreviouslyRecouped
	cj := ContractJSON{
		ID:                        string(c.ID),
		AuthorID:                  string(c.AuthorID),
		TitleID:                   string(c.TitleID),
		TierCalculationMode:       string(c.TierCalculationMode),
		AdvanceAmount:             &advance,
		AdvancePreviouslyRecouped: &recouped,
		PeriodType:                string(c.PeriodConfig.Type),
		FiscalYearStart:           int(c.PeriodConfig.YearStartMonth),
	}
	for _, t := range c.Tiers {
		cj.Tiers = append(cj.Tiers, TierJSON{
			Format:      string(t.Format),
			MinQuantity: t.MinQuantity,
			MaxQuantity: t.MaxQuantity,
			Rate:        t.Rate,
		})
	}
	for _, o := range c.Ownership {
		cj.Ownership = append(cj.Ownership, OwnershipJSON{AuthorID: string(o.AuthorID), Percentage: o.Percentage})
	}
	return cj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parsePeriodConfig(periodType string, fiscalMonth int) (royalty.PeriodConfig, error) {
	pc := royalty.PeriodConfig{Type: royalty.PeriodSemiannual, YearStartMonth: time.January}
	switch royalty.PeriodType(periodType) {
	case "":
	case royalty.PeriodMonthly, royalty.PeriodQuarterly, royalty.PeriodSemiannual, royalty.PeriodAnnual:
		pc.Type = royalty.PeriodType(periodType)
	default:
		return pc, fmt.Errorf("unknown period type %q", periodType)
	}
	if fiscalMonth != 0 {
		if fiscalMonth < 1 || fiscalMonth > 12 {
			return pc, fmt.Errorf("fiscal_year_start must be 1-12, got %d", fiscalMonth)
		}
		pc.YearStartMonth = time.Month(fiscalMonth)
	}
	return pc, nil
}

func moneyOrZero(m *royalty.Money) royalty.Money {
	if m == nil {
		return royalty.Zero
	}
	return *m
}
