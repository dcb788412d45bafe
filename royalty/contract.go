package royalty

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type ContractID string
type AuthorID string
type TitleID string
type StatementID string

// =============================================================================
// CONTRACT - Royalty terms for a title
// =============================================================================

// TierCalculationMode decides where the tier window starts each period.
type TierCalculationMode string

const (
	// ModePeriod: tier quantities reset every statement period.
	ModePeriod TierCalculationMode = "period"

	// ModeLifetime: tier quantities are cumulative over all finalized periods,
	// so the rate escalates permanently as lifetime sales grow.
	ModeLifetime TierCalculationMode = "lifetime"
)

// Valid reports whether m is a known mode.
func (m TierCalculationMode) Valid() bool {
	return m == ModePeriod || m == ModeLifetime
}

// RoyaltyTier is a quantity range [MinQuantity, MaxQuantity) paying Rate.
// A nil MaxQuantity is unbounded and must be the last tier of its format.
type RoyaltyTier struct {
	Format      Format `json:"format"`
	MinQuantity int64  `json:"minQuantity"`
	MaxQuantity *int64 `json:"maxQuantity"`
	Rate        Money  `json:"rate"`
}

// Unbounded reports whether the tier has no upper limit.
func (t RoyaltyTier) Unbounded() bool { return t.MaxQuantity == nil }

// Contains reports whether the unit count falls inside the tier.
func (t RoyaltyTier) Contains(units int64) bool {
	if units < t.MinQuantity {
		return false
	}
	return t.Unbounded() || units < *t.MaxQuantity
}

// OwnershipShare is one author's percentage of a co-authored title.
type OwnershipShare struct {
	AuthorID   AuthorID `json:"authorId"`
	Percentage Money    `json:"percentage"`
}

// Contract holds the royalty terms between a publisher and the authors of a
// title. AdvancePreviouslyRecouped only grows, and only when a statement is
// finalized; Version increments with every such change.
type Contract struct {
	ID                        ContractID          `json:"id"`
	TenantID                  TenantID            `json:"tenantId"`
	AuthorID                  AuthorID            `json:"authorId"`
	TitleID                   TitleID             `json:"titleId"`
	TierCalculationMode       TierCalculationMode `json:"tierCalculationMode"`
	AdvanceAmount             Money               `json:"advanceAmount"`
	AdvancePreviouslyRecouped Money               `json:"advancePreviouslyRecouped"`
	Tiers                     []RoyaltyTier       `json:"tiers"`

	// Ownership lists every author's share when the title is co-authored.
	// Empty (or a single 100% share) means a sole-author title.
	Ownership []OwnershipShare `json:"ownership,omitempty"`

	PeriodConfig PeriodConfig `json:"-"`
	Version      int64        `json:"version"`
}

// TiersFor returns the tiers of one format sorted by MinQuantity.
func (c Contract) TiersFor(f Format) []RoyaltyTier {
	var out []RoyaltyTier
	for _, t := range c.Tiers {
		if t.Format == f {
			out = append(out, t)
		}
	}
	sortTiers(out)
	return out
}

// Formats returns every format the contract has tiers for, canonically ordered.
func (c Contract) Formats() []Format {
	seen := map[Format]bool{}
	var out []Format
	for _, t := range c.Tiers {
		if !seen[t.Format] {
			seen[t.Format] = true
			out = append(out, t.Format)
		}
	}
	SortFormats(out)
	return out
}

// IsCoAuthored reports whether statements must be split per author.
func (c Contract) IsCoAuthored() bool {
	return len(c.Ownership) > 1
}

// Authors returns the authors who receive a statement for this contract.
func (c Contract) Authors() []AuthorID {
	if len(c.Ownership) == 0 {
		return []AuthorID{c.AuthorID}
	}
	out := make([]AuthorID, len(c.Ownership))
	for i, s := range c.Ownership {
		out[i] = s.AuthorID
	}
	return out
}

// ValidateOwnership checks that shares are positive, unique and sum to 100.
func (c Contract) ValidateOwnership() error {
	if len(c.Ownership) == 0 {
		return nil
	}
	total := Zero
	seen := map[AuthorID]bool{}
	for _, s := range c.Ownership {
		if s.AuthorID == "" {
			return &ConfigurationError{ContractID: c.ID, TierIndex: -1, Reason: "ownership share missing author"}
		}
		if seen[s.AuthorID] {
			return &ConfigurationError{ContractID: c.ID, TierIndex: -1, Reason: "duplicate ownership for author " + string(s.AuthorID)}
		}
		seen[s.AuthorID] = true
		if !s.Percentage.IsPositive() || s.Percentage.GreaterThan(hundred) {
			return &ConfigurationError{ContractID: c.ID, TierIndex: -1,
				Reason: "ownership share " + string(s.AuthorID) + " must be in (0, 100]"}
		}
		total = total.Add(s.Percentage)
	}
	if !total.Equal(hundred) {
		return &ConfigurationError{ContractID: c.ID, TierIndex: -1,
			Reason: "ownership percentages sum to " + total.String() + ", expected 100"}
	}
	return nil
}

// Validate checks tiers for every format, the mode, advance state and ownership.
func (c Contract) Validate() error {
	if !c.TierCalculationMode.Valid() {
		return &ConfigurationError{ContractID: c.ID, TierIndex: -1, Reason: "unknown tier calculation mode " + string(c.TierCalculationMode)}
	}
	if c.AdvanceAmount.IsNegative() || c.AdvancePreviouslyRecouped.IsNegative() {
		return &ConfigurationError{ContractID: c.ID, TierIndex: -1, Reason: "advance figures must not be negative"}
	}
	if c.AdvancePreviouslyRecouped.GreaterThan(c.AdvanceAmount) {
		return &ConfigurationError{ContractID: c.ID, TierIndex: -1,
			Reason: "recouped " + c.AdvancePreviouslyRecouped.String() + " exceeds advance " + c.AdvanceAmount.String()}
	}
	if len(c.Tiers) == 0 {
		return &ConfigurationError{ContractID: c.ID, TierIndex: -1, Reason: "contract has no royalty tiers"}
	}
	for _, f := range c.Formats() {
		if err := ValidateTiers(f, c.TiersFor(f)); err != nil {
			return withContract(err, c.ID)
		}
	}
	return c.ValidateOwnership()
}

// SameTerms reports whether o has the mode, advance amount and tiers of c.
// Tier order within the contract does not matter.
func (c Contract) SameTerms(o Contract) bool {
	if c.TierCalculationMode != o.TierCalculationMode || !c.AdvanceAmount.Equal(o.AdvanceAmount) {
		return false
	}
	formats := c.Formats()
	if len(formats) != len(o.Formats()) {
		return false
	}
	for _, f := range formats {
		a, b := c.TiersFor(f), o.TiersFor(f)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !sameTier(a[i], b[i]) {
				return false
			}
		}
	}
	return true
}

func sameTier(a, b RoyaltyTier) bool {
	if a.MinQuantity != b.MinQuantity || !a.Rate.Equal(b.Rate) || a.Unbounded() != b.Unbounded() {
		return false
	}
	return a.Unbounded() || *a.MaxQuantity == *b.MaxQuantity
}

// =============================================================================
// INPUT ROWS - Pre-aggregated by the persistence layer
// =============================================================================

// SaleRow is one sales record. Revenue wins over UnitPrice when both are set.
type SaleRow struct {
	Format    Format `json:"format"`
	Quantity  int64  `json:"quantity"`
	UnitPrice *Money `json:"unitPrice,omitempty"`
	Revenue   *Money `json:"revenue,omitempty"`
	SaleDate  Date   `json:"saleDate"`
}

// RowRevenue returns the revenue the row contributes.
func (r SaleRow) RowRevenue() Money {
	switch {
	case r.Revenue != nil:
		return *r.Revenue
	case r.UnitPrice != nil:
		return r.UnitPrice.MulInt(r.Quantity)
	default:
		return Zero
	}
}

// ReturnStatus is the approval state of a return.
type ReturnStatus string

const (
	ReturnPending  ReturnStatus = "pending"
	ReturnApproved ReturnStatus = "approved"
	ReturnRejected ReturnStatus = "rejected"
)

// ReturnRow is one returns record.
type ReturnRow struct {
	Format   Format       `json:"format"`
	Quantity int64        `json:"quantity"`
	Value    Money        `json:"value"`
	Date     Date         `json:"date"`
	Status   ReturnStatus `json:"status"`
}

// LifetimeSalesSnapshot is the units sold before the period, summed from
// finalized statements only.
type LifetimeSalesSnapshot struct {
	Format            Format `json:"format"`
	UnitsBeforePeriod int64  `json:"unitsBeforePeriod"`
}
