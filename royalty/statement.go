package royalty

import (
	"encoding/json"
	"time"
)

// =============================================================================
// STATEMENT CALCULATIONS - Immutable output of the composer
// =============================================================================

// TierBreakdown is the slice of one format's sales that fell in one tier.
type TierBreakdown struct {
	TierMinQuantity int64  `json:"tierMinQuantity"`
	TierMaxQuantity *int64 `json:"tierMaxQuantity"`
	TierRate        Money  `json:"tierRate"`
	QuantityInTier  int64  `json:"quantityInTier"`
	RoyaltyEarned   Money  `json:"royaltyEarned"`
}

// FormatBreakdown is the per-format roll-up for the period.
type FormatBreakdown struct {
	Format         Format          `json:"format"`
	TotalQuantity  int64           `json:"totalQuantity"`
	TotalRevenue   Money           `json:"totalRevenue"`
	TierBreakdowns []TierBreakdown `json:"tierBreakdowns"`
	FormatRoyalty  Money           `json:"formatRoyalty"`
}

// ReturnsBreakdown explains the deduction taken for one format.
type ReturnsBreakdown struct {
	Format        Format `json:"format"`
	Quantity      int64  `json:"quantity"`
	ReturnedValue Money  `json:"returnedValue"`
	RoyaltyRate   Money  `json:"royaltyRate"`
	Deduction     Money  `json:"deduction"`
}

// AdvanceRecoupment is the advance ledger view for one statement.
type AdvanceRecoupment struct {
	OriginalAdvance       Money `json:"originalAdvance"`
	PreviouslyRecouped    Money `json:"previouslyRecouped"`
	ThisPeriodsRecoupment Money `json:"thisPeriodsRecoupment"`
	RemainingAdvance      Money `json:"remainingAdvance"`
}

// FormatLifetimeContext is the lifetime tier position of a single format.
type FormatLifetimeContext struct {
	Format              Format `json:"format"`
	LifetimeSalesBefore int64  `json:"lifetimeSalesBefore"`
	LifetimeSalesAfter  int64  `json:"lifetimeSalesAfter"`
	CurrentTierRate     Money  `json:"currentTierRate"`
	NextTierThreshold   *int64 `json:"nextTierThreshold"`
	UnitsToNextTier     *int64 `json:"unitsToNextTier"`
}

// LifetimeContext is present only for Lifetime-mode contracts. The top-level
// tier fields describe the primary format (most lifetime units); Formats
// carries every format with tiers.
type LifetimeContext struct {
	TierCalculationMode TierCalculationMode     `json:"tierCalculationMode"`
	LifetimeSalesBefore int64                   `json:"lifetimeSalesBefore"`
	LifetimeSalesAfter  int64                   `json:"lifetimeSalesAfter"`
	CurrentTierRate     Money                   `json:"currentTierRate"`
	NextTierThreshold   *int64                  `json:"nextTierThreshold"`
	UnitsToNextTier     *int64                  `json:"unitsToNextTier"`
	Formats             []FormatLifetimeContext `json:"formats,omitempty"`
}

// SplitCalculation marks an author-level statement of a co-authored title.
type SplitCalculation struct {
	OwnershipPercentage Money `json:"ownershipPercentage"`
	IsSplitCalculation  bool  `json:"isSplitCalculation"`
}

// StatementCalculations is the financial result for one contract, author and
// period. Treat it as immutable: Split and Clone return new values.
type StatementCalculations struct {
	Period            Period             `json:"period"`
	FormatBreakdowns  []FormatBreakdown  `json:"formatBreakdowns"`
	ReturnsBreakdowns []ReturnsBreakdown `json:"returnsBreakdowns,omitempty"`
	ReturnsDeduction  Money              `json:"returnsDeduction"`
	GrossRoyalty      Money              `json:"grossRoyalty"`
	AdvanceRecoupment AdvanceRecoupment  `json:"advanceRecoupment"`
	NetPayable        Money              `json:"netPayable"`
	LifetimeContext   *LifetimeContext   `json:"lifetimeContext,omitempty"`
	SplitCalculation  *SplitCalculation  `json:"splitCalculation,omitempty"`
}

// AvailableRoyalty is gross royalty after returns, before advance recoupment.
func (s StatementCalculations) AvailableRoyalty() Money {
	return s.GrossRoyalty.Sub(s.ReturnsDeduction)
}

// IsSplit reports whether this is an author share of a co-authored title.
func (s StatementCalculations) IsSplit() bool {
	return s.SplitCalculation != nil && s.SplitCalculation.IsSplitCalculation
}

// TotalQuantity sums units across formats.
func (s StatementCalculations) TotalQuantity() int64 {
	var total int64
	for _, f := range s.FormatBreakdowns {
		total += f.TotalQuantity
	}
	return total
}

// CheckIdentity verifies netPayable == grossRoyalty - returnsDeduction -
// thisPeriodsRecoupment exactly.
func (s StatementCalculations) CheckIdentity() error {
	expected := s.GrossRoyalty.Sub(s.ReturnsDeduction).Sub(s.AdvanceRecoupment.ThisPeriodsRecoupment)
	if !expected.Equal(s.NetPayable) {
		return &InvariantViolationError{
			Invariant: "net_payable_identity",
			Detail:    "netPayable " + s.NetPayable.String() + " != " + expected.String(),
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s StatementCalculations) Clone() StatementCalculations {
	out := s
	out.FormatBreakdowns = make([]FormatBreakdown, len(s.FormatBreakdowns))
	for i, fb := range s.FormatBreakdowns {
		fb.TierBreakdowns = append([]TierBreakdown(nil), fb.TierBreakdowns...)
		out.FormatBreakdowns[i] = fb
	}
	if s.ReturnsBreakdowns != nil {
		out.ReturnsBreakdowns = append([]ReturnsBreakdown(nil), s.ReturnsBreakdowns...)
	}
	if s.LifetimeContext != nil {
		lc := *s.LifetimeContext
		lc.Formats = append([]FormatLifetimeContext(nil), s.LifetimeContext.Formats...)
		out.LifetimeContext = &lc
	}
	if s.SplitCalculation != nil {
		sc := *s.SplitCalculation
		out.SplitCalculation = &sc
	}
	return out
}

// MarshalCanonical encodes the calculations deterministically. No maps are
// involved, so identical inputs give identical bytes.
func (s StatementCalculations) MarshalCanonical() ([]byte, error) {
	return json.Marshal(s)
}

// =============================================================================
// STATEMENT - Persisted record wrapping the calculations
// =============================================================================

type StatementStatus string

const (
	StatusDraft StatementStatus = "draft"
	StatusFinal StatementStatus = "final"
)

// Statement is the record for one contract, author and period. Only drafts
// may be overwritten; a final statement never changes.
type Statement struct {
	ID           StatementID           `json:"id"`
	TenantID     TenantID              `json:"tenantId"`
	ContractID   ContractID            `json:"contractId"`
	AuthorID     AuthorID              `json:"authorId"`
	TitleID      TitleID               `json:"titleId"`
	Period       Period                `json:"period"`
	Status       StatementStatus       `json:"status"`
	Calculations StatementCalculations `json:"calculations"`

	// RecoupedSnapshot is the contract's AdvancePreviouslyRecouped when the
	// draft was computed. Finalization fails if the contract has moved on.
	RecoupedSnapshot Money `json:"recoupedSnapshot"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	FinalizedAt *time.Time `json:"finalizedAt,omitempty"`
}

// IsFinal reports whether the statement has left draft status.
func (s Statement) IsFinal() bool { return s.Status == StatusFinal }
