/*
recoupment.go - Advance recoupment tracking

PURPOSE:
  An advance is paid to the author up front and earned back from royalties
  before anything further is paid out. The tracker decides how much of this
  period's royalty goes to the advance.

COMPUTATION:
  remainingBefore       = max(originalAdvance - previouslyRecouped, 0)
  thisPeriodsRecoupment = min(remainingBefore, max(availableRoyalty, 0))
  remainingAfter        = remainingBefore - thisPeriodsRecoupment

  availableRoyalty = grossRoyalty - returnsDeduction

STATE:
  previouslyRecouped is read from the contract and reflects finalized
  statements only. Computing a draft changes nothing. The contract is
  updated by Service.Finalize, in the same transaction that finalizes the
  statements, and the change is appended to the recoupment ledger.

EXAMPLE:
  advance 1000.00, recouped 600.00, available 250.00
  -> recoup 250.00, remaining 150.00, net payable 0.00
*/
package royalty

import "fmt"

// RecoupmentTracker applies available royalty against an outstanding advance.
type RecoupmentTracker struct {
	OriginalAdvance    Money
	PreviouslyRecouped Money
}

// NewRecoupmentTracker reads the advance state from the contract.
func NewRecoupmentTracker(c Contract) RecoupmentTracker {
	return RecoupmentTracker{
		OriginalAdvance:    c.AdvanceAmount,
		PreviouslyRecouped: c.AdvancePreviouslyRecouped,
	}
}

// RemainingBefore is the unrecouped advance, floored at zero.
func (t RecoupmentTracker) RemainingBefore() Money {
	return t.OriginalAdvance.Sub(t.PreviouslyRecouped).Max(Zero)
}

// Compute returns the recoupment for a period with the given available royalty.
// It never clamps a bad result: a recoupment outside its bounds is an
// InvariantViolationError.
func (t RecoupmentTracker) Compute(availableRoyalty Money) (AdvanceRecoupment, error) {
	remainingBefore := t.RemainingBefore()
	recouped := remainingBefore.Min(availableRoyalty.Max(Zero))
	remainingAfter := remainingBefore.Sub(recouped)

	if remainingAfter.IsNegative() {
		return AdvanceRecoupment{}, &InvariantViolationError{
			Invariant: "remaining_advance_non_negative",
			Detail:    fmt.Sprintf("remaining advance %s after recouping %s", remainingAfter, recouped),
		}
	}
	if recouped.IsNegative() || recouped.GreaterThan(remainingBefore) || recouped.GreaterThan(availableRoyalty.Max(Zero)) {
		return AdvanceRecoupment{}, &InvariantViolationError{
			Invariant: "recoupment_bound",
			Detail:    fmt.Sprintf("recoupment %s exceeds remaining %s or available %s", recouped, remainingBefore, availableRoyalty),
		}
	}

	return AdvanceRecoupment{
		OriginalAdvance:       t.OriginalAdvance,
		PreviouslyRecouped:    t.PreviouslyRecouped,
		ThisPeriodsRecoupment: recouped,
		RemainingAdvance:      remainingAfter,
	}, nil
}

// ApplyFinalized returns the contract's new AdvancePreviouslyRecouped after a
// finalized recoupment. The result never exceeds the advance.
func (t RecoupmentTracker) ApplyFinalized(recouped Money) (Money, error) {
	if recouped.IsNegative() {
		return Zero, &InvariantViolationError{
			Invariant: "recoupment_monotonic",
			Detail:    "negative recoupment " + recouped.String(),
		}
	}
	next := t.PreviouslyRecouped.Add(recouped)
	if next.GreaterThan(t.OriginalAdvance) && recouped.IsPositive() {
		return Zero, &InvariantViolationError{
			Invariant: "recoupment_bound",
			Detail:    fmt.Sprintf("recouped total %s exceeds advance %s", next, t.OriginalAdvance),
		}
	}
	return next, nil
}
