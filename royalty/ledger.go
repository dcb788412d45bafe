/*
ledger.go - Append-only recoupment ledger

PURPOSE:
  Records every change to a contract's recouped advance. The contract's
  AdvancePreviouslyRecouped field is a cached total; the ledger is the audit
  trail that explains it.

INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. IDEMPOTENT: one entry per (contract, period), keyed by RecoupmentKey
  3. CONSISTENT: the opening balance plus every entry reproduces the
     contract's total

EXAMPLE:
  period H1: recouped 0.00   -> 400.00  (+400.00)
  period H2: recouped 400.00 -> 1000.00 (+600.00)
  replay = 1000.00 == contract.AdvancePreviouslyRecouped
*/
package royalty

import (
	"context"
	"fmt"
	"time"
)

// RecoupmentEntry is one finalized period's effect on the advance.
type RecoupmentEntry struct {
	ID             string        `json:"id"`
	TenantID       TenantID      `json:"tenantId"`
	ContractID     ContractID    `json:"contractId"`
	Period         Period        `json:"period"`
	Amount         Money         `json:"amount"`
	RecoupedBefore Money         `json:"recoupedBefore"`
	RecoupedAfter  Money         `json:"recoupedAfter"`
	StatementIDs   []StatementID `json:"statementIds"`
	IdempotencyKey string        `json:"idempotencyKey"`
	RecordedAt     time.Time     `json:"recordedAt"`
}

// RecoupmentKey is the idempotency key for a contract's period.
func RecoupmentKey(id ContractID, p Period) string {
	return fmt.Sprintf("recoup:%s:%s:%s", id, p.StartDate, p.EndDate)
}

// Ledger reads and appends recoupment entries.
type Ledger struct {
	Store LedgerStore
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{Store: store}
}

// Append validates the entry before handing it to the store.
func (l *Ledger) Append(ctx context.Context, e RecoupmentEntry) error {
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = RecoupmentKey(e.ContractID, e.Period)
	}
	if e.Amount.IsNegative() {
		return &InvariantViolationError{Invariant: "recoupment_monotonic", Detail: "negative ledger amount " + e.Amount.String()}
	}
	if !e.RecoupedBefore.Add(e.Amount).Equal(e.RecoupedAfter) {
		return &InvariantViolationError{
			Invariant: "ledger_entry_balance",
			Detail:    fmt.Sprintf("%s + %s != %s", e.RecoupedBefore, e.Amount, e.RecoupedAfter),
		}
	}
	return l.Store.AppendRecoupment(ctx, e)
}

// Entries returns the contract's entries in the order they were recorded.
func (l *Ledger) Entries(ctx context.Context, tenantID TenantID, id ContractID) ([]RecoupmentEntry, error) {
	return l.Store.RecoupmentEntries(ctx, tenantID, id)
}

// Replay walks the contract's entries and returns the recouped total after
// the last one. Each entry must start where the previous one ended; the first
// entry's RecoupedBefore is the opening balance carried on the contract.
// ok is false when the contract has no entries.
func (l *Ledger) Replay(ctx context.Context, tenantID TenantID, id ContractID) (total Money, ok bool, err error) {
	entries, err := l.Store.RecoupmentEntries(ctx, tenantID, id)
	if err != nil {
		return Zero, false, err
	}
	if len(entries) == 0 {
		return Zero, false, nil
	}
	total = entries[0].RecoupedBefore
	for i, e := range entries {
		if !e.RecoupedBefore.Equal(total) {
			return Zero, false, &InvariantViolationError{
				Invariant: "ledger_chain",
				Detail:    fmt.Sprintf("entry %d starts at %s, previous ended at %s", i, e.RecoupedBefore, total),
			}
		}
		total = total.Add(e.Amount)
	}
	return total, true, nil
}

// Verify checks that the contract's recouped total matches the ledger.
func (l *Ledger) Verify(ctx context.Context, c Contract) error {
	total, ok, err := l.Replay(ctx, c.TenantID, c.ID)
	if err != nil || !ok {
		return err
	}
	if !total.Equal(c.AdvancePreviouslyRecouped) {
		return &InvariantViolationError{
			Invariant: "ledger_replay",
			Detail:    fmt.Sprintf("ledger total %s != contract recouped %s", total, c.AdvancePreviouslyRecouped),
		}
	}
	return nil
}
