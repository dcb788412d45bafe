// Package store provides in-memory royalty.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/royalty-engine/royalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	contracts   map[contractKey]royalty.Contract
	sales       map[contractKey][]royalty.SaleRow
	returns     map[contractKey][]royalty.ReturnRow
	statements  map[royalty.StatementID]royalty.Statement
	totals      map[contractKey][]periodTotals
	ledger      map[contractKey][]royalty.RecoupmentEntry
	idempotency map[string]bool
}

type contractKey struct {
	TenantID   royalty.TenantID
	ContractID royalty.ContractID
}

type periodTotals struct {
	Period royalty.Period
	Totals []royalty.PeriodSalesSummary
}

func NewMemory() *Memory {
	return &Memory{
		contracts:   make(map[contractKey]royalty.Contract),
		sales:       make(map[contractKey][]royalty.SaleRow),
		returns:     make(map[contractKey][]royalty.ReturnRow),
		statements:  make(map[royalty.StatementID]royalty.Statement),
		totals:      make(map[contractKey][]periodTotals),
		ledger:      make(map[contractKey][]royalty.RecoupmentEntry),
		idempotency: make(map[string]bool),
	}
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (m *Memory) SaveContract(_ context.Context, c royalty.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveContractLocked(c)
}

func (m *Memory) saveContractLocked(c royalty.Contract) error {
	k := contractKey{c.TenantID, c.ID}
	if prev, ok := m.contracts[k]; ok {
		if m.hasFinalLocked(k) && !prev.SameTerms(c) {
			return fmt.Errorf("save contract %s: %w", c.ID, royalty.ErrContractLocked)
		}
		// The recouped total only moves through UpdateRecouped.
		c.AdvancePreviouslyRecouped = prev.AdvancePreviouslyRecouped
		c.Version = prev.Version + 1
	} else if c.Version == 0 {
		c.Version = 1
	}
	m.contracts[k] = cloneContract(c)
	return nil
}

func (m *Memory) GetContract(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID) (royalty.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getContractLocked(tenantID, id)
}

func (m *Memory) getContractLocked(tenantID royalty.TenantID, id royalty.ContractID) (royalty.Contract, error) {
	c, ok := m.contracts[contractKey{tenantID, id}]
	if !ok {
		return royalty.Contract{}, &royalty.NotFoundError{Kind: "contract", ID: string(id)}
	}
	return cloneContract(c), nil
}

func (m *Memory) ListContracts(_ context.Context, tenantID royalty.TenantID) ([]royalty.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []royalty.Contract
	for k, c := range m.contracts {
		if k.TenantID == tenantID {
			out = append(out, cloneContract(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateRecouped(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, expected, next royalty.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRecoupedLocked(tenantID, id, expected, next)
}

func (m *Memory) updateRecoupedLocked(tenantID royalty.TenantID, id royalty.ContractID, expected, next royalty.Money) error {
	k := contractKey{tenantID, id}
	c, ok := m.contracts[k]
	if !ok {
		return &royalty.NotFoundError{Kind: "contract", ID: string(id)}
	}
	if !c.AdvancePreviouslyRecouped.Equal(expected) {
		return royalty.ErrConcurrentModification
	}
	c.AdvancePreviouslyRecouped = next
	c.Version++
	m.contracts[k] = c
	return nil
}

// =============================================================================
// SALES AND RETURNS
// =============================================================================

func (m *Memory) AddSales(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, rows []royalty.SaleRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := contractKey{tenantID, id}
	if _, ok := m.contracts[k]; !ok {
		return &royalty.NotFoundError{Kind: "contract", ID: string(id)}
	}
	m.sales[k] = append(m.sales[k], rows...)
	return nil
}

func (m *Memory) AddReturns(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, rows []royalty.ReturnRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := contractKey{tenantID, id}
	if _, ok := m.contracts[k]; !ok {
		return &royalty.NotFoundError{Kind: "contract", ID: string(id)}
	}
	m.returns[k] = append(m.returns[k], rows...)
	return nil
}

func (m *Memory) SalesInPeriod(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.SaleRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.salesInPeriodLocked(tenantID, id, p), nil
}

func (m *Memory) salesInPeriodLocked(tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) []royalty.SaleRow {
	var out []royalty.SaleRow
	for _, r := range m.sales[contractKey{tenantID, id}] {
		if p.Contains(r.SaleDate) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Memory) ReturnsInPeriod(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.ReturnRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.returnsInPeriodLocked(tenantID, id, p), nil
}

func (m *Memory) returnsInPeriodLocked(tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) []royalty.ReturnRow {
	var out []royalty.ReturnRow
	for _, r := range m.returns[contractKey{tenantID, id}] {
		if p.Contains(r.Date) {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// STATEMENTS
// =============================================================================

func (m *Memory) SaveDrafts(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, stmts []royalty.Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveDraftsLocked(tenantID, id, p, stmts)
}

func (m *Memory) saveDraftsLocked(tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, stmts []royalty.Statement) error {
	for _, s := range m.forPeriodLocked(tenantID, id, p) {
		if s.IsFinal() {
			return royalty.ErrStatementFinalized
		}
	}
	for _, s := range m.forPeriodLocked(tenantID, id, p) {
		delete(m.statements, s.ID)
	}
	for _, s := range stmts {
		s.Status = royalty.StatusDraft
		s.Calculations = s.Calculations.Clone()
		m.statements[s.ID] = s
	}
	return nil
}

func (m *Memory) MarkFinal(_ context.Context, tenantID royalty.TenantID, ids []royalty.StatementID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markFinalLocked(tenantID, ids, at)
}

func (m *Memory) markFinalLocked(tenantID royalty.TenantID, ids []royalty.StatementID, at time.Time) error {
	for _, id := range ids {
		s, ok := m.statements[id]
		if !ok || s.TenantID != tenantID {
			return &royalty.NotFoundError{Kind: "statement", ID: string(id)}
		}
		if s.IsFinal() {
			return royalty.ErrStatementFinalized
		}
	}
	for _, id := range ids {
		s := m.statements[id]
		s.Status = royalty.StatusFinal
		s.UpdatedAt = at
		finalizedAt := at
		s.FinalizedAt = &finalizedAt
		m.statements[id] = s
	}
	return nil
}

func (m *Memory) GetStatement(_ context.Context, tenantID royalty.TenantID, id royalty.StatementID) (royalty.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statements[id]
	if !ok || s.TenantID != tenantID {
		return royalty.Statement{}, &royalty.NotFoundError{Kind: "statement", ID: string(id)}
	}
	return cloneStatement(s), nil
}

func (m *Memory) StatementsForPeriod(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forPeriodLocked(tenantID, id, p), nil
}

func (m *Memory) forPeriodLocked(tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) []royalty.Statement {
	var out []royalty.Statement
	for _, s := range m.statements {
		if s.TenantID == tenantID && s.ContractID == id && s.Period.Equal(p) {
			out = append(out, cloneStatement(s))
		}
	}
	sortStatements(out)
	return out
}

func (m *Memory) ListStatements(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID) ([]royalty.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listStatementsLocked(tenantID, id), nil
}

func (m *Memory) listStatementsLocked(tenantID royalty.TenantID, id royalty.ContractID) []royalty.Statement {
	var out []royalty.Statement
	for _, s := range m.statements {
		if s.TenantID == tenantID && s.ContractID == id {
			out = append(out, cloneStatement(s))
		}
	}
	sortStatements(out)
	return out
}

func (m *Memory) HasDraftBefore(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasDraftBeforeLocked(tenantID, id, before), nil
}

func (m *Memory) hasDraftBeforeLocked(tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) bool {
	for _, s := range m.statements {
		if s.TenantID == tenantID && s.ContractID == id && !s.IsFinal() && s.Period.EndDate.Before(before) {
			return true
		}
	}
	return false
}

func (m *Memory) hasFinalLocked(k contractKey) bool {
	for _, s := range m.statements {
		if s.TenantID == k.TenantID && s.ContractID == k.ContractID && s.IsFinal() {
			return true
		}
	}
	return false
}

func (m *Memory) HasFinalAfter(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, after royalty.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasFinalAfterLocked(tenantID, id, after), nil
}

func (m *Memory) hasFinalAfterLocked(tenantID royalty.TenantID, id royalty.ContractID, after royalty.Date) bool {
	for _, s := range m.statements {
		if s.TenantID == tenantID && s.ContractID == id && s.IsFinal() && s.Period.StartDate.After(after) {
			return true
		}
	}
	return false
}

func (m *Memory) HasUnclosedSalesBefore(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasUnclosedSalesLocked(tenantID, id, before), nil
}

func (m *Memory) hasUnclosedSalesLocked(tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) bool {
	k := contractKey{tenantID, id}
	for _, r := range m.sales[k] {
		if !r.SaleDate.Before(before) {
			continue
		}
		closed := false
		for _, pt := range m.totals[k] {
			if pt.Period.Contains(r.SaleDate) {
				closed = true
				break
			}
		}
		if !closed {
			return true
		}
	}
	return false
}

func (m *Memory) SavePeriodTotals(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, totals []royalty.PeriodSalesSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.savePeriodTotalsLocked(tenantID, id, p, totals)
}

func (m *Memory) savePeriodTotalsLocked(tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, totals []royalty.PeriodSalesSummary) error {
	k := contractKey{tenantID, id}
	for _, pt := range m.totals[k] {
		if pt.Period.Equal(p) {
			return fmt.Errorf("period totals for %s %s: %w", id, p, royalty.ErrStatementFinalized)
		}
	}
	m.totals[k] = append(m.totals[k], periodTotals{Period: p, Totals: append([]royalty.PeriodSalesSummary(nil), totals...)})
	return nil
}

func (m *Memory) LifetimeUnitsBefore(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) ([]royalty.LifetimeSalesSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lifetimeLocked(tenantID, id, before), nil
}

func (m *Memory) lifetimeLocked(tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) []royalty.LifetimeSalesSnapshot {
	units := map[royalty.Format]int64{}
	var formats []royalty.Format
	for _, pt := range m.totals[contractKey{tenantID, id}] {
		if !pt.Period.EndDate.Before(before) {
			continue
		}
		for _, t := range pt.Totals {
			if _, ok := units[t.Format]; !ok {
				formats = append(formats, t.Format)
			}
			units[t.Format] += t.TotalQuantity
		}
	}
	royalty.SortFormats(formats)
	out := make([]royalty.LifetimeSalesSnapshot, 0, len(formats))
	for _, f := range formats {
		out = append(out, royalty.LifetimeSalesSnapshot{Format: f, UnitsBeforePeriod: units[f]})
	}
	return out
}

// =============================================================================
// RECOUPMENT LEDGER - Append-only
// =============================================================================

func (m *Memory) AppendRecoupment(_ context.Context, e royalty.RecoupmentEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendRecoupmentLocked(e)
}

func (m *Memory) appendRecoupmentLocked(e royalty.RecoupmentEntry) error {
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return royalty.ErrDuplicateIdempotencyKey
	}
	k := contractKey{e.TenantID, e.ContractID}
	e.StatementIDs = append([]royalty.StatementID(nil), e.StatementIDs...)
	m.ledger[k] = append(m.ledger[k], e)
	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) RecoupmentEntries(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID) ([]royalty.RecoupmentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]royalty.RecoupmentEntry(nil), m.ledger[contractKey{tenantID, id}]...), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(royalty.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	contracts   map[contractKey]royalty.Contract
	sales       map[contractKey][]royalty.SaleRow
	returns     map[contractKey][]royalty.ReturnRow
	statements  map[royalty.StatementID]royalty.Statement
	totals      map[contractKey][]periodTotals
	ledger      map[contractKey][]royalty.RecoupmentEntry
	idempotency map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		contracts:   make(map[contractKey]royalty.Contract, len(tm.contracts)),
		sales:       make(map[contractKey][]royalty.SaleRow, len(tm.sales)),
		returns:     make(map[contractKey][]royalty.ReturnRow, len(tm.returns)),
		statements:  make(map[royalty.StatementID]royalty.Statement, len(tm.statements)),
		totals:      make(map[contractKey][]periodTotals, len(tm.totals)),
		ledger:      make(map[contractKey][]royalty.RecoupmentEntry, len(tm.ledger)),
		idempotency: make(map[string]bool, len(tm.idempotency)),
	}
	for k, v := range tm.contracts {
		s.contracts[k] = v
	}
	for k, v := range tm.sales {
		s.sales[k] = append([]royalty.SaleRow(nil), v...)
	}
	for k, v := range tm.returns {
		s.returns[k] = append([]royalty.ReturnRow(nil), v...)
	}
	for k, v := range tm.statements {
		s.statements[k] = v
	}
	for k, v := range tm.totals {
		s.totals[k] = append([]periodTotals(nil), v...)
	}
	for k, v := range tm.ledger {
		s.ledger[k] = append([]royalty.RecoupmentEntry(nil), v...)
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.contracts = s.contracts
	tm.sales = s.sales
	tm.returns = s.returns
	tm.statements = s.statements
	tm.totals = s.totals
	tm.ledger = s.ledger
	tm.idempotency = s.idempotency
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so every method goes straight to the *Locked helpers.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveContract(_ context.Context, c royalty.Contract) error {
	return tv.parent.saveContractLocked(c)
}

func (tv *txMemoryView) GetContract(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID) (royalty.Contract, error) {
	return tv.parent.getContractLocked(tenantID, id)
}

func (tv *txMemoryView) ListContracts(_ context.Context, tenantID royalty.TenantID) ([]royalty.Contract, error) {
	var out []royalty.Contract
	for k, c := range tv.parent.contracts {
		if k.TenantID == tenantID {
			out = append(out, cloneContract(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tv *txMemoryView) UpdateRecouped(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, expected, next royalty.Money) error {
	return tv.parent.updateRecoupedLocked(tenantID, id, expected, next)
}

func (tv *txMemoryView) AddSales(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, rows []royalty.SaleRow) error {
	k := contractKey{tenantID, id}
	if _, ok := tv.parent.contracts[k]; !ok {
		return &royalty.NotFoundError{Kind: "contract", ID: string(id)}
	}
	tv.parent.sales[k] = append(tv.parent.sales[k], rows...)
	return nil
}

func (tv *txMemoryView) AddReturns(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, rows []royalty.ReturnRow) error {
	k := contractKey{tenantID, id}
	if _, ok := tv.parent.contracts[k]; !ok {
		return &royalty.NotFoundError{Kind: "contract", ID: string(id)}
	}
	tv.parent.returns[k] = append(tv.parent.returns[k], rows...)
	return nil
}

func (tv *txMemoryView) SalesInPeriod(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.SaleRow, error) {
	return tv.parent.salesInPeriodLocked(tenantID, id, p), nil
}

func (tv *txMemoryView) ReturnsInPeriod(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.ReturnRow, error) {
	return tv.parent.returnsInPeriodLocked(tenantID, id, p), nil
}

func (tv *txMemoryView) SaveDrafts(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, stmts []royalty.Statement) error {
	return tv.parent.saveDraftsLocked(tenantID, id, p, stmts)
}

func (tv *txMemoryView) MarkFinal(_ context.Context, tenantID royalty.TenantID, ids []royalty.StatementID, at time.Time) error {
	return tv.parent.markFinalLocked(tenantID, ids, at)
}

func (tv *txMemoryView) GetStatement(_ context.Context, tenantID royalty.TenantID, id royalty.StatementID) (royalty.Statement, error) {
	s, ok := tv.parent.statements[id]
	if !ok || s.TenantID != tenantID {
		return royalty.Statement{}, &royalty.NotFoundError{Kind: "statement", ID: string(id)}
	}
	return cloneStatement(s), nil
}

func (tv *txMemoryView) StatementsForPeriod(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.Statement, error) {
	return tv.parent.forPeriodLocked(tenantID, id, p), nil
}

func (tv *txMemoryView) ListStatements(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID) ([]royalty.Statement, error) {
	return tv.parent.listStatementsLocked(tenantID, id), nil
}

func (tv *txMemoryView) HasDraftBefore(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) (bool, error) {
	return tv.parent.hasDraftBeforeLocked(tenantID, id, before), nil
}

func (tv *txMemoryView) HasFinalAfter(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, after royalty.Date) (bool, error) {
	return tv.parent.hasFinalAfterLocked(tenantID, id, after), nil
}

func (tv *txMemoryView) HasUnclosedSalesBefore(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) (bool, error) {
	return tv.parent.hasUnclosedSalesLocked(tenantID, id, before), nil
}

func (tv *txMemoryView) SavePeriodTotals(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, totals []royalty.PeriodSalesSummary) error {
	return tv.parent.savePeriodTotalsLocked(tenantID, id, p, totals)
}

func (tv *txMemoryView) LifetimeUnitsBefore(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) ([]royalty.LifetimeSalesSnapshot, error) {
	return tv.parent.lifetimeLocked(tenantID, id, before), nil
}

func (tv *txMemoryView) AppendRecoupment(_ context.Context, e royalty.RecoupmentEntry) error {
	return tv.parent.appendRecoupmentLocked(e)
}

func (tv *txMemoryView) RecoupmentEntries(_ context.Context, tenantID royalty.TenantID, id royalty.ContractID) ([]royalty.RecoupmentEntry, error) {
	return append([]royalty.RecoupmentEntry(nil), tv.parent.ledger[contractKey{tenantID, id}]...), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneContract(c royalty.Contract) royalty.Contract {
	c.Tiers = append([]royalty.RoyaltyTier(nil), c.Tiers...)
	c.Ownership = append([]royalty.OwnershipShare(nil), c.Ownership...)
	return c
}

func cloneStatement(s royalty.Statement) royalty.Statement {
	s.Calculations = s.Calculations.Clone()
	return s
}

func sortStatements(stmts []royalty.Statement) {
	sort.Slice(stmts, func(i, j int) bool {
		a, b := stmts[i], stmts[j]
		if !a.Period.StartDate.Equal(b.Period.StartDate) {
			return a.Period.StartDate.Before(b.Period.StartDate)
		}
		return a.AuthorID < b.AuthorID
	})
}
