/*
store.go - Persistence interfaces for contracts, sales and statements

PURPOSE:
  Defines the boundary between the pure engine and the database. Every query
  is scoped to a tenant; a contract id from another tenant is not found.

KEY INTERFACES:
  ContractStore:   Contract terms and the recouped-advance field
  SalesStore:      Sales and returns rows
  StatementStore:  Draft and final statements, per-period unit totals
  LedgerStore:     Append-only recoupment entries
  TxStore:         All of the above plus WithTx for finalization

RECOUPMENT WRITES:
  UpdateRecouped is a conditional update: it succeeds only when the stored
  value still equals the expected one, and returns ErrConcurrentModification
  otherwise. Two concurrent finalizations can never both apply.

LIFETIME TOTALS:
  Unit totals are written per (contract, period) at finalization, once, no
  matter how many co-author statements the period has. LifetimeUnitsBefore
  sums them, so drafts never count. Lifetime generation also refuses to run
  when earlier sales sit outside every finalized period, or when a later
  period is already final.

LOCKED TERMS:
  A contract with a final statement keeps its mode, advance and tiers.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with embedded migrations
  - royalty/store/memory.go: In-memory for tests and demos
*/
package royalty

import (
	"context"
	"time"
)

// ContractStore persists contracts.
type ContractStore interface {
	// SaveContract inserts or replaces a contract. Once the contract has a
	// final statement, changing its mode, advance or tiers fails with
	// ErrContractLocked.
	SaveContract(ctx context.Context, c Contract) error

	// GetContract returns a *NotFoundError when the contract does not exist
	// for the tenant.
	GetContract(ctx context.Context, tenantID TenantID, id ContractID) (Contract, error)

	ListContracts(ctx context.Context, tenantID TenantID) ([]Contract, error)

	// UpdateRecouped sets AdvancePreviouslyRecouped to next if it still
	// equals expected, and bumps the contract version.
	UpdateRecouped(ctx context.Context, tenantID TenantID, id ContractID, expected, next Money) error
}

// SalesStore persists raw sales and returns rows.
type SalesStore interface {
	AddSales(ctx context.Context, tenantID TenantID, id ContractID, rows []SaleRow) error
	AddReturns(ctx context.Context, tenantID TenantID, id ContractID, rows []ReturnRow) error
	SalesInPeriod(ctx context.Context, tenantID TenantID, id ContractID, p Period) ([]SaleRow, error)
	ReturnsInPeriod(ctx context.Context, tenantID TenantID, id ContractID, p Period) ([]ReturnRow, error)
}

// StatementStore persists statements.
type StatementStore interface {
	// SaveDrafts replaces every draft of (contract, period) with stmts.
	// Returns ErrStatementFinalized if the period already has a final statement.
	SaveDrafts(ctx context.Context, tenantID TenantID, id ContractID, p Period, stmts []Statement) error

	// MarkFinal moves the listed drafts to final.
	MarkFinal(ctx context.Context, tenantID TenantID, ids []StatementID, at time.Time) error

	GetStatement(ctx context.Context, tenantID TenantID, id StatementID) (Statement, error)
	StatementsForPeriod(ctx context.Context, tenantID TenantID, id ContractID, p Period) ([]Statement, error)

	// ListStatements returns all statements of a contract ordered by period
	// then author.
	ListStatements(ctx context.Context, tenantID TenantID, id ContractID) ([]Statement, error)

	// HasDraftBefore reports whether a draft exists for a period ending
	// before the given date.
	HasDraftBefore(ctx context.Context, tenantID TenantID, id ContractID, before Date) (bool, error)

	// HasFinalAfter reports whether a final statement exists for a period
	// starting after the given date.
	HasFinalAfter(ctx context.Context, tenantID TenantID, id ContractID, after Date) (bool, error)

	// HasUnclosedSalesBefore reports whether a sale dated before the given
	// date falls outside every finalized period.
	HasUnclosedSalesBefore(ctx context.Context, tenantID TenantID, id ContractID, before Date) (bool, error)

	// SavePeriodTotals records the units sold per format in a finalized period.
	SavePeriodTotals(ctx context.Context, tenantID TenantID, id ContractID, p Period, totals []PeriodSalesSummary) error

	// LifetimeUnitsBefore sums finalized period totals for periods ending
	// before the given date.
	LifetimeUnitsBefore(ctx context.Context, tenantID TenantID, id ContractID, before Date) ([]LifetimeSalesSnapshot, error)
}

// LedgerStore persists recoupment entries. Append-only.
type LedgerStore interface {
	// AppendRecoupment fails with ErrDuplicateIdempotencyKey if the key exists.
	AppendRecoupment(ctx context.Context, e RecoupmentEntry) error
	RecoupmentEntries(ctx context.Context, tenantID TenantID, id ContractID) ([]RecoupmentEntry, error)
}

// Store is the full persistence surface the service needs.
type Store interface {
	ContractStore
	SalesStore
	StatementStore
	LedgerStore
}

// TxStore wraps Store with transaction support.
// If fn returns an error, every write made through the Store it received is
// rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
