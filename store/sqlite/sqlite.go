/*
Package sqlite provides a SQLite-backed implementation of royalty.TxStore.

PURPOSE:
  Persists contracts, sales, returns, statements and the recoupment ledger.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  royalty.ContractStore:  Contracts, tiers and ownership shares
  royalty.SalesStore:     Raw sales and returns rows
  royalty.StatementStore: Draft/final statements and finalized unit totals
  royalty.LedgerStore:    Append-only recoupment entries
  royalty.TxStore:        All of the above inside one database transaction

MONEY:
  Every monetary column is exact decimal TEXT, never REAL. Money implements
  driver.Valuer and sql.Scanner.

CONDITIONAL RECOUPMENT UPDATE:
  UpdateRecouped runs
    UPDATE contracts SET advance_recouped = ? WHERE ... AND advance_recouped = ?
  and reports ErrConcurrentModification when no row matched, so two
  finalizations racing on the same snapshot cannot both apply.

KEY TABLES:
  contracts, contract_tiers, contract_ownership: Contract terms
  sales, returns:                               Input rows
  statements:                                   Calculation JSON per author
  finalized_periods, period_format_totals:      Lifetime unit history
  recoupment_entries:                           Ledger (unique idempotency key)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Multi-statement writes outside WithTx
  still run in their own database transaction.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/royalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := royalty.NewService(store, logger, observer)

MIGRATION:
  Versioned migrations are embedded from migrations/ and applied with
  golang-migrate on New().

SEE ALSO:
  - royalty/store.go: Interface definitions
  - royalty/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/royalty-engine/royalty"
)

//go:embed migrations/*.sql
var migrations embed.FS

const timeLayout = time.RFC3339Nano

// Store implements royalty.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	// Do not call m.Close here because it would close the shared *sql.DB.
	return nil
}

// read runs fn against the database under the read lock.
func (s *Store) read(fn func(q querier) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.db)
}

// write runs fn inside a database transaction under the write lock.
func (s *Store) write(ctx context.Context, fn func(q querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, fn)
}

func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// CONTRACTS
// =============================================================================

// SaveContract inserts or replaces a contract's terms. An existing contract
// keeps its recouped total and gets a new version. Once a statement is final,
// changed mode, advance or tiers are refused with ErrContractLocked.
func (s *Store) SaveContract(ctx context.Context, c royalty.Contract) error {
	return s.write(ctx, func(q querier) error { return saveContract(ctx, q, c) })
}

func saveContract(ctx context.Context, q querier, c royalty.Contract) error {
	prev, err := getContract(ctx, q, c.TenantID, c.ID)
	switch {
	case royalty.IsNotFound(err):
	case err != nil:
		return err
	default:
		var finals int
		err := q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM statements WHERE tenant_id = ? AND contract_id = ? AND status = ?
		`, c.TenantID, c.ID, royalty.StatusFinal).Scan(&finals)
		if err != nil {
			return fmt.Errorf("failed to check final statements: %w", err)
		}
		if finals > 0 && !prev.SameTerms(c) {
			return fmt.Errorf("save contract %s: %w", c.ID, royalty.ErrContractLocked)
		}
	}

	now := time.Now().UTC().Format(timeLayout)
	if c.Version == 0 {
		c.Version = 1
	}
	yearStart := int(c.PeriodConfig.YearStartMonth)
	if yearStart == 0 {
		yearStart = 1
	}
	periodType := c.PeriodConfig.Type
	if periodType == "" {
		periodType = royalty.PeriodSemiannual
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO contracts
		(tenant_id, id, author_id, title_id, tier_mode, advance_amount, advance_recouped,
		 period_type, year_start_month, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			author_id = excluded.author_id,
			title_id = excluded.title_id,
			tier_mode = excluded.tier_mode,
			advance_amount = excluded.advance_amount,
			period_type = excluded.period_type,
			year_start_month = excluded.year_start_month,
			version = contracts.version + 1,
			updated_at = excluded.updated_at
	`,
		c.TenantID, c.ID, c.AuthorID, c.TitleID, c.TierCalculationMode,
		c.AdvanceAmount, c.AdvancePreviouslyRecouped,
		periodType, yearStart, c.Version, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM contract_tiers WHERE tenant_id = ? AND contract_id = ?`, c.TenantID, c.ID); err != nil {
		return fmt.Errorf("failed to replace tiers: %w", err)
	}
	for i, t := range c.Tiers {
		_, err := q.ExecContext(ctx, `
			INSERT INTO contract_tiers (tenant_id, contract_id, position, format, min_quantity, max_quantity, rate)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, c.TenantID, c.ID, i, t.Format, t.MinQuantity, nullInt64(t.MaxQuantity), t.Rate)
		if err != nil {
			return fmt.Errorf("failed to save tier %d: %w", i, err)
		}
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM contract_ownership WHERE tenant_id = ? AND contract_id = ?`, c.TenantID, c.ID); err != nil {
		return fmt.Errorf("failed to replace ownership: %w", err)
	}
	for i, o := range c.Ownership {
		_, err := q.ExecContext(ctx, `
			INSERT INTO contract_ownership (tenant_id, contract_id, position, author_id, percentage)
			VALUES (?, ?, ?, ?, ?)
		`, c.TenantID, c.ID, i, o.AuthorID, o.Percentage)
		if err != nil {
			return fmt.Errorf("failed to save ownership share %d: %w", i, err)
		}
	}
	return nil
}

// GetContract retrieves a contract with its tiers and ownership shares.
func (s *Store) GetContract(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID) (royalty.Contract, error) {
	var c royalty.Contract
	err := s.read(func(q querier) error {
		var err error
		c, err = getContract(ctx, q, tenantID, id)
		return err
	})
	return c, err
}

const contractColumns = `tenant_id, id, author_id, title_id, tier_mode, advance_amount, advance_recouped,
	period_type, year_start_month, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (royalty.Contract, error) {
	var c royalty.Contract
	var yearStart int
	err := row.Scan(&c.TenantID, &c.ID, &c.AuthorID, &c.TitleID, &c.TierCalculationMode,
		&c.AdvanceAmount, &c.AdvancePreviouslyRecouped,
		&c.PeriodConfig.Type, &yearStart, &c.Version)
	c.PeriodConfig.YearStartMonth = time.Month(yearStart)
	return c, err
}

func getContract(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID) (royalty.Contract, error) {
	row := q.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE tenant_id = ? AND id = ?`, tenantID, id)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return royalty.Contract{}, &royalty.NotFoundError{Kind: "contract", ID: string(id)}
	}
	if err != nil {
		return royalty.Contract{}, fmt.Errorf("failed to get contract: %w", err)
	}
	if err := loadTerms(ctx, q, &c); err != nil {
		return royalty.Contract{}, err
	}
	return c, nil
}

func loadTerms(ctx context.Context, q querier, c *royalty.Contract) error {
	rows, err := q.QueryContext(ctx, `
		SELECT format, min_quantity, max_quantity, rate FROM contract_tiers
		WHERE tenant_id = ? AND contract_id = ? ORDER BY position
	`, c.TenantID, c.ID)
	if err != nil {
		return fmt.Errorf("failed to load tiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t royalty.RoyaltyTier
		var maxQty sql.NullInt64
		if err := rows.Scan(&t.Format, &t.MinQuantity, &maxQty, &t.Rate); err != nil {
			return fmt.Errorf("failed to scan tier: %w", err)
		}
		if maxQty.Valid {
			v := maxQty.Int64
			t.MaxQuantity = &v
		}
		c.Tiers = append(c.Tiers, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	owners, err := q.QueryContext(ctx, `
		SELECT author_id, percentage FROM contract_ownership
		WHERE tenant_id = ? AND contract_id = ? ORDER BY position
	`, c.TenantID, c.ID)
	if err != nil {
		return fmt.Errorf("failed to load ownership: %w", err)
	}
	defer owners.Close()

	for owners.Next() {
		var o royalty.OwnershipShare
		if err := owners.Scan(&o.AuthorID, &o.Percentage); err != nil {
			return fmt.Errorf("failed to scan ownership share: %w", err)
		}
		c.Ownership = append(c.Ownership, o)
	}
	return owners.Err()
}

// ListContracts returns every contract of a tenant ordered by id.
func (s *Store) ListContracts(ctx context.Context, tenantID royalty.TenantID) ([]royalty.Contract, error) {
	var out []royalty.Contract
	err := s.read(func(q querier) error {
		var err error
		out, err = listContracts(ctx, q, tenantID)
		return err
	})
	return out, err
}

func listContracts(ctx context.Context, q querier, tenantID royalty.TenantID) ([]royalty.Contract, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	var out []royalty.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Terms are loaded after the cursor closes; the pool has one connection.
	for i := range out {
		if err := loadTerms(ctx, q, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateRecouped moves the recouped total from expected to next.
func (s *Store) UpdateRecouped(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, expected, next royalty.Money) error {
	return s.write(ctx, func(q querier) error { return updateRecouped(ctx, q, tenantID, id, expected, next) })
}

func updateRecouped(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, expected, next royalty.Money) error {
	// Compare as decimals: "400" and "400.00" are the same balance.
	var current royalty.Money
	err := q.QueryRowContext(ctx, `SELECT advance_recouped FROM contracts WHERE tenant_id = ? AND id = ?`, tenantID, id).Scan(&current)
	if err == sql.ErrNoRows {
		return &royalty.NotFoundError{Kind: "contract", ID: string(id)}
	}
	if err != nil {
		return fmt.Errorf("failed to read recouped total: %w", err)
	}
	if !current.Equal(expected) {
		return royalty.ErrConcurrentModification
	}

	res, err := q.ExecContext(ctx, `
		UPDATE contracts SET advance_recouped = ?, version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND advance_recouped = ?
	`, next, time.Now().UTC().Format(timeLayout), tenantID, id, current)
	if err != nil {
		return fmt.Errorf("failed to update recouped total: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return royalty.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// SALES AND RETURNS
// =============================================================================

// AddSales appends sales rows to a contract.
func (s *Store) AddSales(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, rows []royalty.SaleRow) error {
	return s.write(ctx, func(q querier) error { return addSales(ctx, q, tenantID, id, rows) })
}

func addSales(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, rows []royalty.SaleRow) error {
	if err := requireContract(ctx, q, tenantID, id); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := q.ExecContext(ctx, `
			INSERT INTO sales (tenant_id, contract_id, format, quantity, unit_price, revenue, sale_date)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, tenantID, id, r.Format, r.Quantity, nullMoney(r.UnitPrice), nullMoney(r.Revenue), r.SaleDate.String())
		if err != nil {
			return fmt.Errorf("failed to add sale: %w", err)
		}
	}
	return nil
}

// AddReturns appends returns rows to a contract.
func (s *Store) AddReturns(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, rows []royalty.ReturnRow) error {
	return s.write(ctx, func(q querier) error { return addReturns(ctx, q, tenantID, id, rows) })
}

func addReturns(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, rows []royalty.ReturnRow) error {
	if err := requireContract(ctx, q, tenantID, id); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := q.ExecContext(ctx, `
			INSERT INTO returns (tenant_id, contract_id, format, quantity, value, return_date, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, tenantID, id, r.Format, r.Quantity, r.Value, r.Date.String(), r.Status)
		if err != nil {
			return fmt.Errorf("failed to add return: %w", err)
		}
	}
	return nil
}

func requireContract(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM contracts WHERE tenant_id = ? AND id = ?`, tenantID, id).Scan(&one)
	if err == sql.ErrNoRows {
		return &royalty.NotFoundError{Kind: "contract", ID: string(id)}
	}
	return err
}

// SalesInPeriod returns the contract's sales dated within p.
func (s *Store) SalesInPeriod(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.SaleRow, error) {
	var out []royalty.SaleRow
	err := s.read(func(q querier) error {
		var err error
		out, err = salesInPeriod(ctx, q, tenantID, id, p)
		return err
	})
	return out, err
}

func salesInPeriod(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.SaleRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT format, quantity, unit_price, revenue, sale_date FROM sales
		WHERE tenant_id = ? AND contract_id = ? AND sale_date >= ? AND sale_date <= ?
		ORDER BY sale_date, id
	`, tenantID, id, p.StartDate.String(), p.EndDate.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load sales: %w", err)
	}
	defer rows.Close()

	var out []royalty.SaleRow
	for rows.Next() {
		var r royalty.SaleRow
		var unitPrice, revenue sql.NullString
		var date string
		if err := rows.Scan(&r.Format, &r.Quantity, &unitPrice, &revenue, &date); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		if r.UnitPrice, err = parseNullMoney(unitPrice); err != nil {
			return nil, err
		}
		if r.Revenue, err = parseNullMoney(revenue); err != nil {
			return nil, err
		}
		if r.SaleDate, err = royalty.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReturnsInPeriod returns the contract's returns dated within p, whatever
// their status.
func (s *Store) ReturnsInPeriod(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.ReturnRow, error) {
	var out []royalty.ReturnRow
	err := s.read(func(q querier) error {
		var err error
		out, err = returnsInPeriod(ctx, q, tenantID, id, p)
		return err
	})
	return out, err
}

func returnsInPeriod(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.ReturnRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT format, quantity, value, return_date, status FROM returns
		WHERE tenant_id = ? AND contract_id = ? AND return_date >= ? AND return_date <= ?
		ORDER BY return_date, id
	`, tenantID, id, p.StartDate.String(), p.EndDate.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load returns: %w", err)
	}
	defer rows.Close()

	var out []royalty.ReturnRow
	for rows.Next() {
		var r royalty.ReturnRow
		var date string
		if err := rows.Scan(&r.Format, &r.Quantity, &r.Value, &date, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan return: %w", err)
		}
		if r.Date, err = royalty.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// STATEMENTS
// =============================================================================

const statementColumns = `id, tenant_id, contract_id, author_id, title_id, period_start, period_end,
	status, calculations_json, recouped_snapshot, created_at, updated_at, finalized_at`

// SaveDrafts replaces every draft of (contract, period).
func (s *Store) SaveDrafts(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, stmts []royalty.Statement) error {
	return s.write(ctx, func(q querier) error { return saveDrafts(ctx, q, tenantID, id, p, stmts) })
}

func saveDrafts(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, stmts []royalty.Statement) error {
	var finals int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM statements
		WHERE tenant_id = ? AND contract_id = ? AND period_start = ? AND period_end = ? AND status = ?
	`, tenantID, id, p.StartDate.String(), p.EndDate.String(), royalty.StatusFinal).Scan(&finals)
	if err != nil {
		return fmt.Errorf("failed to check final statements: %w", err)
	}
	if finals > 0 {
		return royalty.ErrStatementFinalized
	}

	_, err = q.ExecContext(ctx, `
		DELETE FROM statements
		WHERE tenant_id = ? AND contract_id = ? AND period_start = ? AND period_end = ?
	`, tenantID, id, p.StartDate.String(), p.EndDate.String())
	if err != nil {
		return fmt.Errorf("failed to delete drafts: %w", err)
	}

	for _, st := range stmts {
		calc, err := st.Calculations.MarshalCanonical()
		if err != nil {
			return fmt.Errorf("failed to encode calculations: %w", err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO statements (`+statementColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		`,
			st.ID, st.TenantID, st.ContractID, st.AuthorID, st.TitleID,
			st.Period.StartDate.String(), st.Period.EndDate.String(),
			royalty.StatusDraft, string(calc), st.RecoupedSnapshot,
			st.CreatedAt.UTC().Format(timeLayout), st.UpdatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("failed to save draft %s: %w", st.ID, err)
		}
	}
	return nil
}

// MarkFinal moves the listed drafts to final.
func (s *Store) MarkFinal(ctx context.Context, tenantID royalty.TenantID, ids []royalty.StatementID, at time.Time) error {
	return s.write(ctx, func(q querier) error { return markFinal(ctx, q, tenantID, ids, at) })
}

func markFinal(ctx context.Context, q querier, tenantID royalty.TenantID, ids []royalty.StatementID, at time.Time) error {
	ts := at.UTC().Format(timeLayout)
	for _, id := range ids {
		res, err := q.ExecContext(ctx, `
			UPDATE statements SET status = ?, updated_at = ?, finalized_at = ?
			WHERE tenant_id = ? AND id = ? AND status = ?
		`, royalty.StatusFinal, ts, ts, tenantID, id, royalty.StatusDraft)
		if err != nil {
			return fmt.Errorf("failed to finalize statement: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			continue
		}
		st, err := getStatement(ctx, q, tenantID, id)
		if err != nil {
			return err
		}
		if st.IsFinal() {
			return royalty.ErrStatementFinalized
		}
		return fmt.Errorf("statement %s not updated", id)
	}
	return nil
}

// GetStatement retrieves a statement by id.
func (s *Store) GetStatement(ctx context.Context, tenantID royalty.TenantID, id royalty.StatementID) (royalty.Statement, error) {
	var st royalty.Statement
	err := s.read(func(q querier) error {
		var err error
		st, err = getStatement(ctx, q, tenantID, id)
		return err
	})
	return st, err
}

func getStatement(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.StatementID) (royalty.Statement, error) {
	row := q.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM statements WHERE tenant_id = ? AND id = ?`, tenantID, id)
	st, err := scanStatement(row)
	if err == sql.ErrNoRows {
		return royalty.Statement{}, &royalty.NotFoundError{Kind: "statement", ID: string(id)}
	}
	if err != nil {
		return royalty.Statement{}, fmt.Errorf("failed to get statement: %w", err)
	}
	return st, nil
}

func scanStatement(row rowScanner) (royalty.Statement, error) {
	var st royalty.Statement
	var start, end, calc, createdAt, updatedAt string
	var finalizedAt sql.NullString
	err := row.Scan(&st.ID, &st.TenantID, &st.ContractID, &st.AuthorID, &st.TitleID,
		&start, &end, &st.Status, &calc, &st.RecoupedSnapshot,
		&createdAt, &updatedAt, &finalizedAt)
	if err != nil {
		return st, err
	}
	if st.Period.StartDate, err = royalty.ParseDate(start); err != nil {
		return st, err
	}
	if st.Period.EndDate, err = royalty.ParseDate(end); err != nil {
		return st, err
	}
	if err := json.Unmarshal([]byte(calc), &st.Calculations); err != nil {
		return st, fmt.Errorf("failed to decode calculations of %s: %w", st.ID, err)
	}
	st.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	st.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if finalizedAt.Valid {
		t, err := time.Parse(timeLayout, finalizedAt.String)
		if err == nil {
			st.FinalizedAt = &t
		}
	}
	return st, nil
}

func queryStatements(ctx context.Context, q querier, where string, args ...any) ([]royalty.Statement, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+statementColumns+` FROM statements WHERE `+where+
		` ORDER BY period_start, author_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query statements: %w", err)
	}
	defer rows.Close()

	var out []royalty.Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// StatementsForPeriod returns every statement of (contract, period) ordered by author.
func (s *Store) StatementsForPeriod(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.Statement, error) {
	var out []royalty.Statement
	err := s.read(func(q querier) error {
		var err error
		out, err = statementsForPeriod(ctx, q, tenantID, id, p)
		return err
	})
	return out, err
}

func statementsForPeriod(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.Statement, error) {
	return queryStatements(ctx, q, `tenant_id = ? AND contract_id = ? AND period_start = ? AND period_end = ?`,
		tenantID, id, p.StartDate.String(), p.EndDate.String())
}

// ListStatements returns all statements of a contract.
func (s *Store) ListStatements(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID) ([]royalty.Statement, error) {
	var out []royalty.Statement
	err := s.read(func(q querier) error {
		var err error
		out, err = queryStatements(ctx, q, `tenant_id = ? AND contract_id = ?`, tenantID, id)
		return err
	})
	return out, err
}

// HasDraftBefore reports whether a draft exists for a period ending before the date.
func (s *Store) HasDraftBefore(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) (bool, error) {
	var found bool
	err := s.read(func(q querier) error {
		var err error
		found, err = hasDraftBefore(ctx, q, tenantID, id, before)
		return err
	})
	return found, err
}

func hasDraftBefore(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM statements
		WHERE tenant_id = ? AND contract_id = ? AND status = ? AND period_end < ?
	`, tenantID, id, royalty.StatusDraft, before.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check drafts: %w", err)
	}
	return n > 0, nil
}

// HasFinalAfter reports whether a final statement exists for a period starting after the date.
func (s *Store) HasFinalAfter(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, after royalty.Date) (bool, error) {
	var found bool
	err := s.read(func(q querier) error {
		var err error
		found, err = hasFinalAfter(ctx, q, tenantID, id, after)
		return err
	})
	return found, err
}

func hasFinalAfter(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, after royalty.Date) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM statements
		WHERE tenant_id = ? AND contract_id = ? AND status = ? AND period_start > ?
	`, tenantID, id, royalty.StatusFinal, after.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check later finals: %w", err)
	}
	return n > 0, nil
}

// =============================================================================
// LIFETIME UNIT HISTORY
// =============================================================================

// HasUnclosedSalesBefore reports whether a sale dated before the date lies
// outside every finalized period.
func (s *Store) HasUnclosedSalesBefore(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) (bool, error) {
	var found bool
	err := s.read(func(q querier) error {
		var err error
		found, err = hasUnclosedSalesBefore(ctx, q, tenantID, id, before)
		return err
	})
	return found, err
}

func hasUnclosedSalesBefore(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sales s
		WHERE s.tenant_id = ? AND s.contract_id = ? AND s.sale_date < ?
		  AND NOT EXISTS (
			SELECT 1 FROM finalized_periods f
			WHERE f.tenant_id = s.tenant_id AND f.contract_id = s.contract_id
			  AND s.sale_date >= f.period_start AND s.sale_date <= f.period_end
		  )
	`, tenantID, id, before.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check unclosed sales: %w", err)
	}
	return n > 0, nil
}

// SavePeriodTotals records a finalized period's units per format, once.
func (s *Store) SavePeriodTotals(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, totals []royalty.PeriodSalesSummary) error {
	return s.write(ctx, func(q querier) error { return savePeriodTotals(ctx, q, tenantID, id, p, totals) })
}

func savePeriodTotals(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, totals []royalty.PeriodSalesSummary) error {
	start, end := p.StartDate.String(), p.EndDate.String()
	_, err := q.ExecContext(ctx, `
		INSERT INTO finalized_periods (tenant_id, contract_id, period_start, period_end)
		VALUES (?, ?, ?, ?)
	`, tenantID, id, start, end)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("period totals for %s %s: %w", id, p, royalty.ErrStatementFinalized)
		}
		return fmt.Errorf("failed to record finalized period: %w", err)
	}
	for _, t := range totals {
		_, err := q.ExecContext(ctx, `
			INSERT INTO period_format_totals
			(tenant_id, contract_id, period_start, period_end, format, total_quantity, total_revenue)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, tenantID, id, start, end, t.Format, t.TotalQuantity, t.TotalRevenue)
		if err != nil {
			return fmt.Errorf("failed to save period totals: %w", err)
		}
	}
	return nil
}

// LifetimeUnitsBefore sums finalized units for periods ending before the date.
func (s *Store) LifetimeUnitsBefore(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) ([]royalty.LifetimeSalesSnapshot, error) {
	var out []royalty.LifetimeSalesSnapshot
	err := s.read(func(q querier) error {
		var err error
		out, err = lifetimeUnitsBefore(ctx, q, tenantID, id, before)
		return err
	})
	return out, err
}

func lifetimeUnitsBefore(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) ([]royalty.LifetimeSalesSnapshot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT format, SUM(total_quantity) FROM period_format_totals
		WHERE tenant_id = ? AND contract_id = ? AND period_end < ?
		GROUP BY format
	`, tenantID, id, before.String())
	if err != nil {
		return nil, fmt.Errorf("failed to sum lifetime units: %w", err)
	}
	defer rows.Close()

	units := map[royalty.Format]int64{}
	var formats []royalty.Format
	for rows.Next() {
		var f royalty.Format
		var n int64
		if err := rows.Scan(&f, &n); err != nil {
			return nil, fmt.Errorf("failed to scan lifetime units: %w", err)
		}
		units[f] = n
		formats = append(formats, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	royalty.SortFormats(formats)
	out := make([]royalty.LifetimeSalesSnapshot, 0, len(formats))
	for _, f := range formats {
		out = append(out, royalty.LifetimeSalesSnapshot{Format: f, UnitsBeforePeriod: units[f]})
	}
	return out, nil
}

// =============================================================================
// RECOUPMENT LEDGER - Append-only
// =============================================================================

// AppendRecoupment adds an entry to the ledger.
func (s *Store) AppendRecoupment(ctx context.Context, e royalty.RecoupmentEntry) error {
	return s.write(ctx, func(q querier) error { return appendRecoupment(ctx, q, e) })
}

func appendRecoupment(ctx context.Context, q querier, e royalty.RecoupmentEntry) error {
	ids, err := json.Marshal(e.StatementIDs)
	if err != nil {
		return err
	}
	recordedAt := e.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO recoupment_entries
		(id, tenant_id, contract_id, period_start, period_end, amount, recouped_before, recouped_after,
		 statement_ids_json, idempotency_key, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.TenantID, e.ContractID, e.Period.StartDate.String(), e.Period.EndDate.String(),
		e.Amount, e.RecoupedBefore, e.RecoupedAfter,
		string(ids), nullString(e.IdempotencyKey), recordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return royalty.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append recoupment entry: %w", err)
	}
	return nil
}

// RecoupmentEntries returns a contract's entries in the order they were recorded.
func (s *Store) RecoupmentEntries(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID) ([]royalty.RecoupmentEntry, error) {
	var out []royalty.RecoupmentEntry
	err := s.read(func(q querier) error {
		var err error
		out, err = recoupmentEntries(ctx, q, tenantID, id)
		return err
	})
	return out, err
}

func recoupmentEntries(ctx context.Context, q querier, tenantID royalty.TenantID, id royalty.ContractID) ([]royalty.RecoupmentEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, tenant_id, contract_id, period_start, period_end, amount, recouped_before, recouped_after,
		       statement_ids_json, idempotency_key, recorded_at
		FROM recoupment_entries
		WHERE tenant_id = ? AND contract_id = ?
		ORDER BY rowid
	`, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load recoupment entries: %w", err)
	}
	defer rows.Close()

	var out []royalty.RecoupmentEntry
	for rows.Next() {
		var e royalty.RecoupmentEntry
		var start, end, ids, recordedAt string
		var key sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ContractID, &start, &end,
			&e.Amount, &e.RecoupedBefore, &e.RecoupedAfter, &ids, &key, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recoupment entry: %w", err)
		}
		if e.Period.StartDate, err = royalty.ParseDate(start); err != nil {
			return nil, err
		}
		if e.Period.EndDate, err = royalty.ParseDate(end); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &e.StatementIDs); err != nil {
			return nil, err
		}
		e.IdempotencyKey = key.String
		e.RecordedAt, _ = time.Parse(timeLayout, recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (royalty.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store royalty.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q querier) error {
		return fn(&txStore{q: q})
	})
}

// txStore routes every call through the open transaction.
type txStore struct {
	q querier
}

func (ts *txStore) SaveContract(ctx context.Context, c royalty.Contract) error {
	return saveContract(ctx, ts.q, c)
}

func (ts *txStore) GetContract(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID) (royalty.Contract, error) {
	return getContract(ctx, ts.q, tenantID, id)
}

func (ts *txStore) ListContracts(ctx context.Context, tenantID royalty.TenantID) ([]royalty.Contract, error) {
	return listContracts(ctx, ts.q, tenantID)
}

func (ts *txStore) UpdateRecouped(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, expected, next royalty.Money) error {
	return updateRecouped(ctx, ts.q, tenantID, id, expected, next)
}

func (ts *txStore) AddSales(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, rows []royalty.SaleRow) error {
	return addSales(ctx, ts.q, tenantID, id, rows)
}

func (ts *txStore) AddReturns(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, rows []royalty.ReturnRow) error {
	return addReturns(ctx, ts.q, tenantID, id, rows)
}

func (ts *txStore) SalesInPeriod(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.SaleRow, error) {
	return salesInPeriod(ctx, ts.q, tenantID, id, p)
}

func (ts *txStore) ReturnsInPeriod(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.ReturnRow, error) {
	return returnsInPeriod(ctx, ts.q, tenantID, id, p)
}

func (ts *txStore) SaveDrafts(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, stmts []royalty.Statement) error {
	return saveDrafts(ctx, ts.q, tenantID, id, p, stmts)
}

func (ts *txStore) MarkFinal(ctx context.Context, tenantID royalty.TenantID, ids []royalty.StatementID, at time.Time) error {
	return markFinal(ctx, ts.q, tenantID, ids, at)
}

func (ts *txStore) GetStatement(ctx context.Context, tenantID royalty.TenantID, id royalty.StatementID) (royalty.Statement, error) {
	return getStatement(ctx, ts.q, tenantID, id)
}

func (ts *txStore) StatementsForPeriod(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period) ([]royalty.Statement, error) {
	return statementsForPeriod(ctx, ts.q, tenantID, id, p)
}

func (ts *txStore) ListStatements(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID) ([]royalty.Statement, error) {
	return queryStatements(ctx, ts.q, `tenant_id = ? AND contract_id = ?`, tenantID, id)
}

func (ts *txStore) HasDraftBefore(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) (bool, error) {
	return hasDraftBefore(ctx, ts.q, tenantID, id, before)
}

func (ts *txStore) HasFinalAfter(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, after royalty.Date) (bool, error) {
	return hasFinalAfter(ctx, ts.q, tenantID, id, after)
}

func (ts *txStore) HasUnclosedSalesBefore(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) (bool, error) {
	return hasUnclosedSalesBefore(ctx, ts.q, tenantID, id, before)
}

func (ts *txStore) SavePeriodTotals(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, totals []royalty.PeriodSalesSummary) error {
	return savePeriodTotals(ctx, ts.q, tenantID, id, p, totals)
}

func (ts *txStore) LifetimeUnitsBefore(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, before royalty.Date) ([]royalty.LifetimeSalesSnapshot, error) {
	return lifetimeUnitsBefore(ctx, ts.q, tenantID, id, before)
}

func (ts *txStore) AppendRecoupment(ctx context.Context, e royalty.RecoupmentEntry) error {
	return appendRecoupment(ctx, ts.q, e)
}

func (ts *txStore) RecoupmentEntries(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID) ([]royalty.RecoupmentEntry, error) {
	return recoupmentEntries(ctx, ts.q, tenantID, id)
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullMoney(m *royalty.Money) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: m.String(), Valid: true}
}

func parseNullMoney(s sql.NullString) (*royalty.Money, error) {
	if !s.Valid {
		return nil, nil
	}
	m, err := royalty.NewMoney(s.String)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
