/*
service.go - Statement generation and finalization

PURPOSE:
  Connects the pure composer to persistence. Generate writes drafts;
  Finalize closes a period and is the only place the recouped advance moves.

LIFECYCLE:
  (none) --Generate--> draft --Generate--> draft (overwritten)
                         |
                         +--Finalize--> final (immutable)

FINALIZE (one transaction):
  1. Load the drafts of (contract, period)
  2. Check each draft was computed from the contract's current recouped value
  3. Conditionally update AdvancePreviouslyRecouped
  4. Mark drafts final and record the period's unit totals
  5. Append the recoupment ledger entry
  Any failure rolls everything back.

ORDERING:
  Lifetime units count finalized periods only, so Lifetime-mode generation
  refuses to run while an earlier period still has a draft or has sales
  outside every finalized period, and once a later period is final. Batch
  callers walk periods in chronological order and finalize each before the
  next.
*/
package royalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Observer receives service outcomes for metrics.
type Observer interface {
	StatementsGenerated(mode TierCalculationMode, outcome string, count int, d time.Duration)
	StatementsFinalized(outcome string, count int)
}

type nopObserver struct{}

func (nopObserver) StatementsGenerated(TierCalculationMode, string, int, time.Duration) {}
func (nopObserver) StatementsFinalized(string, int)                                     {}

// Outcome labels reported to the Observer.
const (
	OutcomeOK        = "ok"
	OutcomeConfig    = "configuration_error"
	OutcomeNotFound  = "not_found"
	OutcomeConflict  = "conflict"
	OutcomeInvariant = "invariant_violation"
	OutcomeFailed    = "error"
)

// Outcome classifies err for metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case IsConfiguration(err):
		return OutcomeConfig
	case IsNotFound(err):
		return OutcomeNotFound
	case IsClientError(err), IsRetryable(err):
		return OutcomeConflict
	case errors.Is(err, ErrInvariantViolation):
		return OutcomeInvariant
	default:
		return OutcomeFailed
	}
}

// Service generates and finalizes statements.
type Service struct {
	store    TxStore
	ledger   *Ledger
	log      zerolog.Logger
	observer Observer

	Now   func() time.Time
	NewID func() string
}

// NewService wires a service. A nil observer disables metrics.
func NewService(store TxStore, logger zerolog.Logger, observer Observer) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Service{
		store:    store,
		ledger:   NewLedger(store),
		log:      logger.With().Str("component", "statements").Logger(),
		observer: observer,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    uuid.NewString,
	}
}

// Ledger returns the recoupment ledger backing the service.
func (s *Service) Ledger() *Ledger { return s.ledger }

// Preview computes the statements for a period without persisting anything.
func (s *Service) Preview(ctx context.Context, tenantID TenantID, contractID ContractID, period Period) ([]AuthorCalculations, error) {
	c, input, err := s.loadInput(ctx, s.store, tenantID, contractID, period)
	if err != nil {
		return nil, err
	}
	_, authors, err := ComposeForAuthors(input)
	if err != nil {
		return nil, withContract(err, c.ID)
	}
	return authors, nil
}

// Generate computes the period's statements and stores them as drafts, one
// per author. Existing drafts for the period are overwritten in place.
func (s *Service) Generate(ctx context.Context, tenantID TenantID, contractID ContractID, period Period) ([]Statement, error) {
	start := time.Now()
	mode := TierCalculationMode("")

	var out []Statement
	err := s.store.WithTx(ctx, func(st Store) error {
		existing, err := st.StatementsForPeriod(ctx, tenantID, contractID, period)
		if err != nil {
			return err
		}
		drafts := map[AuthorID]Statement{}
		for _, e := range existing {
			if e.IsFinal() {
				return fmt.Errorf("generate %s %s: %w", contractID, period, ErrStatementFinalized)
			}
			drafts[e.AuthorID] = e
		}

		c, input, err := s.loadInput(ctx, st, tenantID, contractID, period)
		if err != nil {
			return err
		}
		mode = c.TierCalculationMode

		_, authors, err := ComposeForAuthors(input)
		if err != nil {
			return withContract(err, c.ID)
		}

		now := s.Now()
		out = make([]Statement, 0, len(authors))
		for _, a := range authors {
			stmt := Statement{
				ID:               StatementID(s.NewID()),
				TenantID:         tenantID,
				ContractID:       contractID,
				AuthorID:         a.AuthorID,
				TitleID:          c.TitleID,
				Period:           period,
				Status:           StatusDraft,
				Calculations:     a.Calculations,
				RecoupedSnapshot: c.AdvancePreviouslyRecouped,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if prev, ok := drafts[a.AuthorID]; ok {
				stmt.ID = prev.ID
				stmt.CreatedAt = prev.CreatedAt
			}
			out = append(out, stmt)
		}
		return st.SaveDrafts(ctx, tenantID, contractID, period, out)
	})

	s.observer.StatementsGenerated(mode, Outcome(err), len(out), time.Since(start))
	if err != nil {
		s.log.Warn().Err(err).
			Str("tenant_id", string(tenantID)).
			Str("contract_id", string(contractID)).
			Str("period", period.String()).
			Msg("statement generation failed")
		return nil, err
	}

	for _, stmt := range out {
		s.log.Info().
			Str("tenant_id", string(tenantID)).
			Str("contract_id", string(contractID)).
			Str("author_id", string(stmt.AuthorID)).
			Str("period", period.String()).
			Str("mode", string(mode)).
			Str("net_payable", stmt.Calculations.NetPayable.StringFixed2()).
			Msg("statement draft saved")
	}
	return out, nil
}

// Finalize closes (contract, period): drafts become final and the advance
// recoupment is applied to the contract, atomically.
func (s *Service) Finalize(ctx context.Context, tenantID TenantID, contractID ContractID, period Period) ([]Statement, error) {
	var out []Statement
	var entry RecoupmentEntry

	err := s.store.WithTx(ctx, func(st Store) error {
		c, err := st.GetContract(ctx, tenantID, contractID)
		if err != nil {
			return err
		}
		stmts, err := st.StatementsForPeriod(ctx, tenantID, contractID, period)
		if err != nil {
			return err
		}
		if len(stmts) == 0 {
			return fmt.Errorf("finalize %s %s: %w", contractID, period, ErrNoDraft)
		}

		recouped := Zero
		ids := make([]StatementID, 0, len(stmts))
		for _, stmt := range stmts {
			if stmt.IsFinal() {
				return fmt.Errorf("finalize %s %s: %w", contractID, period, ErrStatementFinalized)
			}
			if !stmt.RecoupedSnapshot.Equal(c.AdvancePreviouslyRecouped) {
				return fmt.Errorf("draft %s computed from recouped %s, contract now at %s: %w",
					stmt.ID, stmt.RecoupedSnapshot, c.AdvancePreviouslyRecouped, ErrConcurrentModification)
			}
			if err := stmt.Calculations.CheckIdentity(); err != nil {
				return err
			}
			recouped = recouped.Add(stmt.Calculations.AdvanceRecoupment.ThisPeriodsRecoupment)
			ids = append(ids, stmt.ID)
		}

		next, err := NewRecoupmentTracker(c).ApplyFinalized(recouped)
		if err != nil {
			return err
		}
		if err := st.UpdateRecouped(ctx, tenantID, contractID, c.AdvancePreviouslyRecouped, next); err != nil {
			return err
		}

		now := s.Now()
		if err := st.MarkFinal(ctx, tenantID, ids, now); err != nil {
			return err
		}
		if err := st.SavePeriodTotals(ctx, tenantID, contractID, period, periodTotals(stmts[0].Calculations)); err != nil {
			return err
		}

		entry = RecoupmentEntry{
			ID:             s.NewID(),
			TenantID:       tenantID,
			ContractID:     contractID,
			Period:         period,
			Amount:         recouped,
			RecoupedBefore: c.AdvancePreviouslyRecouped,
			RecoupedAfter:  next,
			StatementIDs:   ids,
			IdempotencyKey: RecoupmentKey(contractID, period),
			RecordedAt:     now,
		}
		if err := NewLedger(st).Append(ctx, entry); err != nil {
			return err
		}

		out = make([]Statement, len(stmts))
		for i, stmt := range stmts {
			stmt.Status = StatusFinal
			stmt.UpdatedAt = now
			at := now
			stmt.FinalizedAt = &at
			out[i] = stmt
		}
		return nil
	})

	s.observer.StatementsFinalized(Outcome(err), len(out))
	if err != nil {
		s.log.Warn().Err(err).
			Str("tenant_id", string(tenantID)).
			Str("contract_id", string(contractID)).
			Str("period", period.String()).
			Msg("statement finalization failed")
		return nil, err
	}

	s.log.Info().
		Str("tenant_id", string(tenantID)).
		Str("contract_id", string(contractID)).
		Str("period", period.String()).
		Int("statements", len(out)).
		Str("recouped", entry.Amount.StringFixed2()).
		Str("recouped_total", entry.RecoupedAfter.StringFixed2()).
		Msg("statements finalized")
	return out, nil
}

// loadInput reads everything Compose needs. Missing contract or title data,
// and a period with no sales or returns at all, are NotFoundErrors.
func (s *Service) loadInput(ctx context.Context, st Store, tenantID TenantID, contractID ContractID, period Period) (Contract, StatementInput, error) {
	if period.EndDate.Before(period.StartDate) {
		return Contract{}, StatementInput{}, ErrInvalidPeriod
	}
	c, err := st.GetContract(ctx, tenantID, contractID)
	if err != nil {
		return Contract{}, StatementInput{}, err
	}
	if c.TitleID == "" {
		return Contract{}, StatementInput{}, &NotFoundError{Kind: "title", ID: string(contractID)}
	}

	input := StatementInput{Contract: c, Period: period}
	if input.Sales, err = st.SalesInPeriod(ctx, tenantID, contractID, period); err != nil {
		return Contract{}, StatementInput{}, err
	}
	if input.Returns, err = st.ReturnsInPeriod(ctx, tenantID, contractID, period); err != nil {
		return Contract{}, StatementInput{}, err
	}
	if len(input.Sales) == 0 && len(input.Returns) == 0 {
		return Contract{}, StatementInput{}, &NotFoundError{Kind: "sales", ID: string(contractID) + " " + period.String()}
	}

	if c.TierCalculationMode == ModeLifetime {
		if err := checkLifetimeOrder(ctx, st, tenantID, contractID, period); err != nil {
			return Contract{}, StatementInput{}, err
		}
		if input.Lifetime, err = st.LifetimeUnitsBefore(ctx, tenantID, contractID, period.StartDate); err != nil {
			return Contract{}, StatementInput{}, err
		}
	}
	return c, input, nil
}

// checkLifetimeOrder keeps lifetime windows cumulative: every earlier sale
// must sit in a finalized period, and no later period may be final yet.
func checkLifetimeOrder(ctx context.Context, st Store, tenantID TenantID, contractID ContractID, period Period) error {
	pending, err := st.HasDraftBefore(ctx, tenantID, contractID, period.StartDate)
	if err != nil {
		return err
	}
	if pending {
		return fmt.Errorf("generate %s %s: earlier draft open: %w", contractID, period, ErrPriorPeriodNotFinalized)
	}
	unclosed, err := st.HasUnclosedSalesBefore(ctx, tenantID, contractID, period.StartDate)
	if err != nil {
		return err
	}
	if unclosed {
		return fmt.Errorf("generate %s %s: earlier sales outside any finalized period: %w", contractID, period, ErrPriorPeriodNotFinalized)
	}
	later, err := st.HasFinalAfter(ctx, tenantID, contractID, period.StartDate)
	if err != nil {
		return err
	}
	if later {
		return fmt.Errorf("generate %s %s: %w", contractID, period, ErrLaterPeriodFinalized)
	}
	return nil
}

// periodTotals extracts per-format unit totals. Quantities are never split,
// so any author's statement carries the title's totals.
func periodTotals(calc StatementCalculations) []PeriodSalesSummary {
	out := make([]PeriodSalesSummary, 0, len(calc.FormatBreakdowns))
	for _, fb := range calc.FormatBreakdowns {
		out = append(out, PeriodSalesSummary{
			Format:        fb.Format,
			TotalQuantity: fb.TotalQuantity,
			TotalRevenue:  fb.TotalRevenue,
		})
	}
	return out
}
