/*
batch.go - Parallel statement runs and the period-end scheduler

PURPOSE:
  Generates (and optionally finalizes) statements for many contracts at once.
  Contracts are independent and run in parallel; periods of one contract are
  not, because a lifetime-mode period reads the unit totals and recouped
  advance committed by the periods before it.

DESIGN:
  - One worker per contract, bounded by Concurrency (errgroup.SetLimit)
  - Each contract runs under lock.ContractKey, so two runners (or two server
    instances sharing Redis) never interleave periods of one contract
  - Periods are walked oldest first; in finalize mode each period is
    finalized before the next one is generated
  - A failure stops that contract only; the other contracts keep going

PERIOD OUTCOMES:
  generated   drafts written (and finalized when requested)
  skipped     no sales or returns in the period, or already final

SCHEDULER:
  Start runs once immediately, then every Interval. Each tick regenerates
  the drafts of the most recently closed period of every contract of Tenant,
  so late sales rows are picked up until someone finalizes.

SEE ALSO:
  - royalty/service.go: Generate and Finalize
  - lock/lock.go: Locker implementations
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/royalty-engine/lock"
	"github.com/warp/royalty-engine/royalty"
)

// BatchObserver records per-contract batch outcomes.
type BatchObserver interface {
	BatchContract(outcome string)
}

// BatchRequest selects the contracts and date range of a run. Every period
// overlapping [From, To] is processed.
type BatchRequest struct {
	TenantID    royalty.TenantID
	ContractIDs []royalty.ContractID // empty: every contract of the tenant
	From        royalty.Date
	To          royalty.Date
	Finalize    bool
}

// PeriodResult is one period of one contract.
type PeriodResult struct {
	Period     royalty.Period `json:"period"`
	Statements int            `json:"statements"`
	NetPayable royalty.Money  `json:"net_payable"`
	Finalized  bool           `json:"finalized"`
	Skipped    string         `json:"skipped,omitempty"`
}

// ContractResult is the outcome of one contract.
type ContractResult struct {
	ContractID royalty.ContractID `json:"contract_id"`
	Outcome    string             `json:"outcome"`
	Error      string             `json:"error,omitempty"`
	Periods    []PeriodResult     `json:"periods"`
}

// BatchResult summarizes a run. Contracts keep the request order.
type BatchResult struct {
	Contracts []ContractResult `json:"contracts"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// BatchRunner runs statement generation across contracts.
type BatchRunner struct {
	Service     *royalty.Service
	Contracts   royalty.ContractStore
	Locker      lock.Locker
	LockTTL     time.Duration
	Concurrency int
	Metrics     BatchObserver // optional
	Log         zerolog.Logger

	// Scheduler settings
	Interval time.Duration
	Tenant   royalty.TenantID
	Now      func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBatchRunner creates a runner with an in-process lock.
func NewBatchRunner(service *royalty.Service, contracts royalty.ContractStore, logger zerolog.Logger) *BatchRunner {
	return &BatchRunner{
		Service:     service,
		Contracts:   contracts,
		Locker:      lock.NewLocal(),
		LockTTL:     30 * time.Second,
		Concurrency: 4,
		Log:         logger.With().Str("component", "batch").Logger(),
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run processes every selected contract and reports per-contract results.
// The returned error is non-nil only when the contract list itself cannot be
// resolved or ctx ends.
func (b *BatchRunner) Run(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if req.To.Before(req.From) {
		return BatchResult{}, royalty.ErrInvalidPeriod
	}
	contracts, err := b.resolve(ctx, req.TenantID, req.ContractIDs)
	if err != nil {
		return BatchResult{}, err
	}
	return b.runContracts(ctx, req.TenantID, contracts, req.Finalize, func(c royalty.Contract) []royalty.Period {
		return c.PeriodConfig.PeriodsBetween(req.From, req.To)
	})
}

func (b *BatchRunner) resolve(ctx context.Context, tenantID royalty.TenantID, ids []royalty.ContractID) ([]royalty.Contract, error) {
	if len(ids) == 0 {
		return b.Contracts.ListContracts(ctx, tenantID)
	}
	contracts := make([]royalty.Contract, 0, len(ids))
	for _, id := range ids {
		c, err := b.Contracts.GetContract(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}

func (b *BatchRunner) runContracts(ctx context.Context, tenantID royalty.TenantID, contracts []royalty.Contract, finalize bool, periodsFor func(royalty.Contract) []royalty.Period) (BatchResult, error) {
	results := make([]ContractResult, len(contracts))

	g, gctx := errgroup.WithContext(ctx)
	limit := b.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, c := range contracts {
		i, c := i, c
		g.Go(func() error {
			results[i] = b.runContract(gctx, tenantID, c, periodsFor(c), finalize)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}

	out := BatchResult{Contracts: results}
	for _, r := range results {
		if r.Error == "" {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out, nil
}

func (b *BatchRunner) runContract(ctx context.Context, tenantID royalty.TenantID, c royalty.Contract, periods []royalty.Period, finalize bool) ContractResult {
	result := ContractResult{ContractID: c.ID, Periods: []PeriodResult{}}

	err := b.Locker.WithLock(ctx, lock.ContractKey(string(tenantID), string(c.ID)), b.LockTTL, func(ctx context.Context) error {
		for _, p := range periods {
			pr, err := b.runPeriod(ctx, tenantID, c.ID, p, finalize)
			if err != nil {
				return err
			}
			result.Periods = append(result.Periods, pr)
		}
		return nil
	})

	result.Outcome = royalty.Outcome(err)
	if err != nil {
		result.Error = err.Error()
		b.Log.Warn().Err(err).
			Str("tenant_id", string(tenantID)).
			Str("contract_id", string(c.ID)).
			Int("periods_done", len(result.Periods)).
			Msg("batch contract failed")
	} else {
		b.Log.Debug().
			Str("tenant_id", string(tenantID)).
			Str("contract_id", string(c.ID)).
			Int("periods", len(result.Periods)).
			Msg("batch contract done")
	}
	if b.Metrics != nil {
		b.Metrics.BatchContract(result.Outcome)
	}
	return result
}

func (b *BatchRunner) runPeriod(ctx context.Context, tenantID royalty.TenantID, id royalty.ContractID, p royalty.Period, finalize bool) (PeriodResult, error) {
	pr := PeriodResult{Period: p, NetPayable: royalty.Zero}

	stmts, err := b.Service.Generate(ctx, tenantID, id, p)
	var nf *royalty.NotFoundError
	switch {
	case errors.As(err, &nf) && nf.Kind == "sales":
		pr.Skipped = "no activity"
		return pr, nil
	case errors.Is(err, royalty.ErrStatementFinalized):
		pr.Skipped = "already final"
		pr.Finalized = true
		return pr, nil
	case err != nil:
		return pr, err
	}

	if finalize {
		if stmts, err = b.Service.Finalize(ctx, tenantID, id, p); err != nil {
			return pr, err
		}
		pr.Finalized = true
	}
	pr.Statements = len(stmts)
	for _, s := range stmts {
		pr.NetPayable = pr.NetPayable.Add(s.Calculations.NetPayable)
	}
	return pr, nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Start begins the period-end ticker. A zero Interval disables it.
func (b *BatchRunner) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Interval <= 0 {
		b.Log.Info().Msg("scheduler disabled")
		return
	}
	if b.ticker != nil {
		return
	}

	b.ticker = time.NewTicker(b.Interval)
	b.stop = make(chan struct{})
	b.wg.Add(1)
	go b.loop()

	b.Log.Info().Dur("interval", b.Interval).Str("tenant_id", string(b.Tenant)).Msg("scheduler started")
}

// Stop halts the ticker and waits for a running tick to finish.
func (b *BatchRunner) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ticker == nil {
		return
	}
	b.ticker.Stop()
	close(b.stop)
	b.wg.Wait()
	b.ticker = nil
	b.Log.Info().Msg("scheduler stopped")
}

func (b *BatchRunner) loop() {
	defer b.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-b.stop
		cancel()
	}()

	b.tick(ctx)
	for {
		select {
		case <-b.ticker.C:
			b.tick(ctx)
		case <-b.stop:
			return
		}
	}
}

func (b *BatchRunner) tick(ctx context.Context) {
	res, err := b.RunClosedPeriods(ctx, b.Tenant)
	if err != nil {
		b.Log.Error().Err(err).Msg("scheduled run failed")
		return
	}
	b.Log.Info().
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Msg("scheduled run complete")
}

// RunClosedPeriods generates drafts for the most recently closed period of
// every contract of the tenant. Each contract uses its own period calendar.
func (b *BatchRunner) RunClosedPeriods(ctx context.Context, tenantID royalty.TenantID) (BatchResult, error) {
	contracts, err := b.Contracts.ListContracts(ctx, tenantID)
	if err != nil {
		return BatchResult{}, err
	}
	today := royalty.DateOf(b.Now())
	return b.runContracts(ctx, tenantID, contracts, false, func(c royalty.Contract) []royalty.Period {
		return []royalty.Period{c.PeriodConfig.Previous(c.PeriodConfig.PeriodFor(today))}
	})
}
