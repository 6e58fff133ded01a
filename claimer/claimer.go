// Package claimer runs the earn authority's claim batch: it settles every
// pending earner of the open cycle and then closes the cycle.
package claimer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/history"
	"github.com/m0-foundation/solana-m/logger"
	"github.com/m0-foundation/solana-m/metrics"
	"github.com/m0-foundation/solana-m/retry"
)

const DefaultConcurrency = 4

// Ledger is implemented by *earn.Engine and *solprogram.EarnClient.
type Ledger interface {
	Global(ctx context.Context) (*earn.Global, error)
	PendingEarners(ctx context.Context) ([]*earn.Earner, error)
	SimulateClaims(ctx context.Context, balances map[solana.PublicKey]uint64) ([]earn.RewardsClaim, error)
	ClaimFor(ctx context.Context, signer, tokenAccount solana.PublicKey, snapshotBalance uint64) (*earn.RewardsClaim, error)
	CompleteClaims(ctx context.Context, signer solana.PublicKey) error
}

// BalanceSource yields the snapshot balance of a token account.
type BalanceSource interface {
	Balance(ctx context.Context, address solana.PublicKey) (uint64, error)
}

type Config struct {
	Ledger    Ledger
	Balances  BalanceSource
	Authority solana.PublicKey
	// Concurrency bounds balance reads and claim submissions.
	Concurrency int
	// RatePerSecond limits claim submissions. Zero means unlimited.
	RatePerSecond float64
	// CompleteAfter closes the cycle once every earner is settled.
	CompleteAfter bool
	Retry         retry.Config
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

// Report summarizes one batch.
type Report struct {
	RunID     string              `json:"run_id"`
	Index     string              `json:"index,omitempty"`
	Claimed   int                 `json:"claimed"`
	Skipped   int                 `json:"skipped"`
	Failed    int                 `json:"failed"`
	Rewards   uint64              `json:"rewards"`
	Fees      uint64              `json:"fees"`
	Completed bool                `json:"completed"`
	Claims    []earn.RewardsClaim `json:"-"`
}

type Runner struct {
	ledger        Ledger
	balances      BalanceSource
	authority     solana.PublicKey
	concurrency   int
	limiter       *rate.Limiter
	completeAfter bool
	retry         retry.Config
	clock         clockwork.Clock
	logger        *slog.Logger
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Ledger == nil || cfg.Balances == nil {
		return nil, errors.New("claimer: ledger and balance source are required")
	}
	if cfg.Authority.IsZero() {
		return nil, errors.New("claimer: earn authority is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Runner{
		ledger:        cfg.Ledger,
		balances:      cfg.Balances,
		authority:     cfg.Authority,
		concurrency:   cfg.Concurrency,
		limiter:       rate.NewLimiter(limit, 1),
		completeAfter: cfg.CompleteAfter,
		retry:         cfg.Retry,
		clock:         cfg.Clock,
		logger:        logger.OrDiscard(cfg.Logger),
	}, nil
}

// Run executes one batch. A closed cycle is a no-op. Balance reads and the
// up front simulation abort the batch on error; individual claim failures
// are counted and leave the cycle open.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	ctx = history.WithRunID(ctx, report.RunID)
	log := r.logger.With(slog.String("run_id", report.RunID))

	start := r.clock.Now()
	defer func() {
		metrics.ClaimBatchDuration.Observe(r.clock.Since(start).Seconds())
	}()

	g, err := r.ledger.Global(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load global: %w", err)
	}
	report.Index = g.Index.Dec()
	if g.ClaimComplete {
		log.Info("no open claim cycle", slog.String("index", report.Index))
		return report, nil
	}

	pending, err := r.ledger.PendingEarners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending earners: %w", err)
	}
	log.Info("claim batch started",
		slog.String("index", report.Index),
		slog.Int("pending", len(pending)),
		slog.Uint64("remaining_yield", g.Remaining()),
	)

	balances, err := r.snapshot(ctx, pending)
	if err != nil {
		log.Error("balance snapshot failed", slog.String("error", err.Error()))
		return nil, err
	}

	planned, err := r.ledger.SimulateClaims(ctx, balances)
	if err != nil {
		log.Error("claim simulation failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to simulate claims: %w", err)
	}
	log.Debug("claims simulated", slog.Int("claims", len(planned)))

	r.submit(ctx, log, planned, balances, report)

	if r.completeAfter && report.Failed == 0 {
		err := retry.Do(ctx, r.retry, func() error {
			return r.ledger.CompleteClaims(ctx, r.authority)
		})
		if err != nil {
			return report, fmt.Errorf("failed to complete claims: %w", err)
		}
		report.Completed = true
	}

	log.Info("claim batch finished",
		slog.Int("claimed", report.Claimed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Uint64("rewards", report.Rewards),
		slog.Uint64("fees", report.Fees),
		slog.Bool("completed", report.Completed),
		slog.Duration("elapsed", r.clock.Since(start)),
	)
	return report, nil
}

// snapshot reads the balance of every pending earner's token account.
func (r *Runner) snapshot(ctx context.Context, pending []*earn.Earner) (map[solana.PublicKey]uint64, error) {
	var mu sync.Mutex
	balances := make(map[solana.PublicKey]uint64, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, earner := range pending {
		address := earner.UserTokenAccount
		g.Go(func() error {
			var balance uint64
			err := retry.Do(gctx, r.retry, func() error {
				var err error
				balance, err = r.balances.Balance(gctx, address)
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to read balance of %s: %w", address, err)
			}
			mu.Lock()
			balances[address] = balance
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return balances, nil
}

// submit settles every planned claim. It never aborts early.
func (r *Runner) submit(ctx context.Context, log *slog.Logger, planned []earn.RewardsClaim, balances map[solana.PublicKey]uint64, report *Report) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for _, plan := range planned {
		tokenAccount := plan.TokenAccount
		g.Go(func() error {
			if err := r.limiter.Wait(ctx); err != nil {
				mu.Lock()
				report.Failed++
				mu.Unlock()
				return nil
			}

			var claim *earn.RewardsClaim
			err := retry.Do(ctx, r.retry, func() error {
				var err error
				claim, err = r.ledger.ClaimFor(ctx, r.authority, tokenAccount, balances[tokenAccount])
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Claimed++
				report.Rewards += claim.Amount
				report.Fees += claim.Fee
				report.Claims = append(report.Claims, *claim)
				log.Debug("claimed",
					slog.String("token_account", tokenAccount.String()),
					slog.Uint64("amount", claim.Amount),
					slog.Uint64("fee", claim.Fee),
				)
			case errors.Is(err, earn.ErrAlreadyClaimed):
				report.Skipped++
				log.Debug("already claimed", slog.String("token_account", tokenAccount.String()))
			default:
				report.Failed++
				log.Warn("claim failed",
					slog.String("token_account", tokenAccount.String()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
