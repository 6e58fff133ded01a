package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/logger"
	"github.com/m0-foundation/solana-m/metrics"
	"github.com/m0-foundation/solana-m/retry"
)

const DefaultPollInterval = time.Minute

// Propagator accepts index updates. *earn.Engine implements it.
type Propagator interface {
	PropagateIndex(ctx context.Context, signer solana.PublicKey, update earn.IndexUpdate) (*earn.PropagationResult, error)
}

// Relayer polls a Source and forwards every reading as the portal.
type Relayer struct {
	source       Source
	ledger       Propagator
	portal       solana.PublicKey
	pollInterval time.Duration
	retry        retry.Config
	clock        clockwork.Clock
	logger       *slog.Logger
}

type RelayerConfig struct {
	Source       Source
	Ledger       Propagator
	Portal       solana.PublicKey
	PollInterval time.Duration
	Retry        retry.Config
	Clock        clockwork.Clock
	Logger       *slog.Logger
}

func NewRelayer(cfg RelayerConfig) (*Relayer, error) {
	if cfg.Source == nil || cfg.Ledger == nil {
		return nil, errors.New("oracle: source and ledger are required")
	}
	if cfg.Portal.IsZero() {
		return nil, errors.New("oracle: portal identity is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Relayer{
		source:       cfg.Source,
		ledger:       cfg.Ledger,
		portal:       cfg.Portal,
		pollInterval: cfg.PollInterval,
		retry:        cfg.Retry,
		clock:        cfg.Clock,
		logger:       logger.OrDiscard(cfg.Logger),
	}, nil
}

// Run relays once immediately and then every poll interval until ctx is
// done. Failed rounds are logged and retried on the next tick.
func (r *Relayer) Run(ctx context.Context) error {
	r.logger.Info("relayer started", slog.Duration("poll_interval", r.pollInterval))
	ticker := r.clock.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RelayOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("relay failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// RelayOnce reads one snapshot and propagates it.
func (r *Relayer) RelayOnce(ctx context.Context) (*earn.PropagationResult, error) {
	var snap *Snapshot
	err := retry.Do(ctx, r.retry, func() error {
		var err error
		snap, err = r.source.Snapshot(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return r.Propagate(ctx, earn.IndexUpdate{
		Index:          snap.Index,
		EarnerRoot:     snap.EarnerRoot,
		ManagerRoot:    snap.ManagerRoot,
		RootsTimestamp: snap.Timestamp,
	})
}

// Propagate forwards an update as the portal and logs the outcome. Bridge
// ingress uses it directly.
func (r *Relayer) Propagate(ctx context.Context, update earn.IndexUpdate) (*earn.PropagationResult, error) {
	result, err := r.ledger.PropagateIndex(ctx, r.portal, update)
	if err != nil {
		metrics.IndexPropagationsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("failed to propagate index: %w", err)
	}
	r.logger.Info("index relayed",
		slog.String("index", update.Index.Dec()),
		slog.Bool("opened", result.Opened),
		slog.Bool("roots_updated", result.RootsUpdated),
	)
	return result, nil
}
