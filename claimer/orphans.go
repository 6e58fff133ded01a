package claimer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/logger"
)

// OrphanLedger is implemented by *earn.Engine and *solprogram.EarnClient.
type OrphanLedger interface {
	Earners(ctx context.Context) ([]*earn.Earner, error)
	EarnManagers(ctx context.Context) ([]*earn.EarnManager, error)
	RemoveOrphanedEarner(ctx context.Context, tokenAccount solana.PublicKey) error
}

// SweepOrphans removes every managed earner whose manager is inactive and
// returns the removed token accounts. Earners of a missing manager record
// are left alone. Removal stops at the first failure.
func SweepOrphans(ctx context.Context, ledger OrphanLedger, log *slog.Logger) ([]solana.PublicKey, error) {
	log = logger.OrDiscard(log)

	managers, err := ledger.EarnManagers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list earn managers: %w", err)
	}
	inactive := make(map[solana.PublicKey]bool, len(managers))
	for _, m := range managers {
		if !m.IsActive {
			inactive[m.Manager] = true
		}
	}
	if len(inactive) == 0 {
		return nil, nil
	}

	earners, err := ledger.Earners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list earners: %w", err)
	}

	var removed []solana.PublicKey
	for _, e := range earners {
		manager, ok := e.Manager()
		if !ok || !inactive[manager] {
			continue
		}
		if err := ledger.RemoveOrphanedEarner(ctx, e.UserTokenAccount); err != nil {
			return removed, fmt.Errorf("failed to remove orphaned earner %s: %w", e.UserTokenAccount, err)
		}
		log.Info("orphaned earner removed",
			slog.String("token_account", e.UserTokenAccount.String()),
			slog.String("manager", manager.String()),
		)
		removed = append(removed, e.UserTokenAccount)
	}
	return removed, nil
}
