package earn

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/metrics"
)

// ClaimFor settles the rewards of one earner for the open cycle against the
// caller-supplied balance snapshot. It fails without changing state when any
// precondition fails or the mint is rejected. A mint whose outcome is unknown
// (ErrUnconfirmed) leaves the earner settled so it can never be paid twice.
func (e *Engine) ClaimFor(ctx context.Context, signer, tokenAccount solana.PublicKey, snapshotBalance uint64) (*RewardsClaim, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	claim, err := e.claimFor(ctx, signer, tokenAccount, snapshotBalance)
	if err != nil {
		outcome := "failed"
		switch {
		case errors.Is(err, ErrAlreadyClaimed):
			outcome = "already_claimed"
		case errors.Is(err, ErrUnconfirmed):
			outcome = "unconfirmed"
		}
		metrics.ClaimsTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}
	e.emit(ctx, *claim)
	return claim, nil
}

func (e *Engine) claimFor(ctx context.Context, signer, tokenAccount solana.PublicKey, snapshotBalance uint64) (*RewardsClaim, error) {
	g, err := e.state.global()
	if err != nil {
		return nil, err
	}
	if signer != g.EarnAuthority {
		return nil, ErrNotAuthorized
	}

	earner, err := e.state.earner(tokenAccount)
	if err != nil {
		return nil, err
	}
	if earner == nil {
		return nil, ErrInvalidAccount
	}

	manager, err := e.sponsor(earner)
	if err != nil {
		return nil, err
	}
	claim, err := PlanClaim(g, earner, manager, snapshotBalance)
	if err != nil {
		return nil, err
	}
	rewards := claim.Rewards()
	if rewards > g.Remaining() {
		return nil, ErrExceedsMaxYield
	}

	nextGlobal := *g
	nextGlobal.Distributed += rewards
	nextEarner := *earner
	nextEarner.LastClaimIndex = g.Index
	nextEarner.LastClaimTimestamp = g.Timestamp

	ws := newWriteSet()
	ws.putGlobal(&nextGlobal)
	ws.putEarner(&nextEarner)
	if err := e.state.commit(ws); err != nil {
		return nil, err
	}

	if mints := claim.Mints(); len(mints) > 0 {
		if err := e.token.Mint(ctx, mints...); err != nil {
			if errors.Is(err, ErrUnconfirmed) {
				// The mint may still land: the earner stays settled for
				// this cycle and the operator reconciles the signature.
				e.logger.Error("rewards mint not confirmed, claim kept settled",
					"token_account", tokenAccount,
					"rewards", rewards,
					"error", err)
				observeGlobal(&nextGlobal)
				return nil, fmt.Errorf("failed to confirm rewards mint: %w", err)
			}
			restore := newWriteSet()
			restore.putGlobal(g)
			restore.putEarner(earner)
			if rerr := e.state.commit(restore); rerr != nil {
				e.logger.Error("failed to restore records after rejected mint",
					"token_account", tokenAccount,
					"error", rerr)
				return nil, errors.Join(fmt.Errorf("failed to mint rewards: %w", err), rerr)
			}
			return nil, fmt.Errorf("failed to mint rewards: %w", err)
		}
	}

	observeGlobal(&nextGlobal)
	return claim, nil
}

// sponsor loads the manager record of a managed earner. It returns nil for a
// registrar earner or a missing record.
func (e *Engine) sponsor(earner *Earner) (*EarnManager, error) {
	key, ok := earner.Manager()
	if !ok {
		return nil, nil
	}
	return e.state.earnManager(key)
}

// PlanClaim checks the claim preconditions of earner in order and computes
// the payout split. manager must be the earner's manager record, or nil for a
// registrar earner. The yield ceiling is left to the caller.
func PlanClaim(g *Global, earner *Earner, manager *EarnManager, snapshotBalance uint64) (*RewardsClaim, error) {
	if !earner.IsEarning {
		return nil, ErrNotEarning
	}
	if !earner.LastClaimIndex.Lt(&g.Index) {
		return nil, ErrAlreadyClaimed
	}
	if g.ClaimComplete {
		return nil, ErrNoActiveClaim
	}
	if _, managed := earner.Manager(); managed && manager == nil {
		return nil, ErrRequiredAccountMissing
	}

	rewards, err := ComputeRewards(snapshotBalance, &g.Index, &earner.LastClaimIndex)
	if err != nil {
		return nil, err
	}

	claim := &RewardsClaim{
		TokenAccount: earner.UserTokenAccount,
		Recipient:    earner.Payee(),
		Index:        g.Index,
		Timestamp:    g.Timestamp,
	}
	if manager != nil {
		claim.Manager = manager.Manager
		if manager.IsActive && manager.FeeBps > 0 {
			claim.Fee = ComputeFee(rewards, manager.FeeBps)
			claim.FeeTokenAccount = manager.FeeTokenAccount
		}
	}
	claim.Amount = rewards - claim.Fee
	return claim, nil
}

// SimulateClaims computes the claims the given balance snapshots would settle
// without changing state. Earners that would be rejected as not earning or
// already claimed are left out. It fails with ExceedsMaxYield when the batch
// cannot fit in the remaining yield of the cycle.
func (e *Engine) SimulateClaims(ctx context.Context, balances map[solana.PublicKey]uint64) ([]RewardsClaim, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.state.global()
	if err != nil {
		return nil, err
	}
	if g.ClaimComplete {
		return nil, ErrNoActiveClaim
	}

	keys := make([]solana.PublicKey, 0, len(balances))
	for k := range balances {
		keys = append(keys, k)
	}
	sortKeys(keys)

	var total uint64
	claims := make([]RewardsClaim, 0, len(keys))
	for _, key := range keys {
		earner, err := e.state.earner(key)
		if err != nil {
			return nil, err
		}
		if earner == nil {
			return nil, fmt.Errorf("earner %s: %w", key, ErrInvalidAccount)
		}
		manager, err := e.sponsor(earner)
		if err != nil {
			return nil, fmt.Errorf("earner %s: %w", key, err)
		}
		claim, err := PlanClaim(g, earner, manager, balances[key])
		if errors.Is(err, ErrNotEarning) || errors.Is(err, ErrAlreadyClaimed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("earner %s: %w", key, err)
		}
		if claim.Rewards() > g.Remaining()-total {
			return nil, ErrExceedsMaxYield
		}
		total += claim.Rewards()
		claims = append(claims, *claim)
	}
	return claims, nil
}
