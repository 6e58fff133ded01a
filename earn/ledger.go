package earn

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/metrics"
)

// Initialize creates the global record with signer as admin.
func (e *Engine) Initialize(ctx context.Context, signer solana.PublicKey, params InitializeParams) (*Global, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.state.global(); err == nil {
		return nil, ErrInvalidAccount
	} else if !errors.Is(err, ErrNotInitialized) {
		return nil, err
	}

	if params.InitialIndex == nil || params.InitialIndex.LtUint64(IndexScale) || !fitsU128(params.InitialIndex) {
		return nil, ErrInvalidParam
	}
	if params.ClaimCooldown > MaxClaimCooldown {
		return nil, ErrInvalidParam
	}

	g := &Global{
		Admin:         signer,
		EarnAuthority: params.EarnAuthority,
		Portal:        params.Portal,
		Mint:          params.Mint,
		Index:         *params.InitialIndex,
		Timestamp:     e.now(),
		ClaimCooldown: params.ClaimCooldown,
		ClaimComplete: true,
	}

	ws := newWriteSet()
	ws.putGlobal(g)
	if err := e.state.commit(ws); err != nil {
		return nil, err
	}

	e.logger.Info("ledger initialized",
		"admin", signer,
		"earn_authority", params.EarnAuthority,
		"portal", params.Portal,
		"mint", params.Mint,
		"index", g.Index.String(),
		"claim_cooldown", g.ClaimCooldown)
	observeGlobal(g)
	return g, nil
}

func (e *Engine) SetEarnAuthority(ctx context.Context, signer, authority solana.PublicKey) error {
	return e.updateGlobal(func(g *Global) error {
		if signer != g.Admin {
			return ErrNotAuthorized
		}
		g.EarnAuthority = authority
		e.logger.Info("earn authority updated", "earn_authority", authority)
		return nil
	})
}

func (e *Engine) SetClaimCooldown(ctx context.Context, signer solana.PublicKey, seconds uint64) error {
	return e.updateGlobal(func(g *Global) error {
		if signer != g.Admin {
			return ErrNotAuthorized
		}
		if seconds > MaxClaimCooldown {
			return ErrInvalidParam
		}
		g.ClaimCooldown = seconds
		e.logger.Info("claim cooldown updated", "claim_cooldown", seconds)
		return nil
	})
}

// CompleteClaims closes the open cycle.
func (e *Engine) CompleteClaims(ctx context.Context, signer solana.PublicKey) error {
	return e.updateGlobal(func(g *Global) error {
		if signer != g.EarnAuthority {
			return ErrNotAuthorized
		}
		if g.ClaimComplete {
			return ErrNoActiveClaim
		}
		g.ClaimComplete = true
		e.logger.Info("claim cycle completed",
			"index", g.Index.String(),
			"distributed", g.Distributed,
			"max_yield", g.MaxYield)
		return nil
	})
}

// PropagateIndex applies one oracle delivery. A cycle opens only when the
// previous one is complete, the cooldown has elapsed and the index strictly
// increases. Otherwise only maxSupply and the roots may move, and the call
// still succeeds so re-deliveries are harmless.
func (e *Engine) PropagateIndex(ctx context.Context, signer solana.PublicKey, update IndexUpdate) (*PropagationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.state.global()
	if err != nil {
		return nil, err
	}
	if signer != g.Portal {
		return nil, ErrNotAuthorized
	}
	if update.Index == nil || !fitsU128(update.Index) {
		return nil, ErrInvalidParam
	}

	// Read before anything bundled with this update mints.
	supply, err := e.token.Supply(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token supply: %w", err)
	}

	now := e.now()
	next := *g
	result := &PropagationResult{}

	// Roots are ordered by their source timestamp only. An untimestamped
	// delivery cannot be ordered, so it loses to any timestamped root held.
	rootsAt := update.RootsTimestamp
	if (rootsAt == 0 && g.RootsUpdatedAt == 0) || (rootsAt != 0 && rootsAt >= g.RootsUpdatedAt) {
		if !update.EarnerRoot.IsZero() && update.EarnerRoot != g.EarnerRoot {
			next.EarnerRoot = update.EarnerRoot
			result.RootsUpdated = true
		}
		if !update.ManagerRoot.IsZero() && update.ManagerRoot != g.ManagerRoot {
			next.ManagerRoot = update.ManagerRoot
			result.RootsUpdated = true
		}
		if result.RootsUpdated {
			next.RootsUpdatedAt = rootsAt
		}
	}

	cooledDown := now >= g.Timestamp+g.ClaimCooldown
	if g.ClaimComplete && cooledDown && update.Index.Gt(&g.Index) {
		base := max(g.MaxSupply, supply)
		maxYield, err := ComputeMaxYield(base, g.MaxYield, g.Distributed, &g.Index, update.Index)
		if err != nil {
			metrics.IndexPropagationsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		next.Index = *update.Index
		next.Timestamp = now
		next.MaxSupply = supply
		next.MaxYield = maxYield
		next.Distributed = 0
		next.ClaimComplete = false
		result.Opened = true
	} else if supply > next.MaxSupply {
		next.MaxSupply = supply
	}

	if next != *g {
		ws := newWriteSet()
		ws.putGlobal(&next)
		if err := e.state.commit(ws); err != nil {
			return nil, err
		}
	}
	result.Global = next

	if result.Opened {
		metrics.IndexPropagationsTotal.WithLabelValues("opened").Inc()
		e.logger.Info("claim cycle opened",
			"index", next.Index.String(),
			"previous_index", g.Index.String(),
			"max_supply", next.MaxSupply,
			"max_yield", next.MaxYield)
	} else {
		metrics.IndexPropagationsTotal.WithLabelValues("noop").Inc()
		e.logger.Debug("index propagated without opening a cycle",
			"index", update.Index.String(),
			"current_index", g.Index.String(),
			"claim_complete", g.ClaimComplete,
			"cooled_down", cooledDown,
			"max_supply", next.MaxSupply)
	}
	if result.RootsUpdated {
		e.logger.Info("merkle roots updated",
			"earner_root", next.EarnerRoot,
			"manager_root", next.ManagerRoot,
			"roots_updated_at", next.RootsUpdatedAt)
	}
	observeGlobal(&next)
	return result, nil
}

// updateGlobal runs mutate on a copy of the global record and commits it when
// mutate succeeds.
func (e *Engine) updateGlobal(mutate func(g *Global) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.state.global()
	if err != nil {
		return err
	}
	next := *g
	if err := mutate(&next); err != nil {
		return err
	}
	ws := newWriteSet()
	ws.putGlobal(&next)
	if err := e.state.commit(ws); err != nil {
		return err
	}
	observeGlobal(&next)
	return nil
}
