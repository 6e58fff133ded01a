package earn

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/merkle"
)

// AddRegistrarEarner enrolls user, approved by inclusion in the earner root,
// with tokenAccount as its payout account. Anyone may submit it.
func (e *Engine) AddRegistrarEarner(ctx context.Context, user, tokenAccount solana.PublicKey, proof []merkle.ProofElement) (*Earner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.state.global()
	if err != nil {
		return nil, err
	}
	if err := e.ensureNotEarner(tokenAccount); err != nil {
		return nil, err
	}
	if err := e.checkTokenAccount(ctx, g, user, tokenAccount); err != nil {
		return nil, err
	}
	if _, ok := merkle.VerifyInclusion(g.EarnerRoot, user, proof); !ok {
		return nil, ErrInvalidProof
	}

	earner := e.newEarner(g, user, tokenAccount, Registrar{})
	if err := e.putEarners(earner); err != nil {
		return nil, err
	}
	e.logger.Info("registrar earner added", "user", user, "token_account", tokenAccount)
	return earner, nil
}

// AddEarner enrolls user under the signing manager.
func (e *Engine) AddEarner(ctx context.Context, signer, user, tokenAccount solana.PublicKey) (*Earner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.state.global()
	if err != nil {
		return nil, err
	}
	manager, err := e.state.earnManager(signer)
	if err != nil {
		return nil, err
	}
	if manager == nil {
		return nil, ErrNotAuthorized
	}
	if !manager.IsActive {
		return nil, ErrNotActive
	}
	if err := e.ensureNotEarner(tokenAccount); err != nil {
		return nil, err
	}
	if err := e.checkTokenAccount(ctx, g, user, tokenAccount); err != nil {
		return nil, err
	}

	earner := e.newEarner(g, user, tokenAccount, Managed{Manager: signer})
	if err := e.putEarners(earner); err != nil {
		return nil, err
	}
	e.logger.Info("managed earner added", "manager", signer, "user", user, "token_account", tokenAccount)
	return earner, nil
}

// RemoveEarner lets an active manager stop the yield of an earner it
// sponsors. The record is kept.
func (e *Engine) RemoveEarner(ctx context.Context, signer, tokenAccount solana.PublicKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	earner, err := e.loadEarner(tokenAccount)
	if err != nil {
		return err
	}
	if manager, ok := earner.Manager(); !ok || manager != signer {
		return ErrNotAuthorized
	}
	record, err := e.state.earnManager(signer)
	if err != nil {
		return err
	}
	if record == nil || !record.IsActive {
		return ErrNotAuthorized
	}

	next := *earner
	next.IsEarning = false
	if err := e.putEarners(&next); err != nil {
		return err
	}
	e.logger.Info("earner disabled", "manager", signer, "token_account", tokenAccount)
	return nil
}

// RemoveRegistrarEarner deletes a registrar earner whose user is proven absent
// from the earner root. Anyone may submit it.
func (e *Engine) RemoveRegistrarEarner(ctx context.Context, tokenAccount solana.PublicKey, proof merkle.NonInclusionProof) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.state.global()
	if err != nil {
		return err
	}
	earner, err := e.loadEarner(tokenAccount)
	if err != nil {
		return err
	}
	if _, managed := earner.Manager(); managed {
		return ErrNotAuthorized
	}
	if !proof.Verify(g.EarnerRoot, earner.User) {
		return ErrInvalidProof
	}

	ws := newWriteSet()
	ws.deleteEarner(tokenAccount)
	if err := e.state.commit(ws); err != nil {
		return err
	}
	e.logger.Info("registrar earner removed", "user", earner.User, "token_account", tokenAccount)
	return nil
}

// RemoveOrphanedEarner deletes a managed earner whose manager is no longer
// active. Anyone may submit it.
func (e *Engine) RemoveOrphanedEarner(ctx context.Context, tokenAccount solana.PublicKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	earner, err := e.loadEarner(tokenAccount)
	if err != nil {
		return err
	}
	key, managed := earner.Manager()
	if !managed {
		return ErrNotAuthorized
	}
	manager, err := e.state.earnManager(key)
	if err != nil {
		return err
	}
	if manager != nil && manager.IsActive {
		return ErrActive
	}

	ws := newWriteSet()
	ws.deleteEarner(tokenAccount)
	if err := e.state.commit(ws); err != nil {
		return err
	}
	e.logger.Info("orphaned earner removed", "manager", key, "token_account", tokenAccount)
	return nil
}

// TransferEarner moves a managed earner from the signing manager to another
// active manager.
func (e *Engine) TransferEarner(ctx context.Context, signer, tokenAccount, toManager solana.PublicKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	earner, err := e.loadEarner(tokenAccount)
	if err != nil {
		return err
	}
	if current, ok := earner.Manager(); !ok || current != signer {
		return ErrNotAuthorized
	}
	for _, key := range []solana.PublicKey{signer, toManager} {
		m, err := e.state.earnManager(key)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrRequiredAccountMissing
		}
		if !m.IsActive {
			return ErrNotActive
		}
	}

	next := *earner
	next.Sponsor = Managed{Manager: toManager}
	if err := e.putEarners(&next); err != nil {
		return err
	}
	e.logger.Info("earner transferred", "from", signer, "to", toManager, "token_account", tokenAccount)
	return nil
}

// SetEarnerRecipient changes where an earner's rewards are minted. The admin,
// the earner's user and its manager may call it.
func (e *Engine) SetEarnerRecipient(ctx context.Context, signer, tokenAccount solana.PublicKey, route PayoutRoute) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.state.global()
	if err != nil {
		return err
	}
	earner, err := e.loadEarner(tokenAccount)
	if err != nil {
		return err
	}
	manager, managed := earner.Manager()
	if signer != g.Admin && signer != earner.User && !(managed && signer == manager) {
		return ErrNotAuthorized
	}

	switch r := route.(type) {
	case OverrideRecipient:
		if err := e.checkTokenAccount(ctx, g, solana.PublicKey{}, r.Account); err != nil {
			return err
		}
	case DefaultRecipient:
	case nil:
		route = DefaultRecipient{}
	default:
		return ErrInvalidParam
	}

	next := *earner
	next.Recipient = route
	if err := e.putEarners(&next); err != nil {
		return err
	}
	e.logger.Info("earner recipient updated", "token_account", tokenAccount, "recipient", next.Payee())
	return nil
}

// ConfigureEarnManager creates the signer's manager record, which requires
// inclusion in the manager root and a fee account, or updates the fee terms
// of an active one.
func (e *Engine) ConfigureEarnManager(ctx context.Context, signer solana.PublicKey, proof []merkle.ProofElement, cfg ManagerConfig) (*EarnManager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.state.global()
	if err != nil {
		return nil, err
	}
	if cfg.FeeBps != nil && *cfg.FeeBps > OneHundredPercentBps {
		return nil, ErrInvalidParam
	}

	current, err := e.state.earnManager(signer)
	if err != nil {
		return nil, err
	}

	var next EarnManager
	if current == nil {
		if _, ok := merkle.VerifyInclusion(g.ManagerRoot, signer, proof); !ok {
			return nil, ErrInvalidProof
		}
		if cfg.FeeTokenAccount == nil {
			return nil, ErrRequiredAccountMissing
		}
		next = EarnManager{Manager: signer, IsActive: true}
	} else {
		if !current.IsActive {
			return nil, ErrNotActive
		}
		next = *current
	}

	if cfg.FeeTokenAccount != nil {
		if err := e.checkTokenAccount(ctx, g, solana.PublicKey{}, *cfg.FeeTokenAccount); err != nil {
			return nil, err
		}
		next.FeeTokenAccount = *cfg.FeeTokenAccount
	}
	if cfg.FeeBps != nil {
		next.FeeBps = *cfg.FeeBps
	}

	ws := newWriteSet()
	ws.putEarnManager(&next)
	if err := e.state.commit(ws); err != nil {
		return nil, err
	}
	e.logger.Info("earn manager configured",
		"manager", signer,
		"fee_bps", next.FeeBps,
		"fee_token_account", next.FeeTokenAccount,
		"created", current == nil)
	return &next, nil
}

// RemoveEarnManager deactivates a manager proven absent from the manager root.
// The record is kept so earners it sponsored can be cleaned up as orphans.
func (e *Engine) RemoveEarnManager(ctx context.Context, manager solana.PublicKey, proof merkle.NonInclusionProof) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.state.global()
	if err != nil {
		return err
	}
	current, err := e.state.earnManager(manager)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrInvalidAccount
	}
	if !current.IsActive {
		return ErrNotActive
	}
	if !proof.Verify(g.ManagerRoot, manager) {
		return ErrInvalidProof
	}

	next := *current
	next.IsActive = false
	ws := newWriteSet()
	ws.putEarnManager(&next)
	if err := e.state.commit(ws); err != nil {
		return err
	}
	e.logger.Info("earn manager removed", "manager", manager)
	return nil
}

func (e *Engine) newEarner(g *Global, user, tokenAccount solana.PublicKey, sponsor Sponsor) *Earner {
	return &Earner{
		User:               user,
		UserTokenAccount:   tokenAccount,
		Recipient:          DefaultRecipient{},
		Sponsor:            sponsor,
		LastClaimIndex:     g.Index,
		LastClaimTimestamp: e.now(),
		IsEarning:          true,
	}
}

func (e *Engine) ensureNotEarner(tokenAccount solana.PublicKey) error {
	existing, err := e.state.earner(tokenAccount)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyEarns
	}
	return nil
}

func (e *Engine) loadEarner(tokenAccount solana.PublicKey) (*Earner, error) {
	earner, err := e.state.earner(tokenAccount)
	if err != nil {
		return nil, err
	}
	if earner == nil {
		return nil, ErrInvalidAccount
	}
	return earner, nil
}

func (e *Engine) putEarners(earners ...*Earner) error {
	ws := newWriteSet()
	for _, earner := range earners {
		ws.putEarner(earner)
	}
	return e.state.commit(ws)
}
