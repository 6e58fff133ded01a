package solprogram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/logger"
)

// EarnClient drives the deployed earn program as the earn authority. It
// mirrors the ledger operations of earn.Engine that a claim batch needs.
type EarnClient struct {
	client    *Client
	sender    *Sender
	authority solana.PrivateKey
	logger    *slog.Logger
}

type EarnClientConfig struct {
	Client    *Client
	Sender    *Sender
	Authority solana.PrivateKey
	Logger    *slog.Logger
}

func NewEarnClient(cfg EarnClientConfig) (*EarnClient, error) {
	if cfg.Client == nil {
		return nil, errors.New("solprogram: nil client")
	}
	if cfg.Sender == nil {
		return nil, errors.New("solprogram: nil sender")
	}
	if len(cfg.Authority) == 0 {
		return nil, errors.New("solprogram: missing earn authority key")
	}
	return &EarnClient{
		client:    cfg.Client,
		sender:    cfg.Sender,
		authority: cfg.Authority,
		logger:    logger.OrDiscard(cfg.Logger),
	}, nil
}

// Authority is the public key transactions are signed with.
func (c *EarnClient) Authority() solana.PublicKey {
	return c.authority.PublicKey()
}

func (c *EarnClient) Global(ctx context.Context) (*earn.Global, error) {
	return c.client.GetGlobal(ctx)
}

// PendingEarners lists the earners still owed rewards for the current index,
// ordered by token account.
func (c *EarnClient) PendingEarners(ctx context.Context) ([]*earn.Earner, error) {
	g, err := c.client.GetGlobal(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := c.client.ListEarners(ctx)
	if err != nil {
		return nil, err
	}
	var pending []*earn.Earner
	for i := range accounts {
		if accounts[i].Owes(g) {
			pending = append(pending, &accounts[i].Earner)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return bytes.Compare(pending[i].UserTokenAccount[:], pending[j].UserTokenAccount[:]) < 0
	})
	return pending, nil
}

// sponsor fetches the manager record of a managed earner, nil when the
// earner has none or the account is missing.
func (c *EarnClient) sponsor(ctx context.Context, earner *earn.Earner) (*earn.EarnManager, error) {
	key, ok := earner.Manager()
	if !ok {
		return nil, nil
	}
	m, err := c.client.GetEarnManager(ctx, key)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, nil
	}
	return m, err
}

// SimulateClaims computes the claims of a balance snapshot against the
// on-chain state, with the same rules as earn.Engine.SimulateClaims.
func (c *EarnClient) SimulateClaims(ctx context.Context, balances map[solana.PublicKey]uint64) ([]earn.RewardsClaim, error) {
	g, err := c.client.GetGlobal(ctx)
	if err != nil {
		return nil, err
	}
	if g.ClaimComplete {
		return nil, earn.ErrNoActiveClaim
	}

	keys := make([]solana.PublicKey, 0, len(balances))
	for k := range balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})

	var total uint64
	claims := make([]earn.RewardsClaim, 0, len(keys))
	for _, key := range keys {
		earner, err := c.client.GetEarner(ctx, key)
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("earner %s: %w", key, earn.ErrInvalidAccount)
		}
		if err != nil {
			return nil, err
		}
		manager, err := c.sponsor(ctx, earner)
		if err != nil {
			return nil, err
		}
		claim, err := earn.PlanClaim(g, earner, manager, balances[key])
		if errors.Is(err, earn.ErrNotEarning) || errors.Is(err, earn.ErrAlreadyClaimed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("earner %s: %w", key, err)
		}
		if claim.Rewards() > g.Remaining()-total {
			return nil, earn.ErrExceedsMaxYield
		}
		total += claim.Rewards()
		claims = append(claims, *claim)
	}
	return claims, nil
}

// ClaimFor sends a claim_for transaction and returns the settlement it is
// expected to produce. Preconditions are checked locally first so doomed
// transactions are not sent; the program checks them again.
func (c *EarnClient) ClaimFor(ctx context.Context, signer, tokenAccount solana.PublicKey, snapshotBalance uint64) (*earn.RewardsClaim, error) {
	if !signer.Equals(c.Authority()) {
		return nil, earn.ErrNotAuthorized
	}
	g, err := c.client.GetGlobal(ctx)
	if err != nil {
		return nil, err
	}
	if !signer.Equals(g.EarnAuthority) {
		return nil, earn.ErrNotAuthorized
	}
	earner, err := c.client.GetEarner(ctx, tokenAccount)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, earn.ErrInvalidAccount
	}
	if err != nil {
		return nil, err
	}
	manager, err := c.sponsor(ctx, earner)
	if err != nil {
		return nil, err
	}
	claim, err := earn.PlanClaim(g, earner, manager, snapshotBalance)
	if err != nil {
		return nil, err
	}
	if claim.Rewards() > g.Remaining() {
		return nil, earn.ErrExceedsMaxYield
	}

	ix, err := c.client.BuildClaimForInstruction(signer, g.Mint, earner, manager, snapshotBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to build instruction: %w", err)
	}
	result, err := c.sender.Send(ctx, []solana.Instruction{ix}, c.authority)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("claim settled on chain",
		"token_account", tokenAccount,
		"amount", claim.Amount,
		"fee", claim.Fee,
		"signature", result.Signature)
	return claim, nil
}

func (c *EarnClient) CompleteClaims(ctx context.Context, signer solana.PublicKey) error {
	if !signer.Equals(c.Authority()) {
		return earn.ErrNotAuthorized
	}
	ix, err := c.client.BuildCompleteClaimsInstruction(signer)
	if err != nil {
		return fmt.Errorf("failed to build instruction: %w", err)
	}
	result, err := c.sender.Send(ctx, []solana.Instruction{ix}, c.authority)
	if err != nil {
		return err
	}
	c.logger.Info("claim cycle completed on chain", "signature", result.Signature)
	return nil
}

// Earners lists every earner account of the program.
func (c *EarnClient) Earners(ctx context.Context) ([]*earn.Earner, error) {
	accounts, err := c.client.ListEarners(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*earn.Earner, len(accounts))
	for i := range accounts {
		out[i] = &accounts[i].Earner
	}
	return out, nil
}

func (c *EarnClient) EarnManagers(ctx context.Context) ([]*earn.EarnManager, error) {
	accounts, err := c.client.ListEarnManagers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*earn.EarnManager, len(accounts))
	for i := range accounts {
		out[i] = &accounts[i].EarnManager
	}
	return out, nil
}

// RemoveOrphanedEarner closes the earner account of an inactive manager,
// paid by the authority key.
func (c *EarnClient) RemoveOrphanedEarner(ctx context.Context, tokenAccount solana.PublicKey) error {
	earner, err := c.client.GetEarner(ctx, tokenAccount)
	if err != nil {
		return err
	}
	manager, ok := earner.Manager()
	if !ok {
		return earn.ErrNotAuthorized
	}
	ix, err := c.client.BuildRemoveOrphanedEarnerInstruction(c.Authority(), tokenAccount, manager)
	if err != nil {
		return fmt.Errorf("failed to build instruction: %w", err)
	}
	result, err := c.sender.Send(ctx, []solana.Instruction{ix}, c.authority)
	if err != nil {
		return err
	}
	c.logger.Info("orphaned earner removed on chain",
		"token_account", tokenAccount.String(),
		"signature", result.Signature,
		"explorer", result.ExplorerURL,
	)
	return nil
}
