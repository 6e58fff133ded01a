package solprogram

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/m0-foundation/solana-m/earn"
)

// ErrAccountNotFound is returned when a program account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// fetchAccountData loads the raw data of a program owned account.
func (c *Client) fetchAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	info, err := c.RPC.GetAccountInfo(ctx, address)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
	}
	if !info.Value.Owner.Equals(c.ProgramID) {
		return nil, fmt.Errorf("account %s is owned by %s: %w", address, info.Value.Owner, earn.ErrInvalidAccount)
	}
	return info.Value.Data.GetBinary(), nil
}

// GetGlobal fetches and decodes the global account
func (c *Client) GetGlobal(ctx context.Context) (*earn.Global, error) {
	pda, _, err := c.DeriveGlobalPDA()
	if err != nil {
		return nil, err
	}
	data, err := c.fetchAccountData(ctx, pda)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, earn.ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return earn.DecodeGlobal(data)
}

// GetEarner fetches and decodes the earner account of a token account
func (c *Client) GetEarner(ctx context.Context, tokenAccount solana.PublicKey) (*earn.Earner, error) {
	pda, _, err := c.DeriveEarnerPDA(tokenAccount)
	if err != nil {
		return nil, err
	}
	data, err := c.fetchAccountData(ctx, pda)
	if err != nil {
		return nil, err
	}
	return earn.DecodeEarner(data)
}

// GetEarnManager fetches and decodes the earn manager account of a manager
func (c *Client) GetEarnManager(ctx context.Context, manager solana.PublicKey) (*earn.EarnManager, error) {
	pda, _, err := c.DeriveEarnManagerPDA(manager)
	if err != nil {
		return nil, err
	}
	data, err := c.fetchAccountData(ctx, pda)
	if err != nil {
		return nil, err
	}
	return earn.DecodeEarnManager(data)
}

// programAccounts lists the accounts of one record type, selected by
// discriminator and size.
func (c *Client) programAccounts(ctx context.Context, name string, size int) (rpc.GetProgramAccountsResult, error) {
	disc := earn.AccountDiscriminator(name)
	out, err := c.RPC.GetProgramAccountsWithOpts(ctx, c.ProgramID, &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Filters: []rpc.RPCFilter{
			{DataSize: uint64(size)},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(disc[:])}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s accounts: %w", name, err)
	}
	return out, nil
}

// ListEarners fetches every earner account of the program
func (c *Client) ListEarners(ctx context.Context) ([]EarnerAccount, error) {
	accounts, err := c.programAccounts(ctx, earn.EarnerAccountName, earn.EarnerSize)
	if err != nil {
		return nil, err
	}
	out := make([]EarnerAccount, 0, len(accounts))
	for _, acct := range accounts {
		if acct == nil || acct.Account == nil {
			continue
		}
		earner, err := earn.DecodeEarner(acct.Account.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("failed to decode earner %s: %w", acct.Pubkey, err)
		}
		out = append(out, EarnerAccount{Address: acct.Pubkey, Earner: *earner})
	}
	return out, nil
}

// ListEarnManagers fetches every earn manager account of the program
func (c *Client) ListEarnManagers(ctx context.Context) ([]EarnManagerAccount, error) {
	accounts, err := c.programAccounts(ctx, earn.EarnManagerAccountName, earn.EarnManagerSize)
	if err != nil {
		return nil, err
	}
	out := make([]EarnManagerAccount, 0, len(accounts))
	for _, acct := range accounts {
		if acct == nil || acct.Account == nil {
			continue
		}
		manager, err := earn.DecodeEarnManager(acct.Account.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("failed to decode earn manager %s: %w", acct.Pubkey, err)
		}
		out = append(out, EarnManagerAccount{Address: acct.Pubkey, EarnManager: *manager})
	}
	return out, nil
}
