package solprogram

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ProgramRPC is the subset of the Solana RPC client the program client uses.
type ProgramRPC interface {
	RPC
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

// Client wraps Solana RPC client
type Client struct {
	RPC          ProgramRPC
	ProgramID    solana.PublicKey
	TokenProgram solana.PublicKey // program owning the mint
	Network      string           // "devnet", "mainnet", "localhost"
}

// NewClient creates new earn program client
func NewClient(rpcURL, programID, network string) (*Client, error) {
	return NewClientWithRPC(rpc.New(rpcURL), programID, network)
}

func NewClientWithRPC(client ProgramRPC, programID, network string) (*Client, error) {
	if programID == "" {
		programID = EarnProgramID
	}
	programPubkey, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("invalid program ID: %w", err)
	}

	return &Client{
		RPC:          client,
		ProgramID:    programPubkey,
		TokenProgram: Token2022ProgramID,
		Network:      network,
	}, nil
}

// DeriveGlobalPDA derives the singleton global account
func (c *Client) DeriveGlobalPDA() (solana.PublicKey, uint8, error) {
	pda, bump, err := solana.FindProgramAddress([][]byte{SeedGlobal}, c.ProgramID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive global PDA: %w", err)
	}
	return pda, bump, nil
}

// DeriveEarnerPDA derives the earner account of a token account
func (c *Client) DeriveEarnerPDA(tokenAccount solana.PublicKey) (solana.PublicKey, uint8, error) {
	pda, bump, err := solana.FindProgramAddress([][]byte{SeedEarner, tokenAccount.Bytes()}, c.ProgramID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive earner PDA: %w", err)
	}
	return pda, bump, nil
}

// DeriveEarnManagerPDA derives the earn manager account of a manager
func (c *Client) DeriveEarnManagerPDA(manager solana.PublicKey) (solana.PublicKey, uint8, error) {
	pda, bump, err := solana.FindProgramAddress([][]byte{SeedEarnManager, manager.Bytes()}, c.ProgramID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive earn manager PDA: %w", err)
	}
	return pda, bump, nil
}

// CreateTransaction creates an unsigned base64 transaction, for wallets that
// sign outside this process
func (c *Client) CreateTransaction(
	ctx context.Context,
	instructions []solana.Instruction,
	payer solana.PublicKey,
) (string, error) {
	recent, err := c.RPC.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize: %w", err)
	}
	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// ExplorerURL links a transaction on the configured network
func (c *Client) ExplorerURL(sig solana.Signature) string {
	return ExplorerURL(c.Network, sig)
}

func ExplorerURL(network string, sig solana.Signature) string {
	if network == "mainnet" {
		return fmt.Sprintf(ExplorerURLMainnet, sig)
	}
	return fmt.Sprintf(ExplorerURLDevnet, sig)
}
