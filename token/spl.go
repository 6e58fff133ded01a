package token

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	spltoken "github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/logger"
	"github.com/m0-foundation/solana-m/solprogram"
)

const (
	// base token account layout length, shared by both token programs
	accountLen = 165

	accountTypeAccount      = 2
	extensionImmutableOwner = 7
	extensionHeaderLen      = 4
	tlvStart                = accountLen + 1
)

// SPLRPC is the subset of the Solana RPC client used to read token state.
type SPLRPC interface {
	GetTokenSupply(ctx context.Context, tokenMint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// SPL reads and mints an SPL token over RPC.
type SPL struct {
	rpc           SPLRPC
	sender        *solprogram.Sender
	mint          solana.PublicKey
	tokenProgram  solana.PublicKey
	mintAuthority solana.PrivateKey
	commitment    rpc.CommitmentType
	logger        *slog.Logger
}

type SPLConfig struct {
	Mint solana.PublicKey
	// TokenProgram defaults to Token-2022.
	TokenProgram  solana.PublicKey
	MintAuthority solana.PrivateKey
	Logger        *slog.Logger
}

func NewSPL(client SPLRPC, sender *solprogram.Sender, cfg SPLConfig) (*SPL, error) {
	if client == nil || sender == nil {
		return nil, errors.New("token: rpc client and sender are required")
	}
	if cfg.Mint.IsZero() {
		return nil, errors.New("token: mint is required")
	}
	if len(cfg.MintAuthority) == 0 {
		return nil, errors.New("token: mint authority key is required")
	}
	if cfg.TokenProgram.IsZero() {
		cfg.TokenProgram = solana.Token2022ProgramID
	}
	return &SPL{
		rpc:           client,
		sender:        sender,
		mint:          cfg.Mint,
		tokenProgram:  cfg.TokenProgram,
		mintAuthority: cfg.MintAuthority,
		commitment:    rpc.CommitmentConfirmed,
		logger:        logger.OrDiscard(cfg.Logger),
	}, nil
}

func (s *SPL) Supply(ctx context.Context) (uint64, error) {
	out, err := s.rpc.GetTokenSupply(ctx, s.mint, s.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get token supply: %w", err)
	}
	if out == nil || out.Value == nil {
		return 0, fmt.Errorf("token supply of %s: empty response", s.mint)
	}
	return parseAmount(out.Value.Amount)
}

// Balance returns the raw amount held by a token account.
func (s *SPL) Balance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	return balanceOf(ctx, s.rpc, address, s.commitment)
}

// BalanceRPC is the subset of the Solana RPC client Balances needs.
type BalanceRPC interface {
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// Balances reads token account balances without any signing key, for
// processes that only snapshot balances.
type Balances struct {
	rpc        BalanceRPC
	commitment rpc.CommitmentType
}

func NewBalances(client BalanceRPC) *Balances {
	return &Balances{rpc: client, commitment: rpc.CommitmentConfirmed}
}

func (b *Balances) Balance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	return balanceOf(ctx, b.rpc, address, b.commitment)
}

func balanceOf(ctx context.Context, client BalanceRPC, address solana.PublicKey, commitment rpc.CommitmentType) (uint64, error) {
	out, err := client.GetTokenAccountBalance(ctx, address, commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", address, err)
	}
	if out == nil || out.Value == nil {
		return 0, fmt.Errorf("balance of %s: empty response", address)
	}
	return parseAmount(out.Value.Amount)
}

func (s *SPL) Account(ctx context.Context, address solana.PublicKey) (earn.TokenAccount, error) {
	out, err := s.rpc.GetAccountInfo(ctx, address)
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		return earn.TokenAccount{}, fmt.Errorf("token account %s: %w", address, earn.ErrInvalidAccount)
	}
	if err != nil {
		return earn.TokenAccount{}, fmt.Errorf("failed to get token account %s: %w", address, err)
	}
	if !out.Value.Owner.Equals(s.tokenProgram) {
		return earn.TokenAccount{}, fmt.Errorf("token account %s owned by %s: %w", address, out.Value.Owner, earn.ErrInvalidAccount)
	}

	data := out.Value.Data.GetBinary()
	if len(data) < accountLen {
		return earn.TokenAccount{}, fmt.Errorf("token account %s: %d bytes: %w", address, len(data), earn.ErrInvalidAccount)
	}
	var acct spltoken.Account
	if err := acct.UnmarshalWithDecoder(bin.NewBinDecoder(data[:accountLen])); err != nil {
		return earn.TokenAccount{}, fmt.Errorf("failed to decode token account %s: %w", address, err)
	}

	ata, _, err := s.associatedAddress(acct.Owner, acct.Mint)
	if err != nil {
		return earn.TokenAccount{}, err
	}
	return earn.TokenAccount{
		Address:        address,
		Mint:           acct.Mint,
		Owner:          acct.Owner,
		Amount:         acct.Amount,
		ImmutableOwner: hasImmutableOwner(data) || ata.Equals(address),
	}, nil
}

// Mint issues every credit in a single transaction signed by the mint
// authority, so they land together or not at all.
func (s *SPL) Mint(ctx context.Context, mints ...earn.Mint) error {
	instructions := make([]solana.Instruction, 0, len(mints))
	for _, m := range mints {
		if m.Amount == 0 {
			continue
		}
		built, err := spltoken.NewMintToInstruction(
			m.Amount,
			s.mint,
			m.To,
			s.mintAuthority.PublicKey(),
			nil,
		).ValidateAndBuild()
		if err != nil {
			return fmt.Errorf("failed to build mint_to: %w", err)
		}
		data, err := built.Data()
		if err != nil {
			return fmt.Errorf("failed to encode mint_to: %w", err)
		}
		// the generated builder targets a package level program ID
		instructions = append(instructions, solana.NewInstruction(s.tokenProgram, built.Accounts(), data))
	}
	if len(instructions) == 0 {
		return nil
	}

	result, err := s.sender.Send(ctx, instructions, s.mintAuthority)
	if err != nil {
		return fmt.Errorf("mint failed: %w", err)
	}
	s.logger.Info("minted",
		slog.Int("credits", len(instructions)),
		slog.String("signature", result.Signature),
	)
	return nil
}

func (s *SPL) associatedAddress(owner, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{
		owner[:],
		s.tokenProgram[:],
		mint[:],
	}, solana.SPLAssociatedTokenAccountProgramID)
}

// hasImmutableOwner walks the Token-2022 extension TLVs that follow the base
// account layout.
func hasImmutableOwner(data []byte) bool {
	if len(data) <= accountLen || data[accountLen] != accountTypeAccount {
		return false
	}
	for off := tlvStart; off+extensionHeaderLen <= len(data); {
		typ := binary.LittleEndian.Uint16(data[off:])
		length := int(binary.LittleEndian.Uint16(data[off+2:]))
		if typ == extensionImmutableOwner {
			return true
		}
		if typ == 0 {
			return false
		}
		off += extensionHeaderLen + length
	}
	return false
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", s, err)
	}
	return v, nil
}
