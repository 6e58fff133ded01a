package earn

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"

	"github.com/m0-foundation/solana-m/merkle"
)

// Sponsor records who approved an earner: the registrar list or a manager.
type Sponsor interface {
	isSponsor()
}

// Registrar marks an earner admitted by inclusion in the earner root.
type Registrar struct{}

// Managed marks an earner sponsored by an earn manager.
type Managed struct {
	Manager solana.PublicKey
}

func (Registrar) isSponsor() {}
func (Managed) isSponsor()   {}

// PayoutRoute selects the token account rewards are minted to.
type PayoutRoute interface {
	isPayoutRoute()
}

// DefaultRecipient pays the earner's own token account.
type DefaultRecipient struct{}

// OverrideRecipient pays a different token account.
type OverrideRecipient struct {
	Account solana.PublicKey
}

func (DefaultRecipient) isPayoutRoute()  {}
func (OverrideRecipient) isPayoutRoute() {}

// Global is the single ledger record of a deployment.
type Global struct {
	Admin         solana.PublicKey
	EarnAuthority solana.PublicKey
	Portal        solana.PublicKey
	Mint          solana.PublicKey

	Index         uint256.Int
	Timestamp     uint64
	ClaimCooldown uint64

	MaxSupply     uint64
	MaxYield      uint64
	Distributed   uint64
	ClaimComplete bool

	EarnerRoot     merkle.Hash
	ManagerRoot    merkle.Hash
	// RootsUpdatedAt is the source timestamp of the held roots, zero when
	// they arrived without one.
	RootsUpdatedAt uint64
}

// CycleOpen reports whether rewards of the latest index are claimable.
func (g *Global) CycleOpen() bool {
	return !g.ClaimComplete
}

// Remaining is the yield still mintable in the current cycle.
func (g *Global) Remaining() uint64 {
	if g.Distributed >= g.MaxYield {
		return 0
	}
	return g.MaxYield - g.Distributed
}

// Earner is keyed by its token account.
type Earner struct {
	User               solana.PublicKey
	UserTokenAccount   solana.PublicKey
	Recipient          PayoutRoute
	Sponsor            Sponsor
	LastClaimIndex     uint256.Int
	LastClaimTimestamp uint64
	IsEarning          bool
}

// Payee is the token account rewards are minted to.
func (e *Earner) Payee() solana.PublicKey {
	switch r := e.Recipient.(type) {
	case OverrideRecipient:
		return r.Account
	default:
		return e.UserTokenAccount
	}
}

// Manager returns the sponsoring manager, if any.
func (e *Earner) Manager() (solana.PublicKey, bool) {
	switch s := e.Sponsor.(type) {
	case Managed:
		return s.Manager, true
	default:
		return solana.PublicKey{}, false
	}
}

// Owes reports whether the earner has an unsettled index interval.
func (e *Earner) Owes(g *Global) bool {
	return e.IsEarning && e.LastClaimIndex.Lt(&g.Index)
}

type EarnManager struct {
	Manager         solana.PublicKey
	IsActive        bool
	FeeBps          uint16
	FeeTokenAccount solana.PublicKey
}

// RewardsClaim is the settlement record of one successful claim.
type RewardsClaim struct {
	TokenAccount    solana.PublicKey
	Recipient       solana.PublicKey
	Amount          uint64
	Fee             uint64
	Manager         solana.PublicKey
	FeeTokenAccount solana.PublicKey
	Index           uint256.Int
	Timestamp       uint64
}

// Rewards is the gross amount before the fee split.
func (c *RewardsClaim) Rewards() uint64 {
	return c.Amount + c.Fee
}

// Mints lists the non-zero credits that settle the claim.
func (c *RewardsClaim) Mints() []Mint {
	var mints []Mint
	if c.Amount > 0 {
		mints = append(mints, Mint{To: c.Recipient, Amount: c.Amount})
	}
	if c.Fee > 0 {
		mints = append(mints, Mint{To: c.FeeTokenAccount, Amount: c.Fee})
	}
	return mints
}

// IndexUpdate is one delivery from the index oracle.
type IndexUpdate struct {
	Index       *uint256.Int
	EarnerRoot  merkle.Hash
	ManagerRoot merkle.Hash
	// RootsTimestamp is when the roots were read at their source. Zero means
	// unknown: such roots apply only while no timestamped root is held.
	RootsTimestamp uint64
}

// PropagationResult describes what an IndexUpdate changed.
type PropagationResult struct {
	Opened       bool
	RootsUpdated bool
	Global       Global
}

type InitializeParams struct {
	EarnAuthority solana.PublicKey
	Portal        solana.PublicKey
	Mint          solana.PublicKey
	InitialIndex  *uint256.Int
	ClaimCooldown uint64
}

// ManagerConfig is the optional part of ConfigureEarnManager. Nil fields are left unchanged.
type ManagerConfig struct {
	FeeBps          *uint16
	FeeTokenAccount *solana.PublicKey
}

// TokenAccount is the view of a token account the ledger validates against.
type TokenAccount struct {
	Address        solana.PublicKey
	Mint           solana.PublicKey
	Owner          solana.PublicKey
	Amount         uint64
	ImmutableOwner bool
}

// Mint is one credit of newly issued tokens.
type Mint struct {
	To     solana.PublicKey
	Amount uint64
}

// Token is the mint capability the ledger settles through.
type Token interface {
	Supply(ctx context.Context) (uint64, error)
	Account(ctx context.Context, address solana.PublicKey) (TokenAccount, error)
	// Mint applies all mints or none of them. An error wrapping
	// ErrUnconfirmed means the mints may still be applied later.
	Mint(ctx context.Context, mints ...Mint) error
}

// ClaimSink receives settlement records after they are committed.
type ClaimSink interface {
	RecordClaim(ctx context.Context, claim RewardsClaim) error
}

// ClaimSinkFunc adapts a function to ClaimSink.
type ClaimSinkFunc func(ctx context.Context, claim RewardsClaim) error

func (f ClaimSinkFunc) RecordClaim(ctx context.Context, claim RewardsClaim) error {
	return f(ctx, claim)
}
