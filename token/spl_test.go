package token

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/merkle"
	"github.com/m0-foundation/solana-m/retry"
	"github.com/m0-foundation/solana-m/solprogram"
	"github.com/m0-foundation/solana-m/store"
)

type fakeRPC struct {
	owner    solana.PublicKey
	supply   string
	balances map[solana.PublicKey]string
	accounts map[solana.PublicKey][]byte
	sent     []*solana.Transaction
	pending  bool
	hashes   byte
}

func (f *fakeRPC) GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	return &rpc.GetTokenSupplyResult{Value: &rpc.UiTokenAmount{Amount: f.supply, Decimals: 6}}, nil
}

func (f *fakeRPC) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	amount, ok := f.balances[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetTokenAccountBalanceResult{Value: &rpc.UiTokenAmount{Amount: amount, Decimals: 6}}, nil
}

func (f *fakeRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	data, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Owner: f.owner, Data: rpc.DataBytesOrJSONFromBytes(data)}}, nil
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	f.hashes++
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{f.hashes}}}, nil
}

func (f *fakeRPC) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeRPC) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if f.pending {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{
		{ConfirmationStatus: rpc.ConfirmationStatusFinalized},
	}}, nil
}

// tokenAccountData lays out a base token account followed by optional
// Token-2022 extension bytes.
func tokenAccountData(mint, owner solana.PublicKey, amount uint64, extensions []byte) []byte {
	data := make([]byte, accountLen)
	copy(data[0:], mint[:])
	copy(data[32:], owner[:])
	binary.LittleEndian.PutUint64(data[64:], amount)
	data[108] = 1 // initialized
	if extensions != nil {
		data = append(data, accountTypeAccount)
		data = append(data, extensions...)
	}
	return data
}

func newSPL(t *testing.T) (*SPL, *fakeRPC, solana.PrivateKey) {
	t.Helper()
	authority, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	fake := &fakeRPC{
		owner:    solana.Token2022ProgramID,
		supply:   "1000",
		balances: make(map[solana.PublicKey]string),
		accounts: make(map[solana.PublicKey][]byte),
	}
	sender := solprogram.NewSender(fake, solprogram.SenderConfig{ConfirmTimeout: time.Second, PollInterval: time.Millisecond})
	s, err := NewSPL(fake, sender, SPLConfig{Mint: pk(0xA3), MintAuthority: authority})
	require.NoError(t, err)
	return s, fake, authority
}

func TestNewSPLValidates(t *testing.T) {
	fake := &fakeRPC{}
	sender := solprogram.NewSender(fake, solprogram.SenderConfig{})
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	_, err = NewSPL(nil, sender, SPLConfig{Mint: pk(1), MintAuthority: key})
	assert.Error(t, err)
	_, err = NewSPL(fake, sender, SPLConfig{MintAuthority: key})
	assert.Error(t, err)
	_, err = NewSPL(fake, sender, SPLConfig{Mint: pk(1)})
	assert.Error(t, err)
}

func TestSPLSupplyAndBalance(t *testing.T) {
	s, fake, _ := newSPL(t)
	ctx := context.Background()

	supply, err := s.Supply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), supply)

	fake.balances[pk(0x11)] = "42"
	balance, err := s.Balance(ctx, pk(0x11))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), balance)

	fake.supply = "not-a-number"
	_, err = s.Supply(ctx)
	assert.Error(t, err)
}

func TestBalances(t *testing.T) {
	fake := &fakeRPC{balances: map[solana.PublicKey]string{pk(0x11): "9"}}
	b := NewBalances(fake)

	balance, err := b.Balance(context.Background(), pk(0x11))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), balance)

	_, err = b.Balance(context.Background(), pk(0x12))
	assert.ErrorIs(t, err, rpc.ErrNotFound)
}

func TestSPLAccount(t *testing.T) {
	s, fake, _ := newSPL(t)
	ctx := context.Background()

	immutable := []byte{extensionImmutableOwner, 0, 0, 0}
	fake.accounts[pk(0x11)] = tokenAccountData(pk(0xA3), pk(1), 77, immutable)
	fake.accounts[pk(0x12)] = tokenAccountData(pk(0xA3), pk(2), 5, nil)

	acct, err := s.Account(ctx, pk(0x11))
	require.NoError(t, err)
	assert.Equal(t, pk(0xA3), acct.Mint)
	assert.Equal(t, pk(1), acct.Owner)
	assert.Equal(t, uint64(77), acct.Amount)
	assert.True(t, acct.ImmutableOwner)

	acct, err = s.Account(ctx, pk(0x12))
	require.NoError(t, err)
	assert.False(t, acct.ImmutableOwner)

	ata, _, err := s.associatedAddress(pk(3), pk(0xA3))
	require.NoError(t, err)
	fake.accounts[ata] = tokenAccountData(pk(0xA3), pk(3), 0, nil)
	acct, err = s.Account(ctx, ata)
	require.NoError(t, err)
	assert.True(t, acct.ImmutableOwner)

	_, err = s.Account(ctx, pk(0x99))
	assert.ErrorIs(t, err, earn.ErrInvalidAccount)

	fake.owner = solana.TokenProgramID
	_, err = s.Account(ctx, pk(0x11))
	assert.ErrorIs(t, err, earn.ErrInvalidAccount)
}

func TestHasImmutableOwnerSkipsOtherExtensions(t *testing.T) {
	other := []byte{3, 0, 2, 0, 0xff, 0xff}
	ext := append(other, extensionImmutableOwner, 0, 0, 0)
	assert.True(t, hasImmutableOwner(tokenAccountData(pk(1), pk(2), 0, ext)))
	assert.False(t, hasImmutableOwner(tokenAccountData(pk(1), pk(2), 0, other)))
}

func TestSPLMintSendsOneTransaction(t *testing.T) {
	s, fake, authority := newSPL(t)

	err := s.Mint(context.Background(),
		earn.Mint{To: pk(0x11), Amount: 48},
		earn.Mint{To: pk(0x21), Amount: 0},
		earn.Mint{To: pk(0x22), Amount: 2},
	)
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)

	tx := fake.sent[0]
	require.Len(t, tx.Message.Instructions, 2)
	assert.Equal(t, authority.PublicKey(), tx.Message.AccountKeys[0])
	for _, ix := range tx.Message.Instructions {
		program, err := tx.ResolveProgramIDIndex(ix.ProgramIDIndex)
		require.NoError(t, err)
		assert.Equal(t, solana.Token2022ProgramID, program)
		assert.Equal(t, byte(7), []byte(ix.Data)[0])
	}
	require.NoError(t, tx.VerifySignatures())

	require.NoError(t, s.Mint(context.Background()))
	assert.Len(t, fake.sent, 1)
}

func TestSPLUnconfirmedMintIsNotRepeated(t *testing.T) {
	ctx := context.Background()
	authority, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	fake := &fakeRPC{
		owner:    solana.Token2022ProgramID,
		supply:   "1000",
		accounts: make(map[solana.PublicKey][]byte),
		pending:  true,
	}
	sender := solprogram.NewSender(fake, solprogram.SenderConfig{ConfirmTimeout: 20 * time.Millisecond, PollInterval: time.Millisecond})
	spl, err := NewSPL(fake, sender, SPLConfig{Mint: pk(0xA3), MintAuthority: authority})
	require.NoError(t, err)

	engine, err := earn.NewEngine(store.NewMemDB(), earn.Config{Token: spl})
	require.NoError(t, err)
	admin, earnAuthority, portal := pk(0xA0), pk(0xA1), pk(0xA2)
	_, err = engine.Initialize(ctx, admin, earn.InitializeParams{
		EarnAuthority: earnAuthority,
		Portal:        portal,
		Mint:          pk(0xA3),
		InitialIndex:  uint256.NewInt(earn.IndexScale),
	})
	require.NoError(t, err)

	tree, err := merkle.NewTree([][32]byte{pk(1)})
	require.NoError(t, err)
	_, err = engine.PropagateIndex(ctx, portal, earn.IndexUpdate{Index: uint256.NewInt(earn.IndexScale), EarnerRoot: tree.Root()})
	require.NoError(t, err)
	immutable := []byte{extensionImmutableOwner, 0, 0, 0}
	fake.accounts[pk(0x11)] = tokenAccountData(pk(0xA3), pk(1), 500, immutable)
	proof, err := tree.Prove(pk(1))
	require.NoError(t, err)
	_, err = engine.AddRegistrarEarner(ctx, pk(1), pk(0x11), proof)
	require.NoError(t, err)

	_, err = engine.PropagateIndex(ctx, portal, earn.IndexUpdate{Index: uint256.NewInt(1_100_000_000_000)})
	require.NoError(t, err)

	_, err = engine.ClaimFor(ctx, earnAuthority, pk(0x11), 500)
	require.ErrorIs(t, err, earn.ErrUnconfirmed)
	assert.False(t, retry.IsRetryable(err))
	require.Len(t, fake.sent, 1)

	_, err = engine.ClaimFor(ctx, earnAuthority, pk(0x11), 500)
	assert.ErrorIs(t, err, earn.ErrAlreadyClaimed)
	assert.Len(t, fake.sent, 1)

	g, err := engine.Global(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), g.Distributed)
}
