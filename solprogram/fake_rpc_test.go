package solprogram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/m0-foundation/solana-m/earn"
)

func pk(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

// fakeRPC serves program accounts from memory and records sent transactions.
type fakeRPC struct {
	mu       sync.Mutex
	owner    solana.PublicKey
	accounts map[solana.PublicKey][]byte
	sent     []*solana.Transaction
	sendErr  error
	statuses []*rpc.SignatureStatusesResult
	polls    int
}

func newFakeRPC(owner solana.PublicKey) *fakeRPC {
	return &fakeRPC{owner: owner, accounts: make(map[solana.PublicKey][]byte)}
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1}}}, nil
}

func (f *fakeRPC) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeRPC) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.statuses) == 0 {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{
			{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
		}}, nil
	}
	next := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{next}}, nil
}

func (f *fakeRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{
		Owner: f.owner,
		Data:  rpc.DataBytesOrJSONFromBytes(data),
	}}, nil
}

func (f *fakeRPC) GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !program.Equals(f.owner) {
		return nil, errors.New("unknown program")
	}
	var out rpc.GetProgramAccountsResult
	for key, data := range f.accounts {
		if !matches(data, opts) {
			continue
		}
		out = append(out, &rpc.KeyedAccount{
			Pubkey:  key,
			Account: &rpc.Account{Owner: f.owner, Data: rpc.DataBytesOrJSONFromBytes(data)},
		})
	}
	return out, nil
}

func matches(data []byte, opts *rpc.GetProgramAccountsOpts) bool {
	if opts == nil {
		return true
	}
	for _, filter := range opts.Filters {
		if filter.DataSize != 0 && uint64(len(data)) != filter.DataSize {
			return false
		}
		if m := filter.Memcmp; m != nil {
			end := int(m.Offset) + len(m.Bytes)
			if end > len(data) || string(data[m.Offset:end]) != string(m.Bytes) {
				return false
			}
		}
	}
	return true
}

// harness is a program client backed by fakeRPC.
type harness struct {
	rpc       *fakeRPC
	client    *Client
	sender    *Sender
	authority solana.PrivateKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	programID := solana.MustPublicKeyFromBase58(EarnProgramID)
	fake := newFakeRPC(programID)
	client, err := NewClientWithRPC(fake, "", "devnet")
	require.NoError(t, err)
	authority, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &harness{
		rpc:    fake,
		client: client,
		sender: NewSender(fake, SenderConfig{
			Network:        "devnet",
			ConfirmTimeout: time.Second,
			PollInterval:   time.Millisecond,
		}),
		authority: authority,
	}
}

func (h *harness) putGlobal(t *testing.T, g *earn.Global) {
	t.Helper()
	addr, _, err := h.client.DeriveGlobalPDA()
	require.NoError(t, err)
	data, err := earn.EncodeGlobal(g)
	require.NoError(t, err)
	h.rpc.accounts[addr] = data
}

func (h *harness) putEarner(t *testing.T, e *earn.Earner) {
	t.Helper()
	addr, _, err := h.client.DeriveEarnerPDA(e.UserTokenAccount)
	require.NoError(t, err)
	data, err := earn.EncodeEarner(e)
	require.NoError(t, err)
	h.rpc.accounts[addr] = data
}

func (h *harness) putManager(t *testing.T, m *earn.EarnManager) {
	t.Helper()
	addr, _, err := h.client.DeriveEarnManagerPDA(m.Manager)
	require.NoError(t, err)
	data, err := earn.EncodeEarnManager(m)
	require.NoError(t, err)
	h.rpc.accounts[addr] = data
}

// openCycle stores a global record with an open cycle at index 1.1.
func (h *harness) openCycle(t *testing.T, maxYield uint64) *earn.Global {
	t.Helper()
	g := &earn.Global{
		EarnAuthority: h.authority.PublicKey(),
		Mint:          pk(0xA3),
		Index:         *uint256.NewInt(1_100_000_000_000),
		Timestamp:     1_700_000_000,
		MaxSupply:     1000,
		MaxYield:      maxYield,
	}
	h.putGlobal(t, g)
	return g
}

func earnerAt(user, tokenAccount solana.PublicKey, sponsor earn.Sponsor) *earn.Earner {
	return &earn.Earner{
		User:             user,
		UserTokenAccount: tokenAccount,
		Recipient:        earn.DefaultRecipient{},
		Sponsor:          sponsor,
		LastClaimIndex:   *uint256.NewInt(earn.IndexScale),
		IsEarning:        true,
	}
}
