package solprogram

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m0-foundation/solana-m/earn"
)

func newEarnClient(t *testing.T, h *harness) *EarnClient {
	t.Helper()
	c, err := NewEarnClient(EarnClientConfig{Client: h.client, Sender: h.sender, Authority: h.authority})
	require.NoError(t, err)
	return c
}

func TestNewEarnClientValidates(t *testing.T) {
	h := newHarness(t)
	_, err := NewEarnClient(EarnClientConfig{Sender: h.sender, Authority: h.authority})
	assert.Error(t, err)
	_, err = NewEarnClient(EarnClientConfig{Client: h.client, Authority: h.authority})
	assert.Error(t, err)
	_, err = NewEarnClient(EarnClientConfig{Client: h.client, Sender: h.sender})
	assert.Error(t, err)
}

func TestNewClientWithRPCDefaults(t *testing.T) {
	c, err := NewClientWithRPC(newFakeRPC(solana.PublicKey{}), "", "mainnet")
	require.NoError(t, err)
	assert.Equal(t, solana.MustPublicKeyFromBase58(EarnProgramID), c.ProgramID)
	assert.Equal(t, solana.Token2022ProgramID, c.TokenProgram)

	sig := solana.Signature{1}
	assert.Equal(t, "https://explorer.solana.com/tx/"+sig.String(), c.ExplorerURL(sig))
	assert.Equal(t, "https://explorer.solana.com/tx/"+sig.String()+"?cluster=devnet", ExplorerURL("devnet", sig))

	_, err = NewClientWithRPC(newFakeRPC(solana.PublicKey{}), "not-a-key", "devnet")
	assert.Error(t, err)
}

func TestEarnClientGlobal(t *testing.T) {
	h := newHarness(t)
	c := newEarnClient(t, h)
	ctx := context.Background()

	_, err := c.Global(ctx)
	assert.ErrorIs(t, err, earn.ErrNotInitialized)

	want := h.openCycle(t, 100)
	got, err := c.Global(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEarnClientRejectsForeignAccounts(t *testing.T) {
	h := newHarness(t)
	h.openCycle(t, 100)
	h.rpc.owner = pk(0x77)

	_, err := h.client.GetGlobal(context.Background())
	assert.ErrorIs(t, err, earn.ErrInvalidAccount)
}

func TestEarnClientPendingEarners(t *testing.T) {
	h := newHarness(t)
	c := newEarnClient(t, h)
	g := h.openCycle(t, 100)

	h.putEarner(t, earnerAt(pk(2), pk(0x12), earn.Registrar{}))
	h.putEarner(t, earnerAt(pk(1), pk(0x11), earn.Registrar{}))
	settled := earnerAt(pk(3), pk(0x13), earn.Registrar{})
	settled.LastClaimIndex = g.Index
	h.putEarner(t, settled)
	disabled := earnerAt(pk(4), pk(0x14), earn.Registrar{})
	disabled.IsEarning = false
	h.putEarner(t, disabled)
	h.putManager(t, &earn.EarnManager{Manager: pk(0x20), IsActive: true})

	pending, err := c.PendingEarners(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, pk(0x11), pending[0].UserTokenAccount)
	assert.Equal(t, pk(0x12), pending[1].UserTokenAccount)
}

func TestEarnClientSimulateClaims(t *testing.T) {
	h := newHarness(t)
	c := newEarnClient(t, h)
	h.openCycle(t, 100)
	h.putEarner(t, earnerAt(pk(1), pk(0x11), earn.Registrar{}))
	h.putEarner(t, earnerAt(pk(2), pk(0x12), earn.Managed{Manager: pk(0x20)}))
	h.putManager(t, &earn.EarnManager{Manager: pk(0x20), IsActive: true, FeeBps: 500, FeeTokenAccount: pk(0x21)})
	ctx := context.Background()

	claims, err := c.SimulateClaims(ctx, map[solana.PublicKey]uint64{pk(0x12): 500, pk(0x11): 300})
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, uint64(30), claims[0].Amount)
	assert.Equal(t, uint64(48), claims[1].Amount)
	assert.Equal(t, uint64(2), claims[1].Fee)
	assert.Equal(t, pk(0x21), claims[1].FeeTokenAccount)

	_, err = c.SimulateClaims(ctx, map[solana.PublicKey]uint64{pk(0x11): 600, pk(0x12): 500})
	assert.ErrorIs(t, err, earn.ErrExceedsMaxYield)

	_, err = c.SimulateClaims(ctx, map[solana.PublicKey]uint64{pk(0x99): 1})
	assert.ErrorIs(t, err, earn.ErrInvalidAccount)
}

func TestEarnClientClaimFor(t *testing.T) {
	h := newHarness(t)
	c := newEarnClient(t, h)
	h.openCycle(t, 100)
	h.putEarner(t, earnerAt(pk(1), pk(0x11), earn.Registrar{}))
	ctx := context.Background()

	_, err := c.ClaimFor(ctx, pk(0x55), pk(0x11), 500)
	assert.ErrorIs(t, err, earn.ErrNotAuthorized)
	_, err = c.ClaimFor(ctx, c.Authority(), pk(0x99), 500)
	assert.ErrorIs(t, err, earn.ErrInvalidAccount)
	_, err = c.ClaimFor(ctx, c.Authority(), pk(0x11), 5000)
	assert.ErrorIs(t, err, earn.ErrExceedsMaxYield)
	require.Empty(t, h.rpc.sent)

	claim, err := c.ClaimFor(ctx, c.Authority(), pk(0x11), 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), claim.Amount)
	require.Len(t, h.rpc.sent, 1)

	tx := h.rpc.sent[0]
	require.Len(t, tx.Signatures, 1)
	assert.Equal(t, c.Authority(), tx.Message.AccountKeys[0])
}

func TestEarnClientClaimForDecodesProgramErrors(t *testing.T) {
	h := newHarness(t)
	c := newEarnClient(t, h)
	h.openCycle(t, 100)
	h.putEarner(t, earnerAt(pk(1), pk(0x11), earn.Registrar{}))

	h.rpc.sendErr = errors.New("Transaction simulation failed: custom program error: 0x1770")
	_, err := c.ClaimFor(context.Background(), c.Authority(), pk(0x11), 500)
	assert.ErrorIs(t, err, earn.ErrAlreadyClaimed)
}

func TestEarnClientCompleteClaims(t *testing.T) {
	h := newHarness(t)
	c := newEarnClient(t, h)

	assert.ErrorIs(t, c.CompleteClaims(context.Background(), pk(0x55)), earn.ErrNotAuthorized)

	h.rpc.statuses = []*rpc.SignatureStatusesResult{
		{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
		{ConfirmationStatus: rpc.ConfirmationStatusFinalized},
	}
	require.NoError(t, c.CompleteClaims(context.Background(), c.Authority()))
	require.Len(t, h.rpc.sent, 1)
	assert.Equal(t, 2, h.rpc.polls)
}

func TestEarnClientRemoveOrphanedEarner(t *testing.T) {
	h := newHarness(t)
	c := newEarnClient(t, h)
	h.putEarner(t, earnerAt(pk(1), pk(0x11), earn.Registrar{}))
	h.putEarner(t, earnerAt(pk(2), pk(0x12), earn.Managed{Manager: pk(0x20)}))
	ctx := context.Background()

	err := c.RemoveOrphanedEarner(ctx, pk(0x11))
	assert.ErrorIs(t, err, earn.ErrNotAuthorized)
	assert.Empty(t, h.rpc.sent)

	require.NoError(t, c.RemoveOrphanedEarner(ctx, pk(0x12)))
	assert.Len(t, h.rpc.sent, 1)
}

func TestEarnClientListsAccounts(t *testing.T) {
	h := newHarness(t)
	c := newEarnClient(t, h)
	h.putEarner(t, earnerAt(pk(1), pk(0x11), earn.Registrar{}))
	h.putEarner(t, earnerAt(pk(2), pk(0x12), earn.Managed{Manager: pk(0x20)}))
	ctx := context.Background()

	earners, err := c.Earners(ctx)
	require.NoError(t, err)
	assert.Len(t, earners, 2)

	managers, err := c.EarnManagers(ctx)
	require.NoError(t, err)
	assert.Empty(t, managers)
}
