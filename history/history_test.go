package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m0-foundation/solana-m/earn"
)

func pk(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

func newRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	repo, err := Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func claimOf(tokenAccount solana.PublicKey, amount, fee uint64) earn.RewardsClaim {
	c := earn.RewardsClaim{
		TokenAccount: tokenAccount,
		Recipient:    tokenAccount,
		Amount:       amount,
		Fee:          fee,
		Index:        *uint256.NewInt(1_100_000_000_000),
		Timestamp:    1_700_000_000,
	}
	if fee > 0 {
		c.Manager = pk(0x20)
		c.FeeTokenAccount = pk(0x21)
	}
	return c
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ", nil)
	assert.ErrorIs(t, err, ErrDSNRequired)
}

func TestRecordClaim(t *testing.T) {
	repo := newRepository(t)
	runID := uuid.NewString()
	ctx := WithRunID(context.Background(), runID)

	require.NoError(t, repo.RecordClaim(ctx, claimOf(pk(0x11), 48, 2)))
	require.NoError(t, repo.RecordClaim(ctx, claimOf(pk(0x12), 30, 0)))
	require.NoError(t, repo.RecordClaim(context.Background(), claimOf(pk(0x11), 10, 0)))

	records, err := repo.ListByTokenAccount(context.Background(), pk(0x11), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(10), records[0].Amount)
	assert.Empty(t, records[0].RunID)
	assert.Empty(t, records[0].Manager)

	first := records[1]
	assert.Equal(t, runID, first.RunID)
	assert.Equal(t, uint64(48), first.Amount)
	assert.Equal(t, uint64(2), first.Fee)
	assert.Equal(t, pk(0x20).String(), first.Manager)
	assert.Equal(t, pk(0x21).String(), first.FeeTokenAccount)
	assert.Equal(t, "1100000000000", first.Index)

	limited, err := repo.ListByTokenAccount(context.Background(), pk(0x11), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	run, err := repo.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, run, 2)
	assert.Equal(t, pk(0x11).String(), run[0].TokenAccount)
	assert.Equal(t, pk(0x12).String(), run[1].TokenAccount)

	amount, fee, err := repo.Totals(context.Background(), pk(0x11))
	require.NoError(t, err)
	assert.Equal(t, uint64(58), amount)
	assert.Equal(t, uint64(2), fee)

	amount, fee, err = repo.Totals(context.Background(), pk(0x99))
	require.NoError(t, err)
	assert.Zero(t, amount)
	assert.Zero(t, fee)
}

func TestRunIDFromEmptyContext(t *testing.T) {
	assert.Empty(t, RunIDFrom(context.Background()))
	assert.Equal(t, "abc", RunIDFrom(WithRunID(context.Background(), "abc")))
}
