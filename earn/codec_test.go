package earn

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m0-foundation/solana-m/merkle"
)

func TestGlobalLayout(t *testing.T) {
	g := &Global{
		Admin:          pk(1),
		EarnAuthority:  pk(2),
		Portal:         pk(3),
		Mint:           pk(4),
		Index:          *uint256.NewInt(1_100_000_000_000),
		Timestamp:      5,
		ClaimCooldown:  6,
		MaxSupply:      7,
		MaxYield:       8,
		Distributed:    9,
		ClaimComplete:  true,
		EarnerRoot:     merkle.HashLeaf([32]byte{1}),
		ManagerRoot:    merkle.HashLeaf([32]byte{2}),
		RootsUpdatedAt: 10,
	}
	data, err := EncodeGlobal(g)
	require.NoError(t, err)
	require.Len(t, data, GlobalSize)

	disc := AccountDiscriminator(GlobalAccountName)
	assert.Equal(t, disc[:], data[:8])
	assert.Equal(t, byte(1), data[8])

	decoded, err := DecodeGlobal(data)
	require.NoError(t, err)
	assert.Equal(t, g, decoded)
}

func TestEarnerLayoutZeroesAbsentOptionals(t *testing.T) {
	e := &Earner{
		User:             pk(1),
		UserTokenAccount: pk(2),
		Recipient:        DefaultRecipient{},
		Sponsor:          Registrar{},
		LastClaimIndex:   *uint256.NewInt(IndexScale),
		IsEarning:        true,
	}
	data, err := EncodeEarner(e)
	require.NoError(t, err)
	require.Len(t, data, EarnerSize)

	optionals := data[8+64 : 8+64+66]
	assert.Equal(t, make([]byte, 66), optionals)

	decoded, err := DecodeEarner(data)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

func TestEarnerLayoutWithOptionals(t *testing.T) {
	e := &Earner{
		User:               pk(1),
		UserTokenAccount:   pk(2),
		Recipient:          OverrideRecipient{Account: pk(3)},
		Sponsor:            Managed{Manager: pk(4)},
		LastClaimIndex:     *new(uint256.Int).Lsh(uint256.NewInt(1), 127),
		LastClaimTimestamp: 42,
	}
	data, err := EncodeEarner(e)
	require.NoError(t, err)
	assert.Equal(t, byte(1), data[8+64])
	assert.Equal(t, byte(3), data[8+64+1])
	assert.Equal(t, byte(1), data[8+64+33])

	decoded, err := DecodeEarner(data)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

func TestEarnManagerLayout(t *testing.T) {
	m := &EarnManager{Manager: pk(1), IsActive: true, FeeBps: 500, FeeTokenAccount: pk(2)}
	data, err := EncodeEarnManager(m)
	require.NoError(t, err)
	require.Len(t, data, EarnManagerSize)

	decoded, err := DecodeEarnManager(data)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestDecodeRejectsWrongRecord(t *testing.T) {
	data, err := EncodeEarnManager(&EarnManager{Manager: pk(1)})
	require.NoError(t, err)

	_, err = DecodeEarner(data)
	assert.Error(t, err)
	_, err = DecodeGlobal(data[:4])
	assert.Error(t, err)
}

func TestEncodeRejectsWideIndex(t *testing.T) {
	e := &Earner{LastClaimIndex: *new(uint256.Int).Lsh(uint256.NewInt(1), 128)}
	_, err := EncodeEarner(e)
	assert.ErrorIs(t, err, ErrMathOverflow)
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, 6000, ErrAlreadyClaimed.Code)
	assert.Equal(t, 6011, ErrMutableOwner.Code)
	assert.Equal(t, 6014, ErrNotInitialized.Code)

	for code := 6000; code <= 6014; code++ {
		e, ok := ErrorByCode(code)
		require.True(t, ok, "code %d", code)
		got, ok := CodeOf(e)
		require.True(t, ok)
		assert.Equal(t, code, got)
	}
	_, ok := ErrorByCode(6015)
	assert.False(t, ok)
	assert.False(t, IsDomainError(assert.AnError))
}
