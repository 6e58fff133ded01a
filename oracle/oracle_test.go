package oracle

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/merkle"
	"github.com/m0-foundation/solana-m/retry"
	"github.com/m0-foundation/solana-m/store"
	"github.com/m0-foundation/solana-m/token"
)

func pk(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

func TestDecodeIndexTransfer(t *testing.T) {
	index := uint256.NewInt(1_050_000_000_000)
	payload, err := EncodeIndexTransfer(earn.IndexUpdate{Index: index})
	require.NoError(t, err)
	require.Len(t, payload, 20)
	assert.Equal(t, []byte("M0IT"), payload[:4])

	update, err := DecodeIndexTransfer(payload)
	require.NoError(t, err)
	assert.True(t, update.Index.Eq(index))
	assert.True(t, update.EarnerRoot.IsZero())

	withRoots := append(bytes.Clone(payload), bytes.Repeat([]byte{1}, 32)...)
	update, err = DecodeIndexTransfer(withRoots)
	require.NoError(t, err)
	assert.Equal(t, byte(1), update.EarnerRoot[0])
	assert.True(t, update.ManagerRoot.IsZero())

	withRoots = append(withRoots, bytes.Repeat([]byte{2}, 32)...)
	update, err = DecodeIndexTransfer(withRoots)
	require.NoError(t, err)
	assert.Equal(t, byte(2), update.ManagerRoot[31])

	again, err := EncodeIndexTransfer(update)
	require.NoError(t, err)
	assert.Equal(t, withRoots, again)
}

func TestDecodeIndexTransferHighBits(t *testing.T) {
	payload := append([]byte("M0IT"), make([]byte, 16)...)
	payload[4] = 0x01
	payload[19] = 0x02
	update, err := DecodeIndexTransfer(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<56, update.Index[1])
	assert.Equal(t, uint64(2), update.Index[0])
}

func TestDecodeIndexTransferRootsTimestamp(t *testing.T) {
	payload, err := EncodeIndexTransfer(earn.IndexUpdate{
		Index:          uint256.NewInt(1_050_000_000_000),
		EarnerRoot:     merkle.Hash{3},
		RootsTimestamp: 1_700_000_000,
	})
	require.NoError(t, err)
	require.Len(t, payload, 92)

	update, err := DecodeIndexTransfer(payload)
	require.NoError(t, err)
	assert.Equal(t, merkle.Hash{3}, update.EarnerRoot)
	assert.True(t, update.ManagerRoot.IsZero())
	assert.Equal(t, uint64(1_700_000_000), update.RootsTimestamp)
}

func TestDecodeIndexTransferRejects(t *testing.T) {
	good, err := EncodeIndexTransfer(earn.IndexUpdate{Index: uint256.NewInt(1)})
	require.NoError(t, err)

	for name, payload := range map[string][]byte{
		"empty":       nil,
		"short":       good[:19],
		"odd tail":    append(bytes.Clone(good), 1),
		"bad prefix":  append([]byte("M0XX"), good[4:]...),
		"token tx":    append([]byte("M0MT"), good[4:]...),
		"three roots": append(bytes.Clone(good), make([]byte, 96)...),
		"zero stamp":  append(bytes.Clone(good), make([]byte, 72)...),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeIndexTransfer(payload)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}

	_, err = EncodeIndexTransfer(earn.IndexUpdate{Index: new(uint256.Int).Lsh(uint256.NewInt(1), 130)})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestListKey(t *testing.T) {
	key, err := ListKey("earners")
	require.NoError(t, err)
	assert.Equal(t, EarnersList, key)
	assert.Equal(t, []byte("solana-earners"), bytes.TrimRight(key[:], "\x00"))

	key, err = ListKey("managers")
	require.NoError(t, err)
	assert.Equal(t, ManagersList, key)

	_, err = ListKey("other")
	assert.Error(t, err)
}

// fakeCaller answers contract calls by method selector.
type fakeCaller struct {
	index   *big.Int
	roots   map[[32]byte][32]byte
	lists   map[[32]byte][][32]byte
	time    uint64
	failErr error
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	for _, contract := range []abi.ABI{mTokenContract, registrarContract} {
		method, err := contract.MethodById(msg.Data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		switch method.Name {
		case "currentIndex":
			return method.Outputs.Pack(f.index)
		case "getRoot":
			return method.Outputs.Pack(f.roots[args[0].([32]byte)])
		case "getList":
			return method.Outputs.Pack(f.lists[args[0].([32]byte)])
		}
	}
	return nil, errors.New("unknown method")
}

func (f *fakeCaller) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return &types.Header{Time: f.time}, nil
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		index: big.NewInt(1_100_000_000_000),
		roots: map[[32]byte][32]byte{
			EarnersList:  {1},
			ManagersList: {2},
		},
		lists: map[[32]byte][][32]byte{
			EarnersList: {pk(1), pk(2)},
		},
		time: 1_700_000_500,
	}
}

func TestEVMSourceSnapshot(t *testing.T) {
	caller := newFakeCaller()
	src, err := NewEVMSourceWithClient(caller,
		"0x866A2BF4E572CbcF37D5071A7a58503Bfb36be1b",
		"0x119FbeeDD4F4f4298Fb59B720d5654442b81ae2c")
	require.NoError(t, err)
	ctx := context.Background()

	snap, err := src.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_100_000_000_000), snap.Index.Uint64())
	assert.Equal(t, merkle.Hash{1}, snap.EarnerRoot)
	assert.Equal(t, merkle.Hash{2}, snap.ManagerRoot)
	assert.Equal(t, uint64(1_700_000_500), snap.Timestamp)

	list, err := src.List(ctx, EarnersList)
	require.NoError(t, err)
	assert.Equal(t, [][32]byte{pk(1), pk(2)}, list)
	require.NoError(t, src.HealthCheck(ctx))

	caller.failErr = errors.New("connection refused")
	_, err = src.Snapshot(ctx)
	assert.Error(t, err)
	assert.True(t, retry.IsRetryable(err))
	assert.Error(t, src.HealthCheck(ctx))
}

func TestNewEVMSourceValidatesAddresses(t *testing.T) {
	_, err := NewEVMSourceWithClient(newFakeCaller(), "nope", "0x119FbeeDD4F4f4298Fb59B720d5654442b81ae2c")
	assert.Error(t, err)
	_, err = NewEVMSourceWithClient(newFakeCaller(), "0x866A2BF4E572CbcF37D5071A7a58503Bfb36be1b", "")
	assert.Error(t, err)
}

type staticSource struct {
	snap  *Snapshot
	fails int
	calls int
}

func (s *staticSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.calls++
	if s.calls <= s.fails {
		return nil, errors.New("service unavailable")
	}
	return s.snap, nil
}

type relayFixture struct {
	engine *earn.Engine
	clock  *clockwork.FakeClock
	portal solana.PublicKey
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	f := &relayFixture{
		clock:  clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
		portal: pk(0xA2),
	}
	engine, err := earn.NewEngine(store.NewMemDB(), earn.Config{
		Token: token.NewMemory(pk(0xA3), 1000),
		Clock: f.clock,
	})
	require.NoError(t, err)
	_, err = engine.Initialize(context.Background(), pk(0xA0), earn.InitializeParams{
		EarnAuthority: pk(0xA1),
		Portal:        f.portal,
		Mint:          pk(0xA3),
		InitialIndex:  uint256.NewInt(earn.IndexScale),
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

func TestRelayOnceOpensCycle(t *testing.T) {
	f := newRelayFixture(t)
	src := &staticSource{
		fails: 1,
		snap: &Snapshot{
			Index:      uint256.NewInt(1_100_000_000_000),
			EarnerRoot: merkle.Hash{7},
			Timestamp:  1_700_000_000,
		},
	}
	relayer, err := NewRelayer(RelayerConfig{
		Source: src,
		Ledger: f.engine,
		Portal: f.portal,
		Retry:  retry.Config{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Clock:  f.clock,
	})
	require.NoError(t, err)

	result, err := relayer.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Opened)
	assert.True(t, result.RootsUpdated)
	assert.Equal(t, 2, src.calls)

	g, err := f.engine.Global(context.Background())
	require.NoError(t, err)
	assert.Equal(t, merkle.Hash{7}, g.EarnerRoot)
	assert.Equal(t, uint64(100), g.MaxYield)

	result, err = relayer.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Opened)
}

func TestBridgeRootsAfterRelayer(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	hubTime := uint64(1_700_000_000)
	relayer, err := NewRelayer(RelayerConfig{
		Source: &staticSource{snap: &Snapshot{
			Index:      uint256.NewInt(earn.IndexScale),
			EarnerRoot: merkle.Hash{7},
			Timestamp:  hubTime,
		}},
		Ledger: f.engine,
		Portal: f.portal,
		Clock:  f.clock,
	})
	require.NoError(t, err)
	_, err = relayer.RelayOnce(ctx)
	require.NoError(t, err)

	deliver := func(update earn.IndexUpdate) *earn.PropagationResult {
		t.Helper()
		payload, err := EncodeIndexTransfer(update)
		require.NoError(t, err)
		decoded, err := DecodeIndexTransfer(payload)
		require.NoError(t, err)
		result, err := relayer.Propagate(ctx, decoded)
		require.NoError(t, err)
		return result
	}
	earnerRoot := func() merkle.Hash {
		g, err := f.engine.Global(ctx)
		require.NoError(t, err)
		return g.EarnerRoot
	}

	f.clock.Advance(time.Hour)
	index := uint256.NewInt(earn.IndexScale)
	assert.False(t, deliver(earn.IndexUpdate{Index: index, EarnerRoot: merkle.Hash{8}}).RootsUpdated)
	assert.Equal(t, merkle.Hash{7}, earnerRoot())

	assert.False(t, deliver(earn.IndexUpdate{Index: index, EarnerRoot: merkle.Hash{8}, RootsTimestamp: hubTime - 1}).RootsUpdated)
	assert.Equal(t, merkle.Hash{7}, earnerRoot())

	assert.True(t, deliver(earn.IndexUpdate{Index: index, EarnerRoot: merkle.Hash{9}, RootsTimestamp: hubTime + 1}).RootsUpdated)
	assert.Equal(t, merkle.Hash{9}, earnerRoot())

	// the relayer's older hub reading no longer applies
	result, err := relayer.RelayOnce(ctx)
	require.NoError(t, err)
	assert.False(t, result.RootsUpdated)
	assert.Equal(t, merkle.Hash{9}, earnerRoot())
}

func TestRelayerRejectsWrongPortal(t *testing.T) {
	f := newRelayFixture(t)
	relayer, err := NewRelayer(RelayerConfig{
		Source: &staticSource{snap: &Snapshot{Index: uint256.NewInt(1_100_000_000_000)}},
		Ledger: f.engine,
		Portal: pk(0x55),
		Clock:  f.clock,
	})
	require.NoError(t, err)

	_, err = relayer.RelayOnce(context.Background())
	assert.ErrorIs(t, err, earn.ErrNotAuthorized)
}

func TestRelayerRunStopsOnCancel(t *testing.T) {
	f := newRelayFixture(t)
	src := &staticSource{snap: &Snapshot{Index: uint256.NewInt(1_100_000_000_000)}}
	relayer, err := NewRelayer(RelayerConfig{
		Source:       src,
		Ledger:       f.engine,
		Portal:       f.portal,
		PollInterval: time.Minute,
		Clock:        f.clock,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relayer.Run(ctx) }()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		g, err := f.engine.Global(context.Background())
		return err == nil && !g.ClaimComplete
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relayer did not stop")
	}
}

func TestNewRelayerValidates(t *testing.T) {
	_, err := NewRelayer(RelayerConfig{Ledger: &earn.Engine{}, Portal: pk(1)})
	assert.Error(t, err)
	_, err = NewRelayer(RelayerConfig{Source: &staticSource{}, Ledger: &earn.Engine{}})
	assert.Error(t, err)
}
