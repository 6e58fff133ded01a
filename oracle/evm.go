// Package oracle reads the earn index and list roots from the EVM hub chain
// and relays them into the ledger.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/m0-foundation/solana-m/merkle"
)

// Registrar list keys, right padded to bytes32.
var (
	EarnersList  = listKey("solana-earners")
	ManagersList = listKey("solana-earn-managers")
)

func listKey(name string) [32]byte {
	var k [32]byte
	copy(k[:], name)
	return k
}

// ListKey maps a short list name used by tools and the API to its registrar key.
func ListKey(name string) ([32]byte, error) {
	switch name {
	case "earners":
		return EarnersList, nil
	case "managers", "earn-managers":
		return ManagersList, nil
	}
	return [32]byte{}, fmt.Errorf("unknown list %q", name)
}

const mTokenABI = `[
	{"inputs":[],"name":"currentIndex","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"}
]`

const registrarABI = `[
	{"inputs":[{"internalType":"bytes32","name":"list","type":"bytes32"}],"name":"getRoot","outputs":[{"internalType":"bytes32","name":"root","type":"bytes32"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"list","type":"bytes32"}],"name":"getList","outputs":[{"internalType":"bytes32[]","name":"list","type":"bytes32[]"}],"stateMutability":"view","type":"function"}
]`

var (
	mTokenContract    = mustABI(mTokenABI)
	registrarContract = mustABI(registrarABI)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Snapshot is one reading of the hub chain state.
type Snapshot struct {
	Index       *uint256.Int
	EarnerRoot  merkle.Hash
	ManagerRoot merkle.Hash
	// Timestamp is the hub block time the roots were read at.
	Timestamp uint64
}

// Source yields the latest index and roots.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Caller is the subset of ethclient.Client used by EVMSource.
type Caller interface {
	ethereum.ContractCaller
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// EVMSource reads the M token and registrar contracts.
type EVMSource struct {
	client    Caller
	mToken    common.Address
	registrar common.Address
}

type EVMConfig struct {
	RPCURL           string
	MTokenAddress    string
	RegistrarAddress string
}

// NewEVMSource dials the hub chain RPC.
func NewEVMSource(ctx context.Context, cfg EVMConfig) (*EVMSource, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial evm rpc: %w", err)
	}
	return NewEVMSourceWithClient(client, cfg.MTokenAddress, cfg.RegistrarAddress)
}

func NewEVMSourceWithClient(client Caller, mToken, registrar string) (*EVMSource, error) {
	if !common.IsHexAddress(mToken) {
		return nil, fmt.Errorf("invalid m token address %q", mToken)
	}
	if !common.IsHexAddress(registrar) {
		return nil, fmt.Errorf("invalid registrar address %q", registrar)
	}
	return &EVMSource{
		client:    client,
		mToken:    common.HexToAddress(mToken),
		registrar: common.HexToAddress(registrar),
	}, nil
}

func (s *EVMSource) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(values))
	}
	return values, nil
}

// CurrentIndex reads currentIndex() from the M token.
func (s *EVMSource) CurrentIndex(ctx context.Context) (*uint256.Int, error) {
	values, err := s.call(ctx, mTokenContract, s.mToken, "currentIndex")
	if err != nil {
		return nil, err
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("currentIndex returned %T", values[0])
	}
	index, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, errors.New("currentIndex overflows 256 bits")
	}
	return index, nil
}

// Root reads getRoot(list) from the registrar.
func (s *EVMSource) Root(ctx context.Context, list [32]byte) (merkle.Hash, error) {
	values, err := s.call(ctx, registrarContract, s.registrar, "getRoot", list)
	if err != nil {
		return merkle.Hash{}, err
	}
	root, ok := values[0].([32]byte)
	if !ok {
		return merkle.Hash{}, fmt.Errorf("getRoot returned %T", values[0])
	}
	return merkle.Hash(root), nil
}

// List reads getList(list) from the registrar. Entries are Solana addresses.
func (s *EVMSource) List(ctx context.Context, list [32]byte) ([][32]byte, error) {
	values, err := s.call(ctx, registrarContract, s.registrar, "getList", list)
	if err != nil {
		return nil, err
	}
	entries, ok := values[0].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("getList returned %T", values[0])
	}
	return entries, nil
}

// HealthCheck fetches the latest header.
func (s *EVMSource) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeaderByNumber(ctx, nil); err != nil {
		return fmt.Errorf("evm rpc unreachable: %w", err)
	}
	return nil
}

// Snapshot reads the index and both roots at the latest block.
func (s *EVMSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	index, err := s.CurrentIndex(ctx)
	if err != nil {
		return nil, err
	}
	earnerRoot, err := s.Root(ctx, EarnersList)
	if err != nil {
		return nil, err
	}
	managerRoot, err := s.Root(ctx, ManagersList)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Index:       index,
		EarnerRoot:  earnerRoot,
		ManagerRoot: managerRoot,
		Timestamp:   header.Time,
	}, nil
}
