// Package token provides the mint capability the earn ledger settles through:
// an in-memory ledger for local nodes and tests, and SPL minting over RPC.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/earn"
)

// ErrAccountExists is returned when opening an address twice.
var ErrAccountExists = errors.New("token: account already exists")

// Memory is an in-memory token ledger for a single mint.
type Memory struct {
	mu       sync.Mutex
	mint     solana.PublicKey
	supply   uint64
	accounts map[solana.PublicKey]earn.TokenAccount
	failure  error
}

// NewMemory creates a ledger whose supply starts at supply. Tokens outside
// any opened account count toward supply only.
func NewMemory(mint solana.PublicKey, supply uint64) *Memory {
	return &Memory{
		mint:     mint,
		supply:   supply,
		accounts: make(map[solana.PublicKey]earn.TokenAccount),
	}
}

// Open creates an empty token account of the ledger's mint.
func (m *Memory) Open(owner, address solana.PublicKey, immutableOwner bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[address]; ok {
		return fmt.Errorf("%s: %w", address, ErrAccountExists)
	}
	m.accounts[address] = earn.TokenAccount{
		Address:        address,
		Mint:           m.mint,
		Owner:          owner,
		ImmutableOwner: immutableOwner,
	}
	return nil
}

// SetBalance overwrites the balance of an account, moving supply by the
// difference.
func (m *Memory) SetBalance(address solana.PublicKey, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[address]
	if !ok {
		return fmt.Errorf("token account %s: %w", address, earn.ErrInvalidAccount)
	}
	if amount >= acct.Amount {
		supply, carry := bits.Add64(m.supply, amount-acct.Amount, 0)
		if carry != 0 {
			return earn.ErrMathOverflow
		}
		m.supply = supply
	} else {
		m.supply -= acct.Amount - amount
	}
	acct.Amount = amount
	m.accounts[address] = acct
	return nil
}

// SetFailure makes every following Mint fail with err until it is cleared
// with nil.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *Memory) Supply(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply, nil
}

func (m *Memory) Account(ctx context.Context, address solana.PublicKey) (earn.TokenAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[address]
	if !ok {
		return earn.TokenAccount{}, fmt.Errorf("token account %s: %w", address, earn.ErrInvalidAccount)
	}
	return acct, nil
}

// Balance returns the amount held by address.
func (m *Memory) Balance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	acct, err := m.Account(ctx, address)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

// Mint credits every destination or none. It fails on an unknown account
// or when a balance or the supply would overflow.
func (m *Memory) Mint(ctx context.Context, mints ...earn.Mint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}

	next := make(map[solana.PublicKey]uint64, len(mints))
	supply := m.supply
	for _, mint := range mints {
		acct, ok := m.accounts[mint.To]
		if !ok {
			return fmt.Errorf("token account %s: %w", mint.To, earn.ErrInvalidAccount)
		}
		balance, seen := next[mint.To]
		if !seen {
			balance = acct.Amount
		}
		var carry uint64
		if balance, carry = bits.Add64(balance, mint.Amount, 0); carry != 0 {
			return earn.ErrMathOverflow
		}
		if supply, carry = bits.Add64(supply, mint.Amount, 0); carry != 0 {
			return earn.ErrMathOverflow
		}
		next[mint.To] = balance
	}

	for address, balance := range next {
		acct := m.accounts[address]
		acct.Amount = balance
		m.accounts[address] = acct
	}
	m.supply = supply
	return nil
}
