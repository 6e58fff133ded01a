package earn

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/m0-foundation/solana-m/logger"
	"github.com/m0-foundation/solana-m/store"
)

// ErrRecordNotFound is returned by lookups of absent earner or manager records.
var ErrRecordNotFound = errors.New("earn: record not found")

// ErrUnconfirmed marks a submitted transaction whose outcome is unknown. It
// may still land, so it must not be resubmitted as if it had failed.
var ErrUnconfirmed = errors.New("earn: transaction not confirmed")

// Config wires the collaborators of an Engine.
type Config struct {
	Token  Token
	Clock  clockwork.Clock
	Logger *slog.Logger
	Sinks  []ClaimSink
}

// Engine owns the ledger records. One mutex serializes every operation, and
// each mutating operation commits its records as a single batch.
type Engine struct {
	mu     sync.Mutex
	state  *state
	token  Token
	clock  clockwork.Clock
	logger *slog.Logger
	sinks  []ClaimSink
}

func NewEngine(db store.Database, cfg Config) (*Engine, error) {
	if db == nil {
		return nil, errors.New("earn: nil database")
	}
	if cfg.Token == nil {
		return nil, errors.New("earn: nil token capability")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Engine{
		state:  &state{db: db},
		token:  cfg.Token,
		clock:  cfg.Clock,
		logger: logger.OrDiscard(cfg.Logger),
		sinks:  cfg.Sinks,
	}, nil
}

// AddSink registers a settlement sink for subsequent claims.
func (e *Engine) AddSink(sink ClaimSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

func (e *Engine) now() uint64 {
	return uint64(e.clock.Now().Unix())
}

func (e *Engine) Global(ctx context.Context) (*Global, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.global()
}

func (e *Engine) Earner(ctx context.Context, tokenAccount solana.PublicKey) (*Earner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	earner, err := e.state.earner(tokenAccount)
	if err != nil {
		return nil, err
	}
	if earner == nil {
		return nil, ErrRecordNotFound
	}
	return earner, nil
}

func (e *Engine) EarnManager(ctx context.Context, manager solana.PublicKey) (*EarnManager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.state.earnManager(manager)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrRecordNotFound
	}
	return m, nil
}

// Earners lists every earner record ordered by token account.
func (e *Engine) Earners(ctx context.Context) ([]*Earner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.earners()
}

func (e *Engine) EarnManagers(ctx context.Context) ([]*EarnManager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.earnManagers()
}

// PendingEarners lists earners still owed rewards in the current cycle.
func (e *Engine) PendingEarners(ctx context.Context) ([]*Earner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.state.global()
	if err != nil {
		return nil, err
	}
	all, err := e.state.earners()
	if err != nil {
		return nil, err
	}
	var out []*Earner
	for _, earner := range all {
		if earner.Owes(g) {
			out = append(out, earner)
		}
	}
	return out, nil
}

// checkTokenAccount validates a token account the ledger is about to pay.
// A zero owner skips the owner check.
func (e *Engine) checkTokenAccount(ctx context.Context, g *Global, owner, address solana.PublicKey) error {
	acct, err := e.token.Account(ctx, address)
	if err != nil {
		return err
	}
	if acct.Mint != g.Mint {
		return ErrInvalidAccount
	}
	if !owner.IsZero() && acct.Owner != owner {
		return ErrInvalidAccount
	}
	if !acct.ImmutableOwner {
		return ErrMutableOwner
	}
	return nil
}

func sortKeys(keys []solana.PublicKey) {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
}
