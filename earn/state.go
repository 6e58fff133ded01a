package earn

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/store"
)

var (
	globalKey     = []byte("earn/global")
	earnerPrefix  = []byte("earn/earner/")
	managerPrefix = []byte("earn/manager/")
)

func earnerKey(tokenAccount solana.PublicKey) []byte {
	return append(append([]byte{}, earnerPrefix...), tokenAccount[:]...)
}

func managerKey(manager solana.PublicKey) []byte {
	return append(append([]byte{}, managerPrefix...), manager[:]...)
}

// state reads records from the backing store. Writes go through a writeSet.
type state struct {
	db store.Database
}

func (s *state) global() (*Global, error) {
	data, err := s.db.Get(globalKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load global: %w", err)
	}
	return DecodeGlobal(data)
}

func (s *state) earner(tokenAccount solana.PublicKey) (*Earner, error) {
	data, err := s.db.Get(earnerKey(tokenAccount))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load earner %s: %w", tokenAccount, err)
	}
	return DecodeEarner(data)
}

func (s *state) earnManager(manager solana.PublicKey) (*EarnManager, error) {
	data, err := s.db.Get(managerKey(manager))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load earn manager %s: %w", manager, err)
	}
	return DecodeEarnManager(data)
}

func (s *state) earners() ([]*Earner, error) {
	var out []*Earner
	err := s.db.Iterate(earnerPrefix, func(_, value []byte) error {
		e, err := DecodeEarner(value)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list earners: %w", err)
	}
	return out, nil
}

func (s *state) earnManagers() ([]*EarnManager, error) {
	var out []*EarnManager
	err := s.db.Iterate(managerPrefix, func(_, value []byte) error {
		m, err := DecodeEarnManager(value)
		if err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list earn managers: %w", err)
	}
	return out, nil
}

// commit applies ws atomically.
func (s *state) commit(ws *writeSet) error {
	if ws.err != nil {
		return ws.err
	}
	if err := s.db.Write(ws.batch); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// writeSet stages the records one operation mutates. The first encoding error
// sticks and fails the commit.
type writeSet struct {
	batch *store.Batch
	err   error
}

func newWriteSet() *writeSet {
	return &writeSet{batch: store.NewBatch()}
}

func (ws *writeSet) putGlobal(g *Global) {
	ws.put(globalKey, func() ([]byte, error) { return EncodeGlobal(g) })
}

func (ws *writeSet) putEarner(e *Earner) {
	ws.put(earnerKey(e.UserTokenAccount), func() ([]byte, error) { return EncodeEarner(e) })
}

func (ws *writeSet) deleteEarner(tokenAccount solana.PublicKey) {
	ws.batch.Delete(earnerKey(tokenAccount))
}

func (ws *writeSet) putEarnManager(m *EarnManager) {
	ws.put(managerKey(m.Manager), func() ([]byte, error) { return EncodeEarnManager(m) })
}

func (ws *writeSet) put(key []byte, encode func() ([]byte, error)) {
	if ws.err != nil {
		return
	}
	data, err := encode()
	if err != nil {
		ws.err = fmt.Errorf("failed to encode %q: %w", key, err)
		return
	}
	ws.batch.Put(key, data)
}
