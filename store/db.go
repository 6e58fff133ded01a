package store

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Database is a key-value store with atomic batch writes.
// Records are addressed by prefixed keys so a prefix scan lists one record kind.
type Database interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	// Write applies every operation of the batch or none of them.
	Write(batch *Batch) error
	// Iterate calls fn for every key with the given prefix in key order.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes for Database.Write.
type Batch struct {
	ops []batchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: clone(key), value: clone(value)})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: clone(key), delete: true})
}

func (b *Batch) Len() int {
	return len(b.ops)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(value), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = clone(value)
	return nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Write(batch *Batch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, op := range batch.ops {
		if op.delete {
			delete(db.data, string(op.key))
			continue
		}
		db.data[string(op.key)] = op.value
	}
	return nil
}

func (db *MemDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	db.mu.RLock()
	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = clone(db.data[k])
	}
	db.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() error {
	return nil
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

func (ldb *LevelDB) Write(batch *Batch) error {
	lb := new(leveldb.Batch)
	for _, op := range batch.ops {
		if op.delete {
			lb.Delete(op.key)
			continue
		}
		lb.Put(op.key, op.value)
	}
	return ldb.db.Write(lb, nil)
}

func (ldb *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(clone(iter.Key()), clone(iter.Value())); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}
