package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	ldb, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ldb.Close() })
	return map[string]Database{
		"mem":     NewMemDB(),
		"leveldb": ldb,
	}
}

func TestDatabaseBasics(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Put([]byte("a"), []byte("1")))
			v, err := db.Get([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), v)

			ok, err := db.Has([]byte("a"))
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, db.Delete([]byte("a")))
			ok, err = db.Has([]byte("a"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestDatabaseBatchAndIterate(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("x/stale"), []byte("0")))

			b := NewBatch()
			b.Put([]byte("x/2"), []byte("two"))
			b.Put([]byte("x/1"), []byte("one"))
			b.Put([]byte("y/1"), []byte("other"))
			b.Delete([]byte("x/stale"))
			assert.Equal(t, 4, b.Len())
			require.NoError(t, db.Write(b))

			var keys, vals []string
			err := db.Iterate([]byte("x/"), func(k, v []byte) error {
				keys = append(keys, string(k))
				vals = append(vals, string(v))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"x/1", "x/2"}, keys)
			assert.Equal(t, []string{"one", "two"}, vals)

			stop := errors.New("stop")
			err = db.Iterate([]byte("x/"), func(k, v []byte) error { return stop })
			assert.ErrorIs(t, err, stop)
		})
	}
}

func TestMemDBReturnsCopies(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[0] = 'q'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}
