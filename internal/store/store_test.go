package store

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novahtree/internal/storage"
)

type recordStore interface {
	Read(addr storage.Addr) ([]byte, error)
	Write(data []byte) (storage.Addr, error)
	Delete(addr storage.Addr) error
}

func newTestRecordStore(t *testing.T, dir string, opts Options) *RecordStore {
	t.Helper()

	rs, err := Open(dir, "records", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	return rs
}

func eachStore(t *testing.T, fn func(t *testing.T, s recordStore)) {
	t.Run("mem", func(t *testing.T) {
		fn(t, NewMemStore())
	})
	t.Run("file", func(t *testing.T) {
		fn(t, newTestRecordStore(t, t.TempDir(), Options{PoolCapacity: 4}))
	})
	t.Run("file_cached", func(t *testing.T) {
		fn(t, newTestRecordStore(t, t.TempDir(), Options{PoolCapacity: 4, CacheMaxCost: 1 << 20}))
	})
}

func TestStore_WriteReadDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, s recordStore) {
		small := []byte("small record")
		large := bytes.Repeat([]byte("L"), 3*storage.PageSize)

		a1, err := s.Write(small)
		require.NoError(t, err)
		a2, err := s.Write(large)
		require.NoError(t, err)
		require.NotEqual(t, a1, a2)
		require.False(t, a1.IsNull())

		got, err := s.Read(a1)
		require.NoError(t, err)
		require.Equal(t, small, got)

		got, err = s.Read(a2)
		require.NoError(t, err)
		require.Equal(t, large, got)

		// returned slices are private copies
		got[0] = 'X'
		again, err := s.Read(a2)
		require.NoError(t, err)
		require.Equal(t, byte('L'), again[0])

		require.NoError(t, s.Delete(a1))
		require.NoError(t, s.Delete(a2))
		_, err = s.Read(a1)
		require.ErrorIs(t, err, storage.ErrRecordNotFound)
		_, err = s.Read(a2)
		require.ErrorIs(t, err, storage.ErrRecordNotFound)
		require.ErrorIs(t, s.Delete(a1), storage.ErrRecordNotFound)

		_, err = s.Write(nil)
		require.ErrorIs(t, err, storage.ErrEmptyRecord)
	})
}

func TestRecordStore_ManyRecordsSurviveEvictionAndReopen(t *testing.T) {
	dir := t.TempDir()
	rs, err := Open(dir, "records", Options{PoolCapacity: 2})
	require.NoError(t, err)

	addrs := make([]storage.Addr, 0, 2000)
	for i := range 2000 {
		a, err := rs.Write(fmt.Appendf(nil, "record-%04d-%s", i, bytes.Repeat([]byte("p"), i%50)))
		require.NoError(t, err)
		addrs = append(addrs, a)
	}
	require.Greater(t, rs.PoolStats().Evictions, uint64(0))

	for i, a := range addrs {
		got, err := rs.Read(a)
		require.NoError(t, err)
		require.Equal(t, fmt.Appendf(nil, "record-%04d-%s", i, bytes.Repeat([]byte("p"), i%50)), got)
	}
	require.NoError(t, rs.Close())

	reopened := newTestRecordStore(t, dir, Options{PoolCapacity: 2})
	for _, i := range []int{0, 999, 1999} {
		got, err := reopened.Read(addrs[i])
		require.NoError(t, err)
		require.Equal(t, fmt.Appendf(nil, "record-%04d-%s", i, bytes.Repeat([]byte("p"), i%50)), got)
	}

	// appends after reopen never clobber existing records
	a, err := reopened.Write([]byte("after reopen"))
	require.NoError(t, err)
	got, err := reopened.Read(addrs[1999])
	require.NoError(t, err)
	require.Contains(t, string(got), "record-1999")
	got, err = reopened.Read(a)
	require.NoError(t, err)
	require.Equal(t, []byte("after reopen"), got)
}

func TestRecordStore_ReusesSpaceOfDeletedRecords(t *testing.T) {
	rs := newTestRecordStore(t, t.TempDir(), Options{PoolCapacity: 2})

	rec := bytes.Repeat([]byte("r"), 1000)
	var first []storage.Addr
	for range 8 {
		a, err := rs.Write(rec)
		require.NoError(t, err)
		first = append(first, a)
	}
	for _, a := range first {
		require.NoError(t, rs.Delete(a))
	}

	// compaction lets the tail page take the next record
	a, err := rs.Write(rec)
	require.NoError(t, err)
	p0, _, err := first[0].Inline()
	require.NoError(t, err)
	p1, _, err := a.Inline()
	require.NoError(t, err)
	require.Equal(t, p0, p1)
}

func TestRecordStore_Destroy(t *testing.T) {
	dir := t.TempDir()
	rs, err := Open(dir, "records", Options{})
	require.NoError(t, err)
	_, err = rs.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, rs.Destroy())

	again := newTestRecordStore(t, dir, Options{})
	_, err = again.Read(storage.InlineAddr(0, 0))
	require.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestMemStore_Counters(t *testing.T) {
	m := NewMemStore()
	a, err := m.Write([]byte("a"))
	require.NoError(t, err)
	_, err = m.Write([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, m.Delete(a))

	w, d := m.Counters()
	require.Equal(t, 2, w)
	require.Equal(t, 1, d)
	require.Equal(t, 1, m.Len())
}

func TestRecordStore_EmptiedPageLeavesPool(t *testing.T) {
	rs := newTestRecordStore(t, t.TempDir(), Options{PoolCapacity: 4})
	require.Equal(t, 4, rs.PoolCapacity())

	var first []storage.Addr
	for range 20 {
		a, err := rs.Write(bytes.Repeat([]byte("r"), 1000))
		require.NoError(t, err)
		if pageID, _, err := a.Inline(); err == nil && pageID == 0 {
			first = append(first, a)
		}
	}
	require.NotEmpty(t, first)
	require.Greater(t, rs.PageCount(), uint32(1))

	for _, a := range first {
		require.NoError(t, rs.Delete(a))
	}

	misses := rs.PoolStats().Misses
	var out bytes.Buffer
	require.NoError(t, rs.DebugPage(&out, 0))
	require.Equal(t, misses+1, rs.PoolStats().Misses, "page 0 is read back from disk")
	require.Contains(t, out.String(), "=== Page 0 ===")
	require.Contains(t, out.String(), "live=0")

	require.ErrorIs(t, rs.DebugPage(&out, rs.PageCount()), storage.ErrRecordNotFound)
}
