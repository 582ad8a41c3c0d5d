package htree

import (
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novahtree/internal/hashkey"
	"github.com/tuannm99/novahtree/internal/storage"
	"github.com/tuannm99/novahtree/internal/store"
)

func TestMeta_SaveLoad(t *testing.T) {
	dir := t.TempDir()

	_, ok, err := LoadMeta(dir, "idx")
	require.NoError(t, err)
	require.False(t, ok)

	tr, _ := newTestTree(t, Options{AddressBits: 4})
	require.NoError(t, tr.Insert([]byte("k"), []byte("v")))
	cp, err := tr.Checkpoint()
	require.NoError(t, err)
	require.NoError(t, SaveMeta(dir, "idx", tr))

	m, ok, err := LoadMeta(dir, "idx")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Meta{Checkpoint: uint64(cp), AddressBits: 4, Entries: 1}, m)

	require.NoError(t, os.WriteFile(MetaPath(dir, "idx"), []byte("{"), 0o644))
	_, _, err = LoadMeta(dir, "idx")
	require.Error(t, err)
}

func TestHTree_RecordStoreEndToEnd(t *testing.T) {
	dir := t.TempDir()
	opts := Options{AddressBits: 4, RawRecords: true, MaxInlineValue: 32}
	big := func(i int) []byte {
		v := make([]byte, 100+i%300)
		for j := range v {
			v[j] = byte(i + j)
		}
		return v
	}

	rs, err := store.Open(dir, "idx", store.Options{PoolCapacity: 8, CacheMaxCost: 1 << 20})
	require.NoError(t, err)
	tr, err := New(rs, opts)
	require.NoError(t, err)

	const n = 800
	for i := range n {
		k := hashkey.OfString(strconv.Itoa(i))
		if i%10 == 0 {
			require.NoError(t, tr.Insert(k, big(i)))
		} else {
			require.NoError(t, tr.Insert(k, []byte(strconv.Itoa(i))))
		}
	}
	_, err = tr.Checkpoint()
	require.NoError(t, err)

	for i := 0; i < n; i += 3 {
		ok, err := tr.Remove(hashkey.OfString(strconv.Itoa(i)))
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, err = tr.Checkpoint()
	require.NoError(t, err)
	require.NoError(t, SaveMeta(dir, "idx", tr))
	require.NoError(t, rs.Close())

	m, ok, err := LoadMeta(dir, "idx")
	require.NoError(t, err)
	require.True(t, ok)

	rs, err = store.Open(dir, "idx", store.Options{PoolCapacity: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	re, err := Open(rs, storage.Addr(m.Checkpoint), Options{})
	require.NoError(t, err)
	require.Equal(t, tr.EntryCount(), re.EntryCount())
	require.True(t, re.Options().RawRecords)

	for i := range n {
		v, ok, err := re.Lookup(hashkey.OfString(strconv.Itoa(i)))
		require.NoError(t, err)
		if i%3 == 0 {
			require.False(t, ok, "key %d was removed", i)
			continue
		}
		require.True(t, ok, "key %d", i)
		if i%10 == 0 {
			require.Equal(t, big(i), v)
		} else {
			require.Equal(t, strconv.Itoa(i), string(v))
		}
	}
	requireValid(t, re)
}

func TestHTree_CheckpointReadableWithoutClose(t *testing.T) {
	dir := t.TempDir()
	rs, err := store.Open(dir, "idx", store.Options{PoolCapacity: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	tr, err := New(rs, Options{})
	require.NoError(t, err)
	publish := func(storage.Addr) error { return SaveMeta(dir, "idx", tr) }

	for i := range 50 {
		require.NoError(t, tr.Insert(hashkey.OfString(strconv.Itoa(i)), []byte(strconv.Itoa(i))))
	}
	_, err = tr.CheckpointWith(publish)
	require.NoError(t, err)

	for i := 50; i < 80; i++ {
		require.NoError(t, tr.Insert(hashkey.OfString(strconv.Itoa(i)), []byte(strconv.Itoa(i))))
	}
	cp, err := tr.CheckpointWith(publish)
	require.NoError(t, err)

	// a second process opening the files while the first is still running
	rs2, err := store.Open(dir, "idx", store.Options{PoolCapacity: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs2.Close() })
	m, ok, err := LoadMeta(dir, "idx")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, cp, m.Checkpoint)

	re, err := Open(rs2, storage.Addr(m.Checkpoint), Options{})
	require.NoError(t, err)
	require.EqualValues(t, 80, re.EntryCount())
	for i := range 80 {
		v, ok, err := re.Lookup(hashkey.OfString(strconv.Itoa(i)))
		require.NoError(t, err)
		require.True(t, ok, i)
		require.Equal(t, strconv.Itoa(i), string(v))
	}
}

func TestHTree_FailedPublishKeepsPreviousCheckpoint(t *testing.T) {
	tr, ms := newTestTree(t, Options{AddressBits: 2})
	for i := range 10 {
		require.NoError(t, tr.Insert(hashkey.OfString(strconv.Itoa(i)), []byte("old")))
	}
	cp1, err := tr.Checkpoint()
	require.NoError(t, err)

	for i := range 10 {
		_, err := tr.Remove(hashkey.OfString(strconv.Itoa(i)))
		require.NoError(t, err)
	}
	boom := errors.New("meta unavailable")
	cp2, err := tr.CheckpointWith(func(storage.Addr) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, cp2, tr.LastCheckpoint())

	old, err := Open(ms, cp1, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 10, old.EntryCount())
	v, ok, err := old.Lookup(hashkey.OfString("3"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "old", string(v))

	_, err = tr.Checkpoint()
	require.NoError(t, err)
	_, err = ms.Read(cp1)
	require.ErrorIs(t, err, storage.ErrRecordNotFound)
}
