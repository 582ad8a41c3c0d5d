package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileSet(t *testing.T) LocalFileSet {
	t.Helper()
	return LocalFileSet{Dir: t.TempDir(), Base: "segment"}
}

func TestStorageManager_LoadPage_InitializesZeroPage(t *testing.T) {
	fs := newTestFileSet(t)
	sm := NewStorageManager()

	pg, err := sm.LoadPage(fs, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), pg.PageID())
	assert.Equal(t, 0, pg.NumSlots())
	assert.Equal(t, PageSize-HeaderSize, pg.FreeSpace())
}

func TestStorageManager_SaveLoadRoundTrip(t *testing.T) {
	fs := newTestFileSet(t)
	sm := NewStorageManager()

	pg, err := sm.LoadPage(fs, 1)
	require.NoError(t, err)
	slot, err := pg.InsertTuple([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, sm.SavePage(fs, 1, pg))

	again, err := sm.LoadPage(fs, 1)
	require.NoError(t, err)
	data, err := again.ReadTuple(slot)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestStorageManager_CountPages(t *testing.T) {
	fs := newTestFileSet(t)
	sm := NewStorageManager()

	n, err := sm.CountPages(fs)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)

	buf := make([]byte, PageSize)
	require.NoError(t, sm.WritePage(fs, 0, buf))
	require.NoError(t, sm.WritePage(fs, 4, buf))

	n, err = sm.CountPages(fs)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), n)

	require.NoError(t, RemoveAllSegments(fs))
	n, err = sm.CountPages(fs)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
}

func TestSegFileName(t *testing.T) {
	assert.Equal(t, "base", SegFileName("base", 0))
	assert.Equal(t, "base.2", SegFileName("base", 2))
}

func TestAddr_Encoding(t *testing.T) {
	a := InlineAddr(0, 0)
	require.False(t, a.IsNull())
	require.False(t, a.IsOverflow())
	pid, slot, err := a.Inline()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), pid)
	assert.Equal(t, uint16(0), slot)

	a = InlineAddr(123456, 789)
	pid, slot, err = a.Inline()
	require.NoError(t, err)
	assert.Equal(t, uint32(123456), pid)
	assert.Equal(t, uint16(789), slot)
	_, err = a.Overflow()
	require.ErrorIs(t, err, ErrBadAddr)

	o := OverflowAddr(OverflowRef{FirstPageID: 42, Length: 100000})
	require.True(t, o.IsOverflow())
	ref, err := o.Overflow()
	require.NoError(t, err)
	assert.Equal(t, OverflowRef{FirstPageID: 42, Length: 100000}, ref)
	_, _, err = o.Inline()
	require.ErrorIs(t, err, ErrBadAddr)

	_, _, err = NullAddr.Inline()
	require.ErrorIs(t, err, ErrBadAddr)
	assert.Equal(t, "null", NullAddr.String())
}
