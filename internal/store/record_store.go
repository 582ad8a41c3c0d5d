package store

import (
	"io"
	"log/slog"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	"github.com/tuannm99/novahtree/internal/bufferpool"
	"github.com/tuannm99/novahtree/internal/storage"
)

const overflowSuffix = "_ovf"

type Options struct {
	// PoolCapacity is the number of record pages kept in memory.
	PoolCapacity int
	// CacheMaxCost bounds the decoded-record cache in bytes. 0 disables it.
	CacheMaxCost int64
}

// RecordStore is a file-backed record store. Small records are appended to
// slotted pages served by a buffer pool; large ones go to overflow chains.
// Records are immutable, so reads can be cached by address without
// invalidation other than on Delete. Page access is serialized by mu.
type RecordStore struct {
	sm   *storage.StorageManager
	fs   storage.LocalFileSet
	pool bufferpool.Manager
	ovf  *storage.OverflowManager

	cache *ristretto.Cache[uint64, []byte]

	mu       sync.Mutex
	nextPage uint32 // first never-used page id
	tail     uint32 // page receiving appends
	hasTail  bool
	closed   bool
}

// Open opens (or creates) the record files <dir>/<base> and <dir>/<base>_ovf.
func Open(dir, base string, opts Options) (*RecordStore, error) {
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: base}
	ovfFS := storage.LocalFileSet{Dir: dir, Base: base + overflowSuffix}

	n, err := sm.CountPages(fs)
	if err != nil {
		return nil, errors.Wrap(err, "store: count pages")
	}
	ovf, err := storage.NewOverflowManager(sm, ovfFS)
	if err != nil {
		return nil, errors.Wrap(err, "store: open overflow")
	}

	rs := &RecordStore{
		sm:       sm,
		fs:       fs,
		pool:     bufferpool.NewPool(sm, fs, opts.PoolCapacity),
		ovf:      ovf,
		nextPage: n,
	}
	if n > 0 {
		rs.tail, rs.hasTail = n-1, true
	}

	if opts.CacheMaxCost > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
			NumCounters: max(opts.CacheMaxCost/64, 1000),
			MaxCost:     opts.CacheMaxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, errors.Wrap(err, "store: create cache")
		}
		rs.cache = cache
	}

	slog.Debug("store.open", "dir", dir, "base", base, "pages", n, "cache", rs.cache != nil)
	return rs, nil
}

func (rs *RecordStore) Write(data []byte) (storage.Addr, error) {
	if len(data) == 0 {
		return storage.NullAddr, storage.ErrEmptyRecord
	}

	if len(data) > storage.MaxInlineRecord {
		ref, err := rs.ovf.Write(data)
		if err != nil {
			return storage.NullAddr, errors.Wrapf(err, "store: write overflow record len=%d", len(data))
		}
		return storage.OverflowAddr(ref), nil
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.hasTail {
		addr, ok, err := rs.appendTo(rs.tail, data)
		if err != nil || ok {
			return addr, err
		}
	}

	rs.tail, rs.hasTail = rs.nextPage, true
	rs.nextPage++
	addr, ok, err := rs.appendTo(rs.tail, data)
	if err != nil {
		return storage.NullAddr, err
	}
	if !ok {
		return storage.NullAddr, errors.Errorf("store: record of %d bytes does not fit an empty page", len(data))
	}
	return addr, nil
}

// appendTo tries to place data on pageID, compacting the page once if it is
// short on space.
func (rs *RecordStore) appendTo(pageID uint32, data []byte) (storage.Addr, bool, error) {
	page, err := rs.pool.GetPage(pageID)
	if err != nil {
		return storage.NullAddr, false, errors.Wrapf(err, "store: pin page %d", pageID)
	}

	slot, err := page.InsertTuple(data)
	if errors.Is(err, storage.ErrNoSpace) {
		if n, cerr := page.Compact(); cerr == nil && n > 0 {
			slot, err = page.InsertTuple(data)
		}
	}
	if errors.Is(err, storage.ErrNoSpace) {
		return storage.NullAddr, false, rs.pool.Unpin(page, false)
	}
	if err != nil {
		_ = rs.pool.Unpin(page, false)
		return storage.NullAddr, false, errors.Wrapf(err, "store: insert into page %d", pageID)
	}
	return storage.InlineAddr(pageID, uint16(slot)), true, rs.pool.Unpin(page, true)
}

func (rs *RecordStore) Read(addr storage.Addr) ([]byte, error) {
	if rs.cache != nil {
		if data, ok := rs.cache.Get(uint64(addr)); ok {
			return append([]byte(nil), data...), nil
		}
	}

	var (
		data []byte
		err  error
	)
	if addr.IsOverflow() {
		data, err = rs.readOverflow(addr)
	} else {
		data, err = rs.readInline(addr)
	}
	if err != nil {
		return nil, err
	}

	if rs.cache != nil {
		rs.cache.Set(uint64(addr), data, int64(len(data)))
	}
	return append([]byte(nil), data...), nil
}

func (rs *RecordStore) readInline(addr storage.Addr) ([]byte, error) {
	pageID, slot, err := addr.Inline()
	if err != nil {
		return nil, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if pageID >= rs.nextPage {
		return nil, errors.Wrapf(storage.ErrRecordNotFound, "store: %s beyond last page", addr)
	}
	page, err := rs.pool.GetPage(pageID)
	if err != nil {
		return nil, errors.Wrapf(err, "store: pin page %d", pageID)
	}
	defer func() { _ = rs.pool.Unpin(page, false) }()

	view, err := page.ReadTuple(int(slot))
	if errors.Is(err, storage.ErrBadSlot) {
		return nil, errors.Wrapf(storage.ErrRecordNotFound, "store: read %s", addr)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "store: read %s", addr)
	}
	return append([]byte(nil), view...), nil
}

func (rs *RecordStore) readOverflow(addr storage.Addr) ([]byte, error) {
	ref, err := addr.Overflow()
	if err != nil {
		return nil, err
	}
	data, err := rs.ovf.Read(ref)
	if err != nil {
		return nil, errors.Wrapf(err, "store: read %s", addr)
	}
	return data, nil
}

func (rs *RecordStore) Delete(addr storage.Addr) error {
	if rs.cache != nil {
		rs.cache.Del(uint64(addr))
	}

	if addr.IsOverflow() {
		ref, err := addr.Overflow()
		if err != nil {
			return err
		}
		return errors.Wrapf(rs.ovf.Free(ref), "store: delete %s", addr)
	}

	pageID, slot, err := addr.Inline()
	if err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if pageID >= rs.nextPage {
		return errors.Wrapf(storage.ErrRecordNotFound, "store: %s beyond last page", addr)
	}
	page, err := rs.pool.GetPage(pageID)
	if err != nil {
		return errors.Wrapf(err, "store: pin page %d", pageID)
	}
	if err := page.DeleteTuple(int(slot)); err != nil {
		_ = rs.pool.Unpin(page, false)
		if errors.Is(err, storage.ErrBadSlot) {
			return errors.Wrapf(storage.ErrRecordNotFound, "store: delete %s", addr)
		}
		return errors.Wrapf(err, "store: delete %s", addr)
	}
	empty := page.LiveTuples() == 0
	if err := rs.pool.Unpin(page, true); err != nil {
		return err
	}

	// an emptied page other than the tail is cold: write it back and give
	// its frame to pages still in use
	if empty && (!rs.hasTail || pageID != rs.tail) {
		if err := rs.pool.DeletePageFromBuffer(pageID); err != nil {
			return errors.Wrapf(err, "store: drop page %d", pageID)
		}
		slog.Debug("store.page.dropped", "pageID", pageID)
	}
	return nil
}

// Flush writes every dirty record page to disk.
func (rs *RecordStore) Flush() error {
	return errors.Wrap(rs.pool.FlushAll(), "store: flush")
}

func (rs *RecordStore) Close() error {
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		return nil
	}
	rs.closed = true
	rs.mu.Unlock()

	err := rs.Flush()
	if rs.cache != nil {
		rs.cache.Close()
	}
	return err
}

// Destroy closes the store and removes its files.
func (rs *RecordStore) Destroy() error {
	if err := rs.Close(); err != nil {
		return err
	}
	if err := storage.RemoveAllSegments(rs.fs); err != nil {
		return err
	}
	return storage.RemoveAllSegments(storage.LocalFileSet{Dir: rs.fs.Dir, Base: rs.fs.Base + overflowSuffix})
}

// PoolStats exposes buffer pool counters for diagnostics.
func (rs *RecordStore) PoolStats() bufferpool.Stats {
	return rs.pool.Stats()
}

// PoolCapacity is the number of record pages the pool keeps in memory.
func (rs *RecordStore) PoolCapacity() int {
	return rs.pool.Capacity()
}

// PageCount is the number of record pages allocated so far.
func (rs *RecordStore) PageCount() uint32 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.nextPage
}

// DebugPage prints the header and slots of record page pageID.
func (rs *RecordStore) DebugPage(w io.Writer, pageID uint32) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if pageID >= rs.nextPage {
		return errors.Wrapf(storage.ErrRecordNotFound, "store: page %d beyond last page %d", pageID, rs.nextPage)
	}
	page, err := rs.pool.GetPage(pageID)
	if err != nil {
		return errors.Wrapf(err, "store: pin page %d", pageID)
	}
	defer func() { _ = rs.pool.Unpin(page, false) }()
	return page.Debug(w)
}
