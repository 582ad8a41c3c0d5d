package bufferpool

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/tuannm99/novahtree/internal/storage"
)

var (
	DefaultCapacity = 128

	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")
	ErrPagePinned  = errors.New("bufferpool: page is pinned")
)

type Replacer interface {
	RecordAccess(frameID int)
	SetEvictable(frameID int, evictable bool)
	Evict() (frameID int, ok bool)
	Remove(frameID int)
	Size() int
	Capacity() int
}

// Manager is the pin/unpin contract record stores program against.
type Manager interface {
	GetPage(pageID uint32) (*storage.Page, error)
	Unpin(page *storage.Page, dirty bool) error
	FlushAll() error
	DeletePageFromBuffer(pageID uint32) error
	Stats() Stats
	Capacity() int
}

type Frame struct {
	PageID uint32
	Page   *storage.Page
	Dirty  bool
	Pin    int32
}

// Stats counts page requests served from memory vs. disk.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

var _ Manager = (*Pool)(nil)

// Pool caches the pages of one FileSet in a fixed number of frames.
type Pool struct {
	sm *storage.StorageManager
	fs storage.FileSet

	mu        sync.Mutex
	frames    []*Frame       // len == capacity, nil == free slot
	pageTable map[uint32]int // PageID -> frame index
	stats     Stats

	replacementPolicy Replacer
}

func NewPool(sm *storage.StorageManager, fs storage.FileSet, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		sm:                sm,
		fs:                fs,
		frames:            make([]*Frame, capacity),
		pageTable:         make(map[uint32]int),
		replacementPolicy: newClockAdapter(capacity),
	}
}

// GetPage pins pageID, loading it from disk when it is not resident.
func (p *Pool) GetPage(pageID uint32) (*storage.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, idx, ok := p.lookup(pageID); ok {
		p.stats.Hits++
		p.pin(f, idx)
		return f.Page, nil
	}
	p.stats.Misses++

	idx, err := p.freeFrame()
	if err != nil {
		return nil, err
	}

	page, err := p.sm.LoadPage(p.fs, pageID)
	if err != nil {
		return nil, err
	}

	f := &Frame{PageID: pageID, Page: page}
	p.frames[idx] = f
	p.pageTable[pageID] = idx
	p.pin(f, idx)
	return page, nil
}

func (p *Pool) lookup(pageID uint32) (*Frame, int, bool) {
	idx, ok := p.pageTable[pageID]
	if !ok {
		return nil, -1, false
	}
	f := p.frames[idx]
	if f == nil {
		delete(p.pageTable, pageID)
		return nil, -1, false
	}
	return f, idx, true
}

func (p *Pool) pin(f *Frame, idx int) {
	f.Pin++
	p.replacementPolicy.RecordAccess(idx)
	if f.Pin == 1 {
		p.replacementPolicy.SetEvictable(idx, false)
	}
}

// freeFrame returns an empty frame index, evicting (and writing back) an
// unpinned victim when all frames are taken.
func (p *Pool) freeFrame() (int, error) {
	for i, f := range p.frames {
		if f == nil {
			return i, nil
		}
	}

	idx, ok := p.replacementPolicy.Evict()
	if !ok {
		return -1, ErrNoFreeFrame
	}
	victim := p.frames[idx]
	if victim == nil {
		return idx, nil
	}
	if victim.Pin != 0 {
		return -1, ErrNoFreeFrame
	}

	if victim.Dirty {
		if err := p.sm.SavePage(p.fs, victim.PageID, victim.Page); err != nil {
			// keep the victim resident and evictable
			p.replacementPolicy.RecordAccess(idx)
			p.replacementPolicy.SetEvictable(idx, true)
			return -1, err
		}
	}

	slog.Debug("bufferpool.evict", "pageID", victim.PageID, "dirty", victim.Dirty, "frame", idx)
	p.stats.Evictions++
	delete(p.pageTable, victim.PageID)
	p.frames[idx] = nil
	return idx, nil
}

func (p *Pool) Unpin(page *storage.Page, dirty bool) error {
	if page == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	f, idx, ok := p.lookup(page.PageID())
	if !ok {
		return nil
	}
	if dirty {
		f.Dirty = true
	}
	if f.Pin > 0 {
		f.Pin--
		if f.Pin == 0 {
			p.replacementPolicy.SetEvictable(idx, true)
		}
	}
	return nil
}

func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range p.frames {
		if f == nil || !f.Dirty {
			continue
		}
		if err := p.sm.SavePage(p.fs, f.PageID, f.Page); err != nil {
			return err
		}
		f.Dirty = false
	}
	return nil
}

// DeletePageFromBuffer writes back and drops an unpinned page.
func (p *Pool) DeletePageFromBuffer(pageID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[pageID]
	if !ok {
		return nil
	}
	f := p.frames[idx]
	if f != nil {
		if f.Pin != 0 {
			return ErrPagePinned
		}
		if f.Dirty {
			if err := p.sm.SavePage(p.fs, f.PageID, f.Page); err != nil {
				return err
			}
		}
	}

	p.frames[idx] = nil
	delete(p.pageTable, pageID)
	p.replacementPolicy.Remove(idx)
	return nil
}

// Capacity is the number of frames.
func (p *Pool) Capacity() int { return p.replacementPolicy.Capacity() }

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
