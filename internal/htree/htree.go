// Package htree implements a persistent extendible hashing index.
//
// The index is a tree of directory pages and bucket pages. Every page has
// 2^addressBits slots. A directory consumes addressBits key bits to pick a
// child; a bucket page is split into buddy buckets so that several small
// hash tables share one page. A full buddy splits its page, a full page at
// full depth gets a directory level beneath it, and a page whose keys are
// bit-identical grows in place.
//
// Keys are expected to be hash-ready (see package hashkey); the index
// routes on their leading bits and only compares them for equality.
//
// An HTree is not safe for concurrent use.
package htree

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tuannm99/novahtree/internal/storage"
)

const (
	DefaultAddressBits    = 10
	DefaultMaxInlineValue = 256

	MinAddressBits = 1
	MaxAddressBits = 16
)

// Store is the raw record store pages and large values are kept in.
type Store interface {
	Read(addr storage.Addr) ([]byte, error)
	Write(data []byte) (storage.Addr, error)
	Delete(addr storage.Addr) error
}

// Flusher is implemented by stores that buffer writes. Checkpoint flushes
// them before it frees anything an older checkpoint still references.
type Flusher interface {
	Flush() error
}

type Options struct {
	// AddressBits sets the slot count of every page to 2^AddressBits.
	AddressBits int
	// RawRecords stores values longer than MaxInlineValue as separate
	// records referenced by address.
	RawRecords     bool
	MaxInlineValue int
	// DeleteMarkers keeps removed tuples as markers instead of clearing
	// their slots.
	DeleteMarkers     bool
	VersionTimestamps bool
	// Now stamps versions. Defaults to time.Now().UnixNano.
	Now func() int64
}

func DefaultOptions() Options {
	return Options{
		AddressBits:    DefaultAddressBits,
		MaxInlineValue: DefaultMaxInlineValue,
	}
}

func (o Options) withDefaults() (Options, error) {
	if o.AddressBits == 0 {
		o.AddressBits = DefaultAddressBits
	}
	if o.AddressBits < MinAddressBits || o.AddressBits > MaxAddressBits {
		return o, fmt.Errorf("%w: %d not in [%d,%d]", ErrAddressBits, o.AddressBits, MinAddressBits, MaxAddressBits)
	}
	if o.MaxInlineValue <= 0 {
		o.MaxInlineValue = DefaultMaxInlineValue
	}
	if o.Now == nil {
		o.Now = func() int64 { return time.Now().UnixNano() }
	}
	return o, nil
}

type HTree struct {
	store       Store
	opts        Options
	addressBits int

	root     *DirectoryPage
	nentries int64

	checkpoint  storage.Addr   // last checkpoint record
	pendingFree []storage.Addr // released since the last checkpoint
}

// New creates an empty index: a root directory whose slots all point at one
// empty bucket.
func New(store Store, opts Options) (*HTree, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrStorage)
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	t := &HTree{store: store, opts: opts, addressBits: opts.AddressBits}
	t.root = t.newDirectory()
	t.root.link(0, t.root.capacity(), t.newBucket())

	slog.Debug("htree.new", "addressBits", t.addressBits, "raw", opts.RawRecords, "markers", opts.DeleteMarkers)
	return t, nil
}

// Open loads the index saved by the checkpoint at addr. Address bits and
// feature flags come from the checkpoint; MaxInlineValue and Now from opts.
func Open(store Store, addr storage.Addr, opts Options) (*HTree, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrStorage)
	}
	t := &HTree{store: store}
	rec, err := t.readCheckpoint(addr)
	if err != nil {
		return nil, err
	}
	rec.apply(&opts)
	if opts, err = opts.withDefaults(); err != nil {
		return nil, err
	}
	t.opts = opts
	t.addressBits = opts.AddressBits
	t.nentries = rec.Entries
	t.checkpoint = addr

	root := storage.Addr(rec.Root)
	buf, err := t.read(root)
	if err != nil {
		return nil, err
	}
	cd, err := decodeDirectory(buf, t.addressBits)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", root, err)
	}
	t.root = &DirectoryPage{
		pageBase: pageBase{tree: t, addr: root, depth: t.addressBits},
		coded:    cd,
		children: make([]Page, cd.nslots),
	}

	slog.Debug("htree.open", "checkpoint", addr, "root", root, "entries", t.nentries)
	return t, nil
}

func (t *HTree) AddressBits() int             { return t.addressBits }
func (t *HTree) Options() Options             { return t.opts }
func (t *HTree) Root() *DirectoryPage         { return t.root }
func (t *HTree) EntryCount() int64            { return t.nentries }
func (t *HTree) LastCheckpoint() storage.Addr { return t.checkpoint }

// locate descends to the bucket key routes to.
func (t *HTree) locate(key []byte) (*DirectoryPage, *BucketPage, error) {
	return t.locateFrom(t.root, key)
}

func (t *HTree) locateFrom(d *DirectoryPage, key []byte) (*DirectoryPage, *BucketPage, error) {
	for {
		c, err := d.Child(d.SlotFor(key))
		if err != nil {
			return nil, nil, err
		}
		switch p := c.(type) {
		case *DirectoryPage:
			d = p
		case *BucketPage:
			return d, p, nil
		}
	}
}

// restructure makes room in the full buddy of b.
func (t *HTree) restructure(d *DirectoryPage, b *BucketPage) error {
	if b.GlobalDepth() < t.addressBits {
		return d.Split(b)
	}
	_, err := d.AddLevel(b)
	return err
}

// placeRaw moves slot of src into the subtree under d, restructuring as
// needed.
func (t *HTree) placeRaw(src *BucketPage, slot int, d *DirectoryPage) error {
	key, _ := src.keyAt(slot)
	for {
		dir, b, err := t.locateFrom(d, key)
		if err != nil {
			return err
		}
		ok, err := b.InsertRawTuple(src, slot, key, dir, b.BuddyOffset(key))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := t.restructure(dir, b); err != nil {
			return err
		}
	}
}

// Insert adds (key, value). Duplicate keys are kept as separate tuples.
func (t *HTree) Insert(key, value []byte) error {
	if key == nil {
		return ErrNilKey
	}
	for {
		dir, b, err := t.locate(key)
		if err != nil {
			return err
		}
		ok, err := b.Insert(key, value, dir, b.BuddyOffset(key))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := t.restructure(dir, b); err != nil {
			return err
		}
	}
}

// Lookup returns the value of the first live tuple under key.
func (t *HTree) Lookup(key []byte) ([]byte, bool, error) {
	if key == nil {
		return nil, false, ErrNilKey
	}
	_, b, err := t.locate(key)
	if err != nil {
		return nil, false, err
	}
	tup, ok, err := b.first(key, b.BuddyOffset(key))
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := t.Value(tup)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// LookupAll iterates the live tuples under key. Raw values are resolved
// with Value.
func (t *HTree) LookupAll(key []byte) (*BuddyIterator, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	_, b, err := t.locate(key)
	if err != nil {
		return nil, err
	}
	return b.LookupAll(key, b.BuddyOffset(key))
}

// Values returns every value stored under key in slot order.
func (t *HTree) Values(key []byte) ([][]byte, error) {
	it, err := t.LookupAll(key)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for tup, ok := it.next(); ok; tup, ok = it.next() {
		v, err := t.Value(tup)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *HTree) Contains(key []byte) (bool, error) {
	if key == nil {
		return false, ErrNilKey
	}
	_, b, err := t.locate(key)
	if err != nil {
		return false, err
	}
	return b.Contains(key, b.BuddyOffset(key))
}

// Remove deletes the first live tuple under key.
func (t *HTree) Remove(key []byte) (bool, error) {
	if key == nil {
		return false, ErrNilKey
	}
	_, b, err := t.locate(key)
	if err != nil {
		return false, err
	}
	return b.Remove(key, b.BuddyOffset(key))
}

// Value resolves the value of tup, reading it from the store when it is a
// raw record. The result is the caller's to keep.
func (t *HTree) Value(tup Tuple) ([]byte, error) {
	if !tup.Raw() {
		return bytes.Clone(tup.Value), nil
	}
	return t.read(tup.Addr)
}

// Walk visits every page depth first, children in slot order. level is 0
// for the root. Returning false from fn stops the walk.
func (t *HTree) Walk(fn func(level int, p Page) bool) error {
	_, err := t.walk(t.root, 0, fn)
	return err
}

func (t *HTree) walk(d *DirectoryPage, level int, fn func(int, Page) bool) (bool, error) {
	if !fn(level, d) {
		return false, nil
	}
	for i := 0; i < d.capacity(); {
		c, err := d.Child(i)
		if err != nil {
			return false, err
		}
		for i < d.capacity() && d.children[i] == c {
			i++
		}
		switch p := c.(type) {
		case *DirectoryPage:
			more, err := t.walk(p, level+1, fn)
			if err != nil || !more {
				return more, err
			}
		case *BucketPage:
			if !fn(level+1, p) {
				return false, nil
			}
		}
	}
	return true, nil
}

// Scan calls fn for every live tuple until fn returns false.
func (t *HTree) Scan(fn func(Tuple) bool) error {
	return t.Walk(func(_ int, p Page) bool {
		b, ok := p.(*BucketPage)
		if !ok {
			return true
		}
		for tup := range b.Tuples() {
			if tup.Deleted {
				continue
			}
			if !fn(tup) {
				return false
			}
		}
		return true
	})
}

// Checkpoint writes every mutable page bottom up, then a checkpoint record
// naming the root, and returns the record's address. Pages and records
// released since the previous checkpoint, and the previous record itself,
// are deleted from the store afterwards.
func (t *HTree) Checkpoint() (storage.Addr, error) {
	return t.CheckpointWith(nil)
}

// CheckpointWith is Checkpoint with a publish step. Once the new record is
// written and the store flushed, publish is handed its address, e.g. to
// store it in a meta file. Released records are freed only after publish
// succeeds; on any failure they stay pending for the next checkpoint, so
// the previously published checkpoint stays readable.
func (t *HTree) CheckpointWith(publish func(storage.Addr) error) (storage.Addr, error) {
	written := 0
	if err := t.writePage(t.root, &written); err != nil {
		return storage.NullAddr, err
	}
	addr, err := t.writeCheckpoint()
	if err != nil {
		return storage.NullAddr, err
	}
	if !t.checkpoint.IsNull() {
		t.pendingFree = append(t.pendingFree, t.checkpoint)
	}
	t.checkpoint = addr

	if f, ok := t.store.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return addr, fmt.Errorf("%w: flush checkpoint: %w", ErrStorage, err)
		}
	}
	if publish != nil {
		if err := publish(addr); err != nil {
			return addr, fmt.Errorf("publish checkpoint %s: %w", addr, err)
		}
	}

	freed := t.pendingFree
	t.pendingFree = nil
	var errs []error
	for _, a := range freed {
		if err := t.store.Delete(a); err != nil {
			errs = append(errs, err)
		}
	}

	slog.Info("htree.checkpoint",
		"addr", addr,
		"root", t.root.addr,
		"pages", written,
		"freed", len(freed),
		"entries", t.nentries,
	)
	if len(errs) > 0 {
		return addr, fmt.Errorf("%w: free released records: %w", ErrStorage, errors.Join(errs...))
	}
	return addr, nil
}

func (t *HTree) writePage(p Page, written *int) error {
	switch pg := p.(type) {
	case *DirectoryPage:
		if pg.coded != nil {
			return nil
		}
		for i, c := range pg.children {
			if c == nil || (i > 0 && pg.children[i-1] == c) {
				continue
			}
			if err := t.writePage(c, written); err != nil {
				return err
			}
		}
		buf := encodeDirectory(pg)
		addr, err := t.write(buf)
		if err != nil {
			return err
		}
		cd, err := decodeDirectory(buf, t.addressBits)
		if err != nil {
			return err
		}
		pg.coded, pg.addrs, pg.addr = cd, nil, addr
	case *BucketPage:
		if pg.coded != nil {
			return nil
		}
		buf := encodeBucket(pg, t.opts.VersionTimestamps)
		addr, err := t.write(buf)
		if err != nil {
			return err
		}
		cb, err := decodeBucket(buf, t.addressBits)
		if err != nil {
			return err
		}
		pg.coded, pg.slots, pg.addr = cb, nil, addr
	}
	*written++
	return nil
}

func (t *HTree) read(addr storage.Addr) ([]byte, error) {
	buf, err := t.store.Read(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrStorage, addr, err)
	}
	return buf, nil
}

func (t *HTree) write(data []byte) (storage.Addr, error) {
	addr, err := t.store.Write(data)
	if err != nil {
		return storage.NullAddr, fmt.Errorf("%w: write %d bytes: %w", ErrStorage, len(data), err)
	}
	return addr, nil
}
