package htree

import (
	"bytes"
	"fmt"
	"iter"
	"log/slog"

	"github.com/tuannm99/novahtree/internal/alias/bx"
)

// BucketPage holds tuples. Its slots are split into buddy buckets of
// 2^GlobalDepth slots; each buddy is an independent hash table addressed by
// the key bits that follow the page prefix.
//
// A bucket at full depth (a single buddy) whose keys cannot be told apart
// grows in place by doubling its slot count.
type BucketPage struct {
	pageBase

	coded *codedBucket // persisted view, nil while mutable
	slots []Tuple      // mutable slots, nil once persisted
}

func (t *HTree) newBucket() *BucketPage {
	return &BucketPage{
		pageBase: pageBase{tree: t},
		slots:    make([]Tuple, 1<<t.addressBits),
	}
}

func (b *BucketPage) IsLeaf() bool    { return true }
func (b *BucketPage) IsMutable() bool { return b.coded == nil }

func (b *BucketPage) capacity() int {
	if b.coded != nil {
		return b.coded.capacity()
	}
	return len(b.slots)
}

func (b *BucketPage) tupleAt(i int) Tuple {
	if b.coded != nil {
		return b.coded.tuple(i)
	}
	return b.slots[i]
}

func (b *BucketPage) keyAt(i int) (key []byte, deleted bool) {
	if b.coded != nil {
		return b.coded.slot(i)
	}
	return b.slots[i].Key, b.slots[i].Deleted
}

// KeyCount is the number of non-empty slots, delete markers included.
func (b *BucketPage) KeyCount() int {
	if b.coded != nil {
		return b.coded.nkeys
	}
	n := 0
	for i := range b.slots {
		if !b.slots[i].empty() {
			n++
		}
	}
	return n
}

// BuddySize is the slot count of one buddy bucket.
func (b *BucketPage) BuddySize() int {
	if b.depth >= b.tree.addressBits {
		return b.capacity()
	}
	return 1 << b.depth
}

// BuddyOffset is the first slot of the buddy bucket that key hashes to.
func (b *BucketPage) BuddyOffset(key []byte) int {
	a := b.tree.addressBits
	if b.depth >= a {
		return 0
	}
	return int(bx.Bits(key, b.prefix, a-b.depth)) << b.depth
}

func (b *BucketPage) buddyRange(off int) (int, int, error) {
	size := b.BuddySize()
	if off < 0 || off >= b.capacity() || off%size != 0 {
		return 0, 0, fmt.Errorf("%w: offset %d, buddy size %d, capacity %d",
			ErrBuddyOffset, off, size, b.capacity())
	}
	return off, off + size, nil
}

func (b *BucketPage) find(key []byte, start, end int) int {
	for i := start; i < end; i++ {
		k, deleted := b.keyAt(i)
		if k != nil && !deleted && bytes.Equal(k, key) {
			return i
		}
	}
	return -1
}

// Contains reports whether the buddy bucket at off holds a live tuple with
// this key.
func (b *BucketPage) Contains(key []byte, off int) (bool, error) {
	if key == nil {
		return false, ErrNilKey
	}
	start, end, err := b.buddyRange(off)
	if err != nil {
		return false, err
	}
	return b.find(key, start, end) >= 0, nil
}

// LookupFirst returns the first live tuple with this key in slot order.
func (b *BucketPage) LookupFirst(key []byte, off int) (Tuple, bool, error) {
	tup, ok, err := b.first(key, off)
	if err != nil || !ok {
		return Tuple{}, false, err
	}
	return tup.clone(), true, nil
}

// first is LookupFirst without the copy; the tuple shares page memory.
func (b *BucketPage) first(key []byte, off int) (Tuple, bool, error) {
	if key == nil {
		return Tuple{}, false, ErrNilKey
	}
	start, end, err := b.buddyRange(off)
	if err != nil {
		return Tuple{}, false, err
	}
	i := b.find(key, start, end)
	if i < 0 {
		return Tuple{}, false, nil
	}
	return b.tupleAt(i), true, nil
}

// LookupAll iterates every live tuple with this key in the buddy at off.
func (b *BucketPage) LookupAll(key []byte, off int) (*BuddyIterator, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	return newBuddyIterator(b, key, off)
}

// Tuples yields every non-empty slot in slot order. Delete markers are
// included and carry Deleted.
func (b *BucketPage) Tuples() iter.Seq[Tuple] {
	return func(yield func(Tuple) bool) {
		for i := 0; i < b.capacity(); i++ {
			if k, _ := b.keyAt(i); k == nil {
				continue
			}
			if !yield(b.tupleAt(i).clone()) {
				return
			}
		}
	}
}

// DistinctBitsRequired returns how many bits past the page prefix are
// needed to tell the keys on the page apart. ok is false when there are
// fewer than two keys or they are bit-identical over the longest key
// (shorter keys read as zero padded).
func (b *BucketPage) DistinctBitsRequired() (n int, ok bool) {
	return b.distinctBits(nil)
}

func (b *BucketPage) distinctBits(probe []byte) (int, bool) {
	keys := make([][]byte, 0, b.capacity()+1)
	for i := 0; i < b.capacity(); i++ {
		if k, _ := b.keyAt(i); k != nil {
			keys = append(keys, k)
		}
	}
	if probe != nil {
		keys = append(keys, probe)
	}
	if len(keys) < 2 {
		return 0, false
	}

	maxBits := 0
	for _, k := range keys {
		maxBits = max(maxBits, bx.BitLen(k))
	}
	first := keys[0]
	for pos := b.prefix; pos < maxBits; pos++ {
		bit := bx.Bit(first, pos)
		for _, k := range keys[1:] {
			if bx.Bit(k, pos) != bit {
				return pos - b.prefix + 1, true
			}
		}
	}
	return 0, false
}

// findSlot picks the slot an insert of key would use without modifying the
// page. grow means the page must double first and the slot is the first
// one of the new half. ok is false when the buddy is full and the caller
// has to split the page or add a directory level.
func (b *BucketPage) findSlot(key []byte, off int) (slot int, grow, ok bool, err error) {
	start, end, err := b.buddyRange(off)
	if err != nil {
		return 0, false, false, err
	}
	for i := start; i < end; i++ {
		if k, _ := b.keyAt(i); k == nil {
			return i, false, true, nil
		}
	}
	if b.depth < b.tree.addressBits {
		return 0, false, false, nil
	}
	if _, distinct := b.distinctBits(key); distinct {
		return 0, false, false, nil
	}
	return end, true, true, nil
}

func (b *BucketPage) checkArgs(key []byte, parent *DirectoryPage) error {
	if key == nil {
		return ErrNilKey
	}
	if parent == nil {
		return ErrNilParent
	}
	if b.parent != parent {
		return ErrNotChild
	}
	return nil
}

// Insert stores (key, value) in the first empty slot of the buddy at off
// and bumps the entry counter. It returns false, leaving the page
// untouched, when the buddy is full and the parent has to split the page
// or add a level.
func (b *BucketPage) Insert(key, value []byte, parent *DirectoryPage, off int) (bool, error) {
	if err := b.checkArgs(key, parent); err != nil {
		return false, err
	}
	slot, grow, ok, err := b.findSlot(key, off)
	if err != nil || !ok {
		return false, err
	}

	m, err := b.mutable()
	if err != nil {
		return false, err
	}

	tup := Tuple{Key: bytes.Clone(key)}
	t := b.tree
	if t.opts.RawRecords && len(value) > t.opts.MaxInlineValue {
		addr, err := t.write(value)
		if err != nil {
			return false, err
		}
		tup.Addr = addr
	} else {
		tup.Value = bytes.Clone(value)
	}
	if t.opts.VersionTimestamps {
		tup.Version = t.opts.Now()
	}

	if grow {
		m.grow()
	}
	m.slots[slot] = tup
	t.nentries++
	return true, nil
}

// InsertRawTuple copies slot srcSlot of src into the buddy at off. It is
// used while restructuring: the counter is left alone and raw records are
// carried by address.
func (b *BucketPage) InsertRawTuple(src *BucketPage, srcSlot int, key []byte, parent *DirectoryPage, off int) (bool, error) {
	if err := b.checkArgs(key, parent); err != nil {
		return false, err
	}
	if src == nil {
		return false, ErrNilPage
	}
	if srcSlot < 0 || srcSlot >= src.capacity() {
		return false, fmt.Errorf("%w: slot %d of %d", ErrEmptySlot, srcSlot, src.capacity())
	}
	tup := src.tupleAt(srcSlot)
	if tup.empty() {
		return false, fmt.Errorf("%w: slot %d", ErrEmptySlot, srcSlot)
	}

	slot, grow, ok, err := b.findSlot(key, off)
	if err != nil || !ok {
		return false, err
	}
	m, err := b.mutable()
	if err != nil {
		return false, err
	}
	if grow {
		m.grow()
	}
	m.slots[slot] = tup
	return true, nil
}

// Remove deletes the first live tuple with this key from the buddy at off.
// With delete markers enabled the tuple stays as a marker; otherwise the
// slot is cleared and a raw record is released.
func (b *BucketPage) Remove(key []byte, off int) (bool, error) {
	if key == nil {
		return false, ErrNilKey
	}
	start, end, err := b.buddyRange(off)
	if err != nil {
		return false, err
	}
	i := b.find(key, start, end)
	if i < 0 {
		return false, nil
	}

	m, err := b.mutable()
	if err != nil {
		return false, err
	}
	t := b.tree
	if t.opts.DeleteMarkers {
		m.slots[i].Deleted = true
		if t.opts.VersionTimestamps {
			m.slots[i].Version = t.opts.Now()
		}
	} else {
		t.release(m.slots[i].Addr)
		m.slots[i] = Tuple{}
	}
	t.nentries--
	return true, nil
}

func (b *BucketPage) grow() {
	n := len(b.slots)
	b.slots = append(b.slots, make([]Tuple, n)...)
	slog.Debug("htree.bucket.grow", "from", n, "to", len(b.slots), "prefix", b.prefix)
}

// mutable returns b itself when it has not been persisted yet, otherwise a
// fresh copy that has replaced b in the tree.
func (b *BucketPage) mutable() (*BucketPage, error) {
	if b.coded == nil {
		return b, nil
	}
	nb := &BucketPage{
		pageBase: pageBase{
			tree:   b.tree,
			parent: b.parent,
			depth:  b.depth,
			prefix: b.prefix,
		},
		slots: b.coded.tuples(),
	}
	if err := b.tree.copyOnWrite(b, nb); err != nil {
		return nil, err
	}
	return nb, nil
}
