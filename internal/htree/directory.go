package htree

import (
	"fmt"
	"log/slog"

	"github.com/tuannm99/novahtree/internal/alias/bx"
	"github.com/tuannm99/novahtree/internal/storage"
)

// DirectoryPage routes on addressBits key bits. A directory always forms a
// single buddy table at full depth; a child referenced by n contiguous,
// aligned slots has depth addressBits - log2(n).
type DirectoryPage struct {
	pageBase

	coded *codedDirectory // persisted view, nil while mutable
	addrs []storage.Addr  // child addresses while mutable

	// children caches materialized children per slot, for persisted and
	// mutable directories alike. Every slot of a run shares one child.
	children []Page
}

func (t *HTree) newDirectory() *DirectoryPage {
	n := 1 << t.addressBits
	return &DirectoryPage{
		pageBase: pageBase{tree: t, depth: t.addressBits},
		addrs:    make([]storage.Addr, n),
		children: make([]Page, n),
	}
}

func (d *DirectoryPage) IsLeaf() bool    { return false }
func (d *DirectoryPage) IsMutable() bool { return d.coded == nil }

func (d *DirectoryPage) capacity() int { return len(d.children) }

// childAddr is the address slot i resolves to, NullAddr when the child is
// mutable or the slot is empty.
func (d *DirectoryPage) childAddr(i int) storage.Addr {
	if c := d.children[i]; c != nil {
		return c.Addr()
	}
	if d.coded != nil {
		return d.coded.addr(i)
	}
	return d.addrs[i]
}

// ChildCount is the number of distinct children.
func (d *DirectoryPage) ChildCount() int {
	if d.coded != nil {
		return d.coded.nchildren
	}
	return d.countChildren()
}

func (d *DirectoryPage) countChildren() int {
	n := 0
	for i := 0; i < d.capacity(); {
		if d.children[i] == nil && d.childAddr(i).IsNull() {
			i++
			continue
		}
		n++
		_, run, err := d.slotRun(i)
		if err != nil {
			run = 1
		}
		i += run
	}
	return n
}

// SlotFor selects the slot key routes through on this directory.
func (d *DirectoryPage) SlotFor(key []byte) int {
	return int(bx.Bits(key, d.prefix, d.tree.addressBits))
}

func (d *DirectoryPage) sameRef(i, j int) bool {
	ci, cj := d.children[i], d.children[j]
	if ci != nil || cj != nil {
		return ci == cj
	}
	a := d.childAddr(i)
	return !a.IsNull() && a == d.childAddr(j)
}

// slotRun returns the run of slots sharing the child of slot.
func (d *DirectoryPage) slotRun(slot int) (start, n int, err error) {
	start, end := slot, slot+1
	for start > 0 && d.sameRef(start-1, slot) {
		start--
	}
	for end < d.capacity() && d.sameRef(end, slot) {
		end++
	}
	n = end - start
	if n&(n-1) != 0 || start%n != 0 {
		return 0, 0, fmt.Errorf("%w: run [%d,%d) is not an aligned power of two", ErrCorruptPage, start, end)
	}
	return start, n, nil
}

// runOf locates the slots referencing c.
func (d *DirectoryPage) runOf(c Page) (start, n int, err error) {
	for i, ch := range d.children {
		if ch == c {
			return d.slotRun(i)
		}
	}
	return 0, 0, ErrNotChild
}

// link points n slots from start at c and derives its depth and prefix.
func (d *DirectoryPage) link(start, n int, c Page) {
	for i := start; i < start+n; i++ {
		d.children[i] = c
		if d.addrs != nil {
			d.addrs[i] = storage.NullAddr
		}
	}
	cb := c.base()
	cb.parent = d
	cb.depth = localDepth(d.tree.addressBits, n)
	cb.prefix = d.prefix + cb.depth
}

// relink rebinds every slot of old to its copy-on-write replacement.
func (d *DirectoryPage) relink(old, nw Page) bool {
	start, n, err := d.runOf(old)
	if err != nil {
		addr := old.Addr()
		if addr.IsNull() {
			return false
		}
		found := false
		for i := 0; i < d.capacity(); i++ {
			if d.children[i] == nil && d.childAddr(i) == addr {
				start, found = i, true
				break
			}
		}
		if !found {
			return false
		}
		if start, n, err = d.slotRun(start); err != nil {
			return false
		}
	}
	d.link(start, n, nw)
	return true
}

// Child materializes the child behind slot. Children are read from the
// store on first access and cached for every slot of their run.
func (d *DirectoryPage) Child(slot int) (Page, error) {
	if slot < 0 || slot >= d.capacity() {
		return nil, fmt.Errorf("%w: directory slot %d", ErrBuddyOffset, slot)
	}
	if c := d.children[slot]; c != nil {
		return c, nil
	}
	addr := d.childAddr(slot)
	if addr.IsNull() {
		return nil, fmt.Errorf("%w: empty directory slot %d", ErrCorruptPage, slot)
	}
	start, n, err := d.slotRun(slot)
	if err != nil {
		return nil, err
	}

	t := d.tree
	buf, err := t.read(addr)
	if err != nil {
		return nil, err
	}
	typ, err := pageType(buf)
	if err != nil {
		return nil, err
	}

	var c Page
	switch typ {
	case pageTypeBucket:
		cb, err := decodeBucket(buf, t.addressBits)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", addr, err)
		}
		c = &BucketPage{pageBase: pageBase{tree: t, addr: addr}, coded: cb}
	case pageTypeDirectory:
		if n != 1 {
			return nil, fmt.Errorf("%w: directory %s referenced by %d slots", ErrCorruptPage, addr, n)
		}
		cd, err := decodeDirectory(buf, t.addressBits)
		if err != nil {
			return nil, fmt.Errorf("directory %s: %w", addr, err)
		}
		c = &DirectoryPage{
			pageBase: pageBase{tree: t, addr: addr},
			coded:    cd,
			children: make([]Page, cd.nslots),
		}
	default:
		return nil, fmt.Errorf("%w: unknown page type %d at %s", ErrCorruptPage, typ, addr)
	}

	for i := start; i < start+n; i++ {
		d.children[i] = c
	}
	cb := c.base()
	cb.parent = d
	cb.depth = localDepth(t.addressBits, n)
	cb.prefix = d.prefix + cb.depth
	return c, nil
}

// Split halves the run of slots pointing at b between two new buckets one
// bit deeper and moves every tuple of b by the next undetermined key bit.
// b must be referenced by at least two slots.
func (d *DirectoryPage) Split(b *BucketPage) error {
	if b == nil {
		return ErrNilPage
	}
	start, n, err := d.runOf(b)
	if err != nil {
		return err
	}
	if n < 2 {
		return ErrSplitSoleBuddy
	}
	p, err := d.mutable()
	if err != nil {
		return err
	}

	t := d.tree
	left, right := t.newBucket(), t.newBucket()
	half := n / 2
	p.link(start, half, left)
	p.link(start+half, half, right)

	moved := 0
	for i := 0; i < b.capacity(); i++ {
		key, _ := b.keyAt(i)
		if key == nil {
			continue
		}
		target := left
		if bx.Bit(key, b.prefix) == 1 {
			target = right
		}
		ok, err := target.InsertRawTuple(b, i, key, p, target.BuddyOffset(key))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: split target full for slot %d", ErrCorruptPage, i)
		}
		moved++
	}
	t.release(b.addr)

	slog.Debug("htree.bucket.split",
		"addr", b.addr,
		"depth", b.depth,
		"newDepth", left.depth,
		"slots", n,
		"moved", moved,
	)
	return nil
}

// AddLevel replaces a full-depth bucket with a new directory whose halves
// point at two new buckets, moves the tuples down and returns the new
// directory.
func (d *DirectoryPage) AddLevel(b *BucketPage) (*DirectoryPage, error) {
	if b == nil {
		return nil, ErrNilPage
	}
	t := d.tree
	if b.depth != t.addressBits {
		return nil, fmt.Errorf("%w: depth %d", ErrNotSoleBuddy, b.depth)
	}
	start, n, err := d.runOf(b)
	if err != nil {
		return nil, err
	}
	p, err := d.mutable()
	if err != nil {
		return nil, err
	}

	nd := t.newDirectory()
	p.link(start, n, nd)
	half := nd.capacity() / 2
	nd.link(0, half, t.newBucket())
	nd.link(half, half, t.newBucket())

	moved := 0
	for i := 0; i < b.capacity(); i++ {
		if key, _ := b.keyAt(i); key == nil {
			continue
		}
		if err := t.placeRaw(b, i, nd); err != nil {
			return nil, err
		}
		moved++
	}
	t.release(b.addr)

	slog.Debug("htree.directory.addLevel",
		"addr", b.addr,
		"prefix", nd.prefix,
		"moved", moved,
	)
	return nd, nil
}

// mutable returns d itself when it has not been persisted yet, otherwise a
// fresh copy that has replaced d in the tree.
func (d *DirectoryPage) mutable() (*DirectoryPage, error) {
	if d.coded == nil {
		return d, nil
	}
	nd := &DirectoryPage{
		pageBase: pageBase{
			tree:   d.tree,
			parent: d.parent,
			depth:  d.depth,
			prefix: d.prefix,
		},
		addrs:    make([]storage.Addr, d.capacity()),
		children: make([]Page, d.capacity()),
	}
	for i := range nd.children {
		nd.addrs[i] = d.coded.addr(i)
		if c := d.children[i]; c != nil {
			nd.children[i] = c
			c.base().parent = nd
		}
	}
	if err := d.tree.copyOnWrite(d, nd); err != nil {
		return nil, err
	}
	return nd, nil
}
