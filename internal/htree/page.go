package htree

import (
	"log/slog"
	"math/bits"

	"github.com/tuannm99/novahtree/internal/storage"
)

// Page is either a *DirectoryPage or a *BucketPage.
//
// A page is mutable until it is written by a checkpoint; after that it wraps
// its coded buffer and never changes again. The first mutation of a
// persisted page builds a new mutable page, rebinds the parent slots to it
// and releases the old address.
type Page interface {
	// Addr is the persisted address, NullAddr while the page is mutable.
	Addr() storage.Addr
	// GlobalDepth is the number of bits this page discriminates on. For
	// every page but the root it is derived from the parent's fan-in.
	GlobalDepth() int
	// PrefixLength is the number of leading key bits fixed for everything
	// reachable through this page.
	PrefixLength() int
	Parent() *DirectoryPage
	IsLeaf() bool
	IsMutable() bool

	base() *pageBase
}

type pageBase struct {
	tree   *HTree
	parent *DirectoryPage // non-owning, used to ascend on copy-on-write
	addr   storage.Addr
	depth  int
	prefix int
}

func (p *pageBase) Addr() storage.Addr     { return p.addr }
func (p *pageBase) GlobalDepth() int       { return p.depth }
func (p *pageBase) PrefixLength() int      { return p.prefix }
func (p *pageBase) Parent() *DirectoryPage { return p.parent }
func (p *pageBase) base() *pageBase        { return p }

// localDepth derives a child's depth from the number of parent slots that
// reference it.
func localDepth(addressBits, fanIn int) int {
	return addressBits - (bits.Len(uint(fanIn)) - 1)
}

// copyOnWrite rebinds every reference to old onto its mutable replacement.
// The parent is made mutable first, which repeats the process up to the
// root.
func (t *HTree) copyOnWrite(old, nw Page) error {
	ob := old.base()
	if ob.parent == nil {
		root, ok := nw.(*DirectoryPage)
		if !ok || Page(t.root) != old {
			return ErrNilParent
		}
		t.root = root
	} else {
		p, err := ob.parent.mutable()
		if err != nil {
			return err
		}
		if !p.relink(old, nw) {
			return ErrNotChild
		}
	}

	slog.Debug("htree.page.cow",
		"old", ob.addr,
		"leaf", old.IsLeaf(),
		"depth", ob.depth,
	)
	t.release(ob.addr)
	return nil
}

// release queues an address for deletion. Addresses are handed back to the
// store only after the next checkpoint, so the previous checkpoint stays
// readable until it is superseded.
func (t *HTree) release(addr storage.Addr) {
	if addr.IsNull() {
		return
	}
	t.pendingFree = append(t.pendingFree, addr)
}
