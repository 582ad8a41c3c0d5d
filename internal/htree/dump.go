package htree

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/tuannm99/novahtree/internal/alias/bx"
	"github.com/tuannm99/novahtree/internal/storage"
)

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Fprintf(format string, a ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, a...)
}

const maxPreview = 16

func preview(b []byte) string {
	if len(b) > maxPreview {
		return hex.EncodeToString(b[:maxPreview]) + "..."
	}
	return hex.EncodeToString(b)
}

func pageState(p Page) string {
	if p.IsMutable() {
		return "mutable"
	}
	return p.Addr().String()
}

// Dump pretty-prints the tree. It reports false if a page could not be
// loaded or the writer failed; the problem is printed in place.
func (t *HTree) Dump(w io.Writer) bool {
	ew := &errWriter{w: w}
	ew.Fprintf("htree addressBits=%d entries=%d checkpoint=%s pendingFree=%d\n",
		t.addressBits, t.nentries, t.checkpoint, len(t.pendingFree))
	ok := t.dumpDirectory(ew, t.root, 0)
	return ok && ew.err == nil
}

func (t *HTree) dumpDirectory(ew *errWriter, d *DirectoryPage, level int) bool {
	indent := strings.Repeat("  ", level)
	ew.Fprintf("%sD %s depth=%d prefix=%d children=%d\n",
		indent, pageState(d), d.depth, d.prefix, d.ChildCount())

	ok := true
	for i := 0; i < d.capacity(); {
		c, err := d.Child(i)
		if err != nil {
			ew.Fprintf("%s  [%d] <error: %v>\n", indent, i, err)
			ok = false
			i++
			continue
		}
		start := i
		for i < d.capacity() && d.children[i] == c {
			i++
		}
		ew.Fprintf("%s  [%d..%d]\n", indent, start, i-1)
		switch p := c.(type) {
		case *DirectoryPage:
			ok = t.dumpDirectory(ew, p, level+2) && ok
		case *BucketPage:
			t.dumpBucket(ew, p, level+2)
		}
	}
	return ok
}

func (t *HTree) dumpBucket(ew *errWriter, b *BucketPage, level int) {
	indent := strings.Repeat("  ", level)
	ew.Fprintf("%sB %s depth=%d prefix=%d slots=%d buddy=%d keys=%d\n",
		indent, pageState(b), b.depth, b.prefix, b.capacity(), b.BuddySize(), b.KeyCount())

	bits := t.addressBits - b.depth
	for i := 0; i < b.capacity(); i++ {
		tup := b.tupleAt(i)
		if tup.empty() {
			continue
		}
		ew.Fprintf("%s  [%d] key=%s", indent, i, preview(tup.Key))
		if bits > 0 {
			ew.Fprintf(" bits=%s", bx.BitString(tup.Key, b.prefix, bits))
		}
		if tup.Raw() {
			ew.Fprintf(" raw=%s", tup.Addr)
		} else if tup.Value == nil {
			ew.Fprintf(" val=nil")
		} else {
			ew.Fprintf(" val=%q", storage.Preview(tup.Value[:min(len(tup.Value), maxPreview)]))
		}
		if tup.Deleted {
			ew.Fprintf(" deleted")
		}
		if tup.Version != 0 {
			ew.Fprintf(" version=%d", tup.Version)
		}
		ew.Fprintf("\n")
	}
}

// Validate checks the structure: directory runs, derived depths and
// prefixes, parent links, tuple placement and the entry counter. Every
// problem found is written to w; the result is false if there was any.
func (t *HTree) Validate(w io.Writer) bool {
	ew := &errWriter{w: w}
	problems := 0
	report := func(p Page, format string, a ...any) {
		problems++
		ew.Fprintf("%s depth=%d prefix=%d: %s\n", pageState(p), p.GlobalDepth(), p.PrefixLength(), fmt.Sprintf(format, a...))
	}

	if t.root.parent != nil || t.root.depth != t.addressBits || t.root.prefix != 0 {
		report(t.root, "bad root")
	}

	var live int64
	err := t.Walk(func(_ int, p Page) bool {
		if parent := p.Parent(); parent != nil {
			t.validateLink(parent, p, report)
		}
		switch pg := p.(type) {
		case *DirectoryPage:
			t.validateDirectory(pg, report)
		case *BucketPage:
			live += t.validateBucket(pg, report)
		}
		return true
	})
	if err != nil {
		problems++
		ew.Fprintf("walk: %v\n", err)
	}
	if err == nil && live != t.nentries {
		problems++
		ew.Fprintf("entry counter %d, found %d live tuples\n", t.nentries, live)
	}
	if ew.err != nil {
		return false
	}
	return problems == 0
}

type reportFunc func(p Page, format string, a ...any)

func (t *HTree) validateLink(parent *DirectoryPage, p Page, report reportFunc) {
	_, n, err := parent.runOf(p)
	if err != nil {
		report(p, "not referenced by its parent: %v", err)
		return
	}
	if d := localDepth(t.addressBits, n); d != p.GlobalDepth() {
		report(p, "depth %d, parent fan-in %d implies %d", p.GlobalDepth(), n, d)
	}
	if want := parent.prefix + p.GlobalDepth(); want != p.PrefixLength() {
		report(p, "prefix %d, want %d", p.PrefixLength(), want)
	}
	if p.IsMutable() && !parent.IsMutable() {
		report(p, "mutable page under persisted parent %s", parent.addr)
	}
}

func (t *HTree) validateDirectory(d *DirectoryPage, report reportFunc) {
	if d.depth != t.addressBits {
		report(d, "directory below full depth")
	}
	runs := 0
	for i := 0; i < d.capacity(); {
		if d.children[i] == nil && d.childAddr(i).IsNull() {
			report(d, "empty slot %d", i)
			i++
			continue
		}
		_, n, err := d.slotRun(i)
		if err != nil {
			report(d, "slot %d: %v", i, err)
			n = 1
		}
		runs++
		i += n
	}
	if d.coded != nil && d.coded.nchildren != runs {
		report(d, "coded child count %d, found %d", d.coded.nchildren, runs)
	}
}

func (t *HTree) validateBucket(b *BucketPage, report reportFunc) int64 {
	capacity := b.capacity()
	if capacity != 1<<t.addressBits && (b.depth != t.addressBits || capacity&(capacity-1) != 0) {
		report(b, "capacity %d", capacity)
	}

	var live int64
	size := b.BuddySize()
	for i := 0; i < capacity; i++ {
		key, deleted := b.keyAt(i)
		if key == nil {
			continue
		}
		if !deleted {
			live++
		}
		off := b.BuddyOffset(key)
		if i < off || i >= off+size {
			report(b, "slot %d key %s belongs to buddy %d", i, preview(key), off)
		}
		_, owner, err := t.locate(key)
		if err != nil {
			report(b, "slot %d: locate: %v", i, err)
		} else if owner != b {
			report(b, "slot %d key %s routes to another page", i, preview(key))
		}
	}
	return live
}
