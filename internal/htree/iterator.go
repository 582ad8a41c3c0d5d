package htree

import "bytes"

// BuddyIterator walks one buddy bucket and yields the live tuples whose key
// equals the probe key, in slot order. It is invalid once the page is
// restructured.
type BuddyIterator struct {
	page *BucketPage
	key  []byte
	pos  int
	end  int
}

func newBuddyIterator(b *BucketPage, key []byte, off int) (*BuddyIterator, error) {
	start, end, err := b.buddyRange(off)
	if err != nil {
		return nil, err
	}
	return &BuddyIterator{page: b, key: key, pos: start, end: end}, nil
}

// HasNext skips empty and non-matching slots and reports whether a match
// is left. It does not consume the match.
func (it *BuddyIterator) HasNext() bool {
	for ; it.pos < it.end; it.pos++ {
		k, deleted := it.page.keyAt(it.pos)
		if k != nil && !deleted && bytes.Equal(k, it.key) {
			return true
		}
	}
	return false
}

// Next returns a copy of the next match and moves one slot past it.
func (it *BuddyIterator) Next() (Tuple, bool) {
	t, ok := it.next()
	if !ok {
		return Tuple{}, false
	}
	return t.clone(), true
}

func (it *BuddyIterator) next() (Tuple, bool) {
	if !it.HasNext() {
		return Tuple{}, false
	}
	t := it.page.tupleAt(it.pos)
	it.pos++
	return t, true
}

// Remove is not supported; pages are only changed through the tree.
func (it *BuddyIterator) Remove() error { return ErrUnsupported }

// Collect drains the iterator.
func (it *BuddyIterator) Collect() []Tuple {
	var out []Tuple
	for t, ok := it.Next(); ok; t, ok = it.Next() {
		out = append(out, t)
	}
	return out
}
