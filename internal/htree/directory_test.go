package htree

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func tupleKeys(b *BucketPage) []string {
	var out []string
	for tup := range b.Tuples() {
		out = append(out, string(tup.Key))
	}
	return out
}

func TestDirectory_SplitConservesTuples(t *testing.T) {
	tr, _ := newTestTree(t, Options{AddressBits: 2})
	keys := [][]byte{{0x00}, {0x40}, {0x80}, {0xC0}}
	for _, k := range keys {
		require.NoError(t, tr.Insert(k, k))
	}
	b := rootBucket(t, tr)
	require.Equal(t, 4, b.KeyCount(), "one key per buddy, no split yet")
	before := tupleKeys(b)

	require.NoError(t, tr.root.Split(b))
	require.EqualValues(t, 4, tr.EntryCount())
	require.Equal(t, 2, tr.root.ChildCount())

	lc, err := tr.root.Child(0)
	require.NoError(t, err)
	rc, err := tr.root.Child(3)
	require.NoError(t, err)
	left, right := lc.(*BucketPage), rc.(*BucketPage)
	require.Equal(t, 1, left.GlobalDepth())
	require.Equal(t, 1, right.GlobalDepth())
	require.Equal(t, 1, left.PrefixLength())
	require.Equal(t, []string{"\x00", "\x40"}, tupleKeys(left))
	require.Equal(t, []string{"\x80", "\xc0"}, tupleKeys(right))

	after := append(tupleKeys(left), tupleKeys(right)...)
	sort.Strings(before)
	sort.Strings(after)
	require.Equal(t, before, after)

	for _, k := range keys {
		v, ok, err := tr.Lookup(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, k, v)
	}
	requireValid(t, tr)
}

func TestDirectory_SplitAndAddLevelPreconditions(t *testing.T) {
	tr, _ := newTestTree(t, Options{AddressBits: 2})
	b := rootBucket(t, tr)

	_, err := tr.root.AddLevel(b)
	require.ErrorIs(t, err, ErrNotSoleBuddy)
	require.ErrorIs(t, tr.root.Split(nil), ErrNilPage)
	_, err = tr.root.AddLevel(nil)
	require.ErrorIs(t, err, ErrNilPage)

	stranger := tr.newBucket()
	require.ErrorIs(t, tr.root.Split(stranger), ErrNotChild)

	sole := newSoleBuddyTree(t, 2)
	sb := bucketFor(t, sole, []byte{0x00})
	require.ErrorIs(t, sole.root.Split(sb), ErrSplitSoleBuddy)

	nd, err := sole.root.AddLevel(sb)
	require.NoError(t, err)
	require.Equal(t, 2, nd.GlobalDepth())
	require.Equal(t, 2, nd.PrefixLength())
	require.Same(t, sole.root, nd.Parent())
	requireValid(t, sole)
}

func TestDirectory_ChildRecomputesDepthOnLoad(t *testing.T) {
	tr, ms := newTestTree(t, Options{AddressBits: 2})
	// one split: slots 0-1 share the left bucket
	for _, k := range [][]byte{{0x00}, {0x10}} {
		require.NoError(t, tr.Insert(k, nil))
	}
	cp, err := tr.Checkpoint()
	require.NoError(t, err)

	re, err := Open(ms, cp, Options{})
	require.NoError(t, err)
	require.Nil(t, re.root.children[0])

	c, err := re.root.Child(1)
	require.NoError(t, err)
	require.Equal(t, 1, c.GlobalDepth())
	require.Equal(t, 1, c.PrefixLength())
	require.Same(t, c, re.root.children[0], "the whole run shares the child")
	require.Nil(t, re.root.children[2])

	_, err = re.root.Child(4)
	require.ErrorIs(t, err, ErrBuddyOffset)
}

func TestDirectory_CorruptRuns(t *testing.T) {
	tr, _ := newTestTree(t, Options{AddressBits: 2})
	a, b := tr.newBucket(), tr.newBucket()

	// slots 1 and 2 share a child: a misaligned run
	tr.root.link(0, 1, a)
	tr.root.children[1], tr.root.children[2] = b, b
	tr.root.link(3, 1, tr.newBucket())
	_, _, err := tr.root.slotRun(1)
	require.ErrorIs(t, err, ErrCorruptPage)

	var out bytes.Buffer
	require.False(t, tr.Validate(&out))
	require.Contains(t, out.String(), "not an aligned power of two")
}
