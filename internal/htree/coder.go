package htree

import (
	"fmt"
	"hash/crc32"

	"github.com/tuannm99/novahtree/internal/alias/bx"
	"github.com/tuannm99/novahtree/internal/storage"
)

// Coded page layout, little endian, crc32 (IEEE) of everything before the
// trailer in the last 4 bytes.
//
// bucket:
//
//	[0]      type = pageTypeBucket
//	[1]      header flags (hdrVersions)
//	[2]      addressBits
//	[3]      reserved
//	[4..7]   nslots  u32   // 2^addressBits, more after identical-key growth
//	[8..11]  nkeys   u32   // non-empty slots
//	[12..19] prior   u64   // sibling links, always null; set links are rejected
//	[20..27] next    u64
//	slots...
//
// each slot:
//
//	flag u8 (slotPresent|slotDeleted|slotRaw|slotNilValue)
//	if present: keyLen u32, key
//	            raw: addr u64 | nil value: - | else: valLen u32, value
//	            version i64 when hdrVersions
//
// directory:
//
//	[0]      type = pageTypeDirectory
//	[1]      reserved
//	[2]      addressBits
//	[3]      reserved
//	[4..7]   nslots    u32
//	[8..11]  nchildren u32 // distinct child addresses
//	nslots * addr u64 (0 = none)
const (
	pageTypeBucket    byte = 1
	pageTypeDirectory byte = 2

	hdrVersions byte = 1 << 0

	slotPresent  byte = 1 << 0
	slotDeleted  byte = 1 << 1
	slotRaw      byte = 1 << 2
	slotNilValue byte = 1 << 3

	bucketHeaderSize = 28
	dirHeaderSize    = 12
	trailerSize      = 4
)

func encodeBucket(b *BucketPage, versions bool) []byte {
	n := b.capacity()
	size := bucketHeaderSize + trailerSize
	nkeys := 0
	for i := 0; i < n; i++ {
		t := b.tupleAt(i)
		size++
		if t.empty() {
			continue
		}
		nkeys++
		size += 4 + len(t.Key)
		switch {
		case t.Raw():
			size += 8
		case t.Value != nil:
			size += 4 + len(t.Value)
		}
		if versions {
			size += 8
		}
	}

	buf := make([]byte, size)
	buf[0] = pageTypeBucket
	if versions {
		buf[1] = hdrVersions
	}
	buf[2] = byte(b.tree.addressBits)
	bx.PutU32At(buf, 4, uint32(n))
	bx.PutU32At(buf, 8, uint32(nkeys))
	bx.PutU64At(buf, 12, uint64(storage.NullAddr))
	bx.PutU64At(buf, 20, uint64(storage.NullAddr))

	off := bucketHeaderSize
	for i := 0; i < n; i++ {
		t := b.tupleAt(i)
		if t.empty() {
			buf[off] = 0
			off++
			continue
		}
		flag := slotPresent
		if t.Deleted {
			flag |= slotDeleted
		}
		switch {
		case t.Raw():
			flag |= slotRaw
		case t.Value == nil:
			flag |= slotNilValue
		}
		buf[off] = flag
		off++

		bx.PutU32At(buf, off, uint32(len(t.Key)))
		off += 4
		off += copy(buf[off:], t.Key)

		switch {
		case t.Raw():
			bx.PutU64At(buf, off, uint64(t.Addr))
			off += 8
		case t.Value != nil:
			bx.PutU32At(buf, off, uint32(len(t.Value)))
			off += 4
			off += copy(buf[off:], t.Value)
		}
		if versions {
			bx.PutI64(buf[off:], t.Version)
			off += 8
		}
	}

	bx.PutU32At(buf, off, crc32.ChecksumIEEE(buf[:off]))
	return buf
}

// codedBucket is the read-only view of a persisted bucket page. Slot
// offsets are indexed once at decode time; tuples are parsed on access and
// alias the buffer.
type codedBucket struct {
	buf      []byte
	versions bool
	nkeys    int
	offs     []int32
}

func checkTrailer(buf []byte, headerSize int) error {
	if len(buf) < headerSize+trailerSize {
		return fmt.Errorf("%w: short buffer (%d bytes)", ErrCorruptPage, len(buf))
	}
	body := len(buf) - trailerSize
	if crc32.ChecksumIEEE(buf[:body]) != bx.U32At(buf, body) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptPage)
	}
	return nil
}

func decodeBucket(buf []byte, addressBits int) (*codedBucket, error) {
	if err := checkTrailer(buf, bucketHeaderSize); err != nil {
		return nil, err
	}
	if buf[0] != pageTypeBucket {
		return nil, fmt.Errorf("%w: type %d is not a bucket", ErrCorruptPage, buf[0])
	}
	if int(buf[2]) != addressBits {
		return nil, fmt.Errorf("%w: addressBits %d, index uses %d", ErrCorruptPage, buf[2], addressBits)
	}
	nslots := int(bx.U32At(buf, 4))
	if nslots < 1<<addressBits || nslots&(nslots-1) != 0 {
		return nil, fmt.Errorf("%w: bucket with %d slots", ErrCorruptPage, nslots)
	}

	if prior, next := storage.Addr(bx.U64At(buf, 12)), storage.Addr(bx.U64At(buf, 20)); !prior.IsNull() || !next.IsNull() {
		return nil, fmt.Errorf("%w: sibling links %s/%s", ErrCorruptPage, prior, next)
	}

	c := &codedBucket{
		buf:      buf,
		versions: buf[1]&hdrVersions != 0,
		nkeys:    int(bx.U32At(buf, 8)),
		offs:     make([]int32, nslots),
	}

	end := len(buf) - trailerSize
	off := bucketHeaderSize
	present := 0
	for i := range nslots {
		c.offs[i] = int32(off)
		_, n, err := c.parse(off, end)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		if buf[off]&slotPresent != 0 {
			present++
		}
		off += n
	}
	if off != end || present != c.nkeys {
		return nil, fmt.Errorf("%w: bucket body does not match header", ErrCorruptPage)
	}
	return c, nil
}

// parse reads the slot at off and returns it with its encoded length.
func (c *codedBucket) parse(off, end int) (Tuple, int, error) {
	short := fmt.Errorf("%w: slot runs past end of page", ErrCorruptPage)
	start := off
	if off >= end {
		return Tuple{}, 0, short
	}
	flag := c.buf[off]
	off++
	if flag&slotPresent == 0 {
		return Tuple{}, 1, nil
	}

	if off+4 > end {
		return Tuple{}, 0, short
	}
	klen := int(bx.U32At(c.buf, off))
	off += 4
	if klen > end-off {
		return Tuple{}, 0, short
	}
	t := Tuple{Key: c.buf[off : off+klen : off+klen], Deleted: flag&slotDeleted != 0}
	off += klen

	switch {
	case flag&slotRaw != 0:
		if off+8 > end {
			return Tuple{}, 0, short
		}
		t.Addr = storage.Addr(bx.U64At(c.buf, off))
		off += 8
	case flag&slotNilValue != 0:
	default:
		if off+4 > end {
			return Tuple{}, 0, short
		}
		vlen := int(bx.U32At(c.buf, off))
		off += 4
		if vlen > end-off {
			return Tuple{}, 0, short
		}
		t.Value = c.buf[off : off+vlen : off+vlen]
		off += vlen
	}

	if c.versions {
		if off+8 > end {
			return Tuple{}, 0, short
		}
		t.Version = bx.I64(c.buf[off:])
		off += 8
	}
	return t, off - start, nil
}

func (c *codedBucket) capacity() int { return len(c.offs) }

func (c *codedBucket) tuple(i int) Tuple {
	// offsets were validated by decodeBucket
	t, _, _ := c.parse(int(c.offs[i]), len(c.buf)-trailerSize)
	return t
}

// slot returns only what a key probe needs, without touching the value.
func (c *codedBucket) slot(i int) (key []byte, deleted bool) {
	off := int(c.offs[i])
	flag := c.buf[off]
	if flag&slotPresent == 0 {
		return nil, false
	}
	klen := int(bx.U32At(c.buf, off+1))
	return c.buf[off+5 : off+5+klen : off+5+klen], flag&slotDeleted != 0
}

// tuples copies the slot table out for a mutable page. Byte slices keep
// aliasing the coded buffer, which is never written again.
func (c *codedBucket) tuples() []Tuple {
	out := make([]Tuple, c.capacity())
	for i := range out {
		out[i] = c.tuple(i)
	}
	return out
}

func encodeDirectory(d *DirectoryPage) []byte {
	n := d.capacity()
	buf := make([]byte, dirHeaderSize+8*n+trailerSize)
	buf[0] = pageTypeDirectory
	buf[2] = byte(d.tree.addressBits)
	bx.PutU32At(buf, 4, uint32(n))

	distinct := 0
	var prev storage.Addr
	for i := 0; i < n; i++ {
		a := d.childAddr(i)
		if !a.IsNull() && (i == 0 || a != prev) {
			distinct++
		}
		prev = a
		bx.PutU64At(buf, dirHeaderSize+8*i, uint64(a))
	}
	bx.PutU32At(buf, 8, uint32(distinct))

	body := len(buf) - trailerSize
	bx.PutU32At(buf, body, crc32.ChecksumIEEE(buf[:body]))
	return buf
}

type codedDirectory struct {
	buf       []byte
	nslots    int
	nchildren int
}

func decodeDirectory(buf []byte, addressBits int) (*codedDirectory, error) {
	if err := checkTrailer(buf, dirHeaderSize); err != nil {
		return nil, err
	}
	if buf[0] != pageTypeDirectory {
		return nil, fmt.Errorf("%w: type %d is not a directory", ErrCorruptPage, buf[0])
	}
	if int(buf[2]) != addressBits {
		return nil, fmt.Errorf("%w: addressBits %d, index uses %d", ErrCorruptPage, buf[2], addressBits)
	}
	nslots := int(bx.U32At(buf, 4))
	if nslots != 1<<addressBits || len(buf) != dirHeaderSize+8*nslots+trailerSize {
		return nil, fmt.Errorf("%w: directory with %d slots in %d bytes", ErrCorruptPage, nslots, len(buf))
	}
	nchildren := int(bx.U32At(buf, 8))
	if nchildren < 1 || nchildren > nslots {
		return nil, fmt.Errorf("%w: directory with %d children", ErrCorruptPage, nchildren)
	}
	return &codedDirectory{
		buf:       buf,
		nslots:    nslots,
		nchildren: nchildren,
	}, nil
}

func (c *codedDirectory) addr(i int) storage.Addr {
	return storage.Addr(bx.U64At(c.buf, dirHeaderSize+8*i))
}

// pageType peeks at the type byte of a coded page.
func pageType(buf []byte) (byte, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty buffer", ErrCorruptPage)
	}
	return buf[0], nil
}
