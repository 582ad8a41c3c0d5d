package storage

import "fmt"

// Addr identifies a record in a record store. The zero value means
// "not persisted".
//
// File-backed stores pack the location into the address:
//
//	inline:   [63]=0  [16..62] pageID+1        [0..15] slot
//	overflow: [63]=1  [32..62] first page id   [0..31] length
type Addr uint64

const NullAddr Addr = 0

const overflowBit Addr = 1 << 63

func (a Addr) IsNull() bool { return a == NullAddr }

func (a Addr) String() string {
	if a.IsNull() {
		return "null"
	}
	return fmt.Sprintf("@%d", uint64(a))
}

// InlineAddr packs a slotted-page location.
func InlineAddr(pageID uint32, slot uint16) Addr {
	return Addr(uint64(pageID)+1)<<16 | Addr(slot)
}

// OverflowAddr packs an overflow chain reference.
func OverflowAddr(ref OverflowRef) Addr {
	return overflowBit | Addr(ref.FirstPageID)<<32 | Addr(ref.Length)
}

func (a Addr) IsOverflow() bool { return a&overflowBit != 0 }

// Inline unpacks an address produced by InlineAddr.
func (a Addr) Inline() (pageID uint32, slot uint16, err error) {
	if a.IsNull() || a.IsOverflow() || a>>16 == 0 {
		return 0, 0, fmt.Errorf("%w: %s is not inline", ErrBadAddr, a)
	}
	return uint32(a>>16) - 1, uint16(a), nil
}

// Overflow unpacks an address produced by OverflowAddr.
func (a Addr) Overflow() (OverflowRef, error) {
	if !a.IsOverflow() || uint32(a) == 0 {
		return OverflowRef{}, fmt.Errorf("%w: %s is not an overflow ref", ErrBadAddr, a)
	}
	return OverflowRef{
		FirstPageID: uint32((a &^ overflowBit) >> 32),
		Length:      uint32(a),
	}, nil
}
