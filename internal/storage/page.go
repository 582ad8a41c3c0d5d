package storage

import (
	"errors"

	"github.com/tuannm99/novahtree/internal/alias/bx"
)

// Header offsets
const (
	offFlags   = 0
	offPageID  = 2
	offLower   = 6
	offUpper   = 8
	offSpecial = 10
)

// Slot flags
const (
	SlotFlagNormal  uint16 = 0
	SlotFlagDeleted uint16 = 1 << 0
)

// Page flags
const (
	// PageFlagHasDead is set once a tuple was deleted and Compact may
	// reclaim space.
	PageFlagHasDead uint16 = 1 << 0
)

var (
	ErrTupleTooLarge = errors.New("page: tuple too large for inline")
	ErrNoSpace       = errors.New("page: not enough free space")
	ErrBadSlot       = errors.New("page: invalid slot")
	ErrCorruption    = errors.New("page: corrupt slot or tuple bounds")
	ErrWrongSize     = errors.New("page: buffer size != PageSize")
)

type Slot struct {
	Offset uint16
	Length uint16
	Flags  uint16
}

// Page is a slotted record page. Records are immutable once written, so a
// slot index stays valid for the lifetime of the record it was handed out
// for; deleting frees the bytes (after Compact) but never the slot number.
//
// +------------------+ 0
// | header           |
// | slots[]          | <-- lower
// +------------------+
// |   free space     |
// +------------------+ <-- upper
// |  tuple data      |
// |  (grows down)    |
// +------------------+ <-- special (unused)
// +------------------+ PageSize
type Page struct {
	Buf []byte
}

func NewPage(buf []byte, pageID uint32) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWrongSize
	}
	p := &Page{Buf: buf}
	p.init(pageID)
	return p, nil
}

func (p *Page) flags() uint16     { return bx.U16At(p.Buf, offFlags) }
func (p *Page) setFlags(v uint16) { bx.PutU16At(p.Buf, offFlags, v) }
func (p *Page) PageID() uint32    { return bx.U32At(p.Buf, offPageID) }
func (p *Page) lower() uint16     { return bx.U16At(p.Buf, offLower) }
func (p *Page) setLower(v uint16) { bx.PutU16At(p.Buf, offLower, v) }
func (p *Page) upper() uint16     { return bx.U16At(p.Buf, offUpper) }
func (p *Page) setUpper(v uint16) { bx.PutU16At(p.Buf, offUpper, v) }
func (p *Page) special() uint16   { return bx.U16At(p.Buf, offSpecial) }

func (p *Page) init(pageID uint32) {
	clear(p.Buf)
	bx.PutU32At(p.Buf, offPageID, pageID)
	p.setLower(HeaderSize)
	p.setUpper(PageSize)
	bx.PutU16At(p.Buf, offSpecial, PageSize)
}

func (p *Page) FreeSpace() int {
	return int(p.upper()) - int(p.lower())
}

func (p *Page) NumSlots() int {
	return int(p.lower()-HeaderSize) / SlotSize
}

func (p *Page) IsUninitialized() bool {
	return p.lower() == 0 && p.upper() == 0
}

func (p *Page) slotOff(idx int) int {
	return HeaderSize + idx*SlotSize
}

func (p *Page) getSlot(i int) (Slot, error) {
	if i < 0 || i >= p.NumSlots() {
		return Slot{}, ErrBadSlot
	}
	o := p.slotOff(i)
	if o+SlotSize > int(p.lower()) {
		return Slot{}, ErrCorruption
	}
	return Slot{
		Offset: bx.U16At(p.Buf, o),
		Length: bx.U16At(p.Buf, o+2),
		Flags:  bx.U16At(p.Buf, o+4),
	}, nil
}

func (p *Page) putSlot(idx int, s Slot) {
	o := p.slotOff(idx)
	bx.PutU16At(p.Buf, o, s.Offset)
	bx.PutU16At(p.Buf, o+2, s.Length)
	bx.PutU16At(p.Buf, o+4, s.Flags)
}

// InsertTuple copies tup into the page and returns its slot.
func (p *Page) InsertTuple(tup []byte) (slot int, err error) {
	maxInline := PageSize - HeaderSize - SlotSize
	if len(tup) > maxInline {
		return -1, ErrTupleTooLarge
	}
	if len(tup) == 0 {
		return -1, ErrCorruption
	}
	if p.FreeSpace() < len(tup)+SlotSize {
		return -1, ErrNoSpace
	}
	u := int(p.upper()) - len(tup)
	copy(p.Buf[u:], tup)
	p.setUpper(uint16(u))

	i := p.NumSlots()
	p.putSlot(i, Slot{Offset: uint16(u), Length: uint16(len(tup)), Flags: SlotFlagNormal})
	p.setLower(p.lower() + SlotSize)
	return i, nil
}

// ReadTuple returns a view into the page buffer. The caller must copy it
// before the page is unpinned.
func (p *Page) ReadTuple(slot int) ([]byte, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return nil, err
	}
	switch s.Flags {
	case SlotFlagNormal:
		start, end := int(s.Offset), int(s.Offset)+int(s.Length)
		if s.Length == 0 || start < int(p.upper()) || end > PageSize {
			return nil, ErrCorruption
		}
		return p.Buf[start:end], nil
	case SlotFlagDeleted:
		return nil, ErrBadSlot
	default:
		return nil, ErrCorruption
	}
}

func (p *Page) DeleteTuple(slot int) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Flags == SlotFlagDeleted {
		return ErrBadSlot
	}
	p.putSlot(slot, Slot{Flags: SlotFlagDeleted})
	p.setFlags(p.flags() | PageFlagHasDead)
	return nil
}

// LiveTuples counts slots that still hold a record.
func (p *Page) LiveTuples() int {
	n := 0
	for i := 0; i < p.NumSlots(); i++ {
		if s, err := p.getSlot(i); err == nil && s.Flags == SlotFlagNormal {
			n++
		}
	}
	return n
}

// Compact moves live tuples to the end of the page so the space of deleted
// tuples becomes free again. Slot numbers do not change. It returns the
// number of bytes reclaimed.
func (p *Page) Compact() (int, error) {
	if p.flags()&PageFlagHasDead == 0 {
		return 0, nil
	}
	before := p.FreeSpace()

	type live struct {
		slot int
		data []byte
	}
	var keep []live
	for i := 0; i < p.NumSlots(); i++ {
		s, err := p.getSlot(i)
		if err != nil {
			return 0, err
		}
		if s.Flags != SlotFlagNormal {
			continue
		}
		data, err := p.ReadTuple(i)
		if err != nil {
			return 0, err
		}
		keep = append(keep, live{slot: i, data: append([]byte(nil), data...)})
	}

	end := PageSize
	for _, l := range keep {
		end -= len(l.data)
		copy(p.Buf[end:], l.data)
		p.putSlot(l.slot, Slot{Offset: uint16(end), Length: uint16(len(l.data)), Flags: SlotFlagNormal})
	}
	clear(p.Buf[p.lower():end])
	p.setUpper(uint16(end))
	p.setFlags(p.flags() &^ PageFlagHasDead)
	return p.FreeSpace() - before, nil
}
