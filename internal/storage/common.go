package storage

import (
	"errors"
)

const (
	OneB  = 1 << 0  // 1
	OneKB = 1 << 10 // 1,024
	OneMB = 1 << 20 // 1,048,576
	OneGB = 1 << 30 // 1,073,741,824

	SegmentSize       = 1 << 30                // 1 GiB
	PageSize          = 1 << 13                // 8 KiB
	MaxPagePerSegment = SegmentSize / PageSize // 131,072 pages/segment
	HeaderSize        = 12                     // flags, pageID, lower, upper, special
	SlotSize          = 6                      // 3 * uint16: offset, length, flags

	// MaxInlineRecord is the largest record kept inside a slotted page.
	// Anything bigger goes to an overflow chain.
	MaxInlineRecord = PageSize / 4
)

const (
	FileMode0644 = 0o644 // rw-r--r--
	FileMode0755 = 0o755 // rwxr-xr-x
)

var (
	ErrRecordNotFound = errors.New("storage: record not found")
	ErrEmptyRecord    = errors.New("storage: empty record")
	ErrBadAddr        = errors.New("storage: malformed record address")
)
