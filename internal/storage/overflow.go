package storage

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/novahtree/internal/alias/bx"
)

// OverflowRef points to an overflow chain in a dedicated overflow file set.
// - FirstPageID: the first page of the chain
// - Length:      total logical bytes stored across the chain
type OverflowRef struct {
	FirstPageID uint32
	Length      uint32
}

// OverflowManager stores records too large for a slotted page as a linked
// list of pages in its own file set. Chains are append-only; Free marks the
// pages dead so stale references fail loudly instead of reading garbage.
type OverflowManager struct {
	sm *StorageManager
	fs FileSet

	mu   sync.Mutex
	next uint32 // next page id to append
}

func NewOverflowManager(sm *StorageManager, fs FileSet) (*OverflowManager, error) {
	n, err := sm.CountPages(fs)
	if err != nil {
		return nil, err
	}
	return &OverflowManager{sm: sm, fs: fs, next: n}, nil
}

// Overflow page layout (PageSize bytes total):
//
//	[0..3]   uint32 nextPageID   // 0 => end of chain
//	[4..5]   uint16 used         // payload bytes on this page
//	[6..7]   uint16 flags
//	[8..]    payload bytes
const (
	overflowHeaderSize  = 8
	overflowPayloadSize = PageSize - overflowHeaderSize

	overflowFlagLive  uint16 = 1 << 0
	overflowFlagFreed uint16 = 1 << 1
)

// Write appends data as a new chain.
func (ovf *OverflowManager) Write(data []byte) (OverflowRef, error) {
	if len(data) == 0 {
		return OverflowRef{}, ErrEmptyRecord
	}

	ovf.mu.Lock()
	defer ovf.mu.Unlock()

	npages := (len(data) + overflowPayloadSize - 1) / overflowPayloadSize
	first := ovf.next
	buf := make([]byte, PageSize)

	for i := range npages {
		clear(buf)
		chunk := data[i*overflowPayloadSize:]
		if len(chunk) > overflowPayloadSize {
			chunk = chunk[:overflowPayloadSize]
		}
		pageID := first + uint32(i)
		var next uint32
		if i < npages-1 {
			next = pageID + 1
		}
		bx.PutU32At(buf, 0, next)
		bx.PutU16At(buf, 4, uint16(len(chunk)))
		bx.PutU16At(buf, 6, overflowFlagLive)
		copy(buf[overflowHeaderSize:], chunk)

		if err := ovf.sm.WritePage(ovf.fs, pageID, buf); err != nil {
			return OverflowRef{}, err
		}
	}
	ovf.next = first + uint32(npages)

	ref := OverflowRef{FirstPageID: first, Length: uint32(len(data))}
	slog.Debug("overflow.write",
		"firstPageID", ref.FirstPageID,
		"length", ref.Length,
		"pages", npages,
	)
	return ref, nil
}

// Read loads the full logical byte slice from an overflow chain.
func (ovf *OverflowManager) Read(ref OverflowRef) ([]byte, error) {
	if ref.Length == 0 {
		return nil, fmt.Errorf("overflow: zero-length ref")
	}

	out := make([]byte, 0, ref.Length)
	remaining := int(ref.Length)
	pageID := ref.FirstPageID
	buf := make([]byte, PageSize)

	for remaining > 0 {
		if err := ovf.sm.ReadPage(ovf.fs, pageID, buf); err != nil {
			return nil, err
		}
		next := bx.U32At(buf, 0)
		used := int(bx.U16At(buf, 4))
		flags := bx.U16At(buf, 6)

		if flags&overflowFlagLive == 0 || flags&overflowFlagFreed != 0 {
			return nil, fmt.Errorf("%w: overflow page %d", ErrRecordNotFound, pageID)
		}
		if used > overflowPayloadSize || used > remaining {
			slog.Warn("overflow.read.bad_used",
				"pageID", pageID,
				"used", used,
				"remaining", remaining,
			)
			return nil, fmt.Errorf("overflow: corrupt page %d", pageID)
		}

		out = append(out, buf[overflowHeaderSize:overflowHeaderSize+used]...)
		remaining -= used

		if remaining > 0 {
			if next == 0 {
				return nil, fmt.Errorf("overflow: truncated chain, remaining=%d", remaining)
			}
			pageID = next
		}
	}
	return out, nil
}

// Free marks every page of the chain dead.
func (ovf *OverflowManager) Free(ref OverflowRef) error {
	ovf.mu.Lock()
	defer ovf.mu.Unlock()

	buf := make([]byte, PageSize)
	pageID := ref.FirstPageID
	for remaining := int(ref.Length); remaining > 0; {
		if err := ovf.sm.ReadPage(ovf.fs, pageID, buf); err != nil {
			return err
		}
		flags := bx.U16At(buf, 6)
		if flags&overflowFlagFreed != 0 || flags&overflowFlagLive == 0 {
			return fmt.Errorf("%w: overflow page %d", ErrRecordNotFound, pageID)
		}
		bx.PutU16At(buf, 6, flags|overflowFlagFreed)
		if err := ovf.sm.WritePage(ovf.fs, pageID, buf); err != nil {
			return err
		}
		remaining -= int(bx.U16At(buf, 4))
		next := bx.U32At(buf, 0)
		if next == 0 {
			break
		}
		pageID = next
	}

	slog.Debug("overflow.free", "firstPageID", ref.FirstPageID, "length", ref.Length)
	return nil
}
