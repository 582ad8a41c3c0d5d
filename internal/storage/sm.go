package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/tuannm99/novahtree/internal/alias/util"
)

type FileSet interface {
	OpenSegment(segNo int32) (*os.File, error)
	// Segments lists existing segment numbers in ascending order.
	Segments() ([]int32, error)
}

var _ FileSet = (*LocalFileSet)(nil)

// LocalFileSet represents a local directory + base file name.
// Segments are stored as: Base, Base.1, Base.2, ...
type LocalFileSet struct {
	Dir  string
	Base string
}

func (lfs LocalFileSet) OpenSegment(segNo int32) (*os.File, error) {
	if err := os.MkdirAll(lfs.Dir, FileMode0755); err != nil {
		return nil, errors.Wrapf(err, "storage: mkdir %s", lfs.Dir)
	}
	path := filepath.Join(lfs.Dir, SegFileName(lfs.Base, segNo))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open segment %s", path)
	}
	return f, nil
}

func (lfs LocalFileSet) Segments() ([]int32, error) {
	return listSegmentsLocal(lfs)
}

// StorageManager maps a logical pageID -> (segment, offset).
type StorageManager struct{}

func NewStorageManager() *StorageManager {
	return &StorageManager{}
}

func (sm *StorageManager) locate(pageID uint32) (segNo int32, offset int64) {
	segNo = int32(pageID / MaxPagePerSegment)
	offset = int64(pageID%MaxPagePerSegment) * PageSize
	return segNo, offset
}

// ReadPage reads exactly one page into dst. Bytes past the end of the
// segment read as zero so pages can be allocated lazily.
func (sm *StorageManager) ReadPage(fs FileSet, pageID uint32, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("dst must be exactly %d bytes", PageSize)
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer util.CloseFileFunc(f)

	n, err := f.ReadAt(dst, off)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "storage: read page %d", pageID)
	}
	clear(dst[n:])
	return nil
}

// WritePage writes exactly one page from src at the location of pageID.
func (sm *StorageManager) WritePage(fs FileSet, pageID uint32, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("src must be exactly %d bytes", PageSize)
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer util.CloseFileFunc(f)

	n, err := f.WriteAt(src, off)
	if err != nil {
		return errors.Wrapf(err, "storage: write page %d", pageID)
	}
	if n != PageSize {
		return errors.Wrapf(io.ErrShortWrite, "storage: write page %d", pageID)
	}
	return nil
}

// LoadPage reads a slotted page. An all-zero page is initialized in memory
// with the given pageID.
func (sm *StorageManager) LoadPage(fs FileSet, pageID uint32) (*Page, error) {
	buf := make([]byte, PageSize)
	if err := sm.ReadPage(fs, pageID, buf); err != nil {
		return nil, err
	}
	p := &Page{Buf: buf}
	if p.IsUninitialized() {
		p.init(pageID)
	}
	return p, nil
}

func (sm *StorageManager) SavePage(fs FileSet, pageID uint32, p *Page) error {
	return sm.WritePage(fs, pageID, p.Buf)
}

// CountPages returns the number of pages backed by the file set, i.e. the
// next page id to allocate.
func (sm *StorageManager) CountPages(fs FileSet) (uint32, error) {
	segs, err := fs.Segments()
	if err != nil {
		return 0, errors.Wrap(err, "storage: list segments")
	}
	if len(segs) == 0 {
		return 0, nil
	}
	last := segs[len(segs)-1]

	f, err := fs.OpenSegment(last)
	if err != nil {
		return 0, err
	}
	defer util.CloseFileFunc(f)

	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "storage: stat segment %d", last)
	}
	pages := (info.Size() + PageSize - 1) / PageSize
	return uint32(last)*MaxPagePerSegment + uint32(pages), nil
}
