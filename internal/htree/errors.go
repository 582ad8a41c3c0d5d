package htree

import "errors"

var (
	ErrNilKey         = errors.New("htree: nil key")
	ErrNilParent      = errors.New("htree: nil parent directory")
	ErrNilPage        = errors.New("htree: nil page")
	ErrEmptySlot      = errors.New("htree: source slot is empty")
	ErrBuddyOffset    = errors.New("htree: buddy offset out of range")
	ErrNotChild       = errors.New("htree: page is not a child of this directory")
	ErrSplitSoleBuddy = errors.New("htree: bucket owns a single directory slot and cannot split")
	ErrNotSoleBuddy   = errors.New("htree: add level requires a bucket at full depth")
	ErrUnsupported    = errors.New("htree: operation not supported")
	ErrCorruptPage    = errors.New("htree: corrupt page")
	ErrAddressBits    = errors.New("htree: address bits out of range")
	ErrStorage        = errors.New("htree: storage failure")
)
