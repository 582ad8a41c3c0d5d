package storage

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"unicode"
	"unicode/utf8"
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

func (e *errWriter) Fprintln(a ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintln(e.w, a...)
}

func slotFlagName(f uint16) string {
	switch f {
	case SlotFlagNormal:
		return "LIVE"
	case SlotFlagDeleted:
		return "DELETED"
	default:
		return fmt.Sprintf("UNKNOWN(0x%04x)", f)
	}
}

// Preview renders b for humans: printable utf8 as text, anything else as '.'.
func Preview(b []byte) string {
	var buf bytes.Buffer
	if utf8.Valid(b) {
		for _, r := range string(b) {
			if unicode.IsPrint(r) {
				buf.WriteRune(r)
			} else {
				buf.WriteByte('.')
			}
		}
		return buf.String()
	}
	for _, c := range b {
		if c < utf8.RuneSelf && unicode.IsPrint(rune(c)) {
			buf.WriteByte(c)
		} else {
			buf.WriteByte('.')
		}
	}
	return buf.String()
}

// Debug prints header, slots, and record previews to the writer.
func (p *Page) Debug(w io.Writer) error {
	ew := &errWriter{w: w}

	ew.Fprintf("=== Page %d ===\n", p.PageID())
	ew.Fprintf("flags=0x%04x lower=%d upper=%d special=%d\n",
		p.flags(), p.lower(), p.upper(), p.special())
	ew.Fprintf("freeSpace=%d slots=%d live=%d\n",
		p.FreeSpace(), p.NumSlots(), p.LiveTuples())

	const maxPreview = 32
	for i := 0; i < p.NumSlots() && ew.err == nil; i++ {
		s, err := p.getSlot(i)
		if err != nil {
			ew.Fprintf("[%d] <error: %v>\n", i, err)
			continue
		}
		ew.Fprintf("[%d] %s off=%d len=%d", i, slotFlagName(s.Flags), s.Offset, s.Length)
		if s.Flags != SlotFlagNormal {
			ew.Fprintln()
			continue
		}
		data, err := p.ReadTuple(i)
		if err != nil {
			ew.Fprintf(" <error: %v>\n", err)
			continue
		}
		preview := data
		if len(preview) > maxPreview {
			preview = preview[:maxPreview]
		}
		ew.Fprintf(" hex=%s text=%q\n", hex.EncodeToString(preview), Preview(preview))
	}
	return ew.err
}

