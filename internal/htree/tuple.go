package htree

import (
	"bytes"

	"github.com/tuannm99/novahtree/internal/storage"
)

// Tuple is the materialized view of one bucket slot.
//
// A tuple whose value lives outside the page ("raw record") has Addr set
// and a nil Value; HTree.Value resolves it. Key is nil only for an empty
// slot, which is never handed out.
type Tuple struct {
	Key     []byte
	Value   []byte
	Addr    storage.Addr
	Deleted bool
	Version int64
}

// Raw reports whether the value is stored as a separate record.
func (t Tuple) Raw() bool { return !t.Addr.IsNull() }

func (t Tuple) empty() bool { return t.Key == nil }

// clone detaches the tuple from page memory before it is handed out.
func (t Tuple) clone() Tuple {
	t.Key = bytes.Clone(t.Key)
	t.Value = bytes.Clone(t.Value)
	return t
}
