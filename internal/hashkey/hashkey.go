// Package hashkey turns application bytes into hash-ready index keys.
//
// The index routes on the leading bits of a key, so keys whose prefixes are
// skewed (URIs, sequential ids) pile into one corner of the directory. An
// 8-byte xxhash64 in big-endian order spreads them evenly while keeping the
// key short.
package hashkey

import (
	"github.com/cespare/xxhash/v2"

	"github.com/tuannm99/novahtree/internal/alias/bx"
)

// Size is the length of every key produced by this package.
const Size = 8

// Of returns the hash key of b.
func Of(b []byte) []byte {
	k := make([]byte, Size)
	bx.PutU64BE(k, xxhash.Sum64(b))
	return k
}

// OfString returns the hash key of s without copying it.
func OfString(s string) []byte {
	k := make([]byte, Size)
	bx.PutU64BE(k, xxhash.Sum64String(s))
	return k
}
