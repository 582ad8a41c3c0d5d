package bx

import "strings"

// Bit returns bit pos of b, counting from the most significant bit of b[0].
// Positions past the end of b read as 0, so short keys behave as if they
// were padded with zero bytes.
func Bit(b []byte, pos int) uint {
	if pos < 0 {
		return 0
	}
	i := pos >> 3
	if i >= len(b) {
		return 0
	}
	return uint(b[i]>>(7-uint(pos&7))) & 1
}

// Bits returns n bits of b starting at bit pos as an unsigned integer,
// most significant bit first. n must be in [0, 32].
func Bits(b []byte, pos, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<1 | uint32(Bit(b, pos+i))
	}
	return v
}

// BitLen is the number of addressable bits in b.
func BitLen(b []byte) int { return len(b) << 3 }

// BitString renders n bits of b starting at pos, e.g. "0110".
func BitString(b []byte, pos, n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		if Bit(b, pos+i) == 1 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
