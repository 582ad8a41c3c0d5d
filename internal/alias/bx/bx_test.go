package bx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLittleEndianReadWrite verifies that PutU16/U32/U64 and U16/U32/U64
// correctly round-trip values using little-endian encoding.
func TestLittleEndianReadWrite(t *testing.T) {
	// ---- U16 ----
	{
		b := make([]byte, 2)
		var v uint16 = 0x1234

		PutU16(b, v)
		// in LE, least-significant byte goes first
		assert.Equal(t, []byte{0x34, 0x12}, b)
		assert.Equal(t, v, U16(b))
	}

	// ---- U32 ----
	{
		b := make([]byte, 4)
		var v uint32 = 0x01020304

		PutU32(b, v)
		assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b)
		assert.Equal(t, v, U32(b))
	}

	// ---- I64 ----
	{
		b := make([]byte, 8)
		var v int64 = -1234567890

		PutI64(b, v)
		assert.Equal(t, v, I64(b))
	}
}

// TestLittleEndianAt verifies the *At variants used for page headers.
func TestLittleEndianAt(t *testing.T) {
	buf := make([]byte, 16)

	PutU16At(buf, 0, 0x0A0B)
	PutU32At(buf, 2, 0x01020304)
	PutU64At(buf, 6, 0x0102030405060708)

	assert.Equal(t, uint16(0x0A0B), U16At(buf, 0))
	assert.Equal(t, uint32(0x01020304), U32At(buf, 2))
	assert.Equal(t, uint64(0x0102030405060708), U64At(buf, 6))
}

func TestBigEndianU64(t *testing.T) {
	b := make([]byte, 8)
	var v uint64 = 0x0102030405060708

	PutU64BE(b, v)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, b)
	assert.Equal(t, v, U64BE(b))
}

func TestBit_MSBFirst(t *testing.T) {
	b := []byte{0xA0, 0x01} // 1010 0000 0000 0001

	assert.Equal(t, uint(1), Bit(b, 0))
	assert.Equal(t, uint(0), Bit(b, 1))
	assert.Equal(t, uint(1), Bit(b, 2))
	assert.Equal(t, uint(0), Bit(b, 3))
	assert.Equal(t, uint(1), Bit(b, 15))

	// past the end reads as zero padding
	assert.Equal(t, uint(0), Bit(b, 16))
	assert.Equal(t, uint(0), Bit(b, 1000))
	assert.Equal(t, uint(0), Bit(b, -1))
	assert.Equal(t, uint(0), Bit(nil, 0))
}

func TestBits(t *testing.T) {
	b := []byte{0xA0, 0x01}

	assert.Equal(t, uint32(0b10), Bits(b, 0, 2))
	assert.Equal(t, uint32(0b101), Bits(b, 0, 3))
	assert.Equal(t, uint32(0b01), Bits(b, 1, 2))
	assert.Equal(t, uint32(0), Bits(b, 3, 0))

	// straddles a byte boundary: bits 14..17 = 0 1 0 0
	assert.Equal(t, uint32(0b0100), Bits(b, 14, 4))
	assert.Equal(t, uint32(0xA001), Bits(b, 0, 16))
}

func TestBitString(t *testing.T) {
	b := []byte{0x30}
	assert.Equal(t, "0011", BitString(b, 0, 4))
	assert.Equal(t, "0000", BitString(b, 4, 4))
	assert.Equal(t, "", BitString(b, 0, 0))
	assert.Equal(t, 8, BitLen(b))
}
