package wire

import "encoding/binary"

// MaxVarintLen is the worst-case encoded size of a 64-bit varint.
const MaxVarintLen = binary.MaxVarintLen64

// AppendUvarint appends v to b as an unsigned LEB128 varint.
// The encoding is canonical: no redundant continuation bytes.
func AppendUvarint(b []byte, v uint64) []byte {
	return binary.AppendUvarint(b, v)
}

// AppendVarint appends v to b as a zig-zag signed varint.
func AppendVarint(b []byte, v int64) []byte {
	return binary.AppendVarint(b, v)
}

// Uvarint decodes an unsigned varint from the front of b and returns the
// value and the number of bytes consumed. It returns ErrTruncated if b ends
// before a terminating byte and ErrOverflow if the encoding does not
// terminate within 10 bytes or exceeds 64 bits.
func Uvarint(b []byte) (uint64, int, error) {
	v, n := binary.Uvarint(b)
	switch {
	case n == 0:
		return 0, 0, ErrTruncated
	case n < 0:
		return 0, 0, ErrOverflow
	}
	return v, n, nil
}

// Varint decodes a zig-zag signed varint from the front of b.
// Error semantics match Uvarint.
func Varint(b []byte) (int64, int, error) {
	v, n := binary.Varint(b)
	switch {
	case n == 0:
		return 0, 0, ErrTruncated
	case n < 0:
		return 0, 0, ErrOverflow
	}
	return v, n, nil
}
