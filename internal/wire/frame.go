package wire

// AppendFrame appends payload to b as a length-prefixed frame: an unsigned
// varint byte count followed by the payload. This framing is shared by the
// TCP stream and the shared-memory ring.
func AppendFrame(b, payload []byte) []byte {
	b = AppendUvarint(b, uint64(len(payload)))
	return append(b, payload...)
}

// Frame encodes payload as a standalone length-prefixed frame.
func Frame(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, MaxVarintLen+len(payload)), payload)
}

// ReadFrame decodes one frame from the front of b, returning the payload and
// the total bytes consumed (prefix plus payload). Returns ErrTruncated when
// b holds less than a whole frame.
func ReadFrame(b []byte) ([]byte, int, error) {
	size, n, err := Uvarint(b)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(b)-n) < size {
		return nil, 0, ErrTruncated
	}
	return b[n : n+int(size)], n + int(size), nil
}
