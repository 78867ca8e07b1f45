package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Version is the current wire format version.
const Version = 1

// MaxAssets bounds the number of symbols a single stream can carry.
const MaxAssets = 10

// Scale converts prices and quantities to fixed-point integers before
// varint encoding. 1e8 preserves the exchange's eight decimal places and
// is implied by Version; both sides of the wire must use the same value.
const Scale = 1e8

// Errors returned by the codec.
var (
	ErrTruncated          = errors.New("truncated input")
	ErrOverflow           = errors.New("varint overflow")
	ErrMalformed          = errors.New("malformed header")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrUnknownSymbol      = errors.New("unknown symbol")
)

// Header is the per-session reference block emitted once at the start of
// every stream. Immutable after construction.
type Header struct {
	Version             byte
	Assets              []string
	ReferenceTimestamp  int64
	ReferencePrices     []float64
	ReferenceQuantities []float64

	ids map[string]uint8
}

// NewHeader validates the asset list and reference vectors and builds a
// header. Each asset's position defines its symbol id.
func NewHeader(assets []string, refTimestamp int64, refPrices, refQuantities []float64) (*Header, error) {
	if len(assets) == 0 || len(assets) > MaxAssets {
		return nil, fmt.Errorf("%w: asset count %d outside 1..=%d", ErrMalformed, len(assets), MaxAssets)
	}
	if len(refPrices) != len(assets) || len(refQuantities) != len(assets) {
		return nil, fmt.Errorf("%w: reference vectors must match asset count %d", ErrMalformed, len(assets))
	}

	ids := make(map[string]uint8, len(assets))
	for i, sym := range assets {
		if len(sym) == 0 || len(sym) > 255 {
			return nil, fmt.Errorf("%w: symbol %q length outside 1..=255", ErrMalformed, sym)
		}
		if _, dup := ids[sym]; dup {
			return nil, fmt.Errorf("%w: duplicate symbol %q", ErrMalformed, sym)
		}
		ids[sym] = uint8(i)
	}

	return &Header{
		Version:             Version,
		Assets:              assets,
		ReferenceTimestamp:  refTimestamp,
		ReferencePrices:     refPrices,
		ReferenceQuantities: refQuantities,
		ids:                 ids,
	}, nil
}

// SymbolID returns the 0-based index of symbol within the asset list.
func (h *Header) SymbolID(symbol string) (uint8, bool) {
	id, ok := h.ids[symbol]
	return id, ok
}

// Encode serializes the header:
//
//	u8 version | u8 num_assets | (u8 len, bytes)* | u64 ref_ts LE |
//	f64 ref_price* LE | f64 ref_qty* LE
func (h *Header) Encode() []byte {
	size := 2 + 8 + 16*len(h.Assets)
	for _, sym := range h.Assets {
		size += 1 + len(sym)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, h.Version, byte(len(h.Assets)))
	for _, sym := range h.Assets {
		buf = append(buf, byte(len(sym)))
		buf = append(buf, sym...)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.ReferenceTimestamp))
	for _, p := range h.ReferencePrices {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p))
	}
	for _, q := range h.ReferenceQuantities {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(q))
	}
	return buf
}

// BuildHeader validates the inputs and returns the encoded header bytes.
func BuildHeader(assets []string, refTimestamp int64, refPrices, refQuantities []float64) ([]byte, error) {
	h, err := NewHeader(assets, refTimestamp, refPrices, refQuantities)
	if err != nil {
		return nil, err
	}
	return h.Encode(), nil
}

// ReadHeader reads a header off a byte stream. The header carries no length
// prefix on TCP, so the reader consumes exactly the bytes the structure
// implies.
func ReadHeader(r io.Reader) (*Header, error) {
	var fixed [2]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fixed[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, fixed[0])
	}
	n := int(fixed[1])
	if n == 0 || n > MaxAssets {
		return nil, fmt.Errorf("%w: asset count %d outside 1..=%d", ErrMalformed, n, MaxAssets)
	}

	buf := fixed[:]
	for i := 0; i < n; i++ {
		var symLen [1]byte
		if _, err := io.ReadFull(r, symLen[:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		sym := make([]byte, symLen[0])
		if _, err := io.ReadFull(r, sym); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		buf = append(buf, symLen[0])
		buf = append(buf, sym...)
	}

	rest := make([]byte, 8+16*n)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ParseHeader(append(buf, rest...))
}

// ParseHeader decodes an encoded header. The returned header is usable for
// both encoding and decoding trades.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: header shorter than 2 bytes", ErrMalformed)
	}
	if b[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[0])
	}

	n := int(b[1])
	if n == 0 || n > MaxAssets {
		return nil, fmt.Errorf("%w: asset count %d outside 1..=%d", ErrMalformed, n, MaxAssets)
	}

	off := 2
	assets := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if off >= len(b) {
			return nil, fmt.Errorf("%w: missing symbol length", ErrMalformed)
		}
		symLen := int(b[off])
		off++
		if symLen == 0 {
			return nil, fmt.Errorf("%w: empty symbol", ErrMalformed)
		}
		if off+symLen > len(b) {
			return nil, fmt.Errorf("%w: symbol bytes out of range", ErrMalformed)
		}
		assets = append(assets, string(b[off:off+symLen]))
		off += symLen
	}

	need := 8 + 16*n
	if len(b)-off < need {
		return nil, fmt.Errorf("%w: reference block shorter than %d bytes", ErrMalformed, need)
	}

	refTs := int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8

	prices := make([]float64, n)
	for i := range prices {
		prices[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
		off += 8
	}
	qtys := make([]float64, n)
	for i := range qtys {
		qtys[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
		off += 8
	}

	return NewHeader(assets, refTs, prices, qtys)
}
