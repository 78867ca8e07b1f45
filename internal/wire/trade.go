package wire

import (
	"fmt"
	"math"
)

// Trade is a normalized tick.
type Trade struct {
	Timestamp    int64 // milliseconds since epoch
	Symbol       string
	Price        float64
	Quantity     float64
	IsBuyerMaker bool
}

// maxTradeLen is the worst case for one encoded trade: the packed byte plus
// three 10-byte varints.
const maxTradeLen = 1 + 3*MaxVarintLen

// AppendTrade delta-encodes t against the header references and appends the
// result to b. Returns ErrUnknownSymbol if t.Symbol is not in the header.
//
//	u8   symbol id, high bit = is_buyer_maker
//	svar timestamp - reference_timestamp
//	svar round((price - reference_price) * Scale)
//	uvar round(quantity * Scale)
func AppendTrade(b []byte, h *Header, t Trade) ([]byte, error) {
	id, ok := h.SymbolID(t.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSymbol, t.Symbol)
	}

	packed := id
	if t.IsBuyerMaker {
		packed |= 0x80
	}
	b = append(b, packed)

	b = AppendVarint(b, t.Timestamp-h.ReferenceTimestamp)
	b = AppendVarint(b, int64(math.RoundToEven((t.Price-h.ReferencePrices[id])*Scale)))
	b = AppendUvarint(b, uint64(math.RoundToEven(t.Quantity*Scale)))
	return b, nil
}

// EncodeTrade encodes a single trade into a fresh buffer.
func EncodeTrade(h *Header, t Trade) ([]byte, error) {
	return AppendTrade(make([]byte, 0, maxTradeLen), h, t)
}

// DecodeTrade decodes one trade from the front of b and returns it together
// with the number of bytes consumed.
func DecodeTrade(h *Header, b []byte) (Trade, int, error) {
	if len(b) == 0 {
		return Trade{}, 0, ErrTruncated
	}

	packed := b[0]
	id := packed & 0x7F
	if int(id) >= len(h.Assets) {
		return Trade{}, 0, fmt.Errorf("%w: id %d out of range 0..%d", ErrUnknownSymbol, id, len(h.Assets)-1)
	}
	off := 1

	tsDelta, n, err := Varint(b[off:])
	if err != nil {
		return Trade{}, 0, err
	}
	off += n

	priceDelta, n, err := Varint(b[off:])
	if err != nil {
		return Trade{}, 0, err
	}
	off += n

	qtyFixed, n, err := Uvarint(b[off:])
	if err != nil {
		return Trade{}, 0, err
	}
	off += n

	return Trade{
		Timestamp:    h.ReferenceTimestamp + tsDelta,
		Symbol:       h.Assets[id],
		Price:        h.ReferencePrices[id] + float64(priceDelta)/Scale,
		Quantity:     float64(qtyFixed) / Scale,
		IsBuyerMaker: packed&0x80 != 0,
	}, off, nil
}
