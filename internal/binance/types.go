package binance

import (
	"fmt"
	"strconv"
	"unsafe"
)

// Float64String is a float64 that unmarshals from the exchange's
// string-encoded decimals. Parsing reads the quoted bytes in place, so no
// per-field string is allocated on the hot path.
type Float64String float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float64String) UnmarshalJSON(b []byte) error {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	if len(b) == 0 {
		return fmt.Errorf("empty numeric string")
	}

	v, err := strconv.ParseFloat(unsafe.String(&b[0], len(b)), 64)
	if err != nil {
		return fmt.Errorf("parse numeric string: %w", err)
	}
	*f = Float64String(v)
	return nil
}

// AggTrade is one element of the REST /fapi/v1/aggTrades response.
type AggTrade struct {
	ID           int64         `json:"a"`
	Price        Float64String `json:"p"`
	Quantity     Float64String `json:"q"`
	FirstTradeID int64         `json:"f"`
	LastTradeID  int64         `json:"l"`
	Timestamp    int64         `json:"T"`
	IsBuyerMaker bool          `json:"m"`
}

// StreamEvent is a combined-stream websocket message. Only aggTrade events
// carry a payload the pipeline uses; everything else is dropped.
type StreamEvent struct {
	Stream string        `json:"stream"`
	Data   AggTradeEvent `json:"data"`
}

// AggTradeEvent is the data payload of a <symbol>@aggTrade stream message.
type AggTradeEvent struct {
	EventType    string        `json:"e"`
	Symbol       string        `json:"s"`
	Price        Float64String `json:"p"`
	Quantity     Float64String `json:"q"`
	TradeTime    int64         `json:"T"`
	IsBuyerMaker bool          `json:"m"`
}
