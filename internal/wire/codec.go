// Package wire encodes/decodes the engine's Input and Output events to the
// big-endian, length/type-prefixed binary framing spec.md §6 calls
// "transport-agnostic": a 2-byte type tag followed by a fixed header and,
// where the event carries one, a variable tail. This is the payload format
// carried inside WAL records and bus messages — there is no network
// listener in scope (spec.md §1).
//
// Grounded on the teacher's internal/net/messages.go, which frames its
// NewOrder/CancelOrder messages the same way (2-byte type tag, big-endian
// fixed-width fields). Every input field is fixed-width, so unlike the
// teacher's Username/Counterparty tails no string tail is needed; the only
// variable-length payload is an output BookDelta's count-prefixed change
// list (see output.go).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/events"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

var (
	ErrTooShort    = errors.New("wire: message too short")
	ErrUnknownKind = errors.New("wire: unknown kind tag")
)

const (
	inputHeaderLen  = 2 + 8 + 4 // kind(2) + engine_seq(8) + market_id(4)
	outputHeaderLen = 2 + 8     // kind(2) + engine_seq(8); market_id is in each payload
)

// EncodeInput serializes one Input event. Layout: u16 kind, u64 engine_seq,
// u32 market_id, then a kind-specific fixed tail.
func EncodeInput(in *events.Input) ([]byte, error) {
	var tail []byte
	switch in.Kind {
	case events.KindNewOrder:
		if in.NewOrder == nil {
			return nil, fmt.Errorf("wire: KindNewOrder with nil payload")
		}
		tail = encodeNewOrder(in.NewOrder)
	case events.KindCancelOrder:
		if in.CancelOrder == nil {
			return nil, fmt.Errorf("wire: KindCancelOrder with nil payload")
		}
		tail = make([]byte, 8)
		binary.BigEndian.PutUint64(tail, uint64(in.CancelOrder.OrderID))
	case events.KindPriceUpdate:
		if in.PriceUpdate == nil {
			return nil, fmt.Errorf("wire: KindPriceUpdate with nil payload")
		}
		tail = make([]byte, 8)
		binary.BigEndian.PutUint64(tail, uint64(in.PriceUpdate.MarkPrice))
	case events.KindMarketUpsert:
		if in.MarketUpsert == nil {
			return nil, fmt.Errorf("wire: KindMarketUpsert with nil payload")
		}
		tail = encodeMarketConfig(&in.MarketUpsert.Config)
	case events.KindAuctionTick, events.KindShutdown:
		// No payload.
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, in.Kind)
	}

	buf := make([]byte, inputHeaderLen+len(tail))
	binary.BigEndian.PutUint16(buf[0:2], uint16(in.Kind))
	binary.BigEndian.PutUint64(buf[2:10], uint64(in.EngineSeq))
	binary.BigEndian.PutUint32(buf[10:14], uint32(in.MarketID))
	copy(buf[inputHeaderLen:], tail)
	return buf, nil
}

// DecodeInput parses a buffer produced by EncodeInput.
func DecodeInput(buf []byte) (*events.Input, error) {
	if len(buf) < inputHeaderLen {
		return nil, ErrTooShort
	}
	in := &events.Input{
		Kind:      events.InputKind(binary.BigEndian.Uint16(buf[0:2])),
		EngineSeq: common.EngineSeq(binary.BigEndian.Uint64(buf[2:10])),
		MarketID:  common.MarketID(binary.BigEndian.Uint32(buf[10:14])),
	}
	tail := buf[inputHeaderLen:]

	switch in.Kind {
	case events.KindNewOrder:
		no, err := decodeNewOrder(tail)
		if err != nil {
			return nil, err
		}
		in.NewOrder = no
	case events.KindCancelOrder:
		if len(tail) < 8 {
			return nil, ErrTooShort
		}
		in.CancelOrder = &events.CancelOrder{OrderID: common.OrderID(binary.BigEndian.Uint64(tail[0:8]))}
	case events.KindPriceUpdate:
		if len(tail) < 8 {
			return nil, ErrTooShort
		}
		in.PriceUpdate = &events.PriceUpdate{MarkPrice: fixedpoint.Fixed(binary.BigEndian.Uint64(tail[0:8]))}
	case events.KindMarketUpsert:
		cfg, err := decodeMarketConfig(tail)
		if err != nil {
			return nil, err
		}
		in.MarketUpsert = &events.MarketUpsert{Config: *cfg}
	case events.KindAuctionTick, events.KindShutdown:
		// No payload.
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, in.Kind)
	}
	return in, nil
}

const newOrderLen = 8 + 8 + 1 + 8 + 1 + 8 + 1 // client_order_id, account_id, side, price, has_price, quantity, tif

func encodeNewOrder(no *events.NewOrder) []byte {
	buf := make([]byte, newOrderLen)
	binary.BigEndian.PutUint64(buf[0:8], no.ClientOrderID)
	binary.BigEndian.PutUint64(buf[8:16], uint64(no.AccountID))
	buf[16] = byte(no.Side)
	binary.BigEndian.PutUint64(buf[17:25], uint64(no.Price))
	if no.HasPrice {
		buf[25] = 1
	}
	binary.BigEndian.PutUint64(buf[26:34], uint64(no.Quantity))
	buf[34] = byte(no.TIF)
	return buf
}

func decodeNewOrder(buf []byte) (*events.NewOrder, error) {
	if len(buf) < newOrderLen {
		return nil, ErrTooShort
	}
	return &events.NewOrder{
		ClientOrderID: binary.BigEndian.Uint64(buf[0:8]),
		AccountID:     common.AccountID(binary.BigEndian.Uint64(buf[8:16])),
		Side:          common.Side(buf[16]),
		Price:         fixedpoint.Fixed(binary.BigEndian.Uint64(buf[17:25])),
		HasPrice:      buf[25] != 0,
		Quantity:      fixedpoint.Fixed(binary.BigEndian.Uint64(buf[26:34])),
		TIF:           common.TIF(buf[34]),
	}, nil
}

const marketConfigFixedLen = 4 + 8 + 8 + 2 + 2 + 1 + 8 + 8 + 2 + 2 + 8 // see encodeMarketConfig field order

// encodeMarketConfig serializes common.MarketConfig. Symbol is capped to 16
// bytes, zero-padded, matching the teacher's fixed-width Ticker[4] style
// (internal/net/messages.go's Report.Ticker) rather than a length prefix.
func encodeMarketConfig(c *common.MarketConfig) []byte {
	const symbolLen = 16
	buf := make([]byte, marketConfigFixedLen+symbolLen)
	off := 0
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(c.MarketID))
	off += 4
	sym := []byte(c.Symbol)
	if len(sym) > symbolLen {
		sym = sym[:symbolLen]
	}
	copy(buf[off:off+symbolLen], sym)
	off += symbolLen
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(c.TickSize))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(c.LotSize))
	off += 8
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(c.MakerBps))
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(c.TakerBps))
	off += 2
	buf[off] = byte(c.Mode)
	off++
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(c.AuctionInterval))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(c.MaxLeverage))
	off += 8
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(c.InitialMarginBps))
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(c.MaintenanceMarginBps))
	off += 2
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(c.MarkPrice))
	return buf
}

func decodeMarketConfig(buf []byte) (*common.MarketConfig, error) {
	const symbolLen = 16
	if len(buf) < marketConfigFixedLen+symbolLen {
		return nil, ErrTooShort
	}
	off := 0
	c := &common.MarketConfig{}
	c.MarketID = common.MarketID(binary.BigEndian.Uint32(buf[off : off+4]))
	off += 4
	sym := buf[off : off+symbolLen]
	end := symbolLen
	for end > 0 && sym[end-1] == 0 {
		end--
	}
	c.Symbol = string(sym[:end])
	off += symbolLen
	c.TickSize = fixedpoint.Fixed(binary.BigEndian.Uint64(buf[off : off+8]))
	off += 8
	c.LotSize = fixedpoint.Fixed(binary.BigEndian.Uint64(buf[off : off+8]))
	off += 8
	c.MakerBps = fixedpoint.BasisPoints(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	c.TakerBps = fixedpoint.BasisPoints(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	c.Mode = common.MarketMode(buf[off])
	off++
	c.AuctionInterval = int64(binary.BigEndian.Uint64(buf[off : off+8]))
	off += 8
	c.MaxLeverage = int64(binary.BigEndian.Uint64(buf[off : off+8]))
	off += 8
	c.InitialMarginBps = fixedpoint.BasisPoints(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	c.MaintenanceMarginBps = fixedpoint.BasisPoints(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	c.MarkPrice = fixedpoint.Fixed(binary.BigEndian.Uint64(buf[off : off+8]))
	return c, nil
}
