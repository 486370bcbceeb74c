package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/saiputravu/clobcore/internal/book"
	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/events"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

// EncodeOutput serializes one Output event: u16 kind, u64 engine_seq, then
// a kind-specific tail. BookDelta is the only variable-length payload (a
// u32 count followed by that many (price, new_size) pairs).
func EncodeOutput(out *events.Output) ([]byte, error) {
	var tail []byte
	switch out.Kind {
	case events.KindOrderAck:
		if out.OrderAck == nil {
			return nil, fmt.Errorf("wire: KindOrderAck with nil payload")
		}
		tail = make([]byte, 24)
		binary.BigEndian.PutUint64(tail[0:8], out.OrderAck.ClientOrderID)
		binary.BigEndian.PutUint64(tail[8:16], uint64(out.OrderAck.EngineOrderID))
		binary.BigEndian.PutUint64(tail[16:24], uint64(out.OrderAck.EngineSeq))
	case events.KindOrderReject:
		if out.OrderReject == nil {
			return nil, fmt.Errorf("wire: KindOrderReject with nil payload")
		}
		tail = make([]byte, 9)
		binary.BigEndian.PutUint64(tail[0:8], out.OrderReject.ClientOrderID)
		tail[8] = byte(out.OrderReject.Reason)
	case events.KindFill:
		if out.Fill == nil {
			return nil, fmt.Errorf("wire: KindFill with nil payload")
		}
		tail = encodeFill(out.Fill)
	case events.KindBookDelta:
		if out.BookDelta == nil {
			return nil, fmt.Errorf("wire: KindBookDelta with nil payload")
		}
		tail = encodeBookDelta(out.BookDelta)
	case events.KindCancelAck:
		if out.CancelAck == nil {
			return nil, fmt.Errorf("wire: KindCancelAck with nil payload")
		}
		tail = make([]byte, 8)
		binary.BigEndian.PutUint64(tail, uint64(out.CancelAck.OrderID))
	case events.KindCancelReject:
		if out.CancelReject == nil {
			return nil, fmt.Errorf("wire: KindCancelReject with nil payload")
		}
		tail = make([]byte, 9)
		binary.BigEndian.PutUint64(tail[0:8], uint64(out.CancelReject.OrderID))
		tail[8] = byte(out.CancelReject.Reason)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, out.Kind)
	}

	buf := make([]byte, outputHeaderLen+len(tail))
	binary.BigEndian.PutUint16(buf[0:2], uint16(out.Kind))
	binary.BigEndian.PutUint64(buf[2:10], uint64(out.EngineSeq))
	copy(buf[outputHeaderLen:], tail)
	return buf, nil
}

// DecodeOutput parses a buffer produced by EncodeOutput.
func DecodeOutput(buf []byte) (*events.Output, error) {
	if len(buf) < outputHeaderLen {
		return nil, ErrTooShort
	}
	out := &events.Output{
		Kind:      events.OutputKind(binary.BigEndian.Uint16(buf[0:2])),
		EngineSeq: common.EngineSeq(binary.BigEndian.Uint64(buf[2:10])),
	}
	tail := buf[outputHeaderLen:]

	switch out.Kind {
	case events.KindOrderAck:
		if len(tail) < 24 {
			return nil, ErrTooShort
		}
		out.OrderAck = &events.OrderAck{
			ClientOrderID: binary.BigEndian.Uint64(tail[0:8]),
			EngineOrderID: common.OrderID(binary.BigEndian.Uint64(tail[8:16])),
			EngineSeq:     common.EngineSeq(binary.BigEndian.Uint64(tail[16:24])),
		}
	case events.KindOrderReject:
		if len(tail) < 9 {
			return nil, ErrTooShort
		}
		out.OrderReject = &events.OrderReject{
			ClientOrderID: binary.BigEndian.Uint64(tail[0:8]),
			Reason:        events.RejectReason(tail[8]),
		}
	case events.KindFill:
		fill, err := decodeFill(tail)
		if err != nil {
			return nil, err
		}
		out.Fill = fill
	case events.KindBookDelta:
		delta, err := decodeBookDelta(tail)
		if err != nil {
			return nil, err
		}
		out.BookDelta = delta
	case events.KindCancelAck:
		if len(tail) < 8 {
			return nil, ErrTooShort
		}
		out.CancelAck = &events.CancelAck{OrderID: common.OrderID(binary.BigEndian.Uint64(tail[0:8]))}
	case events.KindCancelReject:
		if len(tail) < 9 {
			return nil, ErrTooShort
		}
		out.CancelReject = &events.CancelReject{
			OrderID: common.OrderID(binary.BigEndian.Uint64(tail[0:8])),
			Reason:  events.RejectReason(tail[8]),
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, out.Kind)
	}
	return out, nil
}

const fillLen = 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 // market_id, maker_id, taker_id, maker_account, taker_account, price, qty, maker_fee, taker_fee, ts

func encodeFill(f *events.Fill) []byte {
	buf := make([]byte, fillLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.MarketID))
	binary.BigEndian.PutUint64(buf[4:12], uint64(f.MakerOrderID))
	binary.BigEndian.PutUint64(buf[12:20], uint64(f.TakerOrderID))
	binary.BigEndian.PutUint64(buf[20:28], uint64(f.MakerAccountID))
	binary.BigEndian.PutUint64(buf[28:36], uint64(f.TakerAccountID))
	binary.BigEndian.PutUint64(buf[36:44], uint64(f.Price))
	binary.BigEndian.PutUint64(buf[44:52], uint64(f.Quantity))
	binary.BigEndian.PutUint64(buf[52:60], uint64(f.MakerFee))
	binary.BigEndian.PutUint64(buf[60:68], uint64(f.TakerFee))
	binary.BigEndian.PutUint64(buf[68:76], uint64(f.Ts))
	return buf
}

func decodeFill(buf []byte) (*events.Fill, error) {
	if len(buf) < fillLen {
		return nil, ErrTooShort
	}
	return &events.Fill{
		MarketID:       common.MarketID(binary.BigEndian.Uint32(buf[0:4])),
		MakerOrderID:   common.OrderID(binary.BigEndian.Uint64(buf[4:12])),
		TakerOrderID:   common.OrderID(binary.BigEndian.Uint64(buf[12:20])),
		MakerAccountID: common.AccountID(binary.BigEndian.Uint64(buf[20:28])),
		TakerAccountID: common.AccountID(binary.BigEndian.Uint64(buf[28:36])),
		Price:          fixedpoint.Fixed(binary.BigEndian.Uint64(buf[36:44])),
		Quantity:       fixedpoint.Fixed(binary.BigEndian.Uint64(buf[44:52])),
		MakerFee:       fixedpoint.Fixed(binary.BigEndian.Uint64(buf[52:60])),
		TakerFee:       fixedpoint.Fixed(binary.BigEndian.Uint64(buf[60:68])),
		Ts:             int64(binary.BigEndian.Uint64(buf[68:76])),
	}, nil
}

func encodeBookDelta(d *events.BookDelta) []byte {
	buf := make([]byte, 4+1+4+len(d.Changes)*16)
	binary.BigEndian.PutUint32(buf[0:4], uint32(d.MarketID))
	buf[4] = byte(d.Side)
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(d.Changes)))
	off := 9
	for _, c := range d.Changes {
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(c.Price))
		binary.BigEndian.PutUint64(buf[off+8:off+16], uint64(c.NewSize))
		off += 16
	}
	return buf
}

func decodeBookDelta(buf []byte) (*events.BookDelta, error) {
	if len(buf) < 9 {
		return nil, ErrTooShort
	}
	d := &events.BookDelta{
		MarketID: common.MarketID(binary.BigEndian.Uint32(buf[0:4])),
		Side:     common.Side(buf[4]),
	}
	count := int(binary.BigEndian.Uint32(buf[5:9]))
	off := 9
	if len(buf) < off+count*16 {
		return nil, ErrTooShort
	}
	d.Changes = make([]book.PriceChange, count)
	for i := 0; i < count; i++ {
		d.Changes[i] = book.PriceChange{
			Price:   fixedpoint.Fixed(binary.BigEndian.Uint64(buf[off : off+8])),
			NewSize: fixedpoint.Fixed(binary.BigEndian.Uint64(buf[off+8 : off+16])),
		}
		off += 16
	}
	return d, nil
}
