package events

import (
	"github.com/saiputravu/clobcore/internal/book"
	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

// OutputKind discriminates the Output union.
type OutputKind uint8

const (
	KindOrderAck OutputKind = iota
	KindOrderReject
	KindFill
	KindBookDelta
	KindCancelAck
	KindCancelReject
)

// Output is one emitted output event, tagged with the EngineSeq of the
// input that produced it. A single input may produce several outputs
// (e.g. an OrderAck plus several Fills plus a BookDelta); all share the
// same EngineSeq per spec.md §4.6.
type Output struct {
	EngineSeq common.EngineSeq
	Kind      OutputKind

	OrderAck     *OrderAck
	OrderReject  *OrderReject
	Fill         *Fill
	BookDelta    *BookDelta
	CancelAck    *CancelAck
	CancelReject *CancelReject
}

type OrderAck struct {
	ClientOrderID uint64
	EngineOrderID common.OrderID
	EngineSeq     common.EngineSeq
}

// RejectReason enumerates spec.md §7's reject-producing error kinds.
type RejectReason uint8

const (
	ReasonValidationError RejectReason = iota
	ReasonInsufficientMargin
	ReasonMarketUnknown
	ReasonPostOnlyWouldCross
	ReasonFokUnfillable
)

func (r RejectReason) String() string {
	switch r {
	case ReasonValidationError:
		return "ValidationError"
	case ReasonInsufficientMargin:
		return "InsufficientMargin"
	case ReasonMarketUnknown:
		return "MarketUnknown"
	case ReasonPostOnlyWouldCross:
		return "PostOnlyWouldCross"
	case ReasonFokUnfillable:
		return "FokUnfillable"
	default:
		return "Unknown"
	}
}

type OrderReject struct {
	ClientOrderID uint64
	Reason        RejectReason
}

// Fill is one maker/taker pairing produced by a match. MakerFee and
// TakerFee are already in quote units (post-bps-computation).
type Fill struct {
	MarketID       common.MarketID
	MakerOrderID   common.OrderID
	TakerOrderID   common.OrderID
	MakerAccountID common.AccountID
	TakerAccountID common.AccountID
	Price          fixedpoint.Fixed
	Quantity       fixedpoint.Fixed
	MakerFee       fixedpoint.Fixed
	TakerFee       fixedpoint.Fixed
	// Ts is taken from the input event that produced this fill, never from
	// the wall clock (spec.md §9: "No wall-clock in business logic").
	Ts int64
}

// BookDelta carries the coalesced per-price net sizes touched by one
// input event, for one side.
type BookDelta struct {
	MarketID common.MarketID
	Side     common.Side
	Changes  []book.PriceChange
}

type CancelAck struct {
	OrderID common.OrderID
}

type CancelReject struct {
	OrderID common.OrderID
	Reason  RejectReason
}
