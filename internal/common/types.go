// Package common holds the engine's shared value types: order identity,
// sides, time-in-force, market configuration and the account risk record.
// Everything here is a plain value type — no behavior beyond String(),
// Side.Opposite, and the small Order helpers and state transition guard in
// order.go.
package common

import "github.com/saiputravu/clobcore/internal/fixedpoint"

// MarketID selects a shard via market_id mod shard_count (see internal/router).
type MarketID uint32

// AccountID owns orders, fills and a risk ledger entry.
type AccountID uint64

// OrderID is globally unique and stable across replay.
type OrderID uint64

// EngineSeq is the single monotonically-increasing sequence assigned to
// every accepted input by the router. It is the global ordering identity.
type EngineSeq uint64

type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side, used when walking the book against an
// incoming order.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TIF is an order's time-in-force.
type TIF int8

const (
	GTC TIF = iota
	IOC
	FOK
	PostOnly
	AuctionOnly
)

func (t TIF) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case PostOnly:
		return "POST_ONLY"
	case AuctionOnly:
		return "AUCTION_ONLY"
	default:
		return "UNKNOWN"
	}
}

// MarketMode selects continuous price-time matching or periodic batch
// auction clearing for a market.
type MarketMode int8

const (
	Continuous MarketMode = iota
	BatchAuction
)

// MarketConfig is mutable at runtime; mutations arrive as MarketUpsert
// input events and are WAL-logged like any other input.
type MarketConfig struct {
	MarketID             MarketID
	Symbol               string // human-readable ticker, cosmetic only
	TickSize             fixedpoint.Fixed
	LotSize              fixedpoint.Fixed
	MakerBps             fixedpoint.BasisPoints
	TakerBps             fixedpoint.BasisPoints
	Mode                 MarketMode
	AuctionInterval      int64 // nanoseconds between AuctionTick inputs, informational
	MaxLeverage          int64
	InitialMarginBps     fixedpoint.BasisPoints
	MaintenanceMarginBps fixedpoint.BasisPoints
	MarkPrice            fixedpoint.Fixed // ticks, updated by PriceUpdate events
}
