// Package events defines the engine's external event contract: the input
// events the router accepts (spec.md §6) and the output events the shard
// emits (acks, rejects, fills, book deltas). These are transport-agnostic
// Go values; internal/wire encodes them for the WAL and the bus.
package events

import (
	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

// InputKind discriminates the Input union.
type InputKind uint8

const (
	KindNewOrder InputKind = iota
	KindCancelOrder
	KindPriceUpdate
	KindMarketUpsert
	KindAuctionTick
	KindShutdown
)

// Input is one accepted input event, already stamped with the router's
// EngineSeq by the time a shard processes it. Exactly one of the Kind-
// specific fields is meaningful per Kind.
type Input struct {
	EngineSeq common.EngineSeq
	Kind      InputKind
	MarketID  common.MarketID

	NewOrder     *NewOrder
	CancelOrder  *CancelOrder
	PriceUpdate  *PriceUpdate
	MarketUpsert *MarketUpsert
	// AuctionTick and Shutdown carry no payload beyond Kind/MarketID.
}

// NewOrder requests a new order be accepted and routed to the matcher.
type NewOrder struct {
	ClientOrderID uint64
	AccountID     common.AccountID
	Side          common.Side
	Price         fixedpoint.Fixed
	HasPrice      bool
	Quantity      fixedpoint.Fixed
	TIF           common.TIF
}

// CancelOrder requests an existing resting order be pulled from the book.
type CancelOrder struct {
	OrderID common.OrderID
}

// PriceUpdate moves a market's mark price, used for market-order notional
// and batch-auction clearing-price tie-breaking.
type PriceUpdate struct {
	MarkPrice fixedpoint.Fixed
}

// MarketUpsert creates or reconfigures a market. Every field of
// common.MarketConfig is mutable at runtime via this event.
type MarketUpsert struct {
	Config common.MarketConfig
}
