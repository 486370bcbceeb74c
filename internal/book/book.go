// Package book implements the per-market price-level ladder: two sorted
// maps of price -> level (bids descending, asks ascending), FIFO queues at
// each level, best-bid/ask tracking and coalesced delta emission.
//
// The ordered-map structure is grounded on the teacher's
// internal/engine/orderbook.go, which keeps bids/asks as
// btree.BTreeG[*PriceLevel] for the same reason this package does: ordered
// iteration without hash-map nondeterminism (spec.md §9: "Iteration over
// price levels uses ordered maps keyed by integer price — never hash
// iteration").
package book

import (
	"errors"

	"github.com/tidwall/btree"

	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

var (
	// ErrOrderNotFound is returned by Remove when order_id has no resting order.
	ErrOrderNotFound = errors.New("book: order not found")
	// ErrDuplicateOrder is returned by Insert if order_id is already resting.
	ErrDuplicateOrder = errors.New("book: duplicate order id")
)

type levels = btree.BTreeG[*level]

type location struct {
	side    common.Side
	price   fixedpoint.Fixed
	slabIdx int32
}

// Book is one market's order book. It is not safe for concurrent use —
// each shard owns exactly one Book per market and mutates it from a single
// goroutine, per spec.md §5.
type Book struct {
	arena *arena
	bids  *levels
	asks  *levels
	index map[common.OrderID]location

	bestBidPrice fixedpoint.Fixed
	bestBidOK    bool
	bestAskPrice fixedpoint.Fixed
	bestAskOK    bool
}

// New constructs an empty book.
func New() *Book {
	bids := btree.NewBTreeG(func(a, b *level) bool { return a.price > b.price })
	asks := btree.NewBTreeG(func(a, b *level) bool { return a.price < b.price })
	return &Book{
		arena: newArena(),
		bids:  bids,
		asks:  asks,
		index: make(map[common.OrderID]location),
	}
}

func (b *Book) sideLevels(side common.Side) *levels {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

// Insert places order at its price level (allocating the level if new),
// appending to the FIFO tail, and updates best-bid/ask. If dt is non-nil,
// the order's price is recorded in it for the caller (matcher) to fold into
// the event's coalesced Delta. order.HasPrice must be true — market orders
// never rest.
func (b *Book) Insert(order common.Order, dt *DeltaTracker) error {
	if _, exists := b.index[order.OrderID]; exists {
		return ErrDuplicateOrder
	}
	slabIdx := b.arena.alloc(order)
	lv := b.getOrCreateLevel(order.Side, order.Price)
	lv.orders = append(lv.orders, slabIdx)
	lv.aggregateQty += order.Quantity
	b.index[order.OrderID] = location{side: order.Side, price: order.Price, slabIdx: slabIdx}
	b.updateBestOnInsert(order.Side, order.Price)
	if dt != nil {
		dt.touch(order.Price)
	}
	return nil
}

func (b *Book) getOrCreateLevel(side common.Side, price fixedpoint.Fixed) *level {
	lvls := b.sideLevels(side)
	if lv, ok := lvls.Get(&level{price: price}); ok {
		return lv
	}
	lv := &level{price: price}
	lvls.Set(lv)
	return lv
}

// Remove deletes order_id from the book, erasing its level if it was the
// last resting order there. The side index finds the order's level in O(1);
// the order's position inside that level's FIFO queue is then found by a
// linear scan of the queue.
func (b *Book) Remove(orderID common.OrderID, dt *DeltaTracker) error {
	loc, ok := b.index[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	lvls := b.sideLevels(loc.side)
	lv, ok := lvls.Get(&level{price: loc.price})
	if !ok {
		return ErrOrderNotFound
	}
	i := lv.indexOf(loc.slabIdx)
	if i < 0 {
		return ErrOrderNotFound
	}
	ord := b.arena.get(loc.slabIdx)
	lv.aggregateQty -= ord.Quantity
	lv.removeAt(i)
	b.arena.release(loc.slabIdx)
	delete(b.index, orderID)
	if lv.empty() {
		lvls.Delete(lv)
	}
	b.recomputeBest(loc.side)
	if dt != nil {
		dt.touch(loc.price)
	}
	return nil
}

// Best returns the first level on side, or ok=false if the side is empty.
func (b *Book) Best(side common.Side) (price fixedpoint.Fixed, ok bool) {
	if side == common.Buy {
		return b.bestBidPrice, b.bestBidOK
	}
	return b.bestAskPrice, b.bestAskOK
}

// Order exposes the slab entry for orderID so callers (the matcher) can
// mutate Quantity in place during a match.
func (b *Book) Order(orderID common.OrderID) (*common.Order, bool) {
	loc, ok := b.index[orderID]
	if !ok {
		return nil, false
	}
	return b.arena.get(loc.slabIdx), true
}

// WalkCrossable calls visit for each level on the opposite side of
// incomingSide, best price first, stopping when either the side is
// exhausted or visit returns false (the level's price no longer crosses
// limitPrice, by the caller's own check) or visit requests a stop.
func (b *Book) WalkCrossable(incomingSide common.Side, visit func(lv *LevelView) (cont bool)) {
	lvls := b.sideLevels(incomingSide.Opposite())
	lvls.Scan(func(lv *level) bool {
		return visit(&LevelView{b: b, lv: lv})
	})
}

// Levels returns every non-empty price level on side, best price first
// (descending for bids, ascending for asks) — used by the batch-auction
// matcher, which must see the whole book rather than stop at the first
// non-crossing level the way WalkCrossable does.
func (b *Book) Levels(side common.Side) []*LevelView {
	lvls := b.sideLevels(side)
	out := make([]*LevelView, 0, lvls.Len())
	lvls.Scan(func(lv *level) bool {
		out = append(out, &LevelView{b: b, lv: lv})
		return true
	})
	return out
}

// LevelView is the matcher-facing read/mutate handle onto one price level.
type LevelView struct {
	b  *Book
	lv *level
}

func (v *LevelView) Price() fixedpoint.Fixed        { return v.lv.price }
func (v *LevelView) Empty() bool                    { return v.lv.empty() }
func (v *LevelView) AggregateQty() fixedpoint.Fixed { return v.lv.aggregateQty }

// Orders returns every resting order at this level, in FIFO order, without
// mutating the level. Pointers alias the arena entries directly, so callers
// (the batch-auction matcher) may mutate Quantity in place the same way the
// continuous matcher does via FrontOrder.
func (v *LevelView) Orders() []*common.Order {
	out := make([]*common.Order, len(v.lv.orders))
	for i, idx := range v.lv.orders {
		out[i] = v.b.arena.get(idx)
	}
	return out
}

// FrontOrder returns the resting order at the head of the FIFO queue, or
// ok=false if the level is empty.
func (v *LevelView) FrontOrder() (*common.Order, bool) {
	if v.lv.empty() {
		return nil, false
	}
	return v.b.arena.get(v.lv.orders[0]), true
}

// PopFront removes and frees the head order once it has been fully
// consumed by the matcher (Quantity reached 0).
func (v *LevelView) PopFront(dt *DeltaTracker) {
	if v.lv.empty() {
		return
	}
	idx := v.lv.orders[0]
	ord := v.b.arena.get(idx)
	delete(v.b.index, ord.OrderID)
	v.lv.orders = v.lv.orders[1:]
	v.b.arena.release(idx)
	if v.lv.empty() {
		v.b.sideLevels(ord.Side).Delete(v.lv)
	}
	dt.touch(v.lv.price)
}

// DebitAggregate reduces the level's cached aggregate size after the
// matcher decremented a resting order's Quantity in place.
func (v *LevelView) DebitAggregate(qty fixedpoint.Fixed) {
	v.lv.aggregateQty -= qty
}

// RefreshBest recomputes cached best-bid/ask for side. Call once per event
// after all mutations, not per-fill, since a sweep touches many levels.
func (b *Book) RefreshBest(side common.Side) {
	b.recomputeBest(side)
}

func (b *Book) recomputeBest(side common.Side) {
	lvls := b.sideLevels(side)
	var price fixedpoint.Fixed
	var ok bool
	lvls.Scan(func(lv *level) bool {
		price = lv.price
		ok = true
		return false
	})
	if side == common.Buy {
		b.bestBidPrice, b.bestBidOK = price, ok
	} else {
		b.bestAskPrice, b.bestAskOK = price, ok
	}
}

func (b *Book) updateBestOnInsert(side common.Side, price fixedpoint.Fixed) {
	if side == common.Buy {
		if !b.bestBidOK || price > b.bestBidPrice {
			b.bestBidPrice, b.bestBidOK = price, true
		}
		return
	}
	if !b.bestAskOK || price < b.bestAskPrice {
		b.bestAskPrice, b.bestAskOK = price, true
	}
}

// AtRestInvariant reports whether best_bid < best_ask, per spec.md §3 and
// the testable property in spec.md §8 item 4. Returns true vacuously if
// either side is empty.
func (b *Book) AtRestInvariant() bool {
	if !b.bestBidOK || !b.bestAskOK {
		return true
	}
	return b.bestBidPrice < b.bestAskPrice
}

// Drain produces the coalesced Delta for one side from a DeltaTracker,
// reading each touched price's current aggregate size (0 if the level was
// erased). Order of Changes follows first-touch order for determinism.
func (b *Book) Drain(side common.Side, dt *DeltaTracker) Delta {
	lvls := b.sideLevels(side)
	changes := make([]PriceChange, 0, len(dt.order))
	for _, price := range dt.order {
		size := fixedpoint.Fixed(0)
		if lv, ok := lvls.Get(&level{price: price}); ok {
			size = lv.aggregateQty
		}
		changes = append(changes, PriceChange{Price: price, NewSize: size})
	}
	return Delta{Side: side, Changes: changes}
}

// Snapshot returns every resting order on both sides, in strict FIFO order
// within each level and best-price-first across levels, for the snapshot
// store to serialize. Restore rebuilds a Book from exactly that slice.
func (b *Book) Snapshot() []common.Order {
	var out []common.Order
	b.bids.Scan(func(lv *level) bool {
		for _, idx := range lv.orders {
			out = append(out, *b.arena.get(idx))
		}
		return true
	})
	b.asks.Scan(func(lv *level) bool {
		for _, idx := range lv.orders {
			out = append(out, *b.arena.get(idx))
		}
		return true
	})
	return out
}

// Restore repopulates an empty Book from a Snapshot slice, preserving FIFO
// order (the slice is expected to be in the same best-first, level-FIFO
// order Snapshot produced).
func Restore(orders []common.Order) *Book {
	b := New()
	for _, o := range orders {
		_ = b.Insert(o, nil)
	}
	return b
}

