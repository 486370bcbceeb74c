package book

import "github.com/saiputravu/clobcore/internal/common"

// arena is a dense slab of orders addressed by index, not pointer. Price
// levels hold slab indices; a side-wide map gives O(1) order_id -> index
// lookup for cancel. This is the resolution spec.md's design notes call
// for: "cyclic ownership between order and book... resolve via an
// arena+index: each shard owns a slab of Order records; book levels hold
// indices (not owning references); a side-wide hash maps order_id ->
// slab-index. Cancellation unlinks and frees the slot."
//
// Adapted from lightsgoout-go-quantcup's fixed-array arenaBookEntries: that
// implementation pre-allocates a compile-time-sized array since its order
// universe is bounded by a benchmark harness. Markets here are created at
// runtime with unbounded order counts, so the slab here grows (append) and
// recycles freed slots via a free-list instead of using a static array.
type arena struct {
	orders []common.Order
	free   []int32 // recycled slot indices, LIFO
}

func newArena() *arena {
	return &arena{}
}

// alloc stores order in a free or new slot and returns its index.
func (a *arena) alloc(order common.Order) int32 {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.orders[idx] = order
		return idx
	}
	a.orders = append(a.orders, order)
	return int32(len(a.orders) - 1)
}

// get returns a pointer into the slab for in-place mutation (e.g.
// decrementing Quantity during a match).
func (a *arena) get(idx int32) *common.Order {
	return &a.orders[idx]
}

// release recycles idx for reuse. The caller must have already unlinked idx
// from its price level.
func (a *arena) release(idx int32) {
	a.free = append(a.free, idx)
}
