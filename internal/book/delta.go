package book

import (
	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

// PriceChange is one entry in a coalesced BookDelta: the final net size at
// a touched price after an input event finishes processing. A price whose
// level was emptied during the event is reported with NewSize 0.
type PriceChange struct {
	Price   fixedpoint.Fixed
	NewSize fixedpoint.Fixed
}

// Delta is the per-side, per-event coalesced set of price changes. One
// Delta is emitted per touched side per input event (spec.md §4.2: "one
// delta list is emitted, containing the final net size at each touched
// price").
type Delta struct {
	Side    common.Side
	Changes []PriceChange
}

// DeltaTracker accumulates touched prices across a single event so book.go
// can coalesce repeated touches (e.g. a sweep across many levels) into one
// net-size-per-price list instead of one message per intermediate mutation.
type DeltaTracker struct {
	touched map[fixedpoint.Fixed]bool
	order   []fixedpoint.Fixed // preserves first-touched order for determinism
}

// NewDeltaTracker constructs a tracker for one side of one input event.
func NewDeltaTracker() *DeltaTracker {
	return &DeltaTracker{touched: make(map[fixedpoint.Fixed]bool)}
}

func (d *DeltaTracker) touch(price fixedpoint.Fixed) {
	if !d.touched[price] {
		d.touched[price] = true
		d.order = append(d.order, price)
	}
}

// Touch records that price was affected by a mutation the tracker didn't
// perform itself — e.g. the batch-auction matcher debiting a level's
// aggregate size in place without going through Insert/Remove.
func (d *DeltaTracker) Touch(price fixedpoint.Fixed) {
	d.touch(price)
}

// Touched returns the prices touched so far, in first-touch order.
func (d *DeltaTracker) Touched() []fixedpoint.Fixed {
	return d.order
}
