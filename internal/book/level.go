package book

import "github.com/saiputravu/clobcore/internal/fixedpoint"

// level is a strict FIFO queue of resting order slab-indices at one price.
// Invariant (spec.md §3): sum of queued quantities equals the level's
// aggregate size — aggregateQty is maintained incrementally by book.go
// rather than recomputed, since every mutation site already knows the
// delta.
type level struct {
	price        fixedpoint.Fixed
	orders       []int32 // slab indices, oldest (lowest ReceivedSeq) first
	aggregateQty fixedpoint.Fixed
}

// removeAt removes the order at position i in the FIFO queue. Position 0
// is the common case (a maker was fully consumed from the front during a
// match); any other position only arises from a direct cancel of a resting
// order that isn't next in line.
func (l *level) removeAt(i int) {
	l.orders = append(l.orders[:i], l.orders[i+1:]...)
}

// indexOf returns the FIFO position of slabIdx, or -1 if absent.
func (l *level) indexOf(slabIdx int32) int {
	for i, idx := range l.orders {
		if idx == slabIdx {
			return i
		}
	}
	return -1
}

func (l *level) empty() bool { return len(l.orders) == 0 }
