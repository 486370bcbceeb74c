// Package matcher implements continuous price-time matching (spec.md
// §4.3) and uniform-price batch auction clearing (spec.md §4.5), both
// over an internal/book.Book. Matching never touches risk or the WAL
// directly — it returns a deterministic Result the shard applies.
//
// Grounded on the teacher's internal/engine/orderbook.go Match/
// handleLimit/handleMarket trio: the walk-best-level, consume-FIFO,
// stop-on-non-crossing-or-exhausted loop structure is the same; this
// version generalizes it to POST_ONLY/IOC/FOK/market-order semantics and
// fee computation that spec.md adds on top of the teacher's plain
// quantity-matching.
package matcher

import (
	"fmt"

	"github.com/saiputravu/clobcore/internal/book"
	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/events"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

// Result is everything one NewOrder event produced: zero or more fills in
// execution order, plus the coalesced book deltas for whichever sides were
// touched, plus whether/where the incoming order ended up resting.
type Result struct {
	Fills     []events.Fill
	Deltas    []book.Delta
	Rested    bool
	Rejected  bool
	RejectWhy events.RejectReason
}

// Config carries the fee schedule a market applies to every match.
type Config struct {
	MakerBps fixedpoint.BasisPoints
	TakerBps fixedpoint.BasisPoints
}

// MatchContinuous executes spec.md §4.3's contract for incoming against b.
// incoming.Quantity is mutated in place to reflect any fill. A GTC or
// POST_ONLY residual is inserted into b here and reported via Result.Rested;
// an IOC/FOK residual, and any market-order residual, is cancelled without
// a book entry.
func MatchContinuous(b *book.Book, incoming *common.Order, cfg Config, ts int64) (Result, error) {
	var res Result
	opposite := incoming.Side.Opposite()
	dt := book.NewDeltaTracker()

	limitPrice, hasLimit := incoming.Price, incoming.HasPrice

	if incoming.TIF == common.PostOnly {
		if wouldCross(b, incoming.Side, limitPrice, hasLimit) {
			res.Rejected = true
			res.RejectWhy = events.ReasonPostOnlyWouldCross
			return res, nil
		}
	}

	if incoming.TIF == common.FOK {
		fillable := maxFillable(b, incoming.Side, limitPrice, hasLimit, incoming.Quantity)
		if fillable < incoming.Quantity {
			res.Rejected = true
			res.RejectWhy = events.ReasonFokUnfillable
			return res, nil
		}
	}

	// Past this point the order is committed to matching: acknowledge it
	// before any fill/rest/cancel transition, so every reachable terminal
	// state is preceded by Accepted per the lifecycle in common/order.go.
	if err := incoming.Transition(common.StateAccepted); err != nil {
		return Result{}, err
	}

	var walkErr error
	b.WalkCrossable(incoming.Side, func(lv *book.LevelView) bool {
		if incoming.Quantity == 0 {
			return false
		}
		if hasLimit && crossesStop(incoming.Side, lv.Price(), limitPrice) {
			return false
		}
		for incoming.Quantity > 0 {
			maker, ok := lv.FrontOrder()
			if !ok {
				break
			}
			qty := min(incoming.Quantity, maker.Quantity)
			incoming.Quantity -= qty
			maker.Quantity -= qty
			lv.DebitAggregate(qty)

			fill, err := buildFill(incoming, maker, lv.Price(), qty, cfg, ts)
			if err != nil {
				// Fatal per spec.md §7 (IntegerOverflow): abort the walk and
				// surface it through the function's own error return.
				walkErr = fmt.Errorf("matcher: %w", err)
				return false
			}
			res.Fills = append(res.Fills, fill)

			if maker.Quantity == 0 {
				if err := maker.Transition(common.StateFilled); err != nil {
					walkErr = fmt.Errorf("matcher: %w", err)
					return false
				}
				lv.PopFront(dt)
			} else {
				_ = maker.Transition(common.StatePartiallyFilled)
				dt.Touch(lv.Price())
			}
		}
		return incoming.Quantity > 0
	})
	if walkErr != nil {
		return Result{}, walkErr
	}

	b.RefreshBest(opposite)
	if len(dt.Touched()) > 0 {
		res.Deltas = append(res.Deltas, b.Drain(opposite, dt))
	}

	if incoming.Quantity == 0 {
		_ = incoming.Transition(common.StateFilled)
		return res, nil
	}

	if incoming.IsMarket() {
		// Market orders never rest, regardless of TIF: any residual is
		// always cancelled (spec.md §4.3 step 5).
		if len(res.Fills) > 0 {
			_ = incoming.Transition(common.StatePartiallyFilled)
		}
		_ = incoming.Transition(common.StateCancelled)
		return res, nil
	}

	switch incoming.TIF {
	case common.GTC, common.PostOnly:
		res.Rested = true
		if len(res.Fills) > 0 {
			_ = incoming.Transition(common.StatePartiallyFilled)
		}
		selfDt := book.NewDeltaTracker()
		if err := b.Insert(*incoming, selfDt); err != nil {
			return res, err
		}
		b.RefreshBest(incoming.Side)
		res.Deltas = append(res.Deltas, b.Drain(incoming.Side, selfDt))
	case common.IOC, common.FOK, common.AuctionOnly:
		// Residual cancelled, no book entry (spec.md §4.3 step 5).
		if len(res.Fills) > 0 {
			_ = incoming.Transition(common.StatePartiallyFilled)
		}
		_ = incoming.Transition(common.StateCancelled)
	}

	return res, nil
}

func buildFill(taker, maker *common.Order, price, qty fixedpoint.Fixed, cfg Config, ts int64) (events.Fill, error) {
	notional, err := fixedpoint.Notional(price, qty)
	if err != nil {
		return events.Fill{}, err
	}
	makerFee, err := fixedpoint.Fee(notional, cfg.MakerBps)
	if err != nil {
		return events.Fill{}, err
	}
	takerFee, err := fixedpoint.Fee(notional, cfg.TakerBps)
	if err != nil {
		return events.Fill{}, err
	}
	return events.Fill{
		MarketID:       taker.MarketID,
		MakerOrderID:   maker.OrderID,
		TakerOrderID:   taker.OrderID,
		MakerAccountID: maker.AccountID,
		TakerAccountID: taker.AccountID,
		Price:          price,
		Quantity:       qty,
		MakerFee:       makerFee,
		TakerFee:       takerFee,
		Ts:             ts,
	}, nil
}

// wouldCross reports whether an incoming order at limitPrice (or a market
// order, if !hasLimit) would execute immediately against the opposite
// side's best price.
func wouldCross(b *book.Book, side common.Side, limitPrice fixedpoint.Fixed, hasLimit bool) bool {
	bestOpp, ok := b.Best(side.Opposite())
	if !ok {
		return false
	}
	if !hasLimit {
		return true
	}
	return !crossesStop(side, bestOpp, limitPrice)
}

// crossesStop reports whether levelPrice no longer crosses limitPrice for
// an incoming order of the given side — i.e. whether walking should stop.
func crossesStop(side common.Side, levelPrice, limitPrice fixedpoint.Fixed) bool {
	if side == common.Buy {
		return levelPrice > limitPrice
	}
	return levelPrice < limitPrice
}

// maxFillable computes the maximum quantity fillable against the opposite
// side up to limitPrice, without mutating the book — used by FOK's
// pre-check (spec.md §4.3 step 2).
func maxFillable(b *book.Book, side common.Side, limitPrice fixedpoint.Fixed, hasLimit bool, want fixedpoint.Fixed) fixedpoint.Fixed {
	var total fixedpoint.Fixed
	b.WalkCrossable(side, func(lv *book.LevelView) bool {
		if total >= want {
			return false
		}
		if hasLimit && crossesStop(side, lv.Price(), limitPrice) {
			return false
		}
		total += lv.AggregateQty()
		return total < want
	})
	if total > want {
		return want
	}
	return total
}

func min(a, b fixedpoint.Fixed) fixedpoint.Fixed {
	if a < b {
		return a
	}
	return b
}
