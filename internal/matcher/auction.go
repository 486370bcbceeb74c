package matcher

import (
	"github.com/saiputravu/clobcore/internal/book"
	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/events"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

// HandleAuctionEntry applies the pre-tick admission rule for a BatchAuction
// market (spec.md §4.5): incoming orders accrue in the book without
// matching. POST_ONLY still rejects if it would cross resting liquidity.
// IOC is rejected outright per the Open Question resolution recorded in
// SPEC_FULL.md §4.5 — an IOC's "fill now or cancel" contract cannot be
// honored by a queue that only clears on the next tick.
func HandleAuctionEntry(b *book.Book, incoming *common.Order) (Result, error) {
	var res Result

	if incoming.TIF == common.IOC {
		res.Rejected = true
		res.RejectWhy = events.ReasonValidationError
		return res, nil
	}

	limitPrice, hasLimit := incoming.Price, incoming.HasPrice
	if incoming.TIF == common.PostOnly && wouldCross(b, incoming.Side, limitPrice, hasLimit) {
		res.Rejected = true
		res.RejectWhy = events.ReasonPostOnlyWouldCross
		return res, nil
	}

	_ = incoming.Transition(common.StateAccepted)
	dt := book.NewDeltaTracker()
	if err := b.Insert(*incoming, dt); err != nil {
		return res, err
	}
	b.RefreshBest(incoming.Side)
	res.Rested = true
	res.Deltas = append(res.Deltas, b.Drain(incoming.Side, dt))
	return res, nil
}

// queuedAuctionOrder pairs a resting order with the level it came from, so
// the clearing loop can debit the level's cached aggregate size as it
// consumes the order without re-walking the book.
type queuedAuctionOrder struct {
	order *common.Order
	level *book.LevelView
}

// ClearAuction runs one AuctionTick for a BatchAuction market (spec.md
// §4.5): picks the volume-maximizing clearing price, builds the included
// bid/ask queues in strict price-time order, allocates fills at the single
// clearing price with no pro-rata, and resolves every order's post-tick
// disposition (GTC/POST_ONLY rest if unfilled, AUCTION_ONLY residuals
// cancel).
//
// Grounded on the teacher's internal/engine/orderbook.go walk-and-consume
// loop, generalized from "walk one side against one incoming order" to
// "walk both sides against each other at one fixed price."
func ClearAuction(b *book.Book, cfg Config, markPrice fixedpoint.Fixed, ts int64) (Result, error) {
	var res Result

	bidLevels := b.Levels(common.Buy)
	askLevels := b.Levels(common.Sell)
	clearing, ok := clearingPrice(bidLevels, askLevels, markPrice)
	if !ok {
		return res, nil
	}

	bidQueue := flattenAuctionQueue(bidLevels, func(lv *book.LevelView) bool { return lv.Price() >= clearing })
	askQueue := flattenAuctionQueue(askLevels, func(lv *book.LevelView) bool { return lv.Price() <= clearing })

	matchVolume := min(sumQueueQty(bidQueue), sumQueueQty(askQueue))

	dtBuy := book.NewDeltaTracker()
	dtSell := book.NewDeltaTracker()

	bi, ai := 0, 0
	remaining := matchVolume
	for remaining > 0 && bi < len(bidQueue) && ai < len(askQueue) {
		buy := bidQueue[bi]
		sell := askQueue[ai]

		qty := min(remaining, min(buy.order.Quantity, sell.order.Quantity))
		buy.order.Quantity -= qty
		sell.order.Quantity -= qty
		remaining -= qty
		buy.level.DebitAggregate(qty)
		sell.level.DebitAggregate(qty)

		fill, err := buildAuctionFill(buy.order, sell.order, clearing, qty, cfg, ts)
		if err != nil {
			return Result{}, err
		}
		res.Fills = append(res.Fills, fill)

		if buy.order.Quantity == 0 {
			_ = buy.order.Transition(common.StateFilled)
			if err := b.Remove(buy.order.OrderID, dtBuy); err != nil {
				return Result{}, err
			}
			bi++
		} else {
			_ = buy.order.Transition(common.StatePartiallyFilled)
			dtBuy.Touch(buy.level.Price())
		}

		if sell.order.Quantity == 0 {
			_ = sell.order.Transition(common.StateFilled)
			if err := b.Remove(sell.order.OrderID, dtSell); err != nil {
				return Result{}, err
			}
			ai++
		} else {
			_ = sell.order.Transition(common.StatePartiallyFilled)
			dtSell.Touch(sell.level.Price())
		}
	}

	if err := resolveAuctionResiduals(b, bidQueue[bi:], dtBuy); err != nil {
		return Result{}, err
	}
	if err := resolveAuctionResiduals(b, askQueue[ai:], dtSell); err != nil {
		return Result{}, err
	}

	b.RefreshBest(common.Buy)
	b.RefreshBest(common.Sell)
	if len(dtBuy.Touched()) > 0 {
		res.Deltas = append(res.Deltas, b.Drain(common.Buy, dtBuy))
	}
	if len(dtSell.Touched()) > 0 {
		res.Deltas = append(res.Deltas, b.Drain(common.Sell, dtSell))
	}
	return res, nil
}

// resolveAuctionResiduals cancels any AUCTION_ONLY order left over once the
// clearing volume is exhausted; GTC and POST_ONLY residuals stay resting
// exactly as they were (spec.md §4.5 step 4).
func resolveAuctionResiduals(b *book.Book, queue []queuedAuctionOrder, dt *book.DeltaTracker) error {
	for _, q := range queue {
		if q.order.TIF != common.AuctionOnly {
			continue
		}
		if err := b.Remove(q.order.OrderID, dt); err != nil {
			return err
		}
		if q.order.FilledQuantity() > 0 {
			_ = q.order.Transition(common.StatePartiallyFilled)
		}
		_ = q.order.Transition(common.StateCancelled)
	}
	return nil
}

func buildAuctionFill(buy, sell *common.Order, price, qty fixedpoint.Fixed, cfg Config, ts int64) (events.Fill, error) {
	notional, err := fixedpoint.Notional(price, qty)
	if err != nil {
		return events.Fill{}, err
	}
	// A uniform-price auction has no maker/taker distinction — both sides
	// rest through the same clearing event, so both are charged the maker
	// rate.
	fee, err := fixedpoint.Fee(notional, cfg.MakerBps)
	if err != nil {
		return events.Fill{}, err
	}
	return events.Fill{
		MarketID:       buy.MarketID,
		MakerOrderID:   sell.OrderID,
		TakerOrderID:   buy.OrderID,
		MakerAccountID: sell.AccountID,
		TakerAccountID: buy.AccountID,
		Price:          price,
		Quantity:       qty,
		MakerFee:       fee,
		TakerFee:       fee,
		Ts:             ts,
	}, nil
}

func flattenAuctionQueue(levels []*book.LevelView, include func(*book.LevelView) bool) []queuedAuctionOrder {
	var out []queuedAuctionOrder
	for _, lv := range levels {
		if !include(lv) {
			continue
		}
		for _, ord := range lv.Orders() {
			out = append(out, queuedAuctionOrder{order: ord, level: lv})
		}
	}
	return out
}

func sumQueueQty(queue []queuedAuctionOrder) fixedpoint.Fixed {
	var total fixedpoint.Fixed
	for _, q := range queue {
		total += q.order.Quantity
	}
	return total
}

// clearingPrice picks the price maximizing matched volume across every
// distinct level present on either side, breaking ties by distance to
// markPrice and then by the lower price (spec.md §4.5 step 1).
func clearingPrice(bidLevels, askLevels []*book.LevelView, markPrice fixedpoint.Fixed) (fixedpoint.Fixed, bool) {
	if len(bidLevels) == 0 || len(askLevels) == 0 {
		return 0, false
	}

	seen := make(map[fixedpoint.Fixed]bool, len(bidLevels)+len(askLevels))
	candidates := make([]fixedpoint.Fixed, 0, len(bidLevels)+len(askLevels))
	for _, lv := range bidLevels {
		if !seen[lv.Price()] {
			seen[lv.Price()] = true
			candidates = append(candidates, lv.Price())
		}
	}
	for _, lv := range askLevels {
		if !seen[lv.Price()] {
			seen[lv.Price()] = true
			candidates = append(candidates, lv.Price())
		}
	}

	var (
		best       fixedpoint.Fixed
		bestVolume fixedpoint.Fixed = -1
		bestDist   fixedpoint.Fixed
		found      bool
	)
	for _, p := range candidates {
		vol := min(cumulativeAtOrAbove(bidLevels, p), cumulativeAtOrBelow(askLevels, p))
		if vol <= 0 {
			continue
		}
		dist := p - markPrice
		if dist < 0 {
			dist = -dist
		}
		switch {
		case !found, vol > bestVolume:
			best, bestVolume, bestDist, found = p, vol, dist, true
		case vol == bestVolume && (dist < bestDist || (dist == bestDist && p < best)):
			best, bestDist = p, dist
		}
	}
	return best, found
}

func cumulativeAtOrAbove(bidLevels []*book.LevelView, price fixedpoint.Fixed) fixedpoint.Fixed {
	var total fixedpoint.Fixed
	for _, lv := range bidLevels {
		if lv.Price() >= price {
			total += lv.AggregateQty()
		}
	}
	return total
}

func cumulativeAtOrBelow(askLevels []*book.LevelView, price fixedpoint.Fixed) fixedpoint.Fixed {
	var total fixedpoint.Fixed
	for _, lv := range askLevels {
		if lv.Price() <= price {
			total += lv.AggregateQty()
		}
	}
	return total
}
