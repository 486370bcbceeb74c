package common

import (
	"errors"
	"fmt"

	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

// ErrInvalidTransition guards the order lifecycle: New -> Accepted ->
// (PartiallyFilled)* -> (Filled | Cancelled | Rejected). A Filled or
// Cancelled order never returns to the book.
var ErrInvalidTransition = errors.New("common: invalid order state transition")

type OrderState int8

const (
	StateNew OrderState = iota
	StateAccepted
	StatePartiallyFilled
	StateFilled
	StateCancelled
	StateRejected
)

func (s OrderState) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateAccepted:
		return "Accepted"
	case StatePartiallyFilled:
		return "PartiallyFilled"
	case StateFilled:
		return "Filled"
	case StateCancelled:
		return "Cancelled"
	case StateRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// terminal reports whether a state can never transition again.
func (s OrderState) terminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateRejected
}

// validNext enumerates the transition table from spec.md's order lifecycle.
var validNext = map[OrderState]map[OrderState]bool{
	StateNew:             {StateAccepted: true, StateRejected: true},
	StateAccepted:        {StatePartiallyFilled: true, StateFilled: true, StateCancelled: true},
	StatePartiallyFilled: {StatePartiallyFilled: true, StateFilled: true, StateCancelled: true},
}

// Order is a single resting or in-flight order. Quantity is the remaining,
// unfilled lot count; it only ever decreases. ReceivedSeq is the
// shard-local monotonically increasing sequence used as the time component
// of price-time priority — distinct from the router's global EngineSeq.
type Order struct {
	OrderID       OrderID
	ClientOrderID uint64
	MarketID      MarketID
	AccountID     AccountID
	Side          Side
	Price         fixedpoint.Fixed // ticks; HasPrice=false means market order
	HasPrice      bool
	Quantity      fixedpoint.Fixed // remaining lots
	TotalQuantity fixedpoint.Fixed // original quantity, for fill accounting
	TIF           TIF
	ReceivedSeq   uint64
	State         OrderState
}

// Transition moves the order to next, returning ErrInvalidTransition if the
// move is not allowed from the current state. Terminal states never allow
// a further transition.
func (o *Order) Transition(next OrderState) error {
	if o.State.terminal() {
		return fmt.Errorf("%w: %s is terminal, cannot move to %s", ErrInvalidTransition, o.State, next)
	}
	allowed, ok := validNext[o.State]
	if !ok || !allowed[next] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, next)
	}
	o.State = next
	return nil
}

// IsMarket reports whether the order carries no limit price.
func (o *Order) IsMarket() bool { return !o.HasPrice }

// FilledQuantity is how much of the order has executed so far.
func (o *Order) FilledQuantity() fixedpoint.Fixed {
	return o.TotalQuantity - o.Quantity
}

func (o Order) String() string {
	price := "market"
	if o.HasPrice {
		price = fmt.Sprintf("%d", o.Price)
	}
	return fmt.Sprintf(
		"Order{id=%d market=%d account=%d side=%s price=%s qty=%d/%d tif=%s seq=%d state=%s}",
		o.OrderID, o.MarketID, o.AccountID, o.Side, price, o.Quantity, o.TotalQuantity, o.TIF, o.ReceivedSeq, o.State,
	)
}
