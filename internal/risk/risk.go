// Package risk implements pre-trade isolated-margin accounting: per-account
// balance/reserved bookkeeping and per-market position tracking. Cross-
// margin is a named extension point (spec.md §4.4) exposed as the Ledger
// interface; IsolatedLedger is the only shipped implementation.
package risk

import (
	"errors"

	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

var (
	// ErrInsufficientMargin is returned by CheckOpen when balance-reserved
	// would fall short of the required margin, or leverage-after-open would
	// exceed the market's cap.
	ErrInsufficientMargin = errors.New("risk: insufficient margin")
)

// Position is one account's net exposure in one market.
type Position struct {
	SignedQty     fixedpoint.Fixed // positive = long, negative = short
	AvgEntryPrice fixedpoint.Fixed
}

// Account is one account's isolated-margin ledger: collateral balance,
// margin reserved against resting orders, and a position per market.
// Invariant (spec.md §3): Balance >= Reserved at rest.
type Account struct {
	Balance   fixedpoint.Fixed
	Reserved  fixedpoint.Fixed
	Positions map[common.MarketID]*Position
}

func newAccount() *Account {
	return &Account{Positions: make(map[common.MarketID]*Position)}
}

func (a *Account) position(marketID common.MarketID) *Position {
	if a.Positions == nil {
		a.Positions = make(map[common.MarketID]*Position)
	}
	p, ok := a.Positions[marketID]
	if !ok {
		p = &Position{}
		a.Positions[marketID] = p
	}
	return p
}

// OpenRequest is the pre-trade sizing context for CheckOpen.
type OpenRequest struct {
	AccountID        common.AccountID
	MarketID         common.MarketID
	Side             common.Side
	Price            fixedpoint.Fixed // limit price, or MarkPrice for market orders
	Quantity         fixedpoint.Fixed
	InitialMarginBps fixedpoint.BasisPoints
	MaxLeverage      int64
}

// FillEvent is one side of a fill as seen by the risk ledger: the account
// being debited/credited, its role, the execution price/qty and its fee.
type FillEvent struct {
	AccountID common.AccountID
	MarketID  common.MarketID
	Side      common.Side
	Price     fixedpoint.Fixed
	Quantity  fixedpoint.Fixed
	Fee       fixedpoint.Fixed
	// ReservedRelease is the slice of the order's originally-reserved
	// margin attributable to this fill, released back from Reserved before
	// P&L realization. Computed by internal/shard: pro rata against the
	// order's original quantity for the incoming order, and from the fill's
	// own notional for a resting order.
	ReservedRelease fixedpoint.Fixed
}

// Ledger is the risk capability interface spec.md §4.4 calls for: an
// alternative (e.g. cross-margin) implementation can share margin across
// markets without internal/matcher or internal/shard changing.
type Ledger interface {
	CheckOpen(req OpenRequest) (requiredMargin fixedpoint.Fixed, err error)
	OnFill(ev FillEvent) error
	OnCancel(accountID common.AccountID, releaseMargin fixedpoint.Fixed) error
	// Snapshot/Restore let the snapshot store serialize and rebuild ledger
	// state without knowing which Ledger implementation is in use.
	Snapshot() map[common.AccountID]Account
	Restore(accounts map[common.AccountID]Account)
}

// IsolatedLedger is the default Ledger. Each account has one Balance and
// one Reserved total shared by every market it trades, plus one Position
// per market; realized P&L and fees from any market settle into that single
// Balance, so margin is not partitioned between markets.
type IsolatedLedger struct {
	accounts map[common.AccountID]*Account
}

func NewIsolatedLedger() *IsolatedLedger {
	return &IsolatedLedger{accounts: make(map[common.AccountID]*Account)}
}

func (l *IsolatedLedger) account(id common.AccountID) *Account {
	a, ok := l.accounts[id]
	if !ok {
		a = newAccount()
		l.accounts[id] = a
	}
	return a
}

// CheckOpen computes required margin for a prospective NewOrder and, if
// affordable and within the leverage cap, reserves it immediately
// (spec.md §4.4: "accept and add required_margin to reserved").
func (l *IsolatedLedger) CheckOpen(req OpenRequest) (fixedpoint.Fixed, error) {
	notional, err := fixedpoint.Notional(req.Price, req.Quantity)
	if err != nil {
		return 0, err
	}
	required, err := fixedpoint.Fee(notional, req.InitialMarginBps)
	if err != nil {
		return 0, err
	}

	a := l.account(req.AccountID)
	available := a.Balance - a.Reserved
	if available < required {
		return 0, ErrInsufficientMargin
	}

	if req.MaxLeverage > 0 {
		pos := a.position(req.MarketID)
		projectedQty := pos.SignedQty + signedQty(req.Side, req.Quantity)
		if projectedQty < 0 {
			projectedQty = -projectedQty
		}
		projectedNotional, err := fixedpoint.Notional(req.Price, projectedQty)
		if err != nil {
			return 0, err
		}
		if a.Balance > 0 && int64(projectedNotional)/int64(a.Balance) > req.MaxLeverage {
			return 0, ErrInsufficientMargin
		}
	}

	a.Reserved += required
	return required, nil
}

// OnFill moves the filled portion's share of reserved margin out, updates
// the position's signed quantity and volume-weighted average entry price,
// realizes P&L on any closing quantity, and applies the fee to balance
// (spec.md §4.4).
func (l *IsolatedLedger) OnFill(ev FillEvent) error {
	a := l.account(ev.AccountID)
	a.Reserved -= ev.ReservedRelease
	if a.Reserved < 0 {
		a.Reserved = 0
	}

	pos := a.position(ev.MarketID)
	delta := signedQty(ev.Side, ev.Quantity)

	switch {
	case pos.SignedQty == 0 || sameSign(pos.SignedQty, delta):
		// Opening or adding to a position: weighted-average the entry price.
		newQty := pos.SignedQty + delta
		if newQty != 0 {
			oldNotional := abs(pos.SignedQty) * pos.AvgEntryPrice
			addNotional := abs(delta) * ev.Price
			pos.AvgEntryPrice = (oldNotional + addNotional) / abs(newQty)
		}
		pos.SignedQty = newQty
	default:
		// Closing into, or flipping through, an opposite position.
		closedQty := min(abs(pos.SignedQty), abs(delta))
		sign := int64(1)
		if pos.SignedQty < 0 {
			sign = -1
		}
		pnl := (ev.Price - pos.AvgEntryPrice) * closedQty * fixedpoint.Fixed(sign)
		a.Balance += pnl

		newQty := pos.SignedQty + delta
		pos.SignedQty = newQty
		if newQty == 0 {
			pos.AvgEntryPrice = 0
		} else if abs(delta) > closedQty {
			// Flipped through flat: the excess opens a fresh position at
			// the execution price.
			pos.AvgEntryPrice = ev.Price
		}
	}

	a.Balance -= ev.Fee
	return nil
}

// OnCancel releases a cancelled order's share of reserved margin.
func (l *IsolatedLedger) OnCancel(accountID common.AccountID, releaseMargin fixedpoint.Fixed) error {
	a := l.account(accountID)
	a.Reserved -= releaseMargin
	if a.Reserved < 0 {
		a.Reserved = 0
	}
	return nil
}

func (l *IsolatedLedger) Snapshot() map[common.AccountID]Account {
	out := make(map[common.AccountID]Account, len(l.accounts))
	for id, a := range l.accounts {
		cp := Account{Balance: a.Balance, Reserved: a.Reserved, Positions: make(map[common.MarketID]*Position, len(a.Positions))}
		for mid, p := range a.Positions {
			pcopy := *p
			cp.Positions[mid] = &pcopy
		}
		out[id] = cp
	}
	return out
}

func (l *IsolatedLedger) Restore(accounts map[common.AccountID]Account) {
	l.accounts = make(map[common.AccountID]*Account, len(accounts))
	for id, a := range accounts {
		cp := a
		l.accounts[id] = &cp
	}
}

func signedQty(side common.Side, qty fixedpoint.Fixed) fixedpoint.Fixed {
	if side == common.Buy {
		return qty
	}
	return -qty
}

func sameSign(a, b fixedpoint.Fixed) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(a fixedpoint.Fixed) fixedpoint.Fixed {
	if a < 0 {
		return -a
	}
	return a
}

func min(a, b fixedpoint.Fixed) fixedpoint.Fixed {
	if a < b {
		return a
	}
	return b
}
