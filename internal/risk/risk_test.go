package risk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/risk"
)

func TestCheckOpenAcceptsWithinMargin(t *testing.T) {
	l := risk.NewIsolatedLedger()
	accounts := map[common.AccountID]risk.Account{
		1: {Balance: 1000},
	}
	l.Restore(accounts)

	required, err := l.CheckOpen(risk.OpenRequest{
		AccountID:        1,
		MarketID:         7,
		Side:             common.Buy,
		Price:            100,
		Quantity:         5,
		InitialMarginBps: 1000, // 10%
	})
	require.NoError(t, err)
	assert.EqualValues(t, 50, required) // 100*5*0.10

	snap := l.Snapshot()
	assert.EqualValues(t, 50, snap[1].Reserved)
}

func TestCheckOpenRejectsInsufficientMargin(t *testing.T) {
	l := risk.NewIsolatedLedger()
	l.Restore(map[common.AccountID]risk.Account{1: {Balance: 100}})

	_, err := l.CheckOpen(risk.OpenRequest{
		AccountID:        1,
		MarketID:         7,
		Side:             common.Buy,
		Price:            100,
		Quantity:         15,
		InitialMarginBps: 1000, // required = 150 > balance 100
	})
	assert.ErrorIs(t, err, risk.ErrInsufficientMargin)

	snap := l.Snapshot()
	assert.EqualValues(t, 0, snap[1].Reserved)
}

func TestOnCancelReleasesReserved(t *testing.T) {
	l := risk.NewIsolatedLedger()
	l.Restore(map[common.AccountID]risk.Account{1: {Balance: 1000}})

	_, err := l.CheckOpen(risk.OpenRequest{AccountID: 1, MarketID: 1, Side: common.Buy, Price: 100, Quantity: 5, InitialMarginBps: 1000})
	require.NoError(t, err)

	require.NoError(t, l.OnCancel(1, 50))
	snap := l.Snapshot()
	assert.EqualValues(t, 0, snap[1].Reserved)
}

func TestOnFillOpensPositionAndAppliesFee(t *testing.T) {
	l := risk.NewIsolatedLedger()
	l.Restore(map[common.AccountID]risk.Account{1: {Balance: 1000}})

	err := l.OnFill(risk.FillEvent{
		AccountID:       1,
		MarketID:        1,
		Side:            common.Buy,
		Price:           100,
		Quantity:        10,
		Fee:             2,
		ReservedRelease: 100,
	})
	require.NoError(t, err)

	snap := l.Snapshot()
	pos := snap[1].Positions[1]
	require.NotNil(t, pos)
	assert.EqualValues(t, 10, pos.SignedQty)
	assert.EqualValues(t, 100, pos.AvgEntryPrice)
	assert.EqualValues(t, 998, snap[1].Balance) // 1000 - fee 2
}

func TestOnFillRealizesPnLOnClose(t *testing.T) {
	l := risk.NewIsolatedLedger()
	l.Restore(map[common.AccountID]risk.Account{1: {Balance: 1000}})

	require.NoError(t, l.OnFill(risk.FillEvent{
		AccountID: 1, MarketID: 1, Side: common.Buy, Price: 100, Quantity: 10,
	}))
	// Close half at a higher price: pnl = (110-100)*5 = 50
	require.NoError(t, l.OnFill(risk.FillEvent{
		AccountID: 1, MarketID: 1, Side: common.Sell, Price: 110, Quantity: 5,
	}))

	snap := l.Snapshot()
	pos := snap[1].Positions[1]
	assert.EqualValues(t, 5, pos.SignedQty)
	assert.EqualValues(t, 1050, snap[1].Balance)
}
