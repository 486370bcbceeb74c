package shard_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/events"
	"github.com/saiputravu/clobcore/internal/risk"
	"github.com/saiputravu/clobcore/internal/shard"
)

func newShard() *shard.Shard {
	l := risk.NewIsolatedLedger()
	l.Restore(map[common.AccountID]risk.Account{
		1: {Balance: 100_000},
		2: {Balance: 100_000},
	})
	s := shard.New(0, 16, l, nil, nil, "", shard.SnapshotPolicy{})
	s.UpsertMarket(common.MarketConfig{
		MarketID:         7,
		MakerBps:         10,
		TakerBps:         20,
		Mode:             common.Continuous,
		InitialMarginBps: 1000,
		MarkPrice:        100,
	})
	return s
}

func TestProcessUnknownMarketRejectsNewOrder(t *testing.T) {
	l := risk.NewIsolatedLedger()
	s := shard.New(0, 16, l, nil, nil, "", shard.SnapshotPolicy{})

	var captured []events.Output
	s.OnOutputs(func(_ common.EngineSeq, out []events.Output) { captured = out })

	err := s.Process(&events.Input{
		EngineSeq: 1,
		Kind:      events.KindNewOrder,
		MarketID:  99,
		NewOrder:  &events.NewOrder{ClientOrderID: 1, AccountID: 1, Side: common.Buy, Quantity: 1, TIF: common.GTC},
	})
	require.NoError(t, err)
	require.Len(t, captured, 1)
	assert.Equal(t, events.KindOrderReject, captured[0].Kind)
	assert.Equal(t, events.ReasonMarketUnknown, captured[0].OrderReject.Reason)
}

func TestProcessRestingOrderThenCrossingOrderProducesFillAndSettlesBothSides(t *testing.T) {
	s := newShard()

	var rounds [][]events.Output
	s.OnOutputs(func(_ common.EngineSeq, out []events.Output) { rounds = append(rounds, out) })

	require.NoError(t, s.Process(&events.Input{
		EngineSeq: 1, Kind: events.KindNewOrder, MarketID: 7,
		NewOrder: &events.NewOrder{ClientOrderID: 1, AccountID: 1, Side: common.Sell, Price: 100, HasPrice: true, Quantity: 10, TIF: common.GTC},
	}))
	require.NoError(t, s.Process(&events.Input{
		EngineSeq: 2, Kind: events.KindNewOrder, MarketID: 7,
		NewOrder: &events.NewOrder{ClientOrderID: 2, AccountID: 2, Side: common.Buy, Price: 100, HasPrice: true, Quantity: 4, TIF: common.IOC},
	}))

	require.Len(t, rounds, 2)
	// Round 1: resting order, just an ack (no crossing liquidity yet).
	assert.Equal(t, events.KindOrderAck, rounds[0][0].Kind)
	// engine_seq is stamped on both the Output wrapper and the nested
	// OrderAck payload, since a consumer may forward the ack on its own.
	require.NotNil(t, rounds[0][0].OrderAck)
	assert.EqualValues(t, 1, rounds[0][0].EngineSeq)
	assert.EqualValues(t, 1, rounds[0][0].OrderAck.EngineSeq)

	// Round 2: ack + fill + book delta for the taker crossing the resting ask.
	var fill *events.Fill
	for _, o := range rounds[1] {
		if o.Kind == events.KindFill {
			fill = o.Fill
		}
	}
	require.NotNil(t, fill)
	assert.EqualValues(t, 100, fill.Price)
	assert.EqualValues(t, 4, fill.Quantity)
	assert.EqualValues(t, 1, fill.MakerAccountID)
	assert.EqualValues(t, 2, fill.TakerAccountID)
}

func TestProcessCancelReleasesMarginAndEmitsAck(t *testing.T) {
	s := newShard()

	var lastOutputs []events.Output
	s.OnOutputs(func(_ common.EngineSeq, out []events.Output) { lastOutputs = out })

	require.NoError(t, s.Process(&events.Input{
		EngineSeq: 1, Kind: events.KindNewOrder, MarketID: 7,
		NewOrder: &events.NewOrder{ClientOrderID: 1, AccountID: 1, Side: common.Buy, Price: 100, HasPrice: true, Quantity: 10, TIF: common.GTC},
	}))

	require.NoError(t, s.Process(&events.Input{
		EngineSeq: 2, Kind: events.KindCancelOrder, MarketID: 7,
		CancelOrder: &events.CancelOrder{OrderID: common.OrderID(1)},
	}))
	require.Len(t, lastOutputs, 2)
	assert.Equal(t, events.KindCancelAck, lastOutputs[0].Kind)
	assert.Equal(t, events.KindBookDelta, lastOutputs[1].Kind)
}

func TestProcessAuctionTickClearsQueuedOrders(t *testing.T) {
	l := risk.NewIsolatedLedger()
	l.Restore(map[common.AccountID]risk.Account{1: {Balance: 100_000}, 2: {Balance: 100_000}})
	s := shard.New(0, 16, l, nil, nil, "", shard.SnapshotPolicy{})
	s.UpsertMarket(common.MarketConfig{
		MarketID:         7,
		MakerBps:         10,
		TakerBps:         10,
		Mode:             common.BatchAuction,
		InitialMarginBps: 1000,
		MarkPrice:        100,
	})

	require.NoError(t, s.Process(&events.Input{
		EngineSeq: 1, Kind: events.KindNewOrder, MarketID: 7,
		NewOrder: &events.NewOrder{ClientOrderID: 1, AccountID: 1, Side: common.Buy, Price: 100, HasPrice: true, Quantity: 5, TIF: common.GTC},
	}))
	require.NoError(t, s.Process(&events.Input{
		EngineSeq: 2, Kind: events.KindNewOrder, MarketID: 7,
		NewOrder: &events.NewOrder{ClientOrderID: 2, AccountID: 2, Side: common.Sell, Price: 100, HasPrice: true, Quantity: 5, TIF: common.GTC},
	}))

	var outputs []events.Output
	s.OnOutputs(func(_ common.EngineSeq, out []events.Output) { outputs = out })
	require.NoError(t, s.Process(&events.Input{EngineSeq: 3, Kind: events.KindAuctionTick, MarketID: 7}))

	var fill *events.Fill
	for _, o := range outputs {
		if o.Kind == events.KindFill {
			fill = o.Fill
		}
	}
	require.NotNil(t, fill)
	assert.EqualValues(t, 5, fill.Quantity)
}

func TestOnSnapshotDueFiresAfterEveryNEvents(t *testing.T) {
	l := risk.NewIsolatedLedger()
	l.Restore(map[common.AccountID]risk.Account{1: {Balance: 100_000}})
	s := shard.New(0, 16, l, nil, nil, "", shard.SnapshotPolicy{EveryNEvents: 2})
	s.UpsertMarket(common.MarketConfig{MarketID: 7, Mode: common.Continuous, InitialMarginBps: 1000, MarkPrice: 100})

	var due []common.EngineSeq
	s.OnSnapshotDue(func(seq common.EngineSeq) { due = append(due, seq) })

	require.NoError(t, s.Process(&events.Input{EngineSeq: 1, Kind: events.KindPriceUpdate, MarketID: 7, PriceUpdate: &events.PriceUpdate{MarkPrice: 100}}))
	assert.Empty(t, due)
	require.NoError(t, s.Process(&events.Input{EngineSeq: 2, Kind: events.KindPriceUpdate, MarketID: 7, PriceUpdate: &events.PriceUpdate{MarkPrice: 101}}))
	require.Len(t, due, 1)
	assert.EqualValues(t, 2, due[0])
}

func TestRequestStateReturnsBookContentsWhileRunLoopIsActive(t *testing.T) {
	s := newShard()

	var tm tomb.Tomb
	tm.Go(func() error { return s.Run(&tm) })
	defer func() {
		tm.Kill(nil)
		_ = tm.Wait()
	}()

	require.NoError(t, s.Enqueue(context.Background(), &events.Input{
		EngineSeq: 1, Kind: events.KindNewOrder, MarketID: 7,
		NewOrder: &events.NewOrder{ClientOrderID: 1, AccountID: 1, Side: common.Sell, Price: 100, HasPrice: true, Quantity: 10, TIF: common.GTC},
	}, true))

	require.Eventually(t, func() bool {
		ms, err := s.RequestState(context.Background())
		if err != nil {
			return false
		}
		for _, m := range ms.Markets {
			if m.MarketID == 7 && len(m.Orders) == 1 {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
