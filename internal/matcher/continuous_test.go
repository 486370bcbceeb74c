package matcher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/clobcore/internal/book"
	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
	"github.com/saiputravu/clobcore/internal/matcher"
)

func mkResting(id common.OrderID, side common.Side, price, qty fixedpoint.Fixed, seq uint64) common.Order {
	o := common.Order{
		OrderID:       id,
		MarketID:      1,
		AccountID:     common.AccountID(id),
		Side:          side,
		Price:         price,
		HasPrice:      true,
		Quantity:      qty,
		TotalQuantity: qty,
		TIF:           common.GTC,
		ReceivedSeq:   seq,
		State:         common.StateAccepted,
	}
	return o
}

func mkIncoming(id common.OrderID, side common.Side, price, qty fixedpoint.Fixed, hasPrice bool, tif common.TIF) *common.Order {
	return &common.Order{
		OrderID:       id,
		MarketID:      1,
		AccountID:     common.AccountID(id),
		Side:          side,
		Price:         price,
		HasPrice:      hasPrice,
		Quantity:      qty,
		TotalQuantity: qty,
		TIF:           tif,
		State:         common.StateNew,
	}
}

var cfg = matcher.Config{MakerBps: 10, TakerBps: 20}

// S1: book has ask 100@10; submit buy 100@10 IOC. Expect one fill at price
// 100 quantity 10, no residual, ask side empty at 100.
func TestMatchContinuous_S1_CrossingLimitIOC(t *testing.T) {
	b := book.New()
	require.NoError(t, b.Insert(mkResting(1, common.Sell, 100, 10, 1), nil))
	b.RefreshBest(common.Sell)

	incoming := mkIncoming(2, common.Buy, 100, 10, true, common.IOC)
	res, err := matcher.MatchContinuous(b, incoming, cfg, 1000)
	require.NoError(t, err)

	require.Len(t, res.Fills, 1)
	assert.EqualValues(t, 100, res.Fills[0].Price)
	assert.EqualValues(t, 10, res.Fills[0].Quantity)
	assert.False(t, res.Rested)
	assert.Equal(t, common.StateFilled, incoming.State)

	_, ok := b.Best(common.Sell)
	assert.False(t, ok)
}

// S2: asks 100@3 and 101@5; submit buy 101@7 GTC (limit allows crossing up
// to 101). Expect fill 3@100, fill 4@101, residual 0, best ask becomes
// 101 size 1.
func TestMatchContinuous_S2_PartialFillGTC(t *testing.T) {
	b := book.New()
	require.NoError(t, b.Insert(mkResting(1, common.Sell, 100, 3, 1), nil))
	require.NoError(t, b.Insert(mkResting(2, common.Sell, 101, 5, 2), nil))
	b.RefreshBest(common.Sell)

	incoming := mkIncoming(3, common.Buy, 101, 7, true, common.GTC)
	res, err := matcher.MatchContinuous(b, incoming, cfg, 1000)
	require.NoError(t, err)

	require.Len(t, res.Fills, 2)
	assert.EqualValues(t, 100, res.Fills[0].Price)
	assert.EqualValues(t, 3, res.Fills[0].Quantity)
	assert.EqualValues(t, 101, res.Fills[1].Price)
	assert.EqualValues(t, 4, res.Fills[1].Quantity)
	assert.EqualValues(t, 0, incoming.Quantity)
	assert.False(t, res.Rested)
	assert.Equal(t, common.StateFilled, incoming.State)

	price, ok := b.Best(common.Sell)
	require.True(t, ok)
	assert.EqualValues(t, 101, price)
	ord, ok := b.Order(2)
	require.True(t, ok)
	assert.EqualValues(t, 1, ord.Quantity)

	// Both touched ask prices must appear in the coalesced delta: 100 fully
	// consumed (new size 0) and 101 only partially consumed (new size 1).
	require.Len(t, res.Deltas, 1)
	assert.Equal(t, common.Sell, res.Deltas[0].Side)
	changes := map[int64]int64{}
	for _, c := range res.Deltas[0].Changes {
		changes[int64(c.Price)] = int64(c.NewSize)
	}
	assert.Equal(t, map[int64]int64{100: 0, 101: 1}, changes)
}

// S3: ask 100@5 present; submit buy 100@1 POST_ONLY. Expect
// OrderReject(PostOnlyWouldCross), no state change to the book.
func TestMatchContinuous_S3_PostOnlyRejection(t *testing.T) {
	b := book.New()
	require.NoError(t, b.Insert(mkResting(1, common.Sell, 100, 5, 1), nil))
	b.RefreshBest(common.Sell)

	incoming := mkIncoming(2, common.Buy, 100, 1, true, common.PostOnly)
	res, err := matcher.MatchContinuous(b, incoming, cfg, 1000)
	require.NoError(t, err)

	assert.True(t, res.Rejected)
	assert.Equal(t, common.StateNew, incoming.State) // no transition on outright reject
	assert.Empty(t, res.Fills)

	ord, ok := b.Order(1)
	require.True(t, ok)
	assert.EqualValues(t, 5, ord.Quantity)
}

func TestMatchContinuous_FOKUnfillableRejects(t *testing.T) {
	b := book.New()
	require.NoError(t, b.Insert(mkResting(1, common.Sell, 100, 3, 1), nil))
	b.RefreshBest(common.Sell)

	incoming := mkIncoming(2, common.Buy, 100, 10, true, common.FOK)
	res, err := matcher.MatchContinuous(b, incoming, cfg, 1000)
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Empty(t, res.Fills)
}

func TestMatchContinuous_MarketOrderNeverRests(t *testing.T) {
	b := book.New()
	require.NoError(t, b.Insert(mkResting(1, common.Sell, 100, 3, 1), nil))
	b.RefreshBest(common.Sell)

	incoming := mkIncoming(2, common.Buy, 0, 10, false, common.GTC)
	res, err := matcher.MatchContinuous(b, incoming, cfg, 1000)
	require.NoError(t, err)

	require.Len(t, res.Fills, 1)
	assert.False(t, res.Rested)
	assert.Equal(t, common.StateCancelled, incoming.State)
}
