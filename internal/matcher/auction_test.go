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

// S4: bids 99@5, 100@3, 101@2; asks 98@4, 99@3, 100@2. The volume-
// maximizing clearing price is 99 (matched volume 7); the bid side carries
// the residual (3 lots resting at 99) since it has more aggregate volume
// than the ask side at and above the clearing price.
func TestClearAuction_S4_BatchAuctionClearing(t *testing.T) {
	b := book.New()
	require.NoError(t, b.Insert(mkResting(1, common.Buy, 99, 5, 1), nil))
	require.NoError(t, b.Insert(mkResting(2, common.Buy, 100, 3, 2), nil))
	require.NoError(t, b.Insert(mkResting(3, common.Buy, 101, 2, 3), nil))
	require.NoError(t, b.Insert(mkResting(4, common.Sell, 98, 4, 4), nil))
	require.NoError(t, b.Insert(mkResting(5, common.Sell, 99, 3, 5), nil))
	require.NoError(t, b.Insert(mkResting(6, common.Sell, 100, 2, 6), nil))
	b.RefreshBest(common.Buy)
	b.RefreshBest(common.Sell)

	res, err := matcher.ClearAuction(b, cfg, 99, 5000)
	require.NoError(t, err)

	var totalQty fixedpoint.Fixed
	for _, f := range res.Fills {
		assert.EqualValues(t, 99, f.Price)
		totalQty += fixedpoint.Fixed(f.Quantity)
	}
	assert.EqualValues(t, 7, totalQty)

	// Both ask-side orders at and below the clearing price are fully
	// consumed; the 100@2 ask level never qualifies (100 > 99) and is
	// untouched.
	_, ok := b.Order(4)
	assert.False(t, ok)
	_, ok = b.Order(5)
	assert.False(t, ok)
	askOrd, ok := b.Order(6)
	require.True(t, ok)
	assert.EqualValues(t, 2, askOrd.Quantity)

	// The bid side's residual rests at 99 (it was the long side).
	bidOrd, ok := b.Order(1)
	require.True(t, ok)
	assert.EqualValues(t, 3, bidOrd.Quantity)
	assert.Equal(t, common.StatePartiallyFilled, bidOrd.State)

	_, ok = b.Order(2)
	assert.False(t, ok)
	_, ok = b.Order(3)
	assert.False(t, ok)
}

func TestClearAuction_NoClearingWhenSidesDontOverlap(t *testing.T) {
	b := book.New()
	require.NoError(t, b.Insert(mkResting(1, common.Buy, 90, 5, 1), nil))
	require.NoError(t, b.Insert(mkResting(2, common.Sell, 100, 5, 2), nil))
	b.RefreshBest(common.Buy)
	b.RefreshBest(common.Sell)

	res, err := matcher.ClearAuction(b, cfg, 95, 5000)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)

	ord, ok := b.Order(1)
	require.True(t, ok)
	assert.EqualValues(t, 5, ord.Quantity)
}

func TestHandleAuctionEntry_IOCRejectedPreTick(t *testing.T) {
	b := book.New()
	incoming := mkIncoming(1, common.Buy, 100, 5, true, common.IOC)
	res, err := matcher.HandleAuctionEntry(b, incoming)
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	_, ok := b.Order(1)
	assert.False(t, ok)
}

func TestHandleAuctionEntry_GTCQueuesWithoutMatching(t *testing.T) {
	b := book.New()
	require.NoError(t, b.Insert(mkResting(1, common.Sell, 100, 5, 1), nil))
	b.RefreshBest(common.Sell)

	incoming := mkIncoming(2, common.Buy, 105, 3, true, common.GTC)
	res, err := matcher.HandleAuctionEntry(b, incoming)
	require.NoError(t, err)

	assert.True(t, res.Rested)
	assert.Empty(t, res.Fills)

	ord, ok := b.Order(2)
	require.True(t, ok)
	assert.EqualValues(t, 3, ord.Quantity)
}

func TestHandleAuctionEntry_PostOnlyRejectsOnCross(t *testing.T) {
	b := book.New()
	require.NoError(t, b.Insert(mkResting(1, common.Sell, 100, 5, 1), nil))
	b.RefreshBest(common.Sell)

	incoming := mkIncoming(2, common.Buy, 101, 3, true, common.PostOnly)
	res, err := matcher.HandleAuctionEntry(b, incoming)
	require.NoError(t, err)
	assert.True(t, res.Rejected)
}
