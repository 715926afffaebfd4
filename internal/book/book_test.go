package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionex/internal/order"
)

func resting(owner string, side order.Side, qty, price, ts int64) *order.Order {
	o := order.NewOrder(owner, "AAA", side, order.Limit, qty, price)
	o.Timestamp = ts
	return o
}

func TestEnqueueFIFOWithinLevel(t *testing.T) {
	b := New()
	first := resting("a", order.Buy, 10, 100, 1)
	second := resting("b", order.Buy, 5, 100, 2)
	b.Enqueue(first)
	b.Enqueue(second)

	lvl, ok := b.Best(order.Buy)
	require.True(t, ok)
	assert.Equal(t, int64(100), lvl.Price)
	require.Len(t, lvl.Orders, 2)
	assert.Equal(t, first.ID, lvl.Orders[0].ID)
	assert.Equal(t, second.ID, lvl.Orders[1].ID)
}

func TestBestBidIsHighestPrice(t *testing.T) {
	b := New()
	b.Enqueue(resting("a", order.Buy, 10, 100, 1))
	b.Enqueue(resting("b", order.Buy, 10, 110, 2))
	b.Enqueue(resting("c", order.Buy, 10, 90, 3))

	lvl, ok := b.Best(order.Buy)
	require.True(t, ok)
	assert.Equal(t, int64(110), lvl.Price)
}

func TestBestAskIsLowestPrice(t *testing.T) {
	b := New()
	b.Enqueue(resting("a", order.Sell, 10, 100, 1))
	b.Enqueue(resting("b", order.Sell, 10, 90, 2))
	b.Enqueue(resting("c", order.Sell, 10, 110, 3))

	lvl, ok := b.Best(order.Sell)
	require.True(t, ok)
	assert.Equal(t, int64(90), lvl.Price)
}

func TestRemoveDropsEmptyLevel(t *testing.T) {
	b := New()
	o := resting("a", order.Buy, 10, 100, 1)
	b.Enqueue(o)
	b.Remove(o.ID)

	assert.True(t, b.Empty())
	_, ok := b.Best(order.Buy)
	assert.False(t, ok)
}

func TestRemoveLeavesOtherOrdersInLevel(t *testing.T) {
	b := New()
	first := resting("a", order.Buy, 10, 100, 1)
	second := resting("b", order.Buy, 5, 100, 2)
	b.Enqueue(first)
	b.Enqueue(second)
	b.Remove(first.ID)

	lvl, ok := b.Best(order.Buy)
	require.True(t, ok)
	require.Len(t, lvl.Orders, 1)
	assert.Equal(t, second.ID, lvl.Orders[0].ID)
}

func TestSnapshotAggregatesQtyAndRespectsDepth(t *testing.T) {
	b := New()
	b.Enqueue(resting("a", order.Buy, 10, 100, 1))
	b.Enqueue(resting("b", order.Buy, 5, 100, 2))
	b.Enqueue(resting("c", order.Buy, 1, 95, 3))

	bids, _ := b.Snapshot(1)
	require.Len(t, bids, 1)
	assert.Equal(t, Level{Price: 100, Qty: 15}, bids[0])
}

func TestSnapshotSkipsFullyFilledLevels(t *testing.T) {
	b := New()
	o := resting("a", order.Buy, 10, 100, 1)
	b.Enqueue(o)
	o.Fill(10)

	bids, asks := b.Snapshot(10)
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}
