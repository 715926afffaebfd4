package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionex/internal/errs"
	"ionex/internal/instrument"
	"ionex/internal/ledger"
	"ionex/internal/order"
	"ionex/internal/trade"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger, *instrument.Registry) {
	t.Helper()
	l := ledger.New()
	instruments := instrument.New()
	_, err := instruments.Admit("AAA", "Acme Corp")
	require.NoError(t, err)
	orders := order.NewStore()
	tape := trade.NewTape()
	return New(l, instruments, orders, tape), l, instruments
}

func fund(t *testing.T, l *ledger.Ledger, user, ticker string, amount int64) {
	t.Helper()
	require.NoError(t, l.Credit(user, ticker, amount))
}

func TestPlaceLimitRestsWhenNoCross(t *testing.T) {
	e, l, _ := newTestEngine(t)
	fund(t, l, "buyer", "RUB", 1000)

	o, err := e.PlaceLimit("buyer", "AAA", order.Buy, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, order.New, o.Status)
	assert.Equal(t, int64(0), o.Filled)
	assert.Equal(t, int64(500), l.Available("buyer", "RUB"))
}

func TestPlaceLimitCrossesAndFillsAtMakerPrice(t *testing.T) {
	e, l, _ := newTestEngine(t)
	fund(t, l, "seller", "AAA", 10)
	_, err := e.PlaceLimit("seller", "AAA", order.Sell, 10, 100)
	require.NoError(t, err)

	fund(t, l, "buyer", "RUB", 2000)
	buy, err := e.PlaceLimit("buyer", "AAA", order.Buy, 10, 120)
	require.NoError(t, err)

	assert.Equal(t, order.Executed, buy.Status)
	assert.Equal(t, int64(10), buy.Filled)

	buyerInst, _ := l.Balance("buyer", "AAA")
	assert.Equal(t, int64(10), buyerInst)

	buyerCash, buyerLocked := l.Balance("buyer", "RUB")
	assert.Equal(t, int64(0), buyerLocked)
	assert.Equal(t, int64(1000), buyerCash) // 2000 - (100 maker price * 10)
}

func TestPlaceLimitPartialFillRestsRemainder(t *testing.T) {
	e, l, _ := newTestEngine(t)
	fund(t, l, "seller", "AAA", 5)
	_, err := e.PlaceLimit("seller", "AAA", order.Sell, 5, 100)
	require.NoError(t, err)

	fund(t, l, "buyer", "RUB", 2000)
	buy, err := e.PlaceLimit("buyer", "AAA", order.Buy, 10, 100)
	require.NoError(t, err)

	assert.Equal(t, order.PartiallyExecuted, buy.Status)
	assert.Equal(t, int64(5), buy.Filled)
	assert.Equal(t, int64(5), buy.Remaining())

	bids, asks := e.Snapshot("AAA", 10)
	assert.Empty(t, asks)
	require.Len(t, bids, 1)
	assert.Equal(t, int64(5), bids[0].Qty)
}

func TestPlaceLimitInsufficientFundsRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.PlaceLimit("broke", "AAA", order.Buy, 10, 100)
	require.Error(t, err)
	assert.Equal(t, errs.InsufficientAvailable, errs.KindOf(err))
}

func TestPlaceMarketSweepsBestPriceFirst(t *testing.T) {
	e, l, _ := newTestEngine(t)
	fund(t, l, "sellerLow", "AAA", 5)
	fund(t, l, "sellerHigh", "AAA", 5)
	_, err := e.PlaceLimit("sellerHigh", "AAA", order.Sell, 5, 110)
	require.NoError(t, err)
	_, err = e.PlaceLimit("sellerLow", "AAA", order.Sell, 5, 100)
	require.NoError(t, err)

	fund(t, l, "buyer", "RUB", 10000)
	buy, err := e.PlaceMarket("buyer", "AAA", order.Buy, 5)
	require.NoError(t, err)

	assert.Equal(t, order.Executed, buy.Status)
	buyerInst, _ := l.Balance("buyer", "AAA")
	assert.Equal(t, int64(5), buyerInst)

	// the cheaper resting order must have been consumed first
	bids, asks := e.Snapshot("AAA", 10)
	assert.Empty(t, bids)
	require.Len(t, asks, 1)
	assert.Equal(t, int64(110), asks[0].Price)
}

func TestPlaceMarketInsufficientLiquidityCancelsWithNoLedgerEffect(t *testing.T) {
	e, l, _ := newTestEngine(t)
	fund(t, l, "seller", "AAA", 3)
	_, err := e.PlaceLimit("seller", "AAA", order.Sell, 3, 100)
	require.NoError(t, err)

	fund(t, l, "buyer", "RUB", 10000)
	o, err := e.PlaceMarket("buyer", "AAA", order.Buy, 10)
	require.Error(t, err)
	assert.Equal(t, errs.InsufficientLiquidity, errs.KindOf(err))
	assert.Equal(t, order.Cancelled, o.Status)
	assert.Equal(t, int64(10000), l.Available("buyer", "RUB"))
}

func TestCancelRestingOrderUnlocksFunds(t *testing.T) {
	e, l, _ := newTestEngine(t)
	fund(t, l, "buyer", "RUB", 1000)
	o, err := e.PlaceLimit("buyer", "AAA", order.Buy, 10, 50)
	require.NoError(t, err)

	cancelled, err := e.Cancel("buyer", o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Cancelled, cancelled.Status)
	assert.Equal(t, int64(1000), l.Available("buyer", "RUB"))
	assert.True(t, e.BookEmpty("AAA"))
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	e, l, _ := newTestEngine(t)
	fund(t, l, "buyer", "RUB", 1000)
	o, err := e.PlaceLimit("buyer", "AAA", order.Buy, 10, 50)
	require.NoError(t, err)
	_, err = e.Cancel("buyer", o.ID)
	require.NoError(t, err)

	_, err = e.Cancel("buyer", o.ID)
	require.Error(t, err)
	assert.Equal(t, errs.NotCancellable, errs.KindOf(err))
}

func TestCancelAllForInstrumentClearsBook(t *testing.T) {
	e, l, instruments := newTestEngine(t)
	fund(t, l, "buyer", "RUB", 1000)
	fund(t, l, "seller", "AAA", 10)
	_, err := e.PlaceLimit("buyer", "AAA", order.Buy, 5, 50)
	require.NoError(t, err)
	_, err = e.PlaceLimit("seller", "AAA", order.Sell, 5, 200)
	require.NoError(t, err)

	e.CancelAllForInstrument("AAA")

	assert.True(t, e.BookEmpty("AAA"))
	assert.Equal(t, int64(1000), l.Available("buyer", "RUB"))
	assert.Equal(t, int64(10), l.Available("seller", "AAA"))

	require.NoError(t, instruments.Delete("AAA"))
}

func TestPriceTimePriorityFIFOAtSameLevel(t *testing.T) {
	e, l, _ := newTestEngine(t)
	fund(t, l, "first", "AAA", 5)
	fund(t, l, "second", "AAA", 5)
	firstOrder, err := e.PlaceLimit("first", "AAA", order.Sell, 5, 100)
	require.NoError(t, err)
	_, err = e.PlaceLimit("second", "AAA", order.Sell, 5, 100)
	require.NoError(t, err)

	fund(t, l, "buyer", "RUB", 10000)
	_, err = e.PlaceLimit("buyer", "AAA", order.Buy, 5, 100)
	require.NoError(t, err)

	assert.Equal(t, order.Executed, firstOrder.Status)
	bids, asks := e.Snapshot("AAA", 10)
	assert.Empty(t, bids)
	require.Len(t, asks, 1)
	assert.Equal(t, int64(5), asks[0].Qty)
}
