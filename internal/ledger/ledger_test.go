package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionex/internal/errs"
)

func TestCreditDebit(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("alice", "RUB", 1000))
	amount, locked := l.Balance("alice", "RUB")
	assert.Equal(t, int64(1000), amount)
	assert.Equal(t, int64(0), locked)

	require.NoError(t, l.Debit("alice", "RUB", 400))
	amount, _ = l.Balance("alice", "RUB")
	assert.Equal(t, int64(600), amount)

	err := l.Debit("alice", "RUB", 10000)
	require.Error(t, err)
	assert.Equal(t, errs.InsufficientAvailable, errs.KindOf(err))
}

func TestLockUnlockRespectsAvailable(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("alice", "RUB", 100))

	require.NoError(t, l.Lock("alice", "RUB", 100))
	assert.Equal(t, int64(0), l.Available("alice", "RUB"))

	err := l.Lock("alice", "RUB", 1)
	require.Error(t, err)
	assert.Equal(t, errs.InsufficientAvailable, errs.KindOf(err))

	require.NoError(t, l.Unlock("alice", "RUB", 40))
	assert.Equal(t, int64(40), l.Available("alice", "RUB"))
}

func TestZeroRowIsGarbageCollected(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("alice", "RUB", 50))
	require.NoError(t, l.Debit("alice", "RUB", 50))

	amount, locked := l.Balance("alice", "RUB")
	assert.Zero(t, amount)
	assert.Zero(t, locked)
	assert.Empty(t, l.AllBalances("alice"))
}

func TestSettleTradeMovesAllFourLegs(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("buyer", "RUB", 1000))
	require.NoError(t, l.Credit("seller", "AAA", 10))

	require.NoError(t, l.Lock("buyer", "RUB", 500))
	require.NoError(t, l.Lock("seller", "AAA", 10))

	require.NoError(t, l.SettleTrade("buyer", "seller", "AAA", 50, 50, 10))

	buyerCash, buyerCashLocked := l.Balance("buyer", "RUB")
	assert.Equal(t, int64(500), buyerCash)
	assert.Equal(t, int64(0), buyerCashLocked)

	buyerInst, _ := l.Balance("buyer", "AAA")
	assert.Equal(t, int64(10), buyerInst)

	sellerInst, sellerInstLocked := l.Balance("seller", "AAA")
	assert.Equal(t, int64(0), sellerInst)
	assert.Equal(t, int64(0), sellerInstLocked)

	sellerCash, _ := l.Balance("seller", "RUB")
	assert.Equal(t, int64(500), sellerCash)
}

func TestSettleTradeRefundsPriceImprovement(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("buyer", "RUB", 1000))
	require.NoError(t, l.Credit("seller", "AAA", 10))
	require.NoError(t, l.Lock("buyer", "RUB", 600)) // locked at 60/unit
	require.NoError(t, l.Lock("seller", "AAA", 10))

	// executes at 50/unit, better than the buyer's 60 lock basis
	require.NoError(t, l.SettleTrade("buyer", "seller", "AAA", 50, 60, 10))

	buyerCash, buyerCashLocked := l.Balance("buyer", "RUB")
	assert.Equal(t, int64(0), buyerCashLocked)
	assert.Equal(t, int64(500), buyerCash) // 1000 - 500 actual cost
}

func TestSettleTradeConcurrentNoDoubleSpend(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("buyer", "RUB", 100000))
	require.NoError(t, l.Credit("sellerA", "AAA", 100))
	require.NoError(t, l.Credit("sellerB", "BBB", 100))
	require.NoError(t, l.Lock("buyer", "RUB", 100000))
	require.NoError(t, l.Lock("sellerA", "AAA", 100))
	require.NoError(t, l.Lock("sellerB", "BBB", 100))

	var wg sync.WaitGroup
	errCh := make(chan error, 200)
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errCh <- l.SettleTrade("buyer", "sellerA", "AAA", 10, 10, 1)
		}()
		go func() {
			defer wg.Done()
			errCh <- l.SettleTrade("buyer", "sellerB", "BBB", 10, 10, 1)
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		assert.NoError(t, err)
	}

	buyerAAA, _ := l.Balance("buyer", "AAA")
	buyerBBB, _ := l.Balance("buyer", "BBB")
	assert.Equal(t, int64(100), buyerAAA)
	assert.Equal(t, int64(100), buyerBBB)

	buyerCash, buyerLocked := l.Balance("buyer", "RUB")
	assert.Equal(t, int64(98000), buyerCash)
	assert.Equal(t, int64(98000), buyerLocked)
}
