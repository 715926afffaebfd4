// Package matching implements the matching engine: it executes limit
// and market orders against the opposite book under price-time
// priority, drives order and counter-order state transitions, and
// invokes the ledger to settle trades (C4).
package matching

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"ionex/internal/book"
	"ionex/internal/errs"
	"ionex/internal/instrument"
	"ionex/internal/ledger"
	"ionex/internal/order"
	"ionex/internal/trade"
)

// market holds the single serializing lock spec §5 requires per
// instrument, plus that instrument's book.
type market struct {
	mu   sync.Mutex
	book *book.Book
}

// Engine drives matching for every admitted instrument. Operations on
// distinct instruments run in parallel; operations on the same
// instrument are linearized by that instrument's market mutex.
type Engine struct {
	ledger      *ledger.Ledger
	instruments *instrument.Registry
	orders      *order.Store
	tape        *trade.Tape

	mu      sync.Mutex
	markets map[string]*market

	clock int64 // monotonic sequence counter, +1 per order, strictly increasing
}

// New builds an Engine wired to the given subsystems.
func New(l *ledger.Ledger, instruments *instrument.Registry, orders *order.Store, tape *trade.Tape) *Engine {
	return &Engine{
		ledger:      l,
		instruments: instruments,
		orders:      orders,
		tape:        tape,
		markets:     make(map[string]*market),
	}
}

func (e *Engine) marketFor(ticker string) *market {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[ticker]
	if !ok {
		m = &market{book: book.New()}
		e.markets[ticker] = m
	}
	return m
}

func (e *Engine) nextTimestamp() int64 {
	return atomic.AddInt64(&e.clock, 1)
}

func opposite(s order.Side) order.Side {
	if s == order.Buy {
		return order.Sell
	}
	return order.Buy
}

// crosses reports whether an incoming order at limitPrice is eligible
// to trade against a resting level at levelPrice.
func crosses(incoming order.Side, limitPrice, levelPrice int64) bool {
	if incoming == order.Buy {
		return levelPrice <= limitPrice
	}
	return levelPrice >= limitPrice
}

// PlaceLimit implements the limit order flow of spec §4.4.
func (e *Engine) PlaceLimit(owner, ticker string, side order.Side, qty, price int64) (*order.Order, error) {
	if qty <= 0 {
		return nil, errs.New(errs.ValidationError, "qty must be positive")
	}
	if price <= 0 {
		return nil, errs.New(errs.ValidationError, "price must be positive for a LIMIT order")
	}
	if _, err := e.instruments.Lookup(ticker); err != nil {
		return nil, err
	}

	o := order.NewOrder(owner, ticker, side, order.Limit, qty, price)

	lockTicker, lockAmount := o.LockRequirement(instrument.RUB)
	if err := e.ledger.Lock(owner, lockTicker, lockAmount); err != nil {
		return nil, err
	}

	m := e.marketFor(ticker)
	m.mu.Lock()
	defer m.mu.Unlock()

	o.Timestamp = e.nextTimestamp()
	e.orders.Put(o)

	if err := e.sweep(m, ticker, o); err != nil {
		// Partial fills already committed are kept; only the
		// remainder's disposition and the return value are affected.
		if o.Remaining() > 0 && !o.Status.Terminal() {
			o.Status = statusForFill(o)
			m.book.Enqueue(o)
		}
		return o, err
	}

	if o.Remaining() > 0 {
		o.Status = statusForFill(o)
		m.book.Enqueue(o)
	}
	return o, nil
}

func statusForFill(o *order.Order) order.Status {
	if o.Filled == 0 {
		return order.New
	}
	return order.PartiallyExecuted
}

// sweep walks the opposite side of m.book while the incoming order
// crosses, settling trades at the resting (maker) price. It mutates o
// and every resting order it touches in place. The caller must hold
// m.mu.
func (e *Engine) sweep(m *market, ticker string, o *order.Order) error {
	opp := opposite(o.Side)

	for o.Remaining() > 0 {
		lvl, ok := m.book.Best(opp)
		if !ok || !crosses(o.Side, o.Price, lvl.Price) {
			return nil
		}

		resting := lvl.Orders[0]
		tradeQty := min64(o.Remaining(), resting.Remaining())
		execPrice := resting.Price

		var buyerID, sellerID, buyOrderID, sellOrderID string
		var buyerLockPrice int64
		if o.Side == order.Buy {
			buyerID, sellerID = o.Owner, resting.Owner
			buyOrderID, sellOrderID = o.ID, resting.ID
			buyerLockPrice = o.LockPrice
		} else {
			buyerID, sellerID = resting.Owner, o.Owner
			buyOrderID, sellOrderID = resting.ID, o.ID
			buyerLockPrice = resting.LockPrice
		}

		if err := e.ledger.SettleTrade(buyerID, sellerID, ticker, execPrice, buyerLockPrice, tradeQty); err != nil {
			log.Error().Err(err).Str("ticker", ticker).Msg("settle_trade failed mid-sweep")
			return err
		}

		o.Fill(tradeQty)
		resting.Fill(tradeQty)
		e.tape.Append(ticker, tradeQty, execPrice, buyOrderID, sellOrderID)

		if resting.Remaining() == 0 {
			m.book.Remove(resting.ID)
		}
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// PlaceMarket implements the market order flow of spec §4.4.
func (e *Engine) PlaceMarket(owner, ticker string, side order.Side, qty int64) (*order.Order, error) {
	if qty <= 0 {
		return nil, errs.New(errs.ValidationError, "qty must be positive")
	}
	if _, err := e.instruments.Lookup(ticker); err != nil {
		return nil, err
	}

	o := order.NewOrder(owner, ticker, side, order.Market, qty, 0)
	m := e.marketFor(ticker)
	m.mu.Lock()
	defer m.mu.Unlock()

	opp := opposite(side)
	available, worstPrice, err := e.previewLiquidity(m, opp, qty)
	if err != nil {
		return nil, err
	}
	if available < qty {
		o.Status = order.Cancelled
		e.orders.Put(o)
		return o, errs.New(errs.InsufficientLiquidity, "insufficient resting liquidity to fill market order")
	}

	lockTicker := ticker
	lockAmount := qty
	if side == order.Buy {
		lockTicker = instrument.RUB
		lockAmount = worstPrice * qty
		o.LockPrice = worstPrice
	}
	if err := e.ledger.Lock(owner, lockTicker, lockAmount); err != nil {
		return nil, err
	}

	o.Timestamp = e.nextTimestamp()
	e.orders.Put(o)

	if err := e.sweepMarket(m, ticker, o); err != nil {
		if o.Remaining() > 0 {
			e.cancelResidual(o, lockTicker)
		}
		return o, err
	}

	// Defensive: spec §4.4 notes this should be unreachable given the
	// liquidity check above, but market orders never rest.
	if o.Remaining() > 0 {
		e.cancelResidual(o, lockTicker)
	}
	return o, nil
}

// previewLiquidity scans the entire opposite side of m.book without
// mutating it, returning total available quantity and the worst unit
// price among every candidate order on that side — not just the ones
// a sweep would actually consume. Spec §4.4 step 2 defines
// worst_unit_price as the max price over all matching candidates
// (original_source/app/crud/orders.py process_market_order computes
// max_price over the full matching_orders set, not a qty-bounded
// prefix of it), so the scan never stops early once qty is covered.
func (e *Engine) previewLiquidity(m *market, side order.Side, qty int64) (available, worstPrice int64, err error) {
	ls := m.book.Bids
	if side == order.Sell {
		ls = m.book.Asks
	}

	var total int64
	var worst int64
	ls.Scan(func(lvl *book.PriceLevel) bool {
		for _, o := range lvl.Orders {
			total += o.Remaining()
		}
		worst = lvl.Price
		return true
	})
	return total, worst, nil
}

// sweepMarket behaves like sweep but for an incoming MARKET order: it
// has no limit price, so it crosses every level until qty is filled
// (liquidity already verified by the caller).
func (e *Engine) sweepMarket(m *market, ticker string, o *order.Order) error {
	opp := opposite(o.Side)

	for o.Remaining() > 0 {
		lvl, ok := m.book.Best(opp)
		if !ok {
			return nil
		}

		resting := lvl.Orders[0]
		tradeQty := min64(o.Remaining(), resting.Remaining())
		execPrice := resting.Price

		var buyerID, sellerID, buyOrderID, sellOrderID string
		var buyerLockPrice int64
		if o.Side == order.Buy {
			buyerID, sellerID = o.Owner, resting.Owner
			buyOrderID, sellOrderID = o.ID, resting.ID
			buyerLockPrice = o.LockPrice
		} else {
			buyerID, sellerID = resting.Owner, o.Owner
			buyOrderID, sellOrderID = resting.ID, o.ID
			buyerLockPrice = resting.LockPrice
		}

		if err := e.ledger.SettleTrade(buyerID, sellerID, ticker, execPrice, buyerLockPrice, tradeQty); err != nil {
			log.Error().Err(err).Str("ticker", ticker).Msg("settle_trade failed mid-sweep (market)")
			return err
		}

		o.Fill(tradeQty)
		resting.Fill(tradeQty)
		e.tape.Append(ticker, tradeQty, execPrice, buyOrderID, sellOrderID)

		if resting.Remaining() == 0 {
			m.book.Remove(resting.ID)
		}
	}
	return nil
}

// cancelResidual unlocks whatever remains locked for a market order
// that could not be fully filled and marks it CANCELLED. Market
// orders never rest (invariant O2).
func (e *Engine) cancelResidual(o *order.Order, lockTicker string) {
	residual := o.Remaining()
	if o.Side == order.Buy {
		if err := e.ledger.Unlock(o.Owner, lockTicker, o.LockPrice*residual); err != nil {
			log.Error().Err(err).Str("order", o.ID).Msg("failed to unlock residual market-order funds")
		}
	} else {
		if err := e.ledger.Unlock(o.Owner, lockTicker, residual); err != nil {
			log.Error().Err(err).Str("order", o.ID).Msg("failed to unlock residual market-order units")
		}
	}
	if !o.Status.Terminal() {
		o.Status = order.Cancelled
	}
}

// Cancel cancels a resting order owned by owner (an empty owner skips
// the ownership check).
func (e *Engine) Cancel(owner, orderID string) (*order.Order, error) {
	o, err := e.orders.Get(orderID, owner)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, errs.New(errs.NotCancellable, "order already in a terminal state")
	}

	m := e.marketFor(o.Ticker)
	m.mu.Lock()
	defer m.mu.Unlock()

	return e.cancelLocked(m, o)
}

// cancelLocked performs the cancellation with m.mu already held.
func (e *Engine) cancelLocked(m *market, o *order.Order) (*order.Order, error) {
	if o.Status.Terminal() {
		return nil, errs.New(errs.NotCancellable, "order already in a terminal state")
	}

	ticker, amount := o.ResidualLock(instrument.RUB)
	if amount > 0 {
		if err := e.ledger.Unlock(o.Owner, ticker, amount); err != nil {
			return nil, err
		}
	}
	m.book.Remove(o.ID)
	if err := o.Cancel(); err != nil {
		return nil, err
	}
	return o, nil
}

// CancelAllForUser cancels every NEW/PARTIALLY_EXECUTED order owned
// by owner, releasing their locks. Used by admin user deletion (C7).
func (e *Engine) CancelAllForUser(owner string) {
	for _, o := range e.orders.ListByOwner(owner) {
		if o.Status.Terminal() {
			continue
		}
		m := e.marketFor(o.Ticker)
		m.mu.Lock()
		_, _ = e.cancelLocked(m, o)
		m.mu.Unlock()
	}
}

// CancelAllForInstrument cancels every resting order on ticker,
// releasing their locks. Used by instrument deletion (C2).
func (e *Engine) CancelAllForInstrument(ticker string) {
	m := e.marketFor(ticker)
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, lvl := range collectLevels(m.book.Bids) {
		cancelLevel(e, m, lvl)
	}
	for _, lvl := range collectLevels(m.book.Asks) {
		cancelLevel(e, m, lvl)
	}
}

func collectLevels(ls interface {
	Scan(func(*book.PriceLevel) bool)
}) []*book.PriceLevel {
	var out []*book.PriceLevel
	ls.Scan(func(lvl *book.PriceLevel) bool {
		out = append(out, lvl)
		return true
	})
	return out
}

func cancelLevel(e *Engine, m *market, lvl *book.PriceLevel) {
	// Copy first: cancelLocked mutates m.book, which would otherwise
	// invalidate the slice we're iterating.
	orders := append([]*order.Order(nil), lvl.Orders...)
	for _, o := range orders {
		_, _ = e.cancelLocked(m, o)
	}
}

// Snapshot returns the aggregated L2 view of ticker's book, up to
// depth levels per side.
func (e *Engine) Snapshot(ticker string, depth int) (bids, asks []book.Level) {
	m := e.marketFor(ticker)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Snapshot(depth)
}

// BookEmpty reports whether ticker currently has no resting orders.
func (e *Engine) BookEmpty(ticker string) bool {
	m := e.marketFor(ticker)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Empty()
}
