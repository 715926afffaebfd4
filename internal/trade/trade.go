// Package trade is the append-only trade tape (C6).
package trade

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trade records one matching event. One matching event produces
// exactly one Trade.
type Trade struct {
	ID          string
	Ticker      string
	Qty         int64
	Price       int64
	BuyOrderID  string
	SellOrderID string
	Timestamp   time.Time
}

// Tape is the append-only trade log, indexed by instrument.
type Tape struct {
	mu      sync.RWMutex
	byTicker map[string][]*Trade
}

// NewTape returns an empty Tape.
func NewTape() *Tape {
	return &Tape{byTicker: make(map[string][]*Trade)}
}

// Append records a new trade. The caller supplies qty/price/order ids
// already validated by the matching engine.
func (t *Tape) Append(ticker string, qty, price int64, buyOrderID, sellOrderID string) *Trade {
	tr := &Trade{
		ID:          uuid.New().String(),
		Ticker:      ticker,
		Qty:         qty,
		Price:       price,
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		Timestamp:   time.Now(),
	}
	t.mu.Lock()
	t.byTicker[ticker] = append(t.byTicker[ticker], tr)
	t.mu.Unlock()
	return tr
}

// All returns every trade recorded for ticker, oldest first.
func (t *Tape) All(ticker string) []*Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	all := t.byTicker[ticker]
	out := make([]*Trade, len(all))
	copy(out, all)
	return out
}

// Recent returns up to limit trades for ticker, most recent first.
func (t *Tape) Recent(ticker string, limit int) []*Trade {
	if limit <= 0 {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	all := t.byTicker[ticker]
	n := len(all)
	if n == 0 {
		return nil
	}
	if limit > n {
		limit = n
	}
	out := make([]*Trade, limit)
	for i := 0; i < limit; i++ {
		out[i] = all[n-1-i]
	}
	return out
}
