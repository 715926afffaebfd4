// Package book implements the per-instrument bid/ask price-level
// structure: FIFO within a level, price priority across levels, and
// L2 snapshots (C3).
package book

import (
	"github.com/tidwall/btree"

	"ionex/internal/order"
)

// PriceLevel groups every resting order at one price, oldest first.
type PriceLevel struct {
	Price  int64
	Orders []*order.Order
}

type levels = btree.BTreeG[*PriceLevel]

// Book is the order book for a single instrument. Only resting LIMIT
// orders in status NEW or PARTIALLY_EXECUTED ever appear here.
type Book struct {
	Bids *levels // sorted price desc, time asc within a level
	Asks *levels // sorted price asc, time asc within a level

	byID map[string]*bookEntry
}

type bookEntry struct {
	side  order.Side
	level *PriceLevel
}

// New returns an empty Book.
func New() *Book {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price > b.Price
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price < b.Price
	})
	return &Book{
		Bids: bids,
		Asks: asks,
		byID: make(map[string]*bookEntry),
	}
}

func (b *Book) levelsFor(side order.Side) *levels {
	if side == order.Buy {
		return b.Bids
	}
	return b.Asks
}

// Enqueue places a resting LIMIT order on the book, FIFO within its
// price level. o.Timestamp must already be set.
func (b *Book) Enqueue(o *order.Order) {
	ls := b.levelsFor(o.Side)
	lvl, ok := ls.Get(&PriceLevel{Price: o.Price})
	if !ok {
		lvl = &PriceLevel{Price: o.Price}
		ls.Set(lvl)
	}
	lvl.Orders = append(lvl.Orders, o)
	b.byID[o.ID] = &bookEntry{side: o.Side, level: lvl}
}

// Remove takes a resting order off the book (cancel, full fill, or
// instrument delisting). No-op if the order is not resting.
func (b *Book) Remove(id string) {
	entry, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)

	ls := b.levelsFor(entry.side)
	for i, o := range entry.level.Orders {
		if o.ID == id {
			entry.level.Orders = append(entry.level.Orders[:i], entry.level.Orders[i+1:]...)
			break
		}
	}
	if len(entry.level.Orders) == 0 {
		ls.Delete(entry.level)
	}
}

// Best returns the best (first) price level on side, if any.
func (b *Book) Best(side order.Side) (*PriceLevel, bool) {
	return b.levelsFor(side).Min()
}

// Level is one aggregated L2 row.
type Level struct {
	Price int64
	Qty   int64
}

// Snapshot returns up to depth aggregated price levels per side. The
// caller (matching.Engine) is responsible for holding the
// instrument's matching mutex for the duration of the call so bid and
// ask reads are not torn relative to concurrent mutation.
func (b *Book) Snapshot(depth int) (bids, asks []Level) {
	return aggregate(b.Bids, depth), aggregate(b.Asks, depth)
}

func aggregate(ls *levels, depth int) []Level {
	out := make([]Level, 0, depth)
	ls.Scan(func(lvl *PriceLevel) bool {
		var qty int64
		for _, o := range lvl.Orders {
			qty += o.Remaining()
		}
		if qty > 0 {
			out = append(out, Level{Price: lvl.Price, Qty: qty})
		}
		return len(out) < depth
	})
	if len(out) > depth {
		out = out[:depth]
	}
	return out
}

// Empty reports whether the book has no resting orders on either
// side.
func (b *Book) Empty() bool {
	return b.Bids.Len() == 0 && b.Asks.Len() == 0
}
