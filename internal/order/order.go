// Package order defines the Order type, its lifecycle state machine,
// and an in-memory store keyed by id and by owner (C5).
package order

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"ionex/internal/errs"
)

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// Type distinguishes resting LIMIT orders from MARKET orders, which
// never rest: they fill in full immediately or are rejected.
type Type int

const (
	Limit Type = iota
	Market
)

func (t Type) String() string {
	if t == Market {
		return "MARKET"
	}
	return "LIMIT"
}

// Status is a node in the lifecycle state machine of spec §4.5.
type Status int

const (
	New Status = iota
	PartiallyExecuted
	Executed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case PartiallyExecuted:
		return "PARTIALLY_EXECUTED"
	case Executed:
		return "EXECUTED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "NEW"
	}
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == Executed || s == Cancelled
}

// Order is one order in the system. Price is 0 for MARKET orders.
// Qty, Price and Filled are integer scalars per spec §1 (no
// fractional arithmetic).
type Order struct {
	ID        string
	Owner     string
	Ticker    string
	Side      Side
	Type      Type
	Qty       int64
	Price     int64 // > 0 for LIMIT, 0 for MARKET
	Status    Status
	Filled    int64
	Timestamp int64 // matching engine's monotonic sequence number, assigned at placement
	CreatedAt time.Time

	// LockPrice is the unit price originally locked for a BUY order:
	// Price itself for LIMIT, the worst-case sweep price for MARKET.
	// Unused for SELL orders, which lock instrument units, not cash.
	LockPrice int64

	// mu guards Status and Filled against the matching engine's writer
	// (Fill/Cancel, called under the per-instrument market lock) racing
	// with API reads of a resting order (Snapshot).
	mu sync.Mutex
}

// Remaining is qty - filled.
func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// Resting reports whether the order currently occupies a book slot.
func (o *Order) Resting() bool {
	return o.Type == Limit && (o.Status == New || o.Status == PartiallyExecuted)
}

// Fill bumps filled by qty and transitions status per spec invariant
// O3. It does not touch the book; callers remove fully-filled orders
// from the book themselves.
func (o *Order) Fill(qty int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Filled += qty
	switch {
	case o.Filled >= o.Qty:
		o.Status = Executed
	case o.Filled > 0:
		o.Status = PartiallyExecuted
	}
}

// Cancel transitions a NEW/PARTIALLY_EXECUTED order to CANCELLED.
// Returns NotCancellable if the order is already terminal.
func (o *Order) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Status.Terminal() {
		return errs.New(errs.NotCancellable, "order already in a terminal state")
	}
	o.Status = Cancelled
	return nil
}

// Snapshot is a point-in-time copy of an Order's observable fields. It
// carries no lock, so it may be freely copied, unlike Order itself.
type Snapshot struct {
	ID        string
	Owner     string
	Ticker    string
	Side      Side
	Type      Type
	Qty       int64
	Price     int64
	Status    Status
	Filled    int64
	Timestamp int64
	CreatedAt time.Time
	LockPrice int64
}

// Snapshot returns a consistent, lock-free copy of o's fields, safe to
// read concurrently with Fill/Cancel. API read paths must go through
// Snapshot rather than reading o's fields directly — the matching
// engine only serializes writers via the per-instrument market lock,
// not readers outside that package.
func (o *Order) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		ID:        o.ID,
		Owner:     o.Owner,
		Ticker:    o.Ticker,
		Side:      o.Side,
		Type:      o.Type,
		Qty:       o.Qty,
		Price:     o.Price,
		Status:    o.Status,
		Filled:    o.Filled,
		Timestamp: o.Timestamp,
		CreatedAt: o.CreatedAt,
		LockPrice: o.LockPrice,
	}
}

// LockRequirement returns the (ticker, amount) a LIMIT order must
// lock at entry (invariant O1). MARKET orders are locked by the
// matching engine using the worst-case price discovered at book walk
// time (spec §4.4, open question resolved in DESIGN.md).
func (o *Order) LockRequirement(cashTicker string) (ticker string, amount int64) {
	if o.Side == Buy {
		return cashTicker, o.Price * o.Qty
	}
	return o.Ticker, o.Qty
}

// ResidualLock returns the (ticker, amount) still locked for a
// resting order given its current fill state — used on cancellation.
// For BUY orders it is priced at LockPrice (the basis the order
// actually locked, which for LIMIT equals Price).
func (o *Order) ResidualLock(cashTicker string) (ticker string, amount int64) {
	if o.Side == Buy {
		return cashTicker, o.LockPrice * o.Remaining()
	}
	return o.Ticker, o.Remaining()
}

// Store is the in-memory order repository, indexed by id and by
// owner for the list-orders endpoint.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*Order
	byOwner map[string][]string // owner -> order ids, insertion order
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		byID:    make(map[string]*Order),
		byOwner: make(map[string][]string),
	}
}

// NewOrder builds a fresh Order with a minted id, NEW status, and
// zero fill. It does not insert it into any Store.
func NewOrder(owner, ticker string, side Side, typ Type, qty, price int64) *Order {
	return &Order{
		ID:        uuid.New().String(),
		Owner:     owner,
		Ticker:    ticker,
		Side:      side,
		Type:      typ,
		Qty:       qty,
		Price:     price,
		Status:    New,
		Filled:    0,
		CreatedAt: time.Now(),
		LockPrice: price,
	}
}

// Put inserts or overwrites o in the store.
func (s *Store) Put(o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[o.ID]; !exists {
		s.byOwner[o.Owner] = append(s.byOwner[o.Owner], o.ID)
	}
	s.byID[o.ID] = o
}

// Get looks up an order by id, optionally scoped to an owner.
func (s *Store) Get(id string, owner string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok || (owner != "" && o.Owner != owner) {
		return nil, errs.New(errs.NotFound, "order not found")
	}
	return o, nil
}

// ListByOwner returns every order belonging to owner, oldest first.
func (s *Store) ListByOwner(owner string) []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byOwner[owner]
	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}
