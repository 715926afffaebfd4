// Package core wires the ledger, registries, trade tape, and matching
// engine into the single explicit handle spec.md §9 calls for in place
// of ambient global state. Every operation the HTTP API (A4) exposes
// is a method on Core.
package core

import (
	tomb "gopkg.in/tomb.v2"

	"ionex/internal/book"
	"ionex/internal/config"
	"ionex/internal/errs"
	"ionex/internal/instrument"
	"ionex/internal/ledger"
	"ionex/internal/matching"
	"ionex/internal/order"
	"ionex/internal/reports"
	"ionex/internal/trade"
	"ionex/internal/user"
)

// Core owns every subsystem and is the sole entry point the API layer
// calls into. There is no package-level mutable state anywhere else.
type Core struct {
	Ledger      *ledger.Ledger
	Instruments *instrument.Registry
	Users       *user.Registry
	Orders      *order.Store
	Trades      *trade.Tape
	Matching    *matching.Engine
	Reports     *reports.Service
}

// New builds a fresh Core with an empty ledger tuned by ledgerCfg, an
// instrument registry pre-seeded with RUB, and a report service backed
// by store.
func New(ledgerCfg config.LedgerConfig, reportWorkers int, store reports.ObjectStore) *Core {
	l := ledger.NewWithRetryPolicy(ledgerCfg.MaxSettleAttempts, ledgerCfg.SettleBackoffUnit)
	instruments := instrument.New()
	users := user.New()
	orders := order.NewStore()
	tape := trade.NewTape()
	engine := matching.New(l, instruments, orders, tape)

	c := &Core{
		Ledger:      l,
		Instruments: instruments,
		Users:       users,
		Orders:      orders,
		Trades:      tape,
		Matching:    engine,
	}
	c.Reports = reports.NewService(store, c.reportRows, reportWorkers)
	return c
}

// StartReports runs the report worker pool under t.
func (c *Core) StartReports(t *tomb.Tomb) {
	c.Reports.Start(t)
}

// reportRows collects every trade belonging to userID's orders within
// (year, month), shaped as reports.Row. It is passed to reports.Service
// as a RowSource closure so internal/reports never needs to import
// internal/core.
func (c *Core) reportRows(userID string, year, month int) ([]reports.Row, error) {
	var rows []reports.Row
	for _, o := range c.Orders.ListByOwner(userID) {
		for _, tr := range c.Trades.All(o.Ticker) {
			if tr.BuyOrderID != o.ID && tr.SellOrderID != o.ID {
				continue
			}
			if tr.Timestamp.Year() != year || int(tr.Timestamp.Month()) != month {
				continue
			}
			side := order.Sell.String()
			if tr.BuyOrderID == o.ID {
				side = order.Buy.String()
			}
			rows = append(rows, reports.Row{
				TradeID:     tr.ID,
				OrderID:     o.ID,
				Instrument:  tr.Ticker,
				Side:        side,
				Quantity:    tr.Qty,
				Price:       tr.Price,
				TotalAmount: tr.Qty * tr.Price,
				ExecutedAt:  tr.Timestamp,
			})
		}
	}
	return rows, nil
}

// GenerateReport requests (or returns the existing) monthly report for
// userID, enqueued onto the report worker pool (A7).
func (c *Core) GenerateReport(userID string, year, month int) (*reports.ReportHandle, error) {
	return c.Reports.Generate(userID, year, month)
}

// ListReports returns every report handle requested by userID.
func (c *Core) ListReports(userID string) []*reports.ReportHandle {
	return c.Reports.List(userID)
}

// Authenticate resolves a bearer token to its User, or Unauthenticated.
func (c *Core) Authenticate(token string) (*user.User, error) {
	if token == "" {
		return nil, errs.New(errs.Unauthenticated, "missing token")
	}
	return c.Users.LookupByToken(token)
}

// RequireAdmin resolves a bearer token and additionally requires
// ADMIN role, else Forbidden.
func (c *Core) RequireAdmin(token string) (*user.User, error) {
	u, err := c.Authenticate(token)
	if err != nil {
		return nil, err
	}
	if u.Role != user.RoleAdmin {
		return nil, errs.New(errs.Forbidden, "admin role required")
	}
	return u, nil
}

// Register creates a new USER-role identity (§4.7, public endpoint).
func (c *Core) Register(name string) (*user.User, error) {
	return c.Users.Register(name)
}

// ListInstruments lists every admitted instrument (public endpoint).
func (c *Core) ListInstruments() []*instrument.Instrument {
	return c.Instruments.List()
}

// OrderBookSnapshot returns the top depth levels per side for ticker.
// Returns NotFound if the instrument is unknown or the book is empty
// on both sides, matching spec.md §6's "404 if instrument unknown or
// no resting orders".
func (c *Core) OrderBookSnapshot(ticker string, depth int) (bids, asks []book.Level, err error) {
	if _, err := c.Instruments.Lookup(ticker); err != nil {
		return nil, nil, err
	}
	bids, asks = c.Matching.Snapshot(ticker, depth)
	if len(bids) == 0 && len(asks) == 0 {
		return nil, nil, errs.New(errs.NotFound, "no resting orders for "+ticker)
	}
	return bids, asks, nil
}

// RecentTrades returns up to limit trades for ticker, most recent
// first.
func (c *Core) RecentTrades(ticker string, limit int) []*trade.Trade {
	return c.Trades.Recent(ticker, limit)
}

// Balance returns every (ticker -> amount) pair held by a user.
func (c *Core) Balance(userID string) map[string]int64 {
	return c.Ledger.AllBalances(userID)
}

// PlaceLimitOrder places a LIMIT order on behalf of owner.
func (c *Core) PlaceLimitOrder(owner, ticker string, side order.Side, qty, price int64) (*order.Order, error) {
	return c.Matching.PlaceLimit(owner, ticker, side, qty, price)
}

// PlaceMarketOrder places a MARKET order on behalf of owner.
func (c *Core) PlaceMarketOrder(owner, ticker string, side order.Side, qty int64) (*order.Order, error) {
	return c.Matching.PlaceMarket(owner, ticker, side, qty)
}

// ListOrders returns every order owned by owner.
func (c *Core) ListOrders(owner string) []*order.Order {
	return c.Orders.ListByOwner(owner)
}

// GetOrder returns one order, scoped to owner.
func (c *Core) GetOrder(owner, id string) (*order.Order, error) {
	return c.Orders.Get(id, owner)
}

// CancelOrder cancels an order owned by owner.
func (c *Core) CancelOrder(owner, id string) (*order.Order, error) {
	return c.Matching.Cancel(owner, id)
}

// AdminAdmitInstrument admits a new instrument (C8).
func (c *Core) AdminAdmitInstrument(ticker, name string) (*instrument.Instrument, error) {
	return c.Instruments.Admit(ticker, name)
}

// AdminDeleteInstrument removes an instrument from the registry, then
// cancels its resting orders (§4.1).
func (c *Core) AdminDeleteInstrument(ticker string) error {
	if err := c.Instruments.Delete(ticker); err != nil {
		return err
	}
	c.Matching.CancelAllForInstrument(ticker)
	return nil
}

// AdminDeposit credits a user's balance (C8). Returns NotFound if
// ticker is not a registered instrument (RUB included, admitted at
// initialization), matching the original's admin balance ops
// resolving the instrument before touching the ledger.
func (c *Core) AdminDeposit(userID, ticker string, amount int64) error {
	if _, err := c.Instruments.Lookup(ticker); err != nil {
		return err
	}
	return c.Ledger.Credit(userID, ticker, amount)
}

// AdminWithdraw debits a user's balance (C8). Returns NotFound if
// ticker is not a registered instrument.
func (c *Core) AdminWithdraw(userID, ticker string, amount int64) error {
	if _, err := c.Instruments.Lookup(ticker); err != nil {
		return err
	}
	return c.Ledger.Debit(userID, ticker, amount)
}

// AdminDeleteUser removes a user, cancelling their resting orders and
// clearing their balances first (§4.7).
func (c *Core) AdminDeleteUser(userID string) (*user.User, error) {
	u, err := c.Users.LookupByID(userID)
	if err != nil {
		return nil, err
	}
	c.Matching.CancelAllForUser(userID)
	c.Ledger.ClearUser(userID)
	return c.Users.Delete(u.ID)
}
