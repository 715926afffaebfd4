// Package ledger maintains per-(user, ticker) balances with available
// and locked partitions, and the atomic operations that move funds
// between them (C1).
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ionex/internal/errs"
)

// rowKey identifies one balance row.
type rowKey struct {
	user   string
	ticker string
}

func (k rowKey) less(o rowKey) bool {
	if k.user != o.user {
		return k.user < o.user
	}
	return k.ticker < o.ticker
}

type row struct {
	mu     sync.Mutex
	amount int64
	locked int64
}

// Ledger is the authoritative store of balances (C1). All mutating
// operations are atomic per call and linearize concurrent access to a
// single (user, ticker) row.
type Ledger struct {
	mu   sync.Mutex
	rows map[rowKey]*row

	maxSettleAttempts int
	settleBackoffUnit time.Duration
}

// New returns an empty Ledger with the default retry policy of
// spec.md §4.2/§5: up to 3 attempts, 100ms*attempt backoff.
func New() *Ledger {
	return NewWithRetryPolicy(3, 100*time.Millisecond)
}

// NewWithRetryPolicy returns an empty Ledger with a caller-supplied
// settle_trade contention policy (internal/config.LedgerConfig).
func NewWithRetryPolicy(maxAttempts int, backoffUnit time.Duration) *Ledger {
	return &Ledger{
		rows:              make(map[rowKey]*row),
		maxSettleAttempts: maxAttempts,
		settleBackoffUnit: backoffUnit,
	}
}

func (l *Ledger) rowFor(k rowKey) *row {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[k]
	if !ok {
		r = &row{}
		l.rows[k] = r
	}
	return r
}

// gc removes a row once both fields have reached zero, per invariant
// B2. It takes the ledger's table lock itself, so the caller must hold
// neither that lock nor the row's own lock.
func (l *Ledger) gc(k rowKey, r *row) {
	if r.amount == 0 && r.locked == 0 {
		l.mu.Lock()
		if cur, ok := l.rows[k]; ok && cur == r {
			delete(l.rows, k)
		}
		l.mu.Unlock()
	}
}

// Balance returns a snapshot of (amount, locked) for (user, ticker).
// Absent rows read as zero.
func (l *Ledger) Balance(user, ticker string) (amount, locked int64) {
	k := rowKey{user, ticker}
	l.mu.Lock()
	r, ok := l.rows[k]
	l.mu.Unlock()
	if !ok {
		return 0, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.amount, r.locked
}

// Available returns amount - locked for (user, ticker).
func (l *Ledger) Available(user, ticker string) int64 {
	amount, locked := l.Balance(user, ticker)
	return amount - locked
}

// AllBalances returns every (ticker -> amount) pair held by user, for
// the balance listing endpoint. Rows whose amount is zero (such as
// those left behind by a failed Lock or Debit) are skipped, so this
// never returns zero entries.
func (l *Ledger) AllBalances(user string) map[string]int64 {
	l.mu.Lock()
	keys := make([]rowKey, 0)
	for k := range l.rows {
		if k.user == user {
			keys = append(keys, k)
		}
	}
	l.mu.Unlock()

	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		r := l.rowFor(k)
		r.mu.Lock()
		if r.amount != 0 {
			out[k.ticker] = r.amount
		}
		r.mu.Unlock()
	}
	return out
}

// Credit increases amount by delta (delta > 0).
func (l *Ledger) Credit(user, ticker string, delta int64) error {
	if delta <= 0 {
		return errs.New(errs.ValidationError, "credit amount must be positive")
	}
	k := rowKey{user, ticker}
	r := l.rowFor(k)
	r.mu.Lock()
	r.amount += delta
	r.mu.Unlock()
	return nil
}

// Debit decreases amount by delta, requiring available >= delta.
func (l *Ledger) Debit(user, ticker string, delta int64) error {
	if delta <= 0 {
		return errs.New(errs.ValidationError, "debit amount must be positive")
	}
	k := rowKey{user, ticker}
	r := l.rowFor(k)
	r.mu.Lock()
	if r.amount-r.locked < delta {
		r.mu.Unlock()
		return errs.New(errs.InsufficientAvailable, "insufficient available balance")
	}
	r.amount -= delta
	r.mu.Unlock()
	l.gc(k, r)
	return nil
}

// Lock reserves delta of available balance for a resting order.
// Implemented as a check-then-mutate under the row's own mutex, so
// two concurrent locks can never both observe sufficient funds.
func (l *Ledger) Lock(user, ticker string, delta int64) error {
	if delta <= 0 {
		return errs.New(errs.ValidationError, "lock amount must be positive")
	}
	k := rowKey{user, ticker}
	r := l.rowFor(k)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.amount-r.locked < delta {
		return errs.New(errs.InsufficientAvailable, "insufficient available balance")
	}
	r.locked += delta
	return nil
}

// Unlock releases delta of previously locked balance.
func (l *Ledger) Unlock(user, ticker string, delta int64) error {
	if delta <= 0 {
		return errs.New(errs.ValidationError, "unlock amount must be positive")
	}
	k := rowKey{user, ticker}
	r := l.rowFor(k)
	r.mu.Lock()
	if r.locked < delta {
		r.mu.Unlock()
		return errs.New(errs.Internal, "unlock exceeds locked balance")
	}
	r.locked -= delta
	r.mu.Unlock()
	l.gc(k, r)
	return nil
}

// ClearUser zeroes out every balance row for user (used by admin user
// deletion, per spec §4.7). Resting orders must already be cancelled
// by the caller.
func (l *Ledger) ClearUser(user string) {
	l.mu.Lock()
	keys := make([]rowKey, 0)
	for k := range l.rows {
		if k.user == user {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		delete(l.rows, k)
	}
	l.mu.Unlock()
}

// SettleTrade is the one indivisible bundle of spec §4.2: it moves
// cash and the traded instrument between buyer and seller as a trade
// commits. lockPrice is the buyer's original per-unit lock basis
// (price improvement is refunded to the buyer's available balance).
func (l *Ledger) SettleTrade(buyer, seller, ticker string, price, lockPrice, qty int64) error {
	if qty <= 0 || price <= 0 || lockPrice <= 0 {
		return errs.New(errs.ValidationError, "settle_trade requires positive price and quantity")
	}

	keys := []rowKey{
		{buyer, instrumentCash},
		{buyer, ticker},
		{seller, ticker},
		{seller, instrumentCash},
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	// Dedup in case buyer/seller trade the cash ticker against itself
	// (never happens in practice since ticker != RUB, but keep the
	// lock set correct regardless).
	dedup := keys[:0:0]
	seen := map[rowKey]bool{}
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			dedup = append(dedup, k)
		}
	}
	keys = dedup

	rows := make([]*row, len(keys))
	byKey := make(map[rowKey]*row, len(keys))
	for i, k := range keys {
		r := l.rowFor(k)
		rows[i] = r
		byKey[k] = r
	}

	buyerCash := byKey[rowKey{buyer, instrumentCash}]
	buyerInst := byKey[rowKey{buyer, ticker}]
	sellerInst := byKey[rowKey{seller, ticker}]
	sellerCash := byKey[rowKey{seller, instrumentCash}]

	for attempt := 1; attempt <= l.maxSettleAttempts; attempt++ {
		if acquireAll(rows) {
			err := settleRows(buyerCash, buyerInst, sellerInst, sellerCash, price, lockPrice, qty)
			releaseAll(rows)
			if err != nil {
				return err
			}
			for i, k := range keys {
				l.gc(k, rows[i])
			}
			return nil
		}
		log.Warn().
			Int("attempt", attempt).
			Str("buyer", buyer).
			Str("seller", seller).
			Str("ticker", ticker).
			Msg("settle_trade lock contention, retrying")
		time.Sleep(l.settleBackoffUnit * time.Duration(attempt))
	}
	return errs.New(errs.Overloaded, "settle_trade: lock contention exhausted retries")
}

const instrumentCash = "RUB"

// acquireAll tries to take every row's lock in order without
// blocking. On failure it releases whatever it already holds so the
// caller can back off and retry.
func acquireAll(rows []*row) bool {
	for i, r := range rows {
		if !r.mu.TryLock() {
			for j := i - 1; j >= 0; j-- {
				rows[j].mu.Unlock()
			}
			return false
		}
	}
	return true
}

func releaseAll(rows []*row) {
	for _, r := range rows {
		r.mu.Unlock()
	}
}

// settleRows performs the four-leg transfer. Every row's mutex must
// already be held by the caller; on any precondition failure no field
// is mutated.
func settleRows(buyerCash, buyerInst, sellerInst, sellerCash *row, price, lockPrice, qty int64) error {
	lockedCost := lockPrice * qty
	actualCost := price * qty

	if buyerCash.locked < lockedCost {
		return errs.New(errs.Internal, "buyer has insufficient locked cash for settlement")
	}
	if buyerCash.amount < actualCost {
		return errs.New(errs.Internal, "buyer has insufficient cash for settlement")
	}
	if sellerInst.locked < qty {
		return errs.New(errs.Internal, "seller has insufficient locked instrument for settlement")
	}
	if sellerInst.amount < qty {
		return errs.New(errs.Internal, "seller has insufficient instrument for settlement")
	}

	buyerCash.locked -= lockedCost
	buyerCash.amount -= actualCost
	buyerInst.amount += qty

	sellerInst.locked -= qty
	sellerInst.amount -= qty
	sellerCash.amount += actualCost

	return nil
}
