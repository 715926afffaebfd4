package api

import (
	"ionex/internal/instrument"
	"ionex/internal/order"
	"ionex/internal/reports"
	"ionex/internal/trade"
	"ionex/internal/user"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type registerRequest struct {
	Name string `json:"name"`
}

type userResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	APIKey string `json:"api_key,omitempty"`
}

func userToResponse(u *user.User, withKey bool) userResponse {
	r := userResponse{ID: u.ID, Name: u.Name, Role: u.Role.String()}
	if withKey {
		r.APIKey = u.Token
	}
	return r
}

type instrumentResponse struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

func instrumentToResponse(i *instrument.Instrument) instrumentResponse {
	return instrumentResponse{Name: i.Name, Ticker: i.Ticker}
}

type bookLevelResponse struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

type orderBookResponse struct {
	BidLevels []bookLevelResponse `json:"bid_levels"`
	AskLevels []bookLevelResponse `json:"ask_levels"`
}

type transactionResponse struct {
	Ticker    string `json:"ticker"`
	Amount    int64  `json:"amount"`
	Price     int64  `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

func tradeToTransaction(t *trade.Trade) transactionResponse {
	return transactionResponse{
		Ticker:    t.Ticker,
		Amount:    t.Qty * t.Price,
		Price:     t.Price,
		Timestamp: t.Timestamp.Unix(),
	}
}

// orderRequest is the tagged-variant order body of spec.md §6: LIMIT
// requests set Price, MARKET requests omit it (constructed at the API
// edge per spec.md §9's "dynamic polymorphism -> tagged variant" note).
type orderRequest struct {
	Direction string `json:"direction"`
	Ticker    string `json:"ticker"`
	Qty       int64  `json:"qty"`
	Price     *int64 `json:"price,omitempty"`
}

type placeOrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type orderResponse struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	UserID    string            `json:"user_id"`
	Timestamp int64             `json:"timestamp"`
	Filled    int64             `json:"filled"`
	Body      orderBodyResponse `json:"body"`
}

type orderBodyResponse struct {
	Direction string `json:"direction"`
	Ticker    string `json:"ticker"`
	Qty       int64  `json:"qty"`
	Price     *int64 `json:"price,omitempty"`
}

func orderToResponse(o *order.Order) orderResponse {
	snap := o.Snapshot()
	body := orderBodyResponse{
		Direction: snap.Side.String(),
		Ticker:    snap.Ticker,
		Qty:       snap.Qty,
	}
	if snap.Type == order.Limit {
		p := snap.Price
		body.Price = &p
	}
	return orderResponse{
		ID:        snap.ID,
		Status:    snap.Status.String(),
		UserID:    snap.Owner,
		Timestamp: snap.Timestamp,
		Filled:    snap.Filled,
		Body:      body,
	}
}

type admitInstrumentRequest struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

type balanceMoveRequest struct {
	UserID string `json:"user_id"`
	Ticker string `json:"ticker"`
	Amount int64  `json:"amount"`
}

type reportHandleResponse struct {
	ID          string `json:"id"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	Ready       bool   `json:"ready"`
	ObjectKey   string `json:"object_key,omitempty"`
	RowCount    int    `json:"row_count"`
	GeneratedAt int64  `json:"generated_at,omitempty"`
}

func reportToResponse(h *reports.ReportHandle) reportHandleResponse {
	r := reportHandleResponse{
		ID:       h.ID,
		Year:     h.Year,
		Month:    h.Month,
		Ready:    h.Ready,
		RowCount: h.RowCount,
	}
	if h.Ready {
		r.ObjectKey = h.ObjectKey
		r.GeneratedAt = h.GeneratedAt.Unix()
	}
	return r
}
