// Package api implements the HTTP JSON surface of spec.md §6: public,
// authenticated, and admin route groups over a core.Core handle.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"ionex/internal/core"
	"ionex/internal/errs"
	"ionex/internal/order"
)

const (
	defaultBookDepth = 10
	maxBookDepth     = 25
	defaultTxLimit   = 10
	maxTxLimit       = 25
)

// Handler serves every route in spec.md §6 over a single core.Core.
type Handler struct {
	core *core.Core
}

// NewHandler returns a Handler wired to c.
func NewHandler(c *core.Core) *Handler {
	return &Handler{core: c}
}

// Router builds the complete gorilla/mux router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	pub := api.PathPrefix("/public").Subrouter()
	pub.HandleFunc("/register", h.register).Methods(http.MethodPost)
	pub.HandleFunc("/instrument", h.listInstruments).Methods(http.MethodGet)
	pub.HandleFunc("/orderbook/{ticker}", h.orderBook).Methods(http.MethodGet)
	pub.HandleFunc("/transactions/{ticker}", h.transactions).Methods(http.MethodGet)

	api.HandleFunc("/balance", h.auth(h.balance)).Methods(http.MethodGet)
	api.HandleFunc("/order", h.auth(h.placeOrder)).Methods(http.MethodPost)
	api.HandleFunc("/order", h.auth(h.listOrders)).Methods(http.MethodGet)
	api.HandleFunc("/order/{id}", h.auth(h.getOrder)).Methods(http.MethodGet)
	api.HandleFunc("/order/{id}", h.auth(h.cancelOrder)).Methods(http.MethodDelete)
	api.HandleFunc("/reports/{year}/{month}", h.auth(h.generateReport)).Methods(http.MethodPost)
	api.HandleFunc("/reports", h.auth(h.listReports)).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/instrument", h.admin(h.admitInstrument)).Methods(http.MethodPost)
	admin.HandleFunc("/instrument/{ticker}", h.admin(h.deleteInstrument)).Methods(http.MethodDelete)
	admin.HandleFunc("/balance/deposit", h.admin(h.deposit)).Methods(http.MethodPost)
	admin.HandleFunc("/balance/withdraw", h.admin(h.withdraw)).Methods(http.MethodPost)
	admin.HandleFunc("/user/{user_id}", h.admin(h.deleteUser)).Methods(http.MethodDelete)

	return r
}

// --- public ---

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.core.Register(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(u, true))
}

func (h *Handler) listInstruments(w http.ResponseWriter, r *http.Request) {
	insts := h.core.ListInstruments()
	out := make([]instrumentResponse, 0, len(insts))
	for _, i := range insts {
		out = append(out, instrumentToResponse(i))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) orderBook(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	depth := clampLimit(r.URL.Query().Get("limit"), defaultBookDepth, maxBookDepth)

	bids, asks, err := h.core.OrderBookSnapshot(ticker, depth)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := orderBookResponse{
		BidLevels: make([]bookLevelResponse, 0, len(bids)),
		AskLevels: make([]bookLevelResponse, 0, len(asks)),
	}
	for _, l := range bids {
		resp.BidLevels = append(resp.BidLevels, bookLevelResponse{Price: l.Price, Qty: l.Qty})
	}
	for _, l := range asks {
		resp.AskLevels = append(resp.AskLevels, bookLevelResponse{Price: l.Price, Qty: l.Qty})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	limit := clampLimit(r.URL.Query().Get("limit"), defaultTxLimit, maxTxLimit)

	trades := h.core.RecentTrades(ticker, limit)
	out := make([]transactionResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeToTransaction(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- authenticated ---

func (h *Handler) balance(w http.ResponseWriter, r *http.Request, u *authedUser) {
	writeJSON(w, http.StatusOK, h.core.Balance(u.ID))
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request, u *authedUser) {
	var req orderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	side, err := parseSide(req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Qty <= 0 {
		writeError(w, errs.New(errs.ValidationError, "qty must be positive"))
		return
	}

	var o *order.Order
	if req.Price != nil {
		o, err = h.core.PlaceLimitOrder(u.ID, req.Ticker, side, req.Qty, *req.Price)
	} else {
		o, err = h.core.PlaceMarketOrder(u.ID, req.Ticker, side, req.Qty)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, placeOrderResponse{Success: true, OrderID: o.ID})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, u *authedUser) {
	orders := h.core.ListOrders(u.ID)
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderToResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, u *authedUser) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, errs.New(errs.ValidationError, "malformed order id"))
		return
	}
	o, err := h.core.GetOrder(u.ID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request, u *authedUser) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, errs.New(errs.ValidationError, "malformed order id"))
		return
	}
	if _, err := h.core.CancelOrder(u.ID, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) generateReport(w http.ResponseWriter, r *http.Request, u *authedUser) {
	vars := mux.Vars(r)
	year, errYear := strconv.Atoi(vars["year"])
	month, errMonth := strconv.Atoi(vars["month"])
	if errYear != nil || errMonth != nil {
		writeError(w, errs.New(errs.ValidationError, "malformed report period"))
		return
	}
	handle, err := h.core.GenerateReport(u.ID, year, month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, reportToResponse(handle))
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request, u *authedUser) {
	handles := h.core.ListReports(u.ID)
	out := make([]reportHandleResponse, 0, len(handles))
	for _, hd := range handles {
		out = append(out, reportToResponse(hd))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- admin ---

func (h *Handler) admitInstrument(w http.ResponseWriter, r *http.Request, u *authedUser) {
	var req admitInstrumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.core.AdminAdmitInstrument(req.Ticker, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) deleteInstrument(w http.ResponseWriter, r *http.Request, u *authedUser) {
	ticker := mux.Vars(r)["ticker"]
	if err := h.core.AdminDeleteInstrument(ticker); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request, u *authedUser) {
	var req balanceMoveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, errs.New(errs.ValidationError, "amount must be positive"))
		return
	}
	if err := h.core.AdminDeposit(req.UserID, req.Ticker, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request, u *authedUser) {
	var req balanceMoveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, errs.New(errs.ValidationError, "amount must be positive"))
		return
	}
	if err := h.core.AdminWithdraw(req.UserID, req.Ticker, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request, u *authedUser) {
	targetID := mux.Vars(r)["user_id"]
	deleted, err := h.core.AdminDeleteUser(targetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(deleted, false))
}

// --- helpers ---

func parseSide(direction string) (order.Side, error) {
	switch direction {
	case "BUY":
		return order.Buy, nil
	case "SELL":
		return order.Sell, nil
	default:
		return 0, errs.New(errs.ValidationError, "direction must be BUY or SELL")
	}
}

func clampLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, errs.New(errs.ValidationError, "malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	if kind == errs.Internal {
		log.Error().Err(err).Msg("internal error")
	}
	writeJSON(w, kind.Status(), errorBody{Error: errorDetail{Kind: kind.String(), Message: err.Error()}})
}
