// Package trade provides the HTTP handlers for the outcome registry,
// order entry, and book, trade, position and exposure queries.
//
// Prices and amounts are integer sub-units on the band's 0–Scale range.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/clob-engine/internal/ledger"
	"github.com/atmx/clob-engine/internal/matching"
	"github.com/atmx/clob-engine/internal/metrics"
	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/outcome"
	"github.com/atmx/clob-engine/internal/risk"
	"github.com/atmx/clob-engine/internal/store"
)

const (
	defaultTradeLimit = 100
	maxTradeLimit     = 1000
)

// Service serves the HTTP API over one matching engine. Writes go through
// the engine; reads go straight to the store.
type Service struct {
	engine *matching.Engine
	store  store.Store
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
	logger *slog.Logger
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(engine *matching.Engine, st store.Store, hub *WSHub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, store: st, wsHub: hub, logger: logger}
}

// Routes mounts every handler on r.
func (s *Service) Routes(r chi.Router) {
	// Outcome registry.
	r.Get("/outcomes", s.ListOutcomes)
	r.Post("/outcomes", s.CreateOutcome)
	r.Get("/outcomes/{outcomeID}", s.GetOutcome)
	r.Get("/outcomes/{outcomeID}/book", s.GetBook)
	r.Get("/outcomes/{outcomeID}/trades", s.GetOutcomeTrades)
	r.Get("/outcomes/{outcomeID}/positions", s.GetOutcomePositions)
	r.Get("/outcomes/{outcomeID}/ledger", s.GetLedger)

	// Order entry.
	r.Post("/orders", s.SubmitOrder)
	r.Get("/orders/{orderID}", s.GetOrder)
	r.Get("/orders/{orderID}/trades", s.GetOrderTrades)
	r.Post("/orders/{orderID}/cancel", s.CancelOrder)
	r.Post("/orders/{orderID}/match", s.MatchOrder)
	r.Post("/orders/{orderID}/reconcile", s.ReconcileOrder)

	// User queries.
	r.Get("/users/{userID}/orders", s.GetUserOrders)
	r.Get("/users/{userID}/positions", s.GetUserPositions)
	r.Get("/users/{userID}/exposure", s.GetExposure)
}

// --- Request/Response types ---

// CreateOutcomeRequest is the JSON body for outcome creation.
type CreateOutcomeRequest struct {
	Ticker string `json:"ticker"` // {MARKET}-{OUTCOME}
}

// OrderRequest is the JSON body for POST /orders. House orders set
// system and omit user_id.
type OrderRequest struct {
	OutcomeID string     `json:"outcome_id"`
	UserID    *string    `json:"user_id"`
	System    bool       `json:"system"`
	Side      model.Side `json:"side"` // "buy" or "sell"
	Price     int64      `json:"price"`
	Quantity  int64      `json:"quantity"`
}

// LedgerResponse is the diagnostics view of one outcome's position rows.
type LedgerResponse struct {
	OutcomeID  string           `json:"outcome_id"`
	Positions  []model.Position `json:"positions"`
	Totals     ledger.Totals    `json:"totals"`
	Balanced   bool             `json:"balanced"`
	Violation  string           `json:"violation,omitempty"`
	Mark       int64            `json:"mark"`
	Unrealized int64            `json:"unrealized"`
}

// ExposureResponse is a user's worst-case loss with limiter utilisation.
type ExposureResponse struct {
	*risk.Report
	MaxTotal      int64           `json:"max_total"`
	MaxPerOutcome int64           `json:"max_per_outcome"`
	Utilisation   decimal.Decimal `json:"utilisation_pct"`
}

// --- Outcomes ---

// CreateOutcome handles POST /api/v1/outcomes
func (s *Service) CreateOutcome(w http.ResponseWriter, r *http.Request) {
	var req CreateOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	parsed, err := outcome.ParseTicker(req.Ticker)
	if err != nil {
		writeErr(w, err)
		return
	}

	o := &model.Outcome{
		ID:        uuid.New().String(),
		Ticker:    parsed.Symbol,
		Market:    parsed.Market,
		Status:    model.OutcomeOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateOutcome(r.Context(), o); err != nil {
		writeErr(w, err)
		return
	}
	metrics.OpenOutcomes.Inc()

	s.logger.Info("outcome created", "id", o.ID, "ticker", o.Ticker, "market", o.Market)
	writeJSON(w, http.StatusCreated, o)
}

// ListOutcomes handles GET /api/v1/outcomes
// Optionally filtered by ?market=<market> or ?status=<status>.
func (s *Service) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.store.ListOutcomes(r.Context())
	if err != nil {
		writeError(w, "failed to list outcomes", http.StatusInternalServerError)
		return
	}

	market, status := r.URL.Query().Get("market"), r.URL.Query().Get("status")
	filtered := make([]model.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if market != "" && o.Market != market {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		filtered = append(filtered, o)
	}
	writeJSON(w, http.StatusOK, filtered)
}

// GetOutcome handles GET /api/v1/outcomes/{outcomeID}
func (s *Service) GetOutcome(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOutcome(r.Context(), chi.URLParam(r, "outcomeID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GetBook handles GET /api/v1/outcomes/{outcomeID}/book
// Returns resting depth aggregated by price level.
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	outcomeID := chi.URLParam(r, "outcomeID")
	if _, err := s.store.GetOutcome(ctx, outcomeID); err != nil {
		writeErr(w, err)
		return
	}

	depth, err := matching.Snapshot(ctx, s.store, outcomeID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depth)
}

// GetOutcomeTrades handles GET /api/v1/outcomes/{outcomeID}/trades
// Newest first, ?limit=<n> (default 100, max 1000).
func (s *Service) GetOutcomeTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTradeLimit)
	}

	trades, err := s.store.ListTrades(r.Context(), chi.URLParam(r, "outcomeID"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetOutcomePositions handles GET /api/v1/outcomes/{outcomeID}/positions
// Every row for the outcome, the system row included.
func (s *Service) GetOutcomePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListPositions(r.Context(), chi.URLParam(r, "outcomeID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetLedger handles GET /api/v1/outcomes/{outcomeID}/ledger
// Zero-sum diagnostics. Unrealized is valued at ?mark=<price>, defaulting
// to the last trade price or mid-scale when nothing has traded.
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	outcomeID := chi.URLParam(r, "outcomeID")
	if _, err := s.store.GetOutcome(ctx, outcomeID); err != nil {
		writeErr(w, err)
		return
	}

	mark := s.engine.Band().Scale / 2
	if v := r.URL.Query().Get("mark"); v != "" {
		m, err := strconv.ParseInt(v, 10, 64)
		if err != nil || m < 0 || m > s.engine.Band().Scale {
			writeError(w, "mark must be an integer price within scale", http.StatusBadRequest)
			return
		}
		mark = m
	} else if last, err := s.store.ListTrades(ctx, outcomeID, 1); err == nil && len(last) > 0 {
		mark = last[0].Price
	}

	positions, err := s.store.ListPositions(ctx, outcomeID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	totals := ledger.Sum(positions)
	resp := LedgerResponse{
		OutcomeID:  outcomeID,
		Positions:  positions,
		Totals:     totals,
		Balanced:   true,
		Mark:       mark,
		Unrealized: ledger.Unrealized(positions, mark),
	}
	if err := totals.Balanced(); err != nil {
		resp.Balanced = false
		resp.Violation = err.Error()
		s.logger.Error("ledger out of balance", "outcome", outcomeID, "err", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Orders ---

// SubmitOrder handles POST /api/v1/orders
// Matches the order immediately; any remainder rests on the book.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var owner model.Owner
	switch {
	case req.System && req.UserID != nil:
		writeError(w, "system orders must not carry a user_id", http.StatusBadRequest)
		return
	case req.System:
		owner = model.System()
	case req.UserID != nil:
		owner = model.User(*req.UserID)
	default:
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Submit(r.Context(), matching.NewOrder{
		OutcomeID: req.OutcomeID,
		Owner:     owner,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	s.broadcast(res.Order, res.Trades)
	writeJSON(w, http.StatusCreated, res)
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GetOrderTrades handles GET /api/v1/orders/{orderID}/trades
// Every trade the order took part in as taker or maker, oldest first.
func (s *Service) GetOrderTrades(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		writeErr(w, err)
		return
	}

	trades, err := s.store.ListOrderTrades(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Cancel(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	s.broadcast(o, nil)
	writeJSON(w, http.StatusOK, o)
}

// MatchOrder handles POST /api/v1/orders/{orderID}/match
// Retries a resting order against the current book.
func (s *Service) MatchOrder(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Match(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	s.broadcast(res.Order, res.Trades)
	writeJSON(w, http.StatusOK, res)
}

// ReconcileOrder handles POST /api/v1/orders/{orderID}/reconcile
func (s *Service) ReconcileOrder(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Reconcile(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if rec.Repaired {
		s.broadcast(rec.Order, nil)
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Users ---

// GetUserOrders handles GET /api/v1/users/{userID}/orders
// ?open=true keeps only resting orders.
func (s *Service) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := model.ValidateUserID(userID); err != nil {
		writeErr(w, err)
		return
	}

	orders, err := s.store.ListUserOrders(r.Context(), userID)
	if err != nil {
		writeErr(w, err)
		return
	}

	open := r.URL.Query().Get("open") == "true"
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if open && !o.Resting() {
			continue
		}
		out = append(out, o)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetUserPositions handles GET /api/v1/users/{userID}/positions
func (s *Service) GetUserPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := model.ValidateUserID(userID); err != nil {
		writeErr(w, err)
		return
	}

	positions, err := s.store.ListUserPositions(r.Context(), userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetExposure handles GET /api/v1/users/{userID}/exposure
// Returns worst-case loss per outcome and utilisation of the total limit.
func (s *Service) GetExposure(w http.ResponseWriter, r *http.Request) {
	rep, err := risk.Exposure(r.Context(), s.store, chi.URLParam(r, "userID"), s.engine.Band())
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := ExposureResponse{Report: rep, Utilisation: decimal.Zero}
	if l := s.engine.Limiter(); l != nil {
		resp.MaxTotal = l.MaxTotal
		resp.MaxPerOutcome = l.MaxPerOutcome
		resp.Utilisation = l.Utilisation(rep)
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func (s *Service) broadcast(order *model.Order, trades []model.Trade) {
	if s.wsHub != nil {
		s.wsHub.BroadcastResult(order, trades)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, matching.ErrOrderNotOpen),
		errors.Is(err, matching.ErrOutcomeClosed):
		return http.StatusConflict
	case errors.Is(err, risk.ErrExposureLimitExceeded),
		errors.Is(err, risk.ErrOutcomeLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, matching.ErrInvalidOrder),
		errors.Is(err, model.ErrInvalidUserID),
		errors.Is(err, model.ErrInvalidSide),
		errors.Is(err, outcome.ErrInvalidPrice),
		errors.Is(err, outcome.ErrInvalidTicker):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrLockHeld):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeErr writes err with its mapped status. Internal errors are logged
// and not echoed to the client.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
