// Package matching runs the per-outcome continuous double auction: book
// query, fill generation, order mutation, trade recording, and handing
// each fill to the position ledger.
//
// A matching pass for one taker order runs under the outcome's lock and
// inside one store transaction, so a failure part-way through leaves no
// fills applied.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/clob-engine/internal/events"
	"github.com/atmx/clob-engine/internal/ledger"
	"github.com/atmx/clob-engine/internal/metrics"
	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/outcome"
	"github.com/atmx/clob-engine/internal/risk"
	"github.com/atmx/clob-engine/internal/store"
)

var (
	// ErrInvalidOrder is returned for orders that fail validation.
	ErrInvalidOrder = errors.New("matching: invalid order")

	// ErrOutcomeClosed is returned when an outcome no longer accepts orders.
	ErrOutcomeClosed = errors.New("matching: outcome is closed")
)

// MaxQuantity bounds a single order. Scale times MaxQuantity, summed over
// two legs and the system blend, stays well inside int64.
const MaxQuantity int64 = 1_000_000_000

// NewOrder is an incoming limit order, good until canceled.
type NewOrder struct {
	OutcomeID string      `json:"outcome_id"`
	Owner     model.Owner `json:"user_id"`
	Side      model.Side  `json:"side"`
	Price     int64       `json:"price"`
	Quantity  int64       `json:"quantity"`
}

// Result is what one matching pass did for its taker order.
type Result struct {
	Order  *model.Order  `json:"order"`
	Fills  []model.Fill  `json:"fills"`
	Trades []model.Trade `json:"trades"`

	applied []*ledger.Result
}

// Reconciliation reports the outcome of re-deriving an order from its
// trade history.
type Reconciliation struct {
	Order    *model.Order `json:"order"`
	Filled   int64        `json:"filled"`
	Repaired bool         `json:"repaired"`
}

// Engine matches orders for all outcomes. Passes on the same outcome are
// serialized by the Locker; passes on different outcomes run concurrently.
type Engine struct {
	store     store.Store
	locker    store.Locker
	ledger    *ledger.Ledger
	band      outcome.Band
	limiter   *risk.Limiter
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker sets the per-outcome lock. Defaults to an in-process lock.
func WithLocker(l store.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithBand sets the tradable price band. Defaults to outcome.DefaultBand.
func WithBand(b outcome.Band) Option { return func(e *Engine) { e.band = b } }

// WithLimiter enables exposure admission checks for user orders.
func WithLimiter(l *risk.Limiter) Option { return func(e *Engine) { e.limiter = l } }

// WithPublisher sets where committed trades are sent.
func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an engine over st.
func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		locker:    store.NewLocalLocker(),
		band:      outcome.DefaultBand(),
		publisher: events.NopPublisher{},
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ledger = ledger.New(e.band, e.logger).WithClock(e.now)
	return e
}

// Band returns the engine's price band.
func (e *Engine) Band() outcome.Band { return e.band }

// Limiter returns the admission limiter, or nil when disabled.
func (e *Engine) Limiter() *risk.Limiter { return e.limiter }

// --- Operations ---

// Submit validates and inserts a taker order, then matches it against the
// opposite side of its outcome's book. Any unfilled quantity rests.
func (e *Engine) Submit(ctx context.Context, req NewOrder) (*Result, error) {
	if err := e.validate(req); err != nil {
		metrics.OrderRejections.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var res *Result
	err := e.locked(ctx, req.OutcomeID, "submit", func(tx store.Store) error {
		if err := e.checkOutcome(ctx, tx, req.OutcomeID); err != nil {
			return err
		}
		if err := e.admit(ctx, tx, req); err != nil {
			return err
		}

		now := e.now()
		order := &model.Order{
			ID:        uuid.New().String(),
			OutcomeID: req.OutcomeID,
			Owner:     req.Owner,
			Side:      req.Side,
			Price:     req.Price,
			Original:  req.Quantity,
			Remaining: req.Quantity,
			Status:    model.StatusOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		var err error
		res, err = e.match(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(res.Order.Side.String(), string(res.Order.Status)).Inc()
	e.committed(ctx, res)

	e.logger.Info("order submitted",
		"order", res.Order.ID,
		"outcome", res.Order.OutcomeID,
		"owner", res.Order.Owner.String(),
		"side", res.Order.Side.String(),
		"price", res.Order.Price,
		"qty", res.Order.Original,
		"filled", res.Order.Filled(),
		"status", string(res.Order.Status),
		"trades", len(res.Trades),
	)
	return res, nil
}

// Match re-runs a matching pass for an existing resting order, e.g. to
// retry quantity left unmatched by an earlier pass.
func (e *Engine) Match(ctx context.Context, orderID string) (*Result, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = e.locked(ctx, o.OutcomeID, "match", func(tx store.Store) error {
		// Re-read under the lock: the order may have changed since.
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Resting() || order.Remaining <= 0 {
			return fmt.Errorf("%w: %s is %s", ErrOrderNotOpen, orderID, order.Status)
		}
		if err := e.checkOutcome(ctx, tx, order.OutcomeID); err != nil {
			return err
		}
		res, err = e.match(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.committed(ctx, res)
	e.logger.Info("order rematched",
		"order", res.Order.ID,
		"outcome", res.Order.OutcomeID,
		"status", string(res.Order.Status),
		"trades", len(res.Trades),
	)
	return res, nil
}

// Cancel cancels a resting order. It takes the outcome lock so it cannot
// interleave with a matching pass that is filling the same order.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var canceled *model.Order
	err = e.locked(ctx, o.OutcomeID, "cancel", func(tx store.Store) error {
		var err error
		canceled, err = CancelOrder(ctx, tx, orderID, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersCanceled.Inc()
	e.logger.Info("order canceled",
		"order", canceled.ID,
		"outcome", canceled.OutcomeID,
		"remaining", canceled.Remaining,
	)
	return canceled, nil
}

// Reconcile recomputes an order's remaining size and status from the
// trades it took part in and repairs the row if they disagree.
func (e *Engine) Reconcile(ctx context.Context, orderID string) (*Reconciliation, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var rec *Reconciliation
	err = e.locked(ctx, o.OutcomeID, "reconcile", func(tx store.Store) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		trades, err := tx.ListOrderTrades(ctx, orderID)
		if err != nil {
			return fmt.Errorf("list trades for %s: %w", orderID, err)
		}

		var filled int64
		for _, t := range trades {
			filled += t.Quantity
		}
		remaining := max(order.Original-filled, 0)
		status := model.NextStatus(remaining, order.Original, order.Status == model.StatusCanceled)

		rec = &Reconciliation{Order: order, Filled: filled}
		if remaining == order.Remaining && status == order.Status {
			return nil
		}

		e.logger.Warn("order row disagrees with trade history",
			"order", orderID,
			"outcome", order.OutcomeID,
			"stored_remaining", order.Remaining,
			"stored_status", string(order.Status),
			"remaining", remaining,
			"status", string(status),
		)
		now := e.now()
		if err := tx.UpdateOrderState(ctx, orderID, remaining, status, now); err != nil {
			return fmt.Errorf("repair order %s: %w", orderID, err)
		}
		order.Remaining, order.Status, order.UpdatedAt = remaining, status, now
		rec.Repaired = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rec.Repaired {
		metrics.ReconcileRepairs.Inc()
	}
	return rec, nil
}

// --- Matching pass ---

// match runs one pass for taker inside tx. Fills are applied strictly in
// order; each sees the positions left by the previous one.
func (e *Engine) match(ctx context.Context, tx store.Store, taker *model.Order) (*Result, error) {
	book, err := BookQuery(ctx, tx, taker.OutcomeID, taker.Side, taker.Owner.Ptr())
	if err != nil {
		return nil, err
	}
	fills := e.dropSelfMatches(taker, GenerateFills(*taker, book))

	res := &Result{Fills: []model.Fill{}, Trades: []model.Trade{}}
	var total int64
	for _, f := range fills {
		lr, trade, err := e.applyFill(ctx, tx, taker, f)
		if err != nil {
			return nil, err
		}
		if trade == nil {
			continue
		}
		f.Quantity = trade.Quantity
		total += trade.Quantity
		res.Fills = append(res.Fills, f)
		res.Trades = append(res.Trades, *trade)
		res.applied = append(res.applied, lr)
	}

	if _, _, err := ApplyFill(ctx, tx, taker.ID, total, e.now()); err != nil {
		return nil, fmt.Errorf("mutate taker %s: %w", taker.ID, err)
	}
	final, err := tx.GetOrder(ctx, taker.ID)
	if err != nil {
		return nil, fmt.Errorf("reload taker %s: %w", taker.ID, err)
	}
	res.Order = final
	return res, nil
}

// applyFill mutates the maker, updates both positions and records the
// trade. A nil trade means the maker had nothing left to fill.
func (e *Engine) applyFill(ctx context.Context, tx store.Store, taker *model.Order, f model.Fill) (*ledger.Result, *model.Trade, error) {
	now := e.now()

	maker, qty, err := ApplyFill(ctx, tx, f.MakerOrderID, f.Quantity, now)
	if err != nil {
		return nil, nil, fmt.Errorf("mutate maker %s: %w", f.MakerOrderID, err)
	}
	if maker == nil || qty == 0 {
		e.logger.Warn("maker order gone before fill",
			"maker_order", f.MakerOrderID,
			"taker_order", taker.ID,
			"outcome", taker.OutcomeID,
		)
		return nil, nil, nil
	}

	stats, err := ComputeRiskOff(ctx, tx, taker.OutcomeID, taker.Owner, taker.Side, maker.Owner, f.Price, qty)
	if err != nil {
		return nil, nil, err
	}

	lr, err := e.ledger.Apply(ctx, tx, ledger.Fill{
		OutcomeID: taker.OutcomeID,
		Taker:     taker.Owner,
		TakerSide: taker.Side,
		Maker:     maker.Owner,
		Price:     f.Price,
		Quantity:  qty,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("apply fill to ledger: %w", err)
	}

	trade, err := RecordTrade(ctx, tx, TradeInput{
		OutcomeID:    taker.OutcomeID,
		TakerOrderID: taker.ID,
		MakerOrderID: maker.ID,
		Taker:        taker.Owner,
		Maker:        maker.Owner,
		TakerSide:    taker.Side,
		Price:        f.Price,
		Quantity:     qty,
		RiskOff:      stats,
		At:           now,
	})
	if err != nil {
		return nil, nil, err
	}
	return lr, trade, nil
}

// dropSelfMatches removes fills against the taker's own order or against a
// resting order of the same user. System orders may cross each other. The
// book query already excludes the taker's user, so any hit is a bug worth
// alerting on.
func (e *Engine) dropSelfMatches(taker *model.Order, fills []model.Fill) []model.Fill {
	kept := fills[:0]
	for _, f := range fills {
		sameUser := !taker.Owner.IsSystem() && f.Maker == taker.Owner
		if f.MakerOrderID == taker.ID || sameUser {
			metrics.SelfMatchDropped.Inc()
			e.logger.Error("self-match fill dropped",
				"order", taker.ID,
				"maker_order", f.MakerOrderID,
				"outcome", taker.OutcomeID,
				"qty", f.Quantity,
				"price", f.Price,
			)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// --- Helpers ---

// locked runs fn under the outcome lock inside one transaction. Stores
// that support it also take a database-level lock on the outcome.
func (e *Engine) locked(ctx context.Context, outcomeID, op string, fn func(tx store.Store) error) error {
	start := time.Now()
	unlock, err := e.locker.Lock(ctx, outcomeID)
	if err != nil {
		return err
	}
	defer unlock()

	err = e.store.InTx(ctx, func(tx store.Store) error {
		if ol, ok := tx.(store.OutcomeLocker); ok {
			if err := ol.LockOutcome(ctx, outcomeID); err != nil {
				return fmt.Errorf("lock outcome %s: %w", outcomeID, err)
			}
		}
		return fn(tx)
	})
	metrics.MatchLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

func (e *Engine) validate(req NewOrder) error {
	if req.OutcomeID == "" {
		return fmt.Errorf("%w: outcome_id is required", ErrInvalidOrder)
	}
	if uid, ok := req.Owner.UserID(); ok {
		if err := model.ValidateUserID(uid); err != nil {
			return err
		}
	}
	if !req.Side.Valid() {
		return model.ErrInvalidSide
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if req.Quantity > MaxQuantity {
		return fmt.Errorf("%w: quantity %d exceeds %d", ErrInvalidOrder, req.Quantity, MaxQuantity)
	}
	return e.band.Validate(req.Price)
}

func (e *Engine) checkOutcome(ctx context.Context, tx store.Store, outcomeID string) error {
	o, err := tx.GetOutcome(ctx, outcomeID)
	if err != nil {
		return err
	}
	if o.Status != model.OutcomeOpen {
		return fmt.Errorf("%w: %s", ErrOutcomeClosed, o.Ticker)
	}
	return nil
}

// admit applies the exposure limiter to user orders. House orders are
// never limited.
func (e *Engine) admit(ctx context.Context, tx store.Store, req NewOrder) error {
	uid, ok := req.Owner.UserID()
	if e.limiter == nil || !ok {
		return nil
	}
	rep, err := risk.Exposure(ctx, tx, uid, e.band)
	if err != nil {
		return err
	}
	if err := e.limiter.CheckOrder(rep, req.OutcomeID, req.Side, req.Price, req.Quantity); err != nil {
		metrics.ExposureRejections.Inc()
		e.logger.Info("order rejected by exposure limit",
			"user", uid,
			"outcome", req.OutcomeID,
			"exposure", rep.Total,
			"err", err,
		)
		return err
	}
	return nil
}

// committed records metrics and publishes trades once a pass is durable.
func (e *Engine) committed(ctx context.Context, res *Result) {
	for _, lr := range res.applied {
		metrics.FillsTotal.WithLabelValues(string(lr.Path)).Inc()
		if !lr.Offset.IsZero() {
			metrics.SystemOffsets.Inc()
		}
		if r := lr.Offset.Residual; r != 0 {
			metrics.RoundingResidual.Add(float64(max(r, -r)))
		}
	}
	for _, t := range res.Trades {
		metrics.TradesTotal.Inc()
		metrics.TradedVolume.WithLabelValues(t.OutcomeID).Add(float64(t.Quantity))
	}

	if len(res.Trades) == 0 {
		return
	}
	if err := e.publisher.PublishTrades(ctx, res.Trades); err != nil {
		metrics.PublishFailures.Inc()
		e.logger.Error("trade publish failed",
			"outcome", res.Order.OutcomeID,
			"trades", len(res.Trades),
			"err", err,
		)
	}
}
