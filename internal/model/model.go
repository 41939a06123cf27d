// Package model defines the core domain types shared across the matching
// engine. Prices, quantities and profits are int64 sub-units of the
// 0–10000 probability scale. Never float64 for money.
package model

import (
	"time"
)

// Order is a good-until-canceled limit order resting on, or crossing, one
// outcome's book. Original is fixed at creation; only Remaining and Status
// change afterwards.
type Order struct {
	ID        string    `json:"id" db:"id"`
	OutcomeID string    `json:"outcome_id" db:"outcome_id"`
	Owner     Owner     `json:"user_id" db:"user_id"` // null = system/house order
	Side      Side      `json:"side" db:"side"`
	Price     int64     `json:"price" db:"price"`
	Original  int64     `json:"original" db:"original"`
	Remaining int64     `json:"remaining" db:"remaining"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Filled returns how much of the order has traded.
func (o *Order) Filled() int64 {
	return o.Original - o.Remaining
}

// Resting reports whether the order can still be matched.
func (o *Order) Resting() bool {
	return o.Status == StatusOpen || o.Status == StatusPartial
}

// Position is the cost-basis ledger row for one (outcome, owner) pair.
// There is exactly one System row per outcome.
type Position struct {
	OutcomeID string `json:"outcome_id" db:"outcome_id"`
	Owner     Owner  `json:"user_id" db:"user_id"`
	Net       int64  `json:"net" db:"net"`       // signed: +long, -short
	Basis     int64  `json:"basis" db:"basis"`   // per contract; 0 while flat
	Closed    int64  `json:"closed" db:"closed"` // cumulative realized profit
	Settled   int64  `json:"settled" db:"settled"`
	// Residual accumulates basis rounding gaps. Only the system row carries
	// a nonzero value.
	Residual  int64     `json:"residual" db:"residual"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Cost returns the stored cost magnitude, |net| × basis.
func (p *Position) Cost() int64 {
	return abs(p.Net) * p.Basis
}

// Unrealized returns net × (mark − basis).
func (p *Position) Unrealized(mark int64) int64 {
	if p.Net == 0 {
		return 0
	}
	return p.Net * (mark - p.Basis)
}

// Trade is an immutable record of one fill. Once created it is never
// modified or deleted.
type Trade struct {
	ID           string    `json:"id" db:"id"`
	OutcomeID    string    `json:"outcome_id" db:"outcome_id"`
	TakerOrderID string    `json:"taker_order_id" db:"taker_order_id"`
	MakerOrderID string    `json:"maker_order_id" db:"maker_order_id"`
	Taker        Owner     `json:"taker_user_id" db:"taker_user_id"`
	Maker        Owner     `json:"maker_user_id" db:"maker_user_id"`
	TakerSide    Side      `json:"taker_side" db:"taker_side"`
	Price        int64     `json:"price" db:"price"`
	Quantity     int64     `json:"quantity" db:"quantity"`
	// Risk-off: how much of the fill closed each counterparty's existing
	// position, and the P&L realized on that closing portion.
	TakerRiskOffQty int64     `json:"taker_risk_off_qty" db:"taker_risk_off_qty"`
	TakerRiskOffPnL int64     `json:"taker_risk_off_pnl" db:"taker_risk_off_pnl"`
	MakerRiskOffQty int64     `json:"maker_risk_off_qty" db:"maker_risk_off_qty"`
	MakerRiskOffPnL int64     `json:"maker_risk_off_pnl" db:"maker_risk_off_pnl"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Fill is a transient match between the taker and one maker order.
type Fill struct {
	MakerOrderID string `json:"maker_order_id"`
	Maker        Owner  `json:"maker_user_id"`
	Price        int64  `json:"price"`
	Quantity     int64  `json:"quantity"`
}

// Outcome is the single tradable instrument orders, positions and trades
// are scoped to.
type Outcome struct {
	ID        string    `json:"id" db:"id"`
	Ticker    string    `json:"ticker" db:"ticker"`
	Market    string    `json:"market" db:"market"`
	Status    string    `json:"status" db:"status"` // "open", "closed"
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Outcome statuses.
const (
	OutcomeOpen   = "open"
	OutcomeClosed = "closed"
)

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
