// Package risk computes worst-case exposure for a user and enforces
// admission limits on new orders.
//
// Worst case assumes every outcome settles against the holder: a long
// settles at 0 and loses basis × net; a short settles at the full payout
// and loses (scale − basis) × |net|. Resting orders are counted as if they
// filled at their limit and then settled the same way.
package risk

import (
	"context"
	"fmt"
	"sort"

	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/outcome"
)

// ExposureReader is the slice of the store the calculator needs.
type ExposureReader interface {
	ListUserPositions(ctx context.Context, userID string) ([]model.Position, error)
	ListUserOrders(ctx context.Context, userID string) ([]model.Order, error)
}

// OutcomeExposure is a user's worst-case loss on one outcome.
type OutcomeExposure struct {
	OutcomeID string `json:"outcome_id"`
	Positions int64  `json:"positions"`
	Orders    int64  `json:"orders"`
	Total     int64  `json:"total"`
}

// Report is a user's worst-case loss across all outcomes.
type Report struct {
	UserID    string            `json:"user_id"`
	Positions int64             `json:"positions"`
	Orders    int64             `json:"orders"`
	Total     int64             `json:"total"`
	Outcomes  []OutcomeExposure `json:"outcomes"`
}

// Outcome returns the exposure for one outcome, zero if the user has none.
func (r *Report) Outcome(outcomeID string) OutcomeExposure {
	for _, oe := range r.Outcomes {
		if oe.OutcomeID == outcomeID {
			return oe
		}
	}
	return OutcomeExposure{OutcomeID: outcomeID}
}

// PositionLoss is the worst-case settlement loss of a position.
func PositionLoss(p model.Position, scale int64) int64 {
	switch {
	case p.Net > 0:
		return p.Basis * p.Net
	case p.Net < 0:
		return (scale - p.Basis) * -p.Net
	}
	return 0
}

// OrderLoss is the worst-case loss of a resting order if it filled in full
// at its limit.
func OrderLoss(side model.Side, price, remaining, scale int64) int64 {
	if remaining <= 0 {
		return 0
	}
	if side == model.Buy {
		return price * remaining
	}
	return (scale - price) * remaining
}

// Exposure sums a user's worst-case loss over open positions and resting
// orders. It only reads.
func Exposure(ctx context.Context, r ExposureReader, userID string, band outcome.Band) (*Report, error) {
	if err := model.ValidateUserID(userID); err != nil {
		return nil, err
	}

	positions, err := r.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions for %s: %w", userID, err)
	}
	orders, err := r.ListUserOrders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders for %s: %w", userID, err)
	}

	by := make(map[string]*OutcomeExposure)
	get := func(id string) *OutcomeExposure {
		oe, ok := by[id]
		if !ok {
			oe = &OutcomeExposure{OutcomeID: id}
			by[id] = oe
		}
		return oe
	}

	rep := &Report{UserID: userID}
	for _, p := range positions {
		loss := PositionLoss(p, band.Scale)
		if loss == 0 {
			continue
		}
		get(p.OutcomeID).Positions += loss
		rep.Positions += loss
	}
	for _, o := range orders {
		if !o.Resting() {
			continue
		}
		loss := OrderLoss(o.Side, o.Price, o.Remaining, band.Scale)
		if loss == 0 {
			continue
		}
		get(o.OutcomeID).Orders += loss
		rep.Orders += loss
	}
	rep.Total = rep.Positions + rep.Orders

	rep.Outcomes = make([]OutcomeExposure, 0, len(by))
	for _, oe := range by {
		oe.Total = oe.Positions + oe.Orders
		rep.Outcomes = append(rep.Outcomes, *oe)
	}
	sort.Slice(rep.Outcomes, func(i, j int) bool {
		return rep.Outcomes[i].OutcomeID < rep.Outcomes[j].OutcomeID
	})
	return rep, nil
}
