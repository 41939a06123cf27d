package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/outcome"
)

var (
	// ErrOutcomeLimitExceeded is returned when an order would push a single
	// outcome's worst-case loss beyond the per-outcome maximum.
	ErrOutcomeLimitExceeded = errors.New("risk: per-outcome exposure limit exceeded")

	// ErrExposureLimitExceeded is returned when an order would push the
	// user's aggregate worst-case loss beyond the total maximum.
	ErrExposureLimitExceeded = errors.New("risk: exposure limit exceeded")
)

// Limiter admits or rejects new orders against worst-case exposure.
// A zero limit disables that check.
type Limiter struct {
	// MaxPerOutcome caps worst-case loss on any one outcome.
	MaxPerOutcome int64

	// MaxTotal caps worst-case loss summed over all outcomes.
	MaxTotal int64

	scale int64
}

// NewLimiter creates a limiter for prices on band's scale.
func NewLimiter(maxPerOutcome, maxTotal int64, band outcome.Band) *Limiter {
	if maxPerOutcome < 0 {
		maxPerOutcome = 0
	}
	if maxTotal < 0 {
		maxTotal = 0
	}
	return &Limiter{MaxPerOutcome: maxPerOutcome, MaxTotal: maxTotal, scale: band.Scale}
}

// CheckOrder validates whether a new resting order of qty at price fits
// within the limits given the user's current exposure. The order is
// counted at its full worst-case loss; any netting against existing
// positions is ignored.
func (l *Limiter) CheckOrder(rep *Report, outcomeID string, side model.Side, price, qty int64) error {
	added := OrderLoss(side, price, qty, l.scale)

	// 1. Per-outcome limit.
	current := rep.Outcome(outcomeID).Total
	if l.MaxPerOutcome > 0 && current+added > l.MaxPerOutcome {
		return fmt.Errorf("%w: %s would reach %d of %d",
			ErrOutcomeLimitExceeded, outcomeID, current+added, l.MaxPerOutcome)
	}

	// 2. Aggregate limit.
	if l.MaxTotal > 0 && rep.Total+added > l.MaxTotal {
		return fmt.Errorf("%w: would reach %d of %d", ErrExposureLimitExceeded, rep.Total+added, l.MaxTotal)
	}
	return nil
}

// Utilisation returns total exposure as a percentage of MaxTotal, rounded
// to two places. Zero when no total limit is set.
func (l *Limiter) Utilisation(rep *Report) decimal.Decimal {
	if l.MaxTotal <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(rep.Total).
		Div(decimal.NewFromInt(l.MaxTotal)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}
