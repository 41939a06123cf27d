package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/outcome"
)

// Leg is one counterparty's side of a fill, computed from its pre-fill
// net and stored basis. Nothing is rounded yet: Exact is the total cost
// magnitude the new position should carry.
type Leg struct {
	Net      int64 // signed net after the fill
	Realized int64 // realized profit delta on the closed portion
	Exact    int64 // unrounded |net| × basis after the fill
	CloseQty int64 // portion of the fill that reduced the prior position
}

// ApplyLeg computes one side of a fill.
//
// Reducing fills (buying while short, selling while long) realize profit on
// min(qty, |net|) against the prior basis; a long with zero basis realizes
// nothing. Any excess flips the position and opens at price alone; a
// position that lands on zero carries no cost. Extending fills (including
// opening from flat) carry the quantity-weighted total cost.
func ApplyLeg(net, basis int64, side model.Side, price, qty int64) Leg {
	dir := side.Sign()
	newNet := net + dir*qty

	if net != 0 && (net > 0) != (dir > 0) {
		closeQty := min(qty, abs(net))

		var realized int64
		switch {
		case net < 0:
			realized = (basis - price) * closeQty
		case basis > 0:
			realized = (price - basis) * closeQty
		}

		var exact int64
		switch {
		case qty > closeQty:
			exact = (qty - closeQty) * price
		case newNet != 0:
			exact = abs(newNet) * basis
		}
		return Leg{Net: newNet, Realized: realized, Exact: exact, CloseQty: closeQty}
	}

	return Leg{Net: newNet, Exact: abs(net)*basis + qty*price}
}

// RiskOff reports how much of a prospective fill would close pos and the
// profit realized on that portion, without touching pos.
func RiskOff(pos model.Position, side model.Side, price, qty int64) (closeQty, pnl int64) {
	leg := ApplyLeg(pos.Net, pos.Basis, side, price, qty)
	return leg.CloseQty, leg.Realized
}

// BasisFor rounds a total cost to a per-contract basis for net contracts,
// clamped into the band. Flat positions have basis 0.
func BasisFor(cost, net int64, band outcome.Band) int64 {
	if net == 0 {
		return 0
	}
	return band.Clamp(roundDiv(cost, abs(net)))
}

// roundDiv divides rounding half away from zero.
func roundDiv(num, den int64) int64 {
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), 0).IntPart()
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
