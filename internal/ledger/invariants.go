package ledger

import (
	"fmt"

	"github.com/atmx/clob-engine/internal/model"
)

// Totals sums an outcome's position rows, system row included.
type Totals struct {
	Net      int64 `json:"net"`
	Closed   int64 `json:"closed"`
	Residual int64 `json:"residual"`
	Rows     int   `json:"rows"`
}

// Sum totals positions.
func Sum(positions []model.Position) Totals {
	var t Totals
	for _, p := range positions {
		t.Net += p.Net
		t.Closed += p.Closed
		t.Residual += p.Residual
		t.Rows++
	}
	return t
}

// Balanced returns an error describing the first zero-sum violation.
func (t Totals) Balanced() error {
	if t.Net != 0 {
		return fmt.Errorf("ledger: net quantity sums to %d", t.Net)
	}
	if t.Closed != 0 {
		return fmt.Errorf("ledger: closed profit sums to %d", t.Closed)
	}
	return nil
}

// Unrealized sums net × (mark − basis) over positions. With net summing to
// zero the result does not depend on mark.
func Unrealized(positions []model.Position, mark int64) int64 {
	var total int64
	for i := range positions {
		total += positions[i].Unrealized(mark)
	}
	return total
}
