package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/store"
)

// ErrOrderNotOpen is returned when canceling or re-matching an order that
// is already filled or canceled.
var ErrOrderNotOpen = errors.New("matching: order is not open")

// OrderStore is the slice of the store the order mutator needs.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrderState(ctx context.Context, id string, remaining int64, status model.Status, at time.Time) error
}

// ApplyFill takes qty off an order's remaining size and returns the updated
// order with the quantity actually applied. The fill is clamped to what is
// left, so repeating a fill can never push remaining below zero.
//
// Non-positive quantities and missing orders are no-ops that return a nil
// order. Orders that are no longer resting come back unchanged with zero
// applied.
func ApplyFill(ctx context.Context, st OrderStore, orderID string, qty int64, at time.Time) (*model.Order, int64, error) {
	if qty <= 0 {
		return nil, 0, nil
	}

	o, err := st.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if !o.Resting() {
		return o, 0, nil
	}

	applied := min(qty, o.Remaining)
	if applied <= 0 {
		return o, 0, nil
	}

	o.Remaining -= applied
	o.Status = model.NextStatus(o.Remaining, o.Original, false)
	o.UpdatedAt = at
	if err := st.UpdateOrderState(ctx, o.ID, o.Remaining, o.Status, at); err != nil {
		return nil, 0, fmt.Errorf("update order %s: %w", orderID, err)
	}
	return o, applied, nil
}

// CancelOrder moves an open or partial order to canceled, keeping its
// remaining size for the record.
func CancelOrder(ctx context.Context, st OrderStore, orderID string, at time.Time) (*model.Order, error) {
	o, err := st.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Resting() {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotOpen, orderID, o.Status)
	}

	o.Status = model.NextStatus(o.Remaining, o.Original, true)
	o.UpdatedAt = at
	if err := st.UpdateOrderState(ctx, o.ID, o.Remaining, o.Status, at); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return o, nil
}
