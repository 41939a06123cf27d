package model

import (
	"errors"
	"fmt"
)

// ErrInvalidStatus is returned for unknown order status strings.
var ErrInvalidStatus = errors.New("model: invalid order status")

// Status is the lifecycle state of an order.
type Status string

const (
	StatusOpen     Status = "open"
	StatusPartial  Status = "partial"
	StatusFilled   Status = "filled"
	StatusCanceled Status = "canceled"
)

// ParseStatus validates a stored status value.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOpen, StatusPartial, StatusFilled, StatusCanceled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// NextStatus derives an order's status from its sizes. Cancellation is
// terminal and wins over any size.
func NextStatus(remaining, original int64, canceled bool) Status {
	switch {
	case canceled:
		return StatusCanceled
	case remaining <= 0:
		return StatusFilled
	case remaining < original:
		return StatusPartial
	default:
		return StatusOpen
	}
}
