package store

import (
	"fmt"

	"github.com/atmx/clob-engine/internal/model"
)

// The orders and trades tables store sides as 'bid'/'ask'. This is the only
// place the engine's Side is translated to or from that spelling.

func sideColumn(s model.Side) (string, error) {
	switch s {
	case model.Buy:
		return "bid", nil
	case model.Sell:
		return "ask", nil
	}
	return "", fmt.Errorf("%w: %d", model.ErrInvalidSide, int8(s))
}

func sideFromColumn(v string) (model.Side, error) {
	switch v {
	case "bid":
		return model.Buy, nil
	case "ask":
		return model.Sell, nil
	}
	return 0, fmt.Errorf("%w: column value %q", model.ErrInvalidSide, v)
}

// ownerKey is the non-null key column derived from a nullable user id; the
// system row maps to the empty string, which ValidateUserID never accepts.
func ownerKey(o model.Owner) string {
	if uid, ok := o.UserID(); ok {
		return uid
	}
	return ""
}
