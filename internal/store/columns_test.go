package store

import (
	"errors"
	"testing"

	"github.com/atmx/clob-engine/internal/model"
)

func TestSideColumnMapping(t *testing.T) {
	cases := []struct {
		side   model.Side
		column string
	}{
		{model.Buy, "bid"},
		{model.Sell, "ask"},
	}
	for _, tc := range cases {
		col, err := sideColumn(tc.side)
		if err != nil || col != tc.column {
			t.Errorf("sideColumn(%s) = %q, %v; want %q", tc.side, col, err, tc.column)
		}
		side, err := sideFromColumn(tc.column)
		if err != nil || side != tc.side {
			t.Errorf("sideFromColumn(%q) = %s, %v; want %s", tc.column, side, err, tc.side)
		}
	}

	if _, err := sideColumn(model.Side(0)); !errors.Is(err, model.ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide for zero side, got %v", err)
	}
	for _, bad := range []string{"buy", "BID", "0", ""} {
		if _, err := sideFromColumn(bad); !errors.Is(err, model.ErrInvalidSide) {
			t.Errorf("sideFromColumn(%q): expected ErrInvalidSide, got %v", bad, err)
		}
	}
}

func TestOwnerKey(t *testing.T) {
	if got := ownerKey(model.System()); got != "" {
		t.Errorf("system owner key = %q, want empty", got)
	}
	if got := ownerKey(model.User("alice")); got != "alice" {
		t.Errorf("user owner key = %q", got)
	}
	if model.ValidateUserID(ownerKey(model.System())) == nil {
		t.Error("system key must never be a valid user id")
	}
}
