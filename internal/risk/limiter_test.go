package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/outcome"
)

func report(total int64, outcomes ...OutcomeExposure) *Report {
	return &Report{UserID: "u", Total: total, Outcomes: outcomes}
}

func TestCheckOrder_WithinLimits(t *testing.T) {
	l := NewLimiter(50000, 100000, outcome.DefaultBand())

	err := l.CheckOrder(report(0), "o1", model.Buy, 5000, 10)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckOrder_PerOutcomeExceeded(t *testing.T) {
	l := NewLimiter(50000, 100000, outcome.DefaultBand())

	// Existing 45000 + a sell of 2 at 7000 (6000) = 51000 > 50000.
	rep := report(45000, OutcomeExposure{OutcomeID: "o1", Total: 45000})
	err := l.CheckOrder(rep, "o1", model.Sell, 7000, 2)
	if !errors.Is(err, ErrOutcomeLimitExceeded) {
		t.Errorf("expected ErrOutcomeLimitExceeded, got %v", err)
	}

	// The same order on another outcome fits.
	if err := l.CheckOrder(rep, "o2", model.Sell, 7000, 2); err != nil {
		t.Errorf("expected no error on o2, got %v", err)
	}
}

func TestCheckOrder_TotalExceeded(t *testing.T) {
	l := NewLimiter(50000, 100000, outcome.DefaultBand())

	rep := report(95000,
		OutcomeExposure{OutcomeID: "o1", Total: 45000},
		OutcomeExposure{OutcomeID: "o2", Total: 50000},
	)
	err := l.CheckOrder(rep, "o3", model.Buy, 3000, 2)
	if !errors.Is(err, ErrExposureLimitExceeded) {
		t.Errorf("expected ErrExposureLimitExceeded, got %v", err)
	}
}

func TestCheckOrder_AtLimitAllowed(t *testing.T) {
	l := NewLimiter(50000, 0, outcome.DefaultBand())

	err := l.CheckOrder(report(0), "o1", model.Buy, 5000, 10)
	if err != nil {
		t.Errorf("exactly at the limit should pass, got %v", err)
	}
}

func TestCheckOrder_ZeroDisables(t *testing.T) {
	l := NewLimiter(0, 0, outcome.DefaultBand())

	err := l.CheckOrder(report(1<<40), "o1", model.Buy, 9900, 1_000_000)
	if err != nil {
		t.Errorf("zero limits should disable checks, got %v", err)
	}

	neg := NewLimiter(-1, -5, outcome.DefaultBand())
	if neg.MaxPerOutcome != 0 || neg.MaxTotal != 0 {
		t.Errorf("negative limits should clamp to zero: %+v", neg)
	}
}

func TestUtilisation(t *testing.T) {
	l := NewLimiter(0, 30000, outcome.DefaultBand())

	got := l.Utilisation(report(10000))
	if !got.Equal(decimal.RequireFromString("33.33")) {
		t.Errorf("expected 33.33, got %s", got)
	}

	if !NewLimiter(0, 0, outcome.DefaultBand()).Utilisation(report(10000)).IsZero() {
		t.Error("utilisation without a total limit should be zero")
	}
}
