// Package ledger implements cost-basis position accounting for fills.
//
// Every fill updates one or two position rows and, whenever either leg
// realizes profit, rounds a basis, or has no real counterparty, the
// per-outcome system row. Across all rows of an outcome, including the
// system row, net quantity and closed profit always sum to exactly zero.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/outcome"
	"github.com/atmx/clob-engine/internal/store"
)

// PositionStore is the slice of the store the ledger reads and writes.
type PositionStore interface {
	GetPosition(ctx context.Context, outcomeID string, owner model.Owner) (*model.Position, error)
	SavePosition(ctx context.Context, p *model.Position) error
}

// Path identifies which update routine a fill went through.
type Path string

const (
	PathTwoSided   Path = "two_sided"
	PathSameUser   Path = "same_user"
	PathTakerOnly  Path = "taker_only"  // maker is the system
	PathMakerOnly  Path = "maker_only"  // taker is the system
	PathSystemOnly Path = "system_only" // both legs are the system
)

// Route picks the update path for a fill between taker and maker.
func Route(taker, maker model.Owner) Path {
	switch {
	case !taker.IsSystem() && !maker.IsSystem() && taker == maker:
		return PathSameUser
	case !taker.IsSystem() && !maker.IsSystem():
		return PathTwoSided
	case !taker.IsSystem():
		return PathTakerOnly
	case !maker.IsSystem():
		return PathMakerOnly
	default:
		return PathSystemOnly
	}
}

// Fill is the ledger's view of one match.
type Fill struct {
	OutcomeID string
	Taker     model.Owner
	TakerSide model.Side
	Maker     model.Owner
	Price     int64
	Quantity  int64
}

// Offset is a pending adjustment to an outcome's system row.
type Offset struct {
	Realized int64 // added to the system row's closed profit
	NetDelta int64 // added to the system row's net at Price
	Price    int64
	Residual int64 // added to the system row's rounding residual
}

// IsZero reports whether applying o would change nothing.
func (o Offset) IsZero() bool {
	return o.Realized == 0 && o.NetDelta == 0 && o.Residual == 0
}

// Result describes what one fill did to the ledger.
type Result struct {
	Path   Path
	Taker  *model.Position // nil for the system
	Maker  *model.Position // nil for the system; same row as Taker on PathSameUser
	Offset Offset
}

// Ledger applies fills to positions. It holds no state of its own; callers
// must serialize fills per outcome.
type Ledger struct {
	band   outcome.Band
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger that clamps bases into band.
func New(band outcome.Band, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		band:   band,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the timestamp source. Used by tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Apply updates positions for one fill, routing on who the counterparties
// are. The fill's order mutation and trade record are the caller's job.
func (l *Ledger) Apply(ctx context.Context, ps PositionStore, f Fill) (*Result, error) {
	if f.Quantity <= 0 {
		return nil, fmt.Errorf("ledger: fill quantity must be positive, got %d", f.Quantity)
	}

	switch path := Route(f.Taker, f.Maker); path {
	case PathTwoSided:
		return l.applyTwoSided(ctx, ps, f)
	case PathSameUser:
		return l.applySameUser(ctx, ps, f)
	case PathTakerOnly:
		pos, off, err := l.applyOneSided(ctx, ps, f.OutcomeID, f.Taker, f.TakerSide, f.Price, f.Quantity)
		if err != nil {
			return nil, err
		}
		return &Result{Path: path, Taker: pos, Offset: off}, nil
	case PathMakerOnly:
		pos, off, err := l.applyOneSided(ctx, ps, f.OutcomeID, f.Maker, f.TakerSide.Opposite(), f.Price, f.Quantity)
		if err != nil {
			return nil, err
		}
		return &Result{Path: path, Maker: pos, Offset: off}, nil
	default:
		// The system trading with itself moves nothing: its buy and sell
		// legs cancel on the one row.
		return &Result{Path: path}, nil
	}
}

// applyTwoSided coordinates rounding between two distinct users so the
// stored costs of both legs plus the booked residual equal the exact total.
func (l *Ledger) applyTwoSided(ctx context.Context, ps PositionStore, f Fill) (*Result, error) {
	tp, err := l.load(ctx, ps, f.OutcomeID, f.Taker)
	if err != nil {
		return nil, err
	}
	mp, err := l.load(ctx, ps, f.OutcomeID, f.Maker)
	if err != nil {
		return nil, err
	}

	tl := ApplyLeg(tp.Net, tp.Basis, f.TakerSide, f.Price, f.Quantity)
	ml := ApplyLeg(mp.Net, mp.Basis, f.TakerSide.Opposite(), f.Price, f.Quantity)
	exactTotal := tl.Exact + ml.Exact

	// Taker rounds first; the maker's cost is whatever is left of the
	// exact total, so only the maker's own rounding can leave a gap.
	takerBasis := BasisFor(tl.Exact, tl.Net, l.band)
	makerCost := exactTotal - takerBasis*abs(tl.Net)
	makerBasis := BasisFor(makerCost, ml.Net, l.band)
	residual := makerCost - makerBasis*abs(ml.Net)

	now := l.now()
	l.set(tp, tl.Net, takerBasis, tl.Realized, now)
	l.set(mp, ml.Net, makerBasis, ml.Realized, now)

	if err := ps.SavePosition(ctx, tp); err != nil {
		return nil, fmt.Errorf("save taker position: %w", err)
	}
	if err := ps.SavePosition(ctx, mp); err != nil {
		return nil, fmt.Errorf("save maker position: %w", err)
	}

	off := Offset{Realized: -(tl.Realized + ml.Realized), Residual: -residual}
	if err := l.SystemOffset(ctx, ps, f.OutcomeID, off); err != nil {
		return nil, err
	}
	return &Result{Path: PathTwoSided, Taker: tp, Maker: mp, Offset: off}, nil
}

// applySameUser runs both legs, taker first, against the user's one row.
// Net is unchanged so only realized profit and rounding reach the system.
func (l *Ledger) applySameUser(ctx context.Context, ps PositionStore, f Fill) (*Result, error) {
	pos, err := l.load(ctx, ps, f.OutcomeID, f.Taker)
	if err != nil {
		return nil, err
	}

	first := ApplyLeg(pos.Net, pos.Basis, f.TakerSide, f.Price, f.Quantity)
	firstBasis := BasisFor(first.Exact, first.Net, l.band)
	second := ApplyLeg(first.Net, firstBasis, f.TakerSide.Opposite(), f.Price, f.Quantity)
	secondBasis := BasisFor(second.Exact, second.Net, l.band)

	residual := (first.Exact - firstBasis*abs(first.Net)) + (second.Exact - secondBasis*abs(second.Net))
	realized := first.Realized + second.Realized

	l.set(pos, second.Net, secondBasis, realized, l.now())
	if err := ps.SavePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}

	off := Offset{Realized: -realized, Residual: -residual}
	if err := l.SystemOffset(ctx, ps, f.OutcomeID, off); err != nil {
		return nil, err
	}
	return &Result{Path: PathSameUser, Taker: pos, Maker: pos, Offset: off}, nil
}

// applyOneSided updates the only real user on a fill and hands the system
// row the opposite net change at the fill price.
func (l *Ledger) applyOneSided(ctx context.Context, ps PositionStore, outcomeID string, owner model.Owner, side model.Side, price, qty int64) (*model.Position, Offset, error) {
	pos, err := l.load(ctx, ps, outcomeID, owner)
	if err != nil {
		return nil, Offset{}, err
	}

	leg := ApplyLeg(pos.Net, pos.Basis, side, price, qty)
	basis := BasisFor(leg.Exact, leg.Net, l.band)
	residual := leg.Exact - basis*abs(leg.Net)
	netDelta := leg.Net - pos.Net

	l.set(pos, leg.Net, basis, leg.Realized, l.now())
	if err := ps.SavePosition(ctx, pos); err != nil {
		return nil, Offset{}, fmt.Errorf("save position: %w", err)
	}

	off := Offset{
		Realized: -leg.Realized,
		NetDelta: -netDelta,
		Price:    price,
		Residual: -residual,
	}
	if err := l.SystemOffset(ctx, ps, outcomeID, off); err != nil {
		return nil, Offset{}, err
	}
	return pos, off, nil
}

// SystemOffset applies off to the outcome's system row, creating it if
// absent. It is the only writer of the system row.
//
// A net change is blended into the system row's own weighted-average
// basis. The system row never realizes profit itself: its closed profit
// moves only by Realized, and rounding of its own basis is booked to
// Residual like any other gap.
func (l *Ledger) SystemOffset(ctx context.Context, ps PositionStore, outcomeID string, off Offset) error {
	if off.IsZero() {
		return nil
	}

	sys, err := l.load(ctx, ps, outcomeID, model.System())
	if err != nil {
		return err
	}

	sys.Closed += off.Realized
	sys.Residual += off.Residual

	if off.NetDelta != 0 {
		side := model.Buy
		if off.NetDelta < 0 {
			side = model.Sell
		}
		leg := ApplyLeg(sys.Net, sys.Basis, side, off.Price, abs(off.NetDelta))
		basis := BasisFor(leg.Exact, leg.Net, l.band)
		sys.Residual -= leg.Exact - basis*abs(leg.Net)
		sys.Net = leg.Net
		sys.Basis = basis
	}
	sys.UpdatedAt = l.now()

	if err := ps.SavePosition(ctx, sys); err != nil {
		return fmt.Errorf("save system position: %w", err)
	}

	l.logger.Debug("system offset applied",
		"outcome", outcomeID,
		"realized", off.Realized,
		"net_delta", off.NetDelta,
		"price", off.Price,
		"residual", off.Residual,
	)
	return nil
}

// load returns the stored position or a fresh zero row.
func (l *Ledger) load(ctx context.Context, ps PositionStore, outcomeID string, owner model.Owner) (*model.Position, error) {
	p, err := ps.GetPosition(ctx, outcomeID, owner)
	if errors.Is(err, store.ErrNotFound) {
		return &model.Position{OutcomeID: outcomeID, Owner: owner}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load position %s/%s: %w", outcomeID, owner, err)
	}
	return p, nil
}

func (l *Ledger) set(p *model.Position, net, basis, realized int64, at time.Time) {
	p.Net = net
	p.Basis = basis
	p.Closed += realized
	p.UpdatedAt = at
}
