package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/clob-engine/internal/ledger"
	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/store"
)

// RiskOffStats describes how much of a fill closed each side's existing
// position and the profit realized on that closing portion.
type RiskOffStats struct {
	TakerQty int64
	TakerPnL int64
	MakerQty int64
	MakerPnL int64
}

// PositionReader is the slice of the store risk-off needs.
type PositionReader interface {
	GetPosition(ctx context.Context, outcomeID string, owner model.Owner) (*model.Position, error)
}

// ComputeRiskOff reads both counterparties' pre-fill positions and reports
// the closing portion of the fill for each. It must run before the ledger
// update for the same fill.
func ComputeRiskOff(ctx context.Context, pr PositionReader, outcomeID string, taker model.Owner, takerSide model.Side, maker model.Owner, price, qty int64) (RiskOffStats, error) {
	tp, err := currentPosition(ctx, pr, outcomeID, taker)
	if err != nil {
		return RiskOffStats{}, err
	}
	mp, err := currentPosition(ctx, pr, outcomeID, maker)
	if err != nil {
		return RiskOffStats{}, err
	}

	var s RiskOffStats
	s.TakerQty, s.TakerPnL = ledger.RiskOff(tp, takerSide, price, qty)
	s.MakerQty, s.MakerPnL = ledger.RiskOff(mp, takerSide.Opposite(), price, qty)
	return s, nil
}

func currentPosition(ctx context.Context, pr PositionReader, outcomeID string, owner model.Owner) (model.Position, error) {
	p, err := pr.GetPosition(ctx, outcomeID, owner)
	if errors.Is(err, store.ErrNotFound) {
		return model.Position{OutcomeID: outcomeID, Owner: owner}, nil
	}
	if err != nil {
		return model.Position{}, fmt.Errorf("load position %s/%s: %w", outcomeID, owner, err)
	}
	return *p, nil
}

// TradeWriter appends to the trade tape. Trades are never updated.
type TradeWriter interface {
	InsertTrade(ctx context.Context, t *model.Trade) error
}

// TradeInput is everything a trade record captures about one fill.
type TradeInput struct {
	OutcomeID    string
	TakerOrderID string
	MakerOrderID string
	Taker        model.Owner
	Maker        model.Owner
	TakerSide    model.Side
	Price        int64
	Quantity     int64
	RiskOff      RiskOffStats
	At           time.Time
}

// RecordTrade inserts exactly one immutable trade row for a fill.
func RecordTrade(ctx context.Context, tw TradeWriter, in TradeInput) (*model.Trade, error) {
	t := &model.Trade{
		ID:              uuid.New().String(),
		OutcomeID:       in.OutcomeID,
		TakerOrderID:    in.TakerOrderID,
		MakerOrderID:    in.MakerOrderID,
		Taker:           in.Taker,
		Maker:           in.Maker,
		TakerSide:       in.TakerSide,
		Price:           in.Price,
		Quantity:        in.Quantity,
		TakerRiskOffQty: in.RiskOff.TakerQty,
		TakerRiskOffPnL: in.RiskOff.TakerPnL,
		MakerRiskOffQty: in.RiskOff.MakerQty,
		MakerRiskOffPnL: in.RiskOff.MakerPnL,
		CreatedAt:       in.At,
	}
	if err := tw.InsertTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}
	return t, nil
}
