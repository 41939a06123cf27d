package matching

import (
	"context"
	"fmt"
	"sort"

	"github.com/atmx/clob-engine/internal/model"
)

// BookReader is the slice of the store the book query needs.
type BookReader interface {
	ListBook(ctx context.Context, outcomeID string, side model.Side, exclude *string) ([]model.Order, error)
}

// BookQuery returns the resting orders a taker on takerSide can match, best
// price first, then earliest, then by id. Orders owned by exclude are
// removed even if the store lets them through.
func BookQuery(ctx context.Context, br BookReader, outcomeID string, takerSide model.Side, exclude *string) ([]model.Order, error) {
	if exclude != nil {
		if err := model.ValidateUserID(*exclude); err != nil {
			return nil, err
		}
	}
	if !takerSide.Valid() {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidSide, takerSide)
	}

	makerSide := takerSide.Opposite()
	orders, err := br.ListBook(ctx, outcomeID, makerSide, exclude)
	if err != nil {
		return nil, fmt.Errorf("list %s book for %s: %w", makerSide, outcomeID, err)
	}

	book := orders[:0]
	for _, o := range orders {
		if o.OutcomeID != outcomeID || o.Side != makerSide || !o.Resting() || o.Remaining <= 0 {
			continue
		}
		if exclude != nil {
			if uid, ok := o.Owner.UserID(); ok && uid == *exclude {
				continue
			}
		}
		book = append(book, o)
	}

	sort.SliceStable(book, func(i, j int) bool {
		return model.PriorityLess(&book[i], &book[j])
	})
	return book, nil
}

// --- Snapshot ---

// Level is the resting size at one price.
type Level struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// Depth is an aggregated view of both sides of an outcome's book.
type Depth struct {
	OutcomeID string  `json:"outcome_id"`
	Bids      []Level `json:"bids"` // highest first
	Asks      []Level `json:"asks"` // lowest first
}

// Snapshot aggregates the resting book into price levels.
func Snapshot(ctx context.Context, br BookReader, outcomeID string) (*Depth, error) {
	d := &Depth{OutcomeID: outcomeID, Bids: []Level{}, Asks: []Level{}}

	// A sell taker sees the bids; a buy taker sees the asks.
	bids, err := BookQuery(ctx, br, outcomeID, model.Sell, nil)
	if err != nil {
		return nil, err
	}
	asks, err := BookQuery(ctx, br, outcomeID, model.Buy, nil)
	if err != nil {
		return nil, err
	}
	d.Bids = levels(bids)
	d.Asks = levels(asks)
	return d, nil
}

// BestPrices returns the best bid and ask, with ok false for an empty side.
func (d *Depth) BestPrices() (bid, ask int64, bidOK, askOK bool) {
	if len(d.Bids) > 0 {
		bid, bidOK = d.Bids[0].Price, true
	}
	if len(d.Asks) > 0 {
		ask, askOK = d.Asks[0].Price, true
	}
	return bid, ask, bidOK, askOK
}

// levels relies on book already being in priority order.
func levels(book []model.Order) []Level {
	out := []Level{}
	for _, o := range book {
		if n := len(out); n > 0 && out[n-1].Price == o.Price {
			out[n-1].Quantity += o.Remaining
			out[n-1].Orders++
			continue
		}
		out = append(out, Level{Price: o.Price, Quantity: o.Remaining, Orders: 1})
	}
	return out
}
