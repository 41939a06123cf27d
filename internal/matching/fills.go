package matching

import "github.com/atmx/clob-engine/internal/model"

// GenerateFills walks book on behalf of taker and returns the fills it
// would produce, each at the maker's price. Makers that do not cross are
// skipped rather than ending the walk, so book need not be cut off exactly
// at the crossing boundary. Nothing is persisted.
func GenerateFills(taker model.Order, book []model.Order) []model.Fill {
	remaining := taker.Remaining
	var fills []model.Fill

	for i := range book {
		if remaining <= 0 {
			break
		}
		maker := &book[i]
		if maker.Side == taker.Side || maker.Remaining <= 0 {
			continue
		}
		if !TakerCrosses(taker.Side, taker.Price, maker.Price) {
			continue
		}

		qty := min(remaining, maker.Remaining)
		fills = append(fills, model.Fill{
			MakerOrderID: maker.ID,
			Maker:        maker.Owner,
			Price:        maker.Price,
			Quantity:     qty,
		})
		remaining -= qty
	}
	return fills
}
