package matching

import "github.com/atmx/clob-engine/internal/model"

// Crosses reports whether a buy price meets a sell price.
func Crosses(buy, sell int64) bool {
	return buy >= sell
}

// TakerCrosses applies Crosses from the taker's side of the book.
func TakerCrosses(side model.Side, takerPrice, makerPrice int64) bool {
	if side == model.Buy {
		return Crosses(takerPrice, makerPrice)
	}
	return Crosses(makerPrice, takerPrice)
}
