package model

// PriorityLess orders resting orders on the same side by price-time
// priority: lowest ask or highest bid first, then earliest creation, then
// id for a total order.
func PriorityLess(a, b *Order) bool {
	if a.Price != b.Price {
		if a.Side == Sell {
			return a.Price < b.Price
		}
		return a.Price > b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
