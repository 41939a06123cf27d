// Package store defines the persistence interface for the matching engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/clob-engine/internal/model"
)

var (
	// ErrNotFound is returned by point lookups that match no row.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an insert collides with an existing row.
	ErrConflict = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Outcome registry ---

	// CreateOutcome persists a new outcome. Tickers are unique.
	CreateOutcome(ctx context.Context, o *model.Outcome) error

	// GetOutcome retrieves an outcome by its ID.
	GetOutcome(ctx context.Context, id string) (*model.Outcome, error)

	// ListOutcomes returns all outcomes, newest first.
	ListOutcomes(ctx context.Context) ([]model.Outcome, error)

	// --- Orders ---

	// InsertOrder persists a freshly submitted order.
	InsertOrder(ctx context.Context, o *model.Order) error

	// GetOrder is a point lookup by order ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// UpdateOrderState writes remaining size and status. Original size is
	// never touched.
	UpdateOrderState(ctx context.Context, id string, remaining int64, status model.Status, at time.Time) error

	// ListBook returns the open/partial orders resting on side for an
	// outcome in price-time priority, excluding exclude's orders when set.
	ListBook(ctx context.Context, outcomeID string, side model.Side, exclude *string) ([]model.Order, error)

	// ListUserOrders returns a user's open/partial orders across outcomes.
	ListUserOrders(ctx context.Context, userID string) ([]model.Order, error)

	// --- Positions ---

	// GetPosition is a point lookup by (outcome, owner), including the
	// system row.
	GetPosition(ctx context.Context, outcomeID string, owner model.Owner) (*model.Position, error)

	// SavePosition inserts or replaces a position row.
	SavePosition(ctx context.Context, p *model.Position) error

	// ListPositions returns every position row for an outcome, system row
	// included.
	ListPositions(ctx context.Context, outcomeID string) ([]model.Position, error)

	// ListUserPositions returns a user's position rows across outcomes.
	ListUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Immutable trade tape ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTrades returns an outcome's most recent trades, newest first.
	ListTrades(ctx context.Context, outcomeID string, limit int) ([]model.Trade, error)

	// ListOrderTrades returns every trade an order took part in, oldest first.
	ListOrderTrades(ctx context.Context, orderID string) ([]model.Trade, error)

	// --- Transactions ---

	// InTx runs fn against a transactional view of the store. Writes made
	// through that view are committed only if fn returns nil.
	InTx(ctx context.Context, fn func(Store) error) error
}

// OutcomeLocker is implemented by transactional views that can serialize
// writers on one outcome for the rest of the transaction.
type OutcomeLocker interface {
	LockOutcome(ctx context.Context, outcomeID string) error
}
