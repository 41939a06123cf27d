package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/clob-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for outcomes and per-user position lists. Matching reads always go
// to the primary; only portfolio-style reads are served from Redis.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration

	// pending collects keys invalidated inside a transaction; they are
	// deleted once the transaction commits. nil outside a transaction.
	pending *pendingKeys
}

type pendingKeys struct {
	mu   sync.Mutex
	keys []string
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Transactions ---

func (s *CachedStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.pending != nil {
		return fn(s)
	}
	pending := &pendingKeys{}
	err := s.primary.InTx(ctx, func(tx Store) error {
		return fn(&CachedStore{primary: tx, rdb: s.rdb, ttl: s.ttl, pending: pending})
	})
	if err != nil {
		return err
	}
	if len(pending.keys) > 0 {
		s.rdb.Del(ctx, pending.keys...)
	}
	return nil
}

// LockOutcome forwards to the primary's transactional view when it
// supports advisory locks.
func (s *CachedStore) LockOutcome(ctx context.Context, outcomeID string) error {
	if l, ok := s.primary.(OutcomeLocker); ok {
		return l.LockOutcome(ctx, outcomeID)
	}
	return nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateOutcome(ctx context.Context, o *model.Outcome) error {
	if err := s.primary.CreateOutcome(ctx, o); err != nil {
		return err
	}
	s.invalidate(ctx, outcomeKey(o.ID))
	return nil
}

func (s *CachedStore) SavePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.SavePosition(ctx, p); err != nil {
		return err
	}
	if uid, ok := p.Owner.UserID(); ok {
		s.invalidate(ctx, positionsKey(uid))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOutcome(ctx context.Context, id string) (*model.Outcome, error) {
	data, err := s.rdb.Get(ctx, outcomeKey(id)).Bytes()
	if err == nil {
		var o model.Outcome
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	// Cache miss: read from primary.
	o, err := s.primary.GetOutcome(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(o); err == nil {
		s.rdb.Set(ctx, outcomeKey(id), data, s.ttl)
	}
	return o, nil
}

func (s *CachedStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	// Inside a transaction the cache may be stale relative to our writes.
	if s.pending != nil {
		return s.primary.ListUserPositions(ctx, userID)
	}

	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	// Cache miss.
	positions, err := s.primary.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListOutcomes(ctx context.Context) ([]model.Outcome, error) {
	return s.primary.ListOutcomes(ctx)
}

func (s *CachedStore) InsertOrder(ctx context.Context, o *model.Order) error {
	return s.primary.InsertOrder(ctx, o)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) UpdateOrderState(ctx context.Context, id string, remaining int64, status model.Status, at time.Time) error {
	return s.primary.UpdateOrderState(ctx, id, remaining, status, at)
}

func (s *CachedStore) ListBook(ctx context.Context, outcomeID string, side model.Side, exclude *string) ([]model.Order, error) {
	return s.primary.ListBook(ctx, outcomeID, side, exclude)
}

func (s *CachedStore) ListUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return s.primary.ListUserOrders(ctx, userID)
}

func (s *CachedStore) GetPosition(ctx context.Context, outcomeID string, owner model.Owner) (*model.Position, error) {
	return s.primary.GetPosition(ctx, outcomeID, owner)
}

func (s *CachedStore) ListPositions(ctx context.Context, outcomeID string) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, outcomeID)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) ListTrades(ctx context.Context, outcomeID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, outcomeID, limit)
}

func (s *CachedStore) ListOrderTrades(ctx context.Context, orderID string) ([]model.Trade, error) {
	return s.primary.ListOrderTrades(ctx, orderID)
}

// --- Cache helpers ---

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if s.pending == nil {
		s.rdb.Del(ctx, key)
		return
	}
	s.pending.mu.Lock()
	s.pending.keys = append(s.pending.keys, key)
	s.pending.mu.Unlock()
}

func outcomeKey(id string) string    { return fmt.Sprintf("outcome:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
