package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atmx/clob-engine/internal/model"
)

type positionKey struct {
	outcomeID string
	owner     model.Owner
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	outcomes  map[string]*model.Outcome
	orders    map[string]*model.Order
	positions map[positionKey]*model.Position
	trades    []model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		outcomes:  make(map[string]*model.Outcome),
		orders:    make(map[string]*model.Order),
		positions: make(map[positionKey]*model.Position),
	}
}

func (s *MemoryStore) CreateOutcome(_ context.Context, o *model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outcomes[o.ID]; ok {
		return fmt.Errorf("%w: outcome %s", ErrConflict, o.ID)
	}
	for _, existing := range s.outcomes {
		if existing.Ticker == o.Ticker {
			return fmt.Errorf("%w: outcome for ticker %s", ErrConflict, o.Ticker)
		}
	}

	// Store a copy to avoid external mutation.
	copy := *o
	s.outcomes[o.ID] = &copy
	return nil
}

func (s *MemoryStore) GetOutcome(_ context.Context, id string) (*model.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.outcomes[id]
	if !ok {
		return nil, fmt.Errorf("%w: outcome %s", ErrNotFound, id)
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) ListOutcomes(_ context.Context) ([]model.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outcomes := make([]model.Outcome, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		outcomes = append(outcomes, *o)
	}
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].CreatedAt.After(outcomes[j].CreatedAt)
	})
	return outcomes, nil
}

func (s *MemoryStore) InsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s", ErrConflict, o.ID)
	}
	copy := *o
	s.orders[o.ID] = &copy
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) UpdateOrderState(_ context.Context, id string, remaining int64, status model.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	o.Remaining = remaining
	o.Status = status
	o.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListBook(_ context.Context, outcomeID string, side model.Side, exclude *string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var book []model.Order
	for _, o := range s.orders {
		if o.OutcomeID != outcomeID || o.Side != side || !o.Resting() || o.Remaining <= 0 {
			continue
		}
		if exclude != nil {
			if uid, ok := o.Owner.UserID(); ok && uid == *exclude {
				continue
			}
		}
		book = append(book, *o)
	}
	sort.Slice(book, func(i, j int) bool {
		return model.PriorityLess(&book[i], &book[j])
	})
	return book, nil
}

func (s *MemoryStore) ListUserOrders(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if uid, ok := o.Owner.UserID(); ok && uid == userID && o.Resting() {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, outcomeID string, owner model.Owner) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey{outcomeID, owner}]
	if !ok {
		return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, outcomeID, owner)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) SavePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.positions[positionKey{p.OutcomeID, p.Owner}] = &copy
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, outcomeID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for k, p := range s.positions {
		if k.outcomeID == outcomeID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Owner.String() < result[j].Owner.String()
	})
	return result, nil
}

func (s *MemoryStore) ListUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for k, p := range s.positions {
		if uid, ok := k.owner.UserID(); ok && uid == userID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OutcomeID < result[j].OutcomeID
	})
	return result, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, outcomeID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].OutcomeID != outcomeID {
			continue
		}
		result = append(result, s.trades[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) ListOrderTrades(_ context.Context, orderID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.TakerOrderID == orderID || t.MakerOrderID == orderID {
			result = append(result, t)
		}
	}
	return result, nil
}

// InTx serializes transactions and restores a snapshot taken before fn if
// fn fails, so a failed matching pass leaves no partial writes.
func (s *MemoryStore) InTx(_ context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(memTx{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// memTx is the view handed to InTx callbacks; nested InTx calls join the
// outer transaction.
type memTx struct {
	*MemoryStore
}

func (t memTx) InTx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}

type memSnapshot struct {
	outcomes  map[string]model.Outcome
	orders    map[string]model.Order
	positions map[positionKey]model.Position
	trades    int
}

func (s *MemoryStore) snapshot() memSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memSnapshot{
		outcomes:  make(map[string]model.Outcome, len(s.outcomes)),
		orders:    make(map[string]model.Order, len(s.orders)),
		positions: make(map[positionKey]model.Position, len(s.positions)),
		trades:    len(s.trades),
	}
	for k, v := range s.outcomes {
		snap.outcomes[k] = *v
	}
	for k, v := range s.orders {
		snap.orders[k] = *v
	}
	for k, v := range s.positions {
		snap.positions[k] = *v
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = make(map[string]*model.Outcome, len(snap.outcomes))
	for k, v := range snap.outcomes {
		v := v
		s.outcomes[k] = &v
	}
	s.orders = make(map[string]*model.Order, len(snap.orders))
	for k, v := range snap.orders {
		v := v
		s.orders[k] = &v
	}
	s.positions = make(map[positionKey]*model.Position, len(snap.positions))
	for k, v := range snap.positions {
		v := v
		s.positions[k] = &v
	}
	s.trades = s.trades[:snap.trades]
}
