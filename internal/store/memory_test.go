package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atmx/clob-engine/internal/model"
)

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func order(id string, owner model.Owner, side model.Side, price, qty int64, at time.Time) *model.Order {
	return &model.Order{
		ID: id, OutcomeID: "o1", Owner: owner, Side: side, Price: price,
		Original: qty, Remaining: qty, Status: model.StatusOpen, CreatedAt: at, UpdatedAt: at,
	}
}

func TestMemoryStore_OutcomeConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := &model.Outcome{ID: "o1", Ticker: "PRES2028-DEM", Status: model.OutcomeOpen, CreatedAt: t0}

	if err := s.CreateOutcome(ctx, o); err != nil {
		t.Fatalf("CreateOutcome: %v", err)
	}
	if err := s.CreateOutcome(ctx, o); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate id: expected ErrConflict, got %v", err)
	}
	dup := &model.Outcome{ID: "o2", Ticker: "PRES2028-DEM", Status: model.OutcomeOpen}
	if err := s.CreateOutcome(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate ticker: expected ErrConflict, got %v", err)
	}
	if _, err := s.GetOutcome(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListBook(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	orders := []*model.Order{
		order("a1", model.User("alice"), model.Sell, 5500, 5, t0.Add(2*time.Second)),
		order("a2", model.User("bob"), model.Sell, 5500, 5, t0),
		order("a3", model.System(), model.Sell, 5000, 5, t0.Add(time.Second)),
		order("b1", model.User("carol"), model.Buy, 4000, 5, t0),
	}
	for _, o := range orders {
		if err := s.InsertOrder(ctx, o); err != nil {
			t.Fatalf("InsertOrder: %v", err)
		}
	}
	// Filled and canceled orders never rest.
	filled := order("a4", model.User("dave"), model.Sell, 4000, 5, t0)
	filled.Remaining, filled.Status = 0, model.StatusFilled
	canceled := order("a5", model.User("erin"), model.Sell, 4000, 5, t0)
	canceled.Status = model.StatusCanceled
	s.InsertOrder(ctx, filled)
	s.InsertOrder(ctx, canceled)

	book, err := s.ListBook(ctx, "o1", model.Sell, nil)
	if err != nil {
		t.Fatalf("ListBook: %v", err)
	}
	assertIDs(t, book, "a3", "a2", "a1")

	exclude := "bob"
	book, _ = s.ListBook(ctx, "o1", model.Sell, &exclude)
	assertIDs(t, book, "a3", "a1")

	book, _ = s.ListBook(ctx, "other", model.Sell, nil)
	assertIDs(t, book)
}

func assertIDs(t *testing.T, orders []model.Order, want ...string) {
	t.Helper()
	if len(orders) != len(want) {
		t.Fatalf("got %d orders %+v, want %v", len(orders), orders, want)
	}
	for i, o := range orders {
		if o.ID != want[i] {
			t.Fatalf("order %d = %s, want %s (all: %+v)", i, o.ID, want[i], orders)
		}
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.InsertOrder(ctx, order("o", model.User("u"), model.Buy, 5000, 10, t0))

	got, _ := s.GetOrder(ctx, "o")
	got.Remaining = 0

	again, _ := s.GetOrder(ctx, "o")
	if again.Remaining != 10 {
		t.Errorf("stored order mutated through returned pointer: %d", again.Remaining)
	}
}

func TestMemoryStore_PositionsKeyedByOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.SavePosition(ctx, &model.Position{OutcomeID: "o1", Owner: model.User("u"), Net: 5})
	s.SavePosition(ctx, &model.Position{OutcomeID: "o1", Owner: model.System(), Net: -5})
	s.SavePosition(ctx, &model.Position{OutcomeID: "o2", Owner: model.User("u"), Net: 1})

	sys, err := s.GetPosition(ctx, "o1", model.System())
	if err != nil || sys.Net != -5 {
		t.Fatalf("system row: %+v, %v", sys, err)
	}
	all, _ := s.ListPositions(ctx, "o1")
	if len(all) != 2 {
		t.Errorf("expected 2 rows for o1, got %d", len(all))
	}
	mine, _ := s.ListUserPositions(ctx, "u")
	if len(mine) != 2 || mine[0].OutcomeID != "o1" || mine[1].OutcomeID != "o2" {
		t.Errorf("unexpected user positions %+v", mine)
	}
}

func TestMemoryStore_TradeOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i, id := range []string{"t1", "t2", "t3"} {
		s.InsertTrade(ctx, &model.Trade{ID: id, OutcomeID: "o1", TakerOrderID: "taker", MakerOrderID: id + "-maker", Quantity: int64(i + 1)})
	}

	recent, _ := s.ListTrades(ctx, "o1", 2)
	if len(recent) != 2 || recent[0].ID != "t3" || recent[1].ID != "t2" {
		t.Errorf("ListTrades should be newest first, got %+v", recent)
	}
	history, _ := s.ListOrderTrades(ctx, "taker")
	if len(history) != 3 || history[0].ID != "t1" {
		t.Errorf("ListOrderTrades should be oldest first, got %+v", history)
	}
	history, _ = s.ListOrderTrades(ctx, "t2-maker")
	if len(history) != 1 {
		t.Errorf("maker history: %+v", history)
	}
}

func TestMemoryStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.InsertOrder(ctx, order("keep", model.User("u"), model.Buy, 5000, 10, t0))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Store) error {
		if err := tx.UpdateOrderState(ctx, "keep", 3, model.StatusPartial, t0); err != nil {
			return err
		}
		tx.InsertOrder(ctx, order("new", model.User("u"), model.Sell, 6000, 1, t0))
		tx.SavePosition(ctx, &model.Position{OutcomeID: "o1", Owner: model.User("u"), Net: 7})
		tx.InsertTrade(ctx, &model.Trade{ID: "t", OutcomeID: "o1"})

		// Nested transactions join the outer one.
		return tx.InTx(ctx, func(Store) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	keep, _ := s.GetOrder(ctx, "keep")
	if keep.Remaining != 10 || keep.Status != model.StatusOpen {
		t.Errorf("order update not rolled back: %+v", keep)
	}
	if _, err := s.GetOrder(ctx, "new"); !errors.Is(err, ErrNotFound) {
		t.Errorf("insert not rolled back: %v", err)
	}
	if _, err := s.GetPosition(ctx, "o1", model.User("u")); !errors.Is(err, ErrNotFound) {
		t.Errorf("position not rolled back: %v", err)
	}
	if trades, _ := s.ListTrades(ctx, "o1", 0); len(trades) != 0 {
		t.Errorf("trade not rolled back: %+v", trades)
	}
}

func TestMemoryStore_InTxCommits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.InTx(ctx, func(tx Store) error {
		return tx.InsertOrder(ctx, order("o", model.User("u"), model.Buy, 5000, 1, t0))
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if _, err := s.GetOrder(ctx, "o"); err != nil {
		t.Errorf("commit lost: %v", err)
	}
}
