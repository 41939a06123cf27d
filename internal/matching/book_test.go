package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/store"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func restingOrder(id string, owner model.Owner, side model.Side, price, qty int64, at time.Time) *model.Order {
	return &model.Order{
		ID: id, OutcomeID: "o1", Owner: owner, Side: side,
		Price: price, Original: qty, Remaining: qty,
		Status: model.StatusOpen, CreatedAt: at, UpdatedAt: at,
	}
}

func seed(t *testing.T, ms *store.MemoryStore, orders ...*model.Order) {
	t.Helper()
	for _, o := range orders {
		if err := ms.InsertOrder(context.Background(), o); err != nil {
			t.Fatalf("InsertOrder(%s): %v", o.ID, err)
		}
	}
}

func TestBookQuery_PriceTimePriority(t *testing.T) {
	ms := store.NewMemoryStore()
	t1, t2, t3 := t0, t0.Add(time.Second), t0.Add(2*time.Second)
	seed(t, ms,
		restingOrder("a60", model.User("m1"), model.Sell, 6000, 10, t2),
		restingOrder("a55-late", model.User("m2"), model.Sell, 5500, 10, t3),
		restingOrder("a55-early", model.User("m3"), model.Sell, 5500, 10, t1),
	)

	book, err := BookQuery(context.Background(), ms, "o1", model.Buy, nil)
	if err != nil {
		t.Fatalf("BookQuery: %v", err)
	}

	var ids []string
	for _, o := range book {
		ids = append(ids, o.ID)
	}
	want := []string{"a55-early", "a55-late", "a60"}
	if len(ids) != len(want) {
		t.Fatalf("book = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("book = %v, want %v", ids, want)
		}
	}
}

func TestBookQuery_BidsDescending(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms,
		restingOrder("b40", model.User("m1"), model.Buy, 4000, 1, t0),
		restingOrder("b45", model.User("m2"), model.Buy, 4500, 1, t0.Add(time.Second)),
		restingOrder("ask", model.User("m3"), model.Sell, 6000, 1, t0),
	)

	book, err := BookQuery(context.Background(), ms, "o1", model.Sell, nil)
	if err != nil {
		t.Fatalf("BookQuery: %v", err)
	}
	if len(book) != 2 || book[0].ID != "b45" || book[1].ID != "b40" {
		t.Fatalf("unexpected bid book %+v", book)
	}
}

func TestBookQuery_RejectsMalformedExclude(t *testing.T) {
	ms := store.NewMemoryStore()
	bad := "not a user; drop table"
	if _, err := BookQuery(context.Background(), ms, "o1", model.Buy, &bad); !errors.Is(err, model.ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	empty := ""
	if _, err := BookQuery(context.Background(), ms, "o1", model.Buy, &empty); !errors.Is(err, model.ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID for empty id, got %v", err)
	}
}

// leakyBook ignores exclusion and status, as a buggy store might.
type leakyBook struct{ orders []model.Order }

func (l leakyBook) ListBook(context.Context, string, model.Side, *string) ([]model.Order, error) {
	out := make([]model.Order, len(l.orders))
	copy(out, l.orders)
	return out, nil
}

func TestBookQuery_FiltersDefensively(t *testing.T) {
	self := "alice"
	lb := leakyBook{orders: []model.Order{
		*restingOrder("own", model.User("alice"), model.Sell, 5000, 5, t0),
		*restingOrder("other", model.User("bob"), model.Sell, 5100, 5, t0),
		*restingOrder("house", model.System(), model.Sell, 5200, 5, t0),
		{ID: "done", OutcomeID: "o1", Owner: model.User("carol"), Side: model.Sell, Price: 4000, Status: model.StatusFilled},
		*restingOrder("wrong-side", model.User("dave"), model.Buy, 4000, 5, t0),
	}}

	book, err := BookQuery(context.Background(), lb, "o1", model.Buy, &self)
	if err != nil {
		t.Fatalf("BookQuery: %v", err)
	}
	if len(book) != 2 || book[0].ID != "other" || book[1].ID != "house" {
		t.Fatalf("expected [other house], got %+v", book)
	}
}

func TestSnapshot_AggregatesLevels(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms,
		restingOrder("b1", model.User("m1"), model.Buy, 4500, 3, t0),
		restingOrder("b2", model.User("m2"), model.Buy, 4500, 2, t0.Add(time.Second)),
		restingOrder("b3", model.User("m3"), model.Buy, 4000, 7, t0),
		restingOrder("a1", model.User("m4"), model.Sell, 5500, 4, t0),
	)

	d, err := Snapshot(context.Background(), ms, "o1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(d.Bids) != 2 || d.Bids[0] != (Level{Price: 4500, Quantity: 5, Orders: 2}) || d.Bids[1] != (Level{Price: 4000, Quantity: 7, Orders: 1}) {
		t.Errorf("unexpected bids %+v", d.Bids)
	}
	if len(d.Asks) != 1 || d.Asks[0] != (Level{Price: 5500, Quantity: 4, Orders: 1}) {
		t.Errorf("unexpected asks %+v", d.Asks)
	}

	bid, ask, bidOK, askOK := d.BestPrices()
	if !bidOK || !askOK || bid != 4500 || ask != 5500 {
		t.Errorf("BestPrices = %d/%d (%v/%v)", bid, ask, bidOK, askOK)
	}
}
