package matching

import (
	"testing"

	"github.com/atmx/clob-engine/internal/model"
)

func TestCrosses(t *testing.T) {
	cases := []struct {
		buy, sell int64
		want      bool
	}{
		{5000, 4000, true},
		{5000, 5000, true},
		{4999, 5000, false},
	}
	for _, tc := range cases {
		if got := Crosses(tc.buy, tc.sell); got != tc.want {
			t.Errorf("Crosses(%d, %d) = %v, want %v", tc.buy, tc.sell, got, tc.want)
		}
	}

	if !TakerCrosses(model.Buy, 5000, 4500) {
		t.Error("buy taker at 5000 should cross ask at 4500")
	}
	if TakerCrosses(model.Buy, 4000, 4500) {
		t.Error("buy taker at 4000 should not cross ask at 4500")
	}
	if !TakerCrosses(model.Sell, 4000, 5000) {
		t.Error("sell taker at 4000 should cross bid at 5000")
	}
	if TakerCrosses(model.Sell, 5500, 5000) {
		t.Error("sell taker at 5500 should not cross bid at 5000")
	}
}

func ask(id string, price, remaining int64) model.Order {
	return model.Order{ID: id, Side: model.Sell, Owner: model.User("m-" + id), Price: price, Original: remaining, Remaining: remaining, Status: model.StatusOpen}
}

func TestGenerateFills_MakerPriceAndQuantity(t *testing.T) {
	taker := model.Order{ID: "t", Side: model.Buy, Price: 6000, Original: 25, Remaining: 25}
	book := []model.Order{ask("a", 5500, 10), ask("b", 5800, 10), ask("c", 6000, 10)}

	fills := GenerateFills(taker, book)
	if len(fills) != 3 {
		t.Fatalf("expected 3 fills, got %d: %+v", len(fills), fills)
	}

	want := []model.Fill{
		{MakerOrderID: "a", Maker: model.User("m-a"), Price: 5500, Quantity: 10},
		{MakerOrderID: "b", Maker: model.User("m-b"), Price: 5800, Quantity: 10},
		{MakerOrderID: "c", Maker: model.User("m-c"), Price: 6000, Quantity: 5},
	}
	for i := range want {
		if fills[i] != want[i] {
			t.Errorf("fill %d = %+v, want %+v", i, fills[i], want[i])
		}
	}
}

func TestGenerateFills_ContinuesPastNonCrossing(t *testing.T) {
	taker := model.Order{ID: "t", Side: model.Buy, Price: 5000, Original: 10, Remaining: 10}
	// Not sorted: a non-crossing maker sits ahead of a crossing one.
	book := []model.Order{ask("far", 7000, 10), ask("near", 4900, 4)}

	fills := GenerateFills(taker, book)
	if len(fills) != 1 || fills[0].MakerOrderID != "near" || fills[0].Quantity != 4 {
		t.Fatalf("expected single fill of 4 against near, got %+v", fills)
	}
}

func TestGenerateFills_StopsWhenExhausted(t *testing.T) {
	taker := model.Order{ID: "t", Side: model.Sell, Price: 4000, Original: 5, Remaining: 5}
	book := []model.Order{
		{ID: "b1", Side: model.Buy, Price: 5000, Remaining: 5, Status: model.StatusOpen},
		{ID: "b2", Side: model.Buy, Price: 4500, Remaining: 5, Status: model.StatusOpen},
	}

	fills := GenerateFills(taker, book)
	if len(fills) != 1 || fills[0].MakerOrderID != "b1" || fills[0].Price != 5000 {
		t.Fatalf("expected one fill at 5000 against b1, got %+v", fills)
	}
}

func TestGenerateFills_SkipsEmptyAndSameSideMakers(t *testing.T) {
	taker := model.Order{ID: "t", Side: model.Buy, Price: 6000, Original: 5, Remaining: 5}
	book := []model.Order{
		ask("empty", 5000, 0),
		{ID: "bid", Side: model.Buy, Price: 5000, Remaining: 5, Status: model.StatusOpen},
		ask("ok", 5900, 5),
	}

	fills := GenerateFills(taker, book)
	if len(fills) != 1 || fills[0].MakerOrderID != "ok" {
		t.Fatalf("expected only the valid ask to fill, got %+v", fills)
	}
}

func TestGenerateFills_EmptyBook(t *testing.T) {
	taker := model.Order{ID: "t", Side: model.Buy, Price: 6000, Remaining: 5}
	if fills := GenerateFills(taker, nil); len(fills) != 0 {
		t.Errorf("expected no fills, got %+v", fills)
	}
}
