package feed_test

import (
	"testing"

	"marginledger/internal/feed"
)

func TestParseTick_Valid(t *testing.T) {
	tick, err := feed.ParseTick([]byte(`{"symbol":"SOL","price":149.5,"timestamp":1700000000000,"volume":12.5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tick.Symbol != "SOL" || tick.Price != 149.5 || tick.Timestamp != 1700000000000 {
		t.Errorf("unexpected tick: %+v", tick)
	}
}

func TestParseTick_ZeroPriceIsValid(t *testing.T) {
	// Zero is a degenerate but representable price; only negative and
	// non-finite values are rejected.
	tick, err := feed.ParseTick([]byte(`{"symbol":"SOL","price":0}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tick.Price != 0 {
		t.Errorf("price: got %v, want 0", tick.Price)
	}
}

func TestParseTick_Malformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `tick SOL 149.5`},
		{"empty object", `{}`},
		{"missing symbol", `{"price":149.5}`},
		{"missing price", `{"symbol":"SOL"}`},
		{"negative price", `{"symbol":"SOL","price":-1}`},
		{"string price", `{"symbol":"SOL","price":"149.5"}`},
		{"nan price", `{"symbol":"SOL","price":NaN}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := feed.ParseTick([]byte(tc.data)); err == nil {
				t.Errorf("expected error for %s", tc.data)
			}
		})
	}
}
