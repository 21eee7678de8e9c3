package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLimitPriceBuyScenario(t *testing.T) {
	price, err := New(5).LimitPrice(d("97000.23"), true, 200, d("0.5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(d("98941.0")) {
		t.Fatalf("expected 98941.0, got %s", price)
	}
}

func TestLimitPriceWithoutSigFigs(t *testing.T) {
	price, err := New(0).LimitPrice(d("97000.23"), true, 200, d("0.5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(d("98940.5")) {
		t.Fatalf("expected 98940.5, got %s", price)
	}
}

func TestLimitPriceSell(t *testing.T) {
	price, err := New(5).LimitPrice(d("97000.23"), false, 200, d("0.5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 95060.2254 -> 95060 (5 sig figs, down) -> already on 0.5 grid
	if !price.Equal(d("95060")) {
		t.Fatalf("expected 95060, got %s", price)
	}
}

func TestLimitPriceAggressivenessAndGrid(t *testing.T) {
	refs := []string{"97000.23", "3412.987", "151.0333", "0.98761", "0.0123456", "12", "250000"}
	ticks := []string{"0.001", "0.01", "0.1", "0.5", "1", "5", "10"}
	bps := []int{0, 1, 50, 200}
	calcs := []*Calculator{New(0), New(5), New(5).ForAsset(2)}
	for _, calc := range calcs {
		for _, ref := range refs {
			for _, tickStr := range ticks {
				for _, b := range bps {
					tick := d(tickStr)
					for _, isBuy := range []bool{true, false} {
						price, err := calc.LimitPrice(d(ref), isBuy, b, tick)
						if err != nil {
							if !isBuy && errors.Is(err, ErrInvalidInput) {
								continue
							}
							t.Fatalf("ref=%s tick=%s bps=%d buy=%v: %v", ref, tickStr, b, isBuy, err)
						}
						if !OnTick(price, tick) {
							t.Fatalf("ref=%s tick=%s: %s not on tick", ref, tickStr, price)
						}
						raw := Slipped(d(ref), isBuy, b)
						if isBuy && price.LessThan(raw) {
							t.Fatalf("buy ref=%s tick=%s bps=%d: %s less aggressive than %s", ref, tickStr, b, price, raw)
						}
						if !isBuy && price.GreaterThan(raw) {
							t.Fatalf("sell ref=%s tick=%s bps=%d: %s less aggressive than %s", ref, tickStr, b, price, raw)
						}
					}
				}
			}
		}
	}
}

func TestLimitPriceRejectsBadInput(t *testing.T) {
	calc := New(5)
	cases := []struct {
		ref  string
		tick string
		bps  int
		buy  bool
	}{
		{ref: "0", tick: "0.5", bps: 10, buy: true},
		{ref: "100", tick: "0", bps: 10, buy: true},
		{ref: "100", tick: "0.5", bps: -1, buy: true},
		{ref: "100", tick: "0.5", bps: 10_000, buy: false},
		{ref: "0.4", tick: "1", bps: 0, buy: false},
	}
	for _, tc := range cases {
		if _, err := calc.LimitPrice(d(tc.ref), tc.buy, tc.bps, d(tc.tick)); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%+v: expected ErrInvalidInput, got %v", tc, err)
		}
	}
}

func TestLimitPriceCorrectsDriftOnce(t *testing.T) {
	calls := 0
	calc := New(0)
	calc.snap = func(price, tick decimal.Decimal, isBuy bool) decimal.Decimal {
		calls++
		if calls == 1 {
			return SnapToTick(price, tick, isBuy).Add(d("0.0000001"))
		}
		return SnapToTick(price, tick, isBuy)
	}
	price, err := calc.LimitPrice(d("100.2"), true, 0, d("0.5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || !price.Equal(d("100.5")) {
		t.Fatalf("expected corrected 100.5 after 2 snaps, got %s after %d", price, calls)
	}
}

func TestLimitPriceInvariantViolation(t *testing.T) {
	calc := New(0)
	calc.snap = func(price, tick decimal.Decimal, isBuy bool) decimal.Decimal {
		return price.Add(tick.Div(decimal.NewFromInt(3)))
	}
	if _, err := calc.LimitPrice(d("100.2"), true, 0, d("0.5")); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestImpliedTick(t *testing.T) {
	cases := []struct {
		mark   string
		sz     int
		expect string
	}{
		{mark: "97000.23", sz: 5, expect: "1"},
		{mark: "3412.98", sz: 4, expect: "0.1"},
		{mark: "151.03", sz: 2, expect: "0.01"},
		{mark: "0.98761", sz: 0, expect: "0.00001"},
		{mark: "0.0123456", sz: 0, expect: "0.000001"},
		{mark: "0.0123456", sz: 2, expect: "0.0001"},
	}
	for _, tc := range cases {
		if got := ImpliedTick(d(tc.mark), 5, tc.sz); !got.Equal(d(tc.expect)) {
			t.Fatalf("mark %s sz %d: expected %s, got %s", tc.mark, tc.sz, tc.expect, got)
		}
	}
}

func TestRoundSize(t *testing.T) {
	if got := RoundSize(d("0.123456"), 3); !got.Equal(d("0.123")) {
		t.Fatalf("expected 0.123, got %s", got)
	}
	if got := RoundSize(d("0.0009"), 3); !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
	if got := RoundSize(d("1.5"), -1); !got.Equal(d("1.5")) {
		t.Fatalf("expected unchanged size, got %s", got)
	}
}

func TestCandidates(t *testing.T) {
	got := Candidates(d("1"), FromFloats([]float64{0.5, 0.1, 1, 0.5}))
	want := []string{"1", "0.5", "0.1"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if !got[i].Equal(d(want[i])) {
			t.Fatalf("index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if none := Candidates(decimal.Zero, nil); len(none) != 0 {
		t.Fatalf("expected no candidates, got %v", none)
	}
}
