package market

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"hl-perp-trader/internal/hl/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestFeedAppliesAllMids(t *testing.T) {
	o := NewOracle(nil, zap.NewNop())
	lookup := func(symbol string) (int, bool) {
		if symbol == "BTC" {
			return 0, true
		}
		return 0, false
	}
	f := NewFeed(nil, o, lookup, zap.NewNop())
	fixed := time.Unix(1_700_000_000, 0)
	f.now = func() time.Time { return fixed }

	f.handleMessage(ws.Message{Channel: "allMids", Data: json.RawMessage(`{"mids":{"BTC":"97000.5","DOGE":"0.1"}}`)})
	f.handleMessage(ws.Message{Channel: "trades", Data: json.RawMessage(`{"mids":{"BTC":"1"}}`)})
	f.handleMessage(ws.Message{Channel: "allMids", Data: json.RawMessage(`not json`)})

	q, ok := o.Last(0)
	if !ok {
		t.Fatalf("expected BTC quote")
	}
	if !q.MarkPrice.Equal(decimal.RequireFromString("97000.5")) || !q.ObservedAt.Equal(fixed) {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestFeedKeepsVenueNamesAfterMagnitudeResolution(t *testing.T) {
	src := &fakeSource{payload: universePayload(asset{"BTC", 5, "12"}, asset{"XBT", 5, "97000"})}
	r := NewResolver(src, map[string]MagnitudeBand{"BTC": band("10000", "")}, zap.NewNop())
	desc, err := r.Resolve(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !desc.Ambiguous || desc.Index != 1 {
		t.Fatalf("expected BTC to resolve to XBT by magnitude, got %+v", desc)
	}

	o := NewOracle(nil, zap.NewNop())
	f := NewFeed(nil, o, r.IndexOf, zap.NewNop())
	f.handleMessage(ws.Message{Channel: "allMids", Data: json.RawMessage(`{"mids":{"BTC":"12.1"}}`)})
	if q, ok := o.Last(1); ok {
		t.Fatalf("asset 1 fallback holds a mid streamed for another asset: %s", q.MarkPrice)
	}
	if q, ok := o.Last(0); !ok || !q.MarkPrice.Equal(decimal.RequireFromString("12.1")) {
		t.Fatalf("expected BTC mid on asset 0, got %+v %v", q, ok)
	}

	f.handleMessage(ws.Message{Channel: "allMids", Data: json.RawMessage(`{"mids":{"XBT":"97010"}}`)})
	if q, ok := o.Last(1); !ok || !q.MarkPrice.Equal(decimal.RequireFromString("97010")) {
		t.Fatalf("expected XBT mid on asset 1, got %+v %v", q, ok)
	}
}
