package account

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeSource struct {
	perp      map[string]any
	orders    any
	err       error
	orderUsers []string
}

func (f *fakeSource) ClearinghouseState(ctx context.Context, user string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.perp, nil
}

func (f *fakeSource) OpenOrders(ctx context.Context, user string) (any, error) {
	f.orderUsers = append(f.orderUsers, user)
	return f.orders, nil
}

func clearinghousePayload() map[string]any {
	return map[string]any{
		"assetPositions": []any{
			map[string]any{
				"type": "oneWay",
				"position": map[string]any{
					"coin":          "ETH",
					"szi":           "-0.5",
					"entryPx":       "3100.5",
					"positionValue": "1550.25",
					"unrealizedPnl": "-12.3",
					"liquidationPx": nil,
					"marginUsed":    "155.02",
					"leverage":      map[string]any{"type": "isolated", "value": float64(10)},
				},
			},
			map[string]any{
				"type": "oneWay",
				"position": map[string]any{
					"coin":          "BTC",
					"szi":           "0.01",
					"entryPx":       "97000",
					"liquidationPx": "80123.4",
					"leverage":      map[string]any{"type": "cross", "value": float64(5)},
				},
			},
			map[string]any{
				"position": map[string]any{"coin": "SOL", "szi": "0.0"},
			},
		},
		"marginSummary": map[string]any{
			"accountValue":    "1000.5",
			"totalNtlPos":     "2520.25",
			"totalMarginUsed": "349.02",
		},
		"crossMaintenanceMarginUsed": "20.1",
		"withdrawable":               "651.48",
	}
}

func TestReconcileParsesPositionsAndMargin(t *testing.T) {
	src := &fakeSource{
		perp: clearinghousePayload(),
		orders: []any{
			map[string]any{"coin": "BTC", "side": "B", "limitPx": "90000", "sz": "0.02", "oid": float64(77), "timestamp": float64(1700000000000)},
			map[string]any{"coin": "BTC", "side": "A"},
		},
	}
	acct := New(src, zap.NewNop(), " 0xabc ")

	state, err := acct.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(state.Positions) != 2 {
		t.Fatalf("expected 2 open positions, got %d", len(state.Positions))
	}
	btc := state.Positions[0]
	if btc.Symbol != "BTC" || !btc.Size.Equal(decimal.RequireFromString("0.01")) || btc.Leverage != 5 || btc.LeverageType != "cross" {
		t.Fatalf("unexpected BTC position: %+v", btc)
	}
	eth := state.Positions[1]
	if !eth.Size.IsNegative() || !eth.LiquidationPrice.IsZero() || eth.Leverage != 10 {
		t.Fatalf("unexpected ETH position: %+v", eth)
	}
	if !state.Margin.AccountValue.Equal(decimal.RequireFromString("1000.5")) || !state.Margin.Withdrawable.Equal(decimal.RequireFromString("651.48")) {
		t.Fatalf("unexpected margin: %+v", state.Margin)
	}
	if len(state.OpenOrders) != 1 || state.OpenOrders[0].OrderID != "77" || state.OpenOrders[0].Side != "buy" {
		t.Fatalf("unexpected open orders: %+v", state.OpenOrders)
	}
	if len(src.orderUsers) != 1 || src.orderUsers[0] != "0xabc" {
		t.Fatalf("unexpected open orders request: %+v", src.orderUsers)
	}

	snap, ok := acct.Snapshot()
	if !ok || snap.User != "0xabc" || len(snap.Positions) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if _, ok := acct.Position("eth"); !ok {
		t.Fatalf("expected case-insensitive position lookup")
	}
}

func TestReconcileKeepsSnapshotOnError(t *testing.T) {
	src := &fakeSource{perp: clearinghousePayload()}
	acct := New(src, nil, "0xabc")
	if _, err := acct.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	src.err = errors.New("boom")
	if _, err := acct.Reconcile(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	snap, ok := acct.Snapshot()
	if !ok || len(snap.Positions) != 2 {
		t.Fatalf("expected previous snapshot to survive, got %+v", snap)
	}
}

func TestReconcileRequiresUser(t *testing.T) {
	acct := New(&fakeSource{}, nil, "")
	if _, err := acct.Reconcile(context.Background()); err == nil {
		t.Fatalf("expected error without user")
	}
	if _, ok := acct.Snapshot(); ok {
		t.Fatalf("expected no snapshot")
	}
}
