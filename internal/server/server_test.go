package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hl-perp-trader/internal/account"
	"hl-perp-trader/internal/exec"
	"hl-perp-trader/internal/market"
	"hl-perp-trader/internal/state"
	"hl-perp-trader/internal/tradelog"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeEngine struct {
	intents    []exec.Intent
	directTick decimal.Decimal
	result     exec.Result
	err        error
	unresolved map[string]state.UnresolvedAttempt
}

func (f *fakeEngine) Execute(ctx context.Context, intent exec.Intent) (exec.Result, error) {
	f.intents = append(f.intents, intent)
	res := f.result
	res.Intent = intent
	return res, f.err
}

func (f *fakeEngine) ExecuteDirect(ctx context.Context, intent exec.Intent, tick decimal.Decimal) (exec.Result, error) {
	f.directTick = tick
	res, err := f.Execute(ctx, intent)
	res.Direct = true
	return res, err
}

func (f *fakeEngine) Unresolved(ctx context.Context, symbol string) (state.UnresolvedAttempt, bool, error) {
	marker, ok := f.unresolved[strings.ToUpper(symbol)]
	return marker, ok, nil
}

func (f *fakeEngine) ListUnresolved(ctx context.Context) ([]state.UnresolvedAttempt, error) {
	out := make([]state.UnresolvedAttempt, 0, len(f.unresolved))
	for _, marker := range f.unresolved {
		out = append(out, marker)
	}
	return out, nil
}

func (f *fakeEngine) DefaultSlippageBps() int { return 50 }

type fakeAssets struct{}

func (fakeAssets) Resolve(ctx context.Context, symbol string) (market.AssetDescriptor, error) {
	if symbol == "BTC" {
		return market.AssetDescriptor{Symbol: "BTC", Index: 0, SizeDecimals: 5, MaxLeverage: 40}, nil
	}
	if symbol == "DOWN" {
		return market.AssetDescriptor{}, fmt.Errorf("%w: timeout", market.ErrCatalogUnavailable)
	}
	return market.AssetDescriptor{}, fmt.Errorf("%w: %s", market.ErrUnknownAsset, symbol)
}

type fakeAccount struct{ err error }

func (f fakeAccount) Reconcile(ctx context.Context) (account.State, error) {
	if f.err != nil {
		return account.State{}, f.err
	}
	return account.State{User: "0xabc", Positions: []account.Position{{Symbol: "BTC", Size: decimal.RequireFromString("0.01")}}}, nil
}

type fakeTrades struct{ limit int }

func (f *fakeTrades) Recent(ctx context.Context, limit int) ([]tradelog.Record, error) {
	f.limit = limit
	return []tradelog.Record{{ID: "a", Symbol: "BTC", Status: "filled"}}, nil
}

func newTestServer(engine *fakeEngine, trades *fakeTrades) *httptest.Server {
	s := New(Options{
		Engine:  engine,
		Assets:  fakeAssets{},
		Account: fakeAccount{},
		Trades:  trades,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("hl_perp_trader_up 1\n"))
		}),
		Log: zap.NewNop(),
	})
	return httptest.NewServer(s.Handler())
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestExecuteEndpoint(t *testing.T) {
	engine := &fakeEngine{result: exec.Result{Outcome: exec.Outcome{Kind: exec.KindResting, OrderID: "9"}}}
	srv := newTestServer(engine, &fakeTrades{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/orders", `{"symbol":"BTC","direction":"long","size":"0.01","leverage":5}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	outcome, _ := body["outcome"].(map[string]any)
	if outcome["kind"] != "resting" || outcome["treatment"] != "success" {
		t.Fatalf("unexpected outcome: %v", body["outcome"])
	}
	if len(engine.intents) != 1 {
		t.Fatalf("expected one intent, got %d", len(engine.intents))
	}
	intent := engine.intents[0]
	if intent.Direction != exec.Long || intent.SlippageBps != 50 || !intent.Leverage.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestExecuteEndpointExplicitSlippage(t *testing.T) {
	engine := &fakeEngine{result: exec.Result{Outcome: exec.Outcome{Kind: exec.KindTimedOut}}}
	srv := newTestServer(engine, &fakeTrades{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/orders", `{"symbol":"ETH","direction":"sell","size":"1","leverage":"3","slippage_bps":0}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for a timed out attempt, got %d", resp.StatusCode)
	}
	if engine.intents[0].SlippageBps != 0 || engine.intents[0].Direction != exec.Short {
		t.Fatalf("unexpected intent: %+v", engine.intents[0])
	}
}

func TestExecuteEndpointConflict(t *testing.T) {
	engine := &fakeEngine{err: fmt.Errorf("BTC: %w", exec.ErrAttemptInFlight)}
	srv := newTestServer(engine, &fakeTrades{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/orders", `{"symbol":"BTC","direction":"long","size":"0.01","leverage":5}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestExecuteEndpointBadRequest(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(engine, &fakeTrades{})
	defer srv.Close()

	for _, body := range []string{
		`{"symbol":"BTC","direction":"up","size":"1","leverage":1}`,
		`{"symbol":"BTC","direction":"long","size":"abc"}`,
		`{"symbol":"BTC","direction":"long","bogus":true}`,
	} {
		resp := postJSON(t, srv.URL+"/api/v1/orders", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, resp.StatusCode)
		}
	}
	if len(engine.intents) != 0 {
		t.Fatalf("bad requests reached the engine")
	}
}

func TestExecuteDirectEndpoint(t *testing.T) {
	engine := &fakeEngine{result: exec.Result{Outcome: exec.Outcome{Kind: exec.KindFilled}}}
	srv := newTestServer(engine, &fakeTrades{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/orders/direct", `{"symbol":"BTC","direction":"long","size":"0.01","leverage":5,"tick_size":"0.5"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !engine.directTick.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected tick 0.5, got %s", engine.directTick)
	}
}

func TestUnresolvedEndpoint(t *testing.T) {
	engine := &fakeEngine{unresolved: map[string]state.UnresolvedAttempt{"BTC": {Symbol: "BTC", Cloid: "0x01"}}}
	srv := newTestServer(engine, &fakeTrades{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/orders/unresolved/BTC")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var marker state.UnresolvedAttempt
	if err := json.NewDecoder(resp.Body).Decode(&marker); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if marker.Cloid != "0x01" {
		t.Fatalf("unexpected marker: %+v", marker)
	}

	resp, err = http.Get(srv.URL + "/api/v1/orders/unresolved/ETH")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/orders/unresolved")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var list struct {
		Unresolved []state.UnresolvedAttempt `json:"unresolved"`
		Count      int                       `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Unresolved[0].Symbol != "BTC" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestAssetEndpoint(t *testing.T) {
	srv := newTestServer(&fakeEngine{}, &fakeTrades{})
	defer srv.Close()

	cases := map[string]int{"BTC": http.StatusOK, "NOPE": http.StatusNotFound, "DOWN": http.StatusServiceUnavailable}
	for symbol, want := range cases {
		resp, err := http.Get(srv.URL + "/api/v1/assets/" + symbol)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", symbol, want, resp.StatusCode)
		}
	}
}

func TestAccountEndpoint(t *testing.T) {
	s := New(Options{Account: fakeAccount{err: errors.New("venue down")}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/account")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}

	ok := newTestServer(&fakeEngine{}, &fakeTrades{})
	defer ok.Close()
	resp, err = http.Get(ok.URL + "/api/v1/account")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var st account.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if st.User != "0xabc" || len(st.Positions) != 1 {
		t.Fatalf("unexpected account state: %+v", st)
	}
}

func TestTradesEndpoint(t *testing.T) {
	trades := &fakeTrades{}
	srv := newTestServer(&fakeEngine{}, trades)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/trades?limit=5")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var records []tradelog.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if trades.limit != 5 || len(records) != 1 || records[0].Status != "filled" {
		t.Fatalf("unexpected trades: limit=%d records=%+v", trades.limit, records)
	}

	resp, err = http.Get(srv.URL + "/api/v1/trades?limit=x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(&fakeEngine{}, &fakeTrades{})
	defer srv.Close()

	for _, path := range []string{"/health", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}
