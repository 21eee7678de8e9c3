package account

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source is the read-only /info surface the account view needs.
type Source interface {
	ClearinghouseState(ctx context.Context, user string) (map[string]any, error)
	OpenOrders(ctx context.Context, user string) (any, error)
}

type Position struct {
	Symbol           string          `json:"symbol"`
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	PositionValue    decimal.Decimal `json:"position_value"`
	UnrealizedPnl    decimal.Decimal `json:"unrealized_pnl"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	MarginUsed       decimal.Decimal `json:"margin_used"`
	Leverage         int             `json:"leverage"`
	LeverageType     string          `json:"leverage_type"`
}

type Margin struct {
	AccountValue      decimal.Decimal `json:"account_value"`
	TotalNotional     decimal.Decimal `json:"total_notional"`
	TotalMarginUsed   decimal.Decimal `json:"total_margin_used"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
	Withdrawable      decimal.Decimal `json:"withdrawable"`
}

type OpenOrder struct {
	OrderID     string          `json:"order_id"`
	Cloid       string          `json:"cloid,omitempty"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	LimitPrice  decimal.Decimal `json:"limit_price"`
	Size        decimal.Decimal `json:"size"`
	TimestampMS int64           `json:"timestamp_ms"`
}

type State struct {
	User       string      `json:"user"`
	Positions  []Position  `json:"positions"`
	Margin     Margin      `json:"margin"`
	OpenOrders []OpenOrder `json:"open_orders"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Account is the dashboard's read-only view of positions and margin. The
// engine never consults it.
type Account struct {
	source Source
	log    *zap.Logger
	user   string
	now    func() time.Time

	mu    sync.RWMutex
	state State
	have  bool
}

func New(source Source, log *zap.Logger, user string) *Account {
	if log == nil {
		log = zap.NewNop()
	}
	return &Account{source: source, log: log, user: strings.TrimSpace(user), now: time.Now}
}

func (a *Account) User() string { return a.user }

// Reconcile fetches positions, margin and open orders and replaces the
// cached snapshot.
func (a *Account) Reconcile(ctx context.Context) (State, error) {
	if a.source == nil {
		return State{}, errors.New("account source is required")
	}
	if a.user == "" {
		return State{}, errors.New("account user is required")
	}
	perp, err := a.source.ClearinghouseState(ctx, a.user)
	if err != nil {
		return State{}, err
	}
	orders, err := a.source.OpenOrders(ctx, a.user)
	if err != nil {
		return State{}, err
	}
	state := State{
		User:       a.user,
		Positions:  parsePositions(perp),
		Margin:     parseMargin(perp),
		OpenOrders: parseOpenOrders(orders),
		UpdatedAt:  a.now().UTC(),
	}
	a.mu.Lock()
	a.state = state
	a.have = true
	a.mu.Unlock()
	a.log.Debug("account reconciled",
		zap.Int("positions", len(state.Positions)),
		zap.Int("open_orders", len(state.OpenOrders)),
		zap.String("account_value", state.Margin.AccountValue.String()),
	)
	return copyState(state), nil
}

// Snapshot returns the last reconciled state.
func (a *Account) Snapshot() (State, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyState(a.state), a.have
}

// Position returns the open position on symbol, if any.
func (a *Account) Position(symbol string) (Position, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.state.Positions {
		if strings.EqualFold(p.Symbol, symbol) {
			return p, true
		}
	}
	return Position{}, false
}

func parsePositions(payload map[string]any) []Position {
	raw, ok := payload["assetPositions"].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	positions := make([]Position, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		pos := entry
		if nested, ok := entry["position"].(map[string]any); ok {
			pos = nested
		}
		symbol := stringFromAny(pos["coin"])
		if symbol == "" {
			continue
		}
		size := decimalFromAny(pos["szi"])
		if size.IsZero() {
			continue
		}
		p := Position{
			Symbol:           symbol,
			Size:             size,
			EntryPrice:       decimalFromAny(pos["entryPx"]),
			PositionValue:    decimalFromAny(pos["positionValue"]),
			UnrealizedPnl:    decimalFromAny(pos["unrealizedPnl"]),
			LiquidationPrice: decimalFromAny(pos["liquidationPx"]),
			MarginUsed:       decimalFromAny(pos["marginUsed"]),
		}
		if lev, ok := pos["leverage"].(map[string]any); ok {
			p.Leverage = int(decimalFromAny(lev["value"]).IntPart())
			p.LeverageType = stringFromAny(lev["type"])
		}
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions
}

func parseMargin(payload map[string]any) Margin {
	summary, _ := payload["marginSummary"].(map[string]any)
	if cross, ok := payload["crossMarginSummary"].(map[string]any); ok && summary == nil {
		summary = cross
	}
	return Margin{
		AccountValue:      decimalFromAny(summary["accountValue"]),
		TotalNotional:     decimalFromAny(summary["totalNtlPos"]),
		TotalMarginUsed:   decimalFromAny(summary["totalMarginUsed"]),
		MaintenanceMargin: decimalFromAny(payload["crossMaintenanceMarginUsed"]),
		Withdrawable:      decimalFromAny(payload["withdrawable"]),
	}
}

func parseOpenOrders(payload any) []OpenOrder {
	var raw []any
	switch v := payload.(type) {
	case []any:
		raw = v
	case map[string]any:
		raw, _ = v["openOrders"].([]any)
	}
	if len(raw) == 0 {
		return nil
	}
	orders := make([]OpenOrder, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := stringFromAny(entry["oid"])
		if id == "" {
			continue
		}
		orders = append(orders, OpenOrder{
			OrderID:     id,
			Cloid:       stringFromAny(entry["cloid"]),
			Symbol:      stringFromAny(entry["coin"]),
			Side:        sideName(stringFromAny(entry["side"])),
			LimitPrice:  decimalFromAny(entry["limitPx"]),
			Size:        decimalFromAny(entry["sz"]),
			TimestampMS: int64FromAny(entry["timestamp"]),
		})
	}
	return orders
}

func sideName(side string) string {
	switch strings.ToUpper(side) {
	case "B":
		return "buy"
	case "A":
		return "sell"
	default:
		return strings.ToLower(side)
	}
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', 0, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

// decimalFromAny returns zero for missing or unparsable values; the venue
// sends null liquidation prices for unleveraged positions.
func decimalFromAny(v any) decimal.Decimal {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func int64FromAny(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return i
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err == nil {
			return i
		}
	}
	return 0
}

func copyState(state State) State {
	out := state
	if state.Positions != nil {
		out.Positions = append([]Position(nil), state.Positions...)
	}
	if state.OpenOrders != nil {
		out.OpenOrders = append([]OpenOrder(nil), state.OpenOrders...)
	}
	return out
}
