package market

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// AssetInfo is one perp universe entry joined with its live context.
type AssetInfo struct {
	Symbol       string
	Index        int
	SizeDecimals int
	MaxLeverage  int
	OnlyIsolated bool
	Delisted     bool
	MarkPrice    decimal.Decimal
	OraclePrice  decimal.Decimal
	FundingRate  decimal.Decimal
}

func parseUniverse(payload any) ([]AssetInfo, error) {
	universe, ctxs := extractUniverseAndCtxs(payload, "assetCtxs")
	if len(universe) == 0 {
		return nil, errors.New("metaAndAssetCtxs missing universe")
	}
	result := make([]AssetInfo, 0, len(universe))
	for i, entry := range universe {
		meta, ok := toMap(entry)
		if !ok {
			continue
		}
		name := stringFromMap(meta, "name", "coin", "symbol")
		if name == "" {
			continue
		}
		info := AssetInfo{
			Symbol:       name,
			Index:        intFromAny(meta["index"], i),
			SizeDecimals: intFromAny(meta["szDecimals"], -1),
			MaxLeverage:  intFromAny(meta["maxLeverage"], 0),
			OnlyIsolated: boolFromAny(meta["onlyIsolated"]),
			Delisted:     boolFromAny(meta["isDelisted"]),
		}
		if ctx, ok := indexedMap(ctxs, i); ok {
			info.MarkPrice = decimalFromMap(ctx, "markPx", "markPrice", "mark")
			info.OraclePrice = decimalFromMap(ctx, "oraclePx", "oraclePrice", "oracle")
			info.FundingRate = decimalFromMap(ctx, "funding", "fundingRate")
		}
		result = append(result, info)
	}
	if len(result) == 0 {
		return nil, errors.New("no perp assets parsed")
	}
	return result, nil
}

func extractUniverseAndCtxs(payload any, ctxKey string) ([]any, []any) {
	if arr, ok := toSlice(payload); ok && len(arr) >= 2 {
		metaMap, _ := toMap(arr[0])
		if metaMap != nil {
			if universe, ok := toSlice(metaMap["universe"]); ok {
				ctxs, _ := toSlice(arr[1])
				return universe, ctxs
			}
		}
		if universe, ok := toSlice(arr[0]); ok {
			ctxs, _ := toSlice(arr[1])
			return universe, ctxs
		}
	}
	if metaMap, ok := toMap(payload); ok {
		universe, _ := toSlice(metaMap["universe"])
		ctxs, _ := toSlice(metaMap[ctxKey])
		if len(ctxs) == 0 {
			ctxs, _ = toSlice(metaMap["assetCtxs"])
		}
		return universe, ctxs
	}
	return nil, nil
}

// parseMids reads the symbol -> mid map from an allMids push or /info reply.
func parseMids(payload map[string]any) map[string]decimal.Decimal {
	var mids map[string]any
	if data, ok := payload["data"].(map[string]any); ok {
		if raw, ok := data["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		if raw, ok := payload["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		// /info allMids returns a flat map of symbol -> mid.
		if _, hasData := payload["data"]; !hasData {
			if _, hasChannel := payload["channel"]; !hasChannel {
				mids = payload
			}
		}
	}
	out := make(map[string]decimal.Decimal, len(mids))
	for symbol, v := range mids {
		if px, ok := decimalFromAny(v); ok && px.IsPositive() {
			out[symbol] = px
		}
	}
	return out
}

func indexedMap(items []any, idx int) (map[string]any, bool) {
	if idx < 0 || idx >= len(items) {
		return nil, false
	}
	return toMap(items[idx])
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func boolFromAny(v any) bool {
	b, _ := v.(bool)
	return b
}

func decimalFromMap(m map[string]any, keys ...string) decimal.Decimal {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if d, ok := decimalFromAny(v); ok {
				return d
			}
		}
	}
	return decimal.Zero
}

func decimalFromAny(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func intFromAny(v any, fallback int) int {
	if f, ok := floatFromAny(v); ok {
		return int(f)
	}
	return fallback
}
