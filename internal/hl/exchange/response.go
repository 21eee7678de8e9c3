package exchange

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrorCode is the structured reason behind a venue rejection. Raw venue
// messages are only inspected in this file.
type ErrorCode string

const (
	CodeNone               ErrorCode = ""
	CodeTickSize           ErrorCode = "tick_size"
	CodeInsufficientMargin ErrorCode = "insufficient_margin"
	CodeMinNotional        ErrorCode = "min_notional"
	CodeNoLiquidity        ErrorCode = "no_liquidity"
	CodeLeverage           ErrorCode = "leverage"
	CodeAuth               ErrorCode = "auth"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeUnknown            ErrorCode = "unknown"
)

type StatusKind string

const (
	StatusFilled  StatusKind = "filled"
	StatusResting StatusKind = "resting"
	StatusError   StatusKind = "error"
)

var ErrUnrecognizedResponse = errors.New("unrecognized exchange response")

// OrderStatus is the normalized first status of an order reply.
type OrderStatus struct {
	Kind    StatusKind
	OrderID string
	AvgPx   decimal.Decimal
	TotalSz decimal.Decimal
	Error   string
	Code    ErrorCode
}

// ActionStatus is the normalized reply to a non-order action such as
// updateLeverage.
type ActionStatus struct {
	OK    bool
	Error string
	Code  ErrorCode
}

// ClassifyOrderResponse maps a raw order reply onto OrderStatus. An explicit
// error wins over fill data, which wins over a resting record. Any other shape
// yields ErrUnrecognizedResponse.
func ClassifyOrderResponse(resp map[string]any) (OrderStatus, error) {
	if resp == nil {
		return OrderStatus{}, fmt.Errorf("%w: empty body", ErrUnrecognizedResponse)
	}
	status, _ := resp["status"].(string)
	switch status {
	case "err":
		msg := messageFromAny(resp["response"])
		return OrderStatus{Kind: StatusError, Error: msg, Code: ClassifyError(msg)}, nil
	case "ok":
	default:
		return OrderStatus{}, fmt.Errorf("%w: status %q", ErrUnrecognizedResponse, status)
	}
	body, ok := resp["response"].(map[string]any)
	if !ok {
		return OrderStatus{}, fmt.Errorf("%w: missing response body", ErrUnrecognizedResponse)
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		return OrderStatus{}, fmt.Errorf("%w: missing response data", ErrUnrecognizedResponse)
	}
	statuses, ok := data["statuses"].([]any)
	if !ok || len(statuses) == 0 {
		return OrderStatus{}, fmt.Errorf("%w: missing statuses", ErrUnrecognizedResponse)
	}
	first, ok := statuses[0].(map[string]any)
	if !ok {
		if s, isString := statuses[0].(string); isString {
			return OrderStatus{}, fmt.Errorf("%w: status %q", ErrUnrecognizedResponse, s)
		}
		return OrderStatus{}, fmt.Errorf("%w: status entry %T", ErrUnrecognizedResponse, statuses[0])
	}
	if raw, ok := first["error"]; ok {
		msg := messageFromAny(raw)
		return OrderStatus{Kind: StatusError, Error: msg, Code: ClassifyError(msg)}, nil
	}
	if filled, ok := first["filled"].(map[string]any); ok {
		avgPx, err := decimalFromAny(filled["avgPx"])
		if err != nil {
			return OrderStatus{}, fmt.Errorf("%w: filled avgPx: %v", ErrUnrecognizedResponse, err)
		}
		totalSz, err := decimalFromAny(filled["totalSz"])
		if err != nil {
			return OrderStatus{}, fmt.Errorf("%w: filled totalSz: %v", ErrUnrecognizedResponse, err)
		}
		return OrderStatus{
			Kind:    StatusFilled,
			OrderID: stringFromAny(filled["oid"]),
			AvgPx:   avgPx,
			TotalSz: totalSz,
		}, nil
	}
	if resting, ok := first["resting"].(map[string]any); ok {
		oid := stringFromAny(resting["oid"])
		if oid == "" {
			return OrderStatus{}, fmt.Errorf("%w: resting without oid", ErrUnrecognizedResponse)
		}
		return OrderStatus{Kind: StatusResting, OrderID: oid}, nil
	}
	return OrderStatus{}, fmt.Errorf("%w: unknown status keys %v", ErrUnrecognizedResponse, keysOf(first))
}

// ClassifyActionResponse interprets the reply to a non-order action.
func ClassifyActionResponse(resp map[string]any) (ActionStatus, error) {
	if resp == nil {
		return ActionStatus{}, fmt.Errorf("%w: empty body", ErrUnrecognizedResponse)
	}
	status, _ := resp["status"].(string)
	switch status {
	case "ok":
		return ActionStatus{OK: true}, nil
	case "err":
		msg := messageFromAny(resp["response"])
		return ActionStatus{Error: msg, Code: ClassifyError(msg)}, nil
	default:
		return ActionStatus{}, fmt.Errorf("%w: status %q", ErrUnrecognizedResponse, status)
	}
}

// ClassifyError maps a venue error message onto an ErrorCode.
func ClassifyError(msg string) ErrorCode {
	m := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case m == "":
		return CodeUnknown
	case strings.Contains(m, "tick size"), strings.Contains(m, "tick_size"), strings.Contains(m, "invalid price"):
		return CodeTickSize
	case strings.Contains(m, "insufficient margin"):
		return CodeInsufficientMargin
	case strings.Contains(m, "minimum value"), strings.Contains(m, "min trade ntl"):
		return CodeMinNotional
	case strings.Contains(m, "could not immediately match"):
		return CodeNoLiquidity
	case strings.Contains(m, "leverage"):
		return CodeLeverage
	case strings.Contains(m, "does not exist"), strings.Contains(m, "signature"), strings.Contains(m, "unauthorized"):
		return CodeAuth
	case strings.Contains(m, "rate limit"), strings.Contains(m, "too many requests"):
		return CodeRateLimited
	default:
		return CodeUnknown
	}
}

// CodeForError classifies a transport-level error, surfacing rate limiting
// reported via HTTP status.
func CodeForError(err error) ErrorCode {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 {
			return CodeRateLimited
		}
		if code := ClassifyError(httpErr.Body); code != CodeUnknown {
			return code
		}
	}
	return CodeUnknown
}

func messageFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func decimalFromAny(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case string:
		return decimal.NewFromString(val)
	case float64:
		return decimal.NewFromFloat(val), nil
	case nil:
		return decimal.Decimal{}, errors.New("missing")
	default:
		return decimal.Decimal{}, fmt.Errorf("unexpected type %T", v)
	}
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
