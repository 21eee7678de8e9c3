package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const unresolvedKeyPrefix = "attempt:unresolved:"

// UnresolvedAttempt marks an order whose outcome was never observed. The venue
// may still have filled it, so the marker survives restarts until a later
// attempt on the same symbol reaches a definite outcome.
type UnresolvedAttempt struct {
	Symbol       string `json:"symbol"`
	Direction    string `json:"direction"`
	Size         string `json:"size"`
	LimitPrice   string `json:"limit_price,omitempty"`
	Cloid        string `json:"cloid,omitempty"`
	RecordedAtMS int64  `json:"recorded_at_ms"`
}

func UnresolvedKey(symbol string) string {
	return unresolvedKeyPrefix + strings.ToUpper(strings.TrimSpace(symbol))
}

func LoadUnresolved(ctx context.Context, store Store, symbol string) (UnresolvedAttempt, bool, error) {
	if store == nil {
		return UnresolvedAttempt{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, UnresolvedKey(symbol))
	if err != nil {
		return UnresolvedAttempt{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return UnresolvedAttempt{}, false, nil
	}
	var attempt UnresolvedAttempt
	if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
		return UnresolvedAttempt{}, false, err
	}
	return attempt, true, nil
}

func SaveUnresolved(ctx context.Context, store Store, attempt UnresolvedAttempt) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	return store.Set(ctx, UnresolvedKey(attempt.Symbol), string(payload))
}

func ClearUnresolved(ctx context.Context, store Store, symbol string) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return store.Delete(ctx, UnresolvedKey(symbol))
}

// ListUnresolved returns every outstanding marker ordered by symbol.
func ListUnresolved(ctx context.Context, store Store) ([]UnresolvedAttempt, error) {
	if store == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := store.List(ctx, unresolvedKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]UnresolvedAttempt, 0, len(entries))
	for key, raw := range entries {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		var attempt UnresolvedAttempt
		if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, attempt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
