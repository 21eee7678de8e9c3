package tradelog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one append-only entry per order attempt, whatever the outcome.
type Record struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	AssetIndex      int       `json:"asset_index"`
	Direction       string    `json:"direction"`
	Size            string    `json:"size"`
	Leverage        string    `json:"leverage"`
	EntryPrice      string    `json:"entry_price,omitempty"`
	TickSize        string    `json:"tick_size,omitempty"`
	Status          string    `json:"status"`
	ErrorCode       string    `json:"error_code,omitempty"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	ClientOrderID   string    `json:"client_order_id,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Submissions     int       `json:"submissions"`
	Direct          bool      `json:"direct"`
	Ambiguous       bool      `json:"ambiguous"`
	Timestamp       time.Time `json:"timestamp"`
}

// Sink persists records. Append is called exactly once per attempt.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Prepare fills the ID and timestamp when unset.
func Prepare(rec Record, now time.Time) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now.UTC()
	}
	return rec
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}
