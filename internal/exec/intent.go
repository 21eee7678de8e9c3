package exec

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

func ParseDirection(v string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return "", fmt.Errorf("%w: direction %q", ErrInvalidIntent, v)
	}
}

func (d Direction) IsBuy() bool { return d == Long }

// Intent is one user-confirmed trade. It is never mutated by the engine.
type Intent struct {
	Symbol        string          `json:"symbol"`
	Direction     Direction       `json:"direction"`
	Size          decimal.Decimal `json:"size"`
	Leverage      decimal.Decimal `json:"leverage"`
	SlippageBps   int             `json:"slippage_bps"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
}

func (i Intent) validate() error {
	if strings.TrimSpace(i.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidIntent)
	}
	if i.Direction != Long && i.Direction != Short {
		return fmt.Errorf("%w: direction %q", ErrInvalidIntent, i.Direction)
	}
	if i.ClientOrderID != "" && !validCloid(i.ClientOrderID) {
		return fmt.Errorf("%w: client order id must be 0x followed by 32 hex digits", ErrInvalidIntent)
	}
	return nil
}

// NewCloid returns a random 16-byte client order id in the venue's hex form.
func NewCloid() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}

func validCloid(v string) bool {
	if len(v) != 34 || !strings.HasPrefix(v, "0x") {
		return false
	}
	_, err := hex.DecodeString(v[2:])
	return err == nil
}
