package exec

import (
	"encoding/json"
	"errors"
	"fmt"

	"hl-perp-trader/internal/hl/exchange"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindFilled         Kind = "filled"
	KindResting        Kind = "resting"
	KindRejected       Kind = "rejected"
	KindTransportError Kind = "transport_error"
	KindTimedOut       Kind = "timed_out"
)

// Outcome terminates exactly one attempt.
type Outcome struct {
	Kind       Kind
	OrderID    string
	AvgPrice   decimal.Decimal
	FilledSize decimal.Decimal
	Reason     string
	Code       exchange.ErrorCode
	Err        error
	// Unconfirmed is set when an order may have reached the venue but no
	// answer was observed.
	Unconfirmed bool
}

type Treatment string

const (
	TreatmentSuccess  Treatment = "success"
	TreatmentRejected Treatment = "rejected"
	TreatmentUnknown  Treatment = "unknown"
)

func filled(st exchange.OrderStatus) Outcome {
	return Outcome{Kind: KindFilled, OrderID: st.OrderID, AvgPrice: st.AvgPx, FilledSize: st.TotalSz}
}

func resting(st exchange.OrderStatus) Outcome {
	return Outcome{Kind: KindResting, OrderID: st.OrderID}
}

func rejected(reason string, code exchange.ErrorCode, err error) Outcome {
	return Outcome{Kind: KindRejected, Reason: reason, Code: code, Err: err}
}

func transportError(reason string, code exchange.ErrorCode, err error) Outcome {
	return Outcome{Kind: KindTransportError, Reason: reason, Code: code, Err: err}
}

func timedOut() Outcome {
	return Outcome{Kind: KindTimedOut, Reason: ErrTimedOut.Error(), Err: ErrTimedOut, Unconfirmed: true}
}

// Success reports whether the venue explicitly accepted the order.
func (o Outcome) Success() bool {
	return o.Kind == KindFilled || o.Kind == KindResting
}

// Definite reports whether the venue gave an answer for a submitted order.
func (o Outcome) Definite() bool {
	return !o.Unconfirmed && o.Kind != KindTimedOut && o.Kind != KindTransportError
}

func (o Outcome) Invariant() bool {
	return errors.Is(o.Err, ErrInvariantViolation)
}

func (o Outcome) Treatment() Treatment {
	switch {
	case o.Success():
		return TreatmentSuccess
	case o.Kind == KindTimedOut, o.Unconfirmed:
		return TreatmentUnknown
	default:
		return TreatmentRejected
	}
}

// UserMessage is the text shown to the person who confirmed the trade.
func (o Outcome) UserMessage() string {
	switch o.Treatment() {
	case TreatmentSuccess:
		if o.Kind == KindFilled {
			return fmt.Sprintf("Order filled: %s at %s (order %s).", o.FilledSize, o.AvgPrice, o.OrderID)
		}
		return fmt.Sprintf("Order accepted and resting (order %s).", o.OrderID)
	case TreatmentUnknown:
		return "The order outcome is unknown. Check your positions before retrying."
	}
	switch {
	case errors.Is(o.Err, ErrInvalidIntent):
		return "Invalid order: " + o.Reason
	case errors.Is(o.Err, ErrTickSizeExhausted):
		return "No price increment was accepted for this asset. Retry with the direct path and an explicit tick size."
	case errors.Is(o.Err, ErrLeverageConfigFailed) && o.Code != exchange.CodeAuth:
		return "Leverage could not be set. Choose a value within the asset's leverage limit."
	}
	switch o.Code {
	case exchange.CodeInsufficientMargin:
		return "Insufficient margin. Reduce size or leverage, or add collateral."
	case exchange.CodeMinNotional:
		return "Order value is below the venue minimum. Increase the size."
	case exchange.CodeLeverage:
		return "Leverage rejected. Choose a value within the asset's leverage limit."
	case exchange.CodeTickSize:
		return "Limit price was not on the asset's tick grid. Retry with a different tick size."
	case exchange.CodeNoLiquidity:
		return "No liquidity within the slippage bound. Widen slippage or retry."
	case exchange.CodeAuth:
		return "The venue rejected the signing credentials. Check the configured wallet."
	case exchange.CodeRateLimited:
		return "Rate limited by the venue. Wait a moment and retry."
	}
	if o.Kind == KindTransportError {
		return "Could not reach the venue: " + o.Reason
	}
	return "Order rejected: " + o.Reason
}

type outcomeJSON struct {
	Kind        Kind               `json:"kind"`
	Treatment   Treatment          `json:"treatment"`
	Message     string             `json:"message"`
	OrderID     string             `json:"order_id,omitempty"`
	AvgPrice    *decimal.Decimal   `json:"avg_price,omitempty"`
	FilledSize  *decimal.Decimal   `json:"filled_size,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Code        exchange.ErrorCode `json:"code,omitempty"`
	Unconfirmed bool               `json:"unconfirmed,omitempty"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	view := outcomeJSON{
		Kind:        o.Kind,
		Treatment:   o.Treatment(),
		Message:     o.UserMessage(),
		OrderID:     o.OrderID,
		Reason:      o.Reason,
		Code:        o.Code,
		Unconfirmed: o.Unconfirmed,
	}
	if o.Kind == KindFilled {
		avg, size := o.AvgPrice, o.FilledSize
		view.AvgPrice = &avg
		view.FilledSize = &size
	}
	return json.Marshal(view)
}
