package server

import "github.com/shopspring/decimal"

type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Direction     string          `json:"direction"`
	Size          decimal.Decimal `json:"size"`
	Leverage      decimal.Decimal `json:"leverage"`
	SlippageBps   *int            `json:"slippage_bps,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	// TickSize is only read by the direct endpoint; zero means the first
	// configured candidate.
	TickSize decimal.Decimal `json:"tick_size"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
