package exec

import (
	"context"
	"errors"
	"fmt"

	"hl-perp-trader/internal/hl/exchange"
	"hl-perp-trader/internal/market"
	"hl-perp-trader/internal/pricing"
	"hl-perp-trader/internal/risk"

	"github.com/shopspring/decimal"
)

// Plan is the order an attempt would submit first, derived without any
// signed call.
type Plan struct {
	Asset      market.AssetDescriptor `json:"asset"`
	Quote      market.Quote           `json:"quote"`
	Size       decimal.Decimal        `json:"size"`
	Leverage   int                    `json:"leverage"`
	Cross      bool                   `json:"cross"`
	Ticks      []decimal.Decimal      `json:"ticks"`
	TickSize   decimal.Decimal        `json:"tick_size"`
	LimitPrice decimal.Decimal        `json:"limit_price"`
	Order      exchange.OrderWire     `json:"order"`
}

// Plan resolves and prices intent. It never touches the venue's signed
// endpoints, the trade log or the attempt guard.
func (e *Engine) Plan(ctx context.Context, intent Intent, tick decimal.Decimal) (Plan, error) {
	if err := intent.validate(); err != nil {
		return Plan{}, err
	}
	asset, err := e.resolve(ctx, intent.Symbol)
	if err != nil {
		if errors.Is(err, market.ErrUnknownAsset) {
			return Plan{}, fmt.Errorf("%w: %w", ErrInvalidIntent, err)
		}
		return Plan{}, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	quote, err := e.price(ctx, asset.Index)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrNoPriceAvailable, err)
	}
	size := pricing.RoundSize(intent.Size, asset.SizeDecimals)
	if err := risk.Check(e.opts.Limits, risk.Order{
		Size:             size,
		Price:            quote.MarkPrice,
		Leverage:         intent.Leverage,
		SlippageBps:      intent.SlippageBps,
		AssetMaxLeverage: asset.MaxLeverage,
	}); err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrInvalidIntent, err)
	}
	plan := Plan{
		Asset:    asset,
		Quote:    quote,
		Size:     size,
		Leverage: int(intent.Leverage.IntPart()),
		Cross:    e.opts.Cross && !asset.OnlyIsolated,
		Ticks:    e.candidates(intent.Symbol, asset, quote, tick),
	}
	calc := e.calc.ForAsset(asset.SizeDecimals)
	for _, candidate := range plan.Ticks {
		limit, err := calc.LimitPrice(quote.MarkPrice, intent.Direction.IsBuy(), intent.SlippageBps, candidate)
		if errors.Is(err, pricing.ErrInvariantViolation) {
			return Plan{}, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		}
		if err != nil {
			continue
		}
		order, err := exchange.LimitOrderWire(asset.Index, intent.Direction.IsBuy(), size, limit, false, exchange.TifIoc, intent.ClientOrderID)
		if err != nil {
			continue
		}
		plan.TickSize = candidate
		plan.LimitPrice = limit
		plan.Order = order
		return plan, nil
	}
	return plan, fmt.Errorf("%w: no candidate could be priced", ErrTickSizeExhausted)
}
