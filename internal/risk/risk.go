package risk

import (
	"errors"
	"fmt"

	"hl-perp-trader/internal/config"

	"github.com/shopspring/decimal"
)

var (
	ErrSize            = errors.New("size must be > 0")
	ErrSlippage        = errors.New("slippage must be >= 0")
	ErrLeverageRange   = errors.New("leverage out of range")
	ErrLeverageInteger = errors.New("leverage must be a whole number")
	ErrMinNotional     = errors.New("notional below minimum")
	ErrMaxNotional     = errors.New("notional exceeds configured maximum")
)

type Limits struct {
	MaxLeverage    decimal.Decimal
	MinNotionalUSD decimal.Decimal
	MaxNotionalUSD decimal.Decimal
}

func LimitsFromConfig(cfg config.EngineConfig) Limits {
	return Limits{
		MaxLeverage:    decimal.NewFromFloat(cfg.MaxLeverage),
		MinNotionalUSD: decimal.NewFromFloat(cfg.MinNotionalUSD),
		MaxNotionalUSD: decimal.NewFromFloat(cfg.MaxNotionalUSD),
	}
}

// Order is what the pre-trade checks look at. AssetMaxLeverage of zero means
// the venue did not report a cap.
type Order struct {
	Size             decimal.Decimal
	Price            decimal.Decimal
	Leverage         decimal.Decimal
	SlippageBps      int
	AssetMaxLeverage int
}

// Check runs the pre-trade bound checks. Price may be zero when the reference
// is not known yet, in which case notional bounds are skipped.
func Check(limits Limits, o Order) error {
	if !o.Size.IsPositive() {
		return ErrSize
	}
	if o.SlippageBps < 0 {
		return fmt.Errorf("%d bps: %w", o.SlippageBps, ErrSlippage)
	}
	if err := CheckLeverage(limits, o.Leverage, o.AssetMaxLeverage); err != nil {
		return err
	}
	if !o.Price.IsPositive() {
		return nil
	}
	notional := o.Size.Mul(o.Price)
	if limits.MinNotionalUSD.IsPositive() && notional.LessThan(limits.MinNotionalUSD) {
		return fmt.Errorf("notional %s below %s: %w", notional.StringFixed(2), limits.MinNotionalUSD, ErrMinNotional)
	}
	if limits.MaxNotionalUSD.IsPositive() && notional.GreaterThan(limits.MaxNotionalUSD) {
		return fmt.Errorf("notional %s above %s: %w", notional.StringFixed(2), limits.MaxNotionalUSD, ErrMaxNotional)
	}
	return nil
}

// CheckLeverage enforces 0 < leverage <= min(configured max, asset max) and
// that leverage is integral, since the venue takes integer leverage.
func CheckLeverage(limits Limits, leverage decimal.Decimal, assetMax int) error {
	if !leverage.IsPositive() {
		return fmt.Errorf("leverage %s: %w", leverage, ErrLeverageRange)
	}
	ceiling := limits.MaxLeverage
	if assetMax > 0 {
		if am := decimal.NewFromInt(int64(assetMax)); !ceiling.IsPositive() || am.LessThan(ceiling) {
			ceiling = am
		}
	}
	if ceiling.IsPositive() && leverage.GreaterThan(ceiling) {
		return fmt.Errorf("leverage %s above %s: %w", leverage, ceiling, ErrLeverageRange)
	}
	if !leverage.Equal(leverage.Truncate(0)) {
		return fmt.Errorf("leverage %s: %w", leverage, ErrLeverageInteger)
	}
	return nil
}
