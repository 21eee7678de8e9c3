package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Perp prices on the venue may carry at most six decimals minus the asset's
// size decimals.
const maxPerpDecimals = 6

var (
	ErrInvariantViolation = errors.New("limit price is not a multiple of tick size")
	ErrInvalidInput       = errors.New("invalid pricing input")
)

var (
	bpsDivisor = decimal.NewFromInt(10_000)
	epsilon    = decimal.New(1, -12)
)

// SnapFunc rounds price onto the tick grid, up for buys and down for sells.
type SnapFunc func(price, tick decimal.Decimal, isBuy bool) decimal.Decimal

type Calculator struct {
	sigFigs     int
	maxDecimals int
	snap        SnapFunc
}

// New returns a calculator that limits prices to sigFigs significant figures
// (integers are always allowed). A zero sigFigs disables the rule.
func New(sigFigs int) *Calculator {
	return &Calculator{sigFigs: sigFigs, maxDecimals: -1, snap: SnapToTick}
}

// ForAsset returns a copy that also caps price decimals for an asset with the
// given size decimals.
func (c *Calculator) ForAsset(sizeDecimals int) *Calculator {
	cp := *c
	cp.maxDecimals = -1
	if sizeDecimals >= 0 && sizeDecimals <= maxPerpDecimals {
		cp.maxDecimals = maxPerpDecimals - sizeDecimals
	}
	return &cp
}

// LimitPrice moves reference by slippageBps in the marketable direction,
// applies the significant-figure rule, then snaps to tick. The result is
// re-verified to be on the tick grid; one corrective snap is attempted before
// failing with ErrInvariantViolation.
func (c *Calculator) LimitPrice(reference decimal.Decimal, isBuy bool, slippageBps int, tick decimal.Decimal) (decimal.Decimal, error) {
	if !reference.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: reference price %s", ErrInvalidInput, reference)
	}
	if !tick.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: tick size %s", ErrInvalidInput, tick)
	}
	if slippageBps < 0 {
		return decimal.Zero, fmt.Errorf("%w: slippage %d bps", ErrInvalidInput, slippageBps)
	}
	adjusted := Slipped(reference, isBuy, slippageBps)
	if !adjusted.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: slippage %d bps leaves no positive price", ErrInvalidInput, slippageBps)
	}
	adjusted = roundToStep(adjusted, c.step(adjusted), isBuy)

	snap := c.snap
	if snap == nil {
		snap = SnapToTick
	}
	price := snap(adjusted, tick, isBuy)
	if !OnTick(price, tick) {
		price = snap(adjusted, tick, isBuy)
		if !OnTick(price, tick) {
			return decimal.Zero, fmt.Errorf("%w: price %s tick %s", ErrInvariantViolation, price, tick)
		}
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: tick %s exceeds price %s", ErrInvalidInput, tick, adjusted)
	}
	return price, nil
}

// Slipped applies slippageBps away from reference: up for buys, down for sells.
func Slipped(reference decimal.Decimal, isBuy bool, slippageBps int) decimal.Decimal {
	move := decimal.NewFromInt(int64(slippageBps)).Div(bpsDivisor)
	if isBuy {
		return reference.Mul(decimal.NewFromInt(1).Add(move))
	}
	return reference.Mul(decimal.NewFromInt(1).Sub(move))
}

// SnapToTick rounds price up (buy) or down (sell) to a multiple of tick.
func SnapToTick(price, tick decimal.Decimal, isBuy bool) decimal.Decimal {
	return roundToStep(price, tick, isBuy)
}

// OnTick reports whether price is a multiple of tick within epsilon.
func OnTick(price, tick decimal.Decimal) bool {
	if !tick.IsPositive() {
		return false
	}
	rem := price.Mod(tick).Abs()
	return rem.LessThanOrEqual(epsilon) || tick.Sub(rem).LessThanOrEqual(epsilon)
}

// ImpliedTick is the smallest increment the significant-figure and decimal
// rules allow at price mark. It is used as the first tick candidate.
func ImpliedTick(mark decimal.Decimal, sigFigs, sizeDecimals int) decimal.Decimal {
	c := New(sigFigs).ForAsset(sizeDecimals)
	if !mark.IsPositive() {
		return decimal.Zero
	}
	return c.step(mark)
}

// RoundSize truncates size to the asset's size decimals.
func RoundSize(size decimal.Decimal, sizeDecimals int) decimal.Decimal {
	if sizeDecimals < 0 {
		return size
	}
	return size.Truncate(int32(sizeDecimals))
}

// Candidates orders tick sizes for negotiation: hint first when positive,
// then configured, without duplicates.
func Candidates(hint decimal.Decimal, configured []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(configured)+1)
	add := func(tick decimal.Decimal) {
		if !tick.IsPositive() {
			return
		}
		for _, existing := range out {
			if existing.Equal(tick) {
				return
			}
		}
		out = append(out, tick)
	}
	add(hint)
	for _, tick := range configured {
		add(tick)
	}
	return out
}

// FromFloats converts configured tick sizes into decimals.
func FromFloats(values []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		out = append(out, decimal.NewFromFloat(v))
	}
	return out
}

// step returns the price increment allowed at price p, or zero when no
// constraint applies.
func (c *Calculator) step(p decimal.Decimal) decimal.Decimal {
	exp, ok := int32(0), false
	if c.sigFigs > 0 {
		magnitude := int32(p.NumDigits()) + p.Exponent() - 1
		exp = magnitude - int32(c.sigFigs) + 1
		if exp > 0 {
			exp = 0
		}
		ok = true
	}
	if c.maxDecimals >= 0 {
		floor := -int32(c.maxDecimals)
		if !ok || exp < floor {
			exp = floor
		}
		ok = true
	}
	if !ok {
		return decimal.Zero
	}
	return decimal.New(1, exp)
}

func roundToStep(p, step decimal.Decimal, up bool) decimal.Decimal {
	if !step.IsPositive() {
		return p
	}
	q, r := p.QuoRem(step, 0)
	if up && r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.Mul(step)
}
