package exchange

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const maxWireDecimals = 8

func LimitOrderWire(asset int, isBuy bool, size, limit decimal.Decimal, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	if !limit.IsPositive() {
		return OrderWire{}, errors.New("limit price must be > 0")
	}
	if !size.IsPositive() {
		return OrderWire{}, errors.New("size must be > 0")
	}
	price, err := decimalToWire(limit)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	sizeWire, err := decimalToWire(size)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

// decimalToWire renders x without trailing zeros. Values that need more than
// eight fractional digits are refused rather than rounded.
func decimalToWire(x decimal.Decimal) (string, error) {
	if !x.Equal(x.Truncate(maxWireDecimals)) {
		return "", fmt.Errorf("decimal_to_wire causes rounding: %s", x.String())
	}
	if x.IsZero() {
		return "0", nil
	}
	return x.String(), nil
}
