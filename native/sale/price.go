package sale

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// UnitScale is the number of base units the price is quoted for: the price
// is lamports per 1e9 base units of the sale asset.
const UnitScale uint64 = 1_000_000_000

var unitScale = uint256.NewInt(UnitScale)

// ComputePayment returns floor(units * pricePerUnit / UnitScale). A product
// that does not fit in 64 bits fails with ErrOverflow.
func ComputePayment(units, pricePerUnit uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(units), uint256.NewInt(pricePerUnit))
	if overflow || !product.IsUint64() {
		return 0, ErrOverflow
	}
	return product.Div(product, unitScale).Uint64(), nil
}

// Quote prices a buy of units under cfg without touching state.
func Quote(cfg *Config, units uint64) (uint64, error) {
	if cfg == nil {
		return 0, ErrInvalidConfigData
	}
	if units == 0 {
		return 0, ErrInvalidAmount
	}
	return ComputePayment(units, cfg.PricePerUnit)
}

// FormatUnits renders a base-unit amount as a decimal with the given number
// of fractional digits, e.g. FormatUnits(1500000000, 9) == "1.5".
func FormatUnits(amount uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).String()
}

// ParseUnits is the inverse of FormatUnits. Inputs with more fractional
// digits than decimals, negatives and values beyond 64 bits are rejected.
func ParseUnits(raw string, decimals int32) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("amount required")
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if value.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative")
	}
	scaled := value.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d fractional digits", raw, decimals)
	}
	whole := scaled.BigInt()
	if !whole.IsUint64() {
		return 0, fmt.Errorf("amount %q exceeds 64 bits", raw)
	}
	return whole.Uint64(), nil
}
