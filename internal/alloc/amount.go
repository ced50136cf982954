package alloc

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// ErrOverflow is returned when an amount does not fit in uint64 base units.
var ErrOverflow = errors.New("amount overflows uint64")

var basisPoints = decimal.NewFromInt(10000)

// ComputeAmount converts percent of totalSupply whole tokens into base units:
//
//	floor(totalSupply * round(percent*100) / 10000) * 10^decimals
//
// Percent keeps two decimal places (4.25 is 425 basis points). Percent above
// 100 is not rejected. A negative percent is an error.
func ComputeAmount(totalSupply uint64, decimals uint8, percent decimal.Decimal) (uint64, error) {
	bp := percent.Shift(2).Round(0)
	if bp.IsNegative() {
		return 0, fmt.Errorf("compute amount: negative percent %s", percent)
	}
	supply := decimal.NewFromBigInt(new(big.Int).SetUint64(totalSupply), 0)
	whole := supply.Mul(bp).Div(basisPoints).Floor()
	scaled := whole.Mul(decimal.New(1, int32(decimals)))

	n := scaled.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("compute amount: %s%% of %d: %w", percent, totalSupply, ErrOverflow)
	}
	return n.Uint64(), nil
}

// ToBaseUnits multiplies whole tokens by 10^decimals.
func ToBaseUnits(whole uint64, decimals uint8) (uint64, error) {
	p, err := pow10(decimals)
	if err != nil {
		return 0, err
	}
	hi, lo := bits.Mul64(whole, p)
	if hi != 0 {
		return 0, fmt.Errorf("to base units: %d tokens: %w", whole, ErrOverflow)
	}
	return lo, nil
}

// FormatBaseUnits renders base units as whole tokens, e.g. 1500000000 with
// 9 decimals is "1.5".
func FormatBaseUnits(amount uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}

func pow10(decimals uint8) (uint64, error) {
	p := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		hi, lo := bits.Mul64(p, 10)
		if hi != 0 {
			return 0, fmt.Errorf("10^%d: %w", decimals, ErrOverflow)
		}
		p = lo
	}
	return p, nil
}
