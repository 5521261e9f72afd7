package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultTokenDecimals matches the 6-decimal stable token the markets are
// funded in.
const DefaultTokenDecimals = 6

// ToBaseUnits converts a whole-token amount to raw base units.
func ToBaseUnits(amount int64, decimals int32) *big.Int {
	return decimal.NewFromInt(amount).Shift(decimals).BigInt()
}

// FromBaseUnits converts a raw base-unit amount to whole tokens.
func FromBaseUnits(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}
