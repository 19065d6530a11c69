package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a human-readable amount ("1.5") into its integer
// base-unit value for the given number of decimals.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", amount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// ParseEther converts an ETH amount into wei.
func ParseEther(amount string) (*big.Int, error) {
	return ParseUnits(amount, 18)
}

// FormatUnits renders a base-unit value with the given decimals, without
// trailing zeros.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

// FormatEther renders a wei amount as ETH.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, 18)
}

// Short truncates a 0x-prefixed hex value to 0x + 6 leading and 6 trailing
// characters. Empty input renders as "--".
func Short(s string) string {
	const n = 6
	if s == "" {
		return "--"
	}
	if strings.HasPrefix(s, "0x") && len(s) > 2+n {
		return s[:2+n] + "…" + s[len(s)-n:]
	}
	return s
}
