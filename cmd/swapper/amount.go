package main

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/brojonat/swapper/service/quote"
	"github.com/brojonat/swapper/service/swaperr"
)

// parseAmount converts a user-entered amount of asset into raw units. With
// raw set the text is already in raw units.
func parseAmount(text string, asset quote.Asset, raw bool) (uint64, error) {
	text = strings.TrimSpace(text)
	if raw {
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil || n == 0 {
			return 0, fmt.Errorf("%w: %q is not a positive raw amount", swaperr.ErrInvalidAmount, text)
		}
		return n, nil
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", swaperr.ErrInvalidAmount, text)
	}
	units := d.Shift(asset.Decimals)
	if !units.IsInteger() {
		return 0, fmt.Errorf("%w: %s supports at most %d decimal places", swaperr.ErrInvalidAmount, asset.Symbol, asset.Decimals)
	}
	if !units.IsPositive() || units.BigInt().BitLen() > 64 {
		return 0, fmt.Errorf("%w: %q is out of range", swaperr.ErrInvalidAmount, text)
	}
	return units.BigInt().Uint64(), nil
}

// formatRaw renders a raw amount of asset in whole units.
func formatRaw(amount uint64, asset quote.Asset) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -asset.Decimals).String()
}
