package models

import (
	"fmt"
	"strings"
)

// Supported settlement currencies. Both use two minor-unit decimals.
const (
	CurrencyNGN = "NGN"
	CurrencyUSD = "USD"
)

// SupportedCurrencies is the closed set of wallet currencies
var SupportedCurrencies = []string{CurrencyNGN, CurrencyUSD}

// currencyPrecision maps currencies to their minor-unit decimals.
var currencyPrecision = map[string]int32{
	CurrencyNGN: 2,
	CurrencyUSD: 2,
}

// NormalizeCurrency upper-cases code and checks it is supported.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if _, ok := currencyPrecision[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return c, nil
}

// IsSupportedCurrency reports whether code is a wallet currency.
func IsSupportedCurrency(code string) bool {
	_, ok := currencyPrecision[code]
	return ok
}

// CurrencyPrecision returns the minor-unit decimals for a supported currency.
func CurrencyPrecision(code string) int32 {
	if p, ok := currencyPrecision[code]; ok {
		return p
	}
	return 2
}
