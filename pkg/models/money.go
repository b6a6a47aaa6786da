package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// Currency is an ISO 4217 code. Only UYU and USD are recognised.
type Currency string

const (
	CurrencyUYU Currency = "UYU"
	CurrencyUSD Currency = "USD"
)

// IsValid returns true for the supported currencies
func (c Currency) IsValid() bool {
	return c == CurrencyUYU || c == CurrencyUSD
}

// CurrencyFromSymbol maps the symbols used by the listing sites to a currency.
func CurrencyFromSymbol(symbol string) (Currency, error) {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case "$", "$U", "UYU":
		return CurrencyUYU, nil
	case "U$S", "US$", "USD", "U$D":
		return CurrencyUSD, nil
	}
	return "", fmt.Errorf("%w: '%s'", utils.ErrUnknownCurrency, symbol)
}

// Money is an amount in one of the supported currencies.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// NewMoney builds a Money from an integer amount.
func NewMoney(amount int64, currency Currency) Money {
	return Money{Amount: decimal.NewFromInt(amount), Currency: currency}
}

// IsPositive reports whether the amount is above zero in a known currency.
func (m Money) IsPositive() bool {
	return m.Currency.IsValid() && m.Amount.IsPositive()
}

// LessThan compares amounts; it is false across different currencies.
func (m Money) LessThan(other Money) bool {
	return m.Currency == other.Currency && m.Amount.LessThan(other.Amount)
}

func (m Money) String() string {
	return string(m.Currency) + " " + m.Amount.String()
}

// ParseMoney parses "<symbol> <amount>", e.g. "UYU 1.000" or "U$S 1.250,50".
// Amounts use '.' for thousands and ',' for decimals. An unknown symbol is a hard failure.
func ParseMoney(text string) (Money, error) {
	parts := strings.Fields(text)
	if len(parts) != 2 {
		return Money{}, fmt.Errorf("%w: money '%s' must be '<currency> <amount>'", utils.ErrParsing, text)
	}
	currency, err := CurrencyFromSymbol(parts[0])
	if err != nil {
		return Money{}, err
	}
	amount, err := ParseAmount(parts[1])
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// ParseAmount parses a number written with '.' thousands and ',' decimals.
func ParseAmount(text string) (decimal.Decimal, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(text), ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")
	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount '%s': %w", utils.ErrParsing, text, err)
	}
	return amount, nil
}
