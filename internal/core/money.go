// Package core provides money parsing and handling utilities.
//
// Amounts are integer counts of a currency's minor units. The number of
// minor digits per ISO 4217 code comes from golang.org/x/text/currency, so
// EUR carries cents, JPY carries whole yen and KWD carries fils.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	xcurrency "golang.org/x/text/currency"
)

// ParseCurrency normalises and validates an ISO 4217 code.
func ParseCurrency(s string) (Currency, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	if _, err := xcurrency.ParseISO(code); err != nil {
		return "", ErrInvalidCurrency
	}
	return Currency(code), nil
}

// Validate reports whether c is a recognised ISO 4217 code.
func (c Currency) Validate() error {
	_, err := ParseCurrency(string(c))
	if err != nil || string(c) != strings.ToUpper(string(c)) {
		return ErrInvalidCurrency
	}
	return nil
}

// Scale returns the number of minor-unit digits of c. Unknown codes fall back
// to two digits.
func (c Currency) Scale() int32 {
	u, err := xcurrency.ParseISO(string(c))
	if err != nil {
		return 2
	}
	scale, _ := xcurrency.Standard.Rounding(u)
	return int32(scale)
}

// NewMoney builds an amount from minor units.
func NewMoney(minor int64, c Currency) Money {
	return Money{Minor: minor, Currency: c}
}

// MoneyFromDecimal rounds d half away from zero to the scale of c.
func MoneyFromDecimal(d decimal.Decimal, c Currency) Money {
	scale := c.Scale()
	return Money{Minor: d.Round(scale).Shift(scale).IntPart(), Currency: c}
}

// ParseMoney converts a decimal string to minor units of c with half-up
// rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs,
// zero and malformed input are rejected with ErrInvalidAmount.
//
// Examples:
//
//	ParseMoney("12.34", "EUR")  -> 1234 EUR
//	ParseMoney("12,345", "EUR") -> 1235 EUR
//	ParseMoney("1500", "JPY")   -> 1500 JPY
func ParseMoney(s string, c Currency) (Money, error) {
	if err := c.Validate(); err != nil {
		return Money{}, err
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return Money{}, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	// Reject values whose minor-unit count would not fit in int64.
	limit := decimal.New(1, 18-c.Scale())
	if d.GreaterThanOrEqual(limit) {
		return Money{}, ErrInvalidAmount
	}
	m := MoneyFromDecimal(d, c)
	if m.Minor <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return m, nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -m.Currency.Scale())
}

// Validate requires a positive amount in a known currency.
func (m Money) Validate() error {
	if m.Minor <= 0 {
		return ErrInvalidAmount
	}
	return m.Currency.Validate()
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(m.Currency.Scale()), m.Currency)
}
