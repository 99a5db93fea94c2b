// Package tva provides the Swiss VAT ("taxe sur la valeur ajoutée") rate
// table in force since 1 January 2024.
package tva

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnknownCategory is returned for VAT category names outside the table.
var ErrUnknownCategory = errors.New("unknown vat category")

// Category identifies a Swiss VAT bracket.
type Category string

const (
	// Standard covers most goods and services (8.1%).
	Standard Category = "STANDARD"
	// Reduced covers food, books, medication (2.6%).
	Reduced Category = "REDUCED"
	// Special covers lodging services (3.8%).
	Special Category = "SPECIAL"
	// Exempt covers exports and other zero-rated supplies.
	Exempt Category = "EXEMPT"
)

var rates = map[Category]decimal.Decimal{
	Standard: decimal.RequireFromString("8.1"),
	Reduced:  decimal.RequireFromString("2.6"),
	Special:  decimal.RequireFromString("3.8"),
	Exempt:   decimal.Zero,
}

// ParseCategory normalises a user supplied category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := rates[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Rate returns the percentage for the category, in percentage points.
func Rate(c Category) (decimal.Decimal, error) {
	rate, ok := rates[c]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	return rate, nil
}

// Amount returns the VAT due on the net amount, rounded to centimes.
func Amount(net decimal.Decimal, c Category) (decimal.Decimal, error) {
	rate, err := Rate(c)
	if err != nil {
		return decimal.Zero, err
	}
	return net.Mul(rate).Div(decimal.NewFromInt(100)).Round(2), nil
}

// Gross returns the net amount plus its VAT.
func Gross(net decimal.Decimal, c Category) (decimal.Decimal, error) {
	amount, err := Amount(net, c)
	if err != nil {
		return decimal.Zero, err
	}
	return net.Add(amount), nil
}
