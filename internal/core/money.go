// Package core provides the transaction domain types shared by the
// categorization engine and its adapters.
//
// This file contains helpers for parsing monetary amounts from strings.
package core

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string into a positive amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs,
// thousands separators, exponents and zero are rejected so that the result is
// always a strictly positive decimal suitable for feature extraction.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("-1")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	if parts[0] == "" {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// AmountFromFloat converts a JSON/CSV float into a decimal rounded to cents.
func AmountFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

// ParseNumber reads a JSON number exactly, without a float round trip.
// Non-positive values are left to Transaction.Validate.
func ParseNumber(n json.Number) (decimal.Decimal, error) {
	raw := strings.TrimSpace(n.String())
	if raw == "" {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "is required", Err: ErrInvalidAmount}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must be a number", Err: ErrInvalidAmount}
	}
	return d, nil
}
