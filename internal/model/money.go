package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice converts a decimal string in major currency units to a Decimal.
// Used where prices arrive as text (local store rows, legacy remote payloads).
// Examples: "99.00" → 99, "1234.56" → 1234.56, "" → 0, "abc" → 0
func ParsePrice(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatPrice renders a price with two decimal places for storage.
func FormatPrice(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Subtotal returns sum(price * quantity) across items.
func Subtotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
