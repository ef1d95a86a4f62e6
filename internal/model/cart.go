// Package model defines the cart data structures shared by every storage tier.
package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// GuestOwner marks a cart that belongs to an unauthenticated session. It is
// the empty string so no user id issued by the identity provider can collide
// with it. Guest carts have no server-side row; they live only in browser storage.
const GuestOwner = ""

// Defaults applied when an item arrives without a grading label or weight.
const (
	DefaultCondition = "Good"
	DefaultWeight    = 1.0
)

// WriteMode tells a storage tier how to treat the items it already holds.
type WriteMode string

const (
	// WriteReplace discards existing items and stores the given set verbatim.
	WriteReplace WriteMode = "replace"

	// WriteMerge asks the tier to keep existing items. No adapter supports it;
	// merging is done by the merge package before any write.
	WriteMerge WriteMode = "merge"
)

// CartItem is one product line in a cart.
// Two items are the same line iff their ItemID values match.
type CartItem struct {
	ItemID    string          `json:"itemId"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Condition string          `json:"condition"`
	Weight    float64         `json:"weight"`
	Images    []string        `json:"images"`
}

// Clone returns a copy that shares no memory with the receiver.
func (i CartItem) Clone() CartItem {
	out := i
	out.Images = append([]string{}, i.Images...)
	return out
}

// Cart is the aggregate for one owner.
type Cart struct {
	OwnerID string     `json:"ownerId"`
	Items   []CartItem `json:"items"`

	// IsOpen is UI state only and is never persisted.
	IsOpen bool `json:"-"`
}

// IsGuest reports whether the cart belongs to an unauthenticated session.
func (c Cart) IsGuest() bool {
	return strings.TrimSpace(c.OwnerID) == GuestOwner
}

// Count returns the total quantity across all lines.
func (c Cart) Count() int {
	return TotalQuantity(c.Items)
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	out := c
	out.Items = CloneItems(c.Items)
	return out
}

// CloneItems deep-copies an item slice. A nil input yields an empty, non-nil slice.
func CloneItems(items []CartItem) []CartItem {
	out := make([]CartItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

// TotalQuantity sums quantities across items.
func TotalQuantity(items []CartItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// IndexOf returns the position of the line with the given id, or -1.
func IndexOf(items []CartItem, itemID string) int {
	for i, item := range items {
		if item.ItemID == itemID {
			return i
		}
	}
	return -1
}

// AddItem adds item to items. An existing line keeps its position, takes the
// incoming details and has its quantity increased by item.Quantity.
func AddItem(items []CartItem, item CartItem) []CartItem {
	out := CloneItems(items)
	if idx := IndexOf(out, item.ItemID); idx >= 0 {
		qty := out[idx].Quantity + item.Quantity
		out[idx] = item.Clone()
		out[idx].Quantity = qty
		return out
	}
	return append(out, item.Clone())
}

// RemoveItem returns items without the line with the given id.
func RemoveItem(items []CartItem, itemID string) []CartItem {
	out := make([]CartItem, 0, len(items))
	for _, item := range items {
		if item.ItemID != itemID {
			out = append(out, item.Clone())
		}
	}
	return out
}

// SetQuantity sets the quantity of one line. A quantity <= 0 removes the line.
// The boolean reports whether the line existed.
func SetQuantity(items []CartItem, itemID string, quantity int) ([]CartItem, bool) {
	idx := IndexOf(items, itemID)
	if idx < 0 {
		return CloneItems(items), false
	}
	if quantity <= 0 {
		return RemoveItem(items, itemID), true
	}
	out := CloneItems(items)
	out[idx].Quantity = quantity
	return out, true
}

// ValidateOwner rejects an empty owner on authenticated-only operations.
func ValidateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == GuestOwner {
		return NewUnauthorizedError("authenticated owner required")
	}
	return nil
}
