// Package reconcile computes the line-item mutations that turn one cart into
// another. The API client tier uses it to express a full replace-write as the
// per-line calls the cart API offers, touching only lines that changed.
package reconcile

import "cartsync/internal/model"

// Diff describes the mutations needed to reconcile a cart.
// Apply in order Remove → Update → Add so an update never targets a line
// that is about to be removed.
type Diff struct {
	ToRemove []string         // item ids present in current but not desired
	ToUpdate []QuantityChange // same line, same details, new quantity
	ToAdd    []model.CartItem // lines missing from current
}

// QuantityChange is a quantity-only edit of an existing line.
type QuantityChange struct {
	ItemID      string
	OldQuantity int // informational
	NewQuantity int
}

// IsEmpty returns true if no changes are needed.
func (d *Diff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// Ops returns the number of calls needed to apply the diff.
func (d *Diff) Ops() int {
	return len(d.ToAdd) + len(d.ToRemove) + len(d.ToUpdate)
}

// Items computes the delta between current and desired.
// Lines match by ItemID. A matched line whose details (title, price,
// condition, weight, images) differ is removed and re-added, since the API
// can only patch quantities. Output order follows the input order: removals
// in current order, updates and adds in desired order.
func Items(current, desired []model.CartItem) *Diff {
	diff := &Diff{}

	currentByID := make(map[string]model.CartItem, len(current))
	for _, item := range current {
		currentByID[item.ItemID] = item
	}
	desiredByID := make(map[string]model.CartItem, len(desired))
	for _, item := range desired {
		desiredByID[item.ItemID] = item
	}

	replaced := make(map[string]bool)
	for _, want := range desired {
		have, exists := currentByID[want.ItemID]
		switch {
		case !exists:
			diff.ToAdd = append(diff.ToAdd, want.Clone())
		case !sameDetails(have, want):
			replaced[want.ItemID] = true
			diff.ToAdd = append(diff.ToAdd, want.Clone())
		case have.Quantity != want.Quantity:
			diff.ToUpdate = append(diff.ToUpdate, QuantityChange{
				ItemID:      want.ItemID,
				OldQuantity: have.Quantity,
				NewQuantity: want.Quantity,
			})
		}
	}

	for _, have := range current {
		if _, keep := desiredByID[have.ItemID]; !keep || replaced[have.ItemID] {
			diff.ToRemove = append(diff.ToRemove, have.ItemID)
		}
	}

	return diff
}

func sameDetails(a, b model.CartItem) bool {
	if a.Title != b.Title || !a.Price.Equal(b.Price) || a.Condition != b.Condition || a.Weight != b.Weight {
		return false
	}
	if len(a.Images) != len(b.Images) {
		return false
	}
	for i := range a.Images {
		if a.Images[i] != b.Images[i] {
			return false
		}
	}
	return true
}
