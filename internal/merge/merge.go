// Package merge reconciles two cart item sets.
// It is pure: no I/O, deterministic, and it never mutates its inputs.
//
// The default policy is replace-wins-by-incoming: when an incoming (guest or
// local) item shares an id with an authoritative (server) item, the incoming
// fields overwrite the authoritative ones. Authoritative items not mentioned by
// incoming are kept. Merging never deletes.
package merge

import "cartsync/internal/model"

// Policy decides which side wins when both sets contain the same line.
type Policy int

const (
	// IncomingWins treats guest-side edits as freshest.
	IncomingWins Policy = iota

	// AuthoritativeWins keeps the server's fields on conflict and only
	// appends incoming lines the server does not know about.
	AuthoritativeWins
)

// String returns a label for logs.
func (p Policy) String() string {
	switch p {
	case AuthoritativeWins:
		return "authoritative-wins"
	default:
		return "incoming-wins"
	}
}

// Items merges incoming into authoritative using IncomingWins.
func Items(authoritative, incoming []model.CartItem) []model.CartItem {
	return IncomingWins.Merge(authoritative, incoming)
}

// Merge applies the policy.
//
// Algorithm:
//  1. incoming empty → authoritative unchanged
//  2. authoritative empty → incoming verbatim (duplicates collapsed)
//  3. otherwise each incoming line replaces (or, under AuthoritativeWins,
//     yields to) the matching authoritative line; unmatched lines are appended
//  4. authoritative-only lines are kept in their original positions
func (p Policy) Merge(authoritative, incoming []model.CartItem) []model.CartItem {
	incoming = dedupe(incoming)
	if len(incoming) == 0 {
		return model.CloneItems(authoritative)
	}
	if len(authoritative) == 0 {
		return incoming
	}

	result := model.CloneItems(authoritative)
	index := make(map[string]int, len(result))
	for i, item := range result {
		index[item.ItemID] = i
	}

	for _, item := range incoming {
		if i, ok := index[item.ItemID]; ok {
			if p == IncomingWins {
				result[i] = item
			}
			continue
		}
		index[item.ItemID] = len(result)
		result = append(result, item)
	}
	return result
}

// dedupe collapses repeated ids to the last occurrence, keeping the position
// of the first. Returns deep copies.
func dedupe(items []model.CartItem) []model.CartItem {
	out := make([]model.CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.ItemID]; ok {
			out[i] = item.Clone()
			continue
		}
		index[item.ItemID] = len(out)
		out = append(out, item.Clone())
	}
	return out
}
