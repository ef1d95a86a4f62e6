// Package adapter defines the contract every server-side cart storage tier implements.
// The local relational store, the remote backend service and the cart API client
// are all Tiers; the sync engine only ever talks to this interface.
package adapter

import (
	"context"

	"cartsync/internal/model"
)

// Tier abstracts one durable storage layer keyed by owner identity.
//
// Tiers never merge: Write stores the given items verbatim according to mode,
// and all conflict resolution lives in the merge package.
type Tier interface {
	// Name identifies the tier in logs and cascade errors.
	Name() string

	// Read returns the owner's items. An owner with no cart yields an empty
	// slice and no error; an error means the tier could not answer.
	Read(ctx context.Context, ownerID string) ([]model.CartItem, error)

	// Write stores items for the owner. WriteReplace discards existing items
	// first; tiers that cannot honor a mode return a validation error.
	Write(ctx context.Context, ownerID string, items []model.CartItem, mode model.WriteMode) error

	// Clear removes all items for the owner.
	Clear(ctx context.Context, ownerID string) error
}

// Merger is implemented by tiers that can run the login merge where the
// authoritative data lives, instead of the caller reading then writing.
// Merge applies replace-wins-by-incoming and returns the resulting item set.
type Merger interface {
	Merge(ctx context.Context, ownerID string, incoming []model.CartItem) ([]model.CartItem, error)
}
