package adapter

import (
	"context"
	"sync"

	"cartsync/internal/merge"
	"cartsync/internal/model"
)

// Memory is an in-process Tier keyed by owner. It backs tests and local
// development runs where no database is configured.
type Memory struct {
	name string

	mu    sync.Mutex
	carts map[string][]model.CartItem
}

// NewMemory creates an empty in-memory tier.
func NewMemory(name string) *Memory {
	return &Memory{name: name, carts: make(map[string][]model.CartItem)}
}

// Name returns the tier name.
func (m *Memory) Name() string {
	return m.name
}

// Read returns a copy of the owner's items.
func (m *Memory) Read(ctx context.Context, ownerID string) ([]model.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.CloneItems(m.carts[ownerID]), nil
}

// Write replaces the owner's items. WriteMerge is rejected.
func (m *Memory) Write(ctx context.Context, ownerID string, items []model.CartItem, mode model.WriteMode) error {
	if mode != model.WriteReplace {
		return model.NewValidationError("mode", "only replace is supported")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[ownerID] = model.CloneItems(items)
	return nil
}

// Clear empties the owner's cart.
func (m *Memory) Clear(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[ownerID] = []model.CartItem{}
	return nil
}

// Merge merges incoming into the stored items under the lock.
func (m *Memory) Merge(ctx context.Context, ownerID string, incoming []model.CartItem) ([]model.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := merge.Items(m.carts[ownerID], incoming)
	m.carts[ownerID] = merged
	return model.CloneItems(merged), nil
}

var (
	_ Tier   = (*Memory)(nil)
	_ Merger = (*Memory)(nil)
)
