package adapter

import (
	"context"
	"sync"

	"cartsync/internal/model"
)

// Mock implements Tier and Merger for testing.
// Each method can be configured via function fields; calls are counted.
type Mock struct {
	TierName  string
	ReadFunc  func(ctx context.Context, ownerID string) ([]model.CartItem, error)
	WriteFunc func(ctx context.Context, ownerID string, items []model.CartItem, mode model.WriteMode) error
	ClearFunc func(ctx context.Context, ownerID string) error
	MergeFunc func(ctx context.Context, ownerID string, incoming []model.CartItem) ([]model.CartItem, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *Mock) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
}

// Calls returns how many times op ("read", "write", "clear", "merge") was invoked.
func (m *Mock) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Name returns TierName or "mock".
func (m *Mock) Name() string {
	if m.TierName != "" {
		return m.TierName
	}
	return "mock"
}

// Read calls the configured ReadFunc or returns an empty cart.
func (m *Mock) Read(ctx context.Context, ownerID string) ([]model.CartItem, error) {
	m.record("read")
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, ownerID)
	}
	return []model.CartItem{}, nil
}

// Write calls the configured WriteFunc or succeeds.
func (m *Mock) Write(ctx context.Context, ownerID string, items []model.CartItem, mode model.WriteMode) error {
	m.record("write")
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, ownerID, items, mode)
	}
	return nil
}

// Clear calls the configured ClearFunc or succeeds.
func (m *Mock) Clear(ctx context.Context, ownerID string) error {
	m.record("clear")
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, ownerID)
	}
	return nil
}

// Merge calls the configured MergeFunc or returns incoming unchanged.
func (m *Mock) Merge(ctx context.Context, ownerID string, incoming []model.CartItem) ([]model.CartItem, error) {
	m.record("merge")
	if m.MergeFunc != nil {
		return m.MergeFunc(ctx, ownerID, incoming)
	}
	return model.CloneItems(incoming), nil
}

// Verify Mock implements both interfaces at compile time.
var (
	_ Tier   = (*Mock)(nil)
	_ Merger = (*Mock)(nil)
)
