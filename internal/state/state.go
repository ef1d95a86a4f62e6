// Package state holds the in-memory cart that the UI renders. It is the single
// writer of cart state; observers receive snapshots after every change.
package state

import (
	"maps"
	"slices"
	"sync"

	"cartsync/internal/model"
)

// Observer is called with a snapshot after each change. Observers run outside
// the store's lock and may call back into the store.
type Observer func(model.Cart)

// Store is an observable cart. The zero value is not usable; call New.
type Store struct {
	mu        sync.Mutex
	cart      model.Cart
	observers map[int]Observer
	nextID    int
}

// New creates a store for a guest cart.
func New() *Store {
	return &Store{
		cart:      model.Cart{OwnerID: model.GuestOwner, Items: []model.CartItem{}},
		observers: make(map[int]Observer),
	}
}

// Snapshot returns a deep copy of the current cart.
func (s *Store) Snapshot() model.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Items returns a copy of the current items.
func (s *Store) Items() []model.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneItems(s.cart.Items)
}

// Owner returns the current owner id.
func (s *Store) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.OwnerID
}

// Update applies fn to a copy of the items and stores the result. It returns
// the items before and after the change. fn must not retain its argument.
func (s *Store) Update(fn func([]model.CartItem) []model.CartItem) (before, after []model.CartItem) {
	s.mu.Lock()
	before = model.CloneItems(s.cart.Items)
	next := fn(model.CloneItems(s.cart.Items))
	if next == nil {
		next = []model.CartItem{}
	}
	s.cart.Items = next
	after = model.CloneItems(next)
	snap := s.cart.Clone()
	s.mu.Unlock()

	s.notify(snap)
	return before, after
}

// Replace sets the whole item set, e.g. after a resync.
func (s *Store) Replace(items []model.CartItem) {
	s.Update(func([]model.CartItem) []model.CartItem {
		return model.CloneItems(items)
	})
}

// SetOwner switches the cart to a new owner and replaces its items.
func (s *Store) SetOwner(ownerID string, items []model.CartItem) {
	s.mu.Lock()
	s.cart.OwnerID = ownerID
	s.cart.Items = model.CloneItems(items)
	snap := s.cart.Clone()
	s.mu.Unlock()

	s.notify(snap)
}

// SetOpen toggles the UI-only open flag.
func (s *Store) SetOpen(open bool) {
	s.mu.Lock()
	if s.cart.IsOpen == open {
		s.mu.Unlock()
		return
	}
	s.cart.IsOpen = open
	snap := s.cart.Clone()
	s.mu.Unlock()

	s.notify(snap)
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(snap model.Cart) {
	s.mu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, id := range slices.Sorted(maps.Keys(s.observers)) {
		observers = append(observers, s.observers[id])
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap.Clone())
	}
}
