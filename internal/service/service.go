// Package service implements the cart API's operations over the server tiers.
// Every read and write goes through the tier cascade: the local store first,
// the remote service when the local store fails.
package service

import (
	"context"
	"errors"
	"log/slog"

	"cartsync/internal/adapter"
	"cartsync/internal/cascade"
	"cartsync/internal/merge"
	"cartsync/internal/model"
)

// Service is the cart API backend.
type Service struct {
	tiers  []adapter.Tier
	logger *slog.Logger
}

// New creates a service over tiers in fallback order.
func New(tiers []adapter.Tier, logger *slog.Logger) *Service {
	return &Service{tiers: tiers, logger: logger}
}

// Tiers returns the tier names in fallback order.
func (s *Service) Tiers() []string {
	names := make([]string, len(s.tiers))
	for i, t := range s.tiers {
		names[i] = t.Name()
	}
	return names
}

// Get returns the owner's cart from the first tier that answers.
func (s *Service) Get(ctx context.Context, ownerID string) (model.Cart, error) {
	if err := model.ValidateOwner(ownerID); err != nil {
		return model.Cart{}, err
	}
	items, err := s.read(ctx, ownerID)
	if err != nil {
		return model.Cart{}, err
	}
	return model.Cart{OwnerID: ownerID, Items: items}, nil
}

// AddItem adds item to the owner's cart, increasing an existing line.
func (s *Service) AddItem(ctx context.Context, ownerID string, item model.CartItem) (model.Cart, error) {
	normalized, err := model.Normalize(model.RawFromItem(item))
	if err != nil {
		return model.Cart{}, err
	}
	return s.modify(ctx, "add", ownerID, func(items []model.CartItem) ([]model.CartItem, error) {
		return model.AddItem(items, normalized), nil
	})
}

// UpdateQuantity sets a line's quantity. A quantity <= 0 removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, ownerID, itemID string, quantity int) (model.Cart, error) {
	if itemID == "" {
		return model.Cart{}, model.NewValidationError("itemId", "required")
	}
	return s.modify(ctx, "update", ownerID, func(items []model.CartItem) ([]model.CartItem, error) {
		out, ok := model.SetQuantity(items, itemID, quantity)
		if !ok {
			return nil, model.NewNotFoundError("cart item " + itemID)
		}
		return out, nil
	})
}

// RemoveItem removes a line. Removing an absent line succeeds.
func (s *Service) RemoveItem(ctx context.Context, ownerID, itemID string) (model.Cart, error) {
	if itemID == "" {
		return model.Cart{}, model.NewValidationError("itemId", "required")
	}
	return s.modify(ctx, "remove", ownerID, func(items []model.CartItem) ([]model.CartItem, error) {
		return model.RemoveItem(items, itemID), nil
	})
}

// Clear empties the owner's cart on the first tier that accepts it.
func (s *Service) Clear(ctx context.Context, ownerID string) error {
	if err := model.ValidateOwner(ownerID); err != nil {
		return err
	}
	steps := make([]cascade.Step[struct{}], len(s.tiers))
	for i, tier := range s.tiers {
		steps[i] = cascade.Step[struct{}]{
			Name: tier.Name(),
			Run: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, tier.Clear(ctx, ownerID)
			},
		}
	}
	res, err := cascade.First(ctx, steps)
	s.logFallback(ownerID, "clear", res.Errs)
	return wrapExhausted(err)
}

// Merge merges guest items into the owner's cart (incoming wins) where the
// data lives: the local store, else the remote service.
func (s *Service) Merge(ctx context.Context, ownerID string, incoming []model.CartItem) (model.Cart, error) {
	if err := model.ValidateOwner(ownerID); err != nil {
		return model.Cart{}, err
	}

	steps := make([]cascade.Step[[]model.CartItem], len(s.tiers))
	for i, tier := range s.tiers {
		run := func(ctx context.Context) ([]model.CartItem, error) {
			current, err := tier.Read(ctx, ownerID)
			if err != nil {
				return nil, err
			}
			merged := merge.Items(current, incoming)
			return merged, tier.Write(ctx, ownerID, merged, model.WriteReplace)
		}
		if m, ok := tier.(adapter.Merger); ok {
			run = func(ctx context.Context) ([]model.CartItem, error) {
				return m.Merge(ctx, ownerID, incoming)
			}
		}
		steps[i] = cascade.Step[[]model.CartItem]{Name: tier.Name(), Run: run}
	}

	res, err := cascade.First(ctx, steps)
	s.logFallback(ownerID, "merge", res.Errs)
	if err != nil {
		return model.Cart{}, wrapExhausted(err)
	}
	s.logger.Info("cart merged",
		slog.String("owner_id", ownerID),
		slog.String("tier", res.Step),
		slog.Int("incoming", len(incoming)),
		slog.Int("items", len(res.Value)))
	return model.Cart{OwnerID: ownerID, Items: res.Value}, nil
}

// modify reads the current cart, applies fn and replace-writes the result.
func (s *Service) modify(ctx context.Context, op, ownerID string, fn func([]model.CartItem) ([]model.CartItem, error)) (model.Cart, error) {
	if err := model.ValidateOwner(ownerID); err != nil {
		return model.Cart{}, err
	}
	current, err := s.read(ctx, ownerID)
	if err != nil {
		return model.Cart{}, err
	}
	next, err := fn(current)
	if err != nil {
		return model.Cart{}, err
	}

	steps := make([]cascade.Step[struct{}], len(s.tiers))
	for i, tier := range s.tiers {
		steps[i] = cascade.Step[struct{}]{
			Name: tier.Name(),
			Run: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, tier.Write(ctx, ownerID, next, model.WriteReplace)
			},
		}
	}
	res, err := cascade.First(ctx, steps)
	s.logFallback(ownerID, op, res.Errs)
	if err != nil {
		return model.Cart{}, wrapExhausted(err)
	}
	return model.Cart{OwnerID: ownerID, Items: next}, nil
}

func (s *Service) read(ctx context.Context, ownerID string) ([]model.CartItem, error) {
	steps := make([]cascade.Step[[]model.CartItem], len(s.tiers))
	for i, tier := range s.tiers {
		steps[i] = cascade.Step[[]model.CartItem]{
			Name: tier.Name(),
			Run: func(ctx context.Context) ([]model.CartItem, error) {
				return tier.Read(ctx, ownerID)
			},
		}
	}
	res, err := cascade.First(ctx, steps)
	s.logFallback(ownerID, "read", res.Errs)
	if err != nil {
		return nil, wrapExhausted(err)
	}
	return res.Value, nil
}

func (s *Service) logFallback(ownerID, op string, errs []error) {
	for _, err := range errs {
		s.logger.Warn("tier failed, falling back",
			slog.String("owner_id", ownerID),
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
}

// wrapExhausted turns an exhausted cascade into an APIError. Validation
// failures from a tier pass through so the caller sees the real reason.
func wrapExhausted(err error) error {
	if err == nil {
		return nil
	}
	var exhausted *cascade.ExhaustedError
	if !errors.As(err, &exhausted) {
		return err
	}
	for _, e := range exhausted.Errs {
		var apiErr *model.APIError
		if errors.As(e, &apiErr) && errors.Is(apiErr, model.ErrValidation) {
			return apiErr
		}
	}
	return &model.APIError{
		Code:       "CART_UNAVAILABLE",
		Message:    "no cart storage tier is reachable",
		StatusCode: 503,
		Err:        err,
	}
}
