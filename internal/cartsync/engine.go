// Package cartsync keeps the in-memory cart, browser storage and the server
// tiers consistent.
//
// Every mutation is applied to the state store first and observers see it
// immediately. Guest carts are then written to browser storage. Authenticated
// carts are persisted in the background through the tier cascade (local store,
// then remote service); if every tier fails the change is rolled back, the
// user is notified and the cart is resynced from whatever tier still answers.
//
// The same Engine runs the session transitions: merging the guest cart into
// the account on login and snapshotting the cart on logout.
package cartsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"cartsync/internal/adapter"
	"cartsync/internal/cascade"
	"cartsync/internal/merge"
	"cartsync/internal/model"
	"cartsync/internal/state"
)

// DefaultOperationTimeout bounds one background persistence or resync.
const DefaultOperationTimeout = 15 * time.Second

// GuestStore is the browser-side storage the engine needs.
// *browser.Cart implements it.
type GuestStore interface {
	Read() []model.CartItem
	Write(items []model.CartItem, mode model.WriteMode) error
	Clear() error
	LoadGuest() ([]model.CartItem, error)
	LoadBackup() ([]model.CartItem, error)
	SaveBackup(items []model.CartItem) error
	ClearBackup() error
	RecordLogin(at time.Time) error
}

// Config tunes an Engine.
type Config struct {
	// OperationTimeout applies to each background cascade. Zero means the default.
	OperationTimeout time.Duration

	// Notifier receives user-visible failures. Nil logs them instead.
	Notifier Notifier

	// Policy is the login merge precedence for tiers that do not merge
	// server side. Defaults to merge.IncomingWins.
	Policy merge.Policy

	// Clock overrides time.Now.
	Clock func() time.Time
}

// Engine is the sync orchestrator and session transition handler.
type Engine struct {
	state    *state.Store
	guest    GuestStore
	tiers    []adapter.Tier
	notifier Notifier
	policy   merge.Policy
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time

	// persistMu orders background writes so a later write never lands
	// before an earlier one.
	persistMu sync.Mutex
	inflight  sync.WaitGroup
	resyncs   singleflight.Group

	sessionMu  sync.Mutex
	session    SessionState
	inProgress atomic.Bool
}

// New creates an engine. tiers are the server tiers in fallback order.
func New(st *state.Store, guest GuestStore, tiers []adapter.Tier, logger *slog.Logger, cfg Config) *Engine {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.Notifier == nil {
		cfg.Notifier = logNotifier{logger: logger}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		state:    st,
		guest:    guest,
		tiers:    tiers,
		notifier: cfg.Notifier,
		policy:   cfg.Policy,
		logger:   logger,
		timeout:  cfg.OperationTimeout,
		now:      cfg.Clock,
	}
}

// State returns the observable cart.
func (e *Engine) State() *state.Store {
	return e.state
}

// AddToCart adds item, increasing the quantity of an existing line.
func (e *Engine) AddToCart(ctx context.Context, item model.CartItem) error {
	normalized, err := model.Normalize(model.RawFromItem(item))
	if err != nil {
		return err
	}
	return e.mutate(ctx, "add", normalized.ItemID, func(items []model.CartItem) []model.CartItem {
		return model.AddItem(items, normalized)
	})
}

// UpdateQuantity sets the quantity of a line. A quantity <= 0 removes it.
func (e *Engine) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	if itemID == "" {
		return model.NewValidationError("itemId", "required")
	}
	if quantity <= 0 {
		return e.RemoveFromCart(ctx, itemID)
	}
	if model.IndexOf(e.state.Items(), itemID) < 0 {
		return model.NewNotFoundError("cart item " + itemID)
	}
	return e.mutate(ctx, "update", itemID, func(items []model.CartItem) []model.CartItem {
		out, _ := model.SetQuantity(items, itemID, quantity)
		return out
	})
}

// RemoveFromCart removes a line. Removing an absent line is a no-op.
func (e *Engine) RemoveFromCart(ctx context.Context, itemID string) error {
	if itemID == "" {
		return model.NewValidationError("itemId", "required")
	}
	if model.IndexOf(e.state.Items(), itemID) < 0 {
		return nil
	}
	return e.mutate(ctx, "remove", itemID, func(items []model.CartItem) []model.CartItem {
		return model.RemoveItem(items, itemID)
	})
}

// ClearCart empties the cart.
func (e *Engine) ClearCart(ctx context.Context) error {
	return e.mutate(ctx, "clear", "", func([]model.CartItem) []model.CartItem {
		return []model.CartItem{}
	})
}

// ReplaceCart sets the whole item set at once. Invalid items are rejected
// before anything changes.
func (e *Engine) ReplaceCart(ctx context.Context, items []model.CartItem) error {
	raws := make([]model.RawItem, len(items))
	for i, item := range items {
		raws[i] = model.RawFromItem(item)
	}
	normalized, err := model.NormalizeItems(raws)
	if err != nil {
		return err
	}
	normalized = merge.Items(nil, normalized)
	return e.mutate(ctx, "replace", "", func([]model.CartItem) []model.CartItem {
		return normalized
	})
}

// Flush blocks until all background persistence has finished.
func (e *Engine) Flush() {
	e.inflight.Wait()
}

// mutate applies fn optimistically, then persists. Guest carts persist
// synchronously to browser storage; authenticated carts persist in the
// background and roll back on failure.
func (e *Engine) mutate(ctx context.Context, op, itemID string, fn func([]model.CartItem) []model.CartItem) error {
	owner := e.state.Owner()
	before, after := e.state.Update(fn)

	if model.ValidateOwner(owner) != nil {
		if err := e.guest.Write(after, model.WriteReplace); err != nil {
			// Browser storage failures degrade silently; the in-memory cart stays.
			e.logger.Warn("guest cart not saved",
				slog.String("op", op),
				slog.String("error", err.Error()))
		}
		return nil
	}

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.persist(context.WithoutCancel(ctx), op, owner, itemID, before)
	}()
	return nil
}

func (e *Engine) persist(ctx context.Context, op, owner, itemID string, before []model.CartItem) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	// Another session took over while we waited.
	if e.state.Owner() != owner {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	items := e.state.Items()
	res, err := cascade.First(ctx, e.writeSteps(owner, items))
	e.logFallback(owner, op, res.Errs)
	if err == nil {
		e.logger.Debug("cart persisted",
			slog.String("owner_id", owner),
			slog.String("op", op),
			slog.String("tier", res.Step))
		return
	}

	e.logger.Error("cart persistence failed on every tier",
		slog.String("owner_id", owner),
		slog.String("op", op),
		slog.String("error", err.Error()))

	e.state.Update(func(current []model.CartItem) []model.CartItem {
		return restoreLine(current, before, itemID)
	})
	e.notifier.Notify(Notice{Kind: NoticeSyncFailed, Op: op, ItemID: itemID, Err: err})
	e.resync(ctx, owner)
}

// restoreLine undoes one mutation. Whole-cart operations restore everything;
// single-line operations restore only that line so newer edits survive.
func restoreLine(current, before []model.CartItem, itemID string) []model.CartItem {
	if itemID == "" {
		return model.CloneItems(before)
	}

	prev := model.IndexOf(before, itemID)
	if prev < 0 {
		return model.RemoveItem(current, itemID)
	}

	out := model.CloneItems(current)
	if idx := model.IndexOf(out, itemID); idx >= 0 {
		out[idx] = before[prev].Clone()
		return out
	}
	pos := min(prev, len(out))
	out = append(out, model.CartItem{})
	copy(out[pos+1:], out[pos:])
	out[pos] = before[prev].Clone()
	return out
}

// Refresh replaces the in-memory cart with the first server tier that answers.
func (e *Engine) Refresh(ctx context.Context) error {
	owner := e.state.Owner()
	if err := model.ValidateOwner(owner); err != nil {
		e.state.Replace(e.guest.Read())
		return nil
	}
	_, err := e.readServer(ctx, owner)
	return err
}

// resync replaces the cart after a failed persist: local read, else remote
// read, else empty.
func (e *Engine) resync(ctx context.Context, owner string) {
	if _, err := e.readServer(ctx, owner); err != nil {
		e.logger.Warn("resync found no reachable tier, clearing in-memory cart",
			slog.String("owner_id", owner),
			slog.String("error", err.Error()))
		if e.state.Owner() == owner {
			e.state.Replace([]model.CartItem{})
		}
	}
}

// readServer reads through the cascade and applies the result to the state
// store if the owner is still current. Concurrent calls for one owner share
// a single read.
func (e *Engine) readServer(ctx context.Context, owner string) ([]model.CartItem, error) {
	v, err, _ := e.resyncs.Do(owner, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()

		res, err := cascade.First(ctx, e.readSteps(owner))
		e.logFallback(owner, "read", res.Errs)
		if err != nil {
			return nil, err
		}
		return res.Value, nil
	})
	if err != nil {
		return nil, err
	}
	items := v.([]model.CartItem)
	if e.state.Owner() == owner {
		e.state.Replace(items)
	}
	return model.CloneItems(items), nil
}

func (e *Engine) readSteps(owner string) []cascade.Step[[]model.CartItem] {
	steps := make([]cascade.Step[[]model.CartItem], len(e.tiers))
	for i, tier := range e.tiers {
		steps[i] = cascade.Step[[]model.CartItem]{
			Name: tier.Name(),
			Run: func(ctx context.Context) ([]model.CartItem, error) {
				return tier.Read(ctx, owner)
			},
		}
	}
	return steps
}

func (e *Engine) writeSteps(owner string, items []model.CartItem) []cascade.Step[struct{}] {
	steps := make([]cascade.Step[struct{}], len(e.tiers))
	for i, tier := range e.tiers {
		steps[i] = cascade.Step[struct{}]{
			Name: tier.Name(),
			Run: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, tier.Write(ctx, owner, items, model.WriteReplace)
			},
		}
	}
	return steps
}

// mergeSteps runs the login merge on each tier in order. Tiers implementing
// adapter.Merger merge where the data lives; others are read, merged here
// and replace-written.
func (e *Engine) mergeSteps(owner string, incoming []model.CartItem) []cascade.Step[[]model.CartItem] {
	steps := make([]cascade.Step[[]model.CartItem], len(e.tiers))
	for i, tier := range e.tiers {
		run := func(ctx context.Context) ([]model.CartItem, error) {
			current, err := tier.Read(ctx, owner)
			if err != nil {
				return nil, err
			}
			merged := e.policy.Merge(current, incoming)
			if err := tier.Write(ctx, owner, merged, model.WriteReplace); err != nil {
				return nil, err
			}
			return merged, nil
		}
		if m, ok := tier.(adapter.Merger); ok && e.policy == merge.IncomingWins {
			run = func(ctx context.Context) ([]model.CartItem, error) {
				return m.Merge(ctx, owner, incoming)
			}
		}
		steps[i] = cascade.Step[[]model.CartItem]{Name: tier.Name(), Run: run}
	}
	return steps
}

func (e *Engine) logFallback(owner, op string, errs []error) {
	for _, err := range errs {
		var stepErr *cascade.StepError
		tier := "unknown"
		if errors.As(err, &stepErr) {
			tier = stepErr.Step
		}
		e.logger.Warn("tier failed, falling back",
			slog.String("owner_id", owner),
			slog.String("op", op),
			slog.String("tier", tier),
			slog.String("error", err.Error()))
	}
}
