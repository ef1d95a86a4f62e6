package cartsync

import (
	"context"
	"errors"
	"log/slog"

	"cartsync/internal/cascade"
	"cartsync/internal/model"
)

// SessionState is the authentication status as last processed by the engine.
type SessionState int

const (
	SessionUnknown SessionState = iota
	SessionUnauthenticated
	SessionAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case SessionUnauthenticated:
		return "unauthenticated"
	case SessionAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Session is one observation from the identity provider.
type Session struct {
	Resolved      bool // false while the provider is still loading
	Authenticated bool
	UserID        string
}

func (s Session) state() SessionState {
	switch {
	case !s.Resolved:
		return SessionUnknown
	case s.Authenticated && s.UserID != "":
		return SessionAuthenticated
	default:
		return SessionUnauthenticated
	}
}

// SessionState returns the last processed state.
func (e *Engine) SessionState() SessionState {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	return e.session
}

// Observe feeds an identity-provider observation to the transition handler.
//
// Edges:
//
//	unknown → unauthenticated          load the guest cart verbatim
//	unknown|unauthenticated → authenticated  login protocol
//	authenticated → unauthenticated    logout protocol
//	authenticated → authenticated      ignored for the same owner;
//	                                   account switch for a new owner
//
// An edge is processed at most once. Observations arriving while a
// transition runs are dropped; the caller re-observes on the next change.
// Observe returns when the transition is complete.
func (e *Engine) Observe(ctx context.Context, s Session) {
	next := s.state()
	if next == SessionUnknown {
		return
	}

	if !e.inProgress.CompareAndSwap(false, true) {
		e.logger.Debug("session transition already running, observation dropped",
			slog.String("to", next.String()))
		return
	}
	defer e.inProgress.Store(false)

	e.sessionMu.Lock()
	current := e.session
	e.sessionMu.Unlock()

	if current == next && (next != SessionAuthenticated || e.state.Owner() == s.UserID) {
		return
	}

	e.logger.Info("session transition",
		slog.String("from", current.String()),
		slog.String("to", next.String()))

	switch {
	case next == SessionUnauthenticated && current == SessionAuthenticated:
		e.logout(ctx)
	case next == SessionUnauthenticated:
		e.state.SetOwner(model.GuestOwner, e.guest.Read())
	case current == SessionAuthenticated:
		e.switchAccount(ctx, s.UserID)
	default:
		e.login(ctx, s.UserID)
	}

	e.sessionMu.Lock()
	e.session = next
	e.sessionMu.Unlock()
}

// login merges the guest side into the account.
//
//  1. read the backup snapshot
//  2. if empty, read the live guest key
//  3. if still empty, refresh from the server tiers
//  4. otherwise merge on the server side (local, else remote)
//  5. on success clear guest and backup, record the login, refresh
//  6. on failure refresh from whatever answers and notify
func (e *Engine) login(ctx context.Context, owner string) {
	e.state.SetOwner(owner, e.state.Items())

	incoming, source := e.loadIncoming(ctx)
	if len(incoming) == 0 {
		e.refreshAfterLogin(ctx, owner)
		return
	}

	mctx, cancel := context.WithTimeout(ctx, e.timeout)
	res, err := cascade.First(mctx, e.mergeSteps(owner, incoming))
	cancel()
	e.logFallback(owner, "merge", res.Errs)

	if err != nil {
		e.logger.Error("login merge failed on every tier",
			slog.String("owner_id", owner),
			slog.String("source", source),
			slog.Int("items", len(incoming)),
			slog.String("error", err.Error()))
		e.refreshAfterLogin(ctx, owner)
		e.notifier.Notify(Notice{Kind: NoticeMergeFailed, Op: "login", Err: err})
		return
	}

	e.logger.Info("guest cart merged",
		slog.String("owner_id", owner),
		slog.String("source", source),
		slog.String("tier", res.Step),
		slog.Int("items", len(res.Value)))

	// Clearing both keys is what stops a second login from merging again.
	if err := e.guest.Clear(); err != nil {
		e.logger.Warn("clearing guest cart failed", slog.String("error", err.Error()))
	}
	if err := e.guest.ClearBackup(); err != nil {
		e.logger.Warn("clearing backup failed", slog.String("error", err.Error()))
	}
	if err := e.guest.RecordLogin(e.now()); err != nil {
		e.logger.Debug("recording login time failed", slog.String("error", err.Error()))
	}

	if _, err := e.readServer(ctx, owner); err != nil {
		e.state.Replace(res.Value)
	}
}

// loadIncoming returns the backup snapshot, else the live guest cart. Corrupt
// payloads are logged, removed and treated as absent.
func (e *Engine) loadIncoming(ctx context.Context) ([]model.CartItem, string) {
	keys := map[string]func() error{
		"backup": e.guest.ClearBackup,
		"guest":  e.guest.Clear,
	}
	steps := []cascade.Step[[]model.CartItem]{
		{Name: "backup", Run: func(context.Context) ([]model.CartItem, error) { return e.guest.LoadBackup() }},
		{Name: "guest", Run: func(context.Context) ([]model.CartItem, error) { return e.guest.LoadGuest() }},
	}

	res, _ := cascade.First(ctx, steps, cascade.AcceptWhen(nonEmpty))
	for _, err := range res.Errs {
		var stepErr *cascade.StepError
		if !errors.As(err, &stepErr) {
			continue
		}
		if !errors.Is(err, model.ErrMergeDataCorrupt) {
			e.logger.Warn("guest data unreadable", slog.String("source", stepErr.Step), slog.String("error", err.Error()))
			continue
		}
		e.logger.Warn("guest data corrupt, skipping merge source",
			slog.String("source", stepErr.Step),
			slog.String("error", err.Error()))
		if clear, ok := keys[stepErr.Step]; ok {
			_ = clear()
		}
	}

	if len(res.Value) == 0 {
		return nil, ""
	}
	return res.Value, res.Step
}

func nonEmpty(items []model.CartItem) bool {
	return len(items) > 0
}

func (e *Engine) refreshAfterLogin(ctx context.Context, owner string) {
	if _, err := e.readServer(ctx, owner); err != nil {
		e.logger.Warn("no server tier reachable after login",
			slog.String("owner_id", owner),
			slog.String("error", err.Error()))
	}
}

// logout snapshots the cart for the next login and hands it to the guest
// session. Server writes are best effort; logout always completes.
func (e *Engine) logout(ctx context.Context) {
	e.Flush()

	owner := e.state.Owner()
	items := e.state.Items()

	if len(items) > 0 {
		if err := e.guest.SaveBackup(items); err != nil {
			e.logger.Warn("saving logout backup failed", slog.String("error", err.Error()))
		}
		if err := e.guest.Write(items, model.WriteReplace); err != nil {
			e.logger.Warn("mirroring cart to guest storage failed", slog.String("error", err.Error()))
		}
	}

	e.saveOwner(ctx, "logout", owner, items)
	e.state.SetOwner(model.GuestOwner, items)
}

// switchAccount moves from one signed-in owner to another without a logout
// in between. The previous owner's cart goes to the server tiers only; guest
// storage is left alone so nothing of one account is merged into another.
func (e *Engine) switchAccount(ctx context.Context, owner string) {
	e.Flush()

	previous := e.state.Owner()
	e.saveOwner(ctx, "switch", previous, e.state.Items())

	e.state.SetOwner(owner, []model.CartItem{})
	e.refreshAfterLogin(ctx, owner)
}

// saveOwner is a best-effort replace write of the owner's items.
func (e *Engine) saveOwner(ctx context.Context, op, owner string, items []model.CartItem) {
	if model.ValidateOwner(owner) != nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	res, err := cascade.First(wctx, e.writeSteps(owner, items))
	cancel()
	e.logFallback(owner, op, res.Errs)
	if err != nil {
		e.logger.Warn(op+" write failed on every tier",
			slog.String("owner_id", owner),
			slog.String("error", err.Error()))
	}
}
