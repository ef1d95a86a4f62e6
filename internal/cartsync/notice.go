package cartsync

import (
	"fmt"
	"log/slog"
)

// NoticeKind classifies a user-visible notification.
type NoticeKind string

const (
	// NoticeSyncFailed: every server tier rejected a mutation and it was rolled back.
	NoticeSyncFailed NoticeKind = "sync_failed"

	// NoticeMergeFailed: the login merge could not reach any server tier.
	NoticeMergeFailed NoticeKind = "merge_failed"
)

// Notice is raised when a failure must be shown to the user.
type Notice struct {
	Kind   NoticeKind
	Op     string // mutation or protocol that failed
	ItemID string // affected line, empty for whole-cart operations
	Err    error
}

// Message renders a short user-facing text.
func (n Notice) Message() string {
	switch n.Kind {
	case NoticeSyncFailed:
		if n.ItemID != "" {
			return fmt.Sprintf("Could not save your cart change for item %s. It has been undone.", n.ItemID)
		}
		return "Could not save your cart. Your last change has been undone."
	case NoticeMergeFailed:
		return "We could not combine your guest cart with your account right now."
	default:
		return "Cart sync problem."
	}
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) {
	f(n)
}

// logNotifier is used when no Notifier is configured.
type logNotifier struct {
	logger *slog.Logger
}

func (l logNotifier) Notify(n Notice) {
	attrs := []any{
		slog.String("kind", string(n.Kind)),
		slog.String("op", n.Op),
	}
	if n.ItemID != "" {
		attrs = append(attrs, slog.String("item_id", n.ItemID))
	}
	if n.Err != nil {
		attrs = append(attrs, slog.String("error", n.Err.Error()))
	}
	l.logger.Warn(n.Message(), attrs...)
}
