// Package identity reads the caller's session from the Cart-Session header
// set by the identity provider's gateway.
//
// The header is an RFC 8941 dictionary:
//
//	Cart-Session: user="u-123", auth=?1
//
// A request without the header is a guest.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"

	"cartsync/internal/model"
)

// HeaderName is the session header.
const HeaderName = "Cart-Session"

// Identity is the caller as asserted by the identity provider.
type Identity struct {
	UserID        string
	Authenticated bool
}

// Guest is the identity of a request without a session header.
var Guest = Identity{}

// Owner returns the cart owner key: the user id when authenticated,
// model.GuestOwner otherwise.
func (i Identity) Owner() string {
	if i.Authenticated && i.UserID != "" {
		return i.UserID
	}
	return model.GuestOwner
}

// ParseHeader parses a Cart-Session header value.
//
// Examples:
//   - user="u-123", auth=?1 → {u-123, true}
//   - user=u123, auth=?0    → {u123, false}  (token values accepted)
//   - ""                    → Guest
//
// auth=?1 without a user is rejected.
func ParseHeader(header string) (Identity, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Guest, nil
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return Guest, fmt.Errorf("invalid %s header: %w", HeaderName, err)
	}

	var id Identity
	if member, ok := dict.Get("user"); ok {
		item, ok := member.(httpsfv.Item)
		if !ok {
			return Guest, errors.New("user must be an item")
		}
		switch v := item.Value.(type) {
		case string:
			id.UserID = strings.TrimSpace(v)
		case httpsfv.Token:
			id.UserID = string(v)
		default:
			return Guest, errors.New("user must be a string or token")
		}
	}

	if member, ok := dict.Get("auth"); ok {
		item, ok := member.(httpsfv.Item)
		if !ok {
			return Guest, errors.New("auth must be an item")
		}
		auth, ok := item.Value.(bool)
		if !ok {
			return Guest, errors.New("auth must be a boolean")
		}
		id.Authenticated = auth
	}

	if id.Authenticated && id.UserID == "" {
		return Guest, errors.New("authenticated session without user")
	}
	return id, nil
}

// FormatHeader renders id as a Cart-Session header value.
func FormatHeader(id Identity) (string, error) {
	dict := httpsfv.NewDictionary()
	if id.UserID != "" {
		dict.Add("user", httpsfv.NewItem(id.UserID))
	}
	dict.Add("auth", httpsfv.NewItem(id.Authenticated))
	return httpsfv.Marshal(dict)
}

type contextKey string

const identityKey contextKey = "cartsync.identity"

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by the middleware, or Guest.
func FromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok {
		return Guest
	}
	return id
}
