package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartsync/internal/adapter"
	"cartsync/internal/browser"
	"cartsync/internal/handler"
	"cartsync/internal/identity"
	"cartsync/internal/service"
)

// newServer starts a cartd handler stack over an in-memory tier.
func newServer(t *testing.T) (*httptest.Server, *adapter.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := adapter.NewMemory("local")
	mux := http.NewServeMux()
	handler.New(service.New([]adapter.Tier{mem}, logger), nil, logger).RegisterRoutes(mux)
	srv := httptest.NewServer(identity.Middleware(logger)(mux))
	t.Cleanup(srv.Close)
	return srv, mem
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func showJSON(t *testing.T, args ...string) cartView {
	t.Helper()
	out, _, err := execute(t, append([]string{"show", "--format", "json"}, args...)...)
	require.NoError(t, err)
	var view cartView
	require.NoError(t, json.Unmarshal([]byte(out), &view), out)
	return view
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "show", "--format", "xml", "--storage", filepath.Join(t.TempDir(), "s.json"))
	assert.ErrorContains(t, err, "invalid format")
}

func TestGuestCartPersistsBetweenRuns(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "cart.json")

	_, _, err := execute(t, "add", "sku-1", "--qty", "2", "--price", "3.50", "--title", "Deck", "--storage", storage)
	require.NoError(t, err)
	_, _, err = execute(t, "add", "sku-2", "--storage", storage)
	require.NoError(t, err)
	_, _, err = execute(t, "set-qty", "sku-2", "4", "--storage", storage)
	require.NoError(t, err)

	view := showJSON(t, "--storage", storage)
	assert.Equal(t, "guest", view.Owner)
	assert.Equal(t, 6, view.Count)
	assert.Equal(t, "7.00", view.Subtotal)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "Deck", view.Items[0].Title)

	_, ok, err := browser.NewFile(storage).Get("cart:guest")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTextOutput(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "cart.json")

	out, _, err := execute(t, "add", "sku-1", "--price", "2", "--storage", storage)

	require.NoError(t, err)
	assert.Contains(t, out, "cart for guest: 1 item(s)")
	assert.Contains(t, out, "sku-1")
	assert.Contains(t, out, "subtotal: 2.00")
}

func TestLoginMergesGuestCart(t *testing.T) {
	srv, mem := newServer(t)
	storage := filepath.Join(t.TempDir(), "cart.json")

	_, _, err := execute(t, "add", "a", "--qty", "2", "--storage", storage)
	require.NoError(t, err)

	_, _, err = execute(t, "login", "u-1", "--server", srv.URL, "--storage", storage)
	require.NoError(t, err)

	items, _ := mem.Read(context.Background(), "u-1")
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)

	// guest key is cleared so a second login does not merge again
	_, ok, _ := browser.NewFile(storage).Get("cart:guest")
	assert.False(t, ok)

	view := showJSON(t, "--server", srv.URL, "--storage", storage)
	assert.Equal(t, "u-1", view.Owner)
	assert.Equal(t, 2, view.Count)
}

func TestLoggedInMutationsReachServer(t *testing.T) {
	srv, mem := newServer(t)
	storage := filepath.Join(t.TempDir(), "cart.json")
	flags := []string{"--server", srv.URL, "--storage", storage}

	_, _, err := execute(t, append([]string{"login", "u-1"}, flags...)...)
	require.NoError(t, err)
	_, _, err = execute(t, append([]string{"add", "a", "--qty", "3"}, flags...)...)
	require.NoError(t, err)
	_, _, err = execute(t, append([]string{"add", "b"}, flags...)...)
	require.NoError(t, err)
	_, _, err = execute(t, append([]string{"set-qty", "a", "1"}, flags...)...)
	require.NoError(t, err)
	_, _, err = execute(t, append([]string{"remove", "b"}, flags...)...)
	require.NoError(t, err)

	items, _ := mem.Read(context.Background(), "u-1")
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ItemID)
	assert.Equal(t, 1, items[0].Quantity)

	_, _, err = execute(t, append([]string{"clear"}, flags...)...)
	require.NoError(t, err)
	items, _ = mem.Read(context.Background(), "u-1")
	assert.Empty(t, items)
}

func TestLogoutLoginRoundTrip(t *testing.T) {
	srv, mem := newServer(t)
	storage := filepath.Join(t.TempDir(), "cart.json")
	flags := []string{"--server", srv.URL, "--storage", storage}

	_, _, err := execute(t, append([]string{"login", "u-1"}, flags...)...)
	require.NoError(t, err)
	_, _, err = execute(t, append([]string{"add", "a", "--qty", "2"}, flags...)...)
	require.NoError(t, err)

	_, _, err = execute(t, append([]string{"logout"}, flags...)...)
	require.NoError(t, err)

	view := showJSON(t, flags...)
	assert.Equal(t, "guest", view.Owner)
	assert.Equal(t, 2, view.Count, "cart stays visible after logout")
	_, ok, _ := browser.NewFile(storage).Get("cart:backup")
	assert.True(t, ok, "logout leaves a backup")

	_, _, err = execute(t, append([]string{"login", "u-1"}, flags...)...)
	require.NoError(t, err)

	items, _ := mem.Read(context.Background(), "u-1")
	require.Len(t, items, 1, "no duplicate lines after round trip")
	assert.Equal(t, 2, items[0].Quantity)
	_, ok, _ = browser.NewFile(storage).Get("cart:backup")
	assert.False(t, ok)
}

func TestLoggedInWithoutServer(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "cart.json")
	require.NoError(t, browser.NewFile(storage).Set(sessionKey, "u-1"))

	_, _, err := execute(t, "show", "--storage", storage)
	assert.ErrorContains(t, err, "--server is required")

	_, _, err = execute(t, "login", "u-2", "--storage", storage)
	assert.ErrorContains(t, err, "--server is required")
}

func TestServerDownRollsBack(t *testing.T) {
	srv, _ := newServer(t)
	storage := filepath.Join(t.TempDir(), "cart.json")
	_, _, err := execute(t, "login", "u-1", "--server", srv.URL, "--storage", storage)
	require.NoError(t, err)
	srv.Close()

	out, stderr, err := execute(t, "add", "a", "--server", srv.URL, "--storage", storage)

	assert.ErrorContains(t, err, "failed")
	assert.Contains(t, stderr, "warning:")
	assert.Empty(t, out)
}

func TestUserFlagOverridesStoredSession(t *testing.T) {
	srv, mem := newServer(t)
	storage := filepath.Join(t.TempDir(), "cart.json")

	_, _, err := execute(t, "add", "x", "--user", "u-7", "--server", srv.URL, "--storage", storage)
	require.NoError(t, err)

	items, _ := mem.Read(context.Background(), "u-7")
	assert.Len(t, items, 1)
	_, ok, _ := browser.NewFile(storage).Get(sessionKey)
	assert.False(t, ok, "--user does not sign in")
}

func TestArgumentValidation(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "cart.json")

	_, _, err := execute(t, "set-qty", "a", "many", "--storage", storage)
	assert.ErrorContains(t, err, "invalid quantity")

	_, _, err = execute(t, "add", "a", "--price", "cheap", "--storage", storage)
	assert.ErrorContains(t, err, "invalid --price")

	_, _, err = execute(t, "add", "a", "--qty", "-2", "--storage", storage)
	assert.Error(t, err)
}
