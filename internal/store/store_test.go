package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartsync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cart.db")
	s, err := Open(context.Background(), Config{DSN: path}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func item(id string, qty int) model.CartItem {
	return model.CartItem{
		ItemID:    id,
		Title:     "Book " + id,
		Price:     decimal.RequireFromString("9.99"),
		Quantity:  qty,
		Condition: model.DefaultCondition,
		Weight:    model.DefaultWeight,
		Images:    []string{id + ".jpg"},
	}
}

func ids(items []model.CartItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ItemID
	}
	return out
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := Open(ctx, Config{Driver: "mysql", DSN: "x"}, logger)
	assert.ErrorContains(t, err, "unsupported store driver")

	_, err = Open(ctx, Config{}, logger)
	assert.ErrorContains(t, err, "DSN is required")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cart.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	first, err := Open(ctx, Config{DSN: path}, logger)
	require.NoError(t, err)
	require.NoError(t, first.Write(ctx, "u-1", []model.CartItem{item("1", 1)}, model.WriteReplace))
	require.NoError(t, first.Close())

	second, err := Open(ctx, Config{DSN: path}, logger)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Read(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(got))

	var mode string
	require.NoError(t, second.db.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
}

func TestStore_ReadUnknownOwnerIsEmpty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Read(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_WriteReplaceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "u-1", []model.CartItem{item("a", 1), item("b", 2)}, model.WriteReplace))
	require.NoError(t, s.Write(ctx, "u-1", []model.CartItem{item("c", 3), item("a", 4)}, model.WriteReplace))

	got, err := s.Read(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a"}, ids(got))
	assert.Equal(t, 4, got[1].Quantity)
	assert.True(t, got[1].Price.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, []string{"a.jpg"}, got[1].Images)
	assert.Equal(t, model.DefaultCondition, got[1].Condition)
}

func TestStore_OwnersAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "u-1", []model.CartItem{item("a", 1)}, model.WriteReplace))
	require.NoError(t, s.Write(ctx, "u-2", []model.CartItem{item("b", 1)}, model.WriteReplace))

	got, err := s.Read(ctx, "u-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(got))
}

func TestStore_WriteMergeModeRejected(t *testing.T) {
	s := openTestStore(t)
	err := s.Write(context.Background(), "u-1", []model.CartItem{item("a", 1)}, model.WriteMerge)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestStore_GuestOwnerRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Write(ctx, model.GuestOwner, []model.CartItem{item("a", 1)}, model.WriteReplace)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = s.Read(ctx, "")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestStore_PartialFailureIsNotFatal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Quantity 0 violates the CHECK constraint; the other item still lands.
	bad := item("bad", 0)
	require.NoError(t, s.Write(ctx, "u-1", []model.CartItem{item("ok", 1), bad}, model.WriteReplace))

	got, err := s.Read(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, ids(got))
}

func TestStore_WholeBatchFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Write(ctx, "u-1", []model.CartItem{item("x", 0), item("y", -1)}, model.WriteReplace)
	assert.ErrorIs(t, err, model.ErrLocalPersistence)

	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
}

func TestStore_FailedWriteKeepsPreviousItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "u-1", []model.CartItem{item("a", 1), item("b", 2)}, model.WriteReplace))

	err := s.Write(ctx, "u-1", []model.CartItem{item("a", 0), item("b", 0)}, model.WriteReplace)
	require.ErrorIs(t, err, model.ErrLocalPersistence)

	got, err := s.Read(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))
	assert.Equal(t, 2, got[1].Quantity)
}

func TestStore_EmptyReplaceSucceeds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "u-1", []model.CartItem{item("a", 1)}, model.WriteReplace))
	require.NoError(t, s.Write(ctx, "u-1", nil, model.WriteReplace))

	got, err := s.Read(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ClearKeepsCartRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Clear(ctx, "never-written"))

	require.NoError(t, s.Write(ctx, "u-1", []model.CartItem{item("a", 1)}, model.WriteReplace))
	before, err := s.cartID(ctx, "u-1")
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, "u-1"))

	after, err := s.cartID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	got, err := s.Read(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_MergeIncomingWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "u-1", []model.CartItem{item("a", 1), item("b", 1)}, model.WriteReplace))

	merged, err := s.Merge(ctx, "u-1", []model.CartItem{item("b", 5), item("c", 2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(merged))
	assert.Equal(t, 5, merged[1].Quantity)

	got, err := s.Read(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, ids(merged), ids(got))
}

func TestStore_MergeIntoNewCart(t *testing.T) {
	s := openTestStore(t)

	merged, err := s.Merge(context.Background(), "u-new", []model.CartItem{item("a", 2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(merged))
}

func TestStore_EnsureCartIsStable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.ensureCart(ctx, "u-1")
	require.NoError(t, err)
	second, err := s.ensureCart(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}
