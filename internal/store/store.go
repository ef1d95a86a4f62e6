// Package store is the durable Local Store tier: one cart row per owner and
// one item row per (cart, itemId), kept in sqlite3 or postgres through sqlx.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"cartsync/internal/adapter"
	"cartsync/internal/merge"
	"cartsync/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config selects the database.
type Config struct {
	Driver string // "sqlite3" (default) or "postgres"
	DSN    string // file path for sqlite3, connection URL for postgres

	// MaxOpenConns applies to postgres only; sqlite always uses one writer.
	MaxOpenConns int
}

// Store implements adapter.Tier and adapter.Merger over a relational database.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects, applies pragmas (sqlite) and the embedded schema.
// Safe to call against an existing database.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.Driver != DriverSQLite && cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("store DSN is required")
	}

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func applyPragmas(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name returns the tier name.
func (s *Store) Name() string {
	return "local"
}

type itemRow struct {
	ID        string  `db:"id"`
	CartID    string  `db:"cart_id"`
	ItemID    string  `db:"item_id"`
	Title     string  `db:"title"`
	Price     string  `db:"price"`
	Quantity  int     `db:"quantity"`
	Condition string  `db:"condition"`
	Weight    float64 `db:"weight"`
	Images    string  `db:"images"`
	Position  int     `db:"position"`
}

func (r itemRow) raw() model.RawItem {
	raw := model.RawItem{
		ItemID:    model.FlexibleID(r.ItemID),
		Title:     r.Title,
		Price:     model.ParsePrice(r.Price),
		Quantity:  r.Quantity,
		Condition: r.Condition,
		Weight:    &r.Weight,
	}
	if r.Images != "" {
		// Unparseable image lists degrade to no images.
		_ = json.Unmarshal([]byte(r.Images), &raw.Images)
	}
	return raw
}

func newItemRow(cartID string, position int, item model.CartItem) (itemRow, error) {
	images := item.Images
	if images == nil {
		images = []string{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return itemRow{}, err
	}
	return itemRow{
		ID:        uuid.NewString(),
		CartID:    cartID,
		ItemID:    item.ItemID,
		Title:     item.Title,
		Price:     model.FormatPrice(item.Price),
		Quantity:  item.Quantity,
		Condition: item.Condition,
		Weight:    item.Weight,
		Images:    string(data),
		Position:  position,
	}, nil
}

// Read returns the owner's items in display order. No cart row → empty.
func (s *Store) Read(ctx context.Context, ownerID string) ([]model.CartItem, error) {
	if err := model.ValidateOwner(ownerID); err != nil {
		return nil, err
	}

	cartID, err := s.cartID(ctx, ownerID)
	if err != nil {
		return nil, model.NewLocalPersistenceError("read", err)
	}
	if cartID == "" {
		return []model.CartItem{}, nil
	}

	var rows []itemRow
	query := s.db.Rebind(`SELECT id, cart_id, item_id, title, price, quantity, condition, weight, images, position
		FROM cart_items WHERE cart_id = ? ORDER BY position, item_id`)
	if err := s.db.SelectContext(ctx, &rows, query, cartID); err != nil {
		return nil, model.NewLocalPersistenceError("read", err)
	}

	raws := make([]model.RawItem, len(rows))
	for i, r := range rows {
		raws[i] = r.raw()
	}
	items, err := model.NormalizeItems(raws)
	if err != nil {
		s.logger.Warn("dropping invalid stored items",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()))
	}
	return items, nil
}

// Write stores items for the owner. Only WriteReplace is supported: the
// existing items are deleted and each item is inserted under its own
// savepoint, all in one transaction. Individual insert failures are logged
// and counted. If every item fails the transaction is rolled back and the
// previously stored items remain.
func (s *Store) Write(ctx context.Context, ownerID string, items []model.CartItem, mode model.WriteMode) error {
	if mode != model.WriteReplace {
		return model.NewValidationError("mode", "local store supports replace only")
	}
	if err := model.ValidateOwner(ownerID); err != nil {
		return err
	}

	cartID, err := s.ensureCart(ctx, ownerID)
	if err != nil {
		return model.NewLocalPersistenceError("write", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.NewLocalPersistenceError("write", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	if err := deleteItems(ctx, tx, cartID); err != nil {
		return model.NewLocalPersistenceError("write", err)
	}
	failed, lastErr := insertItems(ctx, tx, cartID, items)
	if len(items) > 0 && failed == len(items) {
		return model.NewLocalPersistenceError("write", lastErr)
	}
	if err := tx.Commit(); err != nil {
		return model.NewLocalPersistenceError("write", fmt.Errorf("committing: %w", err))
	}
	s.touch(ctx, cartID)

	if failed > 0 {
		s.logger.Warn("partial local write",
			slog.String("owner_id", ownerID),
			slog.Int("failed", failed),
			slog.Int("total", len(items)),
			slog.String("error", lastErr.Error()))
	}
	return nil
}

// Clear deletes the owner's items. The cart row is kept.
func (s *Store) Clear(ctx context.Context, ownerID string) error {
	if err := model.ValidateOwner(ownerID); err != nil {
		return err
	}
	cartID, err := s.cartID(ctx, ownerID)
	if err != nil {
		return model.NewLocalPersistenceError("clear", err)
	}
	if cartID == "" {
		return nil
	}
	if err := deleteItems(ctx, s.db, cartID); err != nil {
		return model.NewLocalPersistenceError("clear", err)
	}
	s.touch(ctx, cartID)
	return nil
}

// Merge merges incoming into the owner's stored items (incoming wins) and
// replaces the stored set with the result.
func (s *Store) Merge(ctx context.Context, ownerID string, incoming []model.CartItem) ([]model.CartItem, error) {
	current, err := s.Read(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	merged := merge.Items(current, incoming)
	if err := s.Write(ctx, ownerID, merged, model.WriteReplace); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *Store) cartID(ctx context.Context, ownerID string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, s.db.Rebind(`SELECT id FROM carts WHERE owner_id = ?`), ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up cart: %w", err)
	}
	return id, nil
}

// ensureCart returns the owner's cart id, creating the row on first write.
func (s *Store) ensureCart(ctx context.Context, ownerID string) (string, error) {
	id, err := s.cartID(ctx, ownerID)
	if err != nil || id != "" {
		return id, err
	}

	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO carts (id, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?)`),
		uuid.NewString(), ownerID, now, now)
	if err != nil && !isUniqueViolation(err) {
		return "", fmt.Errorf("creating cart: %w", err)
	}
	// Either we inserted it or a concurrent writer did.
	return s.cartID(ctx, ownerID)
}

func deleteItems(ctx context.Context, db sqlx.ExtContext, cartID string) error {
	if _, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM cart_items WHERE cart_id = ?`), cartID); err != nil {
		return fmt.Errorf("deleting items: %w", err)
	}
	return nil
}

// insertItems inserts each item under its own savepoint so one failed row
// does not abort the surrounding transaction (postgres aborts on any error).
func insertItems(ctx context.Context, tx *sqlx.Tx, cartID string, items []model.CartItem) (int, error) {
	query := `INSERT INTO cart_items (id, cart_id, item_id, title, price, quantity, condition, weight, images, position)
		VALUES (:id, :cart_id, :item_id, :title, :price, :quantity, :condition, :weight, :images, :position)`

	var (
		failed  int
		lastErr error
	)
	for i, item := range items {
		if err := insertItem(ctx, tx, query, cartID, i, item); err != nil {
			failed++
			lastErr = fmt.Errorf("inserting item %s: %w", item.ItemID, err)
		}
	}
	return failed, lastErr
}

func insertItem(ctx context.Context, tx *sqlx.Tx, query, cartID string, position int, item model.CartItem) error {
	row, err := newItemRow(cartID, position, item)
	if err != nil {
		return err
	}
	savepoint := fmt.Sprintf("item_%d", position)
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back savepoint: %w", rbErr))
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

// touch bumps updated_at. Failure is logged only; the items are already stored.
func (s *Store) touch(ctx context.Context, cartID string) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE carts SET updated_at = ? WHERE id = ?`), s.now().UnixMilli(), cartID)
	if err != nil {
		s.logger.Warn("updating cart timestamp failed", slog.String("cart_id", cartID), slog.String("error", err.Error()))
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

var (
	_ adapter.Tier   = (*Store)(nil)
	_ adapter.Merger = (*Store)(nil)
)
