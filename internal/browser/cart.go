package browser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/mod/semver"

	"cartsync/internal/model"
)

// FormatVersion is the semver of the blob envelope written by this package.
// Blobs with a different major version are treated as corrupt.
const FormatVersion = "v1.0.0"

// DefaultPrefix namespaces every key this package writes.
const DefaultPrefix = "cart:"

// Keys names the three browser-storage entries.
type Keys struct {
	Guest     string // live guest cart
	Backup    string // logout snapshot, seeds the next login merge
	LastLogin string // diagnostics only
}

// KeysWithPrefix builds the key set under prefix.
func KeysWithPrefix(prefix string) Keys {
	return Keys{
		Guest:     prefix + "guest",
		Backup:    prefix + "backup",
		LastLogin: prefix + "last-login",
	}
}

// envelope is the stored JSON shape. Legacy blobs are a bare item array.
type envelope struct {
	Version string          `json:"version"`
	SavedAt time.Time       `json:"savedAt"`
	Items   []model.RawItem `json:"items"`
}

// Cart is the Browser Storage Adapter. All operations are synchronous.
// Failures never escape as fatal: reads degrade to "no cart" and writes
// report ErrTransientStorage after logging.
type Cart struct {
	storage Storage
	keys    Keys
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Cart.
type Option func(*Cart)

// WithKeys overrides the default key names.
func WithKeys(keys Keys) Option {
	return func(c *Cart) { c.keys = keys }
}

// WithClock overrides time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cart) { c.now = now }
}

// New creates a browser cart adapter over storage.
func New(storage Storage, logger *slog.Logger, opts ...Option) *Cart {
	c := &Cart{
		storage: storage,
		keys:    KeysWithPrefix(DefaultPrefix),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Keys returns the key names in use.
func (c *Cart) Keys() Keys {
	return c.keys
}

// Read returns the live guest cart, or an empty cart on any failure.
func (c *Cart) Read() []model.CartItem {
	items, err := c.LoadGuest()
	if err != nil {
		c.logger.Warn("browser storage read failed, treating as empty",
			slog.String("key", c.keys.Guest),
			slog.String("error", err.Error()))
		return []model.CartItem{}
	}
	return items
}

// Write overwrites the live guest cart. Only WriteReplace is meaningful here;
// any mode overwrites the blob.
func (c *Cart) Write(items []model.CartItem, mode model.WriteMode) error {
	return c.put(c.keys.Guest, items)
}

// Clear deletes the live guest cart key.
func (c *Cart) Clear() error {
	return c.remove(c.keys.Guest)
}

// LoadGuest reads the live guest key. Missing → empty, nil.
// Storage failures wrap ErrTransientStorage; unparseable blobs wrap ErrMergeDataCorrupt.
func (c *Cart) LoadGuest() ([]model.CartItem, error) {
	return c.load(c.keys.Guest)
}

// LoadBackup reads the logout snapshot. Same error contract as LoadGuest.
func (c *Cart) LoadBackup() ([]model.CartItem, error) {
	return c.load(c.keys.Backup)
}

// SaveBackup overwrites the logout snapshot. Exactly one backup exists.
func (c *Cart) SaveBackup(items []model.CartItem) error {
	return c.put(c.keys.Backup, items)
}

// ClearBackup deletes the logout snapshot.
func (c *Cart) ClearBackup() error {
	return c.remove(c.keys.Backup)
}

// HasKey reports whether key currently exists. Storage errors read as absent.
func (c *Cart) HasKey(key string) bool {
	_, ok, err := c.storage.Get(key)
	return err == nil && ok
}

// RecordLogin stores the last successful login time.
func (c *Cart) RecordLogin(at time.Time) error {
	if err := c.storage.Set(c.keys.LastLogin, at.UTC().Format(time.RFC3339)); err != nil {
		c.logger.Warn("recording login time failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", model.ErrTransientStorage, err)
	}
	return nil
}

// LastLogin returns the last recorded login time, if any.
func (c *Cart) LastLogin() (time.Time, bool) {
	v, ok, err := c.storage.Get(c.keys.LastLogin)
	if err != nil || !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (c *Cart) load(key string) ([]model.CartItem, error) {
	raw, ok, err := c.storage.Get(key)
	if err != nil {
		return []model.CartItem{}, fmt.Errorf("%w: %v", model.ErrTransientStorage, err)
	}
	if !ok || raw == "" {
		return []model.CartItem{}, nil
	}

	items, err := decodeBlob([]byte(raw))
	if err != nil {
		return []model.CartItem{}, model.NewCorruptDataError(key, err)
	}
	return items, nil
}

func (c *Cart) put(key string, items []model.CartItem) error {
	env := envelope{
		Version: FormatVersion,
		SavedAt: c.now().UTC(),
		Items:   make([]model.RawItem, len(items)),
	}
	for i, item := range items {
		env.Items[i] = model.RawFromItem(item)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := c.storage.Set(key, string(data)); err != nil {
		c.logger.Warn("browser storage write failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", model.ErrTransientStorage, err)
	}
	return nil
}

func (c *Cart) remove(key string) error {
	if err := c.storage.Remove(key); err != nil {
		c.logger.Warn("browser storage remove failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", model.ErrTransientStorage, err)
	}
	return nil
}

// decodeBlob accepts the versioned envelope or a legacy bare array.
// Individual invalid items are dropped; a structurally broken blob is an error.
func decodeBlob(data []byte) ([]model.CartItem, error) {
	data = bytes.TrimSpace(data)
	var raws []model.RawItem

	switch {
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, err
		}
	default:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		if err := checkVersion(env.Version); err != nil {
			return nil, err
		}
		raws = env.Items
	}

	items, _ := model.NormalizeItems(raws)
	return items, nil
}

func checkVersion(v string) error {
	if v == "" {
		return nil
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("invalid blob version %q", v)
	}
	if semver.Major(v) != semver.Major(FormatVersion) {
		return errors.New("incompatible blob version " + v)
	}
	return nil
}
