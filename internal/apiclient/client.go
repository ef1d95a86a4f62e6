// Package apiclient is a storage tier backed by the cartd HTTP API. It lets a
// front end that embeds the sync engine (cartctl) persist through the server
// instead of talking to a database.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cartsync/internal/adapter"
	"cartsync/internal/identity"
	"cartsync/internal/model"
	"cartsync/internal/reconcile"
	"cartsync/internal/transport"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 10 * time.Second

const userAgent = "cartctl/1.0"

// Config holds the API connection settings.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Fingerprint string

	// HTTPClient overrides the constructed client. Tests only.
	HTTPClient *http.Client
}

// Client implements adapter.Tier and adapter.Merger over the cart API.
// Every request carries the owner in the session header.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New creates a client for the API at cfg.BaseURL.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid api base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rt, err := transport.New(transport.Options{
			Fingerprint: cfg.Fingerprint,
			DialTimeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{Timeout: cfg.Timeout, Transport: rt}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:     logger,
	}, nil
}

// Name returns the tier name.
func (c *Client) Name() string {
	return "api"
}

type cartResponse struct {
	Items []model.RawItem `json:"items"`
	Count int             `json:"count"`
}

type mergeRequest struct {
	GuestCartItems []model.RawItem `json:"guestCartItems"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// Read fetches the owner's cart. Lines the API returns that fail validation
// are dropped with a warning.
func (c *Client) Read(ctx context.Context, ownerID string) ([]model.CartItem, error) {
	if err := model.ValidateOwner(ownerID); err != nil {
		return nil, err
	}
	var resp cartResponse
	if err := c.do(ctx, ownerID, http.MethodGet, "/cart", nil, &resp); err != nil {
		return nil, err
	}
	return c.normalize(ownerID, resp.Items), nil
}

// Write replaces the owner's cart with items. The API only offers per-line
// calls, so the difference from the current cart is applied line by line.
func (c *Client) Write(ctx context.Context, ownerID string, items []model.CartItem, mode model.WriteMode) error {
	if mode != model.WriteReplace {
		return model.NewValidationError("mode", "only replace is supported")
	}
	current, err := c.Read(ctx, ownerID)
	if err != nil {
		return err
	}

	diff := reconcile.Items(current, items)
	if diff.IsEmpty() {
		return nil
	}
	c.logger.Debug("applying cart diff",
		slog.String("owner_id", ownerID),
		slog.Int("remove", len(diff.ToRemove)),
		slog.Int("update", len(diff.ToUpdate)),
		slog.Int("add", len(diff.ToAdd)))

	for _, id := range diff.ToRemove {
		if err := c.do(ctx, ownerID, http.MethodDelete, "/cart/items/"+url.PathEscape(id), nil, nil); err != nil {
			return fmt.Errorf("removing %s: %w", id, err)
		}
	}
	for _, change := range diff.ToUpdate {
		path := "/cart/items/" + url.PathEscape(change.ItemID)
		if err := c.do(ctx, ownerID, http.MethodPatch, path, quantityRequest{Quantity: change.NewQuantity}, nil); err != nil {
			return fmt.Errorf("updating %s: %w", change.ItemID, err)
		}
	}
	for _, item := range diff.ToAdd {
		if err := c.do(ctx, ownerID, http.MethodPost, "/cart/items", model.RawFromItem(item), nil); err != nil {
			return fmt.Errorf("adding %s: %w", item.ItemID, err)
		}
	}
	return nil
}

// Clear empties the owner's cart.
func (c *Client) Clear(ctx context.Context, ownerID string) error {
	if err := model.ValidateOwner(ownerID); err != nil {
		return err
	}
	return c.do(ctx, ownerID, http.MethodDelete, "/cart", nil, nil)
}

// Merge asks the server to merge incoming into the owner's cart.
func (c *Client) Merge(ctx context.Context, ownerID string, incoming []model.CartItem) ([]model.CartItem, error) {
	if err := model.ValidateOwner(ownerID); err != nil {
		return nil, err
	}
	req := mergeRequest{GuestCartItems: make([]model.RawItem, len(incoming))}
	for i, item := range incoming {
		req.GuestCartItems[i] = model.RawFromItem(item)
	}

	var resp cartResponse
	if err := c.do(ctx, ownerID, http.MethodPost, "/cart/merge", req, &resp); err != nil {
		return nil, err
	}
	return c.normalize(ownerID, resp.Items), nil
}

func (c *Client) normalize(ownerID string, raws []model.RawItem) []model.CartItem {
	items, err := model.NormalizeItems(raws)
	if err != nil {
		c.logger.Warn("dropping invalid cart lines from api",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()))
	}
	return items
}

// do sends one request as ownerID and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, ownerID, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	session, err := identity.FormatHeader(identity.Identity{UserID: ownerID, Authenticated: true})
	if err != nil {
		return model.NewValidationError("owner", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(identity.HeaderName, session)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewRemoteError("cart api", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return model.NewRemoteError("cart api", fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, data)
	}
	if result != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return model.NewRemoteError("cart api", fmt.Errorf("parsing response: %w", err))
		}
	}
	return nil
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseError maps an API error body back onto the shared error taxonomy.
// Client errors keep the server's code and message; server errors mean the
// tier could not answer.
func parseError(statusCode int, body []byte) error {
	var e errorResponse
	json.Unmarshal(body, &e) // best effort

	if statusCode >= 500 || e.Error.Code == "" {
		return model.NewRemoteError("cart api",
			fmt.Errorf("status %d: %s %s", statusCode, e.Error.Code, e.Error.Message))
	}

	apiErr := &model.APIError{
		Code:       e.Error.Code,
		Message:    e.Error.Message,
		StatusCode: statusCode,
	}
	switch statusCode {
	case http.StatusNotFound:
		apiErr.Err = model.ErrNotFound
	case http.StatusUnauthorized:
		apiErr.Err = fmt.Errorf("%w: %w", model.ErrValidation, model.ErrUnauthorized)
	default:
		apiErr.Err = model.ErrValidation
	}
	return apiErr
}

var (
	_ adapter.Tier   = (*Client)(nil)
	_ adapter.Merger = (*Client)(nil)
)
