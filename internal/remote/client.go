// Package remote is the Remote Service tier: an HTTP client for the backend
// cart service that sits behind the local store.
package remote

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
	"cartsync/internal/model"
	"cartsync/internal/transport"
)

const (
	// DefaultPrimaryMergePath is the current write/merge endpoint.
	DefaultPrimaryMergePath = "/carts/merge"

	// DefaultLegacyMergePath is tried once when the primary answers 404.
	DefaultLegacyMergePath = "/cart/merge"

	// DefaultTimeout bounds every request.
	DefaultTimeout = 10 * time.Second

	userAgent = "cartsync/1.0"
)

// Config holds the remote service connection settings.
type Config struct {
	BaseURL          string
	APIKey           string
	PrimaryMergePath string
	LegacyMergePath  string
	Timeout          time.Duration

	// Fingerprint selects a browser TLS fingerprint (see transport.Options).
	Fingerprint string

	// HTTPClient overrides the constructed client. Tests only.
	HTTPClient *http.Client
}

// Flags are sent explicitly on every write and merge request.
type Flags struct {
	ForceReplace   bool `json:"forceReplace"`
	PreferIncoming bool `json:"preferIncoming"`
	Persist        bool `json:"persist"`
	PreventExpiry  bool `json:"preventExpiry"`
}

// ReplaceFlags overwrite the remote cart with the given items.
var ReplaceFlags = Flags{ForceReplace: true, PreferIncoming: true, Persist: true, PreventExpiry: true}

// MergeFlags keep remote items and let incoming items win conflicts.
var MergeFlags = Flags{ForceReplace: false, PreferIncoming: true, Persist: true, PreventExpiry: true}

type mergeRequest struct {
	UserID string          `json:"userId"`
	Items  []model.RawItem `json:"items"`
	Flags
}

type cartResponse struct {
	Items []model.RawItem `json:"items"`
	Count int             `json:"count"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client implements adapter.Tier and adapter.Merger against the remote service.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	primaryPath string
	legacyPath  string
	logger      *slog.Logger
}

// New creates a remote client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PrimaryMergePath == "" {
		cfg.PrimaryMergePath = DefaultPrimaryMergePath
	}
	if cfg.LegacyMergePath == "" {
		cfg.LegacyMergePath = DefaultLegacyMergePath
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
		httpClient:  httpClient,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		primaryPath: cfg.PrimaryMergePath,
		legacyPath:  cfg.LegacyMergePath,
		logger:      logger,
	}, nil
}

// Name returns the tier name.
func (c *Client) Name() string {
	return "remote"
}

// Read fetches the owner's cart. A 404 means the owner has no cart yet.
func (c *Client) Read(ctx context.Context, ownerID string) ([]model.CartItem, error) {
	if err := model.ValidateOwner(ownerID); err != nil {
		return nil, err
	}

	var resp cartResponse
	status, err := c.do(ctx, http.MethodGet, c.cartPath(ownerID), nil, &resp)
	if status == http.StatusNotFound {
		return []model.CartItem{}, nil
	}
	if err != nil {
		return nil, err
	}
	return c.normalize(ownerID, resp.Items), nil
}

// Write sends the full item set. WriteReplace sets forceReplace; WriteMerge
// asks the service to preserve its existing items.
func (c *Client) Write(ctx context.Context, ownerID string, items []model.CartItem, mode model.WriteMode) error {
	flags := ReplaceFlags
	if mode == model.WriteMerge {
		flags = MergeFlags
	}
	_, err := c.Send(ctx, ownerID, items, flags)
	return err
}

// Merge asks the service to merge incoming into its copy and returns the result.
func (c *Client) Merge(ctx context.Context, ownerID string, incoming []model.CartItem) ([]model.CartItem, error) {
	return c.Send(ctx, ownerID, incoming, MergeFlags)
}

// Clear requests full deletion of the owner's cart. Deleting a cart that does
// not exist succeeds.
func (c *Client) Clear(ctx context.Context, ownerID string) error {
	if err := model.ValidateOwner(ownerID); err != nil {
		return err
	}
	status, err := c.do(ctx, http.MethodDelete, c.cartPath(ownerID), nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

// Send posts items to the primary merge endpoint with explicit flags. A 404
// from the primary triggers exactly one retry against the legacy endpoint.
func (c *Client) Send(ctx context.Context, ownerID string, items []model.CartItem, flags Flags) ([]model.CartItem, error) {
	if err := model.ValidateOwner(ownerID); err != nil {
		return nil, err
	}

	body := mergeRequest{
		UserID: ownerID,
		Items:  make([]model.RawItem, len(items)),
		Flags:  flags,
	}
	for i, item := range items {
		body.Items[i] = model.RawFromItem(item)
	}

	var resp cartResponse
	status, err := c.do(ctx, http.MethodPost, c.primaryPath, body, &resp)
	if status == http.StatusNotFound {
		c.logger.Info("primary merge endpoint not found, retrying legacy",
			slog.String("owner_id", ownerID),
			slog.String("path", c.legacyPath))
		resp = cartResponse{}
		_, err = c.do(ctx, http.MethodPost, c.legacyPath, body, &resp)
	}
	if err != nil {
		return nil, err
	}
	return c.normalize(ownerID, resp.Items), nil
}

func (c *Client) cartPath(ownerID string) string {
	return "/carts/" + url.PathEscape(ownerID)
}

func (c *Client) normalize(ownerID string, raws []model.RawItem) []model.CartItem {
	items, err := model.NormalizeItems(raws)
	if err != nil {
		c.logger.Warn("dropping invalid remote items",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()))
	}
	return items
}

// do executes a request and decodes a 2xx body into result. It returns the
// HTTP status (0 when no response arrived) alongside any classified error.
func (c *Client) do(ctx context.Context, method, path string, body, result any) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, model.NewRemoteError("remote cart", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, model.NewRemoteError("remote cart", fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, parseError(resp.StatusCode, data)
	}

	if result != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return resp.StatusCode, model.NewRemoteError("remote cart", fmt.Errorf("parsing response: %w", err))
		}
	}
	return resp.StatusCode, nil
}

// parseError classifies a remote failure. Client errors that name bad input
// are validation failures; everything else is the service being unavailable.
func parseError(statusCode int, body []byte) error {
	var e errorResponse
	json.Unmarshal(body, &e) // best effort

	switch statusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		msg := e.Message
		if msg == "" {
			msg = "rejected by remote service"
		}
		return model.NewValidationError("request", msg)
	case http.StatusNotFound:
		return model.NewNotFoundError("remote cart")
	default:
		return model.NewRemoteError("remote cart",
			fmt.Errorf("status %d: %s %s", statusCode, e.Code, e.Message))
	}
}

var (
	_ adapter.Tier   = (*Client)(nil)
	_ adapter.Merger = (*Client)(nil)
)
