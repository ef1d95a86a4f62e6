// Package handler provides the HTTP handlers for the cart API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"cartsync/internal/identity"
	"cartsync/internal/model"
	"cartsync/internal/service"
)

// Pinger reports whether a dependency is reachable. The local store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc    *service.Service
	health Pinger
	logger *slog.Logger
}

// New creates a Handler. health may be nil, in which case /health always
// reports ok.
func New(svc *service.Service, health Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		health: health,
		logger: logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("POST /cart/items", h.handleAddItem)
	mux.HandleFunc("PATCH /cart/items/{itemId}", h.handleUpdateItem)
	mux.HandleFunc("DELETE /cart/items/{itemId}", h.handleRemoveItem)
	mux.HandleFunc("DELETE /cart", h.handleClearCart)
	mux.HandleFunc("POST /cart/merge", h.handleMergeCart)

	// MCP transport, JSON-RPC over streamable HTTP
	mux.Handle("/mcp", h.NewMCPHandler())

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleHealth reports liveness, and store reachability when a pinger is set.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Tiers: h.svc.Tiers()}
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.Warn("health check: store unreachable", slog.String("error", err.Error()))
			resp.Status = "degraded"
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status string   `json:"status"`
	Tiers  []string `json:"tiers"`
}

// ownerFrom returns the owner id resolved by the session middleware.
func ownerFrom(r *http.Request) string {
	return identity.FromContext(r.Context()).Owner()
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError(err)
		h.logger.Error("internal error", slog.String("error", err.Error()))
	} else if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.Error("cart request failed",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB.
const MaxRequestBodySize = 1 << 20

// decodeJSON reads JSON from the request body into v.
// Returns an APIError if decoding fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
