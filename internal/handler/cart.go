package handler

import (
	"log/slog"
	"net/http"

	"cartsync/internal/model"
)

// cartResponse is the body of every endpoint that returns a cart.
type cartResponse struct {
	Items []model.CartItem `json:"items"`
	Count int              `json:"count"`
}

func newCartResponse(cart model.Cart) cartResponse {
	items := cart.Items
	if items == nil {
		items = []model.CartItem{}
	}
	return cartResponse{Items: items, Count: cart.Count()}
}

type statusResponse struct {
	Status string `json:"status"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

type mergeRequest struct {
	GuestCartItems []model.RawItem `json:"guestCartItems"`
}

// handleGetCart returns the caller's cart.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.svc.Get(r.Context(), ownerFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(cart))
}

// handleAddItem adds a line, or increases the quantity of an existing one.
// POST /cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	if err := model.ValidateOwner(owner); err != nil {
		h.writeError(w, err)
		return
	}

	var raw model.RawItem
	if err := decodeJSON(w, r, &raw); err != nil {
		h.writeError(w, err)
		return
	}
	item, err := model.Normalize(raw)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := h.svc.AddItem(r.Context(), owner, item); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, statusResponse{Status: "ok"})
}

// handleUpdateItem sets a line's quantity. A quantity <= 0 removes the line.
// PATCH /cart/items/{itemId}
func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	if err := model.ValidateOwner(owner); err != nil {
		h.writeError(w, err)
		return
	}

	var req updateItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Quantity == nil {
		h.writeError(w, model.NewValidationError("quantity", "required"))
		return
	}

	cart, err := h.svc.UpdateQuantity(r.Context(), owner, r.PathValue("itemId"), *req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(cart))
}

// handleRemoveItem removes a line. Removing an absent line succeeds.
// DELETE /cart/items/{itemId}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.svc.RemoveItem(r.Context(), ownerFrom(r), r.PathValue("itemId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(cart))
}

// handleClearCart empties the caller's cart.
// DELETE /cart
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context(), ownerFrom(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// handleMergeCart merges a guest cart into the caller's authoritative cart.
// Incoming lines win on conflict. Any invalid guest line rejects the request.
// POST /cart/merge
func (h *Handler) handleMergeCart(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	if err := model.ValidateOwner(owner); err != nil {
		h.writeError(w, err)
		return
	}

	var req mergeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	incoming, err := model.NormalizeItems(req.GuestCartItems)
	if err != nil {
		h.logger.Warn("merge rejected: invalid guest items",
			slog.String("owner_id", owner),
			slog.String("error", err.Error()))
		h.writeError(w, model.NewValidationError("guestCartItems", "contains invalid items"))
		return
	}

	cart, err := h.svc.Merge(r.Context(), owner, incoming)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(cart))
}
