// MCP transport for the cart API using the official MCP Go SDK.
// Exposes the same cart operations as the REST routes as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"

	"cartsync/internal/identity"
	"cartsync/internal/model"
)

// === MCP Tool Input/Output Types ===
// The cart owner comes from the Cart-Session header of the HTTP request,
// never from tool arguments.

// EmptyInput is the input schema for tools that take no arguments.
type EmptyInput struct{}

// ItemInput is one cart line as a tool argument. Prices travel as decimal
// strings so no precision is lost in JSON.
type ItemInput struct {
	ItemID    string   `json:"itemId" jsonschema:"product identifier,required"`
	Quantity  int      `json:"quantity,omitempty" jsonschema:"units (default 1)"`
	Title     string   `json:"title,omitempty" jsonschema:"display title"`
	Price     string   `json:"price,omitempty" jsonschema:"unit price in major currency units, e.g. 12.50"`
	Condition string   `json:"condition,omitempty" jsonschema:"grading label (default Good)"`
	Weight    float64  `json:"weight,omitempty" jsonschema:"shipping weight (default 1)"`
	Images    []string `json:"images,omitempty" jsonschema:"ordered image URLs"`
}

func (in ItemInput) raw() (model.RawItem, error) {
	price := decimal.Zero
	if in.Price != "" {
		p, err := decimal.NewFromString(in.Price)
		if err != nil {
			return model.RawItem{}, model.NewValidationError("price", "not a decimal number")
		}
		price = p
	}
	raw := model.RawItem{
		ItemID:    model.FlexibleID(in.ItemID),
		Title:     in.Title,
		Price:     price,
		Quantity:  in.Quantity,
		Condition: in.Condition,
		Images:    in.Images,
	}
	if in.Weight > 0 {
		w := in.Weight
		raw.Weight = &w
	}
	return raw, nil
}

// AddItemInput is the input schema for add_item.
type AddItemInput struct {
	Item ItemInput `json:"item" jsonschema:"the line to add,required"`
}

// UpdateItemInput is the input schema for update_item.
type UpdateItemInput struct {
	ItemID   string `json:"itemId" jsonschema:"product identifier,required"`
	Quantity int    `json:"quantity" jsonschema:"new quantity; zero or less removes the line,required"`
}

// RemoveItemInput is the input schema for remove_item.
type RemoveItemInput struct {
	ItemID string `json:"itemId" jsonschema:"product identifier,required"`
}

// MergeCartInput is the input schema for merge_cart.
type MergeCartInput struct {
	GuestCartItems []ItemInput `json:"guestCartItems" jsonschema:"guest cart lines; these win on conflict,required"`
}

// ItemOutput is one cart line in a tool result.
type ItemOutput struct {
	ItemID    string   `json:"itemId"`
	Title     string   `json:"title"`
	Price     string   `json:"price"`
	Quantity  int      `json:"quantity"`
	Condition string   `json:"condition"`
	Weight    float64  `json:"weight"`
	Images    []string `json:"images"`
}

// CartOutput is the structured result of every cart tool.
type CartOutput struct {
	Items []ItemOutput `json:"items"`
	Count int          `json:"count"`
}

func newCartOutput(cart model.Cart) CartOutput {
	out := CartOutput{Items: make([]ItemOutput, len(cart.Items)), Count: cart.Count()}
	for i, item := range cart.Items {
		images := item.Images
		if images == nil {
			images = []string{}
		}
		out.Items[i] = ItemOutput{
			ItemID:    item.ItemID,
			Title:     item.Title,
			Price:     model.FormatPrice(item.Price),
			Quantity:  item.Quantity,
			Condition: item.Condition,
			Weight:    item.Weight,
			Images:    images,
		}
	}
	return out
}

// NewMCPServer creates an MCP server with the cart tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "cartd",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Shopping cart operations for the signed-in user. " +
				"Requests must carry the Cart-Session header of an authenticated session.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the items in the cart and the total quantity.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_item",
		Description: "Add an item to the cart. Adding an item already in the cart increases its quantity.",
	}, h.mcpAddItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_item",
		Description: "Set the quantity of a cart line. A quantity of zero or less removes it.",
	}, h.mcpUpdateItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_item",
		Description: "Remove a line from the cart.",
	}, h.mcpRemoveItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_cart",
		Description: "Remove every line from the cart.",
	}, h.mcpClearCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "merge_cart",
		Description: "Merge guest cart lines into the cart. Guest lines win on conflict.",
	}, h.mcpMergeCart)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

// mcpOwner resolves the authenticated owner of a tool call from the
// Cart-Session header of the HTTP request that carried it. Calls without an
// authenticated session are rejected before any storage is touched.
func mcpOwner(ctx context.Context, extra *mcp.RequestExtra) (string, error) {
	id := identity.FromContext(ctx)
	if extra != nil && extra.Header != nil {
		parsed, err := identity.ParseHeader(extra.Header.Get(identity.HeaderName))
		if err != nil {
			return "", model.NewUnauthorizedError(err.Error())
		}
		id = parsed
	}
	owner := id.Owner()
	if err := model.ValidateOwner(owner); err != nil {
		return "", err
	}
	return owner, nil
}

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, CartOutput, error) {
	owner, err := mcpOwner(ctx, req.Extra)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	cart, err := h.svc.Get(ctx, owner)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, newCartOutput(cart), nil
}

func (h *Handler) mcpAddItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddItemInput,
) (*mcp.CallToolResult, CartOutput, error) {
	owner, err := mcpOwner(ctx, req.Extra)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	raw, err := input.Item.raw()
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	item, err := model.Normalize(raw)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}

	cart, err := h.svc.AddItem(ctx, owner, item)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, newCartOutput(cart), nil
}

func (h *Handler) mcpUpdateItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateItemInput,
) (*mcp.CallToolResult, CartOutput, error) {
	owner, err := mcpOwner(ctx, req.Extra)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	cart, err := h.svc.UpdateQuantity(ctx, owner, input.ItemID, input.Quantity)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, newCartOutput(cart), nil
}

func (h *Handler) mcpRemoveItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveItemInput,
) (*mcp.CallToolResult, CartOutput, error) {
	owner, err := mcpOwner(ctx, req.Extra)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	cart, err := h.svc.RemoveItem(ctx, owner, input.ItemID)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, newCartOutput(cart), nil
}

func (h *Handler) mcpClearCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, CartOutput, error) {
	owner, err := mcpOwner(ctx, req.Extra)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	if err := h.svc.Clear(ctx, owner); err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, CartOutput{Items: []ItemOutput{}}, nil
}

func (h *Handler) mcpMergeCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input MergeCartInput,
) (*mcp.CallToolResult, CartOutput, error) {
	owner, err := mcpOwner(ctx, req.Extra)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	raws := make([]model.RawItem, len(input.GuestCartItems))
	for i, in := range input.GuestCartItems {
		raw, err := in.raw()
		if err != nil {
			return nil, CartOutput{}, h.mcpError(fmt.Errorf("item %d: %w", i, err))
		}
		raws[i] = raw
	}
	incoming, err := model.NormalizeItems(raws)
	if err != nil {
		return nil, CartOutput{}, fmt.Errorf("VALIDATION_ERROR: %w", err)
	}
	cart, err := h.svc.Merge(ctx, owner, incoming)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, newCartOutput(cart), nil
}

// mcpError converts an error into a tool error without leaking internals.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	if apiErr != nil {
		h.logger.Error("mcp tool failed", "code", apiErr.Code, "error", err.Error())
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
