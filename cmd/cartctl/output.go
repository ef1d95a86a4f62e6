package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"cartsync/internal/model"
)

// cartView is the JSON output shape.
type cartView struct {
	Owner    string           `json:"owner"`
	Items    []model.CartItem `json:"items"`
	Count    int              `json:"count"`
	Subtotal string           `json:"subtotal"`
}

func printCart(w io.Writer, format string, cart model.Cart) error {
	items := cart.Items
	if items == nil {
		items = []model.CartItem{}
	}
	view := cartView{
		Owner:    ownerLabel(cart.OwnerID),
		Items:    items,
		Count:    cart.Count(),
		Subtotal: model.FormatPrice(model.Subtotal(items)),
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintf(w, "cart for %s: %d item(s)\n", view.Owner, view.Count)
	if len(items) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tQTY\tPRICE\tCONDITION")
	for _, item := range items {
		title := item.Title
		if title == "" {
			title = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			item.ItemID, title, item.Quantity, model.FormatPrice(item.Price), item.Condition)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "subtotal: %s\n", view.Subtotal)
	return nil
}

// ownerLabel names the owner in output; guests have no id to print.
func ownerLabel(owner string) string {
	if model.ValidateOwner(owner) != nil {
		return "guest"
	}
	return owner
}
