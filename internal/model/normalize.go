package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// FlexibleID accepts an item id encoded as either a JSON string or a JSON number.
// Product ids originate as numbers upstream but are treated as opaque strings here.
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("item id must be a string or number: %w", err)
	}
	*f = FlexibleID(n.String())
	return nil
}

// RawItem is the tolerant wire shape of a cart item as it arrives from any
// external boundary: browser blobs, HTTP bodies, local rows, remote responses.
// Normalize turns it into the canonical CartItem.
type RawItem struct {
	ItemID    FlexibleID      `json:"itemId"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Condition string          `json:"condition"`
	Weight    *float64        `json:"weight"`
	Images    []string        `json:"images"`

	// Legacy single-image fields, lifted into Images when Images is empty.
	CoverImage string `json:"coverImage,omitempty"`
	Image      string `json:"image,omitempty"`
}

// RawFromItem converts a canonical item back to the wire shape.
func RawFromItem(item CartItem) RawItem {
	w := item.Weight
	return RawItem{
		ItemID:    FlexibleID(item.ItemID),
		Title:     item.Title,
		Price:     item.Price,
		Quantity:  item.Quantity,
		Condition: item.Condition,
		Weight:    &w,
		Images:    append([]string{}, item.Images...),
	}
}

// Normalize validates a raw item and fills defaults.
//
// Rules:
//   - empty itemId is rejected
//   - missing quantity becomes 1; negative quantity or price is rejected
//   - missing condition/weight take DefaultCondition/DefaultWeight
//   - a legacy coverImage (or image) field becomes a one-element Images slice
func Normalize(raw RawItem) (CartItem, error) {
	id := strings.TrimSpace(string(raw.ItemID))
	if id == "" {
		return CartItem{}, NewValidationError("itemId", "required")
	}
	if raw.Quantity < 0 {
		return CartItem{}, NewValidationError("quantity", "must not be negative")
	}
	if raw.Price.IsNegative() {
		return CartItem{}, NewValidationError("price", "must not be negative")
	}

	item := CartItem{
		ItemID:    id,
		Title:     norm.NFC.String(strings.TrimSpace(raw.Title)),
		Price:     raw.Price,
		Quantity:  raw.Quantity,
		Condition: strings.TrimSpace(raw.Condition),
		Weight:    DefaultWeight,
		Images:    normalizeImages(raw),
	}
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	if item.Condition == "" {
		item.Condition = DefaultCondition
	}
	if raw.Weight != nil && *raw.Weight > 0 {
		item.Weight = *raw.Weight
	}
	return item, nil
}

func normalizeImages(raw RawItem) []string {
	images := make([]string, 0, len(raw.Images))
	for _, img := range raw.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}
	if len(images) > 0 {
		return images
	}
	for _, legacy := range []string{raw.CoverImage, raw.Image} {
		if legacy = strings.TrimSpace(legacy); legacy != "" {
			return []string{legacy}
		}
	}
	return images
}

// NormalizeItems normalizes a batch. Valid items are returned in input order;
// invalid items are dropped and reported in the joined error.
func NormalizeItems(raws []RawItem) ([]CartItem, error) {
	items := make([]CartItem, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		item, err := Normalize(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		items = append(items, item)
	}
	return items, errors.Join(errs...)
}

// DecodeItems parses a JSON array of raw items and normalizes it.
func DecodeItems(data []byte) ([]CartItem, error) {
	var raws []RawItem
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	return NormalizeItems(raws)
}
