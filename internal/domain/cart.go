package domain

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Cart limits enforced locally before any request is sent. They mirror the
// upstream cart service.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single line.
	MaxQuantityPerItem = 100
	// MaxItemsPerCart is the maximum number of distinct lines in a cart.
	MaxItemsPerCart = 50
	// BadgeCap is the largest count the navigation badge shows verbatim.
	BadgeCap = 9
)

// ProductSnapshot is display data captured when a line is added so the cart
// renders without re-fetching the catalog.
type ProductSnapshot struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
	Slug     string `json:"slug"`
}

// LineItem represents a single product (and optional variant) in the cart.
// An empty VariantID means the base product.
type LineItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Snapshot  ProductSnapshot `json:"product"`

	// Pending marks a line whose change has not been confirmed yet.
	Pending bool `json:"pending,omitempty"`
}

// LineKey identifies a line by product and variant. The NUL separator
// cannot occur in either id, so distinct pairs never share a key.
func LineKey(productID, variantID string) string {
	return productID + "\x00" + variantID
}

// Key returns the (product, variant) identity of the line.
func (l LineItem) Key() string {
	return LineKey(l.ProductID, l.VariantID)
}

// LineTotal returns unit price times quantity.
func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the client-side view of the shopper's cart. Items are kept in
// insertion order, which is also display order.
type Cart struct {
	Items        []LineItem      `json:"items"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	Discount     decimal.Decimal `json:"discount"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Tax          decimal.Decimal `json:"tax"`
	Currency     string          `json:"currency,omitempty"`
}

// Subtotal is the sum of unit price times quantity over all lines.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// Count returns the total number of units in the cart.
func (c Cart) Count() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// Total is subtotal minus discount plus shipping and tax, never below zero.
func (c Cart) Total() decimal.Decimal {
	total := c.Subtotal().Sub(c.Discount).Add(c.ShippingCost).Add(c.Tax)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// BadgeLabel formats the item count for the navigation badge.
func (c Cart) BadgeLabel() string {
	return BadgeLabel(c.Count())
}

// BadgeLabel formats count for display: empty when zero, "9+" above BadgeCap.
func BadgeLabel(count int) string {
	switch {
	case count <= 0:
		return ""
	case count > BadgeCap:
		return strconv.Itoa(BadgeCap) + "+"
	default:
		return strconv.Itoa(count)
	}
}

// IndexOfID returns the index of the line with the given id, or -1.
func (c Cart) IndexOfID(id string) int {
	if id == "" {
		return -1
	}
	for i := range c.Items {
		if c.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// IndexOfKey returns the index of the line for product and variant, or -1.
func (c Cart) IndexOfKey(productID, variantID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].VariantID == variantID {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no slices with c.
func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = make([]LineItem, len(c.Items))
		copy(out.Items, c.Items)
	}
	return out
}

// WithItemAdded returns a copy of c with item merged in: an existing line for
// the same product and variant has its quantity increased, otherwise item is
// appended.
func (c Cart) WithItemAdded(item LineItem) Cart {
	out := c.Clone()
	if i := out.IndexOfKey(item.ProductID, item.VariantID); i >= 0 {
		out.Items[i].Quantity += item.Quantity
		return out
	}
	out.Items = append(out.Items, item)
	return out
}

// WithQuantity returns a copy of c with the line's quantity set. A quantity
// of zero or less removes the line.
func (c Cart) WithQuantity(lineID string, quantity int) Cart {
	if quantity <= 0 {
		return c.WithoutItem(lineID)
	}
	out := c.Clone()
	if i := out.IndexOfID(lineID); i >= 0 {
		out.Items[i].Quantity = quantity
	}
	return out
}

// WithoutItem returns a copy of c without the given line.
func (c Cart) WithoutItem(lineID string) Cart {
	out := c.Clone()
	if i := out.IndexOfID(lineID); i >= 0 {
		out.Items = append(out.Items[:i], out.Items[i+1:]...)
	}
	return out
}

// Emptied returns an empty cart in the same currency.
func (c Cart) Emptied() Cart {
	return Cart{Items: []LineItem{}, Currency: c.Currency}
}

// Validate checks the structural invariants of a cart: every line has a
// product, a quantity of at least one, and a unique (product, variant) pair.
func (c Cart) Validate() error {
	seen := make(map[string]struct{}, len(c.Items))
	for i, item := range c.Items {
		if item.ProductID == "" {
			return fmt.Errorf("item %d: missing product id", i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("item %d: quantity %d is below 1", i, item.Quantity)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("item %d: negative unit price", i)
		}
		key := item.Key()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("item %d: duplicate line for product %q variant %q", i, item.ProductID, item.VariantID)
		}
		seen[key] = struct{}{}
	}
	return nil
}
