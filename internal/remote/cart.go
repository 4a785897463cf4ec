package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// CartAPI is the server-authoritative cart. Every method returns the cart as
// the server holds it after the call.
type CartAPI struct {
	client *Client
}

// NewCartAPI creates a cart client. The client's credentials decide whether
// the guest or the user cart is addressed.
func NewCartAPI(client *Client) *CartAPI {
	return &CartAPI{client: client}
}

type addItemRequest struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	VariantID *string `json:"variant_id"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type couponRequest struct {
	Code string `json:"code"`
}

// FetchCart calls GET /cart.
func (a *CartAPI) FetchCart(ctx context.Context) (domain.Cart, error) {
	return a.call(ctx, "fetch cart", http.MethodGet, "/cart", nil)
}

// AddItem calls POST /cart/items. An empty variantID is sent as null.
func (a *CartAPI) AddItem(ctx context.Context, productID, variantID string, quantity int) (domain.Cart, error) {
	req := addItemRequest{ProductID: productID, Quantity: quantity}
	if variantID != "" {
		req.VariantID = &variantID
	}
	return a.call(ctx, "add item", http.MethodPost, "/cart/items", req)
}

// UpdateItem calls PUT /cart/items/{itemId}.
func (a *CartAPI) UpdateItem(ctx context.Context, lineItemID string, quantity int) (domain.Cart, error) {
	return a.call(ctx, "update item", http.MethodPut, "/cart/items/"+url.PathEscape(lineItemID), updateItemRequest{Quantity: quantity})
}

// RemoveItem calls DELETE /cart/items/{itemId}.
func (a *CartAPI) RemoveItem(ctx context.Context, lineItemID string) (domain.Cart, error) {
	return a.call(ctx, "remove item", http.MethodDelete, "/cart/items/"+url.PathEscape(lineItemID), nil)
}

// ApplyCoupon calls POST /cart/apply-coupon.
func (a *CartAPI) ApplyCoupon(ctx context.Context, code string) (domain.Cart, error) {
	return a.call(ctx, "apply coupon", http.MethodPost, "/cart/apply-coupon", couponRequest{Code: code})
}

// RemoveCoupon calls DELETE /cart/remove-coupon.
func (a *CartAPI) RemoveCoupon(ctx context.Context) (domain.Cart, error) {
	return a.call(ctx, "remove coupon", http.MethodDelete, "/cart/remove-coupon", nil)
}

// ClearCart calls DELETE /cart/clear.
func (a *CartAPI) ClearCart(ctx context.Context) (domain.Cart, error) {
	return a.call(ctx, "clear cart", http.MethodDelete, "/cart/clear", nil)
}

func (a *CartAPI) call(ctx context.Context, endpoint, method, path string, payload any) (domain.Cart, error) {
	raw, err := a.client.do(ctx, method, path, payload)
	if err != nil {
		return domain.Cart{}, err
	}
	return ParseCart(endpoint, raw)
}

// wireCart is the cart as the commerce API serializes it. Subtotal and total
// are derived locally and therefore not read.
type wireCart struct {
	Items        *[]wireLineItem  `json:"items"`
	CouponCode   *string          `json:"coupon_code"`
	Discount     *decimal.Decimal `json:"discount"`
	ShippingCost *decimal.Decimal `json:"shipping_cost"`
	Tax          *decimal.Decimal `json:"tax"`
	Currency     string           `json:"currency"`
}

type wireLineItem struct {
	ID        string           `json:"id"`
	ProductID string           `json:"product_id"`
	VariantID *string          `json:"variant_id"`
	Quantity  *int             `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Product   *wireSnapshot    `json:"product"`
}

type wireSnapshot struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
	Slug     string `json:"slug"`
}

// ParseCart maps a cart response body to domain.Cart. The body is either the
// cart object or {"data": cart}; anything else fails with a ParseError
// naming endpoint.
func ParseCart(endpoint string, raw []byte) (domain.Cart, error) {
	payload, err := unwrapData(raw, func(top map[string]json.RawMessage) bool {
		_, hasItems := top["items"]
		return !hasItems
	})
	if err != nil {
		return domain.Cart{}, apperrors.ParseError(endpoint, err)
	}

	var w wireCart
	if err := decodeStrict(payload, &w); err != nil {
		return domain.Cart{}, apperrors.ParseError(endpoint, err)
	}
	if w.Items == nil {
		return domain.Cart{}, apperrors.ParseError(endpoint, errors.New(`missing "items"`))
	}

	cart := domain.Cart{
		Items:        make([]domain.LineItem, 0, len(*w.Items)),
		Discount:     valueOrZero(w.Discount),
		ShippingCost: valueOrZero(w.ShippingCost),
		Tax:          valueOrZero(w.Tax),
		Currency:     w.Currency,
	}
	if w.CouponCode != nil {
		cart.CouponCode = *w.CouponCode
	}

	for i, wi := range *w.Items {
		item, err := wi.toDomain()
		if err != nil {
			return domain.Cart{}, apperrors.ParseError(endpoint, fmt.Errorf("items[%d]: %w", i, err))
		}
		cart.Items = append(cart.Items, item)
	}
	if err := cart.Validate(); err != nil {
		return domain.Cart{}, apperrors.ParseError(endpoint, err)
	}
	return cart, nil
}

func (wi wireLineItem) toDomain() (domain.LineItem, error) {
	switch {
	case wi.ID == "":
		return domain.LineItem{}, errors.New(`missing "id"`)
	case wi.ProductID == "":
		return domain.LineItem{}, errors.New(`missing "product_id"`)
	case wi.Quantity == nil:
		return domain.LineItem{}, errors.New(`missing "quantity"`)
	case wi.UnitPrice == nil:
		return domain.LineItem{}, errors.New(`missing "unit_price"`)
	}

	item := domain.LineItem{
		ID:        wi.ID,
		ProductID: wi.ProductID,
		Quantity:  *wi.Quantity,
		UnitPrice: *wi.UnitPrice,
	}
	if wi.VariantID != nil {
		item.VariantID = *wi.VariantID
	}
	if wi.Product != nil {
		item.Snapshot = domain.ProductSnapshot{
			Name:     wi.Product.Name,
			ImageURL: wi.Product.ImageURL,
			Slug:     wi.Product.Slug,
		}
	}
	return item, nil
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
