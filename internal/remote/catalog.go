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
	"github.com/utafrali/storefront/pkg/slug"
)

// CatalogAPI reads products from the commerce API.
type CatalogAPI struct {
	client *Client
}

// NewCatalogAPI creates a catalog client. Catalog reads are anonymous.
func NewCatalogAPI(client *Client) *CatalogAPI {
	return &CatalogAPI{client: client.WithCredentials(anonymous{})}
}

// GetProduct calls GET /products/{slug}. ref may be a slug, a product path,
// or a product URL.
func (a *CatalogAPI) GetProduct(ctx context.Context, ref string) (domain.Product, error) {
	s, ok := slug.Normalize(ref)
	if !ok {
		return domain.Product{}, apperrors.InvalidInput(fmt.Sprintf("%q is not a product reference", ref))
	}

	raw, err := a.client.do(ctx, http.MethodGet, "/products/"+url.PathEscape(s), nil)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := ParseProduct("get product", raw)
	if err != nil {
		return domain.Product{}, err
	}

	// Older catalog deployments serve variants only from the sub-resource.
	if len(product.Variants) == 0 && product.HasVariantsHint {
		variants, err := a.ListVariants(ctx, product.ID)
		if err != nil {
			return domain.Product{}, err
		}
		product.Variants = variants
	}
	return product.Product, nil
}

// ListVariants calls GET /products/{id}/variants.
func (a *CatalogAPI) ListVariants(ctx context.Context, productID string) ([]domain.Variant, error) {
	raw, err := a.client.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID)+"/variants", nil)
	if err != nil {
		return nil, err
	}
	return ParseVariants("list variants", raw)
}

type wireProduct struct {
	ID            string              `json:"id"`
	Slug          string              `json:"slug"`
	Name          string              `json:"name"`
	Price         *decimal.Decimal    `json:"price"`
	SalePrice     decimal.NullDecimal `json:"sale_price"`
	StockQuantity int                 `json:"stock_quantity"`
	ImageURL      string              `json:"image_url"`
	Images        []wireImage         `json:"images"`
	IsActive      *bool               `json:"is_active"`
	Status        string              `json:"status"`
	HasVariants   bool                `json:"has_variants"`
	Variants      []wireVariant       `json:"variants"`
}

type wireImage struct {
	URL       string `json:"url"`
	IsPrimary bool   `json:"is_primary"`
}

type wireVariant struct {
	ID              string           `json:"id"`
	ProductID       string           `json:"product_id"`
	Name            string           `json:"name"`
	SKU             string           `json:"sku"`
	Color           string           `json:"color"`
	Size            string           `json:"size"`
	Attributes      map[string]any   `json:"attributes"`
	PriceAdjustment *decimal.Decimal `json:"price_adjustment"`
	StockQuantity   int              `json:"stock_quantity"`
	IsActive        *bool            `json:"is_active"`
}

// ParsedProduct is a product plus whether the catalog announced variants it
// did not inline.
type ParsedProduct struct {
	domain.Product
	HasVariantsHint bool
}

// ParseProduct maps a product response body to domain.Product.
func ParseProduct(endpoint string, raw []byte) (ParsedProduct, error) {
	payload, err := unwrapData(raw, func(top map[string]json.RawMessage) bool {
		_, hasID := top["id"]
		return !hasID
	})
	if err != nil {
		return ParsedProduct{}, apperrors.ParseError(endpoint, err)
	}

	var w wireProduct
	if err := decodeStrict(payload, &w); err != nil {
		return ParsedProduct{}, apperrors.ParseError(endpoint, err)
	}
	switch {
	case w.ID == "":
		return ParsedProduct{}, apperrors.ParseError(endpoint, errors.New(`missing "id"`))
	case w.Price == nil:
		return ParsedProduct{}, apperrors.ParseError(endpoint, errors.New(`missing "price"`))
	case w.Price.IsNegative():
		return ParsedProduct{}, apperrors.ParseError(endpoint, errors.New(`negative "price"`))
	}

	p := domain.Product{
		ID:            w.ID,
		Slug:          w.Slug,
		Name:          w.Name,
		Price:         *w.Price,
		SalePrice:     w.SalePrice,
		StockQuantity: w.StockQuantity,
		ImageURL:      w.ImageURL,
		IsActive:      productActive(w),
	}
	if p.ImageURL == "" {
		p.ImageURL = primaryImage(w.Images)
	}
	for i, wv := range w.Variants {
		v, err := wv.toDomain(w.ID)
		if err != nil {
			return ParsedProduct{}, apperrors.ParseError(endpoint, fmt.Errorf("variants[%d]: %w", i, err))
		}
		p.Variants = append(p.Variants, v)
	}
	return ParsedProduct{Product: p, HasVariantsHint: w.HasVariants}, nil
}

// ParseVariants maps a variant list body to domain variants.
func ParseVariants(endpoint string, raw []byte) ([]domain.Variant, error) {
	payload, err := unwrapData(raw, func(map[string]json.RawMessage) bool { return true })
	if err != nil {
		return nil, apperrors.ParseError(endpoint, err)
	}

	var ws []wireVariant
	if err := decodeStrict(payload, &ws); err != nil {
		return nil, apperrors.ParseError(endpoint, err)
	}
	variants := make([]domain.Variant, 0, len(ws))
	for i, wv := range ws {
		v, err := wv.toDomain("")
		if err != nil {
			return nil, apperrors.ParseError(endpoint, fmt.Errorf("[%d]: %w", i, err))
		}
		variants = append(variants, v)
	}
	return variants, nil
}

func (wv wireVariant) toDomain(productID string) (domain.Variant, error) {
	if wv.ID == "" {
		return domain.Variant{}, errors.New(`missing "id"`)
	}
	v := domain.Variant{
		ID:              wv.ID,
		ProductID:       wv.ProductID,
		Name:            wv.Name,
		SKU:             wv.SKU,
		Color:           wv.Color,
		Size:            wv.Size,
		PriceAdjustment: valueOrZero(wv.PriceAdjustment),
		StockQuantity:   wv.StockQuantity,
		IsActive:        wv.IsActive == nil || *wv.IsActive,
	}
	if v.ProductID == "" {
		v.ProductID = productID
	}
	if v.Color == "" {
		v.Color = attribute(wv.Attributes, "color")
	}
	if v.Size == "" {
		v.Size = attribute(wv.Attributes, "size")
	}
	return v, nil
}

// productActive prefers the explicit flag and falls back to the status field
// used by the catalog service ("published" / "draft" / "archived").
func productActive(w wireProduct) bool {
	if w.IsActive != nil {
		return *w.IsActive
	}
	if w.Status != "" {
		return w.Status == "published" || w.Status == "active"
	}
	return true
}

func primaryImage(images []wireImage) string {
	for _, img := range images {
		if img.IsPrimary {
			return img.URL
		}
	}
	if len(images) > 0 {
		return images[0].URL
	}
	return ""
}

func attribute(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}
