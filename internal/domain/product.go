package domain

import "github.com/shopspring/decimal"

// Product is the catalog data the cart reads at add time.
type Product struct {
	ID            string              `json:"id"`
	Slug          string              `json:"slug"`
	Name          string              `json:"name"`
	Price         decimal.Decimal     `json:"price"`
	SalePrice     decimal.NullDecimal `json:"sale_price"`
	StockQuantity int                 `json:"stock_quantity"`
	ImageURL      string              `json:"image_url,omitempty"`
	IsActive      bool                `json:"is_active"`
	Variants      []Variant           `json:"variants,omitempty"`
}

// Variant is a specific attribute combination of a product.
type Variant struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"product_id"`
	Name            string          `json:"name"`
	SKU             string          `json:"sku"`
	Color           string          `json:"color,omitempty"`
	Size            string          `json:"size,omitempty"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
	StockQuantity   int             `json:"stock_quantity"`
	IsActive        bool            `json:"is_active"`
}

// EffectivePrice is the sale price when one is set, otherwise the base price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice.Valid {
		return p.SalePrice.Decimal
	}
	return p.Price
}

// OnSale reports whether the effective price is a sale price.
func (p Product) OnSale() bool {
	return !p.EffectivePrice().Equal(p.Price)
}

// UnitPrice is the price of one unit of the product, or of variant v when
// non-nil. Variant adjustments apply on top of the effective price.
func (p Product) UnitPrice(v *Variant) decimal.Decimal {
	price := p.EffectivePrice()
	if v != nil {
		price = price.Add(v.PriceAdjustment)
	}
	if price.IsNegative() {
		return decimal.Zero
	}
	return price
}

// AvailableStock is the stock of variant v when non-nil, else of the product.
func (p Product) AvailableStock(v *Variant) int {
	if v != nil {
		return v.StockQuantity
	}
	return p.StockQuantity
}

// FindVariant returns the variant with the given id.
func (p Product) FindVariant(id string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// Snapshot captures the display data stored on a cart line.
func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		Name:     p.Name,
		ImageURL: p.ImageURL,
		Slug:     p.Slug,
	}
}
