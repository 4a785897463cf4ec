package domain

import "github.com/shopspring/decimal"

// OrderStatus is the fulfilment status reported by the order API.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsValid checks if the order status is known.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// IsValid checks if the payment status is known.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentMethod is how the shopper intends to pay.
type PaymentMethod string

const (
	PaymentMethodCreditCard     PaymentMethod = "credit_card"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// IsValid checks if the payment method is supported.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodBankTransfer, PaymentMethodCashOnDelivery:
		return true
	default:
		return false
	}
}

// Address represents a shipping address.
type Address struct {
	FullName    string `json:"full_name" validate:"required,notblank,max=120"`
	AddressLine string `json:"address_line" validate:"required,notblank,max=255"`
	City        string `json:"city" validate:"required,notblank,max=100"`
	State       string `json:"state,omitempty" validate:"max=100"`
	PostalCode  string `json:"postal_code" validate:"required,max=20"`
	Country     string `json:"country" validate:"required,len=2"`
	Phone       string `json:"phone" validate:"required,e164"`
}

// OrderLine is one cart line as sent to the order API.
type OrderLine struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderRequest is the cart snapshot plus shipping and payment info.
type OrderRequest struct {
	Items           []OrderLine     `json:"items"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Total           decimal.Decimal `json:"total"`
	ShippingAddress Address         `json:"shipping_address"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Notes           string          `json:"notes,omitempty"`
}

// NewOrderRequest snapshots the cart into an order request.
func NewOrderRequest(c Cart, shipping Address, method PaymentMethod, notes string) OrderRequest {
	lines := make([]OrderLine, len(c.Items))
	for i, item := range c.Items {
		lines[i] = OrderLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	return OrderRequest{
		Items:           lines,
		CouponCode:      c.CouponCode,
		Subtotal:        c.Subtotal(),
		Discount:        c.Discount,
		ShippingCost:    c.ShippingCost,
		Total:           c.Total(),
		ShippingAddress: shipping,
		PaymentMethod:   method,
		Notes:           notes,
	}
}

// Order is the order API's answer to a successful placement.
type Order struct {
	OrderNumber   string        `json:"order_number"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}
