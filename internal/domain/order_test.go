package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_IsValid(t *testing.T) {
	assert.True(t, OrderStatusPending.IsValid())
	assert.True(t, OrderStatusCancelled.IsValid())
	assert.False(t, OrderStatus("lost").IsValid())
	assert.False(t, OrderStatus("").IsValid())
}

func TestPaymentStatus_IsValid(t *testing.T) {
	assert.True(t, PaymentStatusPaid.IsValid())
	assert.False(t, PaymentStatus("PAID").IsValid())
}

func TestPaymentMethod_IsValid(t *testing.T) {
	assert.True(t, PaymentMethodCashOnDelivery.IsValid())
	assert.False(t, PaymentMethod("crypto").IsValid())
}

func TestNewOrderRequest_SnapshotsCart(t *testing.T) {
	c := Cart{
		Items: []LineItem{
			line("a", "P1", "", 2, "100"),
			line("b", "P2", "red", 1, "50"),
		},
		CouponCode:   "SAVE10",
		Discount:     dec("25"),
		ShippingCost: dec("10"),
	}
	addr := Address{FullName: "Ada", AddressLine: "1 Main St", City: "Izmir", PostalCode: "35000", Country: "TR", Phone: "+905551112233"}

	req := NewOrderRequest(c, addr, PaymentMethodCreditCard, "leave at door")

	require.Len(t, req.Items, 2)
	assert.Equal(t, OrderLine{ProductID: "P2", VariantID: "red", Quantity: 1, UnitPrice: dec("50")}, req.Items[1])
	assert.Equal(t, "SAVE10", req.CouponCode)
	assert.Equal(t, "250", req.Subtotal.String())
	assert.Equal(t, "235", req.Total.String())
	assert.Equal(t, addr, req.ShippingAddress)
	assert.Equal(t, "leave at door", req.Notes)

	c.Items[0].Quantity = 99
	assert.Equal(t, 2, req.Items[0].Quantity, "request must not alias the cart")
}
