package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/httputil"
)

// CheckoutHandler handles order placement.
type CheckoutHandler struct {
	loginPath string
	logger    *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(loginPath string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		loginPath: loginPath,
		logger:    logger,
	}
}

// CheckoutResponse is the placed order and the cart after placement.
type CheckoutResponse struct {
	Order domain.Order `json:"order"`
	Cart  CartResponse `json:"cart"`
}

// PlaceOrder handles POST /api/v1/checkout
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())

	var req checkout.PlaceOrderInput
	if err := decodeJSON(w, r, &req); err != nil {
		failure(w, r, sess, err, h.loginPath, h.logger)
		return
	}

	res, err := sess.Checkout.PlaceOrder(r.Context(), req)
	if err != nil {
		failure(w, r, sess, err, h.loginPath, h.logger)
		return
	}

	sess.Toasts.Success(fmt.Sprintf("Order %s placed", res.Order.OrderNumber))
	httputil.WriteData(w, http.StatusCreated, CheckoutResponse{
		Order: res.Order,
		Cart:  newCartResponse(res.Cart, sess.Cart.InFlight()),
	})
}
