package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
)

const maxBodyBytes = 1 << 20

// CartResponse is the cart as the storefront front end renders it.
type CartResponse struct {
	Items        []domain.LineItem `json:"items"`
	CouponCode   string            `json:"coupon_code,omitempty"`
	Subtotal     decimal.Decimal   `json:"subtotal"`
	Discount     decimal.Decimal   `json:"discount"`
	ShippingCost decimal.Decimal   `json:"shipping_cost"`
	Tax          decimal.Decimal   `json:"tax"`
	Total        decimal.Decimal   `json:"total"`
	Currency     string            `json:"currency,omitempty"`
	Count        int               `json:"count"`
	Badge        string            `json:"badge"`
	InFlight     int               `json:"in_flight"`
	Stale        bool              `json:"stale,omitempty"`
}

func newCartResponse(c domain.Cart, inFlight int) CartResponse {
	items := c.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	return CartResponse{
		Items:        items,
		CouponCode:   c.CouponCode,
		Subtotal:     c.Subtotal(),
		Discount:     c.Discount,
		ShippingCost: c.ShippingCost,
		Tax:          c.Tax,
		Total:        c.Total(),
		Currency:     c.Currency,
		Count:        c.Count(),
		Badge:        c.BadgeLabel(),
		InFlight:     inFlight,
	}
}

// decodeJSON reads a JSON request body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.InvalidInput("invalid request body: " + err.Error())
	}
	return nil
}

// failure writes err. Session expiry gets the login redirect response; any
// other failure is also shown as a toast.
func failure(w http.ResponseWriter, r *http.Request, sess *Session, err error, loginPath string, l *slog.Logger) {
	if errors.Is(err, apperrors.ErrSessionExpired) {
		httputil.WriteSessionExpired(w, r, loginPath)
		return
	}
	if sess != nil && sess.Toasts != nil {
		sess.Toasts.FromError(err)
	}
	httputil.WriteError(w, r, err, l)
}
