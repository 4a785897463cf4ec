package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/store"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	loginPath string
	logger    *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(loginPath string, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		loginPath: loginPath,
		logger:    logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
// UnitPrice and Product are display data for the line until the commerce
// API confirms it.
type AddItemRequest struct {
	ProductID string                 `json:"product_id"`
	VariantID string                 `json:"variant_id"`
	Quantity  int                    `json:"quantity"`
	UnitPrice decimal.Decimal        `json:"unit_price"`
	Product   domain.ProductSnapshot `json:"product"`
}

// UpdateQuantityRequest is the JSON request body for updating an item's quantity.
// A quantity of zero removes the item.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// ApplyCouponRequest is the JSON request body for applying a coupon.
type ApplyCouponRequest struct {
	Code string `json:"code"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart. When the commerce API cannot be reached
// the last known cart is returned marked stale.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())

	cart, err := sess.Cart.Load(r.Context())
	if errors.Is(err, apperrors.ErrSessionExpired) {
		failure(w, r, sess, err, h.loginPath, h.logger)
		return
	}

	resp := newCartResponse(cart, sess.Cart.InFlight())
	if err != nil {
		sess.Toasts.FromError(err)
		resp.Stale = true
	}
	httputil.WriteData(w, http.StatusOK, resp)
}

// GetBadge handles GET /api/v1/cart/badge without contacting the commerce API.
func (h *CartHandler) GetBadge(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())

	httputil.WriteData(w, http.StatusOK, map[string]any{
		"count": sess.Cart.Count(),
		"badge": sess.Cart.BadgeLabel(),
	})
}

// RefreshCart handles POST /api/v1/cart/refresh.
func (h *CartHandler) RefreshCart(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, s *store.Store) (domain.Cart, error) {
		return s.Refresh(ctx)
	})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mutate(w, r, func(ctx context.Context, s *store.Store) (domain.Cart, error) {
		return s.AddToCart(ctx, store.AddItemInput{
			ProductID: req.ProductID,
			VariantID: req.VariantID,
			Quantity:  req.Quantity,
			UnitPrice: req.UnitPrice,
			Snapshot:  req.Product,
		})
	})
}

// UpdateItem handles PUT /api/v1/cart/items/{itemId}
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")

	var req UpdateQuantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		sess, _ := sessionFromContext(r.Context())
		failure(w, r, sess, apperrors.InvalidInput("quantity is required"), h.loginPath, h.logger)
		return
	}

	h.mutate(w, r, func(ctx context.Context, s *store.Store) (domain.Cart, error) {
		return s.UpdateQuantity(ctx, itemID, *req.Quantity)
	})
}

// RemoveItem handles DELETE /api/v1/cart/items/{itemId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")

	h.mutate(w, r, func(ctx context.Context, s *store.Store) (domain.Cart, error) {
		return s.RemoveItem(ctx, itemID)
	})
}

// ApplyCoupon handles POST /api/v1/cart/coupon
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req ApplyCouponRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, _ := sessionFromContext(r.Context())
	cart, err := sess.Cart.ApplyCoupon(r.Context(), req.Code)
	if err != nil {
		failure(w, r, sess, err, h.loginPath, h.logger)
		return
	}

	sess.Toasts.Success("Coupon " + cart.CouponCode + " applied")
	httputil.WriteData(w, http.StatusOK, newCartResponse(cart, sess.Cart.InFlight()))
}

// RemoveCoupon handles DELETE /api/v1/cart/coupon
func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, s *store.Store) (domain.Cart, error) {
		return s.RemoveCoupon(ctx)
	})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, s *store.Store) (domain.Cart, error) {
		return s.Clear(ctx)
	})
}

// --- Helpers ---

func (h *CartHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(context.Context, *store.Store) (domain.Cart, error)) {
	sess, _ := sessionFromContext(r.Context())

	cart, err := fn(r.Context(), sess.Cart)
	if err != nil {
		failure(w, r, sess, err, h.loginPath, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, newCartResponse(cart, sess.Cart.InFlight()))
}

func (h *CartHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		sess, _ := sessionFromContext(r.Context())
		failure(w, r, sess, err, h.loginPath, h.logger)
		return false
	}
	return true
}
