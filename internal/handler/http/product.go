package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/store"
	"github.com/utafrali/storefront/pkg/httputil"
)

// ProductHandler serves product cards and their quick add buttons.
type ProductHandler struct {
	catalog   store.ProductLookup
	loginPath string
	logger    *slog.Logger
}

// NewProductHandler creates a new product HTTP handler.
func NewProductHandler(catalog store.ProductLookup, loginPath string, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{
		catalog:   catalog,
		loginPath: loginPath,
		logger:    logger,
	}
}

// ProductResponse is a product with its computed display price.
type ProductResponse struct {
	domain.Product
	EffectivePrice decimal.Decimal `json:"effective_price"`
	OnSale         bool            `json:"on_sale"`
}

// GetProduct handles GET /api/v1/products/{slug}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, ProductResponse{
		Product:        product,
		EffectivePrice: product.EffectivePrice(),
		OnSale:         product.OnSale(),
	})
}

// QuickAdd handles POST /api/v1/quick-add. Toasts are pushed by the quick
// add controller itself.
func (h *ProductHandler) QuickAdd(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())

	var req store.QuickAddInput
	if err := decodeJSON(w, r, &req); err != nil {
		failure(w, r, sess, err, h.loginPath, h.logger)
		return
	}

	cart, err := sess.QuickAdd.Press(r.Context(), req)
	if err != nil {
		failure(w, r, nil, err, h.loginPath, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, newCartResponse(cart, sess.Cart.InFlight()))
}

// QuickAddState handles GET /api/v1/quick-add/state?slug=...&variant_id=...
func (h *ProductHandler) QuickAddState(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	slug := r.URL.Query().Get("slug")
	variantID := r.URL.Query().Get("variant_id")

	httputil.WriteData(w, http.StatusOK, store.ButtonEvent{
		Key:   store.ButtonKey(slug, variantID),
		State: sess.QuickAdd.State(slug, variantID),
	})
}
