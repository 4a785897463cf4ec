package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/logger"
)

// fakeCreds records Apply/Expire calls.
type fakeCreds struct {
	token   string
	expired atomic.Int32
}

func (f *fakeCreds) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+f.token)
}

func (f *fakeCreds) Expire() { f.expired.Add(1) }

func newTestClient(t *testing.T, handler http.HandlerFunc, creds Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	hc := httpclient.New(httpclient.Config{Timeout: 2 * time.Second, MaxConnsPerHost: 4})
	return NewClient(hc, srv.URL+"/api", creds, logger.Discard())
}

const cartBody = `{
	"items": [
		{"id": "li-1", "product_id": "p-1", "variant_id": null, "quantity": 2, "unit_price": "25.00",
		 "product": {"name": "Linen Shirt", "image_url": "https://cdn/img.jpg", "slug": "linen-shirt"}},
		{"id": "li-2", "product_id": "p-2", "variant_id": "v-red", "quantity": 1, "unit_price": 11.5}
	],
	"coupon_code": "SAVE10",
	"discount": "5",
	"shipping_cost": "0",
	"tax": "0",
	"currency": "USD"
}`

func TestParseCart_BareObject(t *testing.T) {
	cart, err := ParseCart("fetch cart", []byte(cartBody))
	require.NoError(t, err)

	require.Len(t, cart.Items, 2)
	assert.Equal(t, "li-1", cart.Items[0].ID)
	assert.Empty(t, cart.Items[0].VariantID)
	assert.Equal(t, "Linen Shirt", cart.Items[0].Snapshot.Name)
	assert.Equal(t, "v-red", cart.Items[1].VariantID)
	assert.Equal(t, "11.5", cart.Items[1].UnitPrice.String())
	assert.Equal(t, "SAVE10", cart.CouponCode)
	assert.Equal(t, "61.5", cart.Subtotal().String())
	assert.Equal(t, "56.5", cart.Total().String())
	assert.Equal(t, 3, cart.Count())
}

func TestParseCart_Envelope(t *testing.T) {
	cart, err := ParseCart("fetch cart", []byte(`{"data": `+cartBody+`}`))
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

func TestParseCart_EmptyItems(t *testing.T) {
	cart, err := ParseCart("clear cart", []byte(`{"items": []}`))
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.True(t, cart.Discount.IsZero())
}

func TestParseCart_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"not json", `<html>oops</html>`},
		{"array", `[]`},
		{"missing items", `{"coupon_code": "X"}`},
		{"null data", `{"data": null}`},
		{"items not array", `{"items": "nope"}`},
		{"line without id", `{"items": [{"product_id": "p", "quantity": 1, "unit_price": "1"}]}`},
		{"line without price", `{"items": [{"id": "a", "product_id": "p", "quantity": 1}]}`},
		{"zero quantity", `{"items": [{"id": "a", "product_id": "p", "quantity": 0, "unit_price": "1"}]}`},
		{"duplicate key", `{"items": [
			{"id": "a", "product_id": "p", "quantity": 1, "unit_price": "1"},
			{"id": "b", "product_id": "p", "quantity": 1, "unit_price": "1"}]}`},
		{"bad price", `{"items": [{"id": "a", "product_id": "p", "quantity": 1, "unit_price": "abc"}]}`},
		{"trailing", `{"items": []} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCart("fetch cart", []byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrParse)
			assert.Equal(t, "PARSE_ERROR", apperrors.Code(err))
		})
	}
}

func TestCartAPI_AddItem_SendsBodyAndCredentials(t *testing.T) {
	creds := &fakeCreds{token: "tok"}
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/cart/items", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, cartBody)
	}, creds)

	ctx := logger.WithCorrelationID(context.Background(), "corr-1")
	cart, err := NewCartAPI(client).AddItem(ctx, "p-2", "v-red", 1)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)

	assert.Equal(t, "p-2", got["product_id"])
	assert.Equal(t, "v-red", got["variant_id"])
	assert.EqualValues(t, 1, got["quantity"])
}

func TestCartAPI_AddItem_NoVariantSendsNull(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"items": []}`)
	}, nil)

	_, err := NewCartAPI(client).AddItem(context.Background(), "p-1", "", 1)
	require.NoError(t, err)
	v, present := got["variant_id"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestCartAPI_Paths(t *testing.T) {
	type call struct{ method, path string }
	var seen []call
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, call{r.Method, r.URL.EscapedPath()})
		_, _ = io.WriteString(w, `{"data": {"items": []}}`)
	}, nil)
	api := NewCartAPI(client)
	ctx := context.Background()

	_, err := api.FetchCart(ctx)
	require.NoError(t, err)
	_, err = api.UpdateItem(ctx, "li/1", 3)
	require.NoError(t, err)
	_, err = api.RemoveItem(ctx, "li-1")
	require.NoError(t, err)
	_, err = api.ApplyCoupon(ctx, "SAVE10")
	require.NoError(t, err)
	_, err = api.RemoveCoupon(ctx)
	require.NoError(t, err)
	_, err = api.ClearCart(ctx)
	require.NoError(t, err)

	assert.Equal(t, []call{
		{http.MethodGet, "/api/cart"},
		{http.MethodPut, "/api/cart/items/li%2F1"},
		{http.MethodDelete, "/api/cart/items/li-1"},
		{http.MethodPost, "/api/cart/apply-coupon"},
		{http.MethodDelete, "/api/cart/remove-coupon"},
		{http.MethodDelete, "/api/cart/clear"},
	}, seen)
}

func TestCartAPI_RejectionKeepsServerMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error": {"code": "COUPON_EXPIRED", "message": "This coupon has expired"}}`)
	}, nil)

	_, err := NewCartAPI(client).ApplyCoupon(context.Background(), "OLD")
	require.ErrorIs(t, err, apperrors.ErrRejected)
	assert.Equal(t, "This coupon has expired", apperrors.Message(err))
	assert.Equal(t, "COUPON_EXPIRED", apperrors.Code(err))
}

func TestCartAPI_NotFoundIsRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message": "cart item not found"}`)
	}, nil)

	_, err := NewCartAPI(client).RemoveItem(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrRejected)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCartAPI_UnauthorizedExpiresCredentials(t *testing.T) {
	creds := &fakeCreds{token: "stale"}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message": "token expired"}`)
	}, creds)

	_, err := NewCartAPI(client).FetchCart(context.Background())
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)
	assert.Equal(t, int32(1), creds.expired.Load())
}

func TestCartAPI_ServerErrorIsNetworkFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)

	_, err := NewCartAPI(client).FetchCart(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.Equal(t, apperrors.NetworkFailureMessage, apperrors.Message(err))
}

func TestCartAPI_MalformedSuccessIsParseError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"cart": "missing"}`)
	}, nil)

	_, err := NewCartAPI(client).FetchCart(context.Background())
	require.ErrorIs(t, err, apperrors.ErrParse)
}

func TestCartAPI_ContextDeadlineIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, nil)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewCartAPI(client).FetchCart(ctx)
	require.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ThroughCircuitBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"message": "maintenance"}`)
	}))
	t.Cleanup(srv.Close)

	cbCfg := httpclient.DefaultCircuitBreakerConfig("remote-test")
	cbCfg.MinRequests = 1
	cbCfg.FailureRatio = 0.5
	cbCfg.Timeout = time.Minute
	cb := httpclient.NewCircuitBreakerClient(httpclient.New(httpclient.Config{Timeout: time.Second}), cbCfg, logger.Discard())
	api := NewCartAPI(NewClient(cb, srv.URL, nil, logger.Discard()))

	_, err := api.FetchCart(context.Background())
	require.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Contains(t, apperrors.Message(err), "maintenance")

	// The breaker is now open; the request is refused locally.
	_, err = api.FetchCart(context.Background())
	require.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Contains(t, apperrors.Message(err), "temporarily unavailable")
}

func TestCatalogAPI_GetProduct(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products/linen-shirt", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "catalog reads are anonymous")
		_, _ = io.WriteString(w, `{"data": {
			"id": "p-1", "slug": "linen-shirt", "name": "Linen Shirt",
			"price": "50.00", "sale_price": "40.00", "stock_quantity": 7, "status": "published",
			"images": [{"url": "a.jpg"}, {"url": "b.jpg", "is_primary": true}],
			"variants": [{"id": "v-1", "sku": "LS-S", "attributes": {"size": "S"}, "price_adjustment": "2.5", "stock_quantity": 3}]
		}}`)
	}, &fakeCreds{token: "tok"})

	p, err := NewCatalogAPI(client).GetProduct(context.Background(), "https://shop.example.com/products/linen-shirt")
	require.NoError(t, err)

	assert.Equal(t, "p-1", p.ID)
	assert.True(t, p.IsActive)
	assert.Equal(t, "b.jpg", p.ImageURL)
	assert.Equal(t, "40", p.EffectivePrice().String())
	require.Len(t, p.Variants, 1)
	v := p.Variants[0]
	assert.Equal(t, "p-1", v.ProductID)
	assert.Equal(t, "S", v.Size)
	assert.True(t, v.IsActive)
	assert.Equal(t, "42.5", p.UnitPrice(&v).String())
}

func TestCatalogAPI_GetProduct_FetchesAnnouncedVariants(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/products/mug":
			_, _ = io.WriteString(w, `{"id": "p-9", "slug": "mug", "name": "Mug", "price": 10, "is_active": true, "has_variants": true}`)
		case "/api/products/p-9/variants":
			_, _ = io.WriteString(w, `{"data": [{"id": "v-blue", "color": "blue", "stock_quantity": 1, "is_active": false}]}`)
		default:
			http.NotFound(w, r)
		}
	}, nil)

	p, err := NewCatalogAPI(client).GetProduct(context.Background(), "mug")
	require.NoError(t, err)
	require.Len(t, p.Variants, 1)
	assert.Equal(t, "blue", p.Variants[0].Color)
	assert.False(t, p.Variants[0].IsActive)
}

func TestCatalogAPI_GetProduct_InvalidRef(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}, nil)

	_, err := NewCatalogAPI(client).GetProduct(context.Background(), "!!!")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestParseProduct_Malformed(t *testing.T) {
	for _, body := range []string{`{"name": "x", "price": "1"}`, `{"id": "p", "name": "x"}`, `{"id": "p", "price": "-1"}`, `[]`} {
		_, err := ParseProduct("get product", []byte(body))
		assert.ErrorIs(t, err, apperrors.ErrParse, body)
	}
}

func TestOrderAPI_CreateOrder(t *testing.T) {
	var got domain.OrderRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data": {"id": "o-1", "order_number": "ORD-1001", "status": "confirmed"}}`)
	}, nil)

	cart, err := ParseCart("fetch cart", []byte(cartBody))
	require.NoError(t, err)
	req := domain.NewOrderRequest(cart, domain.Address{FullName: "Ada"}, domain.PaymentMethodCreditCard, "")

	order, err := NewOrderAPI(client).CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1001", order.OrderNumber)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)

	require.Len(t, got.Items, 2)
	assert.Equal(t, "56.5", got.Total.String())
	assert.Equal(t, domain.PaymentMethodCreditCard, got.PaymentMethod)
}

func TestParseOrder_Malformed(t *testing.T) {
	for _, body := range []string{`{}`, `{"order_number": ""}`, `{"order_number": "A", "status": "teleported"}`, `{"order_number": "A", "payment_status": "maybe"}`} {
		_, err := ParseOrder("create order", []byte(body))
		assert.ErrorIs(t, err, apperrors.ErrParse, body)
	}
}
