package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// OrderAPI places orders with the commerce API.
type OrderAPI struct {
	client *Client
}

// NewOrderAPI creates an order client.
func NewOrderAPI(client *Client) *OrderAPI {
	return &OrderAPI{client: client}
}

// CreateOrder calls POST /orders.
func (a *OrderAPI) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	raw, err := a.client.do(ctx, http.MethodPost, "/orders", req)
	if err != nil {
		return domain.Order{}, err
	}
	return ParseOrder("create order", raw)
}

type wireOrder struct {
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// ParseOrder maps an order response body to domain.Order. A missing status
// is read as pending.
func ParseOrder(endpoint string, raw []byte) (domain.Order, error) {
	payload, err := unwrapData(raw, func(top map[string]json.RawMessage) bool {
		_, hasNumber := top["order_number"]
		return !hasNumber
	})
	if err != nil {
		return domain.Order{}, apperrors.ParseError(endpoint, err)
	}

	var w wireOrder
	if err := decodeStrict(payload, &w); err != nil {
		return domain.Order{}, apperrors.ParseError(endpoint, err)
	}
	if w.OrderNumber == "" {
		return domain.Order{}, apperrors.ParseError(endpoint, errors.New(`missing "order_number"`))
	}

	order := domain.Order{
		OrderNumber:   w.OrderNumber,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
	}
	if w.Status != "" {
		order.Status = domain.OrderStatus(w.Status)
		if !order.Status.IsValid() {
			return domain.Order{}, apperrors.ParseError(endpoint, fmt.Errorf("unknown status %q", w.Status))
		}
	}
	if w.PaymentStatus != "" {
		order.PaymentStatus = domain.PaymentStatus(w.PaymentStatus)
		if !order.PaymentStatus.IsValid() {
			return domain.Order{}, apperrors.ParseError(endpoint, fmt.Errorf("unknown payment status %q", w.PaymentStatus))
		}
	}
	return order, nil
}
