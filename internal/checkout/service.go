package checkout

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/tracing"
	"github.com/utafrali/storefront/pkg/validator"
)

const tracerName = "github.com/utafrali/storefront/internal/checkout"

// publishTimeout bounds the order.placed publish after a successful order.
const publishTimeout = 2 * time.Second

// Cart is the part of the cart store checkout needs.
type Cart interface {
	Confirmed() domain.Cart
	InFlight() int
	Clear(ctx context.Context) (domain.Cart, error)
	Refresh(ctx context.Context) (domain.Cart, error)
}

// OrderCreator places orders upstream. *remote.OrderAPI satisfies it.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
}

// Identity names the session placing the order.
type Identity interface {
	SessionID() string
	UserID() string
}

// PlaceOrderInput holds the shipping and payment details for an order.
type PlaceOrderInput struct {
	Shipping domain.Address       `json:"shipping_address"`
	Payment  domain.PaymentMethod `json:"payment_method" validate:"required"`
	Notes    string               `json:"notes" validate:"max=500"`
}

// Result is a placed order together with the cart after placement.
type Result struct {
	Order domain.Order `json:"order"`
	Cart  domain.Cart  `json:"cart"`
}

// Service turns the confirmed cart of one session into an order.
type Service struct {
	cart     Cart
	orders   OrderCreator
	identity Identity
	events   event.Publisher
	logger   *slog.Logger
	tracer   trace.Tracer

	mu      sync.Mutex
	placing bool
}

// NewService creates a checkout service. A nil publisher publishes nothing.
func NewService(cart Cart, orders OrderCreator, identity Identity, events event.Publisher, logger *slog.Logger) *Service {
	if events == nil {
		events = event.Nop{}
	}
	return &Service{
		cart:     cart,
		orders:   orders,
		identity: identity,
		events:   events,
		logger:   logger,
		tracer:   tracing.Tracer(tracerName),
	}
}

// PlaceOrder submits the confirmed cart as an order. The cart must be
// non-empty and have no mutation in flight. On success the cart is cleared;
// on failure it is left exactly as it was.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.place_order")
	defer func() { tracing.Finish(span, err, attribute.String("order.number", res.Order.OrderNumber)) }()
	log := logger.WithContext(ctx, s.logger)

	in.Notes = strings.TrimSpace(in.Notes)
	if err := validator.Check(in); err != nil {
		return Result{}, err
	}
	if !in.Payment.IsValid() {
		return Result{}, apperrors.InvalidInput("payment method is not supported")
	}

	if !s.begin() {
		return Result{}, apperrors.Busy("your order")
	}
	defer s.end()

	if s.cart.InFlight() > 0 {
		return Result{}, apperrors.Busy("the cart")
	}
	snapshot := s.cart.Confirmed()
	if snapshot.IsEmpty() {
		return Result{}, apperrors.InvalidInput("your cart is empty")
	}

	req := domain.NewOrderRequest(snapshot, in.Shipping, in.Payment, in.Notes)
	order, err := s.orders.CreateOrder(ctx, req)
	if err != nil {
		log.WarnContext(ctx, "order placement failed",
			slog.String("reason", apperrors.Code(err)),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}

	log.InfoContext(ctx, "order placed",
		slog.String("order_number", order.OrderNumber),
		slog.String("payment_method", string(in.Payment)),
		slog.Int("item_count", snapshot.Count()),
	)

	cart, clearErr := s.cart.Clear(ctx)
	if clearErr != nil {
		log.WarnContext(ctx, "failed to clear cart after order, refreshing",
			slog.String("order_number", order.OrderNumber),
			slog.String("error", clearErr.Error()),
		)
		var refreshErr error
		if cart, refreshErr = s.cart.Refresh(ctx); refreshErr != nil {
			log.WarnContext(ctx, "cart refresh after order failed",
				slog.String("error", refreshErr.Error()),
			)
		}
	}

	s.publish(ctx, order, in.Payment, snapshot)
	return Result{Order: order, Cart: cart}, nil
}

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.placing {
		return false
	}
	s.placing = true
	return true
}

func (s *Service) end() {
	s.mu.Lock()
	s.placing = false
	s.mu.Unlock()
}

func (s *Service) publish(ctx context.Context, order domain.Order, method domain.PaymentMethod, snapshot domain.Cart) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	placed := event.OrderPlaced{
		Order:         order,
		PaymentMethod: method,
		Cart:          snapshot,
	}
	if s.identity != nil {
		placed.SessionID = s.identity.SessionID()
		placed.UserID = s.identity.UserID()
	}
	if err := s.events.PublishOrderPlaced(bg, placed); err != nil {
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "failed to publish order placed event",
			slog.String("order_number", order.OrderNumber),
			slog.String("error", err.Error()),
		)
	}
}
