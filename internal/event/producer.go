package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/logger"
)

// Kafka topics for storefront activity.
var (
	TopicCartItemAdded    = pkgkafka.Topic("cart", "item_added")
	TopicCartItemUpdated  = pkgkafka.Topic("cart", "item_updated")
	TopicCartItemRemoved  = pkgkafka.Topic("cart", "item_removed")
	TopicCartCouponChange = pkgkafka.Topic("cart", "coupon_changed")
	TopicCartCleared      = pkgkafka.Topic("cart", "cleared")
	TopicOrderPlaced      = pkgkafka.Topic("order", "placed")
)

// SourceStorefront identifies events originating from the storefront.
const SourceStorefront = "storefront"

// Action names a confirmed cart mutation.
type Action string

const (
	ActionItemAdded     Action = "item_added"
	ActionItemUpdated   Action = "item_updated"
	ActionItemRemoved   Action = "item_removed"
	ActionCouponApplied Action = "coupon_applied"
	ActionCouponRemoved Action = "coupon_removed"
	ActionCleared       Action = "cleared"
)

// Topic returns the topic an action is published to.
func (a Action) Topic() string {
	switch a {
	case ActionItemAdded:
		return TopicCartItemAdded
	case ActionItemUpdated:
		return TopicCartItemUpdated
	case ActionItemRemoved:
		return TopicCartItemRemoved
	case ActionCouponApplied, ActionCouponRemoved:
		return TopicCartCouponChange
	default:
		return TopicCartCleared
	}
}

// CartActivity describes one confirmed cart mutation.
type CartActivity struct {
	Action     Action
	SessionID  string
	UserID     string
	ProductID  string
	VariantID  string
	Quantity   int
	CouponCode string
	Cart       domain.Cart
}

// CartActivityData is the payload of cart events.
type CartActivityData struct {
	Action     Action          `json:"action"`
	ProductID  string          `json:"product_id,omitempty"`
	VariantID  string          `json:"variant_id,omitempty"`
	Quantity   int             `json:"quantity,omitempty"`
	CouponCode string          `json:"coupon_code,omitempty"`
	ItemCount  int             `json:"item_count"`
	LineCount  int             `json:"line_count"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency,omitempty"`
}

// OrderPlaced describes an order accepted by the order API.
type OrderPlaced struct {
	SessionID     string
	UserID        string
	Order         domain.Order
	PaymentMethod domain.PaymentMethod
	Cart          domain.Cart
}

// OrderPlacedData is the payload of order.placed events.
type OrderPlacedData struct {
	OrderNumber   string               `json:"order_number"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	ItemCount     int                  `json:"item_count"`
	Total         decimal.Decimal      `json:"total"`
	Currency      string               `json:"currency,omitempty"`
}

// Publisher emits storefront activity. Publishing is best effort; callers log
// failures and carry on.
type Publisher interface {
	PublishCartActivity(ctx context.Context, a CartActivity) error
	PublishOrderPlaced(ctx context.Context, o OrderPlaced) error
}

// eventWriter is the subset of *pkgkafka.Producer used here.
type eventWriter interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes storefront activity to Kafka.
type Producer struct {
	kafka  eventWriter
	logger *slog.Logger
}

// NewProducer creates a new event producer for the storefront.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return newProducer(kafka, logger)
}

func newProducer(w eventWriter, logger *slog.Logger) *Producer {
	return &Producer{kafka: w, logger: logger}
}

// PublishCartActivity publishes a cart.<action> event keyed by session.
func (p *Producer) PublishCartActivity(ctx context.Context, a CartActivity) error {
	data := CartActivityData{
		Action:     a.Action,
		ProductID:  a.ProductID,
		VariantID:  a.VariantID,
		Quantity:   a.Quantity,
		CouponCode: a.CouponCode,
		ItemCount:  a.Cart.Count(),
		LineCount:  len(a.Cart.Items),
		Subtotal:   a.Cart.Subtotal(),
		Total:      a.Cart.Total(),
		Currency:   a.Cart.Currency,
	}

	topic := a.Action.Topic()
	event, err := pkgkafka.NewEvent(topic, a.SessionID, SourceStorefront, data,
		pkgkafka.Actor(a.SessionID, a.UserID),
		pkgkafka.Correlated(logger.CorrelationIDFromContext(ctx)),
	)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published cart activity",
		slog.String("action", string(a.Action)),
		slog.Int("item_count", data.ItemCount),
	)
	return nil
}

// PublishOrderPlaced publishes an order.placed event keyed by order number.
func (p *Producer) PublishOrderPlaced(ctx context.Context, o OrderPlaced) error {
	data := OrderPlacedData{
		OrderNumber:   o.Order.OrderNumber,
		PaymentMethod: o.PaymentMethod,
		ItemCount:     o.Cart.Count(),
		Total:         o.Cart.Total(),
		Currency:      o.Cart.Currency,
	}

	event, err := pkgkafka.NewEvent(TopicOrderPlaced, o.Order.OrderNumber, SourceStorefront, data,
		pkgkafka.Actor(o.SessionID, o.UserID),
		pkgkafka.Correlated(logger.CorrelationIDFromContext(ctx)),
	)
	if err != nil {
		return fmt.Errorf("create order.placed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderPlaced, event); err != nil {
		return fmt.Errorf("publish order.placed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.placed event",
		slog.String("order_number", o.Order.OrderNumber),
	)
	return nil
}

// Nop discards all activity. It is used when analytics are disabled.
type Nop struct{}

func (Nop) PublishCartActivity(context.Context, CartActivity) error { return nil }
func (Nop) PublishOrderPlaced(context.Context, OrderPlaced) error   { return nil }
