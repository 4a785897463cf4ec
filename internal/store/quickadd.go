package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/notify"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
)

// ButtonState is the state of a quick add button.
type ButtonState string

const (
	StateIdle   ButtonState = "idle"
	StateAdding ButtonState = "adding"
	StateAdded  ButtonState = "added"
	StateFailed ButtonState = "failed"
)

// DefaultQuickAddReset is how long a button shows "added".
const DefaultQuickAddReset = 2 * time.Second

// ProductLookup resolves a product reference (slug or URL) in the catalog.
type ProductLookup interface {
	GetProduct(ctx context.Context, ref string) (domain.Product, error)
}

// Notifier shows toasts. *notify.Center satisfies it.
type Notifier interface {
	Success(message string) notify.Toast
	FromError(err error) notify.Toast
}

// QuickAddInput identifies the button that was pressed.
type QuickAddInput struct {
	Slug      string `json:"slug"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// ButtonEvent reports a state change of one button.
type ButtonEvent struct {
	Key   string      `json:"key"`
	State ButtonState `json:"state"`
}

type button struct {
	state ButtonState
	timer *time.Timer
}

// QuickAdd drives the quick add buttons of product cards:
//
//	idle -> adding -> added  -> idle (after the reset delay)
//	              \-> failed -> idle (after an error toast)
//
// A press on a button that is not idle is refused with ErrBusy.
type QuickAdd struct {
	store    *Store
	catalog  ProductLookup
	notifier Notifier
	metrics  *Metrics
	logger   *slog.Logger
	reset    time.Duration

	mu        sync.Mutex
	buttons   map[string]*button
	listeners map[uint64]func(ButtonEvent)
	nextID    uint64
}

// NewQuickAdd creates the quick add controller for a store.
func NewQuickAdd(store *Store, catalog ProductLookup, notifier Notifier, reset time.Duration) *QuickAdd {
	if reset <= 0 {
		reset = DefaultQuickAddReset
	}
	return &QuickAdd{
		store:     store,
		catalog:   catalog,
		notifier:  notifier,
		metrics:   store.metrics,
		logger:    store.logger,
		reset:     reset,
		buttons:   make(map[string]*button),
		listeners: make(map[uint64]func(ButtonEvent)),
	}
}

// ButtonKey identifies the button for a product card and optional variant.
func ButtonKey(slug, variantID string) string {
	return domain.LineKey(strings.TrimSpace(slug), strings.TrimSpace(variantID))
}

// State returns the current state of a button.
func (q *QuickAdd) State(slug, variantID string) ButtonState {
	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok := q.buttons[ButtonKey(slug, variantID)]; ok {
		return b.state
	}
	return StateIdle
}

// Subscribe registers fn to receive every button transition. The returned
// func unsubscribes.
func (q *QuickAdd) Subscribe(fn func(ButtonEvent)) func() {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Press resolves the product, checks availability and adds it to the cart.
func (q *QuickAdd) Press(ctx context.Context, in QuickAddInput) (domain.Cart, error) {
	key := ButtonKey(in.Slug, in.VariantID)
	if err := q.start(key); err != nil {
		return q.store.Cart(), err
	}

	cart, name, err := q.add(ctx, in)
	if err != nil {
		q.transition(key, StateFailed)
		q.notifier.FromError(err)
		q.transition(key, StateIdle)
		logger.WithContext(ctx, q.logger).InfoContext(ctx, "quick add failed",
			slog.String("slug", in.Slug),
			slog.String("reason", apperrors.Code(err)),
		)
		return cart, err
	}

	q.transition(key, StateAdded)
	q.notifier.Success(fmt.Sprintf("%s added to your cart", name))
	q.scheduleReset(key)
	return cart, nil
}

// Close stops pending reset timers and returns every button to idle.
func (q *QuickAdd) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key, b := range q.buttons {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(q.buttons, key)
	}
}

func (q *QuickAdd) add(ctx context.Context, in QuickAddInput) (domain.Cart, string, error) {
	quantity := in.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return q.store.Cart(), "", apperrors.InvalidInput("quantity must be at least 1")
	}

	product, err := q.catalog.GetProduct(ctx, in.Slug)
	if err != nil {
		return q.store.Cart(), "", err
	}
	variant, err := pickVariant(product, strings.TrimSpace(in.VariantID))
	if err != nil {
		return q.store.Cart(), "", err
	}

	inCart := 0
	variantID := ""
	if variant != nil {
		variantID = variant.ID
	}
	cart := q.store.Cart()
	if i := cart.IndexOfKey(product.ID, variantID); i >= 0 {
		inCart = cart.Items[i].Quantity
	}
	stock := product.AvailableStock(variant)
	switch {
	case stock <= 0:
		return cart, "", apperrors.InvalidInput(fmt.Sprintf("%s is out of stock", product.Name))
	case inCart+quantity > stock:
		return cart, "", apperrors.InvalidInput(fmt.Sprintf("only %d of %s left in stock", stock, product.Name))
	}

	cart, err = q.store.AddToCart(ctx, AddItemInput{
		ProductID: product.ID,
		VariantID: variantID,
		Quantity:  quantity,
		UnitPrice: product.UnitPrice(variant),
		Snapshot:  product.Snapshot(),
	})
	return cart, product.Name, err
}

// pickVariant returns the requested variant, the only active variant when
// none was requested, or nil for products without variants.
func pickVariant(p domain.Product, variantID string) (*domain.Variant, error) {
	if !p.IsActive {
		return nil, apperrors.InvalidInput(fmt.Sprintf("%s is no longer available", p.Name))
	}
	if variantID != "" {
		v, ok := p.FindVariant(variantID)
		if !ok || !v.IsActive {
			return nil, apperrors.InvalidInput("the selected option is not available")
		}
		return v, nil
	}
	if len(p.Variants) == 0 {
		return nil, nil
	}

	var only *domain.Variant
	for i := range p.Variants {
		if !p.Variants[i].IsActive {
			continue
		}
		if only != nil {
			return nil, apperrors.InvalidInput("please choose an option first")
		}
		only = &p.Variants[i]
	}
	if only == nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("%s is no longer available", p.Name))
	}
	return only, nil
}

func (q *QuickAdd) start(key string) error {
	q.mu.Lock()
	b, ok := q.buttons[key]
	if ok && b.state != StateIdle {
		q.mu.Unlock()
		return apperrors.Busy("this product")
	}
	if !ok {
		b = &button{}
		q.buttons[key] = b
	}
	b.state = StateAdding
	listeners := q.listenersLocked()
	q.mu.Unlock()

	emit(listeners, ButtonEvent{Key: key, State: StateAdding})
	return nil
}

func (q *QuickAdd) transition(key string, state ButtonState) {
	q.mu.Lock()
	b, ok := q.buttons[key]
	if !ok {
		b = &button{}
		q.buttons[key] = b
	}
	b.state = state
	if state == StateIdle {
		delete(q.buttons, key)
	}
	listeners := q.listenersLocked()
	q.mu.Unlock()

	if state == StateAdded || state == StateFailed {
		q.metrics.quickAdd(state)
	}
	emit(listeners, ButtonEvent{Key: key, State: state})
}

func (q *QuickAdd) scheduleReset(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.buttons[key]
	if !ok {
		return
	}
	b.timer = time.AfterFunc(q.reset, func() {
		q.mu.Lock()
		current, ok := q.buttons[key]
		stale := !ok || current != b || current.state != StateAdded
		q.mu.Unlock()
		if !stale {
			q.transition(key, StateIdle)
		}
	})
}

func (q *QuickAdd) listenersLocked() []func(ButtonEvent) {
	out := make([]func(ButtonEvent), 0, len(q.listeners))
	for _, fn := range q.listeners {
		out = append(out, fn)
	}
	return out
}

func emit(listeners []func(ButtonEvent), ev ButtonEvent) {
	for _, fn := range listeners {
		fn(ev)
	}
}
