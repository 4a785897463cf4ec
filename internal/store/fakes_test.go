package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// fakeServer is an in-memory commerce API cart with the upstream semantics:
// adds merge by product and variant, lines get server ids, coupons are
// checked against a table, and stock clamps quantities.
type fakeServer struct {
	mu      sync.Mutex
	cart    domain.Cart
	nextID  int
	prices  map[string]decimal.Decimal
	stock   map[string]int
	coupons map[string]decimal.Decimal

	omitSnapshots bool

	failures map[string]error
	gates    map[string]chan struct{}
	calls    []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		cart:     domain.Cart{Items: []domain.LineItem{}, Currency: "USD"},
		prices:   map[string]decimal.Decimal{},
		stock:    map[string]int{},
		coupons:  map[string]decimal.Decimal{},
		failures: map[string]error{},
		gates:    map[string]chan struct{}{},
	}
}

// failNext makes the next call matching op (e.g. "add", "update:li-1") fail.
func (f *fakeServer) failNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// gate blocks calls matching op until the returned func is called.
func (f *fakeServer) gate(op string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeServer) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeServer) seed(items ...domain.LineItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		f.nextID++
		if item.ID == "" {
			item.ID = fmt.Sprintf("li-%d", f.nextID)
		}
		f.cart.Items = append(f.cart.Items, item)
	}
}

// enter records the call, waits on its gate and returns an injected failure.
func (f *fakeServer) enter(ctx context.Context, op, arg string) error {
	name := op
	if arg != "" {
		name = op + ":" + arg
	}
	f.mu.Lock()
	f.calls = append(f.calls, name)
	gate := f.gates[name]
	if gate == nil {
		gate = f.gates[op]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range []string{name, op} {
		if err, ok := f.failures[key]; ok {
			delete(f.failures, key)
			return err
		}
	}
	return nil
}

func (f *fakeServer) snapshotLocked() domain.Cart {
	out := f.cart.Clone()
	if f.omitSnapshots {
		for i := range out.Items {
			out.Items[i].Snapshot = domain.ProductSnapshot{}
		}
	}
	return out
}

func (f *fakeServer) FetchCart(ctx context.Context) (domain.Cart, error) {
	if err := f.enter(ctx, "fetch", ""); err != nil {
		return domain.Cart{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked(), nil
}

func (f *fakeServer) AddItem(ctx context.Context, productID, variantID string, quantity int) (domain.Cart, error) {
	if err := f.enter(ctx, "add", domain.LineKey(productID, variantID)); err != nil {
		return domain.Cart{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := domain.LineKey(productID, variantID)
	if i := f.cart.IndexOfKey(productID, variantID); i >= 0 {
		f.cart.Items[i].Quantity = f.clamp(key, f.cart.Items[i].Quantity+quantity)
	} else {
		f.nextID++
		f.cart.Items = append(f.cart.Items, domain.LineItem{
			ID:        fmt.Sprintf("li-%d", f.nextID),
			ProductID: productID,
			VariantID: variantID,
			Quantity:  f.clamp(key, quantity),
			UnitPrice: f.priceOf(productID),
			Snapshot:  domain.ProductSnapshot{Name: "server " + productID, Slug: productID},
		})
	}
	f.rediscountLocked()
	return f.snapshotLocked(), nil
}

func (f *fakeServer) UpdateItem(ctx context.Context, lineItemID string, quantity int) (domain.Cart, error) {
	if err := f.enter(ctx, "update", lineItemID); err != nil {
		return domain.Cart{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.cart.IndexOfID(lineItemID)
	if i < 0 {
		return domain.Cart{}, notFound("cart item not found")
	}
	f.cart.Items[i].Quantity = f.clamp(f.cart.Items[i].Key(), quantity)
	f.rediscountLocked()
	return f.snapshotLocked(), nil
}

func (f *fakeServer) RemoveItem(ctx context.Context, lineItemID string) (domain.Cart, error) {
	if err := f.enter(ctx, "remove", lineItemID); err != nil {
		return domain.Cart{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cart.IndexOfID(lineItemID) < 0 {
		return domain.Cart{}, notFound("cart item not found")
	}
	f.cart = f.cart.WithoutItem(lineItemID)
	f.rediscountLocked()
	return f.snapshotLocked(), nil
}

func (f *fakeServer) ApplyCoupon(ctx context.Context, code string) (domain.Cart, error) {
	if err := f.enter(ctx, "apply_coupon", code); err != nil {
		return domain.Cart{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.coupons[code]; !ok {
		return domain.Cart{}, apperrors.Rejected(http.StatusUnprocessableEntity, "INVALID_COUPON", "This coupon is invalid or has expired")
	}
	f.cart.CouponCode = code
	f.rediscountLocked()
	return f.snapshotLocked(), nil
}

func (f *fakeServer) RemoveCoupon(ctx context.Context) (domain.Cart, error) {
	if err := f.enter(ctx, "remove_coupon", ""); err != nil {
		return domain.Cart{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cart.CouponCode = ""
	f.rediscountLocked()
	return f.snapshotLocked(), nil
}

func (f *fakeServer) ClearCart(ctx context.Context) (domain.Cart, error) {
	if err := f.enter(ctx, "clear", ""); err != nil {
		return domain.Cart{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cart = f.cart.Emptied()
	return f.snapshotLocked(), nil
}

func (f *fakeServer) clamp(key string, quantity int) int {
	if limit, ok := f.stock[key]; ok && quantity > limit {
		return limit
	}
	return quantity
}

func (f *fakeServer) priceOf(productID string) decimal.Decimal {
	if p, ok := f.prices[productID]; ok {
		return p
	}
	return decimal.NewFromInt(10)
}

func (f *fakeServer) rediscountLocked() {
	f.cart.Discount = decimal.Zero
	if pct, ok := f.coupons[f.cart.CouponCode]; ok {
		f.cart.Discount = f.cart.Subtotal().Mul(pct).Div(decimal.NewFromInt(100))
	}
}

func notFound(message string) error {
	return &apperrors.AppError{
		Code:    "NOT_FOUND",
		Message: message,
		Status:  http.StatusNotFound,
		Err:     errors.Join(apperrors.ErrRejected, apperrors.ErrNotFound),
	}
}

// memorySnapshots is an in-memory SnapshotRepository.
type memorySnapshots struct {
	mu      sync.Mutex
	carts   map[string]domain.Cart
	deletes int
	err     error
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{carts: map[string]domain.Cart{}}
}

func (m *memorySnapshots) Get(_ context.Context, sessionID string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[sessionID]
	if !ok {
		return domain.Cart{}, apperrors.NotFound("cart snapshot", sessionID)
	}
	return c.Clone(), nil
}

func (m *memorySnapshots) Save(_ context.Context, sessionID string, cart domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.carts[sessionID] = cart.Clone()
	return nil
}

func (m *memorySnapshots) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.carts, sessionID)
	return m.err
}

func (m *memorySnapshots) stored(sessionID string) (domain.Cart, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[sessionID]
	return c, ok
}

// recordingPublisher collects published activity.
type recordingPublisher struct {
	mu     sync.Mutex
	cart   []event.CartActivity
	orders []event.OrderPlaced
	err    error
}

func (r *recordingPublisher) PublishCartActivity(_ context.Context, a event.CartActivity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cart = append(r.cart, a)
	return r.err
}

func (r *recordingPublisher) PublishOrderPlaced(_ context.Context, o event.OrderPlaced) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, o)
	return r.err
}

func (r *recordingPublisher) actions() []event.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Action, len(r.cart))
	for i, a := range r.cart {
		out[i] = a.Action
	}
	return out
}

type staticIdentity struct{ session, user string }

func (s staticIdentity) SessionID() string { return s.session }
func (s staticIdentity) UserID() string    { return s.user }
