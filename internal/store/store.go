package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/tracing"
	"github.com/utafrali/storefront/pkg/validator"
)

const tracerName = "github.com/utafrali/storefront/internal/store"

// DefaultTimeout bounds each upstream cart call when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// sideEffectTimeout bounds snapshot persistence and event publishing.
const sideEffectTimeout = 2 * time.Second

// CartAPI is the server-authoritative cart. Every call returns the cart as
// the server holds it afterwards.
type CartAPI interface {
	FetchCart(ctx context.Context) (domain.Cart, error)
	AddItem(ctx context.Context, productID, variantID string, quantity int) (domain.Cart, error)
	UpdateItem(ctx context.Context, lineItemID string, quantity int) (domain.Cart, error)
	RemoveItem(ctx context.Context, lineItemID string) (domain.Cart, error)
	ApplyCoupon(ctx context.Context, code string) (domain.Cart, error)
	RemoveCoupon(ctx context.Context) (domain.Cart, error)
	ClearCart(ctx context.Context) (domain.Cart, error)
}

// SnapshotRepository persists the last confirmed cart per browser session.
// Get returns an error wrapping apperrors.ErrNotFound when nothing is stored.
type SnapshotRepository interface {
	Get(ctx context.Context, sessionID string) (domain.Cart, error)
	Save(ctx context.Context, sessionID string, cart domain.Cart) error
	Delete(ctx context.Context, sessionID string) error
}

// Identity names the session a store belongs to. *session.Auth satisfies it.
type Identity interface {
	SessionID() string
	UserID() string
}

type noIdentity struct{}

func (noIdentity) SessionID() string { return "" }
func (noIdentity) UserID() string    { return "" }

// Options configures a Store. Only the cart API is required.
type Options struct {
	Identity  Identity
	Snapshots SnapshotRepository
	Events    event.Publisher
	Metrics   *Metrics
	Logger    *slog.Logger
	Timeout   time.Duration
}

// AddItemInput holds the parameters for adding an item to the cart.
type AddItemInput struct {
	ProductID string                 `json:"product_id" validate:"required,notblank"`
	VariantID string                 `json:"variant_id"`
	Quantity  int                    `json:"quantity" validate:"gte=1,lte=100"`
	UnitPrice decimal.Decimal        `json:"unit_price"`
	Snapshot  domain.ProductSnapshot `json:"product"`
}

type couponInput struct {
	Code string `json:"code" validate:"required,coupon"`
}

// Store is the single in-memory representation of one session's cart. All
// mutations go through it so the badge and the cart page agree.
//
// A mutation registers a pending operation, shows its effect immediately,
// and awaits the upstream API. Success reconciles the server's answer into
// the confirmed cart; failure drops the operation, which leaves the
// confirmed cart exactly as it was.
type Store struct {
	api       CartAPI
	identity  Identity
	snapshots SnapshotRepository
	events    event.Publisher
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	timeout   time.Duration

	mu        sync.Mutex
	confirmed domain.Cart
	synced    bool
	pending   []*pendingOp
	targets   map[string]*pendingOp
	listeners map[uint64]func(domain.Cart)
	nextID    uint64

	refresh singleflight.Group
}

// New creates a store with an empty confirmed cart.
func New(api CartAPI, opts Options) *Store {
	s := &Store{
		api:       api,
		identity:  opts.Identity,
		snapshots: opts.Snapshots,
		events:    opts.Events,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		tracer:    tracing.Tracer(tracerName),
		timeout:   opts.Timeout,
		confirmed: domain.Cart{Items: []domain.LineItem{}},
		targets:   make(map[string]*pendingOp),
		listeners: make(map[uint64]func(domain.Cart)),
	}
	if s.identity == nil {
		s.identity = noIdentity{}
	}
	if s.events == nil {
		s.events = event.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	return s
}

// --- Reads ---

// Cart returns the visible cart: the confirmed cart with every pending
// operation applied in issue order.
func (s *Store) Cart() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Confirmed returns the cart as the server last confirmed it.
func (s *Store) Confirmed() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed.Clone()
}

// Items returns the visible line items.
func (s *Store) Items() []domain.LineItem {
	return s.Cart().Items
}

// Count returns the total quantity across visible lines.
func (s *Store) Count() int {
	return s.Cart().Count()
}

// Subtotal returns the visible subtotal.
func (s *Store) Subtotal() decimal.Decimal {
	return s.Cart().Subtotal()
}

// Total returns the visible total.
func (s *Store) Total() decimal.Decimal {
	return s.Cart().Total()
}

// BadgeLabel returns the navigation badge text.
func (s *Store) BadgeLabel() string {
	return s.Cart().BadgeLabel()
}

// InFlight returns the number of mutations awaiting the upstream API.
func (s *Store) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Subscribe registers fn to receive the visible cart after every change.
// fn is called without the store lock held. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(domain.Cart)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// --- Mutations ---

// AddToCart adds in.Quantity of a product (and optional variant). A line for
// the same product and variant has its quantity increased instead of a
// second line being created.
func (s *Store) AddToCart(ctx context.Context, in AddItemInput) (domain.Cart, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.VariantID = strings.TrimSpace(in.VariantID)

	return s.mutate(ctx, opAdd, func(view domain.Cart) (*pendingOp, error) {
		if err := validator.Check(in); err != nil {
			return nil, err
		}
		if in.UnitPrice.IsNegative() {
			return nil, apperrors.InvalidInput("unit price must not be negative")
		}

		op := &pendingOp{
			kind:      opAdd,
			label:     "this item",
			productID: in.ProductID,
			variantID: in.VariantID,
			quantity:  in.Quantity,
			snapshot:  in.Snapshot,
			targets:   []string{keyTarget(in.ProductID, in.VariantID)},
		}
		if i := view.IndexOfKey(in.ProductID, in.VariantID); i >= 0 {
			existing := view.Items[i]
			if existing.Quantity+in.Quantity > domain.MaxQuantityPerItem {
				return nil, apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", domain.MaxQuantityPerItem))
			}
			if existing.ID != "" {
				op.lineID = existing.ID
				op.targets = append(op.targets, lineTarget(existing.ID))
			}
		} else if len(view.Items) >= domain.MaxItemsPerCart {
			return nil, apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", domain.MaxItemsPerCart))
		}

		item := domain.LineItem{
			ProductID: in.ProductID,
			VariantID: in.VariantID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Snapshot:  in.Snapshot,
		}
		op.apply = func(c domain.Cart) domain.Cart {
			out := c.WithItemAdded(item)
			markPending(&out, out.IndexOfKey(item.ProductID, item.VariantID))
			return out
		}
		op.send = func(ctx context.Context) (domain.Cart, error) {
			return s.api.AddItem(ctx, in.ProductID, in.VariantID, in.Quantity)
		}
		return op, nil
	})
}

// UpdateQuantity sets a line's quantity. A quantity of zero or less removes
// the line.
func (s *Store) UpdateQuantity(ctx context.Context, lineItemID string, quantity int) (domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, lineItemID)
	}
	lineItemID = strings.TrimSpace(lineItemID)

	return s.mutate(ctx, opUpdate, func(view domain.Cart) (*pendingOp, error) {
		if lineItemID == "" {
			return nil, apperrors.InvalidInput("line item id is required")
		}
		if quantity > domain.MaxQuantityPerItem {
			return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", domain.MaxQuantityPerItem))
		}

		op := lineOp(opUpdate, view, lineItemID)
		op.quantity = quantity
		op.apply = func(c domain.Cart) domain.Cart {
			out := c.WithQuantity(lineItemID, quantity)
			markPending(&out, out.IndexOfID(lineItemID))
			return out
		}
		op.send = func(ctx context.Context) (domain.Cart, error) {
			return s.api.UpdateItem(ctx, lineItemID, quantity)
		}
		return op, nil
	})
}

// RemoveItem removes a line. An id the store does not know is still sent
// upstream, which answers with a rejection.
func (s *Store) RemoveItem(ctx context.Context, lineItemID string) (domain.Cart, error) {
	lineItemID = strings.TrimSpace(lineItemID)

	return s.mutate(ctx, opRemove, func(view domain.Cart) (*pendingOp, error) {
		if lineItemID == "" {
			return nil, apperrors.InvalidInput("line item id is required")
		}

		op := lineOp(opRemove, view, lineItemID)
		op.apply = func(c domain.Cart) domain.Cart {
			return c.WithoutItem(lineItemID)
		}
		op.send = func(ctx context.Context) (domain.Cart, error) {
			return s.api.RemoveItem(ctx, lineItemID)
		}
		return op, nil
	})
}

// ApplyCoupon asks the upstream API to apply code. Eligibility is decided
// upstream; a refusal carries the server's reason.
func (s *Store) ApplyCoupon(ctx context.Context, code string) (domain.Cart, error) {
	code = strings.TrimSpace(code)

	return s.mutate(ctx, opApplyCoupon, func(domain.Cart) (*pendingOp, error) {
		if err := validator.Check(couponInput{Code: code}); err != nil {
			return nil, err
		}
		op := &pendingOp{
			kind:    opApplyCoupon,
			label:   "the coupon",
			code:    code,
			targets: []string{targetCoupon},
		}
		op.apply = func(c domain.Cart) domain.Cart {
			out := c.Clone()
			out.CouponCode = code
			return out
		}
		op.send = func(ctx context.Context) (domain.Cart, error) {
			return s.api.ApplyCoupon(ctx, code)
		}
		return op, nil
	})
}

// RemoveCoupon removes the applied coupon.
func (s *Store) RemoveCoupon(ctx context.Context) (domain.Cart, error) {
	return s.mutate(ctx, opRemoveCoupon, func(domain.Cart) (*pendingOp, error) {
		op := &pendingOp{
			kind:    opRemoveCoupon,
			label:   "the coupon",
			targets: []string{targetCoupon},
		}
		op.apply = func(c domain.Cart) domain.Cart {
			out := c.Clone()
			out.CouponCode = ""
			out.Discount = decimal.Zero
			return out
		}
		op.send = s.api.RemoveCoupon
		return op, nil
	})
}

// Clear empties the cart and resets the coupon. Clearing an empty cart
// succeeds. Clear waits for no one: it is refused while any other mutation
// is in flight.
func (s *Store) Clear(ctx context.Context) (domain.Cart, error) {
	return s.mutate(ctx, opClear, func(domain.Cart) (*pendingOp, error) {
		op := &pendingOp{
			kind:    opClear,
			label:   "the cart",
			targets: []string{targetAll},
		}
		op.apply = func(c domain.Cart) domain.Cart {
			return c.Emptied()
		}
		op.send = s.api.ClearCart
		return op, nil
	})
}

// --- Loading ---

// Load shows the persisted snapshot for this session, if any, then fetches
// the server cart and adopts it. When the fetch fails the snapshot stays
// visible and the error is returned.
func (s *Store) Load(ctx context.Context) (domain.Cart, error) {
	if sid := s.identity.SessionID(); s.snapshots != nil && sid != "" {
		snap, err := s.snapshots.Get(ctx, sid)
		switch {
		case err == nil:
			s.hydrate(snap)
		case errors.Is(err, apperrors.ErrNotFound):
		default:
			logger.WithContext(ctx, s.logger).WarnContext(ctx, "failed to read cart snapshot",
				slog.String("error", err.Error()),
			)
		}
	}
	return s.Refresh(ctx)
}

// hydrate installs a persisted snapshot unless server state already arrived.
func (s *Store) hydrate(snap domain.Cart) {
	if snap.Validate() != nil {
		return
	}
	snap = snap.Clone()
	if snap.Items == nil {
		snap.Items = []domain.LineItem{}
	}
	for i := range snap.Items {
		snap.Items[i].Pending = false
	}

	s.mu.Lock()
	if s.synced {
		s.mu.Unlock()
		return
	}
	s.confirmed = snap
	view, listeners := s.viewLocked(), s.listenersLocked()
	s.mu.Unlock()

	notifyListeners(listeners, view)
}

// Refresh fetches the server cart and adopts it. Lines targeted by a
// mutation still in flight keep their confirmed value until that mutation
// settles. Concurrent refreshes share one upstream call.
func (s *Store) Refresh(ctx context.Context) (cart domain.Cart, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "cart.refresh")
	defer func() { tracing.Finish(span, err, attribute.Int("cart.count", cart.Count())) }()

	// The shared fetch outlives any one caller; each caller stops waiting
	// when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := s.refresh.DoChan("fetch", func() (any, error) {
		return s.call(shared, s.api.FetchCart)
	})
	var v any
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = apperrors.NetworkFailure(fmt.Errorf("cart refresh abandoned: %w", ctx.Err()))
	}
	s.metrics.observe("refresh", start, err)
	if err != nil {
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "cart refresh failed",
			slog.String("error", err.Error()),
		)
		return s.Cart(), err
	}
	srv := v.(domain.Cart)

	s.mu.Lock()
	confirmed := withSnapshots(srv, s.confirmed, nil)
	for _, op := range s.pending {
		if op.touchesLine() {
			confirmed = patchLine(confirmed, s.confirmed, op)
		}
	}
	s.confirmed = confirmed
	s.synced = true
	view, listeners := s.viewLocked(), s.listenersLocked()
	s.mu.Unlock()

	notifyListeners(listeners, view)
	s.persist(ctx, confirmed)
	return view, nil
}

// Discard drops local state and the persisted snapshot. It runs when the
// session's credentials are torn down.
func (s *Store) Discard(ctx context.Context) {
	s.mu.Lock()
	s.confirmed = s.confirmed.Emptied()
	s.synced = false
	view, listeners := s.viewLocked(), s.listenersLocked()
	s.mu.Unlock()

	notifyListeners(listeners, view)

	if sid := s.identity.SessionID(); s.snapshots != nil && sid != "" {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		if err := s.snapshots.Delete(bg, sid); err != nil {
			logger.WithContext(ctx, s.logger).WarnContext(ctx, "failed to delete cart snapshot",
				slog.String("error", err.Error()),
			)
		}
	}
}

// --- Operation lifecycle ---

func (s *Store) mutate(ctx context.Context, kind opKind, build func(view domain.Cart) (*pendingOp, error)) (cart domain.Cart, err error) {
	start := time.Now()
	name := string(kind)
	ctx, span := s.tracer.Start(ctx, "cart."+name)
	log := logger.WithContext(ctx, s.logger)

	var op *pendingOp
	defer func() {
		attrs := []attribute.KeyValue{attribute.Int("cart.count", cart.Count())}
		if op != nil {
			attrs = append(attrs, attribute.String("cart.operation_id", op.id))
		}
		tracing.Finish(span, err, attrs...)
	}()

	op, err = s.begin(build)
	if err != nil {
		s.metrics.refused(name, err)
		log.InfoContext(ctx, "cart operation refused",
			slog.String("operation", name),
			slog.String("reason", apperrors.Code(err)),
		)
		return s.Cart(), err
	}

	srv, err := s.call(ctx, op.send)
	if err != nil && kind == opClear && errors.Is(err, apperrors.ErrNotFound) {
		srv, err = domain.Cart{Items: []domain.LineItem{}}, nil
	}

	cart, confirmed := s.settle(op, srv, err)
	s.metrics.observe(name, start, err)

	if err != nil {
		log.WarnContext(ctx, "cart operation rolled back",
			slog.String("operation", name),
			slog.String("operation_id", op.id),
			slog.String("reason", apperrors.Code(err)),
			slog.String("error", err.Error()),
		)
		return cart, err
	}

	log.InfoContext(ctx, "cart operation confirmed",
		slog.String("operation", name),
		slog.String("operation_id", op.id),
		slog.Int("count", confirmed.Count()),
	)
	s.persist(ctx, confirmed)
	s.publish(ctx, op, confirmed)
	return cart, nil
}

// begin validates and registers an operation against the current view.
func (s *Store) begin(build func(view domain.Cart) (*pendingOp, error)) (*pendingOp, error) {
	s.mu.Lock()

	op, err := build(s.viewLocked())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if holder, ok := s.targets[targetAll]; ok {
		s.mu.Unlock()
		return nil, apperrors.Busy(holder.label)
	}
	if op.kind == opClear && len(s.pending) > 0 {
		s.mu.Unlock()
		return nil, apperrors.Busy(op.label)
	}
	for _, t := range op.targets {
		if holder, ok := s.targets[t]; ok {
			s.mu.Unlock()
			return nil, apperrors.Busy(holder.label)
		}
	}

	op.id = uuid.NewString()
	for _, t := range op.targets {
		s.targets[t] = op
	}
	s.pending = append(s.pending, op)
	view, listeners := s.viewLocked(), s.listenersLocked()
	s.mu.Unlock()

	s.metrics.pendingDelta(1)
	notifyListeners(listeners, view)
	return op, nil
}

// settle removes op from the pending set and, on success, reconciles the
// server cart into the confirmed cart.
func (s *Store) settle(op *pendingOp, srv domain.Cart, err error) (view, confirmed domain.Cart) {
	s.mu.Lock()
	for i, p := range s.pending {
		if p == op {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	for _, t := range op.targets {
		if s.targets[t] == op {
			delete(s.targets, t)
		}
	}
	if err == nil {
		s.confirmed = s.reconcileLocked(op, srv)
		s.synced = true
	}
	view, confirmed = s.viewLocked(), s.confirmed.Clone()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.metrics.pendingDelta(-1)
	notifyListeners(listeners, view)
	return view, confirmed
}

// reconcileLocked merges a successful response. With nothing else in flight
// the server cart is adopted as is. Otherwise only the operation's own line
// and the cart-level fields are taken from it, since the response may
// predate or postdate other in-flight mutations.
func (s *Store) reconcileLocked(op *pendingOp, srv domain.Cart) domain.Cart {
	srv = withSnapshots(srv, s.confirmed, op)
	if srv.Currency == "" {
		srv.Currency = s.confirmed.Currency
	}
	if op.kind == opClear || len(s.pending) == 0 {
		return srv
	}

	out := s.confirmed.Clone()
	if op.touchesLine() {
		out = patchLine(out, srv, op)
	}
	out.CouponCode = srv.CouponCode
	out.Discount = srv.Discount
	out.ShippingCost = srv.ShippingCost
	out.Tax = srv.Tax
	out.Currency = srv.Currency
	if out.Validate() != nil {
		return srv
	}
	return out
}

// call runs fn under the operation timeout. The timeout holds even when fn
// ignores its context.
func (s *Store) call(ctx context.Context, fn func(context.Context) (domain.Cart, error)) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		cart domain.Cart
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cart, err := fn(ctx)
		done <- result{cart: cart, err: err}
	}()

	select {
	case r := <-done:
		return r.cart, asOperationError(r.err)
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.cart, asOperationError(r.err)
		default:
		}
		return domain.Cart{}, apperrors.NetworkFailure(fmt.Errorf("cart request abandoned: %w", ctx.Err()))
	}
}

// asOperationError keeps taxonomy errors and treats anything else as a
// request that could not complete.
func asOperationError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.NetworkFailure(err)
}

func (s *Store) persist(ctx context.Context, confirmed domain.Cart) {
	sid := s.identity.SessionID()
	if s.snapshots == nil || sid == "" {
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	var err error
	if confirmed.IsEmpty() && confirmed.CouponCode == "" {
		err = s.snapshots.Delete(bg, sid)
	} else {
		err = s.snapshots.Save(bg, sid, confirmed)
	}
	if err != nil {
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "failed to persist cart snapshot",
			slog.String("error", err.Error()),
		)
	}
}

func (s *Store) publish(ctx context.Context, op *pendingOp, confirmed domain.Cart) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	activity := event.CartActivity{
		Action:     op.kind.action(),
		SessionID:  s.identity.SessionID(),
		UserID:     s.identity.UserID(),
		ProductID:  op.productID,
		VariantID:  op.variantID,
		Quantity:   op.quantity,
		CouponCode: op.code,
		Cart:       confirmed,
	}
	if err := s.events.PublishCartActivity(bg, activity); err != nil {
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "failed to publish cart activity",
			slog.String("action", string(activity.Action)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Store) viewLocked() domain.Cart {
	view := s.confirmed.Clone()
	for _, op := range s.pending {
		view = op.apply(view)
	}
	return view
}

func (s *Store) listenersLocked() []func(domain.Cart) {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]func(domain.Cart), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func notifyListeners(listeners []func(domain.Cart), view domain.Cart) {
	for _, fn := range listeners {
		fn(view.Clone())
	}
}
