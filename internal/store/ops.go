package store

import (
	"context"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
)

// opKind names a cart mutation. The values double as metric labels.
type opKind string

const (
	opAdd          opKind = "add_item"
	opUpdate       opKind = "update_item"
	opRemove       opKind = "remove_item"
	opApplyCoupon  opKind = "apply_coupon"
	opRemoveCoupon opKind = "remove_coupon"
	opClear        opKind = "clear"
)

func (k opKind) action() event.Action {
	switch k {
	case opAdd:
		return event.ActionItemAdded
	case opUpdate:
		return event.ActionItemUpdated
	case opRemove:
		return event.ActionItemRemoved
	case opApplyCoupon:
		return event.ActionCouponApplied
	case opRemoveCoupon:
		return event.ActionCouponRemoved
	default:
		return event.ActionCleared
	}
}

// Targets a pending operation can hold. A target has at most one operation
// in flight.
const (
	targetCoupon = "coupon"
	targetAll    = "*"
)

func lineTarget(lineItemID string) string {
	return "line:" + lineItemID
}

func keyTarget(productID, variantID string) string {
	return "key:" + domain.LineKey(productID, variantID)
}

// pendingOp is a mutation awaiting the upstream API.
type pendingOp struct {
	id      string
	kind    opKind
	label   string
	targets []string

	// The line the operation is about. lineID is empty for a new line.
	lineID    string
	productID string
	variantID string

	quantity int
	code     string
	snapshot domain.ProductSnapshot

	apply func(domain.Cart) domain.Cart
	send  func(context.Context) (domain.Cart, error)
}

func (op *pendingOp) touchesLine() bool {
	return op.lineID != "" || op.productID != ""
}

// lineOp builds an operation against an existing line id, resolving its
// product and variant from view when the line is known locally.
func lineOp(kind opKind, view domain.Cart, lineItemID string) *pendingOp {
	op := &pendingOp{
		kind:    kind,
		label:   "this item",
		lineID:  lineItemID,
		targets: []string{lineTarget(lineItemID)},
	}
	if i := view.IndexOfID(lineItemID); i >= 0 {
		op.productID = view.Items[i].ProductID
		op.variantID = view.Items[i].VariantID
		op.targets = append(op.targets, keyTarget(op.productID, op.variantID))
	}
	return op
}

func markPending(c *domain.Cart, i int) {
	if i >= 0 {
		c.Items[i].Pending = true
	}
}

// findLine locates op's line by server id first, then by product and
// variant. Position is never used.
func findLine(c domain.Cart, op *pendingOp) int {
	if i := c.IndexOfID(op.lineID); i >= 0 {
		return i
	}
	if op.productID != "" {
		return c.IndexOfKey(op.productID, op.variantID)
	}
	return -1
}

// patchLine copies op's line from src into dst: replaced when both have it,
// appended when only src has it, removed when only dst has it.
func patchLine(dst, src domain.Cart, op *pendingOp) domain.Cart {
	out := dst.Clone()
	di, si := findLine(out, op), findLine(src, op)
	switch {
	case si >= 0 && di >= 0:
		out.Items[di] = src.Items[si]
	case si >= 0:
		out.Items = append(out.Items, src.Items[si])
	case di >= 0:
		out.Items = append(out.Items[:di], out.Items[di+1:]...)
	}
	return out
}

// withSnapshots returns a copy of srv in which lines the server sent without
// display data borrow it from known lines or from the add that created them.
func withSnapshots(srv, known domain.Cart, op *pendingOp) domain.Cart {
	out := srv.Clone()
	if out.Items == nil {
		out.Items = []domain.LineItem{}
	}
	for i := range out.Items {
		item := &out.Items[i]
		item.Pending = false
		if item.Snapshot != (domain.ProductSnapshot{}) {
			continue
		}
		probe := &pendingOp{lineID: item.ID, productID: item.ProductID, variantID: item.VariantID}
		if j := findLine(known, probe); j >= 0 {
			item.Snapshot = known.Items[j].Snapshot
			continue
		}
		if op != nil && op.kind == opAdd && item.ProductID == op.productID && item.VariantID == op.variantID {
			item.Snapshot = op.snapshot
		}
	}
	return out
}
