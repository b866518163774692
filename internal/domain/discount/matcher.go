package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/samber/lo"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/usage"
)

// Coupon availability failures. Each carries the human-readable reason shown
// to the buyer during pre-checkout validation.
var (
	ErrCouponNotValid         = errors.New("coupon not valid")
	ErrCouponLimitReached     = errors.New("coupon use has reached its limit")
	ErrCouponOutOfDate        = errors.New("coupon is out of date")
	ErrCouponGroupNotEligible = errors.New("coupon is not allowed for your customer group")
	ErrCouponSignInRequired   = errors.New("coupon requires a signed-in customer")
	ErrCouponPerUserLimit     = errors.New("you have reached the use limit for this coupon")
	ErrCouponPerEmailLimit    = errors.New("this email has reached the use limit for this coupon")
)

// GroupResolver resolves a customer's user-group memberships.
type GroupResolver interface {
	GroupIDs(ctx context.Context, customerID int64) ([]int64, error)
}

// CategoryResolver resolves the categories related to a purchasable's
// promotion source.
type CategoryResolver interface {
	RelatedCategoryIDs(ctx context.Context, sourceID int64) ([]int64, error)
}

// LineItemVeto runs after a line item has structurally matched a discount and
// may deny the match. It is never called for line items that failed an
// earlier check.
type LineItemVeto func(li *order.LineItem, d *Discount) bool

// Matcher is the eligibility evaluator: pure decision logic over a discount
// and an order or line item. Capacity checks read the ledger without locking,
// so they are advisory; the atomic increment inside the ledger is the true
// enforcement point.
type Matcher struct {
	catalog    *Catalog
	ledger     usage.Ledger
	groups     GroupResolver
	categories CategoryResolver
	veto       LineItemVeto
	now        func() time.Time
}

// NewMatcher creates a Matcher with its collaborator dependencies. veto may
// be nil, in which case every structural match stands.
func NewMatcher(
	catalog *Catalog,
	ledger usage.Ledger,
	groups GroupResolver,
	categories CategoryResolver,
	veto LineItemVeto,
) *Matcher {
	return &Matcher{
		catalog:    catalog,
		ledger:     ledger,
		groups:     groups,
		categories: categories,
		veto:       veto,
		now:        time.Now,
	}
}

// MatchOrder reports whether the discount applies to the order. The predicate
// chain short-circuits on the first failure; a false result is a normal
// business outcome, the error return is reserved for collaborator failures.
func (m *Matcher) MatchOrder(ctx context.Context, o *order.Order, d *Discount) (bool, error) {
	if !d.Enabled {
		return false, nil
	}

	// Coupon gate: an empty discount code applies automatically.
	if d.HasCode() {
		if o.CouponCode == "" || !d.CodeMatches(o.CouponCode) {
			return false, nil
		}
	}

	if !d.WithinDateWindow(o.Time(m.now)) {
		return false, nil
	}

	ok, err := m.matchGroups(ctx, o, d)
	if err != nil || !ok {
		return false, err
	}

	// Usage ceilings apply only to coupon-gated discounts whose code matched.
	if d.HasCode() {
		ok, err = m.withinUsageLimits(ctx, o, d)
		if err != nil || !ok {
			return false, err
		}
	}

	// When scoped to specific purchasables or categories, at least one line
	// item must match. Order-level re-entry is suppressed to avoid recursion.
	purchasableScoped := !d.AllPurchasables && len(d.PurchasableIDs) > 0
	categoryScoped := !d.AllCategories && len(d.CategoryIDs) > 0
	if purchasableScoped || categoryScoped {
		matched := false
		for _, li := range o.LineItems {
			ok, err = m.MatchLineItem(ctx, li, d, false)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	return true, nil
}

func (m *Matcher) matchGroups(ctx context.Context, o *order.Order, d *Discount) (bool, error) {
	if d.AllGroups {
		return true, nil
	}
	// A guest can never satisfy group scoping, and an empty group set
	// intentionally matches nobody.
	if o.Customer == nil || len(d.UserGroupIDs) == 0 {
		return false, nil
	}

	groupIDs, err := m.groups.GroupIDs(ctx, o.Customer.ID)
	if err != nil {
		return false, errors.Wrapf(err, "resolve groups for customer %d", o.Customer.ID)
	}
	return len(lo.Intersect(groupIDs, d.UserGroupIDs)) > 0, nil
}

func (m *Matcher) withinUsageLimits(ctx context.Context, o *order.Order, d *Discount) (bool, error) {
	if d.TotalLimitReached() {
		return false, nil
	}

	if d.PerUserLimit > 0 {
		if o.Customer == nil {
			return false, nil
		}
		uses, err := m.ledger.UsesByCustomer(ctx, o.Customer.ID, d.ID)
		if err != nil {
			return false, errors.Wrapf(err, "customer uses for discount %d", d.ID)
		}
		if uses >= d.PerUserLimit {
			return false, nil
		}
	}

	if d.PerEmailLimit > 0 {
		if o.Email == "" {
			return false, nil
		}
		uses, err := m.ledger.UsesByEmail(ctx, o.Email, d.ID)
		if err != nil {
			return false, errors.Wrapf(err, "email uses for discount %d", d.ID)
		}
		if uses >= d.PerEmailLimit {
			return false, nil
		}
	}

	return true, nil
}

// MatchLineItem reports whether the discount applies to the line item. With
// alsoMatchOrder set, the containing order's conditions are checked first.
func (m *Matcher) MatchLineItem(ctx context.Context, li *order.LineItem, d *Discount, alsoMatchOrder bool) (bool, error) {
	if alsoMatchOrder {
		ok, err := m.MatchOrder(ctx, li.Order, d)
		if err != nil || !ok {
			return false, err
		}
	}

	if li.OnSale && d.ExcludeOnSale {
		return false, nil
	}

	if li.Purchasable == nil || !li.Purchasable.IsPromotable() {
		return false, nil
	}

	if !d.AllPurchasables && len(d.PurchasableIDs) > 0 {
		if !lo.Contains(d.PurchasableIDs, li.Purchasable.ID()) {
			return false, nil
		}
	}

	if !d.AllCategories && len(d.CategoryIDs) > 0 {
		related, err := m.categories.RelatedCategoryIDs(ctx, li.Purchasable.PromotionSourceID())
		if err != nil {
			return false, errors.Wrapf(err, "related categories for purchasable %d", li.Purchasable.ID())
		}
		if len(lo.Intersect(related, d.CategoryIDs)) == 0 {
			return false, nil
		}
	}

	// The veto hook runs only after every structural check has passed.
	if m.veto != nil && !m.veto(li, d) {
		return false, nil
	}

	return true, nil
}

// CouponAvailable validates the order's coupon code before checkout. It is
// read-only and returns nil when the coupon is usable, or one of the
// ErrCoupon* sentinels naming the first failed condition. Line-item scoping
// is deferred to full order matching.
func (m *Matcher) CouponAvailable(ctx context.Context, o *order.Order) error {
	if o.CouponCode == "" {
		return nil
	}

	snap, err := m.catalog.Snapshot(ctx)
	if err != nil {
		return err
	}

	d := snap.ByCode(o.CouponCode)
	if d == nil || !d.Enabled {
		return ErrCouponNotValid
	}

	if d.TotalLimitReached() {
		return ErrCouponLimitReached
	}

	if !d.WithinDateWindow(o.Time(m.now)) {
		return ErrCouponOutOfDate
	}

	if !d.AllGroups {
		ok, err := m.matchGroups(ctx, o, d)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCouponGroupNotEligible
		}
	}

	if d.PerUserLimit > 0 {
		if o.Customer == nil {
			return ErrCouponSignInRequired
		}
		uses, err := m.ledger.UsesByCustomer(ctx, o.Customer.ID, d.ID)
		if err != nil {
			return errors.Wrapf(err, "customer uses for discount %d", d.ID)
		}
		if uses >= d.PerUserLimit {
			return ErrCouponPerUserLimit
		}
	}

	// The order email may be unknown this early in checkout; the per-email
	// ceiling is only checkable once an address is present.
	if d.PerEmailLimit > 0 && o.Email != "" {
		uses, err := m.ledger.UsesByEmail(ctx, o.Email, d.ID)
		if err != nil {
			return errors.Wrapf(err, "email uses for discount %d", d.ID)
		}
		if uses >= d.PerEmailLimit {
			return ErrCouponPerEmailLimit
		}
	}

	return nil
}

// MatchingDiscounts walks the catalog in sort order and returns every
// discount that matches the order, stopping after the first match flagged
// StopProcessing.
func (m *Matcher) MatchingDiscounts(ctx context.Context, o *order.Order) ([]*Discount, error) {
	snap, err := m.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*Discount
	for _, d := range snap.All() {
		ok, err := m.MatchOrder(ctx, o, d)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		matched = append(matched, d)
		if d.StopProcessing {
			break
		}
	}
	return matched, nil
}
