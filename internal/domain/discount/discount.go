// Package discount implements the promotion engine core: the discount model,
// the catalog snapshot, the eligibility matcher, and the redemption recorder.
package discount

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/order"
)

// Discount is a promotional rule, either automatic (empty Code) or gated
// behind a coupon code.
type Discount struct {
	// ID is assigned by the store; 0 means not yet persisted.
	ID   int64
	Name string
	// Code gates the discount behind a coupon. Matching is case-insensitive.
	// An empty code means the discount applies automatically.
	Code string

	Enabled bool
	// StopProcessing tells the caller to stop applying further discounts
	// once this one matches.
	StopProcessing bool
	// ExcludeOnSale rejects line items that are already on sale.
	ExcludeOnSale bool
	IgnoreSales   bool
	SortOrder     int

	// DateFrom/DateTo bound the validity window, inclusive. A nil bound is
	// unbounded on that side.
	DateFrom *time.Time
	DateTo   *time.Time

	// TotalUseLimit caps redemptions across all buyers; 0 means unlimited.
	TotalUseLimit uint32
	TotalUses     uint32
	// PerUserLimit caps redemptions per identified customer; 0 = unlimited.
	PerUserLimit uint32
	// PerEmailLimit caps redemptions per order email; 0 = unlimited.
	PerEmailLimit uint32

	// Scoping sets. Each set is only consulted when its All* flag is false.
	// A false flag with an empty set intentionally matches nothing.
	AllGroups       bool
	AllCategories   bool
	AllPurchasables bool
	UserGroupIDs    []int64
	CategoryIDs     []int64
	PurchasableIDs  []int64

	// PercentOff and AmountOff describe the price adjustment: a percentage
	// of the order subtotal plus a flat amount, clamped to the subtotal.
	PercentOff decimal.Decimal
	AmountOff  decimal.Decimal
}

// HasCode reports whether the discount is coupon-gated.
func (d *Discount) HasCode() bool {
	return d.Code != ""
}

// CodeMatches reports whether the given coupon code unlocks this discount.
// Comparison is case-insensitive.
func (d *Discount) CodeMatches(code string) bool {
	return d.Code != "" && strings.EqualFold(d.Code, code)
}

// WithinDateWindow reports whether now falls inside the discount's validity
// window. Both bounds are inclusive; a nil bound is unbounded.
func (d *Discount) WithinDateWindow(now time.Time) bool {
	if d.DateFrom != nil && now.Before(*d.DateFrom) {
		return false
	}
	if d.DateTo != nil && now.After(*d.DateTo) {
		return false
	}
	return true
}

// TotalLimitReached reports whether the discount-wide ceiling is exhausted.
func (d *Discount) TotalLimitReached() bool {
	return d.TotalUseLimit > 0 && d.TotalUses >= d.TotalUseLimit
}

var hundred = decimal.NewFromInt(100)

// Amount computes the monetary discount for the given order: PercentOff of
// the subtotal plus AmountOff, clamped to the subtotal and rounded to two
// decimal places.
func (d *Discount) Amount(o *order.Order) decimal.Decimal {
	subtotal := o.Subtotal()
	amount := subtotal.Mul(d.PercentOff).Div(hundred).Add(d.AmountOff)
	amount = decimal.Min(amount, subtotal)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2)
}

// NormalizeScope recomputes the All* flags from the ID sets so the two can
// never drift apart: an empty set with its flag already true stays "match
// everything", while a non-empty set always forces the flag false.
func (d *Discount) NormalizeScope() {
	if len(d.UserGroupIDs) > 0 {
		d.AllGroups = false
	}
	if len(d.CategoryIDs) > 0 {
		d.AllCategories = false
	}
	if len(d.PurchasableIDs) > 0 {
		d.AllPurchasables = false
	}
}
