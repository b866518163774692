// Package usage defines the redemption ledger: the durable counters that
// enforce a discount's total, per-customer, and per-email usage ceilings.
package usage

import (
	"context"
	"fmt"
)

// LimitScope names which counter rejected a redemption.
type LimitScope string

const (
	// ScopeTotal is the discount-wide redemption counter.
	ScopeTotal LimitScope = "total"
	// ScopeCustomer is the per-(customer, discount) counter.
	ScopeCustomer LimitScope = "customer"
	// ScopeEmail is the per-(email, discount) counter.
	ScopeEmail LimitScope = "email"
)

// LimitError is returned by RecordRedemption when the atomic increment would
// push a counter past its configured ceiling. It carries enough information
// for the order-completion flow to decide whether to honor or reject the
// discount retroactively.
type LimitError struct {
	DiscountID int64
	Scope      LimitScope
	Uses       uint32
	Limit      uint32
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("discount %d %s use limit reached (%d of %d)",
		e.DiscountID, e.Scope, e.Uses, e.Limit)
}

// RedemptionParams describes one coupon redemption by a completed order.
type RedemptionParams struct {
	DiscountID int64
	// OrderID keys the redemption for idempotency: recording the same order
	// twice is a no-op, never a double count.
	OrderID string
	// CustomerID is 0 for guest checkouts.
	CustomerID int64
	// Email is empty when the order carries no known address.
	Email string
}

// Ledger tracks how many times each discount has been redeemed, per scope.
//
// The read accessors are advisory snapshots: no lock is held between a read
// and a later RecordRedemption, so the atomic increment inside
// RecordRedemption is the true enforcement point.
type Ledger interface {
	TotalUses(ctx context.Context, discountID int64) (uint32, error)
	UsesByCustomer(ctx context.Context, customerID, discountID int64) (uint32, error)
	UsesByEmail(ctx context.Context, email string, discountID int64) (uint32, error)

	// RecordRedemption increments the total counter, plus the per-customer
	// and per-email counters when their limit is configured and the scope
	// identifier is present, all in one atomic unit of work. It returns a
	// *LimitError when any increment would exceed its ceiling.
	RecordRedemption(ctx context.Context, p RedemptionParams) error

	// ClearUsageHistory removes every per-customer and per-email record for
	// the discount and resets its total counter to zero.
	ClearUsageHistory(ctx context.Context, discountID int64) error
}
