package discount

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/usage"
)

// Recorder durably records coupon redemptions when orders complete. It is
// driven by the order-lifecycle state machine and must be invoked on the
// completion transition; the ledger's order-keyed idempotency guard makes a
// duplicate invocation harmless.
type Recorder struct {
	catalog *Catalog
	ledger  usage.Ledger
}

// NewRecorder creates a Recorder over the given catalog and ledger.
func NewRecorder(catalog *Catalog, ledger usage.Ledger) *Recorder {
	return &Recorder{catalog: catalog, ledger: ledger}
}

// OnOrderCompleted records the redemption of the order's coupon, if any.
// A coupon deleted after the order was placed is a logged no-op: order
// completion must never fail because of it. A *usage.LimitError propagates so
// the caller can decide whether to honor the discount retroactively.
func (r *Recorder) OnOrderCompleted(ctx context.Context, o *order.Order) error {
	if o.CouponCode == "" {
		return nil
	}

	snap, err := r.catalog.Snapshot(ctx)
	if err != nil {
		return err
	}

	d := snap.ByCode(o.CouponCode)
	if d == nil {
		zctx.From(ctx).Info("coupon gone before order completion, skipping redemption",
			zap.String("order_id", o.ID),
			zap.String("coupon_code", o.CouponCode),
		)
		return nil
	}

	err = r.ledger.RecordRedemption(ctx, usage.RedemptionParams{
		DiscountID: d.ID,
		OrderID:    o.ID,
		CustomerID: o.CustomerID(),
		Email:      o.Email,
	})
	if err != nil {
		return errors.Wrapf(err, "record redemption for order %s", o.ID)
	}

	// Subsequent matches must see the new counters.
	r.catalog.Invalidate()
	return nil
}
