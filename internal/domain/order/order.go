package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchasable is the capability a catalog item must expose to participate in
// promotion matching.
type Purchasable interface {
	// ID returns the purchasable's numeric identifier.
	ID() int64
	// IsPromotable reports whether promotions may apply to this item at all.
	IsPromotable() bool
	// PromotionSourceID returns the reference used to resolve the item's
	// related categories for category-scoped discounts.
	PromotionSourceID() int64
	// Price returns the unit price used for discount amount calculation.
	Price() decimal.Decimal
}

// Customer identifies a signed-in buyer. Guests have no Customer.
type Customer struct {
	ID    int64
	Email string
}

// Order is the purchase context a discount is matched against.
type Order struct {
	ID         string
	CouponCode string
	Email      string
	// Customer is nil for guest checkouts.
	Customer *Customer
	// Date is the reference timestamp for date-window checks. When nil,
	// evaluation falls back to the wall clock.
	Date      *time.Time
	LineItems []*LineItem
}

// LineItem is one purchasable entry within an order.
type LineItem struct {
	Purchasable Purchasable
	Qty         int
	OnSale      bool
	// Order points back at the containing order so a line item can be
	// matched together with its order-level conditions.
	Order *Order
}

// Time returns the order's reference timestamp, falling back to now.
func (o *Order) Time(now func() time.Time) time.Time {
	if o.Date != nil {
		return *o.Date
	}
	return now()
}

// CustomerID returns the resolved customer's ID, or 0 for guests.
func (o *Order) CustomerID() int64 {
	if o.Customer == nil {
		return 0
	}
	return o.Customer.ID
}

// Subtotal returns the sum of price * quantity across all line items.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, li := range o.LineItems {
		if li.Purchasable == nil {
			continue
		}
		qty := decimal.NewFromInt(int64(li.Qty))
		sum = sum.Add(li.Purchasable.Price().Mul(qty))
	}
	return sum
}
