package discount

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/usage"
	"github.com/xenking/promo-engine/internal/storage/memory"
)

// ledgerSource serves catalog rows with total-use counters read back from the
// ledger, the way the production store keeps total_uses on the discount row.
type ledgerSource struct {
	rows   []CatalogRow
	ledger *memory.Ledger
}

func (s *ledgerSource) LoadAll(ctx context.Context) ([]CatalogRow, error) {
	out := make([]CatalogRow, len(s.rows))
	copy(out, s.rows)
	for i := range out {
		total, err := s.ledger.TotalUses(ctx, out[i].Discount.ID)
		if err != nil {
			return nil, err
		}
		out[i].Discount.TotalUses = total
	}
	return out, nil
}

func newRecorderFixture(t *testing.T, d Discount) (*Recorder, *Matcher, *memory.Ledger, *Catalog) {
	t.Helper()

	ledger := memory.NewLedger()
	ledger.SetLimits(d.ID, memory.Limits{
		Total:    d.TotalUseLimit,
		PerUser:  d.PerUserLimit,
		PerEmail: d.PerEmailLimit,
	})

	source := &ledgerSource{rows: discountRows(d), ledger: ledger}
	catalog := NewCatalog(source, time.Minute)
	matcher := NewMatcher(catalog, ledger, &stubGroups{}, &stubCategories{}, nil)
	recorder := NewRecorder(catalog, ledger)
	return recorder, matcher, ledger, catalog
}

func completedOrder(id, couponCode string, customerID int64, email string) *order.Order {
	var c *order.Customer
	if customerID != 0 {
		c = &order.Customer{ID: customerID, Email: email}
	}
	return &order.Order{ID: id, CouponCode: couponCode, Customer: c, Email: email}
}

func TestRecorder_NoCouponIsNoop(t *testing.T) {
	ctx := context.Background()

	d := allScopes()
	d.Code = "SAVE10"
	recorder, _, ledger, _ := newRecorderFixture(t, d)

	require.NoError(t, recorder.OnOrderCompleted(ctx, completedOrder("o1", "", 7, "")))

	total, err := ledger.TotalUses(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRecorder_DeletedCouponIsNoop(t *testing.T) {
	ctx := context.Background()

	d := allScopes()
	d.Code = "SAVE10"
	recorder, _, ledger, _ := newRecorderFixture(t, d)

	// The coupon on the order no longer resolves to any discount; completion
	// must still succeed.
	require.NoError(t, recorder.OnOrderCompleted(ctx, completedOrder("o1", "GONE", 7, "")))

	total, err := ledger.TotalUses(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRecorder_RecordsAllScopes(t *testing.T) {
	ctx := context.Background()

	d := allScopes()
	d.Code = "SAVE10"
	d.PerUserLimit = 3
	d.PerEmailLimit = 3
	recorder, _, ledger, _ := newRecorderFixture(t, d)

	require.NoError(t, recorder.OnOrderCompleted(ctx, completedOrder("o1", "save10", 7, "buyer@example.com")))

	total, err := ledger.TotalUses(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), total)

	uses, err := ledger.UsesByCustomer(ctx, 7, d.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), uses)

	uses, err = ledger.UsesByEmail(ctx, "Buyer@Example.com", d.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), uses, "email counters are case-insensitive")
}

func TestRecorder_DuplicateCompletionDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()

	d := allScopes()
	d.Code = "SAVE10"
	recorder, _, ledger, _ := newRecorderFixture(t, d)

	o := completedOrder("o1", "SAVE10", 7, "buyer@example.com")
	require.NoError(t, recorder.OnOrderCompleted(ctx, o))
	require.NoError(t, recorder.OnOrderCompleted(ctx, o))

	total, err := ledger.TotalUses(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), total)
}

func TestRecorder_TotalLimitExhaustionFlipsAvailability(t *testing.T) {
	ctx := context.Background()

	d := allScopes()
	d.Code = "SAVE10"
	d.TotalUseLimit = 2
	recorder, matcher, _, _ := newRecorderFixture(t, d)

	require.NoError(t, matcher.CouponAvailable(ctx, testOrder("SAVE10", nil, "")))

	require.NoError(t, recorder.OnOrderCompleted(ctx, completedOrder("o1", "SAVE10", 0, "")))
	require.NoError(t, recorder.OnOrderCompleted(ctx, completedOrder("o2", "SAVE10", 0, "")))

	err := matcher.CouponAvailable(ctx, testOrder("SAVE10", nil, ""))
	assert.ErrorIs(t, err, ErrCouponLimitReached)
}

func TestRecorder_SurfacesLimitError(t *testing.T) {
	ctx := context.Background()

	d := allScopes()
	d.Code = "SAVE10"
	d.PerUserLimit = 1
	recorder, _, _, _ := newRecorderFixture(t, d)

	require.NoError(t, recorder.OnOrderCompleted(ctx, completedOrder("o1", "SAVE10", 7, "")))

	err := recorder.OnOrderCompleted(ctx, completedOrder("o2", "SAVE10", 7, ""))
	var limitErr *usage.LimitError
	require.True(t, errors.As(err, &limitErr), "expected a limit error, got %v", err)
	assert.Equal(t, usage.ScopeCustomer, limitErr.Scope)
	assert.Equal(t, uint32(1), limitErr.Uses)
	assert.Equal(t, uint32(1), limitErr.Limit)
}

func TestRecorder_ClearUsageHistoryRestoresAvailability(t *testing.T) {
	ctx := context.Background()

	d := allScopes()
	d.Code = "SAVE10"
	d.TotalUseLimit = 1
	d.PerUserLimit = 1
	recorder, matcher, ledger, catalog := newRecorderFixture(t, d)

	customer := &order.Customer{ID: 7}

	require.NoError(t, recorder.OnOrderCompleted(ctx, completedOrder("o1", "SAVE10", 7, "buyer@example.com")))
	assert.ErrorIs(t, matcher.CouponAvailable(ctx, testOrder("SAVE10", nil, "")), ErrCouponLimitReached)

	require.NoError(t, ledger.ClearUsageHistory(ctx, d.ID))
	catalog.Invalidate()

	total, err := ledger.TotalUses(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, total)

	uses, err := ledger.UsesByCustomer(ctx, 7, d.ID)
	require.NoError(t, err)
	assert.Zero(t, uses)

	// The reset clears the counters; the per-user ceiling itself remains and
	// still demands a signed-in customer.
	assert.NoError(t, matcher.CouponAvailable(ctx, testOrder("SAVE10", customer, "")))
	assert.ErrorIs(t, matcher.CouponAvailable(ctx, testOrder("SAVE10", nil, "")), ErrCouponSignInRequired)
}
