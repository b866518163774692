package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/discount"
)

const loadDiscountsSQL = `SELECT
		d.id, d.name, d.code, d.enabled, d.stop_processing, d.exclude_on_sale,
		d.ignore_sales, d.sort_order, d.date_from, d.date_to,
		d.total_use_limit, d.total_uses, d.per_user_limit, d.per_email_limit,
		d.all_groups, d.all_categories, d.all_purchasables,
		d.percent_off, d.amount_off,
		dp.purchasable_id, dc.category_id, dg.user_group_id
	FROM discounts d
	LEFT JOIN discount_purchasables dp ON dp.discount_id = d.id
	LEFT JOIN discount_categories dc ON dc.discount_id = d.id
	LEFT JOIN discount_user_groups dg ON dg.discount_id = d.id
	ORDER BY d.sort_order, d.id`

const upsertCouponSQL = `INSERT INTO discounts
		(name, code, enabled, percent_off, amount_off, total_use_limit, updated_at)
	VALUES ($1, $2, TRUE, $3, $4, $5, NOW())
	ON CONFLICT (LOWER(code)) WHERE code <> '' DO UPDATE SET
		name = EXCLUDED.name,
		enabled = TRUE,
		percent_off = EXCLUDED.percent_off,
		amount_off = EXCLUDED.amount_off,
		total_use_limit = EXCLUDED.total_use_limit,
		updated_at = NOW()`

var _ discount.CatalogSource = (*DiscountRepository)(nil)

// DiscountRepository loads the discount catalog from PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// LoadAll fetches every discount joined against its three scoping relations.
// The join cross-product is returned as-is; the snapshot builder folds it.
func (r *DiscountRepository) LoadAll(ctx context.Context) ([]discount.CatalogRow, error) {
	rows, err := r.pool.Query(ctx, loadDiscountsSQL)
	if err != nil {
		return nil, fmt.Errorf("loading discounts: %w", err)
	}

	result, err := pgx.CollectRows(rows, scanCatalogRow)
	if err != nil {
		return nil, fmt.Errorf("loading discounts: %w", err)
	}
	return result, nil
}

// UpsertCoupon inserts or refreshes a coupon-gated discount by its code.
// Used by the bulk ingest tool; scoping relations are not touched.
func (r *DiscountRepository) UpsertCoupon(ctx context.Context, d *discount.Discount) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		d.Name, d.Code, d.PercentOff, d.AmountOff, int32(d.TotalUseLimit),
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", d.Code, err)
	}
	return nil
}

func scanCatalogRow(row pgx.CollectableRow) (discount.CatalogRow, error) {
	var (
		r             discount.CatalogRow
		totalUseLimit int32
		totalUses     int32
		perUserLimit  int32
		perEmailLimit int32
	)
	err := row.Scan(
		&r.Discount.ID, &r.Discount.Name, &r.Discount.Code, &r.Discount.Enabled,
		&r.Discount.StopProcessing, &r.Discount.ExcludeOnSale,
		&r.Discount.IgnoreSales, &r.Discount.SortOrder,
		&r.Discount.DateFrom, &r.Discount.DateTo,
		&totalUseLimit, &totalUses, &perUserLimit, &perEmailLimit,
		&r.Discount.AllGroups, &r.Discount.AllCategories, &r.Discount.AllPurchasables,
		&r.Discount.PercentOff, &r.Discount.AmountOff,
		&r.PurchasableID, &r.CategoryID, &r.UserGroupID,
	)
	r.Discount.TotalUseLimit = uint32(totalUseLimit)
	r.Discount.TotalUses = uint32(totalUses)
	r.Discount.PerUserLimit = uint32(perUserLimit)
	r.Discount.PerEmailLimit = uint32(perEmailLimit)
	return r, err
}
