package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/discount"
)

const (
	customerGroupsSQL = `SELECT group_id FROM customer_groups WHERE customer_id = $1`

	relatedCategoriesSQL = `SELECT category_id FROM purchasable_categories WHERE source_id = $1`
)

var (
	_ discount.GroupResolver    = (*RelationResolver)(nil)
	_ discount.CategoryResolver = (*RelationResolver)(nil)
)

// RelationResolver answers the evaluator's membership lookups: a customer's
// user groups and a purchasable's related categories.
type RelationResolver struct {
	pool *pgxpool.Pool
}

// NewRelationResolver returns a RelationResolver that uses the given pool.
func NewRelationResolver(pool *pgxpool.Pool) *RelationResolver {
	return &RelationResolver{pool: pool}
}

// GroupIDs returns the user groups the customer belongs to.
func (r *RelationResolver) GroupIDs(ctx context.Context, customerID int64) ([]int64, error) {
	ids, err := r.collectIDs(ctx, customerGroupsSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("resolving groups for customer %d: %w", customerID, err)
	}
	return ids, nil
}

// RelatedCategoryIDs returns the categories related to the purchasable's
// promotion source.
func (r *RelationResolver) RelatedCategoryIDs(ctx context.Context, sourceID int64) ([]int64, error) {
	ids, err := r.collectIDs(ctx, relatedCategoriesSQL, sourceID)
	if err != nil {
		return nil, fmt.Errorf("resolving categories for source %d: %w", sourceID, err)
	}
	return ids, nil
}

func (r *RelationResolver) collectIDs(ctx context.Context, sql string, arg any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
