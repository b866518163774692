package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/usage"
)

const (
	totalUsesSQL = `SELECT total_uses FROM discounts WHERE id = $1`

	usesByCustomerSQL = `SELECT uses FROM customer_discount_uses
		WHERE customer_id = $1 AND discount_id = $2`

	usesByEmailSQL = `SELECT uses FROM email_discount_uses
		WHERE email = $1 AND discount_id = $2`

	insertRedemptionSQL = `INSERT INTO discount_redemptions
		(order_id, discount_id, customer_id, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING`

	// FOR UPDATE serializes concurrent redemptions of the same discount for
	// the rest of the transaction.
	lockDiscountSQL = `SELECT total_use_limit, total_uses, per_user_limit, per_email_limit
		FROM discounts WHERE id = $1 FOR UPDATE`

	incrementTotalSQL = `UPDATE discounts SET total_uses = total_uses + 1, updated_at = NOW()
		WHERE id = $1`

	upsertCustomerUseSQL = `INSERT INTO customer_discount_uses (customer_id, discount_id, uses)
		VALUES ($1, $2, 1)
		ON CONFLICT (customer_id, discount_id) DO UPDATE
		SET uses = customer_discount_uses.uses + 1
		WHERE customer_discount_uses.uses < $3
		RETURNING uses`

	upsertEmailUseSQL = `INSERT INTO email_discount_uses (email, discount_id, uses)
		VALUES ($1, $2, 1)
		ON CONFLICT (email, discount_id) DO UPDATE
		SET uses = email_discount_uses.uses + 1
		WHERE email_discount_uses.uses < $3
		RETURNING uses`

	clearCustomerUsesSQL = `DELETE FROM customer_discount_uses WHERE discount_id = $1`
	clearEmailUsesSQL    = `DELETE FROM email_discount_uses WHERE discount_id = $1`
	resetTotalUsesSQL    = `UPDATE discounts SET total_uses = 0, updated_at = NOW() WHERE id = $1`
)

// errDiscountGone aborts the redemption transaction without surfacing an
// error: a discount deleted between match and completion is a no-op.
var errDiscountGone = errors.New("discount row missing")

var _ usage.Ledger = (*UsageLedger)(nil)

// UsageLedger implements usage.Ledger on PostgreSQL. The enforcement point is
// the conditional increment inside RecordRedemption's transaction, not any
// advisory read a caller performed earlier.
type UsageLedger struct {
	pool *pgxpool.Pool
}

// NewUsageLedger returns a UsageLedger that uses the given pool.
func NewUsageLedger(pool *pgxpool.Pool) *UsageLedger {
	return &UsageLedger{pool: pool}
}

// TotalUses returns the discount-wide redemption count, 0 for an unknown
// discount.
func (l *UsageLedger) TotalUses(ctx context.Context, discountID int64) (uint32, error) {
	return l.scanUses(ctx, totalUsesSQL, discountID)
}

// UsesByCustomer returns the per-customer redemption count, 0 when no record
// exists yet.
func (l *UsageLedger) UsesByCustomer(ctx context.Context, customerID, discountID int64) (uint32, error) {
	return l.scanUses(ctx, usesByCustomerSQL, customerID, discountID)
}

// UsesByEmail returns the per-email redemption count. Emails are stored and
// compared lowercased.
func (l *UsageLedger) UsesByEmail(ctx context.Context, email string, discountID int64) (uint32, error) {
	return l.scanUses(ctx, usesByEmailSQL, strings.ToLower(email), discountID)
}

func (l *UsageLedger) scanUses(ctx context.Context, sql string, args ...any) (uint32, error) {
	var uses int32
	err := l.pool.QueryRow(ctx, sql, args...).Scan(&uses)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read usage counter")
	}
	return uint32(uses), nil
}

// RecordRedemption performs the check-and-increment for every applicable
// counter in one transaction. The discount row lock makes two orders
// completing simultaneously for the same discount serialize here, so a
// ceiling of N can never be exceeded. A duplicate order ID commits without
// touching any counter.
func (l *UsageLedger) RecordRedemption(ctx context.Context, p usage.RedemptionParams) error {
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		// Lock the discount row before touching the redemption marker: the
		// marker's foreign key would otherwise turn a deleted discount into a
		// constraint violation instead of the silent no-op order completion
		// requires.
		var totalLimit, totalUses, perUserLimit, perEmailLimit int32
		err := tx.QueryRow(ctx, lockDiscountSQL, p.DiscountID).
			Scan(&totalLimit, &totalUses, &perUserLimit, &perEmailLimit)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errDiscountGone
			}
			return errors.Wrap(err, "lock discount")
		}

		tag, err := tx.Exec(ctx, insertRedemptionSQL,
			p.OrderID, p.DiscountID, p.CustomerID, strings.ToLower(p.Email))
		if err != nil {
			return errors.Wrap(err, "insert redemption")
		}
		if tag.RowsAffected() == 0 {
			// Already recorded for this order.
			return nil
		}

		if totalLimit > 0 && totalUses >= totalLimit {
			return &usage.LimitError{
				DiscountID: p.DiscountID,
				Scope:      usage.ScopeTotal,
				Uses:       uint32(totalUses),
				Limit:      uint32(totalLimit),
			}
		}
		if _, err = tx.Exec(ctx, incrementTotalSQL, p.DiscountID); err != nil {
			return errors.Wrap(err, "increment total uses")
		}

		if perUserLimit > 0 && p.CustomerID != 0 {
			err = l.upsertScopedUse(ctx, tx, upsertCustomerUseSQL,
				p.CustomerID, p.DiscountID, perUserLimit, usage.ScopeCustomer)
			if err != nil {
				return err
			}
		}

		if perEmailLimit > 0 && p.Email != "" {
			err = l.upsertScopedUse(ctx, tx, upsertEmailUseSQL,
				strings.ToLower(p.Email), p.DiscountID, perEmailLimit, usage.ScopeEmail)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil && !errors.Is(err, errDiscountGone) {
		return err
	}
	return nil
}

// upsertScopedUse inserts or conditionally increments one scoped counter. The
// upsert's WHERE clause refuses the increment at the ceiling, which surfaces
// as pgx.ErrNoRows on the RETURNING scan.
func (l *UsageLedger) upsertScopedUse(
	ctx context.Context,
	tx pgx.Tx,
	sql string,
	scopeKey any,
	discountID int64,
	limit int32,
	scope usage.LimitScope,
) error {
	var uses int32
	err := tx.QueryRow(ctx, sql, scopeKey, discountID, limit).Scan(&uses)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(err, "upsert %s uses", scope)
	}

	return &usage.LimitError{
		DiscountID: discountID,
		Scope:      scope,
		Uses:       uint32(limit),
		Limit:      uint32(limit),
	}
}

// ClearUsageHistory deletes all scoped usage records for the discount and
// zeroes its total counter. Redemption markers are kept so completed orders
// stay deduplicated across the reset.
func (l *UsageLedger) ClearUsageHistory(ctx context.Context, discountID int64) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, clearCustomerUsesSQL, discountID); err != nil {
			return errors.Wrap(err, "clear customer uses")
		}
		if _, err := tx.Exec(ctx, clearEmailUsesSQL, discountID); err != nil {
			return errors.Wrap(err, "clear email uses")
		}
		if _, err := tx.Exec(ctx, resetTotalUsesSQL, discountID); err != nil {
			return errors.Wrap(err, "reset total uses")
		}
		return nil
	})
}
