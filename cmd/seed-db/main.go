// Command seed-db populates the database with a small demo catalog:
// a handful of discounts with scoping relations, customers with group
// memberships, and purchasable category relations. Intended for local
// development and integration tests.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/storage/postgres"
)

const seedSQL = `
INSERT INTO discounts
	(id, name, code, enabled, sort_order, total_use_limit, per_user_limit, per_email_limit,
	 all_groups, all_categories, all_purchasables, percent_off, amount_off)
VALUES
	(1, 'Storewide 5% off', '', TRUE, 1, 0, 0, 0, TRUE, TRUE, TRUE, 5, 0),
	(2, 'Welcome coupon', 'WELCOME10', TRUE, 2, 0, 1, 1, TRUE, TRUE, TRUE, 10, 0),
	(3, 'Limited launch deal', 'LAUNCH', TRUE, 3, 2, 0, 0, TRUE, TRUE, TRUE, 0, 15),
	(4, 'VIP group deal', 'VIPONLY', TRUE, 4, 0, 0, 0, FALSE, TRUE, TRUE, 20, 0),
	(5, 'Coffee gear only', '', TRUE, 5, 0, 0, 0, TRUE, TRUE, FALSE, 0, 5),
	(6, 'Fleeting deal', 'FLEETING', TRUE, 6, 0, 0, 0, TRUE, TRUE, TRUE, 5, 0)
ON CONFLICT (id) DO NOTHING;

SELECT setval('discounts_id_seq', (SELECT MAX(id) FROM discounts));

INSERT INTO discount_user_groups (discount_id, user_group_id)
VALUES (4, 100)
ON CONFLICT DO NOTHING;

INSERT INTO discount_purchasables (discount_id, purchasable_id)
VALUES (5, 7), (5, 8)
ON CONFLICT DO NOTHING;

INSERT INTO customer_groups (customer_id, group_id)
VALUES (1, 100), (2, 200)
ON CONFLICT DO NOTHING;

INSERT INTO purchasable_categories (source_id, category_id)
VALUES (7, 300), (8, 300), (9, 400)
ON CONFLICT DO NOTHING;
`

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed")
}

func run(ctx context.Context, databaseURL string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "migrate")
	}

	return seed(ctx, pool)
}

func seed(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, seedSQL); err != nil {
		return errors.Wrap(err, "insert seed data")
	}
	return nil
}
