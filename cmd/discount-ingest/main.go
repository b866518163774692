// Command discount-ingest bulk-imports coupon codes into the discounts table.
//
// Input is one or more gzip-compressed files with one candidate code per
// line. A code is accepted only when it appears in at least two input files;
// the cross-check runs in two passes (per-file bloom filters, then a candidate
// scan) so the files never have to fit in memory.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

const (
	bloomCapacity = 100_000_000
	bloomFPR      = 0.001
	minCodeLen    = 8
	maxCodeLen    = 10
)

// codeRule describes the discount created for a recognized coupon code.
// Unknown codes fall back to defaultRule.
type codeRule struct {
	name          string
	percentOff    string
	amountOff     string
	totalUseLimit uint32
}

var codeRules = map[string]codeRule{
	"HALFOFFX": {name: "50% off order", percentOff: "50"},
	"TENNERXX": {name: "$10 off order", amountOff: "10"},
	"LAUNCHWK": {name: "Launch week: 25% off", percentOff: "25", totalUseLimit: 1000},
}

var defaultRule = codeRule{name: "Promo code: 10% off", percentOff: "10"}

func main() {
	var (
		databaseURL string
		files       stringList
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Var(&files, "file", "gzipped code file (repeatable, at least two)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if len(files) < 2 {
		slog.Error("at least two --file inputs are required for cross-validation")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files); err != nil {
		slog.Error("discount ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("discount ingest completed")
}

type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func run(ctx context.Context, databaseURL string, files []string) error {
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			err := streamCodes(gctx, path, func(code string) {
				filter.AddString(code)
			})
			if err != nil {
				return errors.Wrapf(err, "filter for %s", path)
			}
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("pass 2: cross-checking candidates")

	codes, err := crossCheck(ctx, files, filters)
	if err != nil {
		return err
	}

	slog.Info("valid codes found", slog.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return writeDiscounts(ctx, postgres.NewDiscountRepository(pool), codes)
}

// crossCheck re-streams each file and keeps codes found in another file's
// bloom filter. Each code's presence is tracked as a per-file bitmask so the
// final cut can require two or more distinct files.
func crossCheck(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]map[string]uint, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)

			err := streamCodes(gctx, path, func(code string) {
				for j, f := range filters {
					if j == i {
						continue
					}
					if f.TestString(code) {
						candidates[code] |= fileBit
						break
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, candidates := range results {
		for code, mask := range candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			valid = append(valid, code)
		}
	}
	return valid, nil
}

// streamCodes opens a gzip-compressed file and calls fn for each line that
// looks like a coupon code.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := scanner.Text()
		if len(code) >= minCodeLen && len(code) <= maxCodeLen {
			fn(code)
		}
	}
	return errors.Wrapf(scanner.Err(), "scan %s", path)
}

func writeDiscounts(ctx context.Context, repo *postgres.DiscountRepository, codes []string) error {
	slog.Info("writing discounts", slog.Int("count", len(codes)))

	for i, code := range codes {
		rule, ok := codeRules[code]
		if !ok {
			rule = defaultRule
		}

		d := &discount.Discount{
			Name:          rule.name,
			Code:          code,
			Enabled:       true,
			TotalUseLimit: rule.totalUseLimit,
		}
		if rule.percentOff != "" {
			v, err := decimal.NewFromString(rule.percentOff)
			if err != nil {
				return errors.Wrapf(err, "percent for code %s", code)
			}
			d.PercentOff = v
		}
		if rule.amountOff != "" {
			v, err := decimal.NewFromString(rule.amountOff)
			if err != nil {
				return errors.Wrapf(err, "amount for code %s", code)
			}
			d.AmountOff = v
		}

		if err := repo.UpsertCoupon(ctx, d); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", code)
		}

		if (i+1)%1000 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}
	return nil
}
