// Command coupon-ingest imports promo codes published by partner
// campaigns. Each campaign drops a gzip file with one code per line; a code
// becomes a coupon only when enough campaigns list it.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
	"github.com/NPatel10/jewellery-ecommerce/internal/repository"
)

const batchSize = 500

// codeRule is the discount a known code grants.
type codeRule struct {
	discountType coupon.DiscountType
	value        int64
	minOrder     int64
	maxDiscount  int64
	categories   []product.Category
	description  string
}

var codeRules = map[string]codeRule{
	"BIRTHDAY": {discountType: coupon.DiscountPercentage, value: 15, maxDiscount: 300, description: "Birthday: 15% off"},
	"RINGSALE": {discountType: coupon.DiscountPercentage, value: 20, categories: []product.Category{product.CategoryRings}, description: "20% off rings"},
	"PEARLDAY": {discountType: coupon.DiscountPercentage, value: 25, categories: []product.Category{product.CategoryNecklaces}, description: "25% off necklaces"},
	"FIFTYOFF": {discountType: coupon.DiscountFixed, value: 50, minOrder: 250, description: "50 off orders over 250"},
	"WATCHES1": {discountType: coupon.DiscountFixed, value: 100, minOrder: 500, categories: []product.Category{product.CategoryWatches}, description: "100 off watches over 500"},
	"GOLDRUSH": {discountType: coupon.DiscountPercentage, value: 12, description: "12% off entire order"},
}

var defaultRule = codeRule{
	discountType: coupon.DiscountPercentage,
	value:        10,
	maxDiscount:  100,
	description:  "Promo code: 10% off",
}

type options struct {
	dataDir     string
	pattern     string
	databaseURL string
	validFor    time.Duration
	dryRun      bool
}

func main() {
	_ = godotenv.Load()

	var opt options
	s := &screener{minLen: 8, maxLen: 10, every: 10_000_000}
	flag.StringVar(&opt.dataDir, "data-dir", "data", "directory holding the campaign files")
	flag.StringVar(&opt.pattern, "pattern", "couponbase*.gz", "glob of campaign files inside data-dir")
	flag.StringVar(&opt.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.DurationVar(&opt.validFor, "valid-for", 90*24*time.Hour, "validity window of imported coupons")
	flag.BoolVar(&opt.dryRun, "dry-run", false, "screen codes without writing them")
	flag.IntVar(&s.quorum, "quorum", 2, "number of campaign files that must list a code")
	flag.UintVar(&s.capacity, "capacity", 120_000_000, "expected codes per file, sizes the bloom filters")
	flag.Float64Var(&s.fpr, "fpr", 0.001, "bloom filter false positive rate")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()
	s.lg = lg

	if opt.databaseURL == "" {
		opt.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opt.databaseURL == "" && !opt.dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, s, opt); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, s *screener, opt options) error {
	files, err := filepath.Glob(filepath.Join(opt.dataDir, opt.pattern))
	if err != nil {
		return errors.Wrap(err, "glob")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s in %s", opt.pattern, opt.dataDir)
	}
	slices.Sort(files)

	codes, err := s.Screen(ctx, files)
	if err != nil {
		return errors.Wrap(err, "screen codes")
	}
	slices.Sort(codes)
	lg.Info("Codes accepted", zap.Int("count", len(codes)), zap.Int("quorum", s.quorum))
	if len(codes) == 0 || opt.dryRun {
		return nil
	}

	pool, err := repository.NewPool(ctx, opt.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	db := repository.NewDB(pool)
	now := time.Now()
	if err := writeCoupons(ctx, lg, db, repository.NewCouponRepository(db), codes, now, now.Add(opt.validFor)); err != nil {
		return errors.Wrap(err, "write coupons")
	}
	lg.Info("Coupon ingest completed")
	return nil
}

// writeCoupons upserts all valid coupon codes in batches, one transaction
// per batch.
func writeCoupons(
	ctx context.Context,
	lg *zap.Logger,
	db *repository.DB,
	repo *repository.CouponRepository,
	codes []string,
	from, until time.Time,
) error {
	lg.Info("Writing coupons to database", zap.Int("count", len(codes)))

	for start := 0; start < len(codes); start += batchSize {
		batch := codes[start:min(start+batchSize, len(codes))]
		if err := db.RunInTx(ctx, func(ctx context.Context) error {
			for _, code := range batch {
				c := newCoupon(code, from, until)
				if err := c.Validate(); err != nil {
					return errors.Wrapf(err, "coupon %s", code)
				}
				if err := repo.Upsert(ctx, &c); err != nil {
					return errors.Wrapf(err, "upsert coupon %s", code)
				}
			}
			return nil
		}); err != nil {
			return err
		}
		lg.Info("Write progress", zap.Int("written", start+len(batch)), zap.Int("total", len(codes)))
	}

	return nil
}

// newCoupon applies the rule registered for code, or the default rule.
func newCoupon(code string, from, until time.Time) coupon.Coupon {
	rule, ok := codeRules[code]
	if !ok {
		rule = defaultRule
	}
	c := coupon.Coupon{
		Code:                 coupon.NormalizeCode(code),
		Description:          rule.description,
		Type:                 rule.discountType,
		Value:                decimal.NewFromInt(rule.value),
		MinOrderAmount:       decimal.NewFromInt(rule.minOrder),
		ApplicableCategories: rule.categories,
		ValidFrom:            from,
		ValidUntil:           until,
		Active:               true,
	}
	if rule.maxDiscount > 0 {
		c.MaxDiscount = decimal.NewNullDecimal(decimal.NewFromInt(rule.maxDiscount))
	}
	return c
}
