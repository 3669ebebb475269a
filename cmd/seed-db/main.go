package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/auth"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
	"github.com/NPatel10/jewellery-ecommerce/internal/handler"
	"github.com/NPatel10/jewellery-ecommerce/internal/repository"
)

func main() {
	var (
		databaseURL  string
		productsFile string
		jwtSecret    string
		tokenTTL     time.Duration
	)

	_ = godotenv.Load()

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "print development tokens signed with this secret (or JEWEL_AUTH_JWT_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of printed development tokens")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("JEWEL_AUTH_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	if jwtSecret != "" {
		if err := printTokens(lg, jwtSecret, tokenTTL); err != nil {
			lg.Fatal("Issue tokens", zap.Error(err))
		}
	}

	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string) error {
	lg.Info("Connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products, err := readProducts(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}

	db := repository.NewDB(pool)
	return db.RunInTx(ctx, func(ctx context.Context) error {
		if err := seedProducts(ctx, lg, repository.NewProductRepository(db), products); err != nil {
			return errors.Wrap(err, "seed products")
		}
		if err := seedCoupons(ctx, lg, repository.NewCouponRepository(db), time.Now()); err != nil {
			return errors.Wrap(err, "seed coupons")
		}
		return nil
	})
}

// readProducts parses the catalog file. Every product is created active.
func readProducts(path string) ([]product.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	var out []product.Product
	err = jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p := product.Product{Active: true}
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "description":
				p.Description, err = d.Str()
			case "price":
				var s string
				if s, err = d.Str(); err == nil {
					p.Price, err = decimal.NewFromString(s)
				}
			case "category":
				var s string
				s, err = d.Str()
				p.Category = product.Category(s)
			case "material":
				var s string
				s, err = d.Str()
				p.Material = product.Material(s)
			case "stock":
				p.Stock, err = d.Int()
			case "active":
				p.Active, err = d.Bool()
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %s", key)
			}
			return nil
		}); err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return errors.Wrapf(err, "product %q", p.ID)
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return out, nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *repository.ProductRepository, products []product.Product) error {
	lg.Info("Upserting products", zap.Int("count", len(products)))

	for i := range products {
		p := &products[i]
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
	}
	return nil
}

func seedCoupons(ctx context.Context, lg *zap.Logger, repo *repository.CouponRepository, now time.Time) error {
	lg.Info("Seeding coupons")

	from := now.Truncate(24 * time.Hour)
	until := from.AddDate(1, 0, 0)
	limit := 1000
	coupons := []coupon.Coupon{
		{
			Code:        "WELCOME10",
			Description: "10% off your first order",
			Type:        coupon.DiscountPercentage,
			Value:       decimal.NewFromInt(10),
			MaxDiscount: decimal.NewNullDecimal(decimal.NewFromInt(200)),
			ValidFrom:   from,
			ValidUntil:  until,
			Active:      true,
		},
		{
			Code:           "RINGS50",
			Description:    "50 off rings over 500",
			Type:           coupon.DiscountFixed,
			Value:          decimal.NewFromInt(50),
			MinOrderAmount: decimal.NewFromInt(500),
			UsageLimit:     &limit,
			ApplicableCategories: []product.Category{
				product.CategoryRings,
			},
			ValidFrom:  from,
			ValidUntil: until,
			Active:     true,
		},
	}

	for i := range coupons {
		c := &coupons[i]
		if err := c.Validate(); err != nil {
			return errors.Wrapf(err, "coupon %s", c.Code)
		}
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		lg.Info("Upserted coupon", zap.String("code", c.Code), zap.String("description", c.Description))
	}
	return nil
}

// printTokens writes bearer tokens for a development admin and customer.
func printTokens(lg *zap.Logger, secret string, ttl time.Duration) error {
	authn, err := handler.NewAuthenticator([]byte(secret), os.Getenv("JEWEL_AUTH_ISSUER"))
	if err != nil {
		return err
	}
	for _, p := range []auth.Principal{
		{ID: "seed-admin", Role: auth.RoleAdmin},
		{ID: "seed-customer", Role: auth.RoleCustomer},
	} {
		token, err := authn.Sign(p, ttl)
		if err != nil {
			return errors.Wrapf(err, "sign token for %s", p.ID)
		}
		lg.Info("Development token", zap.String("user", p.ID), zap.String("role", p.Role), zap.String("token", token))
	}
	return nil
}
