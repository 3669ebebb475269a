// Package app wires the API server together.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/event"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/inventory"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/order"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
	"github.com/NPatel10/jewellery-ecommerce/internal/events"
	"github.com/NPatel10/jewellery-ecommerce/internal/gateway"
	"github.com/NPatel10/jewellery-ecommerce/internal/handler"
	"github.com/NPatel10/jewellery-ecommerce/internal/repository"
	"github.com/NPatel10/jewellery-ecommerce/internal/worker"
	"github.com/NPatel10/jewellery-ecommerce/pkg/health"
	"github.com/NPatel10/jewellery-ecommerce/pkg/httpmiddleware"
	"github.com/NPatel10/jewellery-ecommerce/pkg/idempotency"
)

const serviceName = "jewellery-api"

// Run creates all dependencies, starts the HTTP server and the settlement
// worker, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	ctx = zctx.Base(ctx, lg)
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	db := repository.NewDB(pool)

	// Repositories.
	productRepo := repository.NewProductRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	publisher, err := newPublisher(lg, cfg.Kafka)
	if err != nil {
		return err
	}
	defer func() {
		if c, ok := publisher.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		}
	}()

	gateways, err := newGateways(cfg.Gateway)
	if err != nil {
		return errors.Wrap(err, "create gateways")
	}
	lg.Info("Payment gateways", zap.Strings("names", gateways.Names()))

	// Domain services.
	tracer := m.TracerProvider().Tracer(serviceName)
	meter := m.MeterProvider().Meter(serviceName)
	couponValidator := coupon.NewRepoValidator(couponRepo)
	orderService, err := order.NewService(order.Deps{
		UnitOfWork: db,
		Orders:     orderRepo,
		Inventory:  inventory.NewReserver(productRepo),
		Coupons:    couponValidator,
		Events:     publisher,
		NewID:      uuid.NewString,
		Tracer:     tracer,
		Meter:      meter,
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	paymentService, err := payment.NewService(payment.Deps{
		UnitOfWork: db,
		Payments:   paymentRepo,
		Orders:     orderRepo,
		Gateways:   gateways,
		Events:     publisher,
		NewID:      uuid.NewString,
		Tracer:     tracer,
		Meter:      meter,
	})
	if err != nil {
		return errors.Wrap(err, "create payment service")
	}

	idem, redisClient, err := newIdempotencyStore(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", db))
	if redisClient != nil {
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", redisPinger{redisClient}))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	authn, err := handler.NewAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return errors.Wrap(err, "create authenticator")
	}
	h, err := handler.NewHandler(handler.Deps{
		Products:       productRepo,
		Orders:         orderService,
		Payments:       paymentService,
		Coupons:        coupon.NewManager(couponRepo),
		Validator:      couponValidator,
		Auth:           authn,
		Idempotency:    idem,
		IdempotencyTTL: cfg.Idempotency.TTL,
	})
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	// Replicas sharing a redis share rate limit counters.
	var limiter httpmiddleware.Limiter
	memLimiter := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	if redisClient != nil {
		limiter = httpmiddleware.NewRedisLimiter(redisClient, cfg.RateLimit.Max, cfg.RateLimit.Window, "jewellery:ratelimit:")
	} else {
		limiter = memLimiter
	}

	// Router middlewares are installed with Use so route patterns are known
	// to the telemetry and logging middlewares after routing.
	routeFinder := httpmiddleware.RouteFinder(httpmiddleware.ChiRoute)
	router := chi.NewRouter()
	router.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Request-ID"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(limiter, httpmiddleware.ClientIP),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument(serviceName, routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Register(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	if cfg.Settlement.Enabled {
		settlement := worker.NewSettlement(paymentService, cfg.Settlement.Interval, cfg.Settlement.MinAge)
		g.Go(func() error { return settlement.Run(gctx) })
	}
	if redisClient == nil {
		g.Go(func() error { return memLimiter.Run(gctx) })
	}
	if mem, ok := idem.(*idempotency.MemoryStore); ok {
		g.Go(func() error { return sweepIdempotency(gctx, mem) })
	}
	return g.Wait()
}

func newPublisher(lg *zap.Logger, cfg KafkaConfig) (event.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		lg.Info("Kafka brokers not configured, domain events are dropped")
		return event.Nop{}, nil
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	lg.Info("Publishing domain events",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return events.NewKafkaPublisher(cfg.Brokers, cfg.Topic), nil
}

func newGateways(cfg GatewayConfig) (*gateway.Manager, error) {
	gws := []payment.Gateway{gateway.Instant{}}
	for _, name := range cfg.Async {
		if name = strings.TrimSpace(name); name != "" {
			gws = append(gws, gateway.NewDeferred(name, cfg.SettleAfter))
		}
	}
	return gateway.NewManager(gws)
}

func newIdempotencyStore(ctx context.Context, cfg RedisConfig) (idempotency.Store, *redis.Client, error) {
	if cfg.Addr == "" {
		zctx.From(ctx).Info("Redis not configured, idempotency records kept in memory")
		return idempotency.NewMemoryStore(), nil, nil
	}

	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if strings.Contains(cfg.Addr, "://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse redis url")
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "ping redis")
	}
	return idempotency.NewRedisStore(client), client, nil
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// sweepIdempotency drops expired in-memory replay records. Redis expires
// keys on its own.
func sweepIdempotency(ctx context.Context, store *idempotency.MemoryStore) error {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := store.CleanupExpired(ctx, now, 1000)
			if err != nil {
				zctx.From(ctx).Warn("Idempotency sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zctx.From(ctx).Debug("Idempotency records expired", zap.Int("count", n))
			}
		}
	}
}
