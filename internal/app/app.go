package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-pricing/internal/domain/cart"
	"github.com/xenking/kart-pricing/internal/domain/catalog"
	"github.com/xenking/kart-pricing/internal/domain/discount"
	"github.com/xenking/kart-pricing/internal/event"
	"github.com/xenking/kart-pricing/internal/handler"
	"github.com/xenking/kart-pricing/internal/remote"
	"github.com/xenking/kart-pricing/internal/storage/postgres"
	"github.com/xenking/kart-pricing/pkg/health"
	"github.com/xenking/kart-pricing/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	checks := health.New(10 * time.Second)
	checks.AddReadiness("postgres", 5*time.Second, health.PingCheck(pool))
	checks.AddLiveness("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Catalog lookups are cached in redis when it is configured.
	var rdb redis.Cmdable
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		checks.AddReadiness("redis", time.Second, health.RedisCheck(client))
		rdb = client
	}

	// Price events.
	var events catalog.Publisher = event.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := event.NewPublisher(event.NewKafkaWriter(cfg.Kafka), cfg.Kafka.Topic)
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Error("Close event publisher", zap.Error(err))
			}
		}()
		checks.AddReadiness("kafka", 5*time.Second, health.KafkaCheck(cfg.Kafka.Brokers))
		events = pub
	} else {
		lg.Warn("No Kafka brokers configured, price events are discarded")
	}

	// Remote services.
	catalogClient := remote.NewCatalogClient(cfg.Catalog, cfg.Breaker,
		remote.NewExistenceCache(rdb, "pricing:article:", cfg.CatalogCacheTTL), lg)
	identity := remote.NewIdentityClient(cfg.Identity, cfg.Breaker, lg)

	// Stores and domain services.
	articles := postgres.NewArticleStore(pool)
	discounts := postgres.NewDiscountStore(pool)
	resolver := discount.NewResolver(discounts)

	h, err := handler.NewHandler(
		catalog.NewService(articles, catalogClient, events),
		discount.NewService(discounts, resolver, articles, catalogClient),
		cart.NewEngine(articles, discounts, resolver),
		m.MeterProvider().Meter("pricing"),
	)
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	r := chi.NewRouter()
	r.Get("/livez", checks.LiveHandler)
	r.Get("/readyz", checks.ReadyHandler)
	r.Handle("/metrics", promhttp.Handler())
	h.Mount(r, identity)

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimit)
	routeFinder := httpmiddleware.MakeRouteFinder(r)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(cfg.CORS),
			limiter.Middleware(),
			httpmiddleware.Instrument("pricing-api", routeFinder, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return checks.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gctx.Done()
		checks.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		checks.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
