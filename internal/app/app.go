package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/LoyaltyGo/internal/codegen"
	"github.com/utafrali/LoyaltyGo/internal/config"
	"github.com/utafrali/LoyaltyGo/internal/event"
	handler "github.com/utafrali/LoyaltyGo/internal/handler/http"
	"github.com/utafrali/LoyaltyGo/internal/merchant"
	"github.com/utafrali/LoyaltyGo/internal/points"
	"github.com/utafrali/LoyaltyGo/internal/repository/postgres"
	"github.com/utafrali/LoyaltyGo/internal/service"
	"github.com/utafrali/LoyaltyGo/migrations"
	"github.com/utafrali/LoyaltyGo/pkg/database"
	"github.com/utafrali/LoyaltyGo/pkg/health"
	"github.com/utafrali/LoyaltyGo/pkg/httpclient"
	"github.com/utafrali/LoyaltyGo/pkg/idempotency"
	pkgkafka "github.com/utafrali/LoyaltyGo/pkg/kafka"
	"github.com/utafrali/LoyaltyGo/pkg/middleware"
	"github.com/utafrali/LoyaltyGo/pkg/tracing"
)

const (
	serviceName    = "voucher"
	serviceVersion = "0.1.0"

	startupTimeout = 10 * time.Second
	drainTimeout   = 5 * time.Second
	releaseTimeout = 3 * time.Second

	kafkaPingAttempts = 3
)

// resource is something the app opened and must release on exit.
type resource struct {
	name    string
	release func(ctx context.Context) error
}

// App holds the voucher service's long-lived components.
type App struct {
	logger         *slog.Logger
	server         *http.Server
	creditConsumer *pkgkafka.Consumer

	// released in reverse order
	resources []resource
}

// stores are the connections every component shares.
type stores struct {
	pool     *pgxpool.Pool
	redis    *redis.Client
	producer *pkgkafka.Producer
}

// NewApp connects to every dependency and builds the HTTP server and the
// credit reconciler. Whatever was opened before a failure is released.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	a := &App{logger: logger}
	if err := a.build(ctx, cfg); err != nil {
		if relErr := a.release(); relErr != nil {
			logger.Error("releasing partially started app", slog.String("error", relErr.Error()))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) track(name string, release func(ctx context.Context) error) {
	a.resources = append(a.resources, resource{name: name, release: release})
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.track("tracer", shutdownTracer)

	st, err := a.openStores(ctx, cfg)
	if err != nil {
		return err
	}

	gateway, directory := a.downstreams(cfg, st.redis)

	repo := postgres.NewVoucherRepository(st.pool)
	generator := codegen.New(repo, directory, a.logger, codegen.WithMaxAttempts(cfg.CodegenMaxAttempts))
	vouchers := service.NewVoucherService(repo, generator, gateway, event.NewProducer(st.producer, a.logger), service.Config{
		RedeemTimeout:        cfg.RedeemTimeout(),
		LockTimeout:          cfg.LockTimeout(),
		MaxCodesPerRequest:   cfg.MaxCodesPerRequest,
		GiftCardValidityDays: cfg.GiftCardValidityDays,
	}, a.logger)

	a.creditConsumer = a.newCreditConsumer(cfg, gateway, st.redis)

	checks := health.NewHandler()
	checks.RegisterCritical("postgres", st.pool.Ping)
	checks.RegisterCritical("redis", func(ctx context.Context) error { return st.redis.Ping(ctx).Err() })
	checks.RegisterNonCritical("kafka", st.producer.Ping)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	cors.Environment = cfg.Environment

	a.server = &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler.NewRouter(vouchers, checks, handler.RouterConfig{
			CORS:       cors,
			PprofCIDRs: cfg.PprofAllowedCIDRs,
		}, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return nil
}

// openStores connects postgres (running migrations), redis and the kafka
// producer. Kafka being down only degrades the service.
func (a *App) openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	var st stores

	pool, err := database.NewPostgresPoolWithLogger(ctx, &database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
		ApplicationName: serviceName,
	}, a.logger)
	if err != nil {
		return st, fmt.Errorf("connect to postgres: %w", err)
	}
	a.track("postgres", func(context.Context) error { pool.Close(); return nil })
	st.pool = pool
	database.RegisterPoolMetrics(pool, serviceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return st, fmt.Errorf("run migrations: %w", err)
	}
	if cfg.SlowQueryMS > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryMS)*time.Millisecond, a.logger)
	}
	a.logger.Info("postgres ready",
		slog.String("host", cfg.PostgresHost),
		slog.String("database", cfg.PostgresDB),
	)

	st.redis, err = database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return st, fmt.Errorf("connect to redis: %w", err)
	}
	a.track("redis", func(context.Context) error { return st.redis.Close() })
	a.logger.Info("redis ready", slog.String("host", cfg.RedisHost), slog.Int("port", cfg.RedisPort))

	st.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), a.logger)
	a.track("kafka producer", func(context.Context) error { return st.producer.Close() })
	if err := a.pingKafka(ctx, st.producer); err != nil {
		a.logger.Warn("kafka unreachable, events will fail until it recovers",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("error", err.Error()),
		)
	}
	return st, nil
}

// downstreams builds the points ledger gateway and the merchant directory.
// They share one retrying client and trip separate breakers.
func (a *App) downstreams(cfg *config.Config, rdb *redis.Client) (points.Gateway, merchant.Directory) {
	base := httpclient.New(httpclient.Config{
		Timeout:         cfg.HTTPClientTimeout(),
		MaxRetries:      2,
		RetryWaitMin:    100 * time.Millisecond,
		RetryWaitMax:    time.Second,
		MaxConnsPerHost: 50,
	})
	breaker := func(downstream string) *httpclient.CircuitBreakerClient {
		bc := httpclient.DefaultBreakerConfig(downstream)
		bc.FailureRatio = cfg.CircuitBreakerRatio
		bc.OpenFor = time.Duration(cfg.CircuitBreakerTimeoutS) * time.Second
		return httpclient.NewCircuitBreakerClient(base, bc, a.logger)
	}

	gateway := points.NewIdempotentGateway(
		points.NewHTTPGateway(breaker("points-ledger"), cfg.PointsLedgerURL),
		idempotency.NewRedisStore(rdb, "voucher:credit:", cfg.CreditIdempotencyTTL()),
		a.logger,
	)
	directory := merchant.NewCachedDirectory(
		merchant.NewHTTPDirectory(breaker("merchant-directory"), cfg.MerchantDirectoryURL),
		merchant.NewRedisCache(rdb, cfg.MerchantCacheTTL()),
		a.logger,
	)
	return gateway, directory
}

func (a *App) newCreditConsumer(cfg *config.Config, gateway points.Gateway, rdb *redis.Client) *pkgkafka.Consumer {
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, a.logger)
	a.track("dlq producer", func(context.Context) error { return dlq.Close() })

	reconciler := event.NewCreditReconciler(gateway, a.logger)
	seen := idempotency.NewRedisStore(rdb, "voucher:events:", cfg.CreditIdempotencyTTL())
	c := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:      cfg.KafkaBrokers,
		GroupID:      cfg.ConsumerGroup + "-credit-pending",
		Topic:        event.TopicCreditPending,
		MinBytes:     1,
		MaxBytes:     10e6,
		MaxRetries:   5,
		RetryBackoff: 500 * time.Millisecond,
		DLQ:          dlq,
	}, reconciler.Handler(seen), a.logger)
	a.track("credit consumer", func(context.Context) error { return c.Close() })
	return c
}

// pingKafka tries the brokers a few times, doubling the wait from one second.
func (a *App) pingKafka(ctx context.Context, producer *pkgkafka.Producer) error {
	wait := time.Second
	for attempt := 1; ; attempt++ {
		err := producer.Ping(ctx)
		if err == nil || attempt == kafkaPingAttempts {
			return err
		}
		a.logger.Warn("kafka ping failed",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// Run serves HTTP and reconciles pending credits until ctx is canceled or
// either of them fails, then drains the server and releases everything.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.creditConsumer.Start(gctx); err != nil {
			return fmt.Errorf("credit pending consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("draining http server")
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return a.server.Shutdown(drainCtx)
	})

	runErr := g.Wait()
	return errors.Join(runErr, a.release())
}

// release closes resources newest first.
func (a *App) release() error {
	var errs []error
	for i := len(a.resources) - 1; i >= 0; i-- {
		r := a.resources[i]
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := r.release(ctx); err != nil {
			a.logger.Error("release failed", slog.String("resource", r.name), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
		}
		cancel()
	}
	a.resources = nil
	a.logger.Info("all resources released")
	return errors.Join(errs...)
}
