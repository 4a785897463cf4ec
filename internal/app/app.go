package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/event"
	handler "github.com/utafrali/storefront/internal/handler/http"
	"github.com/utafrali/storefront/internal/notify"
	"github.com/utafrali/storefront/internal/remote"
	redisrepo "github.com/utafrali/storefront/internal/repository/redis"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/internal/store"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/tracing"
)

// App wires together all dependencies and runs the storefront edge service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	sessions       *session.Registry[*handler.Session]
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	traceCfg := tracing.DefaultConfig("storefront")
	traceCfg.Environment = cfg.Environment
	traceCfg.OTLPEndpoint = cfg.OTELEndpoint
	traceCfg.SampleRate = cfg.OTELSampleRate
	traceCfg.Enabled = cfg.OTELEnabled
	tracerShutdown, err := tracing.InitTracer(ctx, traceCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	reg := prometheus.NewRegistry()
	healthHandler := health.NewHandler()

	// Initialize the Redis snapshot store.
	var (
		rdb       *redis.Client
		snapshots store.SnapshotRepository
	)
	if cfg.SnapshotEnabled {
		redisCfg := database.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPass
		redisCfg.DB = cfg.RedisDB
		redisCfg.SlowCommandThreshold = time.Duration(cfg.RedisSlowCmdMs) * time.Millisecond

		rdb, err = database.NewRedisClient(ctx, redisCfg, logger)
		if err != nil {
			_ = tracerShutdown(context.Background())
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
		if err := database.RegisterPoolMetrics(reg, rdb, "storefront"); err != nil {
			logger.Warn("failed to register redis pool metrics", slog.String("error", err.Error()))
		}
		snapshots = redisrepo.NewSnapshotRepository(rdb, cfg.SnapshotTTLDuration())
		healthHandler.RegisterOptional("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// Initialize the Kafka producer for cart analytics.
	var (
		producer *pkgkafka.Producer
		events   event.Publisher = event.Nop{}
	)
	if cfg.AnalyticsEnabled {
		kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
		kafkaCfg.Registerer = reg
		producer = pkgkafka.NewProducer(kafkaCfg, logger)
		events = event.NewProducer(producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		healthHandler.RegisterOptional("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	// Create HTTP client with circuit breaker for the commerce API.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.CartOperationTimeout()
	httpCfg.MaxRetries = cfg.HTTPMaxRetries
	httpCfg.RetryWaitMin = 200 * time.Millisecond
	httpCfg.RetryWaitMax = 2 * time.Second
	httpCfg.RateLimit = cfg.HTTPRateLimitRPS
	httpCfg.RateBurst = cfg.HTTPRateLimitBurst
	baseClient := httpclient.New(httpCfg)

	cbCfg := httpclient.DefaultCircuitBreakerConfig("commerce-api")
	cbCfg.MaxRequests = cfg.CBMaxRequests
	cbCfg.Interval = time.Duration(cfg.CBInterval) * time.Second
	cbCfg.Timeout = time.Duration(cfg.CBTimeout) * time.Second
	cbCfg.FailureRatio = cfg.CBFailureRatio
	cbCfg.MinRequests = cfg.CBMinRequests
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, cbCfg, logger)
	logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
		slog.Int("timeout_seconds", cfg.CBTimeout),
		slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
	)

	// Build the dependency graph.
	apiClient := remote.NewClient(cbClient, cfg.APIURL(), nil, logger)
	catalog := remote.NewCatalogAPI(apiClient)

	deps := sessionDeps{
		client:        apiClient,
		catalog:       catalog,
		snapshots:     snapshots,
		events:        events,
		metrics:       store.NewMetrics(reg),
		logger:        logger,
		timeout:       cfg.CartOperationTimeout(),
		quickAddReset: cfg.QuickAddReset(),
		toastInfo:     cfg.ToastInfoDuration(),
		toastError:    cfg.ToastErrorDuration(),
	}
	sessions := session.NewRegistry[*handler.Session](cfg.SessionIdleTTL(), deps.build)

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		Resolver: func(sessionID, token string) (*handler.Session, error) {
			_, sess, err := sessions.Get(sessionID, token)
			return sess, err
		},
		Catalog:  catalog,
		Health:   healthHandler,
		Metrics:  middleware.NewHTTPMetrics(reg),
		Gatherer: prometheus.Gatherers{reg, prometheus.DefaultGatherer},
		Session: middleware.SessionConfig{
			CookieName: cfg.SessionCookieName,
			MaxAge:     cfg.SnapshotTTLDuration(),
			Secure:     cfg.CookieSecure,
		},
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowCredentials: true,
		},
		LoginPath: cfg.LoginPath,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		rdb:            rdb,
		producer:       producer,
		sessions:       sessions,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// sessionDeps holds what every browser session shares.
type sessionDeps struct {
	client        *remote.Client
	catalog       store.ProductLookup
	snapshots     store.SnapshotRepository
	events        event.Publisher
	metrics       *store.Metrics
	logger        *slog.Logger
	timeout       time.Duration
	quickAddReset time.Duration
	toastInfo     time.Duration
	toastError    time.Duration
}

// build creates the cart store and its companions for one browser session.
// Requests to the commerce API authenticate as auth, and a rejected token
// drops the in-memory cart along with its snapshot.
func (d sessionDeps) build(auth *session.Auth) *handler.Session {
	client := d.client.WithCredentials(auth)

	cart := store.New(remote.NewCartAPI(client), store.Options{
		Identity:  auth,
		Snapshots: d.snapshots,
		Events:    d.events,
		Metrics:   d.metrics,
		Logger:    d.logger,
		Timeout:   d.timeout,
	})
	toasts := notify.NewCenter(d.toastInfo, d.toastError)

	auth.OnExpired(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cart.Discard(ctx)
	})

	return &handler.Session{
		Auth:     auth,
		Cart:     cart,
		QuickAdd: store.NewQuickAdd(cart, d.catalog, toasts, d.quickAddReset),
		Checkout: checkout.NewService(cart, remote.NewOrderAPI(client), auth, d.events, d.logger),
		Toasts:   toasts,
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go a.sessions.Run(ctx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.tracerShutdown(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}
