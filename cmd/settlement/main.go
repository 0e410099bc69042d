package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/richxcame/escrow-settlement/internal/escrow"
	"github.com/richxcame/escrow-settlement/internal/ledger"
	"github.com/richxcame/escrow-settlement/internal/mpesa"
	"github.com/richxcame/escrow-settlement/internal/notify"
	"github.com/richxcame/escrow-settlement/internal/payments"
	"github.com/richxcame/escrow-settlement/internal/promos"
	"github.com/richxcame/escrow-settlement/internal/reconciler"
	"github.com/richxcame/escrow-settlement/pkg/async"
	"github.com/richxcame/escrow-settlement/pkg/cache"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/database"
	"github.com/richxcame/escrow-settlement/pkg/errors"
	"github.com/richxcame/escrow-settlement/pkg/eventbus"
	"github.com/richxcame/escrow-settlement/pkg/health"
	"github.com/richxcame/escrow-settlement/pkg/jwtkeys"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/middleware"
	"github.com/richxcame/escrow-settlement/pkg/ratelimit"
	redisclient "github.com/richxcame/escrow-settlement/pkg/redis"
	"github.com/richxcame/escrow-settlement/pkg/tracing"
	"github.com/richxcame/escrow-settlement/pkg/validation"
	"go.uber.org/zap"
)

const (
	serviceName = "settlement-service"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if err := logger.Init(cfg.Server.Environment, serviceName); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting settlement service",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	// Initialize Sentry for error tracking
	if err := errors.InitSentry(cfg, version); err != nil {
		logger.Warn("Sentry not initialized, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
		logger.Info("Sentry error tracking initialized")
	}

	// Initialize OpenTelemetry tracer
	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
			SampleRate:     cfg.Tracing.SampleRate,
			Enabled:        true,
		}, logger.Get())
		if err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
			logger.Info("OpenTelemetry tracing initialized")
		}
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL(), 0); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	db, err := database.NewPostgresPool(rootCtx, &cfg.Database, cfg.Timeout.DatabaseQueryDuration())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	logger.Info("Connected to database")

	redisClient, err := redisclient.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}()
	cacheManager := cache.NewManager(redisClient)

	var (
		bus       *eventbus.Bus
		publisher eventbus.Publisher
	)
	if cfg.NATS.Enabled {
		bus, err = eventbus.New(eventbus.ConfigFrom(cfg.NATS, serviceName))
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer bus.Close()
		publisher = bus
		logger.Info("Connected to NATS JetStream", zap.String("stream", cfg.NATS.StreamName))
	} else {
		logger.Warn("NATS disabled, settlement events will not be published")
	}

	gateway := mpesa.NewClient(cfg.MPesa, cfg.Timeout.HTTPClientDuration(), cfg.Resilience.CircuitBreaker, cacheManager)

	ledgerStore := ledger.NewStore(db)
	escrowService := escrow.NewService(escrow.NewRepository(db), ledgerStore, publisher, cacheManager, cfg.Escrow.PlatformFeeBPS)

	promoService := promos.NewService(promos.NewRepository(db))
	promoService.SetCache(cacheManager)

	paymentService := payments.NewService(
		payments.NewRepository(db),
		ledgerStore,
		escrowService,
		gateway,
		publisher,
		cfg.MPesa,
		cfg.Settlement,
	)
	paymentService.SetPromos(promoService)
	paymentService.SetNotifier(notify.New(cfg.Twilio, cfg.Resilience.CircuitBreaker))

	if bus != nil {
		if err := payments.NewEventHandler(paymentService).RegisterSubscriptions(rootCtx, bus); err != nil {
			logger.Fatal("Failed to subscribe to ride events", zap.Error(err))
		}
	}

	var worker *reconciler.Worker
	if cfg.Settlement.Enabled {
		worker = reconciler.NewWorker(paymentService, gateway, cfg.Settlement, logger.Get())
		go worker.Start(rootCtx)
	} else {
		logger.Warn("Settlement reconciler disabled, pending transactions rely on callbacks only")
	}

	keyring, err := jwtkeys.NewKeyringFromConfig(cfg.JWT)
	if err != nil {
		logger.Fatal("Failed to initialize JWT keyring", zap.Error(err))
	}
	keyring.StartAutoRefresh(rootCtx, time.Duration(cfg.JWT.RefreshMinutes)*time.Minute)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	validation.RegisterGinValidators()

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(&cfg.Timeout))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS(cfg.Server.Origins()))
	router.Use(middleware.SanitizeRequest())
	router.Use(middleware.Metrics(serviceName))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware(serviceName))
	}
	router.Use(middleware.ErrorHandler())

	// Health check endpoints
	router.GET("/healthz", common.HealthCheck(serviceName, version))
	deepChecker := health.NewDeepChecker(health.DeepCheckerConfig{
		Version:  version,
		Timeout:  5 * time.Second,
		CacheTTL: 10 * time.Second,
	})
	deepChecker.AddCheck("postgres", true, health.PoolCheck(db))
	deepChecker.AddCheck("redis", true, redisClient.HealthCheck)
	deepChecker.AddCheck("nats", false, func(ctx context.Context) error {
		if bus != nil && !bus.Connected() {
			return fmt.Errorf("nats disconnected")
		}
		return nil
	})
	deepChecker.AddCircuitBreaker("mpesa", gateway.Breaker())

	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, map[string]func() error{
		"dependencies": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if !deepChecker.IsReady(ctx) {
				return fmt.Errorf("critical dependency unhealthy")
			}
			return nil
		},
	}))
	router.GET("/health/deep", deepChecker.GinHandler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	protected := api.Group("")
	protected.Use(middleware.AuthMiddlewareWithProvider(keyring))
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(redisClient.Client, cfg.RateLimit)
		protected.Use(middleware.RateLimit(limiter, cfg.RateLimit))
		logger.Info("Rate limiting enabled",
			zap.Int("default_limit", cfg.RateLimit.DefaultLimit),
			zap.Duration("window", cfg.RateLimit.Window()),
		)
	}
	protected.Use(middleware.Idempotency(redisClient))

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireAdmin())

	payments.NewHandler(paymentService, cfg.MPesa.CallbackToken).RegisterRoutes(api, protected, admin)
	promos.NewHandler(promoService).RegisterRoutes(protected, admin)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if worker != nil {
		worker.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	if err := async.Drain(ctx); err != nil {
		logger.Warn("Pending notifications abandoned at shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
