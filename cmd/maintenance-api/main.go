package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/config"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/httpapi"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/lifecycle"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/logging"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/payment"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/realtime"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store/memory"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store/postgres"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/telemetry"
)

const serviceName = "maintenance-api"

func main() {
	cfg := config.Load()
	logger := logging.Must(serviceName, cfg.LogDevelopment)
	defer func() { _ = logger.Sync() }()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	shutdownTracing := telemetry.Setup(serviceName, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	var ready func(context.Context) error
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, state is lost on restart")
		st = memory.New()
	default:
		if cfg.DatabaseURL == "" {
			logger.Fatal("DB_DSN is required")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		pg := postgres.NewStore(pool)
		st = pg
		ready = pg.Ping
	}

	trusted, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}
	limits := httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		AccountPerMinute: cfg.AccountRateLimitPerMinute,
		AccountBurst:     cfg.AccountRateLimitBurst,
		TrustedProxies:   trusted,
	}
	var revoker auth.Revoker = auth.NewMemoryRevoker()
	limiter := httpapi.NewRateLimiter(limits)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		revoker = auth.NewRedisRevoker(client)
		limiter = httpapi.NewRedisRateLimiter(client, limits)
		ready = withRedis(ready, client)
	}

	var gateway payment.Gateway
	var sandbox *payment.Sandbox
	switch cfg.PaymentGateway {
	case "http":
		gateway = payment.NewHTTPGateway(cfg.PaymentGatewayURL, cfg.PaymentGatewayKey, cfg.PaymentTimeout)
	default:
		baseURL := cfg.PaymentGatewayURL
		if baseURL == "" {
			baseURL = "http://localhost:" + cfg.Port + "/sandbox"
		}
		sandbox = payment.NewSandbox(baseURL)
		gateway = sandbox
		logger.Warn("sandbox payment gateway is for development only", zap.String("checkout_base_url", baseURL))
	}
	if cfg.PaymentWebhookSecret == "" {
		logger.Warn("PAYMENT_WEBHOOK_SECRET is empty, payment webhooks will be rejected")
	}

	hub := realtime.New(logger)
	manager := lifecycle.New(st, lifecycle.Options{
		Gateway:        gateway,
		Publisher:      hub,
		Logger:         logger,
		Metrics:        lifecycle.NewMetrics(prometheus.DefaultRegisterer),
		GatewayTimeout: cfg.PaymentTimeout,
	})

	if cfg.BootstrapAdminUsername != "" {
		created, err := manager.EnsureAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword)
		if err != nil {
			logger.Fatal("bootstrap admin", zap.Error(err))
		}
		if created {
			logger.Info("bootstrap admin created", zap.String("username", cfg.BootstrapAdminUsername))
		}
	}

	handler := httpapi.NewHandler(httpapi.Options{
		Manager:       manager,
		Accounts:      st,
		Tokens:        auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL),
		Revoker:       revoker,
		Hub:           hub,
		Limiter:       limiter,
		Metrics:       httpapi.NewHTTPMetrics(prometheus.DefaultRegisterer),
		Gatherer:      prometheus.DefaultGatherer,
		Logger:        logger,
		WebhookSecret: cfg.PaymentWebhookSecret,
		CORSOrigins:   cfg.CORSOrigins,
		Sandbox:       sandbox,
		Ready:         ready,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler.Routes(), serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.PaymentSweepInterval > 0 {
		go sweepPayments(ctx, manager, cfg, logger)
	}

	go func() {
		logger.Info("maintenance api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// sweepPayments re-checks pending transactions whose webhook never arrived.
// A tick is skipped while the previous one is still running.
func sweepPayments(ctx context.Context, manager *lifecycle.Manager, cfg config.Config, logger *zap.Logger) {
	var running atomic.Bool
	ticker := time.NewTicker(cfg.PaymentSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				continue
			}
			tickCtx, cancel := context.WithTimeout(ctx, cfg.PaymentSweepInterval)
			n, err := manager.SweepStalePayments(tickCtx, cfg.PaymentSweepAge, cfg.PaymentSweepBatch)
			cancel()
			running.Store(false)
			if err != nil && ctx.Err() == nil {
				logger.Error("payment sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("payment sweep reconciled", zap.Int("count", n))
			}
		}
	}
}

func withRedis(next func(context.Context) error, client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		return next(ctx)
	}
}
