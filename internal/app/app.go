// Package app wires all dependencies and runs the API server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/shopforge/fulfillment/internal/checkout"
	"github.com/shopforge/fulfillment/internal/domain/inventory"
	"github.com/shopforge/fulfillment/internal/events"
	"github.com/shopforge/fulfillment/internal/gateway"
	"github.com/shopforge/fulfillment/internal/handler"
	"github.com/shopforge/fulfillment/internal/storage/postgres"
	"github.com/shopforge/fulfillment/internal/storage/redisstore"
	"github.com/shopforge/fulfillment/pkg/health"
	"github.com/shopforge/fulfillment/pkg/httpmiddleware"
	"github.com/shopforge/fulfillment/pkg/retry"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, _ *app.Telemetry, cfg *Config) error {
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

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Stock counters: Redis when configured, PostgreSQL otherwise.
	var counters inventory.CounterStore = postgres.NewStockStore(pool)
	if cfg.RedisAddr != "" {
		rdb := redisstore.New(cfg.RedisAddr)
		defer rdb.Close()
		counters = redisstore.NewStockStore(rdb)
		healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		lg.Info("Using Redis stock counters", zap.String("addr", cfg.RedisAddr))
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	ledger := inventory.New(counters, cfg.Stock.Attempts, retry.Jitter{
		Base:   cfg.Stock.BackoffBase,
		Spread: cfg.Stock.BackoffSpread,
	})

	// Payment gateway.
	gw := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.Secret, cfg.Gateway.Timeout)
	signer := gateway.NewSigner([]byte(cfg.Gateway.Secret))

	// Event publisher: Kafka when brokers are configured.
	var pub events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, lg)
		defer func() {
			if err := kp.Close(); err != nil {
				lg.Error("close event publisher", zap.Error(err))
			}
		}()
		pub = kp
		lg.Info("Publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Checkout orchestrator + HTTP handlers.
	orchestrator := checkout.NewOrchestrator(
		checkout.Config{Currency: cfg.Currency},
		catalogRepo, cartRepo, orderRepo, ledger, gw, signer, pub,
	)
	security := handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := handler.NewHandler(orchestrator, orderRepo, security)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-Api-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
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
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
