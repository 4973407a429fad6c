package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/sfa-scheme-engine/internal/auditlog"
	"github.com/xenking/sfa-scheme-engine/internal/domain/calculation"
	"github.com/xenking/sfa-scheme-engine/internal/domain/order"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
	"github.com/xenking/sfa-scheme-engine/internal/handler"
	"github.com/xenking/sfa-scheme-engine/internal/membership"
	"github.com/xenking/sfa-scheme-engine/internal/storage/cache"
	"github.com/xenking/sfa-scheme-engine/internal/storage/postgres"
	"github.com/xenking/sfa-scheme-engine/pkg/health"
	"github.com/xenking/sfa-scheme-engine/pkg/httpmiddleware"
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

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	memberRepo := postgres.NewMembershipRepository(pool)

	var schemes scheme.Repository = postgres.NewSchemeRepository(pool)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
		schemes = cache.NewSnapshotCache(rdb, schemes, cfg.Redis.SnapshotTTL, cache.WithLogger(lg.Named("cache")))
		lg.Info("Scheme snapshot cache enabled", zap.String("redis", cfg.Redis.Addr))
	}

	resolver := membership.NewBloomResolver(memberRepo, membership.Config{
		ExpectedEntries:   cfg.Membership.ExpectedEntries,
		FalsePositiveRate: cfg.Membership.FalsePositiveRate,
	}, lg.Named("membership"))
	go func() { _ = resolver.Run(ctx, cfg.Membership.RefreshInterval) }()

	// Audit: the table is the record, the log and the optional file mirror it.
	mirrors := []calculation.AuditSink{auditlog.NewLogger(lg.Named("audit"))}
	if cfg.Audit.File != "" {
		f, err := os.OpenFile(cfg.Audit.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return errors.Wrap(err, "open audit file")
		}
		defer func() { _ = f.Close() }()
		mirrors = append(mirrors, auditlog.NewWriter(f))
	}
	sinks := auditlog.NewTee(auditRepo, lg.Named("audit"), mirrors...)

	// Domain services.
	engine, err := calculation.NewEngine(calculation.EngineDeps{
		Schemes:        schemes,
		Members:        resolver,
		Audit:          sinks,
		Logger:         lg.Named("engine"),
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create engine")
	}
	healthSvc.AddReadinessCheck("schemes", 5*time.Second, func(ctx context.Context) error {
		_, err := schemes.Snapshot(ctx)
		return err
	})

	sessions := calculation.NewStore(cfg.Session.TTL, time.Now)
	sessions.StartCleanup(ctx, cfg.Session.CleanupInterval, func(removed int) {
		if removed > 0 {
			lg.Debug("Expired sessions swept", zap.Int("removed", removed))
		}
	})
	orderService := order.NewService(productRepo, engine, sessions, orderRepo)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.NewHandler(orderService)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Register(router, securityHandler)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.HeaderOrIP(handler.APIKeyHeader),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("scheme-engine", m.TracerProvider(), m.MeterProvider()),
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
