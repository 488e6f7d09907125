// Package main is the entry point for the ridebook API server.
// Its sole responsibility is wiring dependencies together and running the
// HTTP servers and the offer timeout poller. No business logic belongs here.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pkordes/ridebook/internal/config"
	"github.com/pkordes/ridebook/internal/handler"
	"github.com/pkordes/ridebook/internal/lease"
	"github.com/pkordes/ridebook/internal/metrics"
	"github.com/pkordes/ridebook/internal/middleware"
	"github.com/pkordes/ridebook/internal/notify"
	"github.com/pkordes/ridebook/internal/repo"
	"github.com/pkordes/ridebook/internal/service"
	"github.com/pkordes/ridebook/internal/worker"
	"github.com/pkordes/ridebook/migrations"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// --- Logger -----------------------------------------------------------
	// JSON handler writes machine-readable output suitable for log aggregators.
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database ---------------------------------------------------------
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Verify the DB is reachable before accepting traffic.
	if err := pool.Ping(ctx); err != nil {
		return err
	}
	logger.Info("database connection established")

	if cfg.MigrateOnStart {
		sqlDB := stdlib.OpenDBFromPool(pool)
		applied, err := migrations.Up(ctx, sqlDB)
		_ = sqlDB.Close()
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "count", applied)
	}

	// --- Redis ------------------------------------------------------------
	rdb, err := lease.NewClient(ctx, lease.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	// --- Notifications ----------------------------------------------------
	sink, closeSinks, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	// --- Metrics ----------------------------------------------------------
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Services ---------------------------------------------------------
	store := repo.NewStore(pool)
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithNotifier(sink),
		service.WithMetrics(m),
	}
	ledger := service.NewSeatLedger(store)
	lifecycle := service.NewTripLifecycle(store, opts...)
	offers := service.NewOfferCoordinator(store, lease.NewRedisLocker(rdb, ""), lifecycle, opts...)
	bookings := service.NewBookingService(store, ledger, lifecycle, cfg.BookingMaxAttempts, opts...)

	poller := worker.NewTimeoutPoller(store.Repos().Timeouts, offers,
		worker.PollerConfig{Interval: cfg.OfferPollInterval}, logger, m)

	// --- Router -----------------------------------------------------------
	// RequestID generates a unique trace ID per request.
	// RealIP sets r.RemoteAddr from X-Forwarded-For / X-Real-IP.
	// SlogLogger writes one structured JSON log line per request.
	// Recoverer catches panics and returns HTTP 500 instead of crashing.
	srv := handler.NewServer(handler.Services{
		Trips:     service.NewTripService(store, opts...),
		Lifecycle: lifecycle,
		Offers:    offers,
		Bookings:  bookings,
		Manifests: service.NewManifestService(store),
	}, logger, cfg.OfferTimeout)
	auth := middleware.NewAuthenticator([]byte(cfg.JWTSecret))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))
	r.Mount("/", srv.Routes(auth.Middleware, middleware.NewIdempotency(rdb, cfg.IdempotencyTTL, logger)))

	// --- HTTP Servers -----------------------------------------------------
	// Explicit timeouts prevent slowloris and resource exhaustion attacks.
	api := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(logger, api) })
	g.Go(func() error { return serve(logger, metricsSrv) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		// Graceful shutdown: give in-flight requests up to 15 seconds.
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return errors.Join(api.Shutdown(shutdownCtx), metricsSrv.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func serve(logger *slog.Logger, srv *http.Server) error {
	logger.Info("server starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildNotifier picks the event sinks from configuration. Every configured
// broker gets a sink; with none configured events are only logged.
func buildNotifier(cfg config.Config, logger *slog.Logger) (service.Notifier, func(), error) {
	var (
		sinks  notify.Fanout
		closer []func() error
	)
	if len(cfg.KafkaBrokers) > 0 {
		k := notify.NewKafkaSink(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		sinks = append(sinks, k)
		closer = append(closer, k.Close)
		logger.Info("publishing trip events to kafka", "topic", cfg.KafkaTopic)
	}
	if cfg.AMQPURL != "" {
		a, err := notify.DialAMQP(notify.AMQPConfig{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange})
		if err != nil {
			for _, c := range closer {
				_ = c()
			}
			return nil, nil, err
		}
		sinks = append(sinks, a)
		closer = append(closer, a.Close)
		logger.Info("publishing trip events to amqp", "exchange", cfg.AMQPExchange)
	}
	closeAll := func() {
		for _, c := range closer {
			if err := c(); err != nil {
				logger.Warn("closing event sink", "error", err)
			}
		}
	}
	if len(sinks) == 0 {
		return notify.NewLogSink(logger), closeAll, nil
	}
	return sinks, closeAll, nil
}
