package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/db"
	"github.com/md-rashed-zaman/salonbook/libs/grpcx"
	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/bookings"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/cancellation"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/workblocks"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 15 * time.Second
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, gRPC health listener and outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.applyFlags(cmd.Flags())
			if err := cfg.validate(); err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("database-url", "", "database URL (postgres://... or sqlite://path), overrides DATABASE_URL")
	cmd.Flags().String("port", "", "HTTP port, overrides PORT")
	cmd.Flags().String("grpc-port", "", "gRPC health port, overrides GRPC_PORT")
	cmd.Flags().Bool("migrate", true, "apply the schema before serving, overrides AUTO_MIGRATE")
	return cmd
}

func runServer(parent context.Context, cfg serviceConfig) error {
	logger := runtime.NewLogger(cfg.ServiceName)

	ctx, stop := runtime.SignalContext(parent)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, err := storage.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		return err
	}
	defer store.Close()

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema up to date")
	}

	checks := []runtime.ReadyCheck{{Name: "db", Check: store.Ping}}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	var cache availability.Cache
	if rdb != nil {
		cache = availability.NewRedisCache(rdb, logger, availability.RedisCacheConfig{TTL: cfg.CacheTTL})
	}
	calc := availability.NewCalculator(store, logger, availability.Config{
		IncrementMinutes: cfg.SlotIncrementMinutes,
		Cache:            cache,
	})
	blockStore := workblocks.New(store, logger, workblocks.Options{
		AllowPast:   cfg.AllowPastBlocks,
		Invalidator: calc,
	})
	bookingStore := bookings.New(store, logger, bookings.Options{Invalidator: calc})
	coordinator := cancellation.New(store, logger, cancellation.Options{Invalidator: calc})

	sink, err := newSink(cfg, logger)
	if err != nil {
		logger.Error("event broker connection failed; outbox events stay pending", "broker", cfg.EventBroker, "err", err)
	}
	if cfg.EventBroker == "kafka" && cfg.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}
	relay := outbox.NewRelay(store, sink, logger, outbox.RelayConfig{PollEvery: cfg.OutboxPoll})
	go relay.Run(ctx)

	health := grpcx.NewHealthServer(logger)
	go health.Watch(ctx, 10*time.Second, store.Ping)
	go func() {
		if err := health.Serve(ctx, ":"+cfg.GRPCPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.Routes{
		Bookings:  handlers.NewBookingHandler(bookingStore, coordinator, calc, logger),
		Blocks:    handlers.NewBlockHandler(blockStore, logger),
		Employees: handlers.NewEmployeeHandler(store, logger),
	}.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(maxBodyBytes),
		httpx.OnlyFor(handlers.PublicPrefix, rateLimiter(cfg, rdb, logger)),
		httpx.OnlyFor(handlers.PublicPrefix, httpx.WithCORS(httpx.PublicCORSPolicy(cfg.CORSOrigins))),
		httpx.WithTimeout(requestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "increment_minutes", calc.IncrementMinutes())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	return nil
}

// newSink returns a nil Sink when no broker endpoint is configured, which leaves the relay
// idle and events pending in the outbox.
func newSink(cfg serviceConfig, logger *slog.Logger) (outbox.Sink, error) {
	switch cfg.EventBroker {
	case "amqp":
		if cfg.AMQPURL == "" {
			return nil, nil
		}
		sink, err := outbox.NewAMQPSink(cfg.AMQPURL, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		brokers := kafkax.SplitBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, nil
		}
		return outbox.NewKafkaSink(brokers), nil
	}
}

func rateLimiter(cfg serviceConfig, rdb *redis.Client, logger *slog.Logger) httpx.Middleware {
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "salonbook:ratelimit").Middleware(logger, true)
	}
	return httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).Middleware()
}
