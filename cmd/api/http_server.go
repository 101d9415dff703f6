package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/clock"
	"github.com/giovaniif/stock-reservation/infra/config"
	"github.com/giovaniif/stock-reservation/infra/database"
	"github.com/giovaniif/stock-reservation/infra/events"
	"github.com/giovaniif/stock-reservation/infra/gateways"
	"github.com/giovaniif/stock-reservation/infra/locks"
	"github.com/giovaniif/stock-reservation/infra/logging"
	"github.com/giovaniif/stock-reservation/infra/loki"
	"github.com/giovaniif/stock-reservation/infra/repositories"
	"github.com/giovaniif/stock-reservation/infra/tracing"
	"github.com/giovaniif/stock-reservation/protocols"
	"github.com/giovaniif/stock-reservation/use_cases/checkout"
	"github.com/giovaniif/stock-reservation/use_cases/cleanup"
	"github.com/giovaniif/stock-reservation/use_cases/inventory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 10 * time.Second

type seedableCatalog interface {
	protocols.Catalog
	SetStock(ctx context.Context, productId string, quantity int) error
}

func StartServer() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	lokiWriter := loki.NewWriter(cfg.LokiURL, map[string]string{"service_name": config.ServiceName})
	var sinks []zapcore.WriteSyncer
	if lokiWriter != nil {
		sinks = append(sinks, lokiWriter)
	}
	logger := logging.New(config.ServiceName, zapcore.InfoLevel, sinks...)
	defer func() {
		_ = logger.Sync()
		if lokiWriter != nil {
			_ = lokiWriter.Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stock service stopped with error", zap.Error(err))
		_ = logger.Sync()
		if lokiWriter != nil {
			_ = lokiWriter.Close()
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, config.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("failed to close resource", zap.Error(err))
			}
		}
	}()
	healthChecks := map[string]HealthCheck{}
	clk := clock.NewSystem()

	var (
		reservationRepository reservation.Repository
		catalog               seedableCatalog
		unitOfWork            protocols.UnitOfWork
	)
	switch cfg.DBDriver {
	case database.DriverPostgres, database.DriverSqlite:
		db, err := database.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		closers = append(closers, db.Close)
		healthChecks["database"] = db.PingContext
		reservationRepository = repositories.NewSqlReservationRepository(db, clk)
		catalog = repositories.NewSqlCatalog(db, clk)
		unitOfWork = database.NewUnitOfWork(db)
		logger.Info("reservation store: sql", zap.String("driver", cfg.DBDriver))
	default:
		reservationRepository = repositories.NewMemoryReservationRepository(clk)
		catalog = repositories.NewMemoryCatalog(nil)
		unitOfWork = repositories.NewMemoryUnitOfWork()
		logger.Info("reservation store: in-memory (set DB_DRIVER for postgres or sqlite)")
	}
	for productId, quantity := range cfg.SeedStock {
		if err := catalog.SetStock(ctx, productId, quantity); err != nil {
			return fmt.Errorf("seed stock for %s: %w", productId, err)
		}
	}

	var checkoutGateway protocols.CheckoutGateway
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed, using in-process locks and idempotency",
				zap.String("redis_addr", cfg.RedisAddr), zap.Error(err))
			_ = rdb.Close()
			checkoutGateway = gateways.NewCheckoutGatewayMemory()
		} else {
			closers = append(closers, rdb.Close)
			healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
			unitOfWork = locks.NewRedisLocker(rdb, unitOfWork, cfg.LockTTL)
			checkoutGateway = gateways.NewCheckoutGatewayRedis(rdb)
			logger.Info("product locks and checkout idempotency: redis", zap.String("redis_addr", cfg.RedisAddr))
		}
	} else {
		checkoutGateway = gateways.NewCheckoutGatewayMemory()
		logger.Info("checkout idempotency: in-memory (set REDIS_ADDR for redis)")
	}

	publishers := []protocols.EventPublisher{events.NewLogPublisher(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, kafkaPublisher.Close)
		publishers = append(publishers, kafkaPublisher)
		logger.Info("reservation events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	engine := inventory.NewEngine(inventory.Dependencies{
		ReservationRepository: reservationRepository,
		Catalog:               catalog,
		UnitOfWork:            unitOfWork,
		Publisher:             events.Multi(publishers...),
		Clock:                 clk,
		Logger:                logger,
		HoldDuration:          cfg.HoldDuration,
	})

	var paymentGateway protocols.PaymentGateway
	if cfg.PaymentURL != "" {
		paymentGateway = gateways.NewPaymentGatewayHttp(cfg.PaymentURL, &http.Client{Timeout: 10 * time.Second})
	} else {
		paymentGateway = gateways.NewPaymentGatewayMemory()
		logger.Info("payments: in-memory (set PAYMENT_URL for the payment service)")
	}
	checkoutUseCase := checkout.NewCheckout(engine, paymentGateway, checkoutGateway, gateways.NewSleeper(), logger)

	sweeper := cleanup.NewSweeper(engine.Cleanup(), cfg.SweepInterval, logger, cleanup.WithRunOnStart())
	sweeper.Start(ctx)
	defer sweeper.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(RouterDependencies{
		Engine:          engine,
		Checkout:        checkoutUseCase,
		CheckoutTimeout: cfg.CheckoutTimeout,
		HealthChecks:    healthChecks,
		Logger:          logger,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("stock is running", zap.String("port", cfg.Port),
			zap.Duration("hold_duration", cfg.HoldDuration),
			zap.Duration("sweep_interval", cfg.SweepInterval),
		)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
