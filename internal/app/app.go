package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/utafrali/DinerGo/internal/auth"
	"github.com/utafrali/DinerGo/internal/cart"
	"github.com/utafrali/DinerGo/internal/checkout"
	"github.com/utafrali/DinerGo/internal/config"
	"github.com/utafrali/DinerGo/internal/event"
	handler "github.com/utafrali/DinerGo/internal/handler/http"
	"github.com/utafrali/DinerGo/internal/payment"
	"github.com/utafrali/DinerGo/internal/repository"
	mongorepo "github.com/utafrali/DinerGo/internal/repository/mongo"
	pgrepo "github.com/utafrali/DinerGo/internal/repository/postgres"
	redisrepo "github.com/utafrali/DinerGo/internal/repository/redis"
	"github.com/utafrali/DinerGo/pkg/database"
	"github.com/utafrali/DinerGo/pkg/health"
	pkgkafka "github.com/utafrali/DinerGo/pkg/kafka"
	"github.com/utafrali/DinerGo/pkg/tracing"
)

// App wires together all dependencies and runs the diner service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	rdb        *redis.Client
	pool       *pgxpool.Pool
	mongo      *mongo.Client
	producer   *pkgkafka.Producer
	kitchen    *event.KitchenDispatcher
	carts      *cart.Registry
	sessions   *checkout.Sessions
	httpServer *http.Server
	tracerStop func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Anything opened before a failure is closed again.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeClients()
		}
	}()

	tracingCfg := tracing.DefaultConfig(cfg.ServiceName)
	tracingCfg.Environment = cfg.Environment
	tracingCfg.Enabled = cfg.TracingEnabled
	tracingCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tracingCfg.SampleRate = cfg.TraceSampleRate
	if a.tracerStop, err = tracing.InitTracer(ctx, tracingCfg); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	// Redis holds cart snapshots.
	if a.rdb, err = database.NewRedisClient(ctx, cfg.RedisURL); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis")

	healthHandler := health.NewHandler()
	healthHandler.Register("redis", func(ctx context.Context) error {
		return a.rdb.Ping(ctx).Err()
	})

	database.SetSlowQueryLogging(cfg.SlowQueryThreshold, logger)
	st, err := a.openStores(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	deps := checkout.Deps{
		Gateway: payment.NewGatewayClient(payment.GatewayConfig{
			BaseURL:    cfg.PaymentGatewayURL,
			Timeout:    cfg.PaymentIntentTimeout,
			MaxRetries: cfg.PaymentMaxRetries,
		}, logger),
		Orders:    st.orders,
		Addresses: st.profiles,
		Logger:    logger,
	}

	if cfg.KafkaEnabled() {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		deps.Events = event.NewProducer(a.producer, logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	if cfg.RabbitMQEnabled() {
		if a.kitchen, err = event.NewKitchenDispatcher(cfg.RabbitMQURL, cfg.KitchenQueue, logger); err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		deps.Kitchen = a.kitchen
		logger.Info("kitchen dispatcher initialized", slog.String("queue", cfg.KitchenQueue))
	}

	// Build the dependency graph.
	a.carts = cart.NewRegistry(redisrepo.NewCartRepository(a.rdb, cfg.CartTTL), cart.Options{
		PersistTimeout: cfg.CartPersistTimeout,
		Logger:         logger,
	})
	orchestrator := checkout.NewOrchestrator(deps, checkout.Config{
		PaymentIntentTimeout: cfg.PaymentIntentTimeout,
		OrderWriteTimeout:    cfg.OrderWriteTimeout,
		PublishTimeout:       cfg.PublishTimeout,
		Currency:             cfg.Currency,
	})
	a.sessions = checkout.NewSessions(orchestrator, checkout.SessionConfig{
		ConfirmTimeout: cfg.CheckoutConfirmTimeout,
		TTL:            cfg.CheckoutSessionTTL,
	}, logger)

	// Tokens are issued by the identity service; this manager only validates.
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, 0)
	router := handler.NewRouter(handler.Handlers{
		Menu:     handler.NewMenuHandler(st.menu, logger),
		Cart:     handler.NewCartHandler(a.carts, st.menu, logger),
		Checkout: handler.NewCheckoutHandler(a.carts, a.sessions, logger),
		Orders:   handler.NewOrderHandler(st.orders, logger),
		Profile:  handler.NewProfileHandler(st.profiles, logger),
	}, jwtManager.Validate, healthHandler, handler.RouterConfig{
		ServiceName:       cfg.ServiceName,
		RequestTimeout:    cfg.RequestTimeout,
		CheckoutPerMinute: cfg.CheckoutRatePerMinute,
		CheckoutBurst:     cfg.CheckoutRateBurst,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Confirmation waits for the order write.
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

// stores are the repositories backed by the configured database.
type stores struct {
	orders   repository.OrderRepository
	profiles repository.ProfileRepository
	menu     repository.MenuRepository
}

// openStores connects the configured database. Orders, saved addresses and
// the menu catalog live side by side in it.
func (a *App) openStores(ctx context.Context, hh *health.Handler) (*stores, error) {
	switch a.cfg.OrderStore {
	case config.OrderStoreMongo:
		client, err := database.NewMongoClient(ctx, a.cfg.MongoURI, 10*time.Second)
		if err != nil {
			return nil, err
		}
		a.mongo = client
		db := client.Database(a.cfg.MongoDatabase)
		orders := mongorepo.NewOrderRepository(db)
		if err := orders.CreateIndexes(ctx); err != nil {
			return nil, fmt.Errorf("create order indexes: %w", err)
		}
		menu := mongorepo.NewMenuRepository(db)
		if err := menu.CreateIndexes(ctx); err != nil {
			return nil, fmt.Errorf("create menu indexes: %w", err)
		}
		hh.Register("mongodb", orders.Ping)
		a.logger.Info("connected to MongoDB", slog.String("database", a.cfg.MongoDatabase))
		return &stores{orders: orders, profiles: mongorepo.NewProfileRepository(db), menu: menu}, nil

	default:
		pool, err := database.NewPostgresPool(ctx, database.PostgresConfig{
			URL:      a.cfg.DatabaseURL,
			MaxConns: a.cfg.DBMaxConns,
			MinConns: a.cfg.DBMinConns,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		if err := database.RunMigrations(ctx, pool, pgrepo.Migrations(), a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, a.cfg.ServiceName); err != nil {
			a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}
		orders := pgrepo.NewOrderRepository(pool)
		hh.Register("postgres", orders.Ping)
		a.logger.Info("connected to PostgreSQL")
		return &stores{
			orders:   orders,
			profiles: pgrepo.NewProfileRepository(pool),
			menu:     pgrepo.NewMenuRepository(pool),
		}, nil
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	evictCtx, stopEviction := context.WithCancel(ctx)
	defer stopEviction()
	go a.carts.RunEviction(evictCtx, a.cfg.CartEvictInterval, a.cfg.CartIdleTimeout)

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
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops accepting requests, ends checkout runs, flushes pending
// cart writes and closes every client.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.sessions.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("checkout sessions shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.carts.FlushAll(shutdownCtx); err != nil {
		a.logger.Error("cart flush error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.closeClients()

	if err := a.tracerStop(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeClients closes whatever connections have been opened.
func (a *App) closeClients() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.kitchen != nil {
		if err := a.kitchen.Close(); err != nil {
			a.logger.Error("rabbitmq close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.mongo.Disconnect(ctx); err != nil {
			a.logger.Error("mongo disconnect error", slog.String("error", err.Error()))
		}
		cancel()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
}
