package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcadapter "github.com/simaogato/wealthflow-automation/internal/adapter/grpc"
	notifymemory "github.com/simaogato/wealthflow-automation/internal/adapter/notification/memory"
	"github.com/simaogato/wealthflow-automation/internal/adapter/notification/rabbitmq"
	"github.com/simaogato/wealthflow-automation/internal/adapter/repository/memory"
	"github.com/simaogato/wealthflow-automation/internal/adapter/repository/postgres"
	redisstore "github.com/simaogato/wealthflow-automation/internal/adapter/repository/redis"
	"github.com/simaogato/wealthflow-automation/internal/config"
	"github.com/simaogato/wealthflow-automation/internal/domain"
	"github.com/simaogato/wealthflow-automation/internal/logging"
	"github.com/simaogato/wealthflow-automation/internal/usecase/automation"
	"github.com/simaogato/wealthflow-automation/internal/usecase/scheduler"
	"github.com/simaogato/wealthflow-automation/internal/usecase/seeder"
	"github.com/simaogato/wealthflow-automation/internal/usecase/transfer"
)

type accountStore interface {
	domain.AccountStore
	domain.AccountWriter
}

type ruleStore interface {
	domain.RuleStore
	domain.RuleWriter
}

// stores is everything the engine persists through
type stores struct {
	accounts accountStore
	rules    ruleStore
	claims   domain.RuleStore
	attempts domain.AttemptTracker
	locker   scheduler.Locker
	cleanup  []func() error
}

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.DevMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// 2. Stores (memory or Postgres, optionally Redis claims)
	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize stores", zap.Error(err))
	}
	defer func() {
		for i := len(st.cleanup) - 1; i >= 0; i-- {
			if err := st.cleanup[i](); err != nil {
				logger.Warn("cleanup failed", zap.Error(err))
			}
		}
	}()

	// 3. Notifications
	var notifier domain.NotificationEmitter = notifymemory.NewRecorder()
	if cfg.RabbitMQ.URL != "" {
		publisher, closeFn, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, logger)
		if err != nil {
			logger.Fatal("failed to connect to rabbitmq", zap.Error(err))
		}
		st.cleanup = append(st.cleanup, closeFn)
		notifier = publisher
		logger.Info("publishing notifications to rabbitmq", zap.String("exchange", cfg.RabbitMQ.Exchange))
	}

	// 4. Use cases
	executorCfg := transfer.DefaultConfig()
	executorCfg.Strict = cfg.DevMode
	executor := transfer.NewExecutor(st.accounts, executorCfg, logger)

	worker := automation.NewWorker(st.claims, st.accounts, executor, st.attempts, notifier, automation.Config{
		MaxAttempts:    cfg.Scheduler.MaxAttempts,
		AttemptTimeout: cfg.Scheduler.AttemptTimeout,
		RetryBaseDelay: cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:  cfg.Scheduler.RetryMaxDelay,
	}, logger)

	sched := scheduler.NewScheduler(st.claims, st.accounts, worker, st.locker, scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		Concurrency:  cfg.Scheduler.WorkerConcurrency,
	}, logger)

	if cfg.SeedDemo {
		if err := seeder.NewDemoSeeder(st.accounts, st.rules, logger).Seed(ctx); err != nil {
			logger.Fatal("failed to seed demo data", zap.Error(err))
		}
		logger.Info("demo data seeded")
	}

	// 5. gRPC server
	grpcServer := grpclib.NewServer(
		grpclib.UnaryInterceptor(grpcadapter.AuthInterceptor(cfg.APIToken)),
	)
	grpcadapter.RegisterAutomationServiceServer(grpcServer, grpcadapter.NewServer(sched, logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(grpcadapter.ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	addr := ":" + cfg.GRPCPort
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", addr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", addr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("failed to serve gRPC server", zap.Error(err))
		}
	}()

	// 6. Scheduler loop
	schedCtx, cancelSched := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(schedCtx)
	}()

	waitForShutdown(logger, grpcServer, healthServer, func() {
		cancelSched()
		<-schedDone
	})
}

func buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	st := &stores{}

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := connectPostgres(cfg.Store.DSN(), logger)
		if err != nil {
			return nil, err
		}
		st.cleanup = append(st.cleanup, db.Close)

		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}

		st.accounts = postgres.NewAccountStore(db)
		st.rules = postgres.NewRuleStore(db, cfg.Scheduler.ClaimTTL)
		logger.Info("using postgres stores")
	default:
		st.accounts = memory.NewAccountStore()
		st.rules = memory.NewRuleStore(cfg.Scheduler.ClaimTTL)
		logger.Info("using in-memory stores")
	}

	st.claims = st.rules
	st.attempts = memory.NewAttemptTracker()

	if cfg.Redis.Addr != "" {
		client, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		st.cleanup = append(st.cleanup, client.Close)

		st.claims = redisstore.NewClaimStore(st.rules, client, cfg.Scheduler.ClaimTTL)
		st.attempts = redisstore.NewAttemptTracker(client, 0)
		st.locker = redisstore.NewTickLock(client, cfg.Scheduler.ClaimTTL, logger)
		logger.Info("using redis claims", zap.String("addr", cfg.Redis.Addr))
	}

	return st, nil
}

// connectPostgres retries the first connection while the database starts
func connectPostgres(dsn string, logger *zap.Logger) (*postgres.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= 5; attempt++ {
		db, err := postgres.NewDB(dsn)
		if err == nil {
			return db, nil
		}
		lastErr = err
		logger.Warn("postgres not ready", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to database: %w", lastErr)
}

// waitForShutdown waits for SIGTERM or SIGINT, stops the scheduler and
// gracefully shuts down the server
func waitForShutdown(logger *zap.Logger, grpcServer *grpclib.Server, healthServer *health.Server, stopScheduler func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Info("shutting down gracefully", zap.String("signal", sig.String()))

	healthServer.Shutdown()
	stopScheduler()
	logger.Info("scheduler stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
}
