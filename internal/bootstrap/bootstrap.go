/**
 * @description
 * Shared start-up wiring for the ledger binaries: logger, ledger store,
 * Redis, RabbitMQ publisher and the application service. Optional
 * infrastructure degrades to a logged fallback instead of failing start-up.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL pool.
 * - github.com/redis/go-redis/v9: Rate limiter and leaderboard cache.
 * - github.com/cenkalti/backoff/v5: Retrying the initial database ping.
 * - pkg/rabbitmq: Refund event publishing.
 */
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/app"
	"github.com/bonafide-ptnguyen/Mealathon/internal/config"
	"github.com/bonafide-ptnguyen/Mealathon/internal/store"
	"github.com/bonafide-ptnguyen/Mealathon/pkg/rabbitmq"
	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// RequireSharedStore rejects the in-memory store for processes that only work
// against a ledger shared with the API.
func RequireSharedStore(cfg config.Config, process string) error {
	if cfg.LedgerStore == config.StoreMemory {
		return fmt.Errorf("%s needs a shared store; LEDGER_STORE=%s is private to one process", process, config.StoreMemory)
	}
	return nil
}

// StartEmbeddedScheduler runs the cron jobs inside the API process when the
// ledger is in memory, since no separate scheduler can see it. It returns a
// stop function and the number of scheduled jobs.
func StartEmbeddedScheduler(cfg config.Config, service *app.Service, logger *slog.Logger) (func(), int) {
	if cfg.LedgerStore != config.StoreMemory {
		return func() {}, 0
	}
	scheduler := app.NewScheduler(app.NewJobs(service, logger, cfg), logger, cfg)
	scheduled := scheduler.Start()
	logger.Info("embedded scheduler started for in-memory store", "jobs", scheduled)
	return func() { <-scheduler.Stop().Done() }, scheduled
}

// NewLogger returns the JSON logger used by every binary.
func NewLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// OpenRepository opens the configured ledger store. The returned close
// function releases the pool and is safe to call for the memory store.
func OpenRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func(), error) {
	if cfg.LedgerStore == config.StoreMemory {
		logger.Warn("using in-memory ledger store; data is lost on exit")
		return store.NewMemoryRepository(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := dbpool.Ping(pingCtx); err != nil {
			logger.Warn("database ping failed; retrying", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(6))
	if err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("database connection established")

	repository := store.NewPostgresRepository(dbpool)
	if cfg.AutoMigrate {
		if err := repository.ApplySchema(ctx); err != nil {
			dbpool.Close()
			return nil, nil, fmt.Errorf("apply schema: %w", err)
		}
		logger.Info("ledger schema applied")
	}
	return repository, dbpool.Close, nil
}

// OpenRedis returns a connected client, or nil when Redis is not configured
// or unreachable.
func OpenRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing; rate limiting and leaderboard cache disabled", "env", "REDIS_URL")
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; rate limiting and leaderboard cache disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; rate limiting and leaderboard cache disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

// OpenPublisher connects the RabbitMQ producer. The second result reports
// whether a real broker is behind the publisher.
func OpenPublisher(cfg config.Config, logger *slog.Logger) (rabbitmq.Publisher, bool) {
	if cfg.RabbitMQURL == "" {
		logger.Warn("rabbitmq url missing; using fallback publisher", "env", "RABBITMQ_URL")
		return &rabbitmq.EventProducerFallback{Logger: logger}, false
	}
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		return &rabbitmq.EventProducerFallback{Logger: logger}, false
	}
	logger.Info("rabbitmq producer connected")
	return producer, true
}

// NewService builds the ledger service with optional Redis adapters.
func NewService(cfg config.Config, repo store.Repository, redisClient *redis.Client, logger *slog.Logger) *app.Service {
	service := app.NewService(repo, nil, logger, app.OptionsFromConfig(cfg))
	if redisClient != nil {
		service.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix))
		service.SetLeaderboardCache(app.NewRedisLeaderboardCache(redisClient, cfg.RedisKeyPrefix, cfg.LeaderboardCacheTTL()))
	}
	return service
}

// WireRefundDispatch publishes refund requests when a broker is available and
// otherwise runs sagas in-process. The returned wait function blocks until
// in-process sagas have finished.
func WireRefundDispatch(cfg config.Config, service *app.Service, publisher rabbitmq.Publisher, brokered bool, logger *slog.Logger) func() {
	// A refund worker cannot reach an in-memory ledger.
	if brokered && cfg.LedgerStore != config.StoreMemory {
		service.SetRefundDispatcher(app.NewEventRefundDispatcher(publisher, cfg.EventsExchange))
		logger.Info("refund sagas dispatched through rabbitmq", "exchange", cfg.EventsExchange)
		return func() {}
	}
	dispatcher := app.NewAsyncRefundDispatcher(service.RunRefundSaga, logger, cfg.JobTimeout())
	service.SetRefundDispatcher(dispatcher)
	logger.Info("refund sagas run in-process")
	return dispatcher.Wait
}
