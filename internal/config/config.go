/**
 * @description
 * This package loads ledger configuration from environment variables and an
 * optional .env file using Viper. Every binary shares the same Config so the
 * API, scheduler, refund worker and operator CLI agree on stores and policies.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration loading and env binding.
 */
package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// maxRefundBatchSize matches the store's page cap.
const maxRefundBatchSize = 1000

// Config holds every setting used by the ledger binaries.
type Config struct {
	ServerPort                  string `mapstructure:"SERVER_PORT"`
	DatabaseURL                 string `mapstructure:"DATABASE_URL"`
	LedgerStore                 string `mapstructure:"LEDGER_STORE"`
	AutoMigrate                 bool   `mapstructure:"AUTO_MIGRATE"`
	RedisURL                    string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix              string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL                 string `mapstructure:"RABBITMQ_URL"`
	EventsExchange              string `mapstructure:"EVENTS_EXCHANGE"`
	RefundQueue                 string `mapstructure:"REFUND_QUEUE"`
	JWKSURL                     string `mapstructure:"JWKS_URL"`
	JWTAudience                 string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer                   string `mapstructure:"JWT_ISSUER"`
	InternalAPIKey              string `mapstructure:"INTERNAL_API_KEY"`
	CORSAllowedOrigins          string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	SweepSchedule               string `mapstructure:"SWEEP_SCHEDULE"`
	RefundRecoverySchedule      string `mapstructure:"REFUND_RECOVERY_SCHEDULE"`
	PropagationRepairSchedule   string `mapstructure:"PROPAGATION_REPAIR_SCHEDULE"`
	JobTimeoutSeconds           int    `mapstructure:"JOB_TIMEOUT_SECONDS"`
	RefundConcurrency           int    `mapstructure:"REFUND_CONCURRENCY"`
	RefundBatchSize             int    `mapstructure:"REFUND_BATCH_SIZE"`
	RetryMaxAttempts            int    `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryInitialIntervalMs      int    `mapstructure:"RETRY_INITIAL_INTERVAL_MS"`
	RetryMaxIntervalMs          int    `mapstructure:"RETRY_MAX_INTERVAL_MS"`
	DonationRateLimitPerMinute  int    `mapstructure:"DONATION_RATE_LIMIT_PER_MINUTE"`
	LeaderboardCacheTTLSeconds  int    `mapstructure:"LEADERBOARD_CACHE_TTL_SECONDS"`
	LeaderboardDefaultLimit     int    `mapstructure:"LEADERBOARD_DEFAULT_LIMIT"`
	PropagationRepairAgeSeconds int    `mapstructure:"PROPAGATION_REPAIR_AGE_SECONDS"`
	LogLevel                    string `mapstructure:"LOG_LEVEL"`
}

// LoadConfig reads configuration from the environment and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LEDGER_STORE", StorePostgres)
	viper.SetDefault("AUTO_MIGRATE", false)
	viper.SetDefault("REDIS_KEY_PREFIX", "mealathon")
	viper.SetDefault("EVENTS_EXCHANGE", "mealathon.events")
	viper.SetDefault("REFUND_QUEUE", "ledger.refund_requests")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("SWEEP_SCHEDULE", "@every 60s")
	viper.SetDefault("REFUND_RECOVERY_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("PROPAGATION_REPAIR_SCHEDULE", "*/2 * * * *")
	viper.SetDefault("JOB_TIMEOUT_SECONDS", 300)
	viper.SetDefault("REFUND_CONCURRENCY", 8)
	viper.SetDefault("REFUND_BATCH_SIZE", 200)
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	viper.SetDefault("RETRY_INITIAL_INTERVAL_MS", 50)
	viper.SetDefault("RETRY_MAX_INTERVAL_MS", 2000)
	viper.SetDefault("DONATION_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("LEADERBOARD_CACHE_TTL_SECONDS", 30)
	viper.SetDefault("LEADERBOARD_DEFAULT_LIMIT", 10)
	viper.SetDefault("PROPAGATION_REPAIR_AGE_SECONDS", 60)
	viper.SetDefault("LOG_LEVEL", "info")

	for _, key := range []string{
		"SERVER_PORT", "DATABASE_URL", "LEDGER_STORE", "AUTO_MIGRATE",
		"REDIS_URL", "REDIS_KEY_PREFIX", "RABBITMQ_URL", "EVENTS_EXCHANGE",
		"REFUND_QUEUE", "JWKS_URL", "JWT_AUDIENCE", "JWT_ISSUER",
		"INTERNAL_API_KEY", "CORS_ALLOWED_ORIGINS", "SWEEP_SCHEDULE",
		"REFUND_RECOVERY_SCHEDULE", "PROPAGATION_REPAIR_SCHEDULE",
		"JOB_TIMEOUT_SECONDS", "REFUND_CONCURRENCY", "REFUND_BATCH_SIZE",
		"RETRY_MAX_ATTEMPTS", "RETRY_INITIAL_INTERVAL_MS", "RETRY_MAX_INTERVAL_MS",
		"DONATION_RATE_LIMIT_PER_MINUTE", "LEADERBOARD_CACHE_TTL_SECONDS",
		"LEADERBOARD_DEFAULT_LIMIT", "PROPAGATION_REPAIR_AGE_SECONDS", "LOG_LEVEL",
	} {
		_ = viper.BindEnv(key)
	}

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.LedgerStore = strings.ToLower(strings.TrimSpace(config.LedgerStore))
	switch config.LedgerStore {
	case StorePostgres, StoreMemory:
	default:
		return config, fmt.Errorf("LEDGER_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, config.LedgerStore)
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	if config.LedgerStore == StorePostgres && config.DatabaseURL == "" {
		return config, fmt.Errorf("DATABASE_URL is required when LEDGER_STORE=%s", StorePostgres)
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "mealathon"
	}

	if config.JobTimeoutSeconds <= 0 {
		config.JobTimeoutSeconds = 300
	}
	if config.RefundConcurrency <= 0 {
		config.RefundConcurrency = 8
	}
	if config.RefundBatchSize <= 0 {
		config.RefundBatchSize = 200
	}
	if config.RefundBatchSize > maxRefundBatchSize {
		log.Printf("level=warn component=config msg=\"refund batch size above store page cap; lowering\" batch_size=%d max=%d", config.RefundBatchSize, maxRefundBatchSize)
		config.RefundBatchSize = maxRefundBatchSize
	}
	if config.RetryMaxAttempts <= 0 {
		config.RetryMaxAttempts = 5
	}
	if config.RetryInitialIntervalMs <= 0 {
		config.RetryInitialIntervalMs = 50
	}
	if config.RetryMaxIntervalMs < config.RetryInitialIntervalMs {
		log.Printf("level=warn component=config msg=\"retry max interval below initial interval; raising\" max_ms=%d initial_ms=%d", config.RetryMaxIntervalMs, config.RetryInitialIntervalMs)
		config.RetryMaxIntervalMs = config.RetryInitialIntervalMs
	}
	if config.DonationRateLimitPerMinute < 0 {
		config.DonationRateLimitPerMinute = 0
	}
	if config.LeaderboardCacheTTLSeconds < 0 {
		config.LeaderboardCacheTTLSeconds = 0
	}
	if config.LeaderboardDefaultLimit <= 0 {
		config.LeaderboardDefaultLimit = 10
	}
	if config.LeaderboardDefaultLimit > 100 {
		config.LeaderboardDefaultLimit = 100
	}
	if config.PropagationRepairAgeSeconds <= 0 {
		config.PropagationRepairAgeSeconds = 60
	}

	return config, nil
}

// JobTimeout bounds a single scheduled job run.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

func (c Config) PropagationRepairAge() time.Duration {
	return time.Duration(c.PropagationRepairAgeSeconds) * time.Second
}

func (c Config) LeaderboardCacheTTL() time.Duration {
	return time.Duration(c.LeaderboardCacheTTLSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// SlogLevel maps LOG_LEVEL onto a slog.Level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
