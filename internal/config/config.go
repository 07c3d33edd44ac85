package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

// Config holds all configuration for the automation service
type Config struct {
	GRPCPort  string
	APIToken  string
	LogLevel  string
	DevMode   bool
	SeedDemo  bool
	Store     StoreConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Scheduler SchedulerConfig
}

// StoreConfig selects and configures the account and rule stores
type StoreConfig struct {
	Driver   string
	ConnStr  string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// RedisConfig holds Redis connection configuration.
// An empty Addr keeps claims and attempt counters in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RabbitMQConfig holds RabbitMQ connection configuration.
// An empty URL keeps notifications in memory.
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// SchedulerConfig tunes the scheduler and the automation worker
type SchedulerConfig struct {
	PollInterval      time.Duration
	AttemptTimeout    time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	ClaimTTL          time.Duration
	WorkerConcurrency int
}

// Load loads configuration from environment variables with default values
func Load() (*Config, error) {
	var errs []error
	p := parser{errs: &errs}

	cfg := &Config{
		GRPCPort: getEnv("GRPC_PORT", "8080"),
		APIToken: getEnv("API_TOKEN", "dev-token"),
		LogLevel: getEnv("LOG_LEVEL", ""),
		DevMode:  p.bool("DEV_MODE", false),
		SeedDemo: p.bool("SEED_DEMO", false),
		Store: StoreConfig{
			Driver:   getEnv("STORE_DRIVER", StoreDriverMemory),
			ConnStr:  getEnv("DB_CONN_STR", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "wealthflow"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       p.int("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL:        getEnv("RABBITMQ_URL", ""),
			Exchange:   getEnv("RABBITMQ_EXCHANGE", "wealthflow.automation"),
			RoutingKey: getEnv("RABBITMQ_ROUTING_KEY", "wealthflow.automation.notification"),
		},
		Scheduler: SchedulerConfig{
			PollInterval:      p.duration("POLL_INTERVAL", time.Minute),
			AttemptTimeout:    p.duration("ATTEMPT_TIMEOUT", 10*time.Second),
			MaxAttempts:       p.int("MAX_ATTEMPTS", 5),
			RetryBaseDelay:    p.duration("RETRY_BASE_DELAY", 30*time.Second),
			RetryMaxDelay:     p.duration("RETRY_MAX_DELAY", 30*time.Minute),
			ClaimTTL:          p.duration("CLAIM_TTL", 2*time.Minute),
			WorkerConcurrency: p.int("WORKER_CONCURRENCY", 8),
		},
	}

	if len(errs) > 0 {
		return nil, errs[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverMemory, StoreDriverPostgres:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverMemory, StoreDriverPostgres, c.Store.Driver)
	}

	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.Scheduler.MaxAttempts)
	}

	if c.Scheduler.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Scheduler.WorkerConcurrency)
	}

	if c.Scheduler.PollInterval <= 0 || c.Scheduler.AttemptTimeout <= 0 || c.Scheduler.ClaimTTL <= 0 {
		return fmt.Errorf("POLL_INTERVAL, ATTEMPT_TIMEOUT and CLAIM_TTL must be positive")
	}

	if c.Scheduler.RetryBaseDelay > c.Scheduler.RetryMaxDelay {
		return fmt.Errorf("RETRY_BASE_DELAY (%s) exceeds RETRY_MAX_DELAY (%s)", c.Scheduler.RetryBaseDelay, c.Scheduler.RetryMaxDelay)
	}

	return nil
}

// DSN returns the Postgres connection string.
// DB_CONN_STR wins; otherwise it is built from the individual DB_* vars (Docker friendly).
func (s StoreConfig) DSN() string {
	if s.ConnStr != "" {
		return s.ConnStr
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		s.Host, s.Port, s.User, s.Password, s.Name)
}

// getEnv retrieves an environment variable or returns a default value if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser reads typed variables and collects parse errors
type parser struct {
	errs *[]error
}

func (p parser) bool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return defaultValue
	}
	return value
}

func (p parser) int(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return defaultValue
	}
	return value
}

func (p parser) duration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return defaultValue
	}
	return value
}
