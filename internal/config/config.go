package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Logging LoggingConfig
	Queue   QueueConfig
	Workers WorkerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// StorageConfig selects and locates the order and audit stores.
type StorageConfig struct {
	UseMemory     bool
	PostgresDSN   string
	ClickhouseDSN string
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// QueueConfig holds retry and retention settings of the job queue.
type QueueConfig struct {
	Attempts          int
	BackoffDelay      time.Duration
	CompletedMaxCount int
	CompletedMaxAge   time.Duration
	FailedMaxAge      time.Duration
}

// WorkerConfig holds worker pool sizing and admission rate.
type WorkerConfig struct {
	Concurrency   int
	LimiterMax    int
	LimiterWindow time.Duration
}

// Load reads .env (if present) and then the environment.
// Variables already set in the environment win over .env entries.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	return &Config{
		Server:  loadServerConfig(),
		Storage: loadStorageConfig(),
		Logging: loadLoggingConfig(),
		Queue:   loadQueueConfig(),
		Workers: loadWorkerConfig(),
	}, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            getEnvString("HTTP_ADDR", ":3000"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		UseMemory:     getEnvBool("USE_MEMORY", false),
		PostgresDSN:   getEnvString("POSTGRES_DSN", ""),
		ClickhouseDSN: getEnvString("CLICKHOUSE_DSN", ""),
	}
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  getEnvString("LOG_LEVEL", "info"),
		Format: getEnvString("LOG_FORMAT", "json"),
	}
}

func loadQueueConfig() QueueConfig {
	return QueueConfig{
		Attempts:          getEnvInt("QUEUE_ATTEMPTS", 3),
		BackoffDelay:      getEnvDuration("QUEUE_BACKOFF_DELAY", 2*time.Second),
		CompletedMaxCount: getEnvInt("QUEUE_COMPLETED_MAX_COUNT", 1000),
		CompletedMaxAge:   getEnvDuration("QUEUE_COMPLETED_MAX_AGE", time.Hour),
		FailedMaxAge:      getEnvDuration("QUEUE_FAILED_MAX_AGE", 24*time.Hour),
	}
}

func loadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:   getEnvInt("WORKER_CONCURRENCY", 10),
		LimiterMax:    getEnvInt("LIMITER_MAX", 100),
		LimiterWindow: getEnvDuration("LIMITER_WINDOW", time.Minute),
	}
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		switch strings.ToLower(value) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("http address is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", c.Server.ShutdownTimeout)
	}

	if !c.Storage.UseMemory {
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN required unless USE_MEMORY is set")
		}
		if c.Storage.ClickhouseDSN == "" {
			return fmt.Errorf("CLICKHOUSE_DSN required unless USE_MEMORY is set")
		}
	}

	if c.Queue.Attempts <= 0 {
		return fmt.Errorf("invalid queue attempts: %d", c.Queue.Attempts)
	}
	if c.Queue.BackoffDelay < 0 {
		return fmt.Errorf("invalid queue backoff delay: %s", c.Queue.BackoffDelay)
	}
	if c.Queue.CompletedMaxCount < 0 {
		return fmt.Errorf("invalid completed job limit: %d", c.Queue.CompletedMaxCount)
	}

	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("invalid worker concurrency: %d", c.Workers.Concurrency)
	}
	if c.Workers.LimiterMax < 0 {
		return fmt.Errorf("invalid limiter max: %d", c.Workers.LimiterMax)
	}
	if c.Workers.LimiterMax > 0 && c.Workers.LimiterWindow <= 0 {
		return fmt.Errorf("invalid limiter window: %s", c.Workers.LimiterWindow)
	}

	return nil
}

// String returns a representation without DSNs.
func (c *Config) String() string {
	storage := "postgres+clickhouse"
	if c.Storage.UseMemory {
		storage = "memory"
	}
	return fmt.Sprintf(
		"Server{Addr:%s}, Storage{%s}, Queue{Attempts:%d, Backoff:%s}, Workers{Concurrency:%d, Limit:%d/%s}, Log{%s,%s}",
		c.Server.Addr, storage,
		c.Queue.Attempts, c.Queue.BackoffDelay,
		c.Workers.Concurrency, c.Workers.LimiterMax, c.Workers.LimiterWindow,
		c.Logging.Level, c.Logging.Format,
	)
}
