package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverSQLite   = "sqlite"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SQLitePath          string

	KafkaBrokers string

	// KafkaConsumerGroup включает аудит опубликованных событий:
	// при непустом значении приложение подписывается на топики
	// агрегатов и логирует каждое доставленное событие.
	KafkaConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	// OutboxRetention — сколько хранить обработанные записи outbox;
	// OutboxRetentionInterval — частота их зачистки.
	OutboxRetention         time.Duration
	OutboxRetentionInterval time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию: in-memory
// хранилище без Kafka.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SQLitePath:          "uos.db",
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    50 * time.Millisecond,

		OutboxRetention:         24 * time.Hour,
		OutboxRetentionInterval: 10 * time.Minute,
	}
}

// ConfigFromEnv читает конфигурацию из переменных окружения UOS_*,
// отсутствующие значения берутся из DefaultConfig.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("UOS_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("UOS_STORAGE"); v != "" {
		driver := strings.ToLower(strings.TrimSpace(v))
		switch driver {
		case StorageDriverMemory, StorageDriverSQLite, StorageDriverPostgres:
			cfg.StorageDriver = driver
		default:
			return Config{}, fmt.Errorf("unsupported UOS_STORAGE value %q", v)
		}
	}
	if v := os.Getenv("UOS_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("UOS_POSTGRES_AUTO_MIGRATE"); v != "" {
		autoMigrate, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid UOS_POSTGRES_AUTO_MIGRATE value %q: %w", v, err)
		}
		cfg.PostgresAutoMigrate = autoMigrate
	}
	if v := os.Getenv("UOS_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("UOS_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = v
	}
	if v := os.Getenv("UOS_KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.KafkaConsumerGroup = v
	}

	var err error
	if cfg.OutboxPollInterval, err = durationFromEnv("UOS_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = intFromEnv("UOS_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts, err = intFromEnv("UOS_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.OutboxRetryDelay, err = durationFromEnv("UOS_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.OutboxRetention, err = durationFromEnv("UOS_OUTBOX_RETENTION", cfg.OutboxRetention); err != nil {
		return Config{}, err
	}
	if cfg.OutboxRetentionInterval, err = durationFromEnv("UOS_OUTBOX_RETENTION_INTERVAL", cfg.OutboxRetentionInterval); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func durationFromEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	return d, nil
}

func intFromEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	return n, nil
}
