package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/jewelry/internal/app"
)

const (
	envHTTPAddr                    = "JWL_HTTP_ADDR"
	envGRPCAddr                    = "JWL_GRPC_ADDR"
	envMetricsAddr                 = "JWL_METRICS_ADDR"
	envStorageDriver               = "JWL_STORAGE_DRIVER"
	envPostgresDSN                 = "JWL_POSTGRES_DSN"
	envPostgresAutoMigrate         = "JWL_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envOutboxPollInterval          = "JWL_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "JWL_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "JWL_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "JWL_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "JWL_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "JWL_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "JWL_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envCORSOrigins                 = "JWL_CORS_ORIGINS"
	envLogLevel                    = "JWL_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

// readConfig формирует конфигурацию из переменных окружения процесса.
func readConfig() app.Config {
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}
	return cfg
}

// readConfigFromEnv переопределяет значения DefaultConfig. Некорректные значения
// не прерывают запуск: остаётся значение по умолчанию, а причина попадает в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("ignore %s=%q: %v", key, value, err))
	}

	if v, ok := lookupTrimmed(lookup, envHTTPAddr); ok {
		cfg.HTTPAddr = v
	}
	// Пустое значение отключает gRPC health.
	if v, ok := lookup(envGRPCAddr); ok {
		cfg.GRPCAddr = strings.TrimSpace(v)
	}
	if v, ok := lookupTrimmed(lookup, envMetricsAddr); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := lookupTrimmed(lookup, envStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(v)
	}
	if v, ok := lookupTrimmed(lookup, envPostgresDSN); ok {
		cfg.PostgresDSN = v
	}
	if v, ok := lookupTrimmed(lookup, envPostgresAutoMigrate); ok {
		if parsed, err := parseBool(v); err != nil {
			warn(envPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}

	positive := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	if v, ok := lookupTrimmed(lookup, envOutboxPollInterval); ok {
		if parsed, err := parseDuration(v, positiveDuration, "must be > 0"); err != nil {
			warn(envOutboxPollInterval, v, err)
		} else {
			cfg.OutboxPollInterval = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envOutboxBatchSize); ok {
		if parsed, err := parseInt(v, positive, "must be > 0"); err != nil {
			warn(envOutboxBatchSize, v, err)
		} else {
			cfg.OutboxBatchSize = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envOutboxMaxAttempts); ok {
		if parsed, err := parseInt(v, positive, "must be > 0"); err != nil {
			warn(envOutboxMaxAttempts, v, err)
		} else {
			cfg.OutboxMaxAttempts = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envOutboxRetryDelay); ok {
		if parsed, err := parseDuration(v, nonNegativeDuration, "must be >= 0"); err != nil {
			warn(envOutboxRetryDelay, v, err)
		} else {
			cfg.OutboxRetryDelay = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envIdempotencyTTL); ok {
		if parsed, err := parseDuration(v, positiveDuration, "must be > 0"); err != nil {
			warn(envIdempotencyTTL, v, err)
		} else {
			cfg.IdempotencyTTL = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envIdempotencyCleanupInterval); ok {
		if parsed, err := parseDuration(v, positiveDuration, "must be > 0"); err != nil {
			warn(envIdempotencyCleanupInterval, v, err)
		} else {
			cfg.IdempotencyCleanupInterval = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envIdempotencyCleanupBatchSize); ok {
		if parsed, err := parseInt(v, positive, "must be > 0"); err != nil {
			warn(envIdempotencyCleanupBatchSize, v, err)
		} else {
			cfg.IdempotencyCleanupBatchSize = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envCORSOrigins); ok {
		cfg.CORSOrigins = splitList(v)
	}

	return cfg, warnings
}

// readLogLevel возвращает уровень из JWL_LOG_LEVEL, по умолчанию info.
func readLogLevel(lookup envLookup) (log.Level, error) {
	v, ok := lookupTrimmed(lookup, envLogLevel)
	if !ok {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(v)
	if err != nil {
		return log.InfoLevel, err
	}
	return level, nil
}

// lookupTrimmed игнорирует пустые значения.
func lookupTrimmed(lookup envLookup, key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", value)
	}
}

func parseInt(value string, valid func(int) bool, rule string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("%d %s", parsed, rule)
	}
	return parsed, nil
}

func parseDuration(value string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("%s %s", parsed, rule)
	}
	return parsed, nil
}
