package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/jewelry/internal/health"
	"github.com/vladislavdragonenkov/jewelry/internal/storage/memory"
	"github.com/vladislavdragonenkov/jewelry/internal/storage/postgres"
)

// runtimeDependencies содержит репозитории выбранного хранилища.
type runtimeDependencies struct {
	items       domain.ItemRepository
	history     domain.HistoryRepository
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies создаёт репозитории по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		logger.Info("используем in-memory хранилище")
		return runtimeDependencies{
			items:       memory.NewItemRepository(),
			history:     memory.NewHistoryRepository(),
			outbox:      memory.NewOutboxRepository(),
			idempotency: memory.NewIdempotencyRepository(),
			storageChecker: healthcheck.CheckFunc(func(context.Context) error {
				return nil
			}),
		}, nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return runtimeDependencies{}, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return runtimeDependencies{}, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
		}
		state, err := store.MigrationStatus(ctx)
		if err != nil {
			_ = store.Close()
			return runtimeDependencies{}, fmt.Errorf("migration status: %w", err)
		}
		logger.WithFields(log.Fields{
			"version": state.Version,
			"applied": state.Applied,
		}).Info("миграции применены")
	}

	logger.Info("используем PostgreSQL хранилище")
	return runtimeDependencies{
		items:          postgres.NewItemRepository(store),
		history:        postgres.NewHistoryRepository(store),
		outbox:         postgres.NewOutboxRepository(store),
		idempotency:    postgres.NewIdempotencyRepository(store),
		storageChecker: healthcheck.CheckFunc(store.Ping),
		closeFn:        store.Close,
	}, nil
}

// close освобождает ресурсы хранилища.
func (d runtimeDependencies) close(logger *log.Entry) {
	if d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
