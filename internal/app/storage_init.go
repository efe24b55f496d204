package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/uos/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/uos/internal/health"
	"github.com/vladislavdragonenkov/uos/internal/storage/memory"
	"github.com/vladislavdragonenkov/uos/internal/storage/postgres"
	"github.com/vladislavdragonenkov/uos/internal/storage/sqlite"
)

// runtimeDependencies содержит собранный по конфигурации слой хранения.
type runtimeDependencies struct {
	users      domain.UserRepository
	orders     domain.OrderRepository
	outboxRepo domain.OutboxRepository

	// pinger nil для in-memory хранилища: проверять нечего.
	pinger     healthcheck.Pinger
	driver     string
	closeStore func() error
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeStore == nil {
		return nil
	}
	return d.closeStore()
}

// initRuntimeDependencies выбирает backend по cfg.StorageDriver и открывает его.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			users:      memory.NewUserRepository(store),
			orders:     memory.NewOrderRepository(store),
			outboxRepo: memory.NewOutboxRepository(),
			driver:     StorageDriverMemory,
		}, nil

	case StorageDriverSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite storage requires SQLitePath")
		}
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		logger.WithField("path", cfg.SQLitePath).Info("using sqlite storage")
		users := sqlite.NewUserRepository(store)
		return &runtimeDependencies{
			users:  users,
			orders: sqlite.NewOrderRepository(store),
			// Outbox для sqlite держим в памяти: backend однопроцессный,
			// и события не обязаны переживать рестарт.
			outboxRepo: memory.NewOutboxRepository(),
			pinger:     store,
			driver:     StorageDriverSQLite,
			closeStore: store.Close,
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires PostgresDSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			users:      postgres.NewUserRepository(store),
			orders:     postgres.NewOrderRepository(store),
			outboxRepo: postgres.NewOutboxRepository(store),
			pinger:     store,
			driver:     StorageDriverPostgres,
			closeStore: store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
