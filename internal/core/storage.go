package core

import (
	"context"
	"fmt"

	"custodychain/internal/infra/persistence/memory"
	"custodychain/internal/infra/persistence/postgres"
	"custodychain/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions selects and configures the ledger backend.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// ClosableStore is a persistent store that owns external resources.
type ClosableStore interface {
	PersistentStore
	Close() error
}

// OpenPersistentStore opens the backend named by opts.Driver, defaulting to
// sqlite when unset.
func OpenPersistentStore(ctx context.Context, opts StorageOptions, engine *RulesEngine) (ClosableStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(opts.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, opts.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
