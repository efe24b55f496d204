package app

import (
	"context"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.users == nil {
		t.Fatal("users repo should not be nil for memory storage")
	}
	if deps.orders == nil {
		t.Fatal("orders repo should not be nil for memory storage")
	}
	if deps.outboxRepo == nil {
		t.Fatal("outboxRepo should not be nil for memory storage")
	}
	if deps.pinger != nil {
		t.Fatal("memory storage has nothing to ping")
	}
	if err := deps.close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestInitRuntimeDependencies_SQLite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "uos.db")
	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverSQLite,
		SQLitePath:    path,
	}, log.WithField("test", "sqlite-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(sqlite) failed: %v", err)
	}
	if deps.users == nil || deps.orders == nil || deps.outboxRepo == nil {
		t.Fatal("sqlite dependencies should be fully populated")
	}
	if deps.pinger == nil {
		t.Fatal("sqlite storage should expose a pinger")
	}
	if err := deps.pinger.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if err := deps.close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestInitRuntimeDependencies_SQLiteRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverSQLite,
	}, log.WithField("test", "sqlite-missing-path"))
	if err == nil {
		t.Fatal("expected error when sqlite driver is selected without path")
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "cassandra",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}
