package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/uos/internal/domain"
)

func TestNew_MemoryWithoutKafka(t *testing.T) {
	application, err := New(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer application.Close()

	if application.Users == nil || application.Orders == nil || application.Outbox == nil {
		t.Fatal("application repositories should be populated")
	}
	if application.worker != nil {
		t.Fatal("outbox worker should be disabled without kafka brokers")
	}
}

func TestNew_ChangesReachOutbox(t *testing.T) {
	application, err := New(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer application.Close()

	ctx := context.Background()
	stored, err := application.Users.Add(ctx, &domain.User{
		FirstName: "John",
		LastName:  "Smith",
		Email:     "john@example.com",
	})
	if err != nil {
		t.Fatalf("add user failed: %v", err)
	}
	if stored.ID == 0 {
		t.Fatal("expected generated user id")
	}

	pending, err := application.Outbox.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending change event, got %d", len(pending))
	}
	if pending[0].EventType != "user.created" {
		t.Fatalf("unexpected event type: %s", pending[0].EventType)
	}
}

func TestNew_StorageError(t *testing.T) {
	if _, err := New(context.Background(), Config{StorageDriver: "cassandra"}); err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
