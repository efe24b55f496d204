package main

import (
	"context"
	"testing"
	"time"
)

func TestRun_StopsOnCanceledContext(t *testing.T) {
	t.Setenv("UOS_STORAGE", "memory")
	t.Setenv("UOS_METRICS_ADDR", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after cancellation, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop on context cancel")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("UOS_STORAGE", "cassandra")

	if err := run(context.Background()); err == nil {
		t.Fatal("expected config error for unsupported storage driver")
	}
}
