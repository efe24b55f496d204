package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/uos/internal/domain"
	"github.com/vladislavdragonenkov/uos/internal/metrics"
)

var (
	_ domain.OutboxRepository = (*stubOutboxRepo)(nil)
	_ domain.OutboxPublisher  = (*stubPublisher)(nil)
)

func userCreatedMessage(id string, userID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateUser,
		AggregateID:   userID,
		EventType:     "user.created",
		Payload:       []byte(`{"ID":1,"Email":"ivan@example.com"}`),
	}
}

func orderUpdatedMessage(id string, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     "order.updated",
		Payload:       []byte(`{"ID":7,"Product":"keyboard","Quantity":3}`),
	}
}

func workerMetricsForTests() (*metrics.StorageMetrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	return metrics.NewStorageMetricsWithRegisterer(registry), registry
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		var total float64
		for _, m := range family.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	return 0
}

func TestWorker_ProcessOnce_PublishesAndMarksSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{
		pending: []domain.OutboxMessage{userCreatedMessage("ob-1", "1")},
	}
	publisher := &stubPublisher{}
	m, registry := workerMetricsForTests()

	worker := NewWorker(repo, publisher,
		WithMetrics(m),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)

	worker.ProcessOnce(context.Background())

	if got := repo.sentIDs; len(got) != 1 || got[0] != "ob-1" {
		t.Fatalf("unexpected sent marks: %v", got)
	}
	if got := repo.failedIDs; len(got) != 0 {
		t.Fatalf("unexpected failed marks: %v", got)
	}
	if got := publisher.calls(); got != 1 {
		t.Fatalf("unexpected publish calls: got=%d want=1", got)
	}
	if got := counterValue(t, registry, "uos_outbox_published_total"); got != 1 {
		t.Fatalf("unexpected published counter: got=%v want=1", got)
	}
	if got := counterValue(t, registry, "uos_outbox_failed_total"); got != 0 {
		t.Fatalf("unexpected failed counter: got=%v want=0", got)
	}
}

func TestWorker_ProcessOnce_ExhaustedRetriesGoToDLQ(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{
		pending: []domain.OutboxMessage{orderUpdatedMessage("ob-2", "7")},
	}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlqPublisher := &stubPublisher{}
	m, registry := workerMetricsForTests()

	worker := NewWorker(repo, publisher,
		WithMetrics(m),
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)

	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("unexpected publish attempts: got=%d want=3", got)
	}
	if got := repo.sentIDs; len(got) != 0 {
		t.Fatalf("unexpected sent marks: %v", got)
	}
	if got := repo.failedIDs; len(got) != 1 || got[0] != "ob-2" {
		t.Fatalf("unexpected failed marks: %v", got)
	}
	if got := counterValue(t, registry, "uos_outbox_failed_total"); got != 1 {
		t.Fatalf("unexpected failed counter: got=%v want=1", got)
	}
	if got := counterValue(t, registry, "uos_outbox_publish_retries_total"); got != 2 {
		t.Fatalf("unexpected retry counter: got=%v want=2", got)
	}

	// DLQ-конверт сохраняет атрибуты исходного события и текст ошибки.
	dlqEvents := dlqPublisher.published()
	if len(dlqEvents) != 1 {
		t.Fatalf("unexpected DLQ events: %d", len(dlqEvents))
	}
	wrapped := dlqEvents[0]
	if wrapped.AggregateType != domain.AggregateOrder || wrapped.EventType != "order.updated" {
		t.Fatalf("DLQ envelope lost event attributes: %+v", wrapped)
	}

	var envelope struct {
		OutboxID     string          `json:"outbox_id"`
		Aggregate    string          `json:"aggregate_type"`
		EventType    string          `json:"event_type"`
		Payload      json.RawMessage `json:"payload"`
		PublishError string          `json:"publish_error"`
	}
	if err := json.Unmarshal(wrapped.Payload, &envelope); err != nil {
		t.Fatalf("unmarshal DLQ envelope: %v", err)
	}
	if envelope.OutboxID != "ob-2" || envelope.Aggregate != domain.AggregateOrder {
		t.Fatalf("unexpected DLQ envelope: %+v", envelope)
	}
	if envelope.PublishError != "publish failed after 3 attempts: broker unavailable" {
		t.Fatalf("unexpected publish_error: %q", envelope.PublishError)
	}
}

func TestWorker_ProcessOnce_RecoversAfterTransientError(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{
		pending: []domain.OutboxMessage{userCreatedMessage("ob-3", "2")},
	}
	publisher := &stubPublisher{
		sequenceErrors: []error{
			errors.New("leader election in progress"),
			nil,
		},
	}
	m, registry := workerMetricsForTests()

	worker := NewWorker(repo, publisher,
		WithMetrics(m),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)

	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 2 {
		t.Fatalf("unexpected publish attempts: got=%d want=2", got)
	}
	if got := repo.sentIDs; len(got) != 1 || got[0] != "ob-3" {
		t.Fatalf("unexpected sent marks: %v", got)
	}
	if got := repo.failedIDs; len(got) != 0 {
		t.Fatalf("unexpected failed marks: %v", got)
	}
	if got := counterValue(t, registry, "uos_outbox_publish_retries_total"); got != 1 {
		t.Fatalf("unexpected retry counter: got=%v want=1", got)
	}
}

func TestWorker_ProcessOnce_PreservesBatchOrder(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{
		pending: []domain.OutboxMessage{
			userCreatedMessage("ob-10", "1"),
			orderUpdatedMessage("ob-11", "7"),
			userCreatedMessage("ob-12", "2"),
		},
	}
	publisher := &stubPublisher{}
	m, _ := workerMetricsForTests()

	worker := NewWorker(repo, publisher, WithMetrics(m), WithRetryBaseDelay(0))

	worker.ProcessOnce(context.Background())

	got := make([]string, 0, len(repo.sentIDs))
	got = append(got, repo.sentIDs...)
	want := []string{"ob-10", "ob-11", "ob-12"}
	if len(got) != len(want) {
		t.Fatalf("unexpected sent marks: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch order broken: got=%v want=%v", got, want)
		}
	}
}

func TestWorker_ProcessOnce_ReportsBacklogGauges(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{
		pending:      []domain.OutboxMessage{userCreatedMessage("ob-20", "3")},
		frozenStats:  true,
		pendingCount: 4,
		oldestAge:    30 * time.Second,
	}
	publisher := &stubPublisher{}
	m, registry := workerMetricsForTests()

	worker := NewWorker(repo, publisher, WithMetrics(m), WithRetryBaseDelay(0))

	worker.ProcessOnce(context.Background())

	if got := counterValue(t, registry, "uos_outbox_pending"); got != 4 {
		t.Fatalf("unexpected pending gauge: got=%v want=4", got)
	}
	if got := counterValue(t, registry, "uos_outbox_oldest_pending_age_seconds"); got < 29 {
		t.Fatalf("unexpected oldest age gauge: got=%v", got)
	}
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{}
	publisher := &stubPublisher{}
	m, _ := workerMetricsForTests()

	worker := NewWorker(repo, publisher,
		WithMetrics(m),
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

type stubOutboxRepo struct {
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string

	// frozenStats подменяет ответ Stats фиксированными значениями,
	// чтобы проверять gauges независимо от списка pending.
	frozenStats  bool
	pendingCount int
	oldestAge    time.Duration
}

func (s *stubOutboxRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats() (domain.OutboxStats, error) {
	if s.frozenStats {
		return domain.OutboxStats{
			PendingCount:    s.pendingCount,
			OldestPendingAt: time.Now().UTC().Add(-s.oldestAge),
		}, nil
	}

	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(id string) error {
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(id string) error {
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

func (s *stubOutboxRepo) DeleteProcessedBefore(time.Time, int) (int, error) {
	return 0, nil
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	callCount      int
	events         []domain.OutboxMessage
}

func (s *stubPublisher) Publish(msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		if err != nil {
			return err
		}
		s.events = append(s.events, msg)
		return nil
	}
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, msg)
	return nil
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) published() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OutboxMessage, len(s.events))
	copy(out, s.events)
	return out
}
