package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics содержит метрики операций слоя доступа к данным.
type StorageMetrics struct {
	// Счётчики операций по сущности, операции и исходу.
	operations *prometheus.CounterVec

	// Гистограмма времени выполнения операций.
	operationDuration *prometheus.HistogramVec

	// Счётчики событий outbox.
	outboxEnqueued  prometheus.Counter
	outboxPublished prometheus.Counter
	outboxRetried   prometheus.Counter
	outboxFailed    prometheus.Counter

	// Gauge для отложенных сообщений outbox.
	outboxPending   prometheus.Gauge
	outboxOldestAge prometheus.Gauge
}

// Возможные исходы операции для метки outcome.
const (
	OutcomeOK              = "ok"
	OutcomeNotFound        = "not_found"
	OutcomeConflict        = "conflict"
	OutcomeInvalidArgument = "invalid_argument"
	OutcomeError           = "error"
)

// NewStorageMetrics создаёт новый экземпляр метрик хранилища.
func NewStorageMetrics() *StorageMetrics {
	return NewStorageMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStorageMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация переиспользует уже существующие коллекторы.
func NewStorageMetricsWithRegisterer(registerer prometheus.Registerer) *StorageMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StorageMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "uos_storage_operations_total",
			Help: "Total number of storage operations by entity, operation and outcome",
		}, []string{"entity", "operation", "outcome"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "uos_storage_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"entity", "operation"}),
		outboxEnqueued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "uos_outbox_enqueued_total",
			Help: "Total number of change events enqueued to the outbox",
		}),
		outboxPublished: registerCounter(registerer, prometheus.CounterOpts{
			Name: "uos_outbox_published_total",
			Help: "Total number of outbox messages published to the broker",
		}),
		outboxRetried: registerCounter(registerer, prometheus.CounterOpts{
			Name: "uos_outbox_publish_retries_total",
			Help: "Total number of failed publish attempts that were retried",
		}),
		outboxFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "uos_outbox_failed_total",
			Help: "Total number of outbox messages that exhausted publish attempts",
		}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "uos_outbox_pending",
			Help: "Number of outbox messages waiting to be published",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "uos_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox message",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOperation увеличивает счётчик операций с указанным исходом.
func (m *StorageMetrics) RecordOperation(entity, operation, outcome string) {
	m.operations.WithLabelValues(entity, operation, outcome).Inc()
}

// RecordOperationDuration записывает время выполнения операции.
func (m *StorageMetrics) RecordOperationDuration(entity, operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(entity, operation).Observe(duration.Seconds())
}

// RecordOutboxEnqueued увеличивает счётчик поставленных в outbox событий.
func (m *StorageMetrics) RecordOutboxEnqueued() {
	m.outboxEnqueued.Inc()
}

// RecordOutboxPublished увеличивает счётчик успешно опубликованных сообщений.
func (m *StorageMetrics) RecordOutboxPublished() {
	m.outboxPublished.Inc()
}

// RecordOutboxRetry увеличивает счётчик неудачных попыток, повлекших retry.
func (m *StorageMetrics) RecordOutboxRetry() {
	m.outboxRetried.Inc()
}

// RecordOutboxFailed увеличивает счётчик сообщений, исчерпавших попытки публикации.
func (m *StorageMetrics) RecordOutboxFailed() {
	m.outboxFailed.Inc()
}

// SetOutboxPending устанавливает количество ожидающих публикации сообщений.
func (m *StorageMetrics) SetOutboxPending(pending int) {
	m.outboxPending.Set(float64(pending))
}

// SetOutboxOldestAge устанавливает возраст самой старой pending-записи.
func (m *StorageMetrics) SetOutboxOldestAge(age time.Duration) {
	if age < 0 {
		age = 0
	}
	m.outboxOldestAge.Set(age.Seconds())
}
