package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/uos/internal/domain"
)

const (
	defaultRetentionInterval  = 10 * time.Minute
	defaultRetentionBatchSize = 500
	defaultRetentionMaxAge    = 24 * time.Hour
)

var (
	outboxRetentionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uos_outbox_retention_runs_total",
		Help: "Total number of outbox retention runs grouped by result.",
	}, []string{"result"})
	outboxRetentionDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uos_outbox_retention_deleted_total",
		Help: "Total number of deleted processed outbox records.",
	})
	outboxRetentionLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uos_outbox_retention_last_deleted",
		Help: "Number of deleted records during the last retention run.",
	})
)

// RetentionOptions задаёт параметры воркера очистки outbox.
// Нулевые значения заменяются значениями по умолчанию.
type RetentionOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	// MaxAge — сколько хранить обработанные записи до удаления.
	MaxAge time.Duration
}

// RetentionWorker периодически удаляет обработанные (sent/failed) записи
// outbox: после публикации они нужны только для разбора инцидентов и не
// должны накапливаться бесконечно.
type RetentionWorker struct {
	repo      domain.OutboxRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	maxAge    time.Duration
}

// NewRetentionWorker создаёт воркер очистки обработанных записей outbox.
func NewRetentionWorker(repo domain.OutboxRepository, opts RetentionOptions) *RetentionWorker {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-retention-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultRetentionInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRetentionBatchSize
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = defaultRetentionMaxAge
	}

	return &RetentionWorker{
		repo:      repo,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		maxAge:    opts.MaxAge,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("outbox retention worker is disabled: repo is nil")
		return
	}

	w.sweep(ctx, time.Now().UTC().Add(-w.maxAge))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx, time.Now().UTC().Add(-w.maxAge))
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context, before time.Time) {
	deleted, err := w.DeleteProcessed(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		outboxRetentionRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("outbox retention run failed")
		return
	}

	outboxRetentionRunsTotal.WithLabelValues("ok").Inc()
	outboxRetentionLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("outbox retention completed")
	}
}

// DeleteProcessed удаляет все обработанные записи старше before порциями batchSize.
func (w *RetentionWorker) DeleteProcessed(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.repo.DeleteProcessedBefore(before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted > 0 {
			outboxRetentionDeletedTotal.Add(float64(deleted))
		}

		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
