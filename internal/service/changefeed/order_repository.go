package changefeed

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/uos/internal/domain"
	"github.com/vladislavdragonenkov/uos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/uos/internal/metrics"
)

// OrderRepository декорирует репозиторий заказов аналогично
// changefeed-обёртке пользователей.
type OrderRepository struct {
	inner   domain.OrderRepository
	outbox  domain.OutboxRepository
	metrics *metrics.StorageMetrics
	logger  *log.Entry
}

// NewOrderRepository создаёт changefeed-обёртку над репозиторием заказов.
// Метрики передаются снаружи по тем же правилам, что и для пользователей.
func NewOrderRepository(inner domain.OrderRepository, outbox domain.OutboxRepository, m *metrics.StorageMetrics, logger *log.Entry) domain.OrderRepository {
	if m == nil {
		m = metrics.NewStorageMetrics()
	}
	if logger == nil {
		logger = log.New().WithField("component", "changefeed-order")
	}
	return &OrderRepository{
		inner:   inner,
		outbox:  outbox,
		metrics: m,
		logger:  logger,
	}
}

func (r *OrderRepository) observe(op string, start time.Time, err error) {
	r.metrics.RecordOperation(domain.AggregateOrder, op, outcomeOf(err))
	r.metrics.RecordOperationDuration(domain.AggregateOrder, op, time.Since(start))
}

func (r *OrderRepository) GetAll(ctx context.Context) ([]domain.Order, error) {
	start := time.Now()
	orders, err := r.inner.GetAll(ctx)
	r.observe("get_all", start, err)
	return orders, err
}

func (r *OrderRepository) GetByUserID(ctx context.Context, userID int64) ([]domain.Order, error) {
	start := time.Now()
	orders, err := r.inner.GetByUserID(ctx, userID)
	r.observe("get_by_user_id", start, err)
	return orders, err
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	start := time.Now()
	order, err := r.inner.GetByID(ctx, id)
	r.observe("get_by_id", start, err)
	return order, err
}

func (r *OrderRepository) Add(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	start := time.Now()
	stored, err := r.inner.Add(ctx, order)
	r.observe("add", start, err)
	if err == nil {
		enqueueChange(r.outbox, r.metrics, r.logger,
			domain.AggregateOrder, string(kafka.EventTypeOrderCreated), stored.ID, stored)
	}
	return stored, err
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	start := time.Now()
	stored, err := r.inner.Update(ctx, order)
	r.observe("update", start, err)
	if err == nil {
		enqueueChange(r.outbox, r.metrics, r.logger,
			domain.AggregateOrder, string(kafka.EventTypeOrderUpdated), stored.ID, stored)
	}
	return stored, err
}

func (r *OrderRepository) Delete(ctx context.Context, id int64) (bool, error) {
	start := time.Now()
	deleted, err := r.inner.Delete(ctx, id)
	r.observe("delete", start, err)
	if err == nil && deleted {
		enqueueChange(r.outbox, r.metrics, r.logger,
			domain.AggregateOrder, string(kafka.EventTypeOrderDeleted), id, deletedSnapshot{ID: id})
	}
	return deleted, err
}

func (r *OrderRepository) Exists(ctx context.Context, id int64) (bool, error) {
	start := time.Now()
	ok, err := r.inner.Exists(ctx, id)
	r.observe("exists", start, err)
	return ok, err
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
