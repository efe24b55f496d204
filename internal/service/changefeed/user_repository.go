package changefeed

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/uos/internal/domain"
	"github.com/vladislavdragonenkov/uos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/uos/internal/metrics"
)

// UserRepository декорирует репозиторий пользователей: делегирует
// операции внутреннему хранилищу, пишет метрики и фиксирует
// успешные изменения в outbox.
type UserRepository struct {
	inner   domain.UserRepository
	outbox  domain.OutboxRepository
	metrics *metrics.StorageMetrics
	logger  *log.Entry
}

// NewUserRepository создаёт changefeed-обёртку над репозиторием пользователей.
// Метрики передаются снаружи, чтобы обёртки одного процесса делили
// один набор коллекторов; nil означает регистрацию в default registerer.
func NewUserRepository(inner domain.UserRepository, outbox domain.OutboxRepository, m *metrics.StorageMetrics, logger *log.Entry) domain.UserRepository {
	if m == nil {
		m = metrics.NewStorageMetrics()
	}
	if logger == nil {
		logger = log.New().WithField("component", "changefeed-user")
	}
	return &UserRepository{
		inner:   inner,
		outbox:  outbox,
		metrics: m,
		logger:  logger,
	}
}

func (r *UserRepository) observe(op string, start time.Time, err error) {
	r.metrics.RecordOperation(domain.AggregateUser, op, outcomeOf(err))
	r.metrics.RecordOperationDuration(domain.AggregateUser, op, time.Since(start))
}

func (r *UserRepository) GetAll(ctx context.Context) ([]domain.User, error) {
	start := time.Now()
	users, err := r.inner.GetAll(ctx)
	r.observe("get_all", start, err)
	return users, err
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	start := time.Now()
	user, err := r.inner.GetByID(ctx, id)
	r.observe("get_by_id", start, err)
	return user, err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	start := time.Now()
	user, err := r.inner.GetByEmail(ctx, email)
	r.observe("get_by_email", start, err)
	return user, err
}

func (r *UserRepository) Add(ctx context.Context, user *domain.User) (*domain.User, error) {
	start := time.Now()
	stored, err := r.inner.Add(ctx, user)
	r.observe("add", start, err)
	if err == nil {
		enqueueChange(r.outbox, r.metrics, r.logger,
			domain.AggregateUser, string(kafka.EventTypeUserCreated), stored.ID, stored)
	}
	return stored, err
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) (*domain.User, error) {
	start := time.Now()
	stored, err := r.inner.Update(ctx, user)
	r.observe("update", start, err)
	if err == nil {
		enqueueChange(r.outbox, r.metrics, r.logger,
			domain.AggregateUser, string(kafka.EventTypeUserUpdated), stored.ID, stored)
	}
	return stored, err
}

func (r *UserRepository) Delete(ctx context.Context, id int64) (bool, error) {
	start := time.Now()
	deleted, err := r.inner.Delete(ctx, id)
	r.observe("delete", start, err)
	if err == nil && deleted {
		enqueueChange(r.outbox, r.metrics, r.logger,
			domain.AggregateUser, string(kafka.EventTypeUserDeleted), id, deletedSnapshot{ID: id})
	}
	return deleted, err
}

func (r *UserRepository) Exists(ctx context.Context, id int64) (bool, error) {
	start := time.Now()
	ok, err := r.inner.Exists(ctx, id)
	r.observe("exists", start, err)
	return ok, err
}

func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	start := time.Now()
	ok, err := r.inner.EmailExists(ctx, email)
	r.observe("email_exists", start, err)
	return ok, err
}

var _ domain.UserRepository = (*UserRepository)(nil)
