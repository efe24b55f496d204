// Package changefeed оборачивает репозитории и фиксирует события
// изменений в transactional outbox для последующей публикации.
package changefeed

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/uos/internal/domain"
	"github.com/vladislavdragonenkov/uos/internal/metrics"
)

// outcomeOf переводит ошибку операции в метку outcome для метрик.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case domain.IsInvalidArgument(err):
		return metrics.OutcomeInvalidArgument
	case domain.IsNotFound(err):
		return metrics.OutcomeNotFound
	case domain.IsConflict(err):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}

// enqueueChange сохраняет событие изменения в outbox.
// Ошибка постановки не прерывает уже завершённую операцию,
// она только логируется: данные уже записаны в хранилище.
func enqueueChange(
	outbox domain.OutboxRepository,
	m *metrics.StorageMetrics,
	logger *log.Entry,
	aggregateType string,
	eventType string,
	entityID int64,
	snapshot any,
) {
	if outbox == nil {
		return
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		logger.WithError(err).WithFields(log.Fields{
			"aggregate":  aggregateType,
			"event_type": eventType,
			"entity_id":  entityID,
		}).Warn("failed to marshal change event payload")
		return
	}

	msg := domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   strconv.FormatInt(entityID, 10),
		EventType:     eventType,
		Payload:       payload,
	}

	if _, err := outbox.Enqueue(msg); err != nil {
		logger.WithError(err).WithFields(log.Fields{
			"aggregate":  aggregateType,
			"event_type": eventType,
			"entity_id":  entityID,
		}).Warn("failed to enqueue change event")
		return
	}

	m.RecordOutboxEnqueued()
	logger.WithFields(log.Fields{
		"aggregate":  aggregateType,
		"event_type": eventType,
		"entity_id":  entityID,
	}).Debug("change event enqueued")
}

// deletedSnapshot минимальный payload для событий удаления.
type deletedSnapshot struct {
	ID int64 `json:"id"`
}
