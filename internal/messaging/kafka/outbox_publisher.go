package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/uos/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka.
// Топик выбирается по типу агрегата, ключом служит идентификатор
// сущности, чтобы события одной сущности сохраняли порядок.
type OutboxTopicPublisher struct {
	producer *Producer
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{
		producer: producer,
	}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := struct {
		ID            string          `json:"id"`
		AggregateType string          `json:"aggregate_type"`
		AggregateID   string          `json:"aggregate_id"`
		EventType     string          `json:"event_type"`
		Payload       json.RawMessage `json:"payload"`
		PublishedAt   time.Time       `json:"published_at"`
	}{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(TopicForAggregate(event.AggregateType), key, envelope)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

// DLQTopicPublisher публикует недоставленные сообщения в выделенный
// DLQ-топик. В отличие от OutboxTopicPublisher топик фиксирован:
// события никогда не возвращаются в основные топики агрегатов,
// повторную доставку выполняет dlq-reprocess.
type DLQTopicPublisher struct {
	producer *Producer
}

// NewDLQPublisher создаёт паблишер для dead letter queue.
func NewDLQPublisher(producer *Producer) domain.OutboxPublisher {
	return &DLQTopicPublisher{
		producer: producer,
	}
}

func (p *DLQTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	// Payload уже содержит DLQ-конверт, собранный worker'ом:
	// оригинальное событие плюс текст ошибки публикации.
	return p.producer.PublishEvent(TopicDeadLetterQueue, key, json.RawMessage(event.Payload))
}

var _ domain.OutboxPublisher = (*DLQTopicPublisher)(nil)
