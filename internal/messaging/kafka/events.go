package kafka

import (
	"encoding/json"
	"time"
)

// EventType определяет тип события изменения данных
type EventType string

const (
	// User события
	EventTypeUserCreated EventType = "user.created"
	EventTypeUserUpdated EventType = "user.updated"
	EventTypeUserDeleted EventType = "user.deleted"

	// Order события
	EventTypeOrderCreated EventType = "order.created"
	EventTypeOrderUpdated EventType = "order.updated"
	EventTypeOrderDeleted EventType = "order.deleted"
)

// Topics для Kafka
const (
	TopicUserEvents      = "uos.user.events"
	TopicOrderEvents     = "uos.order.events"
	TopicDeadLetterQueue = "uos.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ChangeEvent представляет событие изменения сущности.
// Snapshot содержит состояние сущности после изменения,
// для событий удаления оно пустое.
type ChangeEvent struct {
	EventType EventType       `json:"event_type"`
	Aggregate string          `json:"aggregate"`
	EntityID  int64           `json:"entity_id"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TopicForAggregate возвращает топик для агрегата
func TopicForAggregate(aggregate string) string {
	if aggregate == "user" {
		return TopicUserEvents
	}
	return TopicOrderEvents
}

// NewChangeEvent создает новое событие изменения
func NewChangeEvent(eventType EventType, aggregate string, entityID int64, snapshot json.RawMessage) *ChangeEvent {
	return &ChangeEvent{
		EventType: eventType,
		Aggregate: aggregate,
		EntityID:  entityID,
		Snapshot:  snapshot,
		Timestamp: time.Now(),
	}
}
