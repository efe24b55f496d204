package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/uos/internal/messaging/kafka"
)

// publishedEnvelope — конверт, в котором outbox worker публикует
// события в топики агрегатов.
type publishedEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// newEventAuditHandler возвращает обработчик, который логирует каждое
// доставленное событие изменения. Сообщение без распознаваемого тела
// считается необработанным: consumer отправит его в DLQ после retry.
func newEventAuditHandler(logger *log.Entry) kafka.MessageHandler {
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		var envelope publishedEnvelope
		if err := json.Unmarshal(message.Value, &envelope); err == nil && envelope.EventType != "" {
			logger.WithFields(log.Fields{
				"topic":      message.Topic,
				"outbox_id":  envelope.ID,
				"aggregate":  envelope.AggregateType,
				"entity_id":  envelope.AggregateID,
				"event_type": envelope.EventType,
			}).Info("change event delivered")
			return nil
		}

		// События, опубликованные напрямую через Producer.PublishChangeEvent,
		// приходят без конверта.
		event, err := kafka.ParseChangeEvent(message)
		if err != nil || event.EventType == "" {
			return fmt.Errorf("unrecognized event body at %s/%d@%d", message.Topic, message.Partition, message.Offset)
		}

		logger.WithFields(log.Fields{
			"topic":      message.Topic,
			"aggregate":  event.Aggregate,
			"entity_id":  event.EntityID,
			"event_type": event.EventType,
		}).Info("change event delivered")
		return nil
	}
}

// initEventAuditConsumer подписывает consumer group на топики агрегатов.
// Возвращает nil, nil если аудит выключен или Kafka недоступна.
func initEventAuditConsumer(cfg Config, producer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if cfg.KafkaConsumerGroup == "" || cfg.KafkaBrokers == "" {
		return nil, nil
	}

	auditLogger := logger.WithField("layer", "event-audit")
	consumer, err := kafka.NewConsumerWithDLQ(
		splitBrokers(cfg.KafkaBrokers),
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicUserEvents, kafka.TopicOrderEvents},
		newEventAuditHandler(auditLogger),
		producer,
		3,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create event audit consumer, continuing without it")
		return nil, err
	}

	auditLogger.WithField("group", cfg.KafkaConsumerGroup).Info("event audit enabled")
	return consumer, nil
}
