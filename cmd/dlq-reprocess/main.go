// Утилита dlq-reprocess возвращает события изменения данных из uos.dlq
// обратно в топики агрегатов. Запись DLQ разбирается до атрибутов
// доменного события (агрегат, тип события, идентификатор сущности),
// топик для повторной публикации выбирается по агрегату. По умолчанию
// работает в режиме dry-run и только печатает сводку по содержимому DLQ.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/uos/internal/domain"
	"github.com/vladislavdragonenkov/uos/internal/messaging/kafka"
)

const (
	defaultScanLimit   = 100
	defaultIdleTimeout = 2 * time.Second
)

type options struct {
	brokers     []string
	aggregate   string
	eventType   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// deadLetter — запись DLQ, разобранная до атрибутов доменного события.
type deadLetter struct {
	outboxID  string
	aggregate string
	entityID  string
	eventType string
	payload   json.RawMessage
	failure   string
}

// workerEnvelope — конверт, который outbox worker кладёт в DLQ после
// исчерпания попыток публикации.
type workerEnvelope struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// consumerEnvelope — конверт, который kafka.Consumer кладёт в DLQ при
// неудачной обработке уже опубликованного события.
type consumerEnvelope struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
	ErrorMessage  string `json:"error_message"`
}

// publishedEvent — тело события в топиках агрегатов.
type publishedEvent struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type eventWriter interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaSource struct {
	consumer sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (s saramaSource) Close() error {
	if s.consumer == nil {
		return nil
	}
	return s.consumer.Close()
}

var connectKafka = func(opts options) (offsetReader, partitionSource, eventWriter, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	source := saramaSource{consumer: rawConsumer}

	if !opts.execute {
		return client, source, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(opts.brokers, producerConfig)
	if err != nil {
		_ = source.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, source, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	opts, err := readOptions()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), opts); err != nil {
		fail("dlq reprocess failed: %v", err)
	}
}

func readOptions() (options, error) {
	var (
		brokersRaw string
		opts       options
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: UOS_KAFKA_BROKERS)")
	flag.StringVar(&opts.aggregate, "aggregate", "", "replay only this aggregate: user or order (default: both)")
	flag.StringVar(&opts.eventType, "event-type", "", "replay only this event type, e.g. order.updated (default: all)")
	flag.IntVar(&opts.limit, "limit", defaultScanLimit, "max number of DLQ records to scan")
	flag.BoolVar(&opts.execute, "execute", false, "republish events; default is dry-run")
	flag.BoolVar(&opts.fromNewest, "from-newest", false, "scan latest records first (bounded by limit)")
	flag.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("UOS_KAFKA_BROKERS")
	}
	opts.brokers = parseBrokers(brokersRaw)
	if len(opts.brokers) == 0 {
		return options{}, fmt.Errorf("kafka brokers are required (-brokers or UOS_KAFKA_BROKERS)")
	}

	opts.aggregate = strings.ToLower(strings.TrimSpace(opts.aggregate))
	switch opts.aggregate {
	case "", domain.AggregateUser, domain.AggregateOrder:
	default:
		return options{}, fmt.Errorf("unsupported aggregate %q: expected user or order", opts.aggregate)
	}

	opts.eventType = strings.TrimSpace(opts.eventType)
	if opts.limit <= 0 {
		return options{}, fmt.Errorf("limit must be > 0")
	}
	if opts.idleTimeout <= 0 {
		return options{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return opts, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, opts options) error {
	offsets, source, writer, err := connectKafka(opts)
	if err != nil {
		return err
	}
	defer func() {
		if writer != nil {
			_ = writer.Close()
		}
		if source != nil {
			_ = source.Close()
		}
		if offsets != nil {
			_ = offsets.Close()
		}
	}()

	r := newReplayer(opts, offsets, source, writer)
	return r.run(ctx)
}

// replayer сканирует uos.dlq и возвращает подходящие события в топики
// агрегатов. Счётчики replayed/skipped копятся по ключу
// "агрегат/тип события" и по причине пропуска для итоговой сводки.
type replayer struct {
	opts    options
	offsets offsetReader
	source  partitionSource
	writer  eventWriter

	scanned  int
	replayed map[string]int
	skipped  map[string]int
}

func newReplayer(opts options, offsets offsetReader, source partitionSource, writer eventWriter) *replayer {
	return &replayer{
		opts:     opts,
		offsets:  offsets,
		source:   source,
		writer:   writer,
		replayed: make(map[string]int),
		skipped:  make(map[string]int),
	}
}

func (r *replayer) run(ctx context.Context) error {
	if r.offsets == nil || r.source == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if r.opts.execute && r.writer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	log.WithFields(log.Fields{
		"dlq_topic":   kafka.TopicDeadLetterQueue,
		"aggregate":   orAll(r.opts.aggregate),
		"event_type":  orAll(r.opts.eventType),
		"limit":       r.opts.limit,
		"execute":     r.opts.execute,
		"from_newest": r.opts.fromNewest,
	}).Info("starting dlq reprocess")

	partitions, err := r.offsets.Partitions(kafka.TopicDeadLetterQueue)
	if err != nil {
		return fmt.Errorf("get partitions for %s: %w", kafka.TopicDeadLetterQueue, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", kafka.TopicDeadLetterQueue).Warn("dlq topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if r.scanned >= r.opts.limit {
			break
		}
		if err := r.scanPartition(ctx, partition); err != nil {
			return err
		}
	}

	r.report()
	return nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32) error {
	oldest, err := r.offsets.GetOffset(kafka.TopicDeadLetterQueue, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(kafka.TopicDeadLetterQueue, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	budget := r.opts.limit - r.scanned
	start := oldest
	if r.opts.fromNewest {
		start = newest - int64(budget)
		if start < oldest {
			start = oldest
		}
	}

	stream, err := r.source.ConsumePartition(kafka.TopicDeadLetterQueue, partition, start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for r.scanned < r.opts.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-stream.Errors():
			if err != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil {
				return nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.idleTimeout)

			if msg.Offset >= newest {
				return nil
			}

			r.scanned++
			if err := r.handle(msg); err != nil {
				return err
			}

			if msg.Offset+1 >= newest {
				return nil
			}
		case <-idle.C:
			return nil
		}
	}

	return nil
}

// handle разбирает одну запись DLQ, применяет фильтры и публикует
// событие заново (или только учитывает его в dry-run).
func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	letter, err := decodeDeadLetter(msg.Value)
	if err != nil {
		r.skip("unparseable", msg, err)
		return nil
	}
	if letter.aggregate != domain.AggregateUser && letter.aggregate != domain.AggregateOrder {
		r.skip("unknown aggregate", msg, fmt.Errorf("aggregate %q", letter.aggregate))
		return nil
	}
	if r.opts.aggregate != "" && letter.aggregate != r.opts.aggregate {
		r.skipped["filtered"]++
		return nil
	}
	if r.opts.eventType != "" && letter.eventType != r.opts.eventType {
		r.skipped["filtered"]++
		return nil
	}

	key := letter.eventKey()
	if r.opts.execute {
		if err := r.publish(letter); err != nil {
			return fmt.Errorf("republish %s (outbox %s): %w", key, letter.outboxID, err)
		}
	} else {
		log.WithFields(log.Fields{
			"partition":  msg.Partition,
			"offset":     msg.Offset,
			"aggregate":  letter.aggregate,
			"event_type": letter.eventType,
			"entity_id":  letter.entityID,
			"failure":    letter.failure,
		}).Info("replay candidate")
	}
	r.replayed[key]++
	return nil
}

func (r *replayer) skip(reason string, msg *sarama.ConsumerMessage, err error) {
	r.skipped[reason]++
	log.WithError(err).WithFields(log.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	}).Warn("skip dlq record")
}

// publish восстанавливает событие в том же конверте, в котором его
// публикует outbox worker, и отправляет в топик агрегата. Ключом
// служит идентификатор сущности, чтобы replay сохранял порядок
// относительно живого потока событий.
func (r *replayer) publish(letter deadLetter) error {
	event := publishedEvent{
		ID:            letter.outboxID,
		AggregateType: letter.aggregate,
		AggregateID:   letter.entityID,
		EventType:     letter.eventType,
		Payload:       letter.payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	key := letter.entityID
	if key == "" {
		key = letter.outboxID
	}

	_, _, err = r.writer.SendMessage(&sarama.ProducerMessage{
		Topic:     kafka.TopicForAggregate(letter.aggregate),
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(encoded),
		Timestamp: time.Now().UTC(),
	})
	return err
}

func (r *replayer) report() {
	mode := "dry-run"
	if r.opts.execute {
		mode = "execute"
	}

	total := 0
	fields := log.Fields{}
	for _, key := range sortedKeys(r.replayed) {
		fields[key] = r.replayed[key]
		total += r.replayed[key]
	}
	log.WithFields(fields).WithFields(log.Fields{
		"mode":     mode,
		"scanned":  r.scanned,
		"replayed": total,
	}).Info("dlq reprocess finished")

	for _, reason := range sortedKeys(r.skipped) {
		log.WithFields(log.Fields{
			"reason": reason,
			"count":  r.skipped[reason],
		}).Info("skipped dlq records")
	}
}

func (l deadLetter) eventKey() string {
	if l.eventType != "" {
		return l.aggregate + "/" + l.eventType
	}
	return l.aggregate
}

// decodeDeadLetter распознаёт оба источника записей в uos.dlq:
// конверт outbox worker'а и конверт consumer'а с недоставленным
// оригинальным сообщением внутри.
func decodeDeadLetter(value []byte) (deadLetter, error) {
	var worker workerEnvelope
	if err := json.Unmarshal(value, &worker); err == nil && worker.EventType != "" && worker.AggregateType != "" {
		if len(worker.Payload) == 0 {
			return deadLetter{}, fmt.Errorf("worker envelope without event payload")
		}
		return deadLetter{
			outboxID:  worker.OutboxID,
			aggregate: worker.AggregateType,
			entityID:  worker.AggregateID,
			eventType: worker.EventType,
			payload:   worker.Payload,
			failure:   worker.PublishError,
		}, nil
	}

	var consumer consumerEnvelope
	if err := json.Unmarshal(value, &consumer); err != nil || consumer.OriginalValue == "" {
		return deadLetter{}, fmt.Errorf("unrecognized dlq record")
	}
	letter, err := decodeOriginalEvent([]byte(consumer.OriginalValue))
	if err != nil {
		return deadLetter{}, err
	}
	letter.failure = consumer.ErrorMessage
	if letter.entityID == "" {
		letter.entityID = consumer.OriginalKey
	}
	return letter, nil
}

// decodeOriginalEvent разбирает тело недоставленного сообщения:
// обычно это конверт outbox worker'а из топика агрегата, но события,
// опубликованные напрямую, приходят как голый ChangeEvent.
func decodeOriginalEvent(value []byte) (deadLetter, error) {
	var event publishedEvent
	if err := json.Unmarshal(value, &event); err == nil && event.EventType != "" && event.AggregateType != "" {
		return deadLetter{
			outboxID:  event.ID,
			aggregate: event.AggregateType,
			entityID:  event.AggregateID,
			eventType: event.EventType,
			payload:   event.Payload,
		}, nil
	}

	var change kafka.ChangeEvent
	if err := json.Unmarshal(value, &change); err != nil || change.EventType == "" || change.Aggregate == "" {
		return deadLetter{}, fmt.Errorf("unrecognized original event body")
	}
	return deadLetter{
		aggregate: change.Aggregate,
		entityID:  fmt.Sprintf("%d", change.EntityID),
		eventType: string(change.EventType),
		payload:   change.Snapshot,
	}, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func orAll(value string) string {
	if value == "" {
		return "all"
	}
	return value
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
