// Package outbox persists and delivers domain events to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/scheduling/internal/logger"
	platformevents "example.com/scheduling/pkg/events"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Dispatcher drains the outbox table and delivers schedule and streak events
// to Kafka using Schema Registry metadata.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	registry         schemaRegistrar
	dlq              *DLQWriter
	log              *logger.Logger
	pollInterval     time.Duration
	batchSize        int
	schemaIDCache    sync.Map
	shutdownComplete chan struct{}
}

// DispatcherOption configures optional behaviour for the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger overrides the logger.
func WithDispatcherLogger(log *logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pool:             pool,
		producer:         producer,
		registry:         registry,
		dlq:              NewDLQWriter(pool),
		log:              logger.Nop(),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error("outbox dispatcher error", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	defer batchDuration.Observe(time.Since(start).Seconds())

	published, failed := d.deliver(ctx, messages)
	for _, msg := range published {
		publishedCounter.WithLabelValues(msg.EventType).Inc()
	}
	if len(failed) > 0 {
		d.log.Warn("outbox events dead-lettered", "events", len(failed), "published", len(published))
		if err := d.moveToDLQ(ctx, failed); err != nil {
			return err
		}
	}
	// Dead-lettered rows are owned by the DLQ manager from here on.
	return d.markPublished(ctx, messages)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `SELECT event_id, owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.EventID, &msg.OwnerID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return messages, nil
}

// Dead-letter reasons, also used as metric labels.
const (
	reasonUnroutable     = "unroutable"
	reasonInvalidPayload = "invalid_payload"
	reasonSchemaRegistry = "schema_registry"
	reasonKafkaWrite     = "kafka_write"
)

type deliveryFailure struct {
	msg    Message
	reason string
	err    error
}

// deliver publishes messages grouped by topic. A bad event or a failed topic
// write only dead-letters the events it affects.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) ([]Message, []deliveryFailure) {
	type topicBatch struct {
		source  []Message
		records []kafka.Message
	}

	var failed []deliveryFailure
	batches := make(map[string]*topicBatch)

	for _, msg := range messages {
		record, reason, err := d.encode(ctx, msg)
		if err != nil {
			failed = append(failed, deliveryFailure{msg: msg, reason: reason, err: err})
			continue
		}
		batch, ok := batches[msg.Topic]
		if !ok {
			batch = &topicBatch{}
			batches[msg.Topic] = batch
		}
		batch.source = append(batch.source, msg)
		batch.records = append(batch.records, record)
	}

	topics := make([]string, 0, len(batches))
	for topic := range batches {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	var published []Message
	for _, topic := range topics {
		batch := batches[topic]
		if err := d.producer.WriteMessages(ctx, topic, batch.records...); err != nil {
			d.log.Warn("kafka write failed", "topic", topic, "events", len(batch.source), "error", err)
			for _, msg := range batch.source {
				failed = append(failed, deliveryFailure{msg: msg, reason: reasonKafkaWrite, err: err})
			}
			continue
		}
		published = append(published, batch.source...)
	}
	return published, failed
}

// encode checks msg against the event catalog and frames its payload with the
// registered schema id.
func (d *Dispatcher) encode(ctx context.Context, msg Message) (kafka.Message, string, error) {
	route, ok := platformevents.Lookup(msg.EventType)
	if !ok {
		return kafka.Message{}, reasonUnroutable, fmt.Errorf("unknown event_type=%s", msg.EventType)
	}
	if msg.Topic != route.Topic || msg.SchemaSubject != route.Subject {
		return kafka.Message{}, reasonUnroutable, fmt.Errorf("event_type=%s routed to %s/%s, want %s/%s",
			msg.EventType, msg.Topic, msg.SchemaSubject, route.Topic, route.Subject)
	}

	payload, err := platformevents.Decode(msg.EventType, msg.Payload)
	if err != nil {
		return kafka.Message{}, reasonInvalidPayload, err
	}
	if payload.Owner() != msg.OwnerID {
		return kafka.Message{}, reasonInvalidPayload, fmt.Errorf("payload owner %q does not match row owner %q", payload.Owner(), msg.OwnerID)
	}

	schemaID, err := d.schemaID(ctx, route.Subject, schemaFor(msg.EventType))
	if err != nil {
		return kafka.Message{}, reasonSchemaRegistry, err
	}

	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(msg.EventType)},
			{Key: HeaderOwnerID, Value: []byte(msg.OwnerID)},
			{Key: HeaderSchemaSubject, Value: []byte(route.Subject)},
		},
	}, "", nil
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	if id, ok := d.schemaIDCache.Load(subject); ok {
		return id.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", subject, err)
	}
	d.schemaIDCache.Store(subject, id)
	return id, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}
	if _, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, failed []deliveryFailure) error {
	for _, f := range failed {
		if err := d.dlq.Write(ctx, f.msg, fmt.Sprintf("%s: %v", f.reason, f.err)); err != nil {
			return err
		}
		deadLetteredCounter.WithLabelValues(f.msg.EventType, f.reason).Inc()
		d.log.Info("outbox event dead-lettered", "event_id", f.msg.EventID, "event_type", f.msg.EventType, "owner_id", f.msg.OwnerID, "reason", f.reason)
	}
	return nil
}

// Kafka headers set on every published record.
const (
	HeaderEventType     = "event_type"
	HeaderOwnerID       = "owner_id"
	HeaderSchemaSubject = "schema_subject"
)

// Message represents a row fetched from outbox.
type Message struct {
	EventID       int64
	OwnerID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
