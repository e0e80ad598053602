package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/scheduling/internal/logger"
)

// KafkaProducer lazily manages one writer per topic. Messages are hashed by
// key so every event of an owner lands on the same partition in order.
type KafkaProducer struct {
	brokers      []string
	batchTimeout time.Duration
	log          *logger.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// ProducerOption configures optional behaviour for the KafkaProducer.
type ProducerOption func(*KafkaProducer)

// WithProducerLogger routes kafka writer errors to log.
func WithProducerLogger(log *logger.Logger) ProducerOption {
	return func(p *KafkaProducer) {
		if log != nil {
			p.log = log
		}
	}
}

// WithBatchTimeout bounds how long a writer waits to fill a batch.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(p *KafkaProducer) {
		if d > 0 {
			p.batchTimeout = d
		}
	}
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string, opts ...ProducerOption) *KafkaProducer {
	p := &KafkaProducer{
		brokers:      brokers,
		batchTimeout: 50 * time.Millisecond,
		log:          logger.Nop(),
		writers:      make(map[string]*kafka.Writer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WriteMessages writes messages to the given topic, creating a writer if necessary.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writerForTopic(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	errLog := p.log.With("topic", topic)
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		BatchTimeout:           p.batchTimeout,
		AllowAutoTopicCreation: true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			errLog.SugaredLogger.Errorf(msg, args...)
		}),
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
