// Package consumer reads schedule and streak events back from Kafka.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/scheduling/internal/logger"
	platformevents "example.com/scheduling/pkg/events"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a schedule or streak event read back from Kafka. Body holds the
// typed payload; Payload keeps the raw JSON for the audit log.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	OwnerID       string
	AggregateID   string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
	Body          platformevents.Payload
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(log *logger.Logger) Option {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader  Reader
	handler Handler
	log     *logger.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.log.Warn("fetch error", "error", err)
			continue
		}

		event, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.log.Warn("decode error", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "reason", decodeErr.reason, "error", decodeErr.err)
			recordDecodeError(msg.Topic, decodeErr.reason)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.log.Error("commit error after decode failure", "error", commitErr)
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, event); handleErr != nil {
			p.log.Error("handler error", "event_type", event.EventType, "owner_id", event.OwnerID, "error", handleErr)
			recordHandled(event, outcomeHandlerError)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.log.Error("commit error", "error", commitErr)
		} else {
			recordHandled(event, outcomeProcessed)
		}
	}
}

// Decode failure reasons, also used as metric labels.
const (
	reasonFraming          = "framing"
	reasonMissingHeader    = "missing_header"
	reasonUnknownEventType = "unknown_event_type"
	reasonTopicMismatch    = "topic_mismatch"
	reasonInvalidPayload   = "invalid_payload"
)

type decodeError struct {
	reason string
	err    error
}

func decodeFailure(reason string, format string, args ...any) *decodeError {
	return &decodeError{reason: reason, err: fmt.Errorf(format, args...)}
}

// decodeMessage unframes msg and checks it against the event catalog before
// any handler sees it.
func decodeMessage(msg kafka.Message) (Message, *decodeError) {
	if len(msg.Value) < 5 || msg.Value[0] != 0 {
		return Message{}, decodeFailure(reasonFraming, "invalid confluent frame of %d bytes", len(msg.Value))
	}

	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		return Message{}, decodeFailure(reasonMissingHeader, "missing event_type header")
	}
	ownerID, ok := headerValue(msg, "owner_id")
	if !ok {
		return Message{}, decodeFailure(reasonMissingHeader, "missing owner_id header")
	}

	route, ok := platformevents.Lookup(string(eventType))
	if !ok {
		return Message{}, decodeFailure(reasonUnknownEventType, "unknown event_type=%s", eventType)
	}
	if route.Topic != msg.Topic {
		return Message{}, decodeFailure(reasonTopicMismatch, "%s belongs on %s", eventType, route.Topic)
	}

	payload := json.RawMessage(append([]byte(nil), msg.Value[5:]...))
	body, err := platformevents.Decode(string(eventType), payload)
	if err != nil {
		return Message{}, &decodeError{reason: reasonInvalidPayload, err: err}
	}
	if body.Owner() != string(ownerID) {
		return Message{}, decodeFailure(reasonInvalidPayload, "payload owner %q does not match header %q", body.Owner(), ownerID)
	}

	schemaSubject := route.Subject
	if v, ok := headerValue(msg, "schema_subject"); ok {
		schemaSubject = string(v)
	}

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		EventType:     string(eventType),
		OwnerID:       string(ownerID),
		AggregateID:   body.Aggregate(),
		SchemaSubject: schemaSubject,
		SchemaID:      int(binary.BigEndian.Uint32(msg.Value[1:5])),
		Payload:       payload,
		Body:          body,
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
