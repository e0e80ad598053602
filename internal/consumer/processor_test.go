package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/logger"
	platformevents "example.com/scheduling/pkg/events"
)

func framed(schemaID int, payload []byte) []byte {
	value := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(value[1:5], uint32(schemaID))
	copy(value[5:], payload)
	return value
}

// record builds a Kafka record the way the outbox dispatcher publishes it.
func record(t *testing.T, offset int64, eventType string, payload platformevents.Payload) kafka.Message {
	t.Helper()

	route, ok := platformevents.Lookup(eventType)
	require.True(t, ok)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafka.Message{
		Topic:  route.Topic,
		Offset: offset,
		Time:   time.Now().UTC(),
		Key:    []byte(payload.Owner()),
		Value:  framed(42, body),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "owner_id", Value: []byte(payload.Owner())},
			{Key: "schema_subject", Value: []byte(route.Subject)},
		},
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduledAt := time.Now().UTC().Add(-2 * time.Second)
	msg := record(t, 10, platformevents.TypeActivityScheduled, platformevents.ActivityScheduled{
		ActivityID: "act-1", OwnerID: "owner-1", Title: "Morning flow", ActivityType: "yoga",
		Date: "2024-06-01", Time: "07:00", DurationMin: 30, ScheduledAt: scheduledAt,
	})

	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := &stubHandler{}
	before := testutil.ToFloat64(consumedCounter.WithLabelValues(platformevents.TypeActivityScheduled, outcomeProcessed))

	processor := NewProcessor(reader, handler, WithLogger(logger.Nop()))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, platformevents.TypeActivityScheduled, handler.last.EventType)
	require.Equal(t, "owner-1", handler.last.OwnerID)
	require.Equal(t, "act-1", handler.last.AggregateID)
	require.Equal(t, "schedule_events-activity.scheduled", handler.last.SchemaSubject)
	require.Equal(t, 42, handler.last.SchemaID)

	scheduled, ok := handler.last.Body.(platformevents.ActivityScheduled)
	require.True(t, ok)
	require.Equal(t, "yoga", scheduled.ActivityType)
	require.True(t, scheduled.ScheduledAt.Equal(scheduledAt))
	require.InDelta(t, before+1, testutil.ToFloat64(consumedCounter.WithLabelValues(platformevents.TypeActivityScheduled, outcomeProcessed)), 0.0001)
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := record(t, 20, platformevents.TypeStreakUpdated, platformevents.StreakUpdated{
		OwnerID: "owner-2", CurrentStreak: 3, LongestStreak: 3, TotalWorkouts: 8, WeeklyGoal: 3, UpdatedAt: time.Now().UTC(),
	})

	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := &stubHandler{err: errors.New("boom")}
	before := testutil.ToFloat64(consumedCounter.WithLabelValues(platformevents.TypeStreakUpdated, outcomeHandlerError))

	processor := NewProcessor(reader, handler)

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, reader.commitCalls)
	require.InDelta(t, before+1, testutil.ToFloat64(consumedCounter.WithLabelValues(platformevents.TypeStreakUpdated, outcomeHandlerError)), 0.0001)
}

func TestProcessorCommitsUndecodableMessages(t *testing.T) {
	at := time.Now().UTC()
	completed := platformevents.ActivityCompleted{EntryID: "e1", ActivityID: "act-1", OwnerID: "owner-1", ActivityType: "workout", CompletedAt: at, DurationMin: 45}

	tooShort := record(t, 1, platformevents.TypeActivityCompleted, completed)
	tooShort.Value = []byte{0, 1}

	badMagic := record(t, 2, platformevents.TypeActivityCompleted, completed)
	badMagic.Value[0] = 1

	noType := record(t, 3, platformevents.TypeActivityCompleted, completed)
	noType.Headers = noType.Headers[1:]

	unknown := record(t, 4, platformevents.TypeActivityCompleted, completed)
	unknown.Headers[0].Value = []byte("activity.archived")

	wrongTopic := record(t, 5, platformevents.TypeStreakUpdated, platformevents.StreakUpdated{OwnerID: "owner-1", UpdatedAt: at})
	wrongTopic.Topic = platformevents.TopicSchedule

	foreign := record(t, 6, platformevents.TypeActivityCompleted, completed)
	foreign.Headers[1].Value = []byte("owner-9")

	cases := []struct {
		msg    kafka.Message
		reason string
	}{
		{tooShort, reasonFraming},
		{badMagic, reasonFraming},
		{noType, reasonMissingHeader},
		{unknown, reasonUnknownEventType},
		{wrongTopic, reasonTopicMismatch},
		{foreign, reasonInvalidPayload},
	}

	before := map[string]float64{}
	messages := make([]kafka.Message, 0, len(cases))
	for _, tc := range cases {
		before[tc.reason] = testutil.ToFloat64(decodeErrorCounter.WithLabelValues(platformevents.TopicSchedule, tc.reason))
		messages = append(messages, tc.msg)
	}

	reader := &stubReader{messages: messages, after: contextCanceled}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Zero(t, handler.calls)
	require.Equal(t, len(cases), reader.commitCalls, "poison messages are committed")

	want := map[string]float64{}
	for _, tc := range cases {
		want[tc.reason]++
	}
	for reason, n := range want {
		require.InDelta(t, before[reason]+n, testutil.ToFloat64(decodeErrorCounter.WithLabelValues(platformevents.TopicSchedule, reason)), 0.0001, reason)
	}
}

func TestDecodeDefaultsSchemaSubjectFromCatalog(t *testing.T) {
	msg := record(t, 7, platformevents.TypeActivityCancelled, platformevents.ActivityCancelled{
		ActivityID: "act-3", OwnerID: "owner-3", Date: "2024-06-04", CancelledAt: time.Now().UTC(),
	})
	msg.Headers = msg.Headers[:2]

	decoded, decodeErr := decodeMessage(msg)
	require.Nil(t, decodeErr)
	require.Equal(t, "schedule_events-activity.cancelled", decoded.SchemaSubject)
	require.Equal(t, "act-3", decoded.AggregateID)
	require.IsType(t, platformevents.ActivityCancelled{}, decoded.Body)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

type stubHandler struct {
	calls int
	err   error
	last  Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}
