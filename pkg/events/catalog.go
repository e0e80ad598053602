package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kafka topics. Activity lifecycle events share one topic so a consumer sees
// an owner's schedule changes in order; streak counters have their own.
const (
	TopicSchedule = "schedule_events"
	TopicStreak   = "streak_events"
)

// Aggregate types stored on outbox rows.
const (
	AggregateActivity = "scheduled_activity"
	AggregateStreak   = "streak_record"
)

// Route says where an event type is published.
type Route struct {
	AggregateType string
	Topic         string
	Subject       string
}

var routes = map[string]Route{
	TypeActivityScheduled: route(AggregateActivity, TopicSchedule, TypeActivityScheduled),
	TypeActivityUpdated:   route(AggregateActivity, TopicSchedule, TypeActivityUpdated),
	TypeActivityCancelled: route(AggregateActivity, TopicSchedule, TypeActivityCancelled),
	TypeActivityCompleted: route(AggregateActivity, TopicSchedule, TypeActivityCompleted),
	TypeStreakUpdated:     route(AggregateStreak, TopicStreak, TypeStreakUpdated),
}

// Subjects follow topic-record naming so each event type keeps its own schema lineage.
func route(aggregate, topic, eventType string) Route {
	return Route{AggregateType: aggregate, Topic: topic, Subject: topic + "-" + eventType}
}

// Lookup returns the route for eventType.
func Lookup(eventType string) (Route, bool) {
	r, ok := routes[eventType]
	return r, ok
}

// Types lists every known event type.
func Types() []string {
	return []string{TypeActivityScheduled, TypeActivityUpdated, TypeActivityCancelled, TypeActivityCompleted, TypeStreakUpdated}
}

// Payload is implemented by every event body.
type Payload interface {
	// Owner is the owner the event belongs to.
	Owner() string
	// Aggregate identifies the activity or, for streaks, the owner.
	Aggregate() string
	// OccurredAt is when the change was committed.
	OccurredAt() time.Time
}

func (e ActivityScheduled) Owner() string         { return e.OwnerID }
func (e ActivityScheduled) Aggregate() string     { return e.ActivityID }
func (e ActivityScheduled) OccurredAt() time.Time { return e.ScheduledAt }

func (e ActivityUpdated) Owner() string         { return e.OwnerID }
func (e ActivityUpdated) Aggregate() string     { return e.ActivityID }
func (e ActivityUpdated) OccurredAt() time.Time { return e.UpdatedAt }

func (e ActivityCancelled) Owner() string         { return e.OwnerID }
func (e ActivityCancelled) Aggregate() string     { return e.ActivityID }
func (e ActivityCancelled) OccurredAt() time.Time { return e.CancelledAt }

func (e ActivityCompleted) Owner() string         { return e.OwnerID }
func (e ActivityCompleted) Aggregate() string     { return e.ActivityID }
func (e ActivityCompleted) OccurredAt() time.Time { return e.CompletedAt }

func (e StreakUpdated) Owner() string         { return e.OwnerID }
func (e StreakUpdated) Aggregate() string     { return e.OwnerID }
func (e StreakUpdated) OccurredAt() time.Time { return e.UpdatedAt }

// Decode unmarshals raw into the typed payload for eventType.
func Decode(eventType string, raw []byte) (Payload, error) {
	var (
		payload Payload
		err     error
	)
	switch eventType {
	case TypeActivityScheduled:
		var e ActivityScheduled
		err = json.Unmarshal(raw, &e)
		payload = e
	case TypeActivityUpdated:
		var e ActivityUpdated
		err = json.Unmarshal(raw, &e)
		payload = e
	case TypeActivityCancelled:
		var e ActivityCancelled
		err = json.Unmarshal(raw, &e)
		payload = e
	case TypeActivityCompleted:
		var e ActivityCompleted
		err = json.Unmarshal(raw, &e)
		payload = e
	case TypeStreakUpdated:
		var e StreakUpdated
		err = json.Unmarshal(raw, &e)
		payload = e
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	if payload.Owner() == "" {
		return nil, fmt.Errorf("decode %s: missing owner_id", eventType)
	}
	return payload, nil
}
