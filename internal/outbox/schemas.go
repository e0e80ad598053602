package outbox

import platformevents "example.com/scheduling/pkg/events"

var schemas = map[string]string{
	platformevents.TypeActivityScheduled: activityScheduledSchema,
	platformevents.TypeActivityUpdated:   activityUpdatedSchema,
	platformevents.TypeActivityCancelled: activityCancelledSchema,
	platformevents.TypeActivityCompleted: activityCompletedSchema,
	platformevents.TypeStreakUpdated:     streakUpdatedSchema,
}

// schemaFor returns the JSON schema registered for eventType. Callers check
// the event catalog first.
func schemaFor(eventType string) string {
	return schemas[eventType]
}

const activityScheduledSchema = `{
  "type": "object",
  "title": "ActivityScheduled",
  "properties": {
    "activity_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "title": {"type": "string"},
    "activity_type": {"type": "string", "enum": ["workout", "meditation", "yoga"]},
    "ref_id": {"type": "string"},
    "date": {"type": "string", "format": "date"},
    "time": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"},
    "duration_min": {"type": "integer", "minimum": 1},
    "scheduled_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "owner_id", "title", "activity_type", "date", "time", "duration_min", "scheduled_at"],
  "additionalProperties": false
}`

const activityUpdatedSchema = `{
  "type": "object",
  "title": "ActivityUpdated",
  "properties": {
    "activity_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "date": {"type": "string", "format": "date"},
    "time": {"type": "string"},
    "duration_min": {"type": "integer", "minimum": 1},
    "completed": {"type": "boolean"},
    "updated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "owner_id", "date", "time", "duration_min", "completed", "updated_at"],
  "additionalProperties": false
}`

const activityCancelledSchema = `{
  "type": "object",
  "title": "ActivityCancelled",
  "properties": {
    "activity_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "date": {"type": "string", "format": "date"},
    "cancelled_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "owner_id", "date", "cancelled_at"],
  "additionalProperties": false
}`

const activityCompletedSchema = `{
  "type": "object",
  "title": "ActivityCompleted",
  "properties": {
    "entry_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "activity_type": {"type": "string"},
    "completed_at": {"type": "string", "format": "date-time"},
    "duration_min": {"type": "integer", "minimum": 0},
    "rating": {"type": "integer", "minimum": 1, "maximum": 5}
  },
  "required": ["entry_id", "activity_id", "owner_id", "activity_type", "completed_at", "duration_min"],
  "additionalProperties": false
}`

const streakUpdatedSchema = `{
  "type": "object",
  "title": "StreakUpdated",
  "properties": {
    "owner_id": {"type": "string"},
    "current_streak": {"type": "integer", "minimum": 0},
    "longest_streak": {"type": "integer", "minimum": 0},
    "total_workouts": {"type": "integer", "minimum": 0},
    "last_workout_date": {"type": "string", "format": "date"},
    "weekly_goal": {"type": "integer"},
    "updated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["owner_id", "current_streak", "longest_streak", "total_workouts", "weekly_goal", "updated_at"],
  "additionalProperties": false
}`
