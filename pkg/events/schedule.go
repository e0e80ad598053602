// Package events defines the payloads published for scheduling and adherence changes.
package events

import "time"

// Event type names, also used as outbox event_type and Kafka header values.
const (
	TypeActivityScheduled = "activity.scheduled"
	TypeActivityUpdated   = "activity.updated"
	TypeActivityCancelled = "activity.cancelled"
	TypeActivityCompleted = "activity.completed"
	TypeStreakUpdated     = "streak.updated"
)

// ActivityScheduled is emitted when a new activity is placed on the calendar.
type ActivityScheduled struct {
	ActivityID   string    `json:"activity_id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title"`
	ActivityType string    `json:"activity_type"`
	RefID        string    `json:"ref_id,omitempty"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	DurationMin  int       `json:"duration_min"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}

// ActivityUpdated is emitted on reschedule or when the completed flag flips.
type ActivityUpdated struct {
	ActivityID  string    `json:"activity_id"`
	OwnerID     string    `json:"owner_id"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	DurationMin int       `json:"duration_min"`
	Completed   bool      `json:"completed"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ActivityCancelled is emitted when a scheduled activity is deleted.
type ActivityCancelled struct {
	ActivityID  string    `json:"activity_id"`
	OwnerID     string    `json:"owner_id"`
	Date        string    `json:"date"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// ActivityCompleted mirrors an appended completion history entry.
type ActivityCompleted struct {
	EntryID      string    `json:"entry_id"`
	ActivityID   string    `json:"activity_id"`
	OwnerID      string    `json:"owner_id"`
	ActivityType string    `json:"activity_type"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMin  int       `json:"duration_min"`
	Rating       *int      `json:"rating,omitempty"`
}

// StreakUpdated carries the counters after a streak recomputation.
type StreakUpdated struct {
	OwnerID         string    `json:"owner_id"`
	CurrentStreak   int       `json:"current_streak"`
	LongestStreak   int       `json:"longest_streak"`
	TotalWorkouts   int       `json:"total_workouts"`
	LastWorkoutDate string    `json:"last_workout_date,omitempty"`
	WeeklyGoal      int       `json:"weekly_goal"`
	UpdatedAt       time.Time `json:"updated_at"`
}
