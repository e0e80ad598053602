package domain

import (
	"strings"
	"time"
)

// ActivityType classifies a scheduled activity.
type ActivityType string

const (
	ActivityWorkout    ActivityType = "workout"
	ActivityMeditation ActivityType = "meditation"
	ActivityYoga       ActivityType = "yoga"
)

var activityTypes = map[ActivityType]struct{}{
	ActivityWorkout:    {},
	ActivityMeditation: {},
	ActivityYoga:       {},
}

// ParseActivityType accepts the canonical lower-case names as well as their
// capitalised display form ("Workout").
func ParseActivityType(raw string) (ActivityType, error) {
	t := ActivityType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := activityTypes[t]; !ok {
		return "", &ValidationError{Field: "activity_type", Reason: "must be one of workout, meditation, yoga"}
	}
	return t, nil
}

// ActivityRef is the activity kind plus an optional foreign reference into the
// matching catalog (a workout, meditation or yoga session id). A single ID
// field means the reference can never disagree with the kind.
type ActivityRef struct {
	Type ActivityType
	ID   string
}

// WorkoutRef references a workout catalog entry.
func WorkoutRef(id string) ActivityRef { return ActivityRef{Type: ActivityWorkout, ID: id} }

// MeditationRef references a meditation catalog entry.
func MeditationRef(id string) ActivityRef { return ActivityRef{Type: ActivityMeditation, ID: id} }

// YogaRef references a yoga catalog entry.
func YogaRef(id string) ActivityRef { return ActivityRef{Type: ActivityYoga, ID: id} }

// HasRef reports whether a catalog reference is attached.
func (r ActivityRef) HasRef() bool { return r.ID != "" }

// RefIDs is the boundary form of a reference: at most one field may be set
// and it must match the activity type.
type RefIDs struct {
	WorkoutID    string
	MeditationID string
	YogaID       string
}

// ResolveRef validates the raw type and reference ids and folds them into an ActivityRef.
func ResolveRef(rawType string, ids RefIDs) (ActivityRef, error) {
	t, err := ParseActivityType(rawType)
	if err != nil {
		return ActivityRef{}, err
	}

	supplied := map[ActivityType]string{}
	if v := strings.TrimSpace(ids.WorkoutID); v != "" {
		supplied[ActivityWorkout] = v
	}
	if v := strings.TrimSpace(ids.MeditationID); v != "" {
		supplied[ActivityMeditation] = v
	}
	if v := strings.TrimSpace(ids.YogaID); v != "" {
		supplied[ActivityYoga] = v
	}

	switch len(supplied) {
	case 0:
		return ActivityRef{Type: t}, nil
	case 1:
		id, ok := supplied[t]
		if !ok {
			return ActivityRef{}, &ValidationError{Field: "ref", Reason: "reference does not match activity_type " + string(t)}
		}
		return ActivityRef{Type: t, ID: id}, nil
	default:
		return ActivityRef{}, &ValidationError{Field: "ref", Reason: "at most one of workout_id, meditation_id, yoga_id may be set"}
	}
}

// ScheduledActivity is one planned occurrence of a fitness activity.
type ScheduledActivity struct {
	ID                  string
	OwnerID             string
	Title               string
	Date                time.Time // calendar day, midnight UTC
	Start               TimeOfDay
	DurationMin         int
	Activity            ActivityRef
	Completed           bool
	ReminderLeadMinutes *int
	Notes               string
	RecurrenceRule      string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Interval returns the activity's half-open time span on its date.
func (a ScheduledActivity) Interval() Interval {
	return Interval{Start: int(a.Start), End: int(a.Start) + a.DurationMin}
}

// ActivityPatch is a normalised partial update. Nil fields are left untouched.
type ActivityPatch struct {
	Title               *string
	Date                *time.Time
	Start               *TimeOfDay
	DurationMin         *int
	Activity            *ActivityRef
	Completed           *bool
	ReminderLeadMinutes *int
	Notes               *string
	RecurrenceRule      *string
	UpdatedAt           time.Time
}

// TouchesSchedule reports whether the patch changes date, time or duration.
func (p ActivityPatch) TouchesSchedule() bool {
	return p.Date != nil || p.Start != nil || p.DurationMin != nil
}

// Apply writes the non-nil fields onto the activity. Owner and id are immutable.
func (p ActivityPatch) Apply(a *ScheduledActivity) {
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.Start != nil {
		a.Start = *p.Start
	}
	if p.DurationMin != nil {
		a.DurationMin = *p.DurationMin
	}
	if p.Activity != nil {
		a.Activity = *p.Activity
	}
	if p.Completed != nil {
		a.Completed = *p.Completed
	}
	if p.ReminderLeadMinutes != nil {
		v := *p.ReminderLeadMinutes
		a.ReminderLeadMinutes = &v
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
	if p.RecurrenceRule != nil {
		a.RecurrenceRule = *p.RecurrenceRule
	}
	if !p.UpdatedAt.IsZero() {
		a.UpdatedAt = p.UpdatedAt
	}
}

// CompletionHistoryEntry is the append-only record written when an activity is completed.
type CompletionHistoryEntry struct {
	ID          string
	OwnerID     string
	ActivityID  string
	Activity    ActivityRef
	Title       string
	CompletedAt time.Time
	DurationMin int
	Notes       string
	Rating      *int
}

// HistoryCursor models the history pagination token.
type HistoryCursor struct {
	CompletedAt time.Time
	ID          string
}

// DefaultWeeklyGoal is used until an owner sets their own target.
const DefaultWeeklyGoal = 3

// StreakRecord holds the per-owner adherence counters.
type StreakRecord struct {
	OwnerID         string
	CurrentStreak   int
	LongestStreak   int
	TotalWorkouts   int
	LastWorkoutDate *time.Time
	StreakStartDate *time.Time
	WeeklyGoal      int
	UpdatedAt       time.Time
}

// MonthlyStats is the derived completion summary for one calendar month.
type MonthlyStats struct {
	OwnerID               string
	Month                 int
	Year                  int
	TotalEvents           int
	CompletedEvents       int
	TotalWorkouts         int
	CompletedWorkouts     int
	CompletionRate        int
	WorkoutCompletionRate int
	ByType                map[ActivityType]TypeStats
}

// TypeStats is the per-activity-type slice of MonthlyStats.
type TypeStats struct {
	Total     int
	Completed int
}
