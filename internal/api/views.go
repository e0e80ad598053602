package api

import (
	"time"

	"example.com/scheduling/internal/domain"
)

// ScheduleActivityRequest is the payload for POST /v1/schedule. At most one
// of the catalog ids may be set and it must match activity_type.
type ScheduleActivityRequest struct {
	Title               string `json:"title"`
	Date                string `json:"date"`
	Time                string `json:"time"`
	DurationMin         int    `json:"duration_min"`
	ActivityType        string `json:"activity_type"`
	WorkoutID           string `json:"workout_id,omitempty"`
	MeditationID        string `json:"meditation_id,omitempty"`
	YogaID              string `json:"yoga_id,omitempty"`
	ReminderLeadMinutes *int   `json:"reminder_lead_minutes,omitempty"`
	Notes               string `json:"notes,omitempty"`
	RecurrenceRule      string `json:"recurrence_rule,omitempty"`
}

// RescheduleActivityRequest is the payload for PATCH /v1/schedule/{id}.
// Absent fields are left unchanged.
type RescheduleActivityRequest struct {
	Title               *string `json:"title"`
	Date                *string `json:"date"`
	Time                *string `json:"time"`
	DurationMin         *int    `json:"duration_min"`
	ActivityType        *string `json:"activity_type"`
	WorkoutID           *string `json:"workout_id"`
	MeditationID        *string `json:"meditation_id"`
	YogaID              *string `json:"yoga_id"`
	ReminderLeadMinutes *int    `json:"reminder_lead_minutes"`
	Notes               *string `json:"notes"`
	RecurrenceRule      *string `json:"recurrence_rule"`
}

func (r RescheduleActivityRequest) toPatch() domain.ReschedulePatch {
	patch := domain.ReschedulePatch{
		Title:               r.Title,
		Date:                r.Date,
		Time:                r.Time,
		DurationMin:         r.DurationMin,
		ActivityType:        r.ActivityType,
		ReminderLeadMinutes: r.ReminderLeadMinutes,
		Notes:               r.Notes,
		RecurrenceRule:      r.RecurrenceRule,
	}
	if r.WorkoutID != nil || r.MeditationID != nil || r.YogaID != nil {
		patch.Refs = &domain.RefIDs{
			WorkoutID:    deref(r.WorkoutID),
			MeditationID: deref(r.MeditationID),
			YogaID:       deref(r.YogaID),
		}
	}
	return patch
}

// CompleteActivityRequest is the optional body of POST /v1/schedule/{id}/complete.
type CompleteActivityRequest struct {
	DurationMin int    `json:"duration_min"`
	Notes       string `json:"notes"`
	Rating      *int   `json:"rating"`
}

// WeeklyGoalRequest is the payload for PUT /v1/streak/weekly-goal.
type WeeklyGoalRequest struct {
	WeeklyGoal int `json:"weekly_goal"`
}

// ActivityView exposes full details about a scheduled activity.
type ActivityView struct {
	ActivityID          string    `json:"activity_id"`
	OwnerID             string    `json:"owner_id"`
	Title               string    `json:"title"`
	Date                string    `json:"date"`
	Time                string    `json:"time"`
	EndTime             string    `json:"end_time"`
	DurationMin         int       `json:"duration_min"`
	ActivityType        string    `json:"activity_type"`
	WorkoutID           string    `json:"workout_id,omitempty"`
	MeditationID        string    `json:"meditation_id,omitempty"`
	YogaID              string    `json:"yoga_id,omitempty"`
	Completed           bool      `json:"completed"`
	ReminderLeadMinutes *int      `json:"reminder_lead_minutes,omitempty"`
	Notes               string    `json:"notes,omitempty"`
	RecurrenceRule      string    `json:"recurrence_rule,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items []ActivityView `json:"items"`
}

// SlotView is a free span of a day. End may read "24:00".
type SlotView struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	DurationMin int    `json:"duration_min"`
}

// FreeSlotsResponse lists the gaps of a date long enough for the duration.
type FreeSlotsResponse struct {
	Date        string     `json:"date"`
	DurationMin int        `json:"duration_min"`
	Slots       []SlotView `json:"slots"`
}

// ConflictResponse is the 409 body for refused bookings.
type ConflictResponse struct {
	Type           string     `json:"type"`
	Detail         string     `json:"detail"`
	ConflictingIDs []string   `json:"conflicting_ids,omitempty"`
	SuggestedSlots []SlotView `json:"suggested_slots"`
}

// StreakView describes an owner's adherence counters.
type StreakView struct {
	OwnerID         string     `json:"owner_id"`
	CurrentStreak   int        `json:"current_streak"`
	LongestStreak   int        `json:"longest_streak"`
	TotalWorkouts   int        `json:"total_workouts"`
	LastWorkoutDate *string    `json:"last_workout_date"`
	StreakStartDate *string    `json:"streak_start_date"`
	WeeklyGoal      int        `json:"weekly_goal"`
	WeeklyCompleted int        `json:"weekly_completed"`
	WeeklyGoalMet   bool       `json:"weekly_goal_met"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// TypeStatsView is the per-type slice of the monthly summary.
type TypeStatsView struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

// MonthlyStatsView is the response body for GET /v1/stats/monthly.
type MonthlyStatsView struct {
	Month                 int                      `json:"month"`
	Year                  int                      `json:"year"`
	TotalEvents           int                      `json:"total_events"`
	CompletedEvents       int                      `json:"completed_events"`
	TotalWorkouts         int                      `json:"total_workouts"`
	CompletedWorkouts     int                      `json:"completed_workouts"`
	CompletionRate        int                      `json:"completion_rate"`
	WorkoutCompletionRate int                      `json:"workout_completion_rate"`
	ByType                map[string]TypeStatsView `json:"by_type"`
}

// HistoryEntryView is one completion log entry.
type HistoryEntryView struct {
	EntryID      string    `json:"entry_id"`
	ActivityID   string    `json:"activity_id"`
	ActivityType string    `json:"activity_type"`
	RefID        string    `json:"ref_id,omitempty"`
	Title        string    `json:"title"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMin  int       `json:"duration_min"`
	Notes        string    `json:"notes,omitempty"`
	Rating       *int      `json:"rating,omitempty"`
}

// ListHistoryResponse packages a page of history.
type ListHistoryResponse struct {
	Items      []HistoryEntryView `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

func toActivityView(a domain.ScheduledActivity) ActivityView {
	view := ActivityView{
		ActivityID:          a.ID,
		OwnerID:             a.OwnerID,
		Title:               a.Title,
		Date:                domain.FormatDate(a.Date),
		Time:                a.Start.String(),
		EndTime:             domain.TimeOfDay(a.Interval().End % (24 * 60)).String(),
		DurationMin:         a.DurationMin,
		ActivityType:        string(a.Activity.Type),
		Completed:           a.Completed,
		ReminderLeadMinutes: a.ReminderLeadMinutes,
		Notes:               a.Notes,
		RecurrenceRule:      a.RecurrenceRule,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
	switch a.Activity.Type {
	case domain.ActivityWorkout:
		view.WorkoutID = a.Activity.ID
	case domain.ActivityMeditation:
		view.MeditationID = a.Activity.ID
	case domain.ActivityYoga:
		view.YogaID = a.Activity.ID
	}
	return view
}

func toSlotViews(slots []domain.Interval) []SlotView {
	out := make([]SlotView, 0, len(slots))
	for _, slot := range slots {
		out = append(out, SlotView{
			Start:       domain.TimeOfDay(slot.Start).String(),
			End:         domain.TimeOfDay(slot.End).String(),
			DurationMin: slot.Minutes(),
		})
	}
	return out
}

func toStreakView(r domain.StreakRecord) StreakView {
	view := StreakView{
		OwnerID:       r.OwnerID,
		CurrentStreak: r.CurrentStreak,
		LongestStreak: r.LongestStreak,
		TotalWorkouts: r.TotalWorkouts,
		WeeklyGoal:    r.WeeklyGoal,
	}
	if r.LastWorkoutDate != nil {
		d := domain.FormatDate(*r.LastWorkoutDate)
		view.LastWorkoutDate = &d
	}
	if r.StreakStartDate != nil {
		d := domain.FormatDate(*r.StreakStartDate)
		view.StreakStartDate = &d
	}
	if !r.UpdatedAt.IsZero() {
		ts := r.UpdatedAt
		view.UpdatedAt = &ts
	}
	return view
}

func toMonthlyStatsView(s domain.MonthlyStats) MonthlyStatsView {
	view := MonthlyStatsView{
		Month:                 s.Month,
		Year:                  s.Year,
		TotalEvents:           s.TotalEvents,
		CompletedEvents:       s.CompletedEvents,
		TotalWorkouts:         s.TotalWorkouts,
		CompletedWorkouts:     s.CompletedWorkouts,
		CompletionRate:        s.CompletionRate,
		WorkoutCompletionRate: s.WorkoutCompletionRate,
		ByType:                make(map[string]TypeStatsView, len(s.ByType)),
	}
	for t, stats := range s.ByType {
		view.ByType[string(t)] = TypeStatsView{Total: stats.Total, Completed: stats.Completed}
	}
	return view
}

func toHistoryEntryView(e domain.CompletionHistoryEntry) HistoryEntryView {
	return HistoryEntryView{
		EntryID:      e.ID,
		ActivityID:   e.ActivityID,
		ActivityType: string(e.Activity.Type),
		RefID:        e.Activity.ID,
		Title:        e.Title,
		CompletedAt:  e.CompletedAt,
		DurationMin:  e.DurationMin,
		Notes:        e.Notes,
		Rating:       e.Rating,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
