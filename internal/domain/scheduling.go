package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/scheduling/internal/observability"
)

// MaxListSpanDays bounds a single calendar listing.
const MaxListSpanDays = 62

// ScheduleRequest captures a schedule request from the API layer.
type ScheduleRequest struct {
	OwnerID             string
	Title               string
	Date                string
	Time                string
	DurationMin         int
	ActivityType        string
	Refs                RefIDs
	ReminderLeadMinutes *int
	Notes               string
	RecurrenceRule      string
}

// ReschedulePatch is the boundary form of a partial update.
type ReschedulePatch struct {
	Title               *string
	Date                *string
	Time                *string
	DurationMin         *int
	ActivityType        *string
	Refs                *RefIDs
	ReminderLeadMinutes *int
	Notes               *string
	RecurrenceRule      *string
}

// ScheduleActivity validates the request, checks for conflicts and persists a
// new pending activity.
func (e *Engine) ScheduleActivity(ctx context.Context, req ScheduleRequest) (*ScheduledActivity, error) {
	activity, err := e.validateSchedule(req)
	if err != nil {
		observability.RecordScheduleOutcome("invalid")
		return nil, err
	}

	unlock, err := e.lockAll(ctx, scheduleLockKey(activity.OwnerID, activity.Date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.detector.check(ctx, SlotQuery{
		OwnerID:     activity.OwnerID,
		Date:        activity.Date,
		Start:       activity.Start,
		DurationMin: activity.DurationMin,
	}); err != nil {
		if errors.Is(err, ErrConflict) {
			observability.RecordScheduleOutcome("conflict")
			e.log.Info("schedule rejected", "owner_id", activity.OwnerID, "date", FormatDate(activity.Date), "time", activity.Start.String(), "reason", err.Error())
		}
		return nil, err
	}

	created, err := e.events.Create(ctx, activity)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			observability.RecordScheduleOutcome("conflict")
		}
		return nil, err
	}
	observability.RecordScheduleOutcome("created")
	e.log.Debug("activity scheduled", "owner_id", created.OwnerID, "activity_id", created.ID, "date", FormatDate(created.Date), "time", created.Start.String())
	return created, nil
}

func (e *Engine) validateSchedule(req ScheduleRequest) (ScheduledActivity, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return ScheduledActivity{}, &ValidationError{Field: "owner_id", Reason: "is required"}
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return ScheduledActivity{}, &ValidationError{Field: "title", Reason: "is required"}
	}
	date, err := ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		return ScheduledActivity{}, err
	}
	if date.Before(e.today()) {
		return ScheduledActivity{}, &ValidationError{Field: "date", Reason: "must not be in the past"}
	}
	start, err := ParseTimeOfDay(strings.TrimSpace(req.Time))
	if err != nil {
		return ScheduledActivity{}, err
	}
	if req.DurationMin <= 0 {
		return ScheduledActivity{}, &ValidationError{Field: "duration_min", Reason: "must be > 0"}
	}
	ref, err := ResolveRef(req.ActivityType, req.Refs)
	if err != nil {
		return ScheduledActivity{}, err
	}
	if req.ReminderLeadMinutes != nil && *req.ReminderLeadMinutes < 0 {
		return ScheduledActivity{}, &ValidationError{Field: "reminder_lead_minutes", Reason: "must be >= 0"}
	}

	now := e.now().UTC()
	return ScheduledActivity{
		ID:                  uuid.NewString(),
		OwnerID:             req.OwnerID,
		Title:               title,
		Date:                date,
		Start:               start,
		DurationMin:         req.DurationMin,
		Activity:            ref,
		Completed:           false,
		ReminderLeadMinutes: copyInt(req.ReminderLeadMinutes),
		Notes:               req.Notes,
		RecurrenceRule:      strings.TrimSpace(req.RecurrenceRule),
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// RescheduleActivity applies a partial update, re-running the conflict check
// when date, time or duration change.
func (e *Engine) RescheduleActivity(ctx context.Context, ownerID, activityID string, patch ReschedulePatch) (*ScheduledActivity, error) {
	existing, err := e.loadOwned(ctx, ownerID, activityID)
	if err != nil {
		return nil, err
	}

	normalized, err := e.normalizePatch(*existing, patch)
	if err != nil {
		observability.RecordScheduleOutcome("invalid")
		return nil, err
	}

	keys := []string{scheduleLockKey(ownerID, existing.Date)}
	if normalized.Date != nil {
		keys = append(keys, scheduleLockKey(ownerID, *normalized.Date))
	}
	unlock, err := e.lockAll(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; the row may have moved or gone since the first read.
	current, err := e.loadOwned(ctx, ownerID, activityID)
	if err != nil {
		return nil, err
	}
	if !current.Date.Equal(existing.Date) {
		return nil, &ConflictError{Date: current.Date, Interval: current.Interval(), ConflictingIDs: []string{current.ID},
			Err: errors.New("activity was rescheduled concurrently")}
	}

	if normalized.TouchesSchedule() {
		merged := *current
		normalized.Apply(&merged)
		if err := e.detector.check(ctx, SlotQuery{
			OwnerID:     ownerID,
			Date:        merged.Date,
			Start:       merged.Start,
			DurationMin: merged.DurationMin,
			ExcludeID:   activityID,
		}); err != nil {
			if errors.Is(err, ErrConflict) {
				observability.RecordScheduleOutcome("conflict")
				e.log.Info("reschedule rejected", "owner_id", ownerID, "activity_id", activityID, "reason", err.Error())
			}
			return nil, err
		}
	}

	normalized.UpdatedAt = e.now().UTC()
	updated, err := e.events.Update(ctx, activityID, normalized)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrNotFound
	}
	return updated, nil
}

func (e *Engine) normalizePatch(current ScheduledActivity, patch ReschedulePatch) (ActivityPatch, error) {
	var out ActivityPatch

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return out, &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		out.Title = &title
	}
	if patch.Date != nil {
		date, err := ParseDate(strings.TrimSpace(*patch.Date))
		if err != nil {
			return out, err
		}
		if date.Before(e.today()) {
			return out, &ValidationError{Field: "date", Reason: "must not be in the past"}
		}
		out.Date = &date
	}
	if patch.Time != nil {
		start, err := ParseTimeOfDay(strings.TrimSpace(*patch.Time))
		if err != nil {
			return out, err
		}
		out.Start = &start
	}
	if patch.DurationMin != nil {
		if *patch.DurationMin <= 0 {
			return out, &ValidationError{Field: "duration_min", Reason: "must be > 0"}
		}
		out.DurationMin = copyInt(patch.DurationMin)
	}
	if patch.ActivityType != nil || patch.Refs != nil {
		rawType := string(current.Activity.Type)
		if patch.ActivityType != nil {
			rawType = *patch.ActivityType
		}
		refs := RefIDs{}
		if patch.Refs != nil {
			refs = *patch.Refs
		} else if t, err := ParseActivityType(rawType); err == nil && t == current.Activity.Type {
			refs = refIDsOf(current.Activity)
		}
		ref, err := ResolveRef(rawType, refs)
		if err != nil {
			return out, err
		}
		out.Activity = &ref
	}
	if patch.ReminderLeadMinutes != nil {
		if *patch.ReminderLeadMinutes < 0 {
			return out, &ValidationError{Field: "reminder_lead_minutes", Reason: "must be >= 0"}
		}
		out.ReminderLeadMinutes = copyInt(patch.ReminderLeadMinutes)
	}
	if patch.Notes != nil {
		notes := *patch.Notes
		out.Notes = &notes
	}
	if patch.RecurrenceRule != nil {
		rule := strings.TrimSpace(*patch.RecurrenceRule)
		out.RecurrenceRule = &rule
	}
	return out, nil
}

// CancelActivity hard-deletes the activity. History entries already written
// for it are kept.
func (e *Engine) CancelActivity(ctx context.Context, ownerID, activityID string) error {
	existing, err := e.loadOwned(ctx, ownerID, activityID)
	if err != nil {
		return err
	}

	unlock, err := e.lockAll(ctx, scheduleLockKey(ownerID, existing.Date))
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := e.loadOwned(ctx, ownerID, activityID); err != nil {
		return err
	}
	deleted, err := e.events.Delete(ctx, activityID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// GetActivity fetches one of the owner's activities.
func (e *Engine) GetActivity(ctx context.Context, ownerID, activityID string) (*ScheduledActivity, error) {
	return e.loadOwned(ctx, ownerID, activityID)
}

// ListActivities returns the owner's activities between two dates inclusive.
func (e *Engine) ListActivities(ctx context.Context, ownerID string, from, to time.Time) ([]ScheduledActivity, error) {
	from, to = DateOf(from), DateOf(to)
	if to.Before(from) {
		return nil, &ValidationError{Field: "to", Reason: "must not be before from"}
	}
	if DaysBetween(from, to) >= MaxListSpanDays {
		return nil, &ValidationError{Field: "to", Reason: "range must be shorter than 62 days"}
	}
	return e.events.ListByOwnerAndDateRange(ctx, ownerID, from, to)
}

// SuggestSlots lists the free gaps of a date that fit the duration.
func (e *Engine) SuggestSlots(ctx context.Context, ownerID string, date time.Time, durationMin int) ([]Interval, error) {
	if durationMin <= 0 {
		return nil, &ValidationError{Field: "duration_min", Reason: "must be > 0"}
	}
	existing, err := e.events.ListByOwnerAndDate(ctx, ownerID, DateOf(date))
	if err != nil {
		return nil, err
	}
	return FreeSlots(existing, durationMin), nil
}

func refIDsOf(ref ActivityRef) RefIDs {
	switch ref.Type {
	case ActivityWorkout:
		return RefIDs{WorkoutID: ref.ID}
	case ActivityMeditation:
		return RefIDs{MeditationID: ref.ID}
	case ActivityYoga:
		return RefIDs{YogaID: ref.ID}
	}
	return RefIDs{}
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
