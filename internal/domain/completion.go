package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/scheduling/internal/observability"
)

// CompletionDetails are optional facts recorded on the history entry.
type CompletionDetails struct {
	// DurationMin is the realised duration; zero means "as scheduled".
	DurationMin int
	Notes       string
	Rating      *int
}

func (d CompletionDetails) validate() error {
	if d.DurationMin < 0 {
		return &ValidationError{Field: "duration_min", Reason: "must be >= 0"}
	}
	if d.Rating != nil && (*d.Rating < 1 || *d.Rating > 5) {
		return &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	return nil
}

// CompleteActivity marks the activity completed, appends one history entry
// and advances the streak for workouts, all in one store call. Completing an
// already completed activity returns it unchanged with no side effects.
// Activities dated after today cannot be completed.
func (e *Engine) CompleteActivity(ctx context.Context, ownerID, activityID string, details CompletionDetails) (*ScheduledActivity, error) {
	if err := details.validate(); err != nil {
		return nil, err
	}

	existing, err := e.loadOwned(ctx, ownerID, activityID)
	if err != nil {
		return nil, err
	}
	if existing.Completed {
		return existing, nil
	}
	if err := e.checkNotFuture(existing.Date); err != nil {
		return nil, err
	}

	unlock, err := e.lockAll(ctx, scheduleLockKey(ownerID, existing.Date), streakLockKey(ownerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := e.loadOwned(ctx, ownerID, activityID)
	if err != nil {
		return nil, err
	}
	if current.Completed {
		return current, nil
	}
	if !current.Date.Equal(existing.Date) {
		return nil, fmt.Errorf("%w: activity moved while completing", ErrConflict)
	}

	now := e.now().UTC()
	duration := details.DurationMin
	if duration == 0 {
		duration = current.DurationMin
	}
	completion := Completion{
		ActivityID:  current.ID,
		CompletedAt: now,
		Entry: CompletionHistoryEntry{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			ActivityID:  current.ID,
			Activity:    current.Activity,
			Title:       current.Title,
			CompletedAt: now,
			DurationMin: duration,
			Notes:       strings.TrimSpace(details.Notes),
			Rating:      copyInt(details.Rating),
		},
	}
	if current.Activity.Type == ActivityWorkout {
		stored, err := e.streaks.Get(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("load streak: %w", err)
		}
		next := advanceStreak(stored, ownerID, DateOf(current.Date), e.weeklyGoal)
		next.UpdatedAt = now
		completion.Streak = &next
	}

	updated, err := e.history.AppendCompletion(ctx, completion)
	if err != nil {
		return nil, fmt.Errorf("record completion: %w", err)
	}
	if updated == nil {
		return nil, ErrNotFound
	}

	observability.RecordCompletion(string(updated.Activity.Type))
	if completion.Streak != nil {
		observability.ObserveStreak(completion.Streak.CurrentStreak)
	}
	e.log.Debug("activity completed", "owner_id", ownerID, "activity_id", activityID, "activity_type", updated.Activity.Type)
	return updated, nil
}

// checkNotFuture refuses completions for days that have not happened yet, so
// the streak's last workout never lies after today.
func (e *Engine) checkNotFuture(date time.Time) error {
	if DateOf(date).After(e.today()) {
		return &ValidationError{Field: "date", Reason: "activity is scheduled in the future"}
	}
	return nil
}

// UncompleteActivity clears the completed flag. Streak counters and the
// history entry written on completion are left as they are.
func (e *Engine) UncompleteActivity(ctx context.Context, ownerID, activityID string) (*ScheduledActivity, error) {
	existing, err := e.loadOwned(ctx, ownerID, activityID)
	if err != nil {
		return nil, err
	}
	if !existing.Completed {
		return existing, nil
	}

	unlock, err := e.lockAll(ctx, scheduleLockKey(ownerID, existing.Date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := e.loadOwned(ctx, ownerID, activityID)
	if err != nil {
		return nil, err
	}
	if !current.Completed {
		return current, nil
	}

	completed := false
	updated, err := e.events.Update(ctx, activityID, ActivityPatch{Completed: &completed, UpdatedAt: e.now().UTC()})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrNotFound
	}
	return updated, nil
}
