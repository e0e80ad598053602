package domain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"example.com/scheduling/internal/observability"
)

const (
	// MaxRecomputeWindowDays bounds recomputeFromHistory scans.
	MaxRecomputeWindowDays = 366
	maxWeeklyGoal          = 21
	weekDays               = 7
)

// StreakView is a StreakRecord as reported to callers, with weekly progress.
type StreakView struct {
	StreakRecord
	WeeklyCompleted int
	WeeklyGoalMet   bool
}

// RecordCompletion advances the owner's streak for a workout completed on
// completionDate. CompleteActivity applies the same rule through advanceStreak
// inside its completion write.
func (e *Engine) RecordCompletion(ctx context.Context, ownerID string, completionDate time.Time) (*StreakRecord, error) {
	unlock, err := e.lockAll(ctx, streakLockKey(ownerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := e.streaks.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	next := advanceStreak(current, ownerID, DateOf(completionDate), e.weeklyGoal)
	next.UpdatedAt = e.now().UTC()

	saved, err := e.streaks.Upsert(ctx, next)
	if err != nil {
		return nil, err
	}
	observability.ObserveStreak(saved.CurrentStreak)
	e.log.Debug("streak updated", "owner_id", ownerID, "current", saved.CurrentStreak, "longest", saved.LongestStreak, "total", saved.TotalWorkouts)
	return saved, nil
}

// advanceStreak applies the day-granularity update rule to a copy of current.
func advanceStreak(current *StreakRecord, ownerID string, day time.Time, defaultGoal int) StreakRecord {
	if current == nil {
		return StreakRecord{
			OwnerID:         ownerID,
			CurrentStreak:   1,
			LongestStreak:   1,
			TotalWorkouts:   1,
			LastWorkoutDate: timePtr(day),
			StreakStartDate: timePtr(day),
			WeeklyGoal:      defaultGoal,
		}
	}

	next := *current
	next.TotalWorkouts++

	// A record created by SetWeeklyGoal has no workout yet.
	if current.LastWorkoutDate == nil {
		next.CurrentStreak = 1
		next.LastWorkoutDate = timePtr(day)
		next.StreakStartDate = timePtr(day)
		if next.LongestStreak < 1 {
			next.LongestStreak = 1
		}
		return next
	}

	switch gap := DaysBetween(*current.LastWorkoutDate, day); {
	case gap == 0:
		// Same day: counted, but the streak does not advance twice.
		if next.CurrentStreak == 0 {
			next.CurrentStreak = 1
		}
	case gap == 1:
		next.CurrentStreak++
		next.LastWorkoutDate = timePtr(day)
		if next.StreakStartDate == nil {
			next.StreakStartDate = timePtr(day)
		}
	default:
		next.CurrentStreak = 1
		next.StreakStartDate = timePtr(day)
		next.LastWorkoutDate = timePtr(day)
	}
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	return next
}

// RecomputeStreak rebuilds the owner's counters from the completed workouts of
// the last windowDays days (today included). The stored longest streak is
// kept when it exceeds what the window shows.
func (e *Engine) RecomputeStreak(ctx context.Context, ownerID string, windowDays int) (*StreakRecord, error) {
	if windowDays < 1 || windowDays > MaxRecomputeWindowDays {
		return nil, &ValidationError{Field: "window_days", Reason: fmt.Sprintf("must be between 1 and %d", MaxRecomputeWindowDays)}
	}

	today := e.today()
	from := today.AddDate(0, 0, -(windowDays - 1))
	activities, err := e.events.ListByOwnerAndDateRange(ctx, ownerID, from, today)
	if err != nil {
		return nil, err
	}

	unlock, err := e.lockAll(ctx, streakLockKey(ownerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	stored, err := e.streaks.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	next := recomputeStreak(activities, today)
	next.OwnerID = ownerID
	next.WeeklyGoal = e.weeklyGoal
	if stored != nil {
		next.WeeklyGoal = stored.WeeklyGoal
		if stored.LongestStreak > next.LongestStreak {
			next.LongestStreak = stored.LongestStreak
		}
	}
	next.UpdatedAt = e.now().UTC()

	saved, err := e.streaks.Upsert(ctx, next)
	if err != nil {
		return nil, err
	}
	observability.ObserveStreak(saved.CurrentStreak)
	e.log.Info("streak recomputed", "owner_id", ownerID, "window_days", windowDays, "current", saved.CurrentStreak, "longest", saved.LongestStreak)
	return saved, nil
}

// recomputeStreak derives counters from a window of activities. The current
// run ends today, or yesterday when nothing was completed today yet.
func recomputeStreak(activities []ScheduledActivity, today time.Time) StreakRecord {
	days := make(map[time.Time]struct{})
	var record StreakRecord
	for _, activity := range activities {
		if !activity.Completed || activity.Activity.Type != ActivityWorkout {
			continue
		}
		day := DateOf(activity.Date)
		if day.After(today) {
			continue
		}
		record.TotalWorkouts++
		days[day] = struct{}{}
	}
	if len(days) == 0 {
		return record
	}

	ordered := make([]time.Time, 0, len(days))
	for day := range days {
		ordered = append(ordered, day)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	run := 0
	var prev time.Time
	for _, day := range ordered {
		if run > 0 && DaysBetween(prev, day) == 1 {
			run++
		} else {
			run = 1
		}
		if run > record.LongestStreak {
			record.LongestStreak = run
		}
		prev = day
	}

	last := ordered[len(ordered)-1]
	record.LastWorkoutDate = timePtr(last)

	if DaysBetween(last, today) > 1 {
		record.StreakStartDate = nil
		return record
	}
	start := last
	record.CurrentStreak = 1
	for {
		before := start.AddDate(0, 0, -1)
		if _, ok := days[before]; !ok {
			break
		}
		start = before
		record.CurrentStreak++
	}
	record.StreakStartDate = timePtr(start)
	return record
}

// GetStreak returns the owner's streak. A record that was never created reads
// as zero counters with the default weekly goal; a streak whose last workout
// is older than yesterday reads as currentStreak 0.
func (e *Engine) GetStreak(ctx context.Context, ownerID string) (*StreakView, error) {
	stored, err := e.streaks.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	today := e.today()
	view := &StreakView{StreakRecord: StreakRecord{OwnerID: ownerID, WeeklyGoal: e.weeklyGoal}}
	if stored != nil {
		view.StreakRecord = *stored
		if stored.LastWorkoutDate == nil || DaysBetween(*stored.LastWorkoutDate, today) > 1 {
			view.CurrentStreak = 0
		}
	}

	weekStart := today.AddDate(0, 0, -(weekDays - 1))
	activities, err := e.events.ListByOwnerAndDateRange(ctx, ownerID, weekStart, today)
	if err != nil {
		return nil, err
	}
	for _, activity := range activities {
		if activity.Completed && activity.Activity.Type == ActivityWorkout {
			view.WeeklyCompleted++
		}
	}
	view.WeeklyGoalMet = view.WeeklyGoal > 0 && view.WeeklyCompleted >= view.WeeklyGoal
	return view, nil
}

// SetWeeklyGoal updates the target completions per 7-day window.
func (e *Engine) SetWeeklyGoal(ctx context.Context, ownerID string, goal int) (*StreakRecord, error) {
	if goal < 1 || goal > maxWeeklyGoal {
		return nil, &ValidationError{Field: "weekly_goal", Reason: fmt.Sprintf("must be between 1 and %d", maxWeeklyGoal)}
	}

	unlock, err := e.lockAll(ctx, streakLockKey(ownerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	stored, err := e.streaks.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	next := StreakRecord{OwnerID: ownerID}
	if stored != nil {
		next = *stored
	}
	next.WeeklyGoal = goal
	next.UpdatedAt = e.now().UTC()
	return e.streaks.Upsert(ctx, next)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
