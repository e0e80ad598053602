package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/lock"
	"example.com/scheduling/internal/persistence/memory"
)

const day = 24 * time.Hour

func TestStreakScenario(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()

	a := f.schedule(t, "2024-06-01", "07:00", 45, "workout")
	b := f.schedule(t, "2024-06-02", "07:00", 45, "workout")
	c := f.schedule(t, "2024-06-04", "07:00", 45, "workout")

	f.complete(t, a.ID)
	record, err := f.store.Streaks().Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, record.CurrentStreak)
	require.Equal(t, 1, record.LongestStreak)
	require.Equal(t, 1, record.TotalWorkouts)
	require.Equal(t, "2024-06-01", domain.FormatDate(*record.LastWorkoutDate))

	f.clock.Advance(day)
	f.complete(t, b.ID)
	record, err = f.store.Streaks().Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 2, record.CurrentStreak)
	require.Equal(t, 2, record.LongestStreak)
	require.Equal(t, 2, record.TotalWorkouts)

	f.clock.Advance(2 * day)
	f.complete(t, c.ID)
	record, err = f.store.Streaks().Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, record.CurrentStreak)
	require.Equal(t, 2, record.LongestStreak)
	require.Equal(t, 3, record.TotalWorkouts)
	require.Equal(t, "2024-06-04", domain.FormatDate(*record.StreakStartDate))

	stats, err := f.engine.GetMonthlyStats(ctx, owner, 6, 2024)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalWorkouts)
	require.Equal(t, 3, stats.CompletedWorkouts)
	require.Equal(t, 100, stats.CompletionRate)
	require.Equal(t, 100, stats.WorkoutCompletionRate)
}

func TestRecordCompletionRules(t *testing.T) {
	f := newFixture(t, "2024-06-10")
	ctx := context.Background()
	d := mustDate(t, "2024-06-01")

	record, err := f.engine.RecordCompletion(ctx, owner, d)
	require.NoError(t, err)
	require.Equal(t, 1, record.CurrentStreak)

	// Consecutive days.
	for i := 1; i <= 2; i++ {
		record, err = f.engine.RecordCompletion(ctx, owner, d.AddDate(0, 0, i))
		require.NoError(t, err)
	}
	require.Equal(t, 3, record.CurrentStreak)
	require.Equal(t, 3, record.LongestStreak)

	// Same day: counted, no double advance.
	record, err = f.engine.RecordCompletion(ctx, owner, d.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Equal(t, 3, record.CurrentStreak)
	require.Equal(t, 4, record.TotalWorkouts)

	// Gap resets to 1.
	record, err = f.engine.RecordCompletion(ctx, owner, d.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Equal(t, 1, record.CurrentStreak)
	require.Equal(t, 3, record.LongestStreak)
	require.Equal(t, d.AddDate(0, 0, 7), *record.StreakStartDate)
	require.Equal(t, d.AddDate(0, 0, 7), *record.LastWorkoutDate)

	// Backdated completion also breaks the run.
	record, err = f.engine.RecordCompletion(ctx, owner, d.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Equal(t, 1, record.CurrentStreak)
	require.Equal(t, 6, record.TotalWorkouts)
	require.GreaterOrEqual(t, record.LongestStreak, record.CurrentStreak)
}

func TestLongestNeverBelowCurrent(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()
	d := mustDate(t, "2024-01-01")

	offsets := []int{0, 1, 1, 2, 5, 6, 7, 8, 3, 20, 21}
	for _, off := range offsets {
		record, err := f.engine.RecordCompletion(ctx, owner, d.AddDate(0, 0, off))
		require.NoError(t, err)
		require.GreaterOrEqual(t, record.LongestStreak, record.CurrentStreak, "offset %d", off)
	}
	record, err := f.store.Streaks().Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, len(offsets), record.TotalWorkouts)
	require.Equal(t, 4, record.LongestStreak)
}

func TestRecomputeMatchesIncrementalUpdates(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()

	dates := []string{"2024-06-01", "2024-06-02", "2024-06-03", "2024-06-05", "2024-06-06"}
	var ids []string
	for _, date := range dates {
		ids = append(ids, f.schedule(t, date, "07:00", 30, "workout").ID)
	}
	f.schedule(t, "2024-06-04", "07:00", 30, "yoga")

	for i, id := range ids {
		if i > 0 {
			f.clock.Advance(mustDate(t, dates[i]).Sub(mustDate(t, dates[i-1])))
		}
		f.complete(t, id)
	}
	incremental, err := f.store.Streaks().Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 2, incremental.CurrentStreak)
	require.Equal(t, 3, incremental.LongestStreak)

	// A fresh store holding the same activities recomputes to the same counters.
	fresh := memory.NewStore()
	activities, err := f.store.Events().ListByOwnerAndDateRange(ctx, owner, mustDate(t, "2024-05-01"), mustDate(t, "2024-06-30"))
	require.NoError(t, err)
	for _, activity := range activities {
		_, err := fresh.Events().Create(ctx, activity)
		require.NoError(t, err)
	}
	engine := domain.NewEngine(fresh.Events(), fresh.Streaks(), fresh.History(), lock.NewKeyedMutex(), domain.WithClock(f.clock.Now))
	recomputed, err := engine.RecomputeStreak(ctx, owner, 30)
	require.NoError(t, err)

	require.Equal(t, incremental.CurrentStreak, recomputed.CurrentStreak)
	require.Equal(t, incremental.LongestStreak, recomputed.LongestStreak)
	require.Equal(t, incremental.TotalWorkouts, recomputed.TotalWorkouts)
	require.Equal(t, *incremental.LastWorkoutDate, *recomputed.LastWorkoutDate)
	require.Equal(t, *incremental.StreakStartDate, *recomputed.StreakStartDate)

	// Recomputing over the stored record keeps the longer stored longest.
	f.clock.Advance(10 * day)
	again, err := f.engine.RecomputeStreak(ctx, owner, 3)
	require.NoError(t, err)
	require.Zero(t, again.CurrentStreak)
	require.Zero(t, again.TotalWorkouts)
	require.Nil(t, again.StreakStartDate)
	require.Equal(t, 3, again.LongestStreak)

	_, err = f.engine.RecomputeStreak(ctx, owner, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.engine.RecomputeStreak(ctx, owner, domain.MaxRecomputeWindowDays+1)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetStreakDefaultsAndStaleness(t *testing.T) {
	store := memory.NewStore()
	clock := newClock("2024-06-01")
	engine := domain.NewEngine(store.Events(), store.Streaks(), store.History(), lock.NewKeyedMutex(),
		domain.WithClock(clock.Now), domain.WithDefaultWeeklyGoal(5))
	ctx := context.Background()

	view, err := engine.GetStreak(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, owner, view.OwnerID)
	require.Zero(t, view.CurrentStreak)
	require.Zero(t, view.LongestStreak)
	require.Equal(t, 5, view.WeeklyGoal)
	require.False(t, view.WeeklyGoalMet)

	_, err = engine.RecordCompletion(ctx, owner, mustDate(t, "2024-06-01"))
	require.NoError(t, err)

	clock.Advance(day)
	view, err = engine.GetStreak(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, view.CurrentStreak)

	clock.Advance(day)
	view, err = engine.GetStreak(ctx, owner)
	require.NoError(t, err)
	require.Zero(t, view.CurrentStreak)
	require.Equal(t, 1, view.LongestStreak)

	stored, err := store.Streaks().Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, stored.CurrentStreak)
}

func TestWeeklyGoal(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()

	_, err := f.engine.SetWeeklyGoal(ctx, owner, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.engine.SetWeeklyGoal(ctx, owner, 22)
	require.ErrorIs(t, err, domain.ErrValidation)

	record, err := f.engine.SetWeeklyGoal(ctx, owner, 2)
	require.NoError(t, err)
	require.Equal(t, 2, record.WeeklyGoal)
	require.Zero(t, record.TotalWorkouts)

	a := f.schedule(t, "2024-06-01", "07:00", 30, "workout")
	b := f.schedule(t, "2024-06-01", "18:00", 30, "workout")
	f.complete(t, a.ID)

	view, err := f.engine.GetStreak(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, view.WeeklyCompleted)
	require.False(t, view.WeeklyGoalMet)
	require.Equal(t, 1, view.CurrentStreak)

	f.complete(t, b.ID)
	view, err = f.engine.GetStreak(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 2, view.WeeklyCompleted)
	require.True(t, view.WeeklyGoalMet)
	require.Equal(t, 1, view.CurrentStreak)
	require.Equal(t, 2, view.TotalWorkouts)
	require.Equal(t, 2, view.WeeklyGoal)

	// Completions older than the 7-day window no longer count.
	f.clock.Advance(7 * day)
	view, err = f.engine.GetStreak(ctx, owner)
	require.NoError(t, err)
	require.Zero(t, view.WeeklyCompleted)
}
