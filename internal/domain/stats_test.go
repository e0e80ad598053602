package domain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/domain"
)

func TestMonthlyStatsEmptyMonth(t *testing.T) {
	f := newFixture(t, "2024-06-01")

	stats, err := f.engine.GetMonthlyStats(context.Background(), owner, 2, 2024)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Month)
	require.Equal(t, 2024, stats.Year)
	require.Zero(t, stats.TotalEvents)
	require.Zero(t, stats.CompletionRate)
	require.Zero(t, stats.WorkoutCompletionRate)
	require.Empty(t, stats.ByType)
}

func TestMonthlyStatsRatesAndBreakdown(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()

	w1 := f.schedule(t, "2024-06-01", "07:00", 30, "workout")
	f.schedule(t, "2024-06-02", "07:00", 30, "workout")
	f.schedule(t, "2024-06-03", "07:00", 30, "workout")
	y := f.schedule(t, "2024-06-30", "07:00", 30, "yoga")
	f.schedule(t, "2024-06-15", "07:00", 30, "meditation")
	f.schedule(t, "2024-07-01", "07:00", 30, "workout")

	f.complete(t, w1.ID)
	f.clock.Advance(29 * day)
	f.complete(t, y.ID)

	stats, err := f.engine.GetMonthlyStats(ctx, owner, 6, 2024)
	require.NoError(t, err)
	require.Equal(t, 5, stats.TotalEvents)
	require.Equal(t, 2, stats.CompletedEvents)
	require.Equal(t, 3, stats.TotalWorkouts)
	require.Equal(t, 1, stats.CompletedWorkouts)
	require.Equal(t, 40, stats.CompletionRate)
	require.Equal(t, 33, stats.WorkoutCompletionRate)
	require.Equal(t, domain.TypeStats{Total: 3, Completed: 1}, stats.ByType[domain.ActivityWorkout])
	require.Equal(t, domain.TypeStats{Total: 1, Completed: 1}, stats.ByType[domain.ActivityYoga])
	require.Equal(t, domain.TypeStats{Total: 1}, stats.ByType[domain.ActivityMeditation])

	// Other owners are not counted.
	other, err := f.engine.GetMonthlyStats(ctx, "owner-2", 6, 2024)
	require.NoError(t, err)
	require.Zero(t, other.TotalEvents)

	july, err := f.engine.GetMonthlyStats(ctx, owner, 7, 2024)
	require.NoError(t, err)
	require.Equal(t, 1, july.TotalEvents)
	require.Zero(t, july.CompletionRate)
}

func TestMonthlyStatsValidation(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()

	for _, tc := range []struct{ month, year int }{{0, 2024}, {13, 2024}, {6, 1969}, {6, 10000}} {
		_, err := f.engine.GetMonthlyStats(ctx, owner, tc.month, tc.year)
		require.ErrorIs(t, err, domain.ErrValidation, "%d/%d", tc.month, tc.year)
	}
}
