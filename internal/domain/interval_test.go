package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/domain"
)

func TestParseTimeOfDay(t *testing.T) {
	valid := map[string]domain.TimeOfDay{
		"00:00": 0,
		"07:45": 465,
		"23:59": 1439,
	}
	for raw, want := range valid {
		got, err := domain.ParseTimeOfDay(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got)
		require.Equal(t, raw, got.String())
	}

	for _, raw := range []string{"", "7:45", "24:00", "12:60", "12-30", "ab:cd", "12:300"} {
		_, err := domain.ParseTimeOfDay(raw)
		require.ErrorIs(t, err, domain.ErrValidation, raw)
	}
}

func TestIntervalOverlapIsHalfOpen(t *testing.T) {
	a, err := domain.NewInterval(420, 45) // 07:00-07:45
	require.NoError(t, err)

	cases := []struct {
		start    domain.TimeOfDay
		duration int
		overlaps bool
	}{
		{start: 450, duration: 30, overlaps: true},  // 07:30
		{start: 465, duration: 30, overlaps: false}, // 07:45, back-to-back
		{start: 390, duration: 30, overlaps: false}, // ends at 07:00
		{start: 390, duration: 31, overlaps: true},
		{start: 430, duration: 5, overlaps: true}, // contained
		{start: 400, duration: 120, overlaps: true},
	}
	for _, tc := range cases {
		b, err := domain.NewInterval(tc.start, tc.duration)
		require.NoError(t, err)
		require.Equal(t, tc.overlaps, a.Overlaps(b), "%s+%d", tc.start, tc.duration)
		require.Equal(t, tc.overlaps, b.Overlaps(a), "symmetry %s+%d", tc.start, tc.duration)
	}

	_, err = domain.NewInterval(420, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestDateHelpers(t *testing.T) {
	d, err := domain.ParseDate("2024-02-29")
	require.NoError(t, err)
	require.Equal(t, "2024-02-29", domain.FormatDate(d))

	_, err = domain.ParseDate("2023-02-29")
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = domain.ParseDate("06/01/2024")
	require.ErrorIs(t, err, domain.ErrValidation)

	require.Equal(t, 1, domain.DaysBetween(mustDate(t, "2024-02-28"), mustDate(t, "2024-02-29")))
	require.Equal(t, -5, domain.DaysBetween(mustDate(t, "2024-06-06"), mustDate(t, "2024-06-01")))
	require.Equal(t, 0, domain.DaysBetween(d.Add(23*time.Hour), d))
}

func TestResolveRef(t *testing.T) {
	ref, err := domain.ResolveRef("Workout", domain.RefIDs{WorkoutID: "w-1"})
	require.NoError(t, err)
	require.Equal(t, domain.WorkoutRef("w-1"), ref)

	ref, err = domain.ResolveRef("yoga", domain.RefIDs{})
	require.NoError(t, err)
	require.False(t, ref.HasRef())

	_, err = domain.ResolveRef("yoga", domain.RefIDs{WorkoutID: "w-1"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = domain.ResolveRef("meditation", domain.RefIDs{MeditationID: "m-1", YogaID: "y-1"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = domain.ResolveRef("pilates", domain.RefIDs{})
	require.ErrorIs(t, err, domain.ErrValidation)
}
