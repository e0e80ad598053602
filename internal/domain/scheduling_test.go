package domain_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/observability"
)

func TestScheduleBackToBackAndOverlap(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()

	a := f.schedule(t, "2024-06-01", "07:00", 45, "workout")
	require.False(t, a.Completed)
	require.NotEmpty(t, a.ID)
	require.Equal(t, owner, a.OwnerID)

	conflicts := observability.ScheduleOutcomeCounter("conflict")
	before := testutil.ToFloat64(conflicts)

	_, err := f.engine.ScheduleActivity(ctx, domain.ScheduleRequest{
		OwnerID: owner, Title: "B", Date: "2024-06-01", Time: "07:30", DurationMin: 30, ActivityType: "workout",
	})
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, []string{a.ID}, conflict.ConflictingIDs)
	require.NoError(t, conflict.Err)
	require.Equal(t, before+1, testutil.ToFloat64(conflicts))

	c := f.schedule(t, "2024-06-01", "07:45", 30, "workout")

	// Moving C onto A is refused and leaves C untouched.
	at, dur := "07:00", 45
	_, err = f.engine.RescheduleActivity(ctx, owner, c.ID, domain.ReschedulePatch{Time: &at, DurationMin: &dur})
	require.ErrorIs(t, err, domain.ErrConflict)

	stored, err := f.engine.GetActivity(ctx, owner, c.ID)
	require.NoError(t, err)
	require.Equal(t, "07:45", stored.Start.String())
	require.Equal(t, 30, stored.DurationMin)
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t, "2024-06-10")
	ctx := context.Background()
	negative := -5

	base := domain.ScheduleRequest{OwnerID: owner, Title: "Run", Date: "2024-06-10", Time: "07:00", DurationMin: 30, ActivityType: "workout"}
	cases := map[string]func(r *domain.ScheduleRequest){
		"missing owner":     func(r *domain.ScheduleRequest) { r.OwnerID = "" },
		"blank title":       func(r *domain.ScheduleRequest) { r.Title = "   " },
		"past date":         func(r *domain.ScheduleRequest) { r.Date = "2024-06-09" },
		"bad date":          func(r *domain.ScheduleRequest) { r.Date = "2024-13-01" },
		"bad time":          func(r *domain.ScheduleRequest) { r.Time = "7am" },
		"zero duration":     func(r *domain.ScheduleRequest) { r.DurationMin = 0 },
		"unknown type":      func(r *domain.ScheduleRequest) { r.ActivityType = "swim" },
		"mismatched ref":    func(r *domain.ScheduleRequest) { r.Refs = domain.RefIDs{YogaID: "y-1"} },
		"negative reminder": func(r *domain.ScheduleRequest) { r.ReminderLeadMinutes = &negative },
	}
	for name, mutate := range cases {
		req := base
		mutate(&req)
		_, err := f.engine.ScheduleActivity(ctx, req)
		require.ErrorIs(t, err, domain.ErrValidation, name)
	}

	lead := 15
	req := base
	req.Refs = domain.RefIDs{WorkoutID: "w-9"}
	req.ReminderLeadMinutes = &lead
	req.RecurrenceRule = " FREQ=WEEKLY;BYDAY=MO "
	created, err := f.engine.ScheduleActivity(ctx, req)
	require.NoError(t, err)
	require.Equal(t, domain.WorkoutRef("w-9"), created.Activity)
	require.Equal(t, 15, *created.ReminderLeadMinutes)
	require.Equal(t, "FREQ=WEEKLY;BYDAY=MO", created.RecurrenceRule)
}

func TestRescheduleActivity(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()
	a := f.schedule(t, "2024-06-03", "09:00", 60, "yoga")
	f.schedule(t, "2024-06-04", "09:00", 60, "meditation")

	_, err := f.engine.RescheduleActivity(ctx, "owner-2", a.ID, domain.ReschedulePatch{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Overlapping its own previous slot is fine.
	at := "09:30"
	updated, err := f.engine.RescheduleActivity(ctx, owner, a.ID, domain.ReschedulePatch{Time: &at})
	require.NoError(t, err)
	require.Equal(t, "09:30", updated.Start.String())
	require.Equal(t, 60, updated.DurationMin)
	require.Equal(t, domain.ActivityYoga, updated.Activity.Type)

	moveTo := "2024-06-04"
	_, err = f.engine.RescheduleActivity(ctx, owner, a.ID, domain.ReschedulePatch{Date: &moveTo})
	require.ErrorIs(t, err, domain.ErrConflict)

	past := "2024-05-31"
	_, err = f.engine.RescheduleActivity(ctx, owner, a.ID, domain.ReschedulePatch{Date: &past})
	require.ErrorIs(t, err, domain.ErrValidation)

	title, notes, workout := "Strength", "bring bands", "workout"
	refs := domain.RefIDs{WorkoutID: "w-2"}
	moveTo = "2024-06-05"
	updated, err = f.engine.RescheduleActivity(ctx, owner, a.ID, domain.ReschedulePatch{
		Title: &title, Notes: &notes, ActivityType: &workout, Refs: &refs, Date: &moveTo,
	})
	require.NoError(t, err)
	require.Equal(t, "Strength", updated.Title)
	require.Equal(t, "bring bands", updated.Notes)
	require.Equal(t, domain.WorkoutRef("w-2"), updated.Activity)
	require.Equal(t, "2024-06-05", domain.FormatDate(updated.Date))
	require.Equal(t, "09:30", updated.Start.String())
	require.True(t, updated.UpdatedAt.Equal(f.clock.Now().UTC()))

	// Changing only the type drops a reference that belonged to the old type.
	yoga := "yoga"
	updated, err = f.engine.RescheduleActivity(ctx, owner, a.ID, domain.ReschedulePatch{ActivityType: &yoga})
	require.NoError(t, err)
	require.Equal(t, domain.ActivityRef{Type: domain.ActivityYoga}, updated.Activity)
}

func TestCancelActivityKeepsHistory(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()
	a := f.schedule(t, "2024-06-01", "07:00", 30, "workout")
	f.complete(t, a.ID)

	require.ErrorIs(t, f.engine.CancelActivity(ctx, "owner-2", a.ID), domain.ErrNotFound)
	require.NoError(t, f.engine.CancelActivity(ctx, owner, a.ID))
	require.ErrorIs(t, f.engine.CancelActivity(ctx, owner, a.ID), domain.ErrNotFound)

	_, err := f.engine.GetActivity(ctx, owner, a.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	entries, _, err := f.engine.ListHistory(ctx, owner, nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, a.ID, entries[0].ActivityID)

	// The slot is free again.
	f.schedule(t, "2024-06-01", "07:00", 30, "workout")
}

func TestListActivitiesBounds(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()
	f.schedule(t, "2024-06-02", "18:00", 30, "workout")
	f.schedule(t, "2024-06-01", "18:00", 30, "yoga")
	f.schedule(t, "2024-06-01", "06:00", 30, "meditation")

	items, err := f.engine.ListActivities(ctx, owner, mustDate(t, "2024-06-01"), mustDate(t, "2024-06-30"))
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, domain.ActivityMeditation, items[0].Activity.Type)
	require.Equal(t, domain.ActivityYoga, items[1].Activity.Type)
	require.Equal(t, domain.ActivityWorkout, items[2].Activity.Type)

	_, err = f.engine.ListActivities(ctx, owner, mustDate(t, "2024-06-02"), mustDate(t, "2024-06-01"))
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.engine.ListActivities(ctx, owner, mustDate(t, "2024-06-01"), mustDate(t, "2024-08-02"))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestConcurrentOverlappingBookingsAdmitOne(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	ctx := context.Background()

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.ScheduleActivity(ctx, domain.ScheduleRequest{
				OwnerID:      owner,
				Title:        fmt.Sprintf("slot %d", i),
				Date:         "2024-06-01",
				Time:         fmt.Sprintf("09:%02d", i*2),
				DurationMin:  60,
				ActivityType: "workout",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, workers-1, conflicts)

	stored, err := f.store.Events().ListByOwnerAndDate(ctx, owner, mustDate(t, "2024-06-01"))
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestSuggestSlots(t *testing.T) {
	f := newFixture(t, "2024-06-01")
	f.schedule(t, "2024-06-01", "07:00", 45, "workout")

	slots, err := f.engine.SuggestSlots(context.Background(), owner, mustDate(t, "2024-06-01"), 30)
	require.NoError(t, err)
	require.Equal(t, []domain.Interval{{Start: 0, End: 420}, {Start: 465, End: 1440}}, slots)

	_, err = f.engine.SuggestSlots(context.Background(), owner, mustDate(t, "2024-06-01"), 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}
