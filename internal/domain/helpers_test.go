package domain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/lock"
	"example.com/scheduling/internal/persistence/memory"
)

const owner = "owner-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(date string) *fakeClock {
	d, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		panic(err)
	}
	return &fakeClock{now: d.Add(6 * time.Hour)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine *domain.Engine
	store  *memory.Store
	clock  *fakeClock
}

func newFixture(t *testing.T, today string) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := newClock(today)
	engine := domain.NewEngine(store.Events(), store.Streaks(), store.History(), lock.NewKeyedMutex(),
		domain.WithClock(clock.Now))
	return &fixture{engine: engine, store: store, clock: clock}
}

func (f *fixture) schedule(t *testing.T, date, at string, duration int, activityType string) *domain.ScheduledActivity {
	t.Helper()
	activity, err := f.engine.ScheduleActivity(context.Background(), domain.ScheduleRequest{
		OwnerID:      owner,
		Title:        activityType + " " + at,
		Date:         date,
		Time:         at,
		DurationMin:  duration,
		ActivityType: activityType,
	})
	require.NoError(t, err)
	return activity
}

func (f *fixture) complete(t *testing.T, id string) *domain.ScheduledActivity {
	t.Helper()
	activity, err := f.engine.CompleteActivity(context.Background(), owner, id, domain.CompletionDetails{})
	require.NoError(t, err)
	return activity
}

func mustDate(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(raw)
	require.NoError(t, err)
	return d
}

// failingEvents fails every same-day lookup, which the conflict check relies on.
type failingEvents struct {
	domain.EventStore
	err error
}

func (f failingEvents) ListByOwnerAndDate(context.Context, string, time.Time) ([]domain.ScheduledActivity, error) {
	return nil, f.err
}

var errStoreDown = errors.New("store unavailable")
