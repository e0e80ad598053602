// Package memory keeps scheduled activities, streaks and completion history in
// process memory for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/observability"
	"example.com/scheduling/internal/persistence"
)

// Store implements domain.EventStore, domain.StreakStore and domain.HistoryStore.
type Store struct {
	mu         sync.RWMutex
	activities map[string]domain.ScheduledActivity
	streaks    map[string]domain.StreakRecord
	history    map[string][]domain.CompletionHistoryEntry
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		activities: make(map[string]domain.ScheduledActivity),
		streaks:    make(map[string]domain.StreakRecord),
		history:    make(map[string][]domain.CompletionHistoryEntry),
	}
}

// Events returns the store as a domain.EventStore.
func (s *Store) Events() domain.EventStore { return eventStore{s} }

// Streaks returns the store as a domain.StreakStore.
func (s *Store) Streaks() domain.StreakStore { return streakStore{s} }

// History returns the store as a domain.HistoryStore.
func (s *Store) History() domain.HistoryStore { return historyStore{s} }

type eventStore struct{ s *Store }

func (e eventStore) ListByOwnerAndDate(ctx context.Context, ownerID string, date time.Time) ([]domain.ScheduledActivity, error) {
	return e.ListByOwnerAndDateRange(ctx, ownerID, date, date)
}

func (e eventStore) ListByOwnerAndDateRange(_ context.Context, ownerID string, start, end time.Time) ([]domain.ScheduledActivity, error) {
	start, end = domain.DateOf(start), domain.DateOf(end)

	e.s.mu.RLock()
	defer e.s.mu.RUnlock()

	var out []domain.ScheduledActivity
	for _, activity := range e.s.activities {
		if activity.OwnerID != ownerID {
			continue
		}
		if activity.Date.Before(start) || activity.Date.After(end) {
			continue
		}
		out = append(out, clone(activity))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (e eventStore) Get(_ context.Context, activityID string) (*domain.ScheduledActivity, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()

	activity, ok := e.s.activities[activityID]
	if !ok {
		return nil, nil
	}
	out := clone(activity)
	return &out, nil
}

func (e eventStore) Create(_ context.Context, activity domain.ScheduledActivity) (*domain.ScheduledActivity, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()

	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	activity.Date = domain.DateOf(activity.Date)
	e.s.activities[activity.ID] = clone(activity)
	observability.RecordActivityPersisted(activity.UpdatedAt)

	out := clone(activity)
	return &out, nil
}

func (e eventStore) Update(_ context.Context, activityID string, patch domain.ActivityPatch) (*domain.ScheduledActivity, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()

	activity, ok := e.s.activities[activityID]
	if !ok {
		return nil, nil
	}
	patch.Apply(&activity)
	activity.Date = domain.DateOf(activity.Date)
	e.s.activities[activityID] = clone(activity)
	observability.RecordActivityPersisted(activity.UpdatedAt)

	out := clone(activity)
	return &out, nil
}

func (e eventStore) Delete(_ context.Context, activityID string) (bool, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()

	if _, ok := e.s.activities[activityID]; !ok {
		return false, nil
	}
	delete(e.s.activities, activityID)
	return true, nil
}

type streakStore struct{ s *Store }

func (st streakStore) Get(_ context.Context, ownerID string) (*domain.StreakRecord, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	record, ok := st.s.streaks[ownerID]
	if !ok {
		return nil, nil
	}
	out := cloneStreak(record)
	return &out, nil
}

func (st streakStore) Upsert(_ context.Context, record domain.StreakRecord) (*domain.StreakRecord, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	st.s.streaks[record.OwnerID] = cloneStreak(record)
	out := cloneStreak(record)
	return &out, nil
}

type historyStore struct{ s *Store }

// AppendCompletion applies the flag, entry and streak under one write lock.
func (h historyStore) AppendCompletion(_ context.Context, c domain.Completion) (*domain.ScheduledActivity, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	activity, ok := h.s.activities[c.ActivityID]
	if !ok {
		return nil, nil
	}
	if activity.Completed {
		out := clone(activity)
		return &out, nil
	}

	activity.Completed = true
	activity.UpdatedAt = c.CompletedAt
	h.s.activities[activity.ID] = clone(activity)

	entry := c.Entry
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	h.s.history[entry.OwnerID] = append(h.s.history[entry.OwnerID], entry)
	if c.Streak != nil {
		h.s.streaks[c.Streak.OwnerID] = cloneStreak(*c.Streak)
	}

	observability.RecordActivityPersisted(activity.UpdatedAt)
	observability.RecordCompletionPersisted(entry.CompletedAt)
	out := clone(activity)
	return &out, nil
}

func (h historyStore) ListByOwner(_ context.Context, ownerID string, cursor *domain.HistoryCursor, limit int) ([]domain.CompletionHistoryEntry, *domain.HistoryCursor, error) {
	h.s.mu.RLock()
	entries := append([]domain.CompletionHistoryEntry(nil), h.s.history[ownerID]...)
	h.s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CompletedAt.Equal(entries[j].CompletedAt) {
			return entries[i].CompletedAt.After(entries[j].CompletedAt)
		}
		return entries[i].ID > entries[j].ID
	})

	results := make([]domain.CompletionHistoryEntry, 0, limit)
	for _, entry := range entries {
		if !persistence.After(cursor, entry.CompletedAt, entry.ID) {
			continue
		}
		results = append(results, entry)
		if len(results) == limit {
			break
		}
	}

	var next *domain.HistoryCursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.HistoryCursor{CompletedAt: last.CompletedAt, ID: last.ID}
	}
	return results, next, nil
}

func clone(a domain.ScheduledActivity) domain.ScheduledActivity {
	if a.ReminderLeadMinutes != nil {
		v := *a.ReminderLeadMinutes
		a.ReminderLeadMinutes = &v
	}
	return a
}

func cloneStreak(r domain.StreakRecord) domain.StreakRecord {
	if r.LastWorkoutDate != nil {
		v := *r.LastWorkoutDate
		r.LastWorkoutDate = &v
	}
	if r.StreakStartDate != nil {
		v := *r.StreakStartDate
		r.StreakStartDate = &v
	}
	return r
}
