package domain

import (
	"context"
	"time"
)

// EventStore persists scheduled activities. Get returns (nil, nil) when the
// activity does not exist.
type EventStore interface {
	ListByOwnerAndDate(ctx context.Context, ownerID string, date time.Time) ([]ScheduledActivity, error)
	// ListByOwnerAndDateRange returns activities with start <= date <= end, ordered by date and time.
	ListByOwnerAndDateRange(ctx context.Context, ownerID string, start, end time.Time) ([]ScheduledActivity, error)
	Get(ctx context.Context, activityID string) (*ScheduledActivity, error)
	Create(ctx context.Context, activity ScheduledActivity) (*ScheduledActivity, error)
	// Update returns (nil, nil) when the activity no longer exists.
	Update(ctx context.Context, activityID string, patch ActivityPatch) (*ScheduledActivity, error)
	Delete(ctx context.Context, activityID string) (bool, error)
}

// StreakStore persists the per-owner StreakRecord. Get returns (nil, nil) when absent.
type StreakStore interface {
	Get(ctx context.Context, ownerID string) (*StreakRecord, error)
	Upsert(ctx context.Context, record StreakRecord) (*StreakRecord, error)
}

// Completion is one completion transition. The store applies it as a unit.
type Completion struct {
	ActivityID  string
	CompletedAt time.Time
	Entry       CompletionHistoryEntry
	// Streak is upserted alongside when set; nil leaves streaks untouched.
	Streak *StreakRecord
}

// HistoryStore is the append-only completion log.
type HistoryStore interface {
	// AppendCompletion marks the activity completed, appends the entry and
	// upserts the streak atomically. It returns (nil, nil) when the activity no
	// longer exists, and the stored row without writing anything when the
	// activity is already completed.
	AppendCompletion(ctx context.Context, c Completion) (*ScheduledActivity, error)
	// ListByOwner returns entries newest first, strictly after the cursor when one is given.
	ListByOwner(ctx context.Context, ownerID string, cursor *HistoryCursor, limit int) ([]CompletionHistoryEntry, *HistoryCursor, error)
}

// Locker serialises work per key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Clock supplies the current time; "today" is derived from its calendar day.
type Clock func() time.Time

func scheduleLockKey(ownerID string, date time.Time) string {
	return "schedule:" + ownerID + ":" + FormatDate(date)
}

func streakLockKey(ownerID string) string {
	return "streak:" + ownerID
}
