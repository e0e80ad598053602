// Package domain implements scheduling, conflict detection, completion and
// streak tracking for fitness activities.
package domain

import (
	"context"
	"sort"
	"time"

	"example.com/scheduling/internal/logger"
)

// Engine exposes the scheduling and adherence operations to callers.
type Engine struct {
	events     EventStore
	streaks    StreakStore
	history    HistoryStore
	locker     Locker
	detector   *ConflictDetector
	now        Clock
	log        *logger.Logger
	weeklyGoal int
}

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		e.now = clock
	}
}

// WithLogger overrides the logger.
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithDefaultWeeklyGoal sets the goal assigned to newly created streak records.
func WithDefaultWeeklyGoal(goal int) Option {
	return func(e *Engine) {
		if goal > 0 {
			e.weeklyGoal = goal
		}
	}
}

// NewEngine wires the engine to its stores and lock provider.
func NewEngine(events EventStore, streaks StreakStore, history HistoryStore, locker Locker, opts ...Option) *Engine {
	e := &Engine{
		events:     events,
		streaks:    streaks,
		history:    history,
		locker:     locker,
		now:        time.Now,
		log:        logger.Nop(),
		weeklyGoal: DefaultWeeklyGoal,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.detector = NewConflictDetector(events, e.log.With("component", "conflict_detector"))
	return e
}

// Detector exposes the engine's conflict detector.
func (e *Engine) Detector() *ConflictDetector { return e.detector }

func (e *Engine) today() time.Time {
	return DateOf(e.now())
}

// lockAll acquires the keys in sorted order and returns a release func.
func (e *Engine) lockAll(ctx context.Context, keys ...string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	var last string
	for _, key := range sorted {
		if key == last {
			continue
		}
		last = key
		unlock, err := e.locker.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// loadOwned fetches an activity and hides other owners' rows behind ErrNotFound.
func (e *Engine) loadOwned(ctx context.Context, ownerID, activityID string) (*ScheduledActivity, error) {
	activity, err := e.events.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil || activity.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return activity, nil
}
