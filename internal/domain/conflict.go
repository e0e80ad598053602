package domain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"example.com/scheduling/internal/logger"
	"example.com/scheduling/internal/observability"
)

// ConflictDetector decides whether a candidate slot overlaps an owner's
// existing activities on the same date. It holds no state of its own.
type ConflictDetector struct {
	events EventStore
	log    *logger.Logger
}

// NewConflictDetector constructs a ConflictDetector.
func NewConflictDetector(events EventStore, log *logger.Logger) *ConflictDetector {
	if log == nil {
		log = logger.Nop()
	}
	return &ConflictDetector{events: events, log: log}
}

// SlotQuery describes a candidate booking.
type SlotQuery struct {
	OwnerID     string
	Date        time.Time
	Start       TimeOfDay
	DurationMin int
	// ExcludeID skips the activity being rescheduled.
	ExcludeID string
}

// Conflicts returns the activities overlapping the candidate. A lookup
// failure is returned as an error; callers must treat it as a refusal.
func (d *ConflictDetector) Conflicts(ctx context.Context, q SlotQuery) ([]ScheduledActivity, error) {
	candidate, err := NewInterval(q.Start, q.DurationMin)
	if err != nil {
		return nil, err
	}

	existing, err := d.events.ListByOwnerAndDate(ctx, q.OwnerID, DateOf(q.Date))
	if err != nil {
		return nil, fmt.Errorf("list activities for conflict check: %w", err)
	}

	var overlapping []ScheduledActivity
	for _, activity := range existing {
		if q.ExcludeID != "" && activity.ID == q.ExcludeID {
			continue
		}
		if candidate.Overlaps(activity.Interval()) {
			overlapping = append(overlapping, activity)
		}
	}
	return overlapping, nil
}

// HasConflict fails closed: a lookup error or an invalid slot counts as a
// conflict.
func (d *ConflictDetector) HasConflict(ctx context.Context, q SlotQuery) bool {
	return d.check(ctx, q) != nil
}

// check runs the detector and converts the outcome into a *ConflictError.
func (d *ConflictDetector) check(ctx context.Context, q SlotQuery) error {
	candidate, err := NewInterval(q.Start, q.DurationMin)
	if err != nil {
		return err
	}
	overlapping, err := d.Conflicts(ctx, q)
	if err != nil {
		d.log.Warn("conflict check failed, refusing slot", "owner_id", q.OwnerID, "date", FormatDate(q.Date), "error", err)
		observability.RecordConflictCheckFailure()
		return &ConflictError{Date: DateOf(q.Date), Interval: candidate, Err: err}
	}
	if len(overlapping) == 0 {
		return nil
	}
	ids := make([]string, 0, len(overlapping))
	for _, activity := range overlapping {
		ids = append(ids, activity.ID)
	}
	return &ConflictError{Date: DateOf(q.Date), Interval: candidate, ConflictingIDs: ids}
}

// FreeSlots returns the gaps of the day's [00:00, 24:00) window at least
// durationMin long. Busy spans that run past midnight are clipped.
func FreeSlots(existing []ScheduledActivity, durationMin int) []Interval {
	if durationMin <= 0 {
		return nil
	}
	busy := make([]Interval, 0, len(existing))
	for _, activity := range existing {
		busy = append(busy, activity.Interval())
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start < busy[j].Start })

	var slots []Interval
	cursor := 0
	for _, span := range busy {
		if span.Start-cursor >= durationMin {
			slots = append(slots, Interval{Start: cursor, End: span.Start})
		}
		if span.End > cursor {
			cursor = span.End
		}
		if cursor >= minutesInDay {
			return slots
		}
	}
	if minutesInDay-cursor >= durationMin {
		slots = append(slots, Interval{Start: cursor, End: minutesInDay})
	}
	return slots
}
