package domain

import (
	"context"
	"math"
	"time"
)

// GetMonthlyStats summarises the owner's activities scheduled in the given
// month. Rates are whole percentages and 0 for an empty month.
func (e *Engine) GetMonthlyStats(ctx context.Context, ownerID string, month, year int) (*MonthlyStats, error) {
	if month < 1 || month > 12 {
		return nil, &ValidationError{Field: "month", Reason: "must be between 1 and 12"}
	}
	if year < 1970 || year > 9999 {
		return nil, &ValidationError{Field: "year", Reason: "is out of range"}
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	activities, err := e.events.ListByOwnerAndDateRange(ctx, ownerID, first, last)
	if err != nil {
		return nil, err
	}
	stats := summarize(activities)
	stats.OwnerID = ownerID
	stats.Month = month
	stats.Year = year
	return &stats, nil
}

func summarize(activities []ScheduledActivity) MonthlyStats {
	stats := MonthlyStats{ByType: make(map[ActivityType]TypeStats)}
	for _, activity := range activities {
		stats.TotalEvents++
		byType := stats.ByType[activity.Activity.Type]
		byType.Total++
		if activity.Completed {
			stats.CompletedEvents++
			byType.Completed++
		}
		stats.ByType[activity.Activity.Type] = byType

		if activity.Activity.Type == ActivityWorkout {
			stats.TotalWorkouts++
			if activity.Completed {
				stats.CompletedWorkouts++
			}
		}
	}
	stats.CompletionRate = completionRate(stats.CompletedEvents, stats.TotalEvents)
	stats.WorkoutCompletionRate = completionRate(stats.CompletedWorkouts, stats.TotalWorkouts)
	return stats
}

func completionRate(completed, total int) int {
	if total <= 0 {
		return 0
	}
	rate := int(math.Round(100 * float64(completed) / float64(total)))
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}
