package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/observability"
)

// tsLayout is fixed width so stored timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

const activityColumns = `id, owner_id, title, date, start_minute, duration_min, activity_type, ref_id, completed,
	reminder_lead_minutes, notes, recurrence_rule, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// Events returns the store as a domain.EventStore.
func (s *Store) Events() domain.EventStore { return eventStore{s.db} }

// Streaks returns the store as a domain.StreakStore.
func (s *Store) Streaks() domain.StreakStore { return streakStore{s.db} }

// History returns the store as a domain.HistoryStore.
func (s *Store) History() domain.HistoryStore { return historyStore{s.db} }

type eventStore struct{ db *sql.DB }

func (e eventStore) ListByOwnerAndDate(ctx context.Context, ownerID string, date time.Time) ([]domain.ScheduledActivity, error) {
	return e.ListByOwnerAndDateRange(ctx, ownerID, date, date)
}

func (e eventStore) ListByOwnerAndDateRange(ctx context.Context, ownerID string, start, end time.Time) ([]domain.ScheduledActivity, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM scheduled_activities
		WHERE owner_id = ? AND date >= ? AND date <= ?
		ORDER BY date, start_minute, id`,
		ownerID, domain.FormatDate(start), domain.FormatDate(end))
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledActivity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, activity)
	}
	return out, rows.Err()
}

func (e eventStore) Get(ctx context.Context, activityID string) (*domain.ScheduledActivity, error) {
	row := e.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM scheduled_activities WHERE id = ?`, activityID)
	activity, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

func (e eventStore) Create(ctx context.Context, activity domain.ScheduledActivity) (*domain.ScheduledActivity, error) {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO scheduled_activities (`+activityColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		activity.ID, activity.OwnerID, activity.Title, domain.FormatDate(activity.Date), int(activity.Start),
		activity.DurationMin, string(activity.Activity.Type), nullIfEmpty(activity.Activity.ID), activity.Completed,
		nullableInt(activity.ReminderLeadMinutes), activity.Notes, activity.RecurrenceRule,
		activity.CreatedAt.UTC().Format(tsLayout), activity.UpdatedAt.UTC().Format(tsLayout))
	if err != nil {
		return nil, fmt.Errorf("inserting activity: %w", err)
	}
	observability.RecordActivityPersisted(activity.UpdatedAt)
	activity.Date = domain.DateOf(activity.Date)
	return &activity, nil
}

func (e eventStore) Update(ctx context.Context, activityID string, patch domain.ActivityPatch) (*domain.ScheduledActivity, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM scheduled_activities WHERE id = ?`, activityID)
	activity, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	patch.Apply(&activity)

	_, err = tx.ExecContext(ctx,
		`UPDATE scheduled_activities SET title = ?, date = ?, start_minute = ?, duration_min = ?, activity_type = ?,
		ref_id = ?, completed = ?, reminder_lead_minutes = ?, notes = ?, recurrence_rule = ?, updated_at = ?
		WHERE id = ?`,
		activity.Title, domain.FormatDate(activity.Date), int(activity.Start), activity.DurationMin,
		string(activity.Activity.Type), nullIfEmpty(activity.Activity.ID), activity.Completed,
		nullableInt(activity.ReminderLeadMinutes), activity.Notes, activity.RecurrenceRule,
		activity.UpdatedAt.UTC().Format(tsLayout), activityID)
	if err != nil {
		return nil, fmt.Errorf("updating activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	observability.RecordActivityPersisted(activity.UpdatedAt)
	return &activity, nil
}

func (e eventStore) Delete(ctx context.Context, activityID string) (bool, error) {
	res, err := e.db.ExecContext(ctx, `DELETE FROM scheduled_activities WHERE id = ?`, activityID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanActivity(row rowScanner) (domain.ScheduledActivity, error) {
	var (
		a                    domain.ScheduledActivity
		date, typ            string
		start                int
		refID                sql.NullString
		reminder             sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Title, &date, &start, &a.DurationMin, &typ, &refID, &a.Completed,
		&reminder, &a.Notes, &a.RecurrenceRule, &createdAt, &updatedAt); err != nil {
		return a, err
	}

	var err error
	if a.Date, err = time.Parse(domain.DateLayout, date); err != nil {
		return a, fmt.Errorf("parsing date %q: %w", date, err)
	}
	a.Start = domain.TimeOfDay(start)
	a.Activity = domain.ActivityRef{Type: domain.ActivityType(typ), ID: refID.String}
	if reminder.Valid {
		v := int(reminder.Int64)
		a.ReminderLeadMinutes = &v
	}
	if a.CreatedAt, err = time.Parse(tsLayout, createdAt); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = time.Parse(tsLayout, updatedAt); err != nil {
		return a, err
	}
	return a, nil
}

type streakStore struct{ db *sql.DB }

func (s streakStore) Get(ctx context.Context, ownerID string) (*domain.StreakRecord, error) {
	var (
		r               domain.StreakRecord
		last, startDate sql.NullString
		updatedAt       string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, current_streak, longest_streak, total_workouts, last_workout_date, streak_start_date, weekly_goal, updated_at
		FROM streak_records WHERE owner_id = ?`, ownerID).
		Scan(&r.OwnerID, &r.CurrentStreak, &r.LongestStreak, &r.TotalWorkouts, &last, &startDate, &r.WeeklyGoal, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.LastWorkoutDate, err = parseNullDate(last); err != nil {
		return nil, err
	}
	if r.StreakStartDate, err = parseNullDate(startDate); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = time.Parse(tsLayout, updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s streakStore) Upsert(ctx context.Context, r domain.StreakRecord) (*domain.StreakRecord, error) {
	if err := upsertStreak(ctx, s.db, r); err != nil {
		return nil, err
	}
	return &r, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertStreak(ctx context.Context, db execer, r domain.StreakRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO streak_records (owner_id, current_streak, longest_streak, total_workouts, last_workout_date, streak_start_date, weekly_goal, updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(owner_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			total_workouts = excluded.total_workouts,
			last_workout_date = excluded.last_workout_date,
			streak_start_date = excluded.streak_start_date,
			weekly_goal = excluded.weekly_goal,
			updated_at = excluded.updated_at`,
		r.OwnerID, r.CurrentStreak, r.LongestStreak, r.TotalWorkouts, formatNullDate(r.LastWorkoutDate),
		formatNullDate(r.StreakStartDate), r.WeeklyGoal, r.UpdatedAt.UTC().Format(tsLayout))
	if err != nil {
		return fmt.Errorf("upserting streak: %w", err)
	}
	return nil
}

type historyStore struct{ db *sql.DB }

// AppendCompletion marks the activity completed, inserts the history entry
// and upserts the streak in one transaction.
func (h historyStore) AppendCompletion(ctx context.Context, c domain.Completion) (*domain.ScheduledActivity, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM scheduled_activities WHERE id = ?`, c.ActivityID)
	activity, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if activity.Completed {
		return &activity, nil
	}

	activity.Completed = true
	activity.UpdatedAt = c.CompletedAt
	if _, err := tx.ExecContext(ctx, `UPDATE scheduled_activities SET completed = 1, updated_at = ? WHERE id = ?`,
		activity.UpdatedAt.UTC().Format(tsLayout), activity.ID); err != nil {
		return nil, fmt.Errorf("marking activity completed: %w", err)
	}

	entry := c.Entry
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO completion_history (id, owner_id, activity_id, activity_type, ref_id, title, completed_at, duration_min, notes, rating)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		entry.ID, entry.OwnerID, entry.ActivityID, string(entry.Activity.Type), nullIfEmpty(entry.Activity.ID), entry.Title,
		entry.CompletedAt.UTC().Format(tsLayout), entry.DurationMin, entry.Notes, nullableInt(entry.Rating)); err != nil {
		return nil, fmt.Errorf("appending history: %w", err)
	}

	if c.Streak != nil {
		if err := upsertStreak(ctx, tx, *c.Streak); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	observability.RecordActivityPersisted(activity.UpdatedAt)
	observability.RecordCompletionPersisted(entry.CompletedAt)
	return &activity, nil
}

func (h historyStore) ListByOwner(ctx context.Context, ownerID string, cursor *domain.HistoryCursor, limit int) ([]domain.CompletionHistoryEntry, *domain.HistoryCursor, error) {
	var b strings.Builder
	b.WriteString(`SELECT id, owner_id, activity_id, activity_type, ref_id, title, completed_at, duration_min, notes, rating
		FROM completion_history WHERE owner_id = ?`)
	args := []any{ownerID}
	if cursor != nil {
		ts := cursor.CompletedAt.UTC().Format(tsLayout)
		b.WriteString(` AND (completed_at < ? OR (completed_at = ? AND id < ?))`)
		args = append(args, ts, ts, cursor.ID)
	}
	b.WriteString(` ORDER BY completed_at DESC, id DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.CompletionHistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e           domain.CompletionHistoryEntry
			typ         string
			refID       sql.NullString
			completedAt string
			rating      sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.ActivityID, &typ, &refID, &e.Title, &completedAt, &e.DurationMin, &e.Notes, &rating); err != nil {
			return nil, nil, err
		}
		e.Activity = domain.ActivityRef{Type: domain.ActivityType(typ), ID: refID.String}
		if e.CompletedAt, err = time.Parse(tsLayout, completedAt); err != nil {
			return nil, nil, err
		}
		if rating.Valid {
			v := int(rating.Int64)
			e.Rating = &v
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.HistoryCursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.HistoryCursor{CompletedAt: last.CompletedAt, ID: last.ID}
	}
	return results, next, nil
}

func parseNullDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	d, err := time.Parse(domain.DateLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func formatNullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return domain.FormatDate(*t)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
