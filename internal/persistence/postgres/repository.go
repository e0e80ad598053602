// Package postgres is the production store. Every state change is written
// together with its outbox event in one transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/observability"
	platformevents "example.com/scheduling/pkg/events"
)

const exclusionViolation = "23P01"

// Repository provides Postgres-backed persistence for activities, streaks,
// completion history and their outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Events returns the repository as a domain.EventStore.
func (r *Repository) Events() domain.EventStore { return eventStore{r} }

// Streaks returns the repository as a domain.StreakStore.
func (r *Repository) Streaks() domain.StreakStore { return streakStore{r} }

// History returns the repository as a domain.HistoryStore.
func (r *Repository) History() domain.HistoryStore { return historyStore{r} }

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const activityColumns = `activity_id, owner_id, title, activity_date, start_minute, duration_min, activity_type, ref_id,
        completed, reminder_lead_minutes, notes, recurrence_rule, created_at, updated_at`

type eventStore struct{ r *Repository }

func (e eventStore) ListByOwnerAndDate(ctx context.Context, ownerID string, date time.Time) ([]domain.ScheduledActivity, error) {
	return e.ListByOwnerAndDateRange(ctx, ownerID, date, date)
}

func (e eventStore) ListByOwnerAndDateRange(ctx context.Context, ownerID string, start, end time.Time) ([]domain.ScheduledActivity, error) {
	query := `SELECT ` + activityColumns + `
        FROM scheduled_activities
        WHERE owner_id=$1 AND activity_date BETWEEN $2 AND $3
        ORDER BY activity_date, start_minute, activity_id`

	rows, err := e.r.pool.Query(ctx, query, ownerID, domain.DateOf(start), domain.DateOf(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ScheduledActivity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e eventStore) Get(ctx context.Context, activityID string) (*domain.ScheduledActivity, error) {
	if !validID(activityID) {
		return nil, nil
	}
	row := e.r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM scheduled_activities WHERE activity_id=$1`, activityID)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &activity, nil
}

// Create persists the activity and records activity.scheduled inside a single transaction.
func (e eventStore) Create(ctx context.Context, activity domain.ScheduledActivity) (created *domain.ScheduledActivity, err error) {
	tx, err := e.r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	insertActivity := `INSERT INTO scheduled_activities (` + activityColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err = tx.Exec(ctx, insertActivity,
		activity.ID,
		activity.OwnerID,
		activity.Title,
		domain.DateOf(activity.Date),
		int(activity.Start),
		activity.DurationMin,
		string(activity.Activity.Type),
		nullIfEmpty(activity.Activity.ID),
		activity.Completed,
		activity.ReminderLeadMinutes,
		activity.Notes,
		activity.RecurrenceRule,
		activity.CreatedAt,
		activity.UpdatedAt,
	)
	if err != nil {
		return nil, mapConstraintError(err)
	}

	if err = insertOutbox(ctx, tx, activity.OwnerID, activity.ID, platformevents.TypeActivityScheduled, activity.UpdatedAt, platformevents.ActivityScheduled{
		ActivityID:   activity.ID,
		OwnerID:      activity.OwnerID,
		Title:        activity.Title,
		ActivityType: string(activity.Activity.Type),
		RefID:        activity.Activity.ID,
		Date:         domain.FormatDate(activity.Date),
		Time:         activity.Start.String(),
		DurationMin:  activity.DurationMin,
		ScheduledAt:  activity.CreatedAt,
	}); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	observability.RecordActivityPersisted(activity.UpdatedAt)
	activity.Date = domain.DateOf(activity.Date)
	return &activity, nil
}

// Update locks the row, applies the patch and records activity.updated.
func (e eventStore) Update(ctx context.Context, activityID string, patch domain.ActivityPatch) (updated *domain.ScheduledActivity, err error) {
	if !validID(activityID) {
		return nil, nil
	}
	tx, err := e.r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+activityColumns+` FROM scheduled_activities WHERE activity_id=$1 FOR UPDATE`, activityID)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			tx.Rollback(ctx)
			return nil, nil
		}
		return nil, err
	}
	patch.Apply(&activity)

	_, err = tx.Exec(ctx, `UPDATE scheduled_activities
        SET title=$2, activity_date=$3, start_minute=$4, duration_min=$5, activity_type=$6, ref_id=$7,
            completed=$8, reminder_lead_minutes=$9, notes=$10, recurrence_rule=$11, updated_at=$12
        WHERE activity_id=$1`,
		activity.ID,
		activity.Title,
		domain.DateOf(activity.Date),
		int(activity.Start),
		activity.DurationMin,
		string(activity.Activity.Type),
		nullIfEmpty(activity.Activity.ID),
		activity.Completed,
		activity.ReminderLeadMinutes,
		activity.Notes,
		activity.RecurrenceRule,
		activity.UpdatedAt,
	)
	if err != nil {
		return nil, mapConstraintError(err)
	}

	if err = insertOutbox(ctx, tx, activity.OwnerID, activity.ID, platformevents.TypeActivityUpdated, activity.UpdatedAt, platformevents.ActivityUpdated{
		ActivityID:  activity.ID,
		OwnerID:     activity.OwnerID,
		Date:        domain.FormatDate(activity.Date),
		Time:        activity.Start.String(),
		DurationMin: activity.DurationMin,
		Completed:   activity.Completed,
		UpdatedAt:   activity.UpdatedAt,
	}); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	observability.RecordActivityPersisted(activity.UpdatedAt)
	return &activity, nil
}

// Delete hard-deletes the activity and records activity.cancelled.
func (e eventStore) Delete(ctx context.Context, activityID string) (deleted bool, err error) {
	if !validID(activityID) {
		return false, nil
	}
	tx, err := e.r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	var (
		ownerID string
		date    time.Time
	)
	err = tx.QueryRow(ctx, `DELETE FROM scheduled_activities WHERE activity_id=$1 RETURNING owner_id, activity_date`, activityID).Scan(&ownerID, &date)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			tx.Rollback(ctx)
			return false, nil
		}
		return false, err
	}

	now := time.Now().UTC()
	if err = insertOutbox(ctx, tx, ownerID, activityID, platformevents.TypeActivityCancelled, now, platformevents.ActivityCancelled{
		ActivityID:  activityID,
		OwnerID:     ownerID,
		Date:        domain.FormatDate(date),
		CancelledAt: now,
	}); err != nil {
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

type streakStore struct{ r *Repository }

func (s streakStore) Get(ctx context.Context, ownerID string) (*domain.StreakRecord, error) {
	const query = `SELECT owner_id, current_streak, longest_streak, total_workouts, last_workout_date, streak_start_date, weekly_goal, updated_at
        FROM streak_records WHERE owner_id=$1`

	var record domain.StreakRecord
	err := s.r.pool.QueryRow(ctx, query, ownerID).Scan(
		&record.OwnerID,
		&record.CurrentStreak,
		&record.LongestStreak,
		&record.TotalWorkouts,
		&record.LastWorkoutDate,
		&record.StreakStartDate,
		&record.WeeklyGoal,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Upsert writes the record and records streak.updated.
func (s streakStore) Upsert(ctx context.Context, record domain.StreakRecord) (saved *domain.StreakRecord, err error) {
	tx, err := s.r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = upsertStreak(ctx, tx, record); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &record, nil
}

func upsertStreak(ctx context.Context, tx pgx.Tx, record domain.StreakRecord) error {
	_, err := tx.Exec(ctx, `INSERT INTO streak_records (owner_id, current_streak, longest_streak, total_workouts, last_workout_date, streak_start_date, weekly_goal, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (owner_id) DO UPDATE SET
            current_streak=EXCLUDED.current_streak,
            longest_streak=EXCLUDED.longest_streak,
            total_workouts=EXCLUDED.total_workouts,
            last_workout_date=EXCLUDED.last_workout_date,
            streak_start_date=EXCLUDED.streak_start_date,
            weekly_goal=EXCLUDED.weekly_goal,
            updated_at=EXCLUDED.updated_at`,
		record.OwnerID,
		record.CurrentStreak,
		record.LongestStreak,
		record.TotalWorkouts,
		record.LastWorkoutDate,
		record.StreakStartDate,
		record.WeeklyGoal,
		record.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payload := platformevents.StreakUpdated{
		OwnerID:       record.OwnerID,
		CurrentStreak: record.CurrentStreak,
		LongestStreak: record.LongestStreak,
		TotalWorkouts: record.TotalWorkouts,
		WeeklyGoal:    record.WeeklyGoal,
		UpdatedAt:     record.UpdatedAt,
	}
	if record.LastWorkoutDate != nil {
		payload.LastWorkoutDate = domain.FormatDate(*record.LastWorkoutDate)
	}
	return insertOutbox(ctx, tx, record.OwnerID, record.OwnerID, platformevents.TypeStreakUpdated, record.UpdatedAt, payload)
}

type historyStore struct{ r *Repository }

// AppendCompletion locks the activity row, flips it to completed, writes the
// history entry and the streak, and records activity.completed and
// streak.updated, all in one transaction.
func (h historyStore) AppendCompletion(ctx context.Context, c domain.Completion) (updated *domain.ScheduledActivity, err error) {
	if !validID(c.ActivityID) {
		return nil, nil
	}
	tx, err := h.r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+activityColumns+` FROM scheduled_activities WHERE activity_id=$1 FOR UPDATE`, c.ActivityID)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			tx.Rollback(ctx)
			return nil, nil
		}
		return nil, err
	}
	if activity.Completed {
		tx.Rollback(ctx)
		return &activity, nil
	}

	activity.Completed = true
	activity.UpdatedAt = c.CompletedAt
	if _, err = tx.Exec(ctx, `UPDATE scheduled_activities SET completed=TRUE, updated_at=$2 WHERE activity_id=$1`,
		activity.ID, activity.UpdatedAt); err != nil {
		return nil, err
	}

	entry := c.Entry
	_, err = tx.Exec(ctx, `INSERT INTO completion_history (entry_id, owner_id, activity_id, activity_type, ref_id, title, completed_at, duration_min, notes, rating)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		entry.ID,
		entry.OwnerID,
		entry.ActivityID,
		string(entry.Activity.Type),
		nullIfEmpty(entry.Activity.ID),
		entry.Title,
		entry.CompletedAt,
		entry.DurationMin,
		entry.Notes,
		entry.Rating,
	)
	if err != nil {
		return nil, err
	}

	if err = insertOutbox(ctx, tx, entry.OwnerID, entry.ActivityID, platformevents.TypeActivityCompleted, entry.CompletedAt, platformevents.ActivityCompleted{
		EntryID:      entry.ID,
		ActivityID:   entry.ActivityID,
		OwnerID:      entry.OwnerID,
		ActivityType: string(entry.Activity.Type),
		CompletedAt:  entry.CompletedAt,
		DurationMin:  entry.DurationMin,
		Rating:       entry.Rating,
	}); err != nil {
		return nil, err
	}

	if c.Streak != nil {
		if err = upsertStreak(ctx, tx, *c.Streak); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	observability.RecordActivityPersisted(activity.UpdatedAt)
	observability.RecordCompletionPersisted(entry.CompletedAt)
	return &activity, nil
}

// ListByOwner returns history entries newest first using keyset pagination.
func (h historyStore) ListByOwner(ctx context.Context, ownerID string, cursor *domain.HistoryCursor, limit int) ([]domain.CompletionHistoryEntry, *domain.HistoryCursor, error) {
	args := []interface{}{ownerID, limit}
	query := `SELECT entry_id, owner_id, activity_id, activity_type, ref_id, title, completed_at, duration_min, notes, rating
        FROM completion_history WHERE owner_id=$1`

	if cursor != nil {
		if !validID(cursor.ID) {
			return nil, nil, &domain.ValidationError{Field: "cursor", Reason: "is malformed"}
		}
		query += ` AND (completed_at, entry_id) < ($3, $4)`
		args = append(args, cursor.CompletedAt, cursor.ID)
	}
	query += ` ORDER BY completed_at DESC, entry_id DESC LIMIT $2`

	rows, err := h.r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.CompletionHistoryEntry, 0, limit)
	for rows.Next() {
		var (
			entry domain.CompletionHistoryEntry
			typ   string
			refID *string
		)
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.ActivityID, &typ, &refID, &entry.Title, &entry.CompletedAt, &entry.DurationMin, &entry.Notes, &entry.Rating); err != nil {
			return nil, nil, err
		}
		entry.Activity = domain.ActivityRef{Type: domain.ActivityType(typ)}
		if refID != nil {
			entry.Activity.ID = *refID
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.HistoryCursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.HistoryCursor{CompletedAt: last.CompletedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

func scanActivity(row pgx.Row) (domain.ScheduledActivity, error) {
	var (
		activity domain.ScheduledActivity
		start    int
		typ      string
		refID    *string
	)
	if err := row.Scan(
		&activity.ID,
		&activity.OwnerID,
		&activity.Title,
		&activity.Date,
		&start,
		&activity.DurationMin,
		&typ,
		&refID,
		&activity.Completed,
		&activity.ReminderLeadMinutes,
		&activity.Notes,
		&activity.RecurrenceRule,
		&activity.CreatedAt,
		&activity.UpdatedAt,
	); err != nil {
		return activity, err
	}
	activity.Date = domain.DateOf(activity.Date)
	activity.Start = domain.TimeOfDay(start)
	activity.Activity = domain.ActivityRef{Type: domain.ActivityType(typ)}
	if refID != nil {
		activity.Activity.ID = *refID
	}
	return activity, nil
}

// mapConstraintError turns the no-overlap exclusion violation into ErrConflict.
func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, ownerID, aggregateID, eventType string, occurredAt time.Time, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	route, ok := platformevents.Lookup(eventType)
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}
	dedupeKey := fmt.Sprintf("%s:%s:%d", aggregateID, eventType, occurredAt.UnixNano())

	const stmt = `INSERT INTO outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		ownerID,
		route.AggregateType,
		aggregateID,
		eventType,
		route.Topic,
		route.Subject,
		ownerID,
		body,
		dedupeKey,
	)
	return err
}

// validID reports whether id can address a UUID primary key.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
