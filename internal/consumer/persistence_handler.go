package consumer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/scheduling/internal/logger"
	platformevents "example.com/scheduling/pkg/events"
)

// PersistenceHandler writes consumed events into the schedule_event_log audit table.
type PersistenceHandler struct {
	pool *pgxpool.Pool
}

// NewPersistenceHandler constructs a handler backed by the provided pool.
func NewPersistenceHandler(pool *pgxpool.Pool) *PersistenceHandler {
	return &PersistenceHandler{pool: pool}
}

// Handle stores the event payload. Redelivered offsets are ignored.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	_, err := h.pool.Exec(ctx,
		`INSERT INTO schedule_event_log (event_type, owner_id, aggregate_id, schema_id, schema_subject, topic, kafka_partition, kafka_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
         ON CONFLICT (topic, kafka_partition, kafka_offset) DO NOTHING`,
		msg.EventType,
		msg.OwnerID,
		msg.AggregateID,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		msg.Timestamp,
	)
	return err
}

// StreakProjection keeps streak_snapshots at the newest streak.updated seen
// per owner. Out-of-order or redelivered events never move a snapshot back.
type StreakProjection struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewStreakProjection constructs a projection backed by pool.
func NewStreakProjection(pool *pgxpool.Pool, log *logger.Logger) *StreakProjection {
	if log == nil {
		log = logger.Nop()
	}
	return &StreakProjection{pool: pool, log: log}
}

// Handle upserts the snapshot for a streak.updated event.
func (p *StreakProjection) Handle(ctx context.Context, msg Message) error {
	streak, ok := msg.Body.(platformevents.StreakUpdated)
	if !ok {
		return fmt.Errorf("streak projection cannot apply %s", msg.EventType)
	}

	var lastWorkout interface{}
	if streak.LastWorkoutDate != "" {
		lastWorkout = streak.LastWorkoutDate
	}

	tag, err := p.pool.Exec(ctx,
		`INSERT INTO streak_snapshots (owner_id, current_streak, longest_streak, total_workouts, last_workout_date, weekly_goal, updated_at, kafka_partition, kafka_offset)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
         ON CONFLICT (owner_id) DO UPDATE SET
             current_streak = EXCLUDED.current_streak,
             longest_streak = EXCLUDED.longest_streak,
             total_workouts = EXCLUDED.total_workouts,
             last_workout_date = EXCLUDED.last_workout_date,
             weekly_goal = EXCLUDED.weekly_goal,
             updated_at = EXCLUDED.updated_at,
             kafka_partition = EXCLUDED.kafka_partition,
             kafka_offset = EXCLUDED.kafka_offset
         WHERE streak_snapshots.updated_at < EXCLUDED.updated_at`,
		streak.OwnerID,
		streak.CurrentStreak,
		streak.LongestStreak,
		streak.TotalWorkouts,
		lastWorkout,
		streak.WeeklyGoal,
		streak.UpdatedAt,
		msg.Partition,
		msg.Offset,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		staleSnapshotCounter.Inc()
		p.log.Debug("stale streak update ignored", "owner_id", streak.OwnerID, "updated_at", streak.UpdatedAt, "offset", msg.Offset)
	}
	return nil
}
