package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/temporal/internal/db"
	"github.com/rpattn/temporal/internal/domain"
	"github.com/rpattn/temporal/internal/schema"
)

// clockStore persists per-entity clock logs with pgx.
type clockStore struct {
	sess *db.Session
}

// Insert writes one tick row and reads back its server-assigned
// timestamp. The clock table's unique (entity, tick) constraint rejects
// a second tick with the same number; that violation propagates as-is.
func (s *clockStore) Insert(ctx context.Context, e *domain.Entity, tick *domain.ClockTick) error {
	mapping := e.Mapping()
	clock := mapping.Clock

	cols := []string{"id", "tick"}
	args := []any{tick.ID, tick.Tick}
	for _, fk := range clock.EntityFKs {
		cols = append(cols, fk.Name)
		args = append(args, e.ID()[fk.RefColumn])
	}
	if tick.Activity != nil {
		for _, fk := range clock.ActivityFKs {
			cols = append(cols, fk.Name)
			args = append(args, tick.Activity.ActivityID())
		}
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING timestamp",
		clock.Qualified(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if err := s.sess.Querier().QueryRow(ctx, query, args...).Scan(&tick.Timestamp); err != nil {
		return fmt.Errorf("failed to insert %s tick: %w", clock.Name, err)
	}
	return nil
}

// FirstTick returns the creation tick (tick = 1) for an entity.
func (s *clockStore) FirstTick(ctx context.Context, e *domain.Entity) (domain.ClockTick, error) {
	return s.tickWhere(ctx, e, "tick = 1")
}

// LatestTick returns the tick matching the entity's current vclock.
func (s *clockStore) LatestTick(ctx context.Context, e *domain.Entity) (domain.ClockTick, error) {
	return s.tickWhere(ctx, e, fmt.Sprintf("tick = %d", e.VClock()))
}

func (s *clockStore) tickWhere(ctx context.Context, e *domain.Entity, cond string) (domain.ClockTick, error) {
	clock := e.Mapping().Clock
	where, args := entityPredicate(clock.EntityFKs, e.ID(), 0)

	query := fmt.Sprintf("SELECT id, tick, timestamp FROM %s WHERE %s AND %s",
		clock.Qualified(), where, cond)

	var tick domain.ClockTick
	if err := s.sess.Querier().QueryRow(ctx, query, args...).Scan(&tick.ID, &tick.Tick, &tick.Timestamp); err != nil {
		return domain.ClockTick{}, fmt.Errorf("failed to query %s: %w", clock.Name, err)
	}
	return tick, nil
}

// TicksForActivity lists the tick rows caused by one activity across
// all entities of a type. The (entity, activity) unique constraint
// guarantees at most one per entity.
func (s *clockStore) TicksForActivity(ctx context.Context, mapping *schema.Mapping, activityID uuid.UUID) ([]domain.ClockTick, error) {
	clock := mapping.Clock
	if len(clock.ActivityFKs) == 0 {
		return nil, fmt.Errorf("%s has no activity configured", mapping.Table)
	}

	query := fmt.Sprintf("SELECT id, tick, timestamp FROM %s WHERE %s = $1 ORDER BY tick",
		clock.Qualified(), clock.ActivityFKs[0].Name)

	rows, err := s.sess.Querier().Query(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by activity: %w", clock.Name, err)
	}
	defer rows.Close()

	var ticks []domain.ClockTick
	for rows.Next() {
		var tick domain.ClockTick
		if err := rows.Scan(&tick.ID, &tick.Tick, &tick.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", clock.Name, err)
		}
		ticks = append(ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", clock.Name, err)
	}
	return ticks, nil
}
