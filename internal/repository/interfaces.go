// Package repository persists the temporal shapes: entity base rows,
// clock logs, and per-attribute history tables. The pgx implementations
// generate their SQL from the builder's mappings; the session depends
// only on the store interfaces.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/temporal/internal/domain"
	"github.com/rpattn/temporal/internal/schema"
)

// EntityStore defines base-row persistence for tracked entities.
type EntityStore interface {
	Save(ctx context.Context, e *domain.Entity) error
	Load(ctx context.Context, mapping *schema.Mapping, id domain.Identity) (*domain.Entity, error)
}

// ClockStore defines the per-entity clock log operations.
type ClockStore interface {
	// Insert persists a queued tick row and fills in its
	// server-assigned timestamp. A duplicate (entity, tick) pair
	// surfaces as a constraint violation from storage.
	Insert(ctx context.Context, e *domain.Entity, tick *domain.ClockTick) error
	FirstTick(ctx context.Context, e *domain.Entity) (domain.ClockTick, error)
	LatestTick(ctx context.Context, e *domain.Entity) (domain.ClockTick, error)
	// TicksForActivity lists the tick rows a given activity caused for
	// one entity type.
	TicksForActivity(ctx context.Context, mapping *schema.Mapping, activityID uuid.UUID) ([]domain.ClockTick, error)
}

// HistoryStore defines the append-only per-attribute history operations.
type HistoryStore interface {
	// CloseAndInsert caps the currently open interval for (entity,
	// attribute) at exactly (tick, effective) and opens a new interval
	// holding value. Both statements run on the session's current
	// transaction so the pair is atomic.
	CloseAndInsert(ctx context.Context, e *domain.Entity, attr string, value any, tick int32, effective time.Time) error
	History(ctx context.Context, e *domain.Entity, attr string) ([]domain.HistoryRecord, error)
	ValueAtTick(ctx context.Context, e *domain.Entity, attr string, tick int32) (domain.HistoryRecord, error)
	ValueAt(ctx context.Context, e *domain.Entity, attr string, at time.Time) (domain.HistoryRecord, error)
}

// Stores bundles the three store interfaces a temporal session needs.
type Stores struct {
	Entities  EntityStore
	Clocks    ClockStore
	Histories HistoryStore
}
