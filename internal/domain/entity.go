// Package domain holds the in-memory model for temporal tracking:
// tracked entities with their pending change events, clock ticks, and
// captured history records.
package domain

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/rpattn/temporal/internal/schema"
)

var (
	// ErrMissingActivity is returned when an entity type is configured
	// with an activity class and none was supplied.
	ErrMissingActivity = errors.New("missing activity")

	// ErrDeleteTemporal is returned when a flush touches a deleted
	// tracked entity. Temporal entities are append-only.
	ErrDeleteTemporal = errors.New("cannot delete temporal objects")
)

// Identity is an entity primary key, keyed by column name. It supports
// arbitrary, possibly composite, key shapes.
type Identity map[string]any

// Ref is a relationship attribute value: the identity of the referenced
// row. Refs are compared by ID only, never by the referenced record's
// own fields.
type Ref struct {
	ID any
}

// Activity is an external record describing who or why a change
// happened. It is attached to clock ticks.
type Activity interface {
	ActivityID() uuid.UUID
}

// Change is one pending attribute write: the last flushed value and the
// value observed since.
type Change struct {
	Old any
	New any
}

// Entity is an in-memory tracked record. All attribute access goes
// through Get/Set so writes are captured as change events for the
// detector; nothing touches storage until the owning session flushes.
type Entity struct {
	mapping *schema.Mapping
	id      Identity

	vclock        int32
	flushedVClock int32 // 0 until the first flush
	persisted     bool
	deleted       bool

	values       map[string]any
	pending      map[string]Change
	pendingTicks []*ClockTick
}

// NewEntity constructs a tracked entity at vclock 1 with its first
// clock tick queued. Declared defaults for tracked attributes are
// materialized immediately so the first history row captures the real
// initial value. If the mapping requires an activity and none is given,
// construction fails before any state is built.
func NewEntity(mapping *schema.Mapping, id Identity, initial map[string]any, activity Activity) (*Entity, error) {
	if mapping.RequiresActivity() && activity == nil {
		return nil, fmt.Errorf("%s: %w on create", mapping.Table, ErrMissingActivity)
	}

	for _, col := range mapping.PrimaryKey {
		if _, ok := id[col.Name]; !ok {
			return nil, fmt.Errorf("%s: identity missing primary key column %s", mapping.Table, col.Name)
		}
	}

	e := &Entity{
		mapping: mapping,
		id:      id,
		vclock:  1,
		values:  make(map[string]any),
		pending: make(map[string]Change, len(initial)),
	}

	for name, value := range initial {
		if _, ok := mapping.Column(name); !ok {
			return nil, fmt.Errorf("%s has no attribute %s", mapping.Table, name)
		}
		e.pending[name] = Change{New: value}
	}

	materializeDefaults(e)

	e.pendingTicks = append(e.pendingTicks, &ClockTick{
		ID:       uuid.New(),
		Tick:     1,
		Activity: activity,
	})

	return e, nil
}

// materializeDefaults assigns declared client-side defaults for tracked
// attributes that were not supplied at construction. Defaults must be
// in place before the first history capture, otherwise the first
// history row would record a sentinel instead of the initial value.
func materializeDefaults(e *Entity) {
	for _, col := range e.mapping.TrackedColumns() {
		if _, ok := e.pending[col.Name]; ok {
			continue
		}
		switch {
		case col.DefaultFunc != nil:
			e.pending[col.Name] = Change{New: col.DefaultFunc()}
		case col.Default != nil:
			e.pending[col.Name] = Change{New: col.Default}
		}
	}
}

// Restore rebuilds an entity from its persisted state, as loaded from
// the base table. The entity starts clean: no pending changes, no
// queued ticks.
func Restore(mapping *schema.Mapping, id Identity, vclock int32, values map[string]any) *Entity {
	restored := make(map[string]any, len(values))
	for k, v := range values {
		restored[k] = v
	}
	return &Entity{
		mapping:       mapping,
		id:            id,
		vclock:        vclock,
		flushedVClock: vclock,
		persisted:     true,
		values:        restored,
		pending:       make(map[string]Change),
	}
}

// Mapping returns the entity type declaration.
func (e *Entity) Mapping() *schema.Mapping { return e.mapping }

// ID returns the entity identity.
func (e *Entity) ID() Identity { return e.id }

// VClock returns the entity's current tick value.
func (e *Entity) VClock() int32 { return e.vclock }

// Persisted reports whether the entity has been flushed at least once.
func (e *Entity) Persisted() bool { return e.persisted }

// Deleted reports whether the entity was marked for deletion.
func (e *Entity) Deleted() bool { return e.deleted }

// Get returns the current in-memory value of an attribute: the pending
// write if one exists, otherwise the last flushed value.
func (e *Entity) Get(attr string) any {
	if c, ok := e.pending[attr]; ok {
		return c.New
	}
	return e.values[attr]
}

// Set records an attribute write as a pending change event. The
// original pre-change value is kept even when the attribute is written
// several times before a flush.
func (e *Entity) Set(attr string, value any) error {
	if _, ok := e.mapping.Column(attr); !ok {
		return fmt.Errorf("%s has no attribute %s", e.mapping.Table, attr)
	}
	if e.deleted {
		return fmt.Errorf("%s: %w", e.mapping.Table, ErrDeleteTemporal)
	}
	if c, ok := e.pending[attr]; ok {
		c.New = value
		e.pending[attr] = c
		return nil
	}
	e.pending[attr] = Change{Old: e.values[attr], New: value}
	return nil
}

// Dirty reports whether the entity has pending writes or queued ticks.
func (e *Entity) Dirty() bool {
	return len(e.pending) > 0 || len(e.pendingTicks) > 0 || (!e.persisted && !e.deleted)
}

// HasEffectiveChange reports whether any pending write actually differs
// from the last flushed value. A write that reverts an attribute to its
// flushed value is not an effective change.
func (e *Entity) HasEffectiveChange() bool {
	for attr, c := range e.pending {
		if !e.persisted || !equalValues(c.New, e.values[attr]) {
			return true
		}
	}
	return false
}

// RaiseTick increments the vclock by one and queues the matching clock
// row. Called by the session when a clock tick scope observed an
// effective change.
func (e *Entity) RaiseTick(activity Activity) *ClockTick {
	e.vclock++
	tick := &ClockTick{
		ID:       uuid.New(),
		Tick:     e.vclock,
		Activity: activity,
	}
	e.pendingTicks = append(e.pendingTicks, tick)
	return tick
}

// VClockUnchanged reports whether the vclock still matches its value at
// the last flush. New entities count as changed, their first tick is
// pending by construction.
func (e *Entity) VClockUnchanged() bool {
	return e.persisted && e.vclock == e.flushedVClock
}

// PendingTicks returns the queued, not yet flushed clock rows.
func (e *Entity) PendingTicks() []*ClockTick { return e.pendingTicks }

// MarkDeleted flags the entity for deletion; the next flush refuses it.
func (e *Entity) MarkDeleted() { e.deleted = true }

// MarkFlushed settles all pending writes into the flushed value map and
// clears the tick queue. The session calls this after the base row,
// clock rows and (in eager mode) history rows hit storage.
func (e *Entity) MarkFlushed() {
	for attr, c := range e.pending {
		e.values[attr] = c.New
	}
	e.pending = make(map[string]Change)
	e.pendingTicks = nil
	e.persisted = true
	e.flushedVClock = e.vclock
}

// Snapshot is a copy of an entity's mutable state, taken before a
// transaction scope mutates it so a rollback can put the entity back.
type Snapshot struct {
	vclock        int32
	flushedVClock int32
	persisted     bool
	deleted       bool
	values        map[string]any
	pending       map[string]Change
	pendingTicks  []*ClockTick
}

// Snapshot captures the entity's current state.
func (e *Entity) Snapshot() Snapshot {
	values := make(map[string]any, len(e.values))
	for k, v := range e.values {
		values[k] = v
	}
	pending := make(map[string]Change, len(e.pending))
	for k, c := range e.pending {
		pending[k] = c
	}
	return Snapshot{
		vclock:        e.vclock,
		flushedVClock: e.flushedVClock,
		persisted:     e.persisted,
		deleted:       e.deleted,
		values:        values,
		pending:       pending,
		pendingTicks:  append([]*ClockTick(nil), e.pendingTicks...),
	}
}

// RestoreSnapshot rewinds the entity to a captured state. The snapshot
// stays usable afterwards; the entity gets its own copies.
func (e *Entity) RestoreSnapshot(s Snapshot) {
	e.vclock = s.vclock
	e.flushedVClock = s.flushedVClock
	e.persisted = s.persisted
	e.deleted = s.deleted
	e.values = make(map[string]any, len(s.values))
	for k, v := range s.values {
		e.values[k] = v
	}
	e.pending = make(map[string]Change, len(s.pending))
	for k, c := range s.pending {
		e.pending[k] = c
	}
	e.pendingTicks = append([]*ClockTick(nil), s.pendingTicks...)
}

// Values returns the current effective value of every written
// attribute, pending writes layered over flushed state. Used when
// persisting the base row.
func (e *Entity) Values() map[string]any {
	out := make(map[string]any, len(e.values)+len(e.pending))
	for k, v := range e.values {
		out[k] = v
	}
	for k, c := range e.pending {
		out[k] = c.New
	}
	return out
}

// equalValues compares attribute values. Relationship refs compare by
// referenced identity only.
func equalValues(a, b any) bool {
	ra, aIsRef := a.(Ref)
	rb, bIsRef := b.(Ref)
	if aIsRef || bIsRef {
		if !aIsRef || !bIsRef {
			return false
		}
		return reflect.DeepEqual(ra.ID, rb.ID)
	}
	return reflect.DeepEqual(a, b)
}
